// Package config loads the coordinator's environment-variable-driven
// startup configuration into one immutable Config struct.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/predictcoord/coordinator/internal/cerrors"
)

// Config is the single configuration object a coordinator process reads at
// startup; nothing here is mutated once the process is running.
type Config struct {
	CrunchID string

	FeedSource      string
	FeedSubjects    []string
	FeedKind        string
	FeedGranularity string
	FeedRetentionDays int // 0 = unlimited

	ScoringFunction          string
	InferenceInputBuilder    string
	InferenceOutputValidator string

	ScoreIntervalSeconds int
	CheckpointCron       string

	ModelRunnerHost                 string
	ModelRunnerPort                 int
	ModelConsecutiveFailureLimit    int
	ModelConsecutiveTimeoutLimit    int

	APIKey             string
	APIReadAuth        bool
	APIPublicPrefixes  []string

	DataDir  string
	BindAddr string

	OTelEnabled  bool
	OTelEndpoint string
}

// Load reads every configuration variable from the environment, applying
// defaults where DESIGN.md records one, and fails fast with an aggregated
// error if a required variable is missing or malformed.
func Load() (Config, error) {
	var problems []string

	cfg := Config{
		CrunchID:        os.Getenv("CRUNCH_ID"),
		FeedSource:      os.Getenv("FEED_SOURCE"),
		FeedSubjects:    splitCSV(os.Getenv("FEED_SUBJECTS")),
		FeedKind:        os.Getenv("FEED_KIND"),
		FeedGranularity: os.Getenv("FEED_GRANULARITY"),

		ScoringFunction:          os.Getenv("SCORING_FUNCTION"),
		InferenceInputBuilder:    os.Getenv("INFERENCE_INPUT_BUILDER"),
		InferenceOutputValidator: os.Getenv("INFERENCE_OUTPUT_VALIDATOR"),

		CheckpointCron: envOr("CHECKPOINT_CRON", "0 0 * * *"),

		ModelRunnerHost: envOr("MODEL_RUNNER_HOST", "127.0.0.1"),

		APIKey:            os.Getenv("API_KEY"),
		APIPublicPrefixes: splitCSV(envOr("API_PUBLIC_PREFIXES", "/healthz,/metrics")),

		DataDir:  envOr("DATA_DIR", "data"),
		BindAddr: envOr("BIND_ADDR", ":8080"),

		OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.CrunchID == "" {
		problems = append(problems, "CRUNCH_ID is required")
	}
	if cfg.FeedSource == "" {
		problems = append(problems, "FEED_SOURCE is required")
	}
	if cfg.FeedKind == "" {
		problems = append(problems, "FEED_KIND is required")
	}
	if cfg.FeedGranularity == "" {
		problems = append(problems, "FEED_GRANULARITY is required")
	}
	if cfg.ScoringFunction == "" {
		problems = append(problems, "SCORING_FUNCTION is required")
	}
	if cfg.InferenceInputBuilder == "" {
		problems = append(problems, "INFERENCE_INPUT_BUILDER is required")
	}
	if cfg.InferenceOutputValidator == "" {
		problems = append(problems, "INFERENCE_OUTPUT_VALIDATOR is required")
	}

	var err error
	cfg.FeedRetentionDays, err = envInt("FEED_RETENTION_DAYS", 0)
	if err != nil {
		problems = append(problems, err.Error())
	}
	cfg.ScoreIntervalSeconds, err = envInt("SCORE_INTERVAL_SECONDS", 60)
	if err != nil {
		problems = append(problems, err.Error())
	}
	cfg.ModelRunnerPort, err = envInt("MODEL_RUNNER_PORT", 9500)
	if err != nil {
		problems = append(problems, err.Error())
	}
	cfg.ModelConsecutiveFailureLimit, err = envInt("MODEL_CONSECUTIVE_FAILURE_LIMIT", 5)
	if err != nil {
		problems = append(problems, err.Error())
	}
	cfg.ModelConsecutiveTimeoutLimit, err = envInt("MODEL_CONSECUTIVE_TIMEOUT_LIMIT", 3)
	if err != nil {
		problems = append(problems, err.Error())
	}
	cfg.APIReadAuth, err = envBool("API_READ_AUTH", false)
	if err != nil {
		problems = append(problems, err.Error())
	}
	cfg.OTelEnabled, err = envBool("OTEL_ENABLED", cfg.OTelEndpoint != "")
	if err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return Config{}, cerrors.New(cerrors.Config, fmt.Sprintf("invalid configuration: %s", strings.Join(problems, "; ")))
	}
	return cfg, nil
}

// ScoreInterval is ScoreIntervalSeconds as a time.Duration, for the
// scheduler's fixed-interval score tick.
func (c Config) ScoreInterval() time.Duration {
	return time.Duration(c.ScoreIntervalSeconds) * time.Second
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, raw)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, raw)
	}
	return b, nil
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
