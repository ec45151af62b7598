package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/predictcoord/coordinator/internal/builtins"
	"github.com/predictcoord/coordinator/internal/checkpoint"
	"github.com/predictcoord/coordinator/internal/config"
	"github.com/predictcoord/coordinator/internal/contract"
	"github.com/predictcoord/coordinator/internal/feed"
	"github.com/predictcoord/coordinator/internal/observability"
	"github.com/predictcoord/coordinator/internal/predict"
	"github.com/predictcoord/coordinator/internal/score"
	"github.com/predictcoord/coordinator/internal/score/metrics"
	"github.com/predictcoord/coordinator/internal/scheduler"
	"github.com/predictcoord/coordinator/internal/server"
	"github.com/predictcoord/coordinator/internal/store"
)

var logLevel string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "coordinator — a competition coordination service",
	Long:  "Runs the Feed, Predict, Score, and Checkpoint loops of one competition instance against an embedded SQLite store.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var (
	backfillSource string
	backfillStart  string
	backfillEnd    string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the coordinator's Feed/Predict/Score/Checkpoint loops and reporting API",
	RunE:  runServer,
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Run a one-off historical backfill for the configured feed scope",
	RunE:  runBackfill,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the store with a demo ScheduledPredictionConfig and synthetic feed data",
	RunE:  runSeed,
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Validate configuration and the contract registry without starting any loop",
	RunE:  runDoctor,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	backfillCmd.Flags().StringVar(&backfillSource, "source", "", "Source adapter name (defaults to FEED_SOURCE)")
	backfillCmd.Flags().StringVar(&backfillStart, "start", "", "Backfill window start, RFC3339")
	backfillCmd.Flags().StringVar(&backfillEnd, "end", "", "Backfill window end, RFC3339 (defaults to now)")

	rootCmd.AddCommand(serverCmd, backfillCmd, seedCmd, doctorCmd)
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// contractConfig is the demo Contract Config for the reference
// direction-forecasting competition wired in internal/builtins. A real
// deployment loads its own contract.Config (shapes, aggregation, metrics,
// ensembles) from a file or admin API instead of this literal.
func contractConfig() contract.Config {
	return contract.Config{
		Aggregation: contract.Aggregation{RankingKey: "mean_value", RankingDirection: "desc"},
		Metrics:     []string{"ic", "hit_rate", "mean_return", "sortino_ratio"},
	}
}

func buildRegistry(cfg config.Config) (*contract.Registry, error) {
	reg := contract.NewRegistry()

	builder, ok := builtins.InferenceInputBuilders[cfg.InferenceInputBuilder]
	if !ok {
		return nil, fmt.Errorf("unknown INFERENCE_INPUT_BUILDER %q", cfg.InferenceInputBuilder)
	}
	reg.RegisterInferenceInputBuilder(builder)

	validator, ok := builtins.InferenceOutputValidators[cfg.InferenceOutputValidator]
	if !ok {
		return nil, fmt.Errorf("unknown INFERENCE_OUTPUT_VALIDATOR %q", cfg.InferenceOutputValidator)
	}
	reg.RegisterInferenceOutputValidator(validator)

	scorer, ok := builtins.ScoringFunctions[cfg.ScoringFunction]
	if !ok {
		return nil, fmt.Errorf("unknown SCORING_FUNCTION %q", cfg.ScoringFunction)
	}
	reg.RegisterScoringFunction(scorer)

	reg.RegisterResolveGroundTruth(builtins.CloseToCloseV1)

	if err := reg.Freeze(); err != nil {
		return nil, fmt.Errorf("freeze contract registry: %w", err)
	}
	return reg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	otelShutdown, err := observability.InitTracer(cfg.OTelEnabled, "coordinator", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("otel shutdown error", "error", err)
		}
	}()
	metricsReg := observability.NewMetrics(prometheus.DefaultRegisterer)

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	s := store.NewStore(db)

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	contractCfg := contractConfig()
	ccMetrics := metrics.NewRegistry()

	scope := store.FeedScope{Source: cfg.FeedSource, Kind: cfg.FeedKind, Granularity: cfg.FeedGranularity}
	if len(cfg.FeedSubjects) > 0 {
		scope.Subject = cfg.FeedSubjects[0]
	}

	feedRegistry := feed.NewRegistry()
	feedRegistry.Register("synthetic", feed.NewSyntheticAdapter(cfg.ScoreInterval()))
	feedWorker := feed.NewWorker(feed.DefaultWorkerConfig(scope), mustResolve(feedRegistry, cfg.FeedSource), s, slog.Default())
	feedWorker.SetMetrics(metricsReg)

	runner := predict.NewRunner(cfg.ModelConsecutiveFailureLimit, cfg.ModelConsecutiveTimeoutLimit)
	client := predict.NewModelClient(cfg.ModelRunnerHost, cfg.ModelRunnerPort)
	shapes, err := contract.CompileShapes(contractCfg)
	if err != nil {
		return fmt.Errorf("compile contract shapes: %w", err)
	}
	orch := predict.NewOrchestrator(s, registry, shapes, runner, client, slog.Default())
	orch.SetMetrics(metricsReg)

	engineCfg := score.DefaultConfig("coordinator")
	engineCfg.FeedSource, engineCfg.FeedKind, engineCfg.FeedGranularity = cfg.FeedSource, cfg.FeedKind, cfg.FeedGranularity
	engine := score.NewEngine(s, registry, ccMetrics, contractCfg, engineCfg, slog.Default())
	engine.SetMetrics(metricsReg)
	builder := checkpoint.NewBuilder(s, registry, contractCfg, cfg.CrunchID, slog.Default())
	builder.SetMetrics(metricsReg)

	sched := scheduler.New(s, orch, engine, builder, feedWorker, scheduler.Config{
		FeedScope:      scope,
		ScoreInterval:  cfg.ScoreInterval(),
		CheckpointCron: cfg.CheckpointCron,
	}, slog.Default())

	srv := server.New(s, server.Config{
		APIKey:         cfg.APIKey,
		ReadAuth:       cfg.APIReadAuth,
		PublicPrefixes: cfg.APIPublicPrefixes,
		DataDir:        cfg.DataDir + "/backfill",
		FeedSourceName: cfg.FeedSource,
		FeedRegistry:   feedRegistry,
	}, cfg.BindAddr, slog.Default())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := sched.Run(ctx); err != nil {
			slog.Error("scheduler stopped with error", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	source := backfillSource
	if source == "" {
		source = cfg.FeedSource
	}
	start, err := time.Parse(time.RFC3339, backfillStart)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end := time.Now()
	if backfillEnd != "" {
		end, err = time.Parse(time.RFC3339, backfillEnd)
		if err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}
	}

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	s := store.NewStore(db)

	feedRegistry := feed.NewRegistry()
	feedRegistry.Register("synthetic", feed.NewSyntheticAdapter(time.Minute))

	runner := feed.NewBackfillRunner(s, cfg.DataDir+"/backfill", slog.Default())
	subject := ""
	if len(cfg.FeedSubjects) > 0 {
		subject = cfg.FeedSubjects[0]
	}
	scope := store.FeedScope{Source: source, Subject: subject, Kind: cfg.FeedKind, Granularity: cfg.FeedGranularity}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	job, err := runner.Start(ctx, feedRegistry, source, scope, start, end)
	if err != nil {
		return err
	}
	slog.Info("backfill started", "job_id", job.ID)
	<-ctx.Done()
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	db, err := store.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()
	s := store.NewStore(db)

	subject := "demo"
	if len(cfg.FeedSubjects) > 0 {
		subject = cfg.FeedSubjects[0]
	}
	sc := store.ScheduledPredictionConfig{
		ID:                  "demo-config",
		ScopeKey:            fmt.Sprintf("%s:%s:%s:%d:%d", cfg.FeedSource, subject, cfg.FeedKind, 3600, 60),
		Subject:             subject,
		HorizonSeconds:      3600,
		StepSeconds:         60,
		EverySeconds:        cfg.ScoreIntervalSeconds,
		Active:              true,
		ResolveAfterSeconds: 3600,
		PredictTimeoutMs:    5000,
		LookbackSeconds:     600,
	}
	if err := s.PutScheduledConfig(sc); err != nil {
		return fmt.Errorf("seed scheduled config: %w", err)
	}
	if err := s.PutModel(store.Model{ID: "demo-model", Name: "demo model", DeploymentID: "local", OwnerID: "seed"}); err != nil {
		return fmt.Errorf("seed model: %w", err)
	}
	slog.Info("seed complete", "config_id", sc.ID)
	return nil
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	if _, err := buildRegistry(cfg); err != nil {
		return fmt.Errorf("contract registry invalid: %w", err)
	}
	contractCfg := contractConfig()
	if _, err := contract.CompileShapes(contractCfg); err != nil {
		return fmt.Errorf("contract shapes invalid: %w", err)
	}
	out, _ := json.MarshalIndent(cfg, "", "  ")
	fmt.Println(string(out))
	slog.Info("doctor: configuration and contract registry are valid")
	return nil
}

func mustResolve(reg *feed.Registry, name string) feed.SourceAdapter {
	adapter, err := reg.Resolve(name)
	if err != nil {
		slog.Warn("unknown feed source, falling back to synthetic adapter", "source", name, "error", err)
		return feed.NewSyntheticAdapter(time.Minute)
	}
	return adapter
}
