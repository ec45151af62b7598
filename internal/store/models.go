package store

import (
	"encoding/json"
	"time"

	"github.com/yanun0323/decimal"
)

// Input statuses.
const (
	InputReceived = "RECEIVED"
	InputResolved = "RESOLVED"
)

// Prediction statuses.
const (
	PredictionPending = "PENDING"
	PredictionScored  = "SCORED"
	PredictionFailed  = "FAILED"
	PredictionAbsent  = "ABSENT"
)

// BackfillJob statuses.
const (
	BackfillPending   = "pending"
	BackfillRunning   = "running"
	BackfillCompleted = "completed"
	BackfillFailed    = "failed"
)

// Checkpoint lifecycle statuses, monotonic and one-way.
const (
	CheckpointPending   = "PENDING"
	CheckpointSubmitted = "SUBMITTED"
	CheckpointClaimable = "CLAIMABLE"
	CheckpointPaid      = "PAID"
)

// FeedRecord is one immutable observation, unique on (source, subject, kind,
// granularity, ts_event).
type FeedRecord struct {
	ID          int64
	Source      string
	Subject     string
	Kind        string
	Granularity string
	TsEvent     time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	Meta        json.RawMessage
	CreatedAt   time.Time
}

// FeedScope identifies one ingestion tape: (source, subject, kind, granularity).
type FeedScope struct {
	Source      string
	Subject     string
	Kind        string
	Granularity string
}

// FeedIngestionState is one row per FeedScope tracking the last ingested ts_event.
type FeedIngestionState struct {
	Source        string
	Subject       string
	Kind          string
	Granularity   string
	LastEventTs   time.Time
	UpdatedAt     time.Time
}

// BackfillJob is an admission-controlled historical-backfill task.
type BackfillJob struct {
	ID             string
	Source         string
	Subject        string
	Kind           string
	Granularity    string
	StartTs        time.Time
	EndTs          time.Time
	CursorTs       time.Time
	RecordsWritten int64
	PagesFetched   int64
	Status         string
	Error          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ScheduledPredictionConfig declares one recurring prediction schedule.
type ScheduledPredictionConfig struct {
	ID                   string
	ScopeKey             string
	Subject              string
	HorizonSeconds       int
	StepSeconds          int
	EverySeconds         int
	Cron                 string
	Active               bool
	Order                int
	ResolveAfterSeconds  int
	PredictTimeoutMs     int
	LookbackSeconds      int
	RequiresTick         bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Input is a single firing of a ScheduledPredictionConfig.
type Input struct {
	ID            string
	ConfigID      string
	ScopeKey      string
	RawInput      json.RawMessage
	PerformedAt   time.Time
	ResolvableAt  time.Time
	Actuals       json.RawMessage // nil until resolved; also nil for the null-actuals sentinel (ActualsIsNull)
	ActualsIsNull bool
	Status        string
	CreatedAt     time.Time
}

// Score is nested under a Prediction.
type Score struct {
	Value        float64          `json:"value"`
	Success      bool             `json:"success"`
	FailedReason string           `json:"failed_reason,omitempty"`
	Extra        json.RawMessage  `json:"extra,omitempty"`
}

// Prediction is one row per (model, Input).
type Prediction struct {
	ID             string
	ModelID        string
	InputID        string
	ConfigID       string
	ScopeKey       string
	InferenceOut   json.RawMessage
	ExecTimeUs     int64
	Status         string
	FailedReason   string
	Score          *Score
	Meta           json.RawMessage
	CreatedAt      time.Time
}

// Snapshot is a per-model, per-cycle summary; content_hash is the Merkle leaf.
type Snapshot struct {
	ID               string
	ModelID          string
	PeriodStart      time.Time
	PeriodEnd        time.Time
	PredictionCount  int
	ResultSummary    json.RawMessage
	ContentHash      string
	CreatedAt        time.Time
}

// MerkleCycle is a per-score-cycle chained hash commitment.
type MerkleCycle struct {
	ID                  string
	PreviousCycleID     *string
	PreviousCycleRoot   *string
	SnapshotsRoot       string
	ChainedRoot         string
	SnapshotCount       int
	CreatedAt           time.Time
}

// MerkleNode is one node of a Merkle tree, scoped to either a cycle or a
// checkpoint's second-level tree.
type MerkleNode struct {
	ID                   string
	CycleID              *string
	CheckpointID         *string
	Level                uint32
	Position             uint64
	Hash                 string
	LeftChild            *string
	RightChild           *string
	SnapshotID           *string
	SnapshotContentHash  *string
}

// CruncherReward is one entry of the frac64 emission payload.
type CruncherReward struct {
	CruncherIndex int    `json:"cruncher_index"`
	ModelID       string `json:"model_id,omitempty"`
	RewardPct     uint64 `json:"reward_pct"`
}

// EmissionPayload is the external checkpoint settlement format.
type EmissionPayload struct {
	Crunch                   string           `json:"crunch"`
	CruncherRewards          []CruncherReward `json:"cruncher_rewards"`
	ComputeProviderRewards   []CruncherReward `json:"compute_provider_rewards"`
	DataProviderRewards      []CruncherReward `json:"data_provider_rewards"`
}

// Checkpoint is the coarse, cryptographically-anchored settlement payload.
type Checkpoint struct {
	ID             string
	PeriodStart    time.Time
	PeriodEnd      time.Time
	MerkleRoot     string
	Emission       EmissionPayload
	Status         string
	TxHash         *string
	CreatedAt      time.Time
	EmittedAt      *time.Time
}

// Model is a participant (or virtual ensemble) model.
type Model struct {
	ID            string
	Name          string
	DeploymentID  string
	OwnerID       string
	OverallScore  *float64
	ScoresByScope json.RawMessage
	Meta          json.RawMessage
	CreatedAt     time.Time
}

const ensemblePrefix = "__ensemble_"
const ensembleSuffix = "__"

// EnsembleModelID returns the reserved virtual-model ID for an ensemble name.
func EnsembleModelID(name string) string {
	return ensemblePrefix + name + ensembleSuffix
}

// IsEnsembleModelID reports whether id names a virtual ensemble model.
func IsEnsembleModelID(id string) bool {
	return len(id) > len(ensemblePrefix)+len(ensembleSuffix) &&
		id[:len(ensemblePrefix)] == ensemblePrefix &&
		id[len(id)-len(ensembleSuffix):] == ensembleSuffix
}

// LeaderboardEntry is one ranked row in a Leaderboard snapshot.
type LeaderboardEntry struct {
	Rank    int                `json:"rank"`
	ModelID string             `json:"model_id"`
	Score   float64            `json:"score"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Leaderboard is an immutable, rebuilt-each-cycle ranked snapshot.
type Leaderboard struct {
	ID        string
	CreatedAt time.Time
	Entries   []LeaderboardEntry
}
