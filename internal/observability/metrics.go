package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide set of Prometheus collectors for the Feed,
// Predict, Score, and Checkpoint workers, registered once at startup and
// threaded into each worker's constructor.
type Metrics struct {
	FeedPollsTotal       *prometheus.CounterVec
	FeedRecordsIngested  *prometheus.CounterVec
	PredictCycleDuration *prometheus.HistogramVec
	ModelEvictionsTotal  *prometheus.CounterVec
	ScoreTickDuration    prometheus.Histogram
	ScoreTickSkipped     prometheus.Counter
	CheckpointBuilds     prometheus.Counter
	CheckpointSkipped    prometheus.Counter
}

// NewMetrics registers every collector against reg. Pass
// prometheus.DefaultRegisterer unless a test needs isolation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FeedPollsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_feed_polls_total",
			Help: "Feed Worker poll attempts, by source and outcome.",
		}, []string{"source", "outcome"}),
		FeedRecordsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_feed_records_ingested_total",
			Help: "FeedRecords written, by source and subject.",
		}, []string{"source", "subject"}),
		PredictCycleDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coordinator_predict_cycle_duration_seconds",
			Help:    "Predict Orchestrator fan-out duration per cycle.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		ModelEvictionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coordinator_model_evictions_total",
			Help: "Models evicted from the live set, by reason.",
		}, []string{"reason"}),
		ScoreTickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "coordinator_score_tick_duration_seconds",
			Help:    "Score Engine Phase A-G duration per tick.",
			Buckets: prometheus.DefBuckets,
		}),
		ScoreTickSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_score_tick_skipped_total",
			Help: "Score ticks skipped because the singleton lock was held elsewhere.",
		}),
		CheckpointBuilds: f.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_checkpoint_builds_total",
			Help: "Checkpoints successfully built and persisted.",
		}),
		CheckpointSkipped: f.NewCounter(prometheus.CounterOpts{
			Name: "coordinator_checkpoint_builds_skipped_total",
			Help: "Checkpoint builds skipped because no MerkleCycle had landed since the last one.",
		}),
	}
}
