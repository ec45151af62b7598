package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/predictcoord/coordinator/internal/cerrors"
	"github.com/predictcoord/coordinator/internal/observability"
	"github.com/predictcoord/coordinator/internal/store"
)

// WorkerConfig configures one Feed Worker poll loop, one per FeedScope.
type WorkerConfig struct {
	Scope            store.FeedScope
	PollInterval     time.Duration
	SourceTimeout    time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	MaxRetries       int
}

// DefaultWorkerConfig fills in the standard defaults (10s source timeout).
func DefaultWorkerConfig(scope store.FeedScope) WorkerConfig {
	return WorkerConfig{
		Scope:         scope,
		PollInterval:  10 * time.Second,
		SourceTimeout: 10 * time.Second,
		BackoffBase:   500 * time.Millisecond,
		BackoffMax:    30 * time.Second,
		MaxRetries:    8,
	}
}

// Worker drives one scope's live-poll loop.
type Worker struct {
	cfg     WorkerConfig
	adapter SourceAdapter
	store   *store.Store
	log     *slog.Logger
	metrics *observability.Metrics
}

// NewWorker creates a Worker for one scope against adapter.
func NewWorker(cfg WorkerConfig, adapter SourceAdapter, s *store.Store, log *slog.Logger) *Worker {
	if log == nil {
		log = slog.Default()
	}
	return &Worker{cfg: cfg, adapter: adapter, store: s, log: log}
}

// SetMetrics attaches the process-wide Prometheus collectors; nil-safe if
// never called.
func (w *Worker) SetMetrics(m *observability.Metrics) { w.metrics = m }

// Run blocks, polling on cfg.PollInterval until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.pollOnce(ctx); err != nil {
				w.log.Error("feed poll failed", "scope", w.cfg.Scope, "err", err)
			}
		}
	}
}

// pollOnce performs one poll round with retry/backoff: the watermark is
// read, new records fetched, upserted transactionally, and the watermark
// advanced atomically with the upsert, all inside Store.UpsertFeedRecords.
// A transient failure never touches the watermark.
func (w *Worker) pollOnce(ctx context.Context) error {
	watermark, err := w.store.Watermark(w.cfg.Scope)
	if err != nil {
		return cerrors.Wrap(cerrors.Transient, "read watermark", err)
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		pollCtx, cancel := context.WithTimeout(ctx, w.cfg.SourceTimeout)
		records, err := w.adapter.Poll(pollCtx, w.cfg.Scope, watermark)
		cancel()
		if err == nil {
			written, err := w.store.UpsertFeedRecords(w.cfg.Scope, records)
			if err != nil {
				return err
			}
			w.log.Debug("feed poll ok", "scope", w.cfg.Scope, "fetched", len(records), "written", written)
			if w.metrics != nil {
				w.metrics.FeedPollsTotal.WithLabelValues(w.cfg.Scope.Source, "success").Inc()
				w.metrics.FeedRecordsIngested.WithLabelValues(w.cfg.Scope.Source, w.cfg.Scope.Subject).Add(float64(written))
			}
			return nil
		}
		lastErr = err
		if attempt == w.cfg.MaxRetries {
			break
		}
		delay := Backoff(attempt, w.cfg.BackoffBase, w.cfg.BackoffMax)
		w.log.Warn("feed poll retry", "scope", w.cfg.Scope, "attempt", attempt, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if w.metrics != nil {
		w.metrics.FeedPollsTotal.WithLabelValues(w.cfg.Scope.Source, "failure").Inc()
	}
	return cerrors.Wrap(cerrors.Transient, "poll exhausted retries", lastErr)
}
