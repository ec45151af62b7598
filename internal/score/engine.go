// Package score implements the Score Engine: the Phase A-G tick that closes
// the loop from pending Predictions to a tamper-evident per-cycle Merkle
// commitment and a rebuilt leaderboard.
package score

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/predictcoord/coordinator/internal/cerrors"
	"github.com/predictcoord/coordinator/internal/contract"
	"github.com/predictcoord/coordinator/internal/observability"
	"github.com/predictcoord/coordinator/internal/score/metrics"
	"github.com/predictcoord/coordinator/internal/store"
)

// Config configures one Engine instance; one coordinator process serves one
// crunch, so the feed scope family (source/kind/granularity) is fixed here
// and only the subject varies per ScheduledPredictionConfig.
type Config struct {
	FeedSource      string
	FeedKind        string
	FeedGranularity string
	ResolutionGrace time.Duration
	InputTTL        time.Duration
	LockTTL         time.Duration
	Owner           string
}

// DefaultConfig returns an Engine Config with the standard defaults.
func DefaultConfig(owner string) Config {
	return Config{
		ResolutionGrace: 5 * time.Minute,
		InputTTL:        24 * time.Hour,
		LockTTL:         2 * time.Minute,
		Owner:           owner,
	}
}

// Engine runs one score tick at a time, guarded by the store's singleton
// heartbeat lock.
type Engine struct {
	store       *store.Store
	registry    *contract.Registry
	metrics     *metrics.Registry
	contract    contract.Config
	cfg         Config
	log         *slog.Logger
	procMetrics *observability.Metrics
}

// NewEngine creates an Engine.
func NewEngine(s *store.Store, registry *contract.Registry, metricsReg *metrics.Registry, contractCfg contract.Config, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: s, registry: registry, metrics: metricsReg, contract: contractCfg, cfg: cfg, log: log}
}

// SetMetrics attaches the process-wide Prometheus collectors; nil-safe if
// never called.
func (e *Engine) SetMetrics(m *observability.Metrics) { e.procMetrics = m }

// TickReport summarizes one completed tick for logging/metrics.
type TickReport struct {
	ResolvedInputs   int
	ExpiredInputs    int
	ScoredPredictions int
	FailedPredictions int
	SnapshotCount    int
	EnsembleCount    int
	CycleID          string
	ChainedRoot      string
	LeaderboardSize  int
}

// Tick runs Phases A-G once, at wall-clock now. Acquiring the singleton lock
// fails fast (no error) if another process already holds it; the caller's
// scheduler retries on the next fixed-interval fire.
func (e *Engine) Tick(ctx context.Context, now time.Time) (*TickReport, error) {
	acquired, err := e.store.AcquireScoreTickLock(e.cfg.Owner, e.cfg.LockTTL, now)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.Transient, "acquire score tick lock", err)
	}
	if !acquired {
		e.log.Debug("score tick lock held elsewhere, skipping", "owner", e.cfg.Owner)
		if e.procMetrics != nil {
			e.procMetrics.ScoreTickSkipped.Inc()
		}
		return nil, nil
	}
	defer func() {
		if err := e.store.ReleaseScoreTickLock(e.cfg.Owner); err != nil {
			e.log.Warn("failed to release score tick lock", "error", err)
		}
	}()

	started := time.Now()
	defer func() {
		if e.procMetrics != nil {
			e.procMetrics.ScoreTickDuration.Observe(time.Since(started).Seconds())
		}
	}()

	report := &TickReport{}

	resolved, expired, err := e.resolveInputs(now)
	if err != nil {
		return nil, fmt.Errorf("phase A resolve inputs: %w", err)
	}
	report.ResolvedInputs, report.ExpiredInputs = resolved, expired

	scoredPreds, failed, err := e.scorePredictions()
	if err != nil {
		return nil, fmt.Errorf("phase B score predictions: %w", err)
	}
	report.ScoredPredictions, report.FailedPredictions = len(scoredPreds), failed

	periodStart, periodEnd := e.tickWindow(now)
	groups := groupPredictionsByModel(scoredPreds)

	if len(e.contract.Ensembles) > 0 {
		ensembleGroups, n, err := e.runEnsembles(groups)
		if err != nil {
			return nil, fmt.Errorf("phase E ensembles: %w", err)
		}
		for modelID, preds := range ensembleGroups {
			groups[modelID] = preds
		}
		report.EnsembleCount = n
	}

	snapshots, err := e.buildSnapshots(groups, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("phase C build snapshots: %w", err)
	}
	report.SnapshotCount = len(snapshots)

	snapshots, err = e.enrichSnapshots(snapshots, groups, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("phase D enrich snapshots: %w", err)
	}

	for i := range snapshots {
		if _, err := e.store.PutSnapshot(snapshots[i]); err != nil {
			return nil, fmt.Errorf("persist snapshot %s: %w", snapshots[i].ModelID, err)
		}
	}

	cycle, err := e.commitCycle(snapshots, now)
	if err != nil {
		return nil, fmt.Errorf("phase F merkle cycle commit: %w", err)
	}
	if cycle != nil {
		report.CycleID = cycle.ID
		report.ChainedRoot = cycle.ChainedRoot
	}

	lb, err := e.rebuildLeaderboard(now)
	if err != nil {
		return nil, fmt.Errorf("phase G leaderboard: %w", err)
	}
	if lb != nil {
		report.LeaderboardSize = len(lb.Entries)
	}

	return report, nil
}

// tickWindow derives this tick's [period_start, period_end) from the most
// recent MerkleCycle, so cycles tile the timeline without gaps or overlaps.
func (e *Engine) tickWindow(now time.Time) (time.Time, time.Time) {
	last, err := e.store.LatestMerkleCycle()
	if err != nil || last == nil {
		return time.Time{}, now
	}
	return last.CreatedAt, now
}

func (e *Engine) feedScope(subject string) store.FeedScope {
	return store.FeedScope{
		Source:      e.cfg.FeedSource,
		Subject:     subject,
		Kind:        e.cfg.FeedKind,
		Granularity: e.cfg.FeedGranularity,
	}
}
