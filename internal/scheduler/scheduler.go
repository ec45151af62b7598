// Package scheduler drives the coordinator's four worker loops (Feed,
// Predict, Score, Checkpoint) from one process, cooperating only through
// the store.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/predictcoord/coordinator/internal/checkpoint"
	"github.com/predictcoord/coordinator/internal/feed"
	"github.com/predictcoord/coordinator/internal/predict"
	"github.com/predictcoord/coordinator/internal/score"
	"github.com/predictcoord/coordinator/internal/store"
	"github.com/robfig/cron/v3"
)

// Config holds the cadences and scope each loop runs against.
type Config struct {
	FeedScope            store.FeedScope
	ScoreInterval        time.Duration
	CheckpointCron       string
	PredictPollInterval  time.Duration // how often to re-check ActiveScheduledConfigs for due cycles
}

// Scheduler owns every loop and the cron entry driving Checkpoint builds.
type Scheduler struct {
	store      *store.Store
	orch       *predict.Orchestrator
	engine     *score.Engine
	builder    *checkpoint.Builder
	feedWorker *feed.Worker
	cfg        Config
	cron       *cron.Cron
	log        *slog.Logger

	lastFired map[string]time.Time
}

// New creates a Scheduler. feedWorker may be nil if the process runs a
// dedicated feed worker separately (e.g. the backfill CLI subcommand).
func New(s *store.Store, orch *predict.Orchestrator, engine *score.Engine, builder *checkpoint.Builder, feedWorker *feed.Worker, cfg Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PredictPollInterval == 0 {
		cfg.PredictPollInterval = time.Second
	}
	return &Scheduler{
		store:      s,
		orch:       orch,
		engine:     engine,
		builder:    builder,
		feedWorker: feedWorker,
		cfg:        cfg,
		log:        log,
		lastFired:  make(map[string]time.Time),
	}
}

// Run blocks until ctx is cancelled, driving all four loops concurrently.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.feedWorker != nil {
		go s.feedWorker.Run(ctx)
	}

	c := cron.New()
	if s.cfg.CheckpointCron != "" {
		if _, err := c.AddFunc(s.cfg.CheckpointCron, func() { s.runCheckpoint(ctx) }); err != nil {
			return err
		}
	}
	c.Start()
	s.cron = c
	defer c.Stop()

	go s.runScoreLoop(ctx)
	go s.runPredictLoop(ctx)

	<-ctx.Done()
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runScoreLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScoreInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runScoreTick(ctx)
		}
	}
}

func (s *Scheduler) runScoreTick(ctx context.Context) {
	now := time.Now()
	report, err := s.engine.Tick(ctx, now)
	if err != nil {
		s.log.Error("score tick failed", "error", err)
		return
	}
	if report == nil {
		return
	}
	s.log.Info("score tick complete", "cycle_id", report.CycleID, "snapshots", report.SnapshotCount)
}

// runPredictLoop polls ActiveScheduledConfigs on cfg.PredictPollInterval and
// fires any config whose EverySeconds cadence has elapsed since it last
// fired; Cron-scheduled configs are left to a future cron.Cron entry,
// matching the feed scope this process owns today.
func (s *Scheduler) runPredictLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PredictPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.firePredictCycles(ctx)
		}
	}
}

func (s *Scheduler) firePredictCycles(ctx context.Context) {
	configs, err := s.store.ActiveScheduledConfigs()
	if err != nil {
		s.log.Error("load active scheduled configs", "error", err)
		return
	}
	now := time.Now()
	for _, cfg := range configs {
		if cfg.EverySeconds <= 0 {
			continue
		}
		interval := time.Duration(cfg.EverySeconds) * time.Second
		if last, ok := s.lastFired[cfg.ID]; ok && now.Sub(last) < interval {
			continue
		}
		s.lastFired[cfg.ID] = now
		scope := s.cfg.FeedScope
		scope.Subject = cfg.Subject
		if _, err := s.orch.RunCycle(ctx, cfg, scope, now); err != nil {
			s.log.Error("predict cycle failed", "config_id", cfg.ID, "error", err)
		}
	}
}

func (s *Scheduler) runCheckpoint(ctx context.Context) {
	report, err := s.builder.Build(time.Now())
	if err != nil {
		s.log.Error("checkpoint build failed", "error", err)
		return
	}
	if report.Skipped {
		s.log.Debug("checkpoint build skipped: no cycles since last checkpoint")
		return
	}
	s.log.Info("checkpoint built", "checkpoint_id", report.CheckpointID, "cycles", report.CycleCount)
}
