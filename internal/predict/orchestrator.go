package predict

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/predictcoord/coordinator/internal/contract"
	"github.com/predictcoord/coordinator/internal/observability"
	"github.com/predictcoord/coordinator/internal/store"
	"golang.org/x/sync/errgroup"
)

// CycleReport summarizes one RunCycle call, for logging/metrics.
type CycleReport struct {
	ConfigID        string
	InputID         string
	Skipped         bool
	PredictionCount int
	Pending         int
	Failed          int
	Absent          int
}

// Orchestrator fires scheduled prediction cycles and fans them out to every
// live model.
type Orchestrator struct {
	store    *store.Store
	registry *contract.Registry
	shapes   *contract.Shapes
	runner   *Runner
	client   *ModelClient
	log      *slog.Logger
	metrics  *observability.Metrics
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(s *store.Store, registry *contract.Registry, shapes *contract.Shapes, runner *Runner, client *ModelClient, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{store: s, registry: registry, shapes: shapes, runner: runner, client: client, log: log}
}

// SetMetrics attaches the process-wide Prometheus collectors; nil-safe if
// never called.
func (o *Orchestrator) SetMetrics(m *observability.Metrics) { o.metrics = m }

// RunCycle fires config's prediction cycle at now. Not idempotent across
// fires with the same now; the caller (scheduler) guarantees one call per
// tick per config.
func (o *Orchestrator) RunCycle(ctx context.Context, cfg store.ScheduledPredictionConfig, scope store.FeedScope, now time.Time) (*CycleReport, error) {
	started := time.Now()
	outcome := "error"
	defer func() {
		if o.metrics != nil {
			o.metrics.PredictCycleDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
		}
	}()

	report := &CycleReport{ConfigID: cfg.ID}

	lookback := time.Duration(cfg.LookbackSeconds) * time.Second
	if lookback <= 0 {
		lookback = time.Duration(cfg.StepSeconds) * time.Second
	}
	window, err := o.store.FeedWindow(scope, now.Add(-lookback), now)
	if err != nil {
		return nil, fmt.Errorf("fetch feed window: %w", err)
	}
	if len(window) == 0 {
		report.Skipped = true
		outcome = "skipped"
		o.log.Info("predict cycle skipped: empty feed window", "config_id", cfg.ID, "scope", scope)
		return report, nil
	}

	rawInput, err := o.registry.InferenceInputBuilder()(window, scope)
	if err != nil {
		return nil, fmt.Errorf("build inference input: %w", err)
	}
	if err := o.shapes.InferenceInput.Validate(rawInput); err != nil {
		return nil, fmt.Errorf("inference input failed shape validation: %w", err)
	}

	in := store.Input{
		ID:           store.NewInputID(),
		ConfigID:     cfg.ID,
		ScopeKey:     cfg.ScopeKey,
		RawInput:     rawInput,
		PerformedAt:  now,
		ResolvableAt: now.Add(time.Duration(cfg.HorizonSeconds) * time.Second),
	}
	report.InputID = in.ID

	live := o.runner.Live()
	predictions := make([]store.Prediction, 0, len(live))
	if len(live) > 0 {
		predictions = o.fanOut(ctx, cfg, in, live)
	}
	for _, p := range predictions {
		switch p.Status {
		case store.PredictionPending:
			report.Pending++
		case store.PredictionFailed:
			report.Failed++
		case store.PredictionAbsent:
			report.Absent++
		}
	}
	report.PredictionCount = len(predictions)

	err = o.store.InsertPredictionsTx(func(tx *sql.Tx) error {
		if err := store.InsertInputTx(tx, in); err != nil {
			return fmt.Errorf("insert input: %w", err)
		}
		for _, p := range predictions {
			if err := store.InsertPredictionTx(tx, p); err != nil {
				return fmt.Errorf("insert prediction %s: %w", p.ModelID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("commit cycle: %w", err)
	}
	outcome = "ok"
	return report, nil
}

// fanOut concurrently invokes Tick (if required) then Predict on every live
// model with a per-call deadline, classifying each outcome and feeding the
// runner's quarantine counters.
func (o *Orchestrator) fanOut(ctx context.Context, cfg store.ScheduledPredictionConfig, in store.Input, live map[string]ModelInfo) []store.Prediction {
	deadline := time.Duration(cfg.PredictTimeoutMs) * time.Millisecond
	if deadline <= 0 {
		deadline = time.Second
	}

	results := make([]store.Prediction, len(live))
	ids := make([]string, 0, len(live))
	for id := range live {
		ids = append(ids, id)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(ids))
	for idx, modelID := range ids {
		idx, modelID, info := idx, modelID, live[modelID]
		g.Go(func() error {
			results[idx] = o.invokeOne(gctx, in, modelID, info, deadline)
			return nil
		})
	}
	_ = g.Wait() // per-model errors are captured on the Prediction row, never propagated

	return results
}

func (o *Orchestrator) invokeOne(ctx context.Context, in store.Input, modelID string, info ModelInfo, deadline time.Duration) store.Prediction {
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	pred := store.Prediction{
		ID:       store.NewPredictionID(),
		ModelID:  modelID,
		InputID:  in.ID,
		ConfigID: in.ConfigID,
		ScopeKey: in.ScopeKey,
	}

	started := time.Now()
	if info.RequiresTick {
		primeCtx, primeCancel := context.WithTimeout(ctx, 50*time.Second)
		err := o.client.Tick(primeCtx, modelID, in.RawInput)
		primeCancel()
		if err != nil {
			pred.Status = store.PredictionFailed
			pred.FailedReason = "tick failed: " + err.Error()
			o.recordOutcome(modelID, OutcomeFailure, "tick_failed")
			return pred
		}
	}

	output, err := o.client.Predict(callCtx, modelID, in.RawInput)
	pred.ExecTimeUs = time.Since(started).Microseconds()

	switch {
	case callCtx.Err() == context.DeadlineExceeded:
		pred.Status = store.PredictionFailed
		pred.FailedReason = "timeout"
		o.recordOutcome(modelID, OutcomeTimeout, "timeout")
	case err != nil:
		pred.Status = store.PredictionAbsent
		o.recordOutcome(modelID, OutcomeFailure, "absent")
	default:
		validated, verr := o.registry.InferenceOutputValidator()(output)
		if verr == nil {
			if serr := o.callerShapeValidate(validated); serr != nil {
				verr = serr
			}
		}
		if verr != nil {
			pred.Status = store.PredictionFailed
			pred.FailedReason = verr.Error()
			o.recordOutcome(modelID, OutcomeFailure, "invalid_output")
		} else {
			pred.InferenceOut = validated
			pred.Status = store.PredictionPending
			o.recordOutcome(modelID, OutcomeSuccess, "")
		}
	}
	return pred
}

// recordOutcome forwards to the Runner's quarantine counters and, if this
// outcome crossed the eviction threshold, increments the eviction counter
// tagged with the reason that caused it.
func (o *Orchestrator) recordOutcome(modelID string, outcome Outcome, reason string) {
	evicted := o.runner.RecordOutcome(modelID, outcome)
	if evicted && o.metrics != nil {
		o.metrics.ModelEvictionsTotal.WithLabelValues(reason).Inc()
	}
}

func (o *Orchestrator) callerShapeValidate(output json.RawMessage) error {
	if o.shapes == nil || o.shapes.InferenceOutput == nil {
		return nil
	}
	return o.shapes.InferenceOutput.Validate(output)
}
