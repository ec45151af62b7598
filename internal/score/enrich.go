package score

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/predictcoord/coordinator/internal/contract"
	"github.com/predictcoord/coordinator/internal/score/metrics"
	"github.com/predictcoord/coordinator/internal/store"
)

// enrichSnapshots implements Phase D: run every configured metric over each
// model's window and merge the results into its Snapshot's result_summary.
// The content_hash computed in Phase C is left untouched; it commits to the
// pre-enrichment summary.
func (e *Engine) enrichSnapshots(snapshots []store.Snapshot, groups map[string][]store.Prediction, periodStart, periodEnd time.Time) ([]store.Snapshot, error) {
	allSignals := make(map[string][]float64)
	ensembleSignals := make(map[string][]float64)
	for modelID, preds := range groups {
		signals := signalsFor(preds)
		if store.IsEnsembleModelID(modelID) {
			if _, ok := ensembleSignals["__consensus__"]; !ok {
				ensembleSignals["__consensus__"] = signals
			}
			continue
		}
		allSignals[modelID] = signals
	}

	for i := range snapshots {
		sn := &snapshots[i]
		preds := groups[sn.ModelID]

		ctx := metrics.Context{
			ModelID:         sn.ModelID,
			Signals:         signalsFor(preds),
			Realized:        realizedFor(preds),
			AllModelSignals: allSignals,
			EnsembleSignals: ensembleSignals,
		}

		computed := e.metrics.Compute(ctx, e.contract.Metrics)
		e.runCustomMetrics(computed, ctx, periodStart, periodEnd)

		merged, err := mergeResultSummary(sn.ResultSummary, computed)
		if err != nil {
			return nil, fmt.Errorf("merge metrics into summary for model %s: %w", sn.ModelID, err)
		}
		sn.ResultSummary = merged
	}
	return snapshots, nil
}

// runCustomMetrics fills in any Config.metrics entries not satisfied by a
// built-in, from callables registered via Registry.RegisterMetric.
func (e *Engine) runCustomMetrics(computed map[string]float64, ctx metrics.Context, periodStart, periodEnd time.Time) {
	for _, name := range e.contract.Metrics {
		if _, ok := computed[name]; ok {
			continue
		}
		fn, ok := e.registry.Metric(name)
		if !ok {
			continue
		}
		v, err := fn(contract.MetricsContext{
			ModelID:         ctx.ModelID,
			WindowStart:     store.FormatTime(periodStart),
			WindowEnd:       store.FormatTime(periodEnd),
			Signals:         ctx.Signals,
			Realized:        ctx.Realized,
			AllModelSignals: ctx.AllModelSignals,
			EnsembleSignals: ctx.EnsembleSignals,
		})
		if err != nil {
			e.log.Debug("custom metric errored", "metric", name, "model_id", ctx.ModelID, "error", err)
			continue
		}
		computed[name] = v
	}
}

func signalsFor(preds []store.Prediction) []float64 {
	out := make([]float64, 0, len(preds))
	for _, p := range preds {
		out = append(out, valueOf(p.InferenceOut))
	}
	return out
}

func realizedFor(preds []store.Prediction) []float64 {
	out := make([]float64, 0, len(preds))
	for _, p := range preds {
		if p.Score != nil {
			out = append(out, p.Score.Value)
		} else {
			out = append(out, 0)
		}
	}
	return out
}

func valueOf(raw json.RawMessage) float64 {
	out, err := contract.DecodeInferenceOutput(raw)
	if err != nil {
		return 0
	}
	v, ok := out.Signal()
	if !ok {
		return 0
	}
	return v
}

func mergeResultSummary(existing json.RawMessage, metrics map[string]float64) (json.RawMessage, error) {
	base := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &base); err != nil {
			base = map[string]any{"_raw": string(existing)}
		}
	}
	for k, v := range metrics {
		base[k] = v
	}
	return json.Marshal(base)
}
