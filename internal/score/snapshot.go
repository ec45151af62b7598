package score

import (
	"fmt"
	"sort"
	"time"

	"github.com/predictcoord/coordinator/internal/store"
)

// groupPredictionsByModel implements the input side of Phase C: the
// Predictions this tick actually transitioned to SCORED (as returned by
// scorePredictions), grouped by model_id. Grouping the in-memory result of
// Phase B rather than re-querying by a created_at window means a Prediction
// snapshots on whichever tick scores it, however many ticks after it was
// created that turns out to be.
func groupPredictionsByModel(preds []store.Prediction) map[string][]store.Prediction {
	groups := make(map[string][]store.Prediction)
	for _, p := range preds {
		groups[p.ModelID] = append(groups[p.ModelID], p)
	}
	for modelID := range groups {
		g := groups[modelID]
		sort.Slice(g, func(i, j int) bool {
			if !g[i].CreatedAt.Equal(g[j].CreatedAt) {
				return g[i].CreatedAt.Before(g[j].CreatedAt)
			}
			return g[i].ID < g[j].ID
		})
		groups[modelID] = g
	}
	return groups
}

// buildSnapshots implements the rest of Phase C: aggregate each group's
// Scores into a result_summary and compute the content_hash Merkle leaf.
func (e *Engine) buildSnapshots(groups map[string][]store.Prediction, periodStart, periodEnd time.Time) ([]store.Snapshot, error) {
	aggregate := e.registry.AggregateSnapshot()

	out := make([]store.Snapshot, 0, len(groups))
	for modelID, preds := range groups {
		scores := make([]store.Score, 0, len(preds))
		for _, p := range preds {
			if p.Score != nil {
				scores = append(scores, *p.Score)
			}
		}

		summary, err := aggregate(scores)
		if err != nil {
			return nil, fmt.Errorf("aggregate snapshot for model %s: %w", modelID, err)
		}

		hash, err := canonicalHash(modelID, periodStart, periodEnd, len(preds), summary)
		if err != nil {
			return nil, fmt.Errorf("content hash for model %s: %w", modelID, err)
		}

		out = append(out, store.Snapshot{
			ID:              store.NewSnapshotID(),
			ModelID:         modelID,
			PeriodStart:     periodStart,
			PeriodEnd:       periodEnd,
			PredictionCount: len(preds),
			ResultSummary:   summary,
			ContentHash:     hash,
		})
	}
	return out, nil
}
