package score

import (
	"fmt"

	"github.com/predictcoord/coordinator/internal/store"
)

// scorePredictions implements Phase B: score every PENDING Prediction whose
// Input has resolved, converting scoring exceptions to FAILED rather than
// propagating them. It returns the Predictions that transitioned to SCORED
// on this call (with their Score populated) so Phase C can snapshot exactly
// the rows this tick scored, rather than re-deriving that set from a
// predict-time window: predict and score are decoupled (resolvable_at =
// performed_at + horizon_seconds), so a Prediction is commonly scored many
// ticks after it was created, long outside any created_at-based window.
func (e *Engine) scorePredictions() (scoredPreds []store.Prediction, failed int, err error) {
	pending, inputs, err := e.store.PendingPredictionsForResolvedInputs()
	if err != nil {
		return nil, 0, fmt.Errorf("list pending predictions: %w", err)
	}

	scoringFn := e.registry.ScoringFunction()
	for _, p := range pending {
		in, ok := inputs[p.InputID]
		if !ok {
			continue
		}
		if in.ActualsIsNull {
			if err := e.store.FailPrediction(p.ID, "no ground truth"); err != nil {
				e.log.Warn("score prediction: fail (null actuals) failed", "prediction_id", p.ID, "error", err)
				continue
			}
			failed++
			continue
		}

		sc, serr := safeScore(scoringFn, p.InferenceOut, in.Actuals)
		if serr != nil {
			if err := e.store.FailPrediction(p.ID, serr.Error()); err != nil {
				e.log.Warn("score prediction: fail failed", "prediction_id", p.ID, "error", err)
				continue
			}
			failed++
			continue
		}

		if err := e.store.ScorePrediction(p.ID, sc); err != nil {
			e.log.Warn("score prediction: commit failed", "prediction_id", p.ID, "error", err)
			continue
		}
		if sc.Success {
			p.Score = &sc
			p.Status = store.PredictionScored
			scoredPreds = append(scoredPreds, p)
		} else {
			failed++
		}
	}
	return scoredPreds, failed, nil
}
