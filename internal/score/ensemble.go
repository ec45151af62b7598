package score

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/predictcoord/coordinator/internal/contract"
	"github.com/predictcoord/coordinator/internal/store"
)

// runEnsembles implements Phase E: for each configured EnsembleConfig, filter
// the real-model set, weight them, and fold a synthetic weighted-average
// Prediction into __ensemble_<name>__ for every scope active this cycle.
// Returns a map from ensemble model ID to its synthetic Predictions, and the
// number of ensembles that produced at least one prediction.
func (e *Engine) runEnsembles(realGroups map[string][]store.Prediction) (map[string][]store.Prediction, int, error) {
	out := make(map[string][]store.Prediction)
	active := 0

	leaderboard, err := e.store.LatestLeaderboard()
	if err != nil {
		return nil, 0, fmt.Errorf("load leaderboard for ensemble filter: %w", err)
	}

	scoringFn := e.registry.ScoringFunction()

	for _, ec := range e.contract.Ensembles {
		members := filterMembers(realGroups, leaderboard, ec.ModelFilter)
		if len(members) == 0 {
			continue
		}

		weights := weightMembers(realGroups, members, ec.Strategy)
		preds, err := e.buildEnsemblePredictions(realGroups, weights, ec.Name, scoringFn)
		if err != nil {
			return nil, 0, fmt.Errorf("build ensemble %q predictions: %w", ec.Name, err)
		}
		if len(preds) == 0 {
			continue
		}
		out[store.EnsembleModelID(ec.Name)] = preds
		active++
	}
	return out, active, nil
}

// filterMembers resolves an EnsembleConfig's model_filter against the
// most recent Leaderboard (last-known metrics), intersected with models
// with at least one prediction in this cycle. An empty/unrecognized filter
// or a missing leaderboard (first tick) selects every active real model.
func filterMembers(realGroups map[string][]store.Prediction, lb *store.Leaderboard, filter string) []string {
	active := make(map[string]bool, len(realGroups))
	for modelID := range realGroups {
		if !store.IsEnsembleModelID(modelID) {
			active[modelID] = true
		}
	}

	filter = strings.TrimSpace(filter)
	if filter == "" || lb == nil {
		out := make([]string, 0, len(active))
		for id := range active {
			out = append(out, id)
		}
		sort.Strings(out)
		return out
	}

	switch {
	case strings.HasPrefix(filter, "top_n("):
		n, ok := parseIntArg(filter, "top_n(")
		if !ok {
			break
		}
		var out []string
		for _, entry := range lb.Entries {
			if !active[entry.ModelID] {
				continue
			}
			out = append(out, entry.ModelID)
			if len(out) >= n {
				break
			}
		}
		return out
	case strings.HasPrefix(filter, "min_metric("):
		name, threshold, ok := parseMinMetricArgs(filter)
		if !ok {
			break
		}
		var out []string
		for _, entry := range lb.Entries {
			if !active[entry.ModelID] {
				continue
			}
			if v, ok := entry.Metrics[name]; ok && v >= threshold {
				out = append(out, entry.ModelID)
			}
		}
		sort.Strings(out)
		return out
	}

	out := make([]string, 0, len(active))
	for id := range active {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func parseIntArg(filter, prefix string) (int, bool) {
	rest := strings.TrimSuffix(strings.TrimPrefix(filter, prefix), ")")
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseMinMetricArgs(filter string) (name string, threshold float64, ok bool) {
	rest := strings.TrimSuffix(strings.TrimPrefix(filter, "min_metric("), ")")
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	name = strings.TrimSpace(parts[0])
	th, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return "", 0, false
	}
	return name, th, true
}

// weightMembers computes strategy(model_metrics, predictions) -> weights
// with Σweight = 1. Built-in strategies: inverse_variance (normalized 1/var
// of this cycle's Score values), equal_weight.
func weightMembers(groups map[string][]store.Prediction, members []string, strategy string) map[string]float64 {
	weights := make(map[string]float64, len(members))
	if strategy == "inverse_variance" {
		const epsilon = 1e-6
		inv := make(map[string]float64, len(members))
		var sum float64
		for _, id := range members {
			v := scoreVariance(groups[id])
			if v < epsilon {
				v = epsilon
			}
			inv[id] = 1 / v
			sum += inv[id]
		}
		if sum > 0 {
			for _, id := range members {
				weights[id] = inv[id] / sum
			}
			return weights
		}
	}
	// equal_weight, or inverse_variance degenerate fallback.
	for _, id := range members {
		weights[id] = 1 / float64(len(members))
	}
	return weights
}

func scoreVariance(preds []store.Prediction) float64 {
	var values []float64
	for _, p := range preds {
		if p.Score != nil {
			values = append(values, p.Score.Value)
		}
	}
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(len(values)-1)
}

// buildEnsemblePredictions folds the filtered, weighted members' numeric
// outputs into one synthetic Prediction per Input shared across them, scores
// it against the Input's already-resolved actuals, and persists it.
func (e *Engine) buildEnsemblePredictions(groups map[string][]store.Prediction, weights map[string]float64, name string, scoringFn contract.ScoringFunc) ([]store.Prediction, error) {
	byInput := make(map[string]map[string]store.Prediction)
	for modelID := range weights {
		for _, p := range groups[modelID] {
			if byInput[p.InputID] == nil {
				byInput[p.InputID] = make(map[string]store.Prediction)
			}
			byInput[p.InputID][modelID] = p
		}
	}

	ensembleModelID := store.EnsembleModelID(name)
	var out []store.Prediction
	for inputID, byModel := range byInput {
		var weightedSum, weightTotal float64
		metaWeights := make(map[string]float64, len(byModel))
		for modelID, p := range byModel {
			signal := valueOf(p.InferenceOut)
			w := weights[modelID]
			weightedSum += signal * w
			weightTotal += w
			metaWeights[modelID] = w
		}
		if weightTotal == 0 {
			continue
		}
		signal := weightedSum / weightTotal

		in, err := e.store.GetInput(inputID)
		if err != nil {
			e.log.Warn("ensemble prediction: input lookup failed", "input_id", inputID, "error", err)
			continue
		}

		outputDoc, _ := json.Marshal(signal)
		meta, _ := json.Marshal(map[string]any{"ensemble": name, "weights": metaWeights})

		pred := store.Prediction{
			ID:           store.NewPredictionID(),
			ModelID:      ensembleModelID,
			InputID:      inputID,
			ConfigID:     in.ConfigID,
			ScopeKey:     in.ScopeKey,
			InferenceOut: outputDoc,
			Status:       store.PredictionPending,
			Meta:         meta,
		}

		if in.ActualsIsNull {
			pred.Status = store.PredictionFailed
			pred.FailedReason = "no ground truth"
		} else {
			sc, serr := safeScore(scoringFn, outputDoc, in.Actuals)
			if serr != nil {
				pred.Status = store.PredictionFailed
				pred.FailedReason = serr.Error()
			} else {
				pred.Status = store.PredictionScored
				pred.Score = &sc
			}
		}

		if err := e.store.InsertPredictionsTx(func(tx *sql.Tx) error {
			return store.InsertPredictionTx(tx, pred)
		}); err != nil {
			e.log.Warn("ensemble prediction: persist failed", "input_id", inputID, "error", err)
			continue
		}
		out = append(out, pred)
	}
	return out, nil
}
