// Package builtins is the configuration table of concrete callable
// variants: a fixed set of Go functions selectable by name from the
// environment, rather than resolved by string path at call time. One
// competition ships with exactly the variants it registers here; adding a
// new competition shape means adding a new named variant to this table,
// not a new dispatch path.
package builtins

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/predictcoord/coordinator/internal/contract"
	"github.com/predictcoord/coordinator/internal/store"
)

// signalInput is the inference_input_type produced by WindowedSignalV1: the
// last N closes of a feed window, oldest first.
type signalInput struct {
	Closes []float64 `json:"closes"`
}

// directionOutput is the inference_output_type expected by DirectionV1: a
// single signed signal in [-1, 1] forecasting the sign of the next return.
type directionOutput struct {
	Direction float64 `json:"direction"`
}

// InferenceInputBuilders maps INFERENCE_INPUT_BUILDER env values to
// concrete builders.
var InferenceInputBuilders = map[string]contract.InferenceInputBuilderFunc{
	"windowed_signal_v1": WindowedSignalV1,
}

// InferenceOutputValidators maps INFERENCE_OUTPUT_VALIDATOR env values to
// concrete validators.
var InferenceOutputValidators = map[string]contract.InferenceOutputValidatorFunc{
	"direction_v1": DirectionV1,
}

// ScoringFunctions maps SCORING_FUNCTION env values to concrete scorers.
var ScoringFunctions = map[string]contract.ScoringFunc{
	"direction_vs_return_v1": DirectionVsReturnV1,
}

// ResolveGroundTruths maps built-in resolver names to concrete
// ground-truth resolvers.
var ResolveGroundTruths = map[string]contract.ResolveGroundTruthFunc{
	"close_to_close_v1": CloseToCloseV1,
}

// WindowedSignalV1 builds inference input from the closing prices of the
// raw feed window handed to Predict, oldest record first.
func WindowedSignalV1(feedWindow []store.FeedRecord, scope store.FeedScope) (json.RawMessage, error) {
	closes := make([]float64, len(feedWindow))
	for i, r := range feedWindow {
		f, err := strconv.ParseFloat(r.Close.String(), 64)
		if err != nil {
			return nil, fmt.Errorf("builtins: parse close at index %d: %w", i, err)
		}
		closes[i] = f
	}
	return json.Marshal(signalInput{Closes: closes})
}

// DirectionV1 validates a model's raw inference output decodes to a
// directionOutput with Direction clamped to [-1, 1], re-encoding the
// clamped value.
func DirectionV1(output json.RawMessage) (json.RawMessage, error) {
	var out directionOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return nil, fmt.Errorf("builtins: decode direction output: %w", err)
	}
	if math.IsNaN(out.Direction) || math.IsInf(out.Direction, 0) {
		return nil, fmt.Errorf("builtins: direction is not finite")
	}
	if out.Direction > 1 {
		out.Direction = 1
	}
	if out.Direction < -1 {
		out.Direction = -1
	}
	return json.Marshal(out)
}

// CloseToCloseV1 resolves ground truth as the realized return from the
// first to the last record in feedWindow, the span Predict asked to
// resolve over. Returns JSON null if the window can't support a return
// (fewer than two records, or a zero-valued first close).
func CloseToCloseV1(scope store.FeedScope, feedWindow []store.FeedRecord) (json.RawMessage, error) {
	if len(feedWindow) < 2 {
		return json.Marshal(nil)
	}
	first, err := strconv.ParseFloat(feedWindow[0].Close.String(), 64)
	if err != nil || first == 0 {
		return json.Marshal(nil)
	}
	last, err := strconv.ParseFloat(feedWindow[len(feedWindow)-1].Close.String(), 64)
	if err != nil {
		return json.Marshal(nil)
	}
	realized := (last - first) / first
	return json.Marshal(map[string]float64{"realized_return": realized})
}

// DirectionVsReturnV1 scores a directionOutput against CloseToCloseV1's
// realized_return: direction times the return's sign, scaled by the
// return's magnitude, so a right-signed call scores positive, a
// wrong-signed call scores negative, and a zero return scores zero.
func DirectionVsReturnV1(inferenceOutput, actuals json.RawMessage) (store.Score, error) {
	var out directionOutput
	if err := json.Unmarshal(inferenceOutput, &out); err != nil {
		return store.Score{}, fmt.Errorf("builtins: decode inference output: %w", err)
	}
	var truth struct {
		RealizedReturn float64 `json:"realized_return"`
	}
	if err := json.Unmarshal(actuals, &truth); err != nil {
		return store.Score{}, fmt.Errorf("builtins: decode actuals: %w", err)
	}

	agreement := out.Direction * sign(truth.RealizedReturn)
	value := agreement * math.Abs(truth.RealizedReturn)
	return store.Score{Value: value, Success: true}, nil
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
