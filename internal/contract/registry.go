package contract

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/predictcoord/coordinator/internal/store"
)

// Function types for the callable registry's required and optional slots.
// A frozen map of concrete function values, signature-checked once at
// startup instead of resolved and type-checked on every call.
type (
	InferenceInputBuilderFunc  func(feedWindow []store.FeedRecord, scope store.FeedScope) (json.RawMessage, error)
	InferenceOutputValidatorFunc func(output json.RawMessage) (json.RawMessage, error)
	ScoringFunc                func(inferenceOutput, actuals json.RawMessage) (store.Score, error)
	ResolveGroundTruthFunc     func(scope store.FeedScope, feedWindow []store.FeedRecord) (json.RawMessage, error)
	AggregateSnapshotFunc      func(scores []store.Score) (json.RawMessage, error)
	BuildEmissionFunc          func(ranked []RankedEntry) (store.EmissionPayload, error)
	MetricFunc                 func(ctx MetricsContext) (float64, error)
)

// RankedEntry is one model's position in the checkpoint-period ranking,
// the input to BuildEmission.
type RankedEntry struct {
	ModelID string
	Rank    int
	Score   float64
}

// MetricsContext is the per-model, per-window argument to a metric function.
// It buffers one tick's worth of predictions in memory rather than
// re-querying the store.
type MetricsContext struct {
	ModelID             string
	WindowStart         string
	WindowEnd           string
	Signals             []float64 // this model's signal per prediction, in window order
	Realized            []float64 // realized return aligned to Signals
	AllModelSignals     map[string][]float64
	EnsembleSignals     map[string][]float64
}

// slotName enumerates the registry's callable slots, required and optional.
type slotName string

const (
	SlotInferenceInputBuilder    slotName = "InferenceInputBuilder"
	SlotInferenceOutputValidator slotName = "InferenceOutputValidator"
	SlotScoringFunction          slotName = "ScoringFunction"
	SlotResolveGroundTruth       slotName = "ResolveGroundTruth"
	SlotAggregateSnapshot        slotName = "AggregateSnapshot"
	SlotBuildEmission            slotName = "BuildEmission"
)

var requiredSlots = map[slotName]reflect.Type{
	SlotInferenceInputBuilder:    reflect.TypeOf(InferenceInputBuilderFunc(nil)),
	SlotInferenceOutputValidator: reflect.TypeOf(InferenceOutputValidatorFunc(nil)),
	SlotScoringFunction:          reflect.TypeOf(ScoringFunc(nil)),
	SlotResolveGroundTruth:       reflect.TypeOf(ResolveGroundTruthFunc(nil)),
}

var optionalSlots = map[slotName]reflect.Type{
	SlotAggregateSnapshot: reflect.TypeOf(AggregateSnapshotFunc(nil)),
	SlotBuildEmission:     reflect.TypeOf(BuildEmissionFunc(nil)),
}

// Registry is the frozen map of callable slots, plus a metrics sub-registry.
// Registration happens at startup, via Register* calls from plugin files;
// Freeze checks every required slot is present and every registered value
// has the exact expected signature, fail-fast with a structured error
// listing every problem at once.
type Registry struct {
	slots   map[slotName]reflect.Value
	metrics map[string]MetricFunc
	frozen  bool
}

// NewRegistry creates an empty, unfrozen Registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[slotName]reflect.Value), metrics: make(map[string]MetricFunc)}
}

func (r *Registry) register(name slotName, fn any) {
	if r.frozen {
		panic("contract: register called on a frozen Registry")
	}
	r.slots[name] = reflect.ValueOf(fn)
}

func (r *Registry) RegisterInferenceInputBuilder(fn InferenceInputBuilderFunc) { r.register(SlotInferenceInputBuilder, fn) }
func (r *Registry) RegisterInferenceOutputValidator(fn InferenceOutputValidatorFunc) { r.register(SlotInferenceOutputValidator, fn) }
func (r *Registry) RegisterScoringFunction(fn ScoringFunc) { r.register(SlotScoringFunction, fn) }
func (r *Registry) RegisterResolveGroundTruth(fn ResolveGroundTruthFunc) { r.register(SlotResolveGroundTruth, fn) }
func (r *Registry) RegisterAggregateSnapshot(fn AggregateSnapshotFunc) { r.register(SlotAggregateSnapshot, fn) }
func (r *Registry) RegisterBuildEmission(fn BuildEmissionFunc) { r.register(SlotBuildEmission, fn) }

// RegisterMetric adds a named custom metric, callable from Config.metrics
// alongside the built-ins in internal/score/metrics.
func (r *Registry) RegisterMetric(name string, fn MetricFunc) {
	if r.frozen {
		panic("contract: RegisterMetric called on a frozen Registry")
	}
	r.metrics[name] = fn
}

// SlotError describes one missing or mis-typed slot found at Freeze time.
type SlotError struct {
	Slot   slotName
	Reason string
}

// FreezeError aggregates every SlotError found in one Freeze call.
type FreezeError struct {
	Problems []SlotError
}

func (e *FreezeError) Error() string {
	msg := fmt.Sprintf("contract registry: %d problem(s):", len(e.Problems))
	for _, p := range e.Problems {
		msg += fmt.Sprintf(" [%s: %s]", p.Slot, p.Reason)
	}
	return msg
}

// Freeze validates every required and registered slot's presence and
// signature, then locks the Registry against further registration. Call
// once at process startup; a non-nil error means the worker must not start.
func (r *Registry) Freeze() error {
	var problems []SlotError
	for name, wantType := range requiredSlots {
		v, ok := r.slots[name]
		if !ok {
			problems = append(problems, SlotError{Slot: name, Reason: "required slot not registered"})
			continue
		}
		if v.Type() != wantType {
			problems = append(problems, SlotError{Slot: name, Reason: fmt.Sprintf("signature mismatch: want %s, got %s", wantType, v.Type())})
		}
	}
	for name, wantType := range optionalSlots {
		v, ok := r.slots[name]
		if !ok {
			continue
		}
		if v.Type() != wantType {
			problems = append(problems, SlotError{Slot: name, Reason: fmt.Sprintf("signature mismatch: want %s, got %s", wantType, v.Type())})
		}
	}
	if len(problems) > 0 {
		return &FreezeError{Problems: problems}
	}
	r.frozen = true
	return nil
}

func (r *Registry) mustBeFrozen() {
	if !r.frozen {
		panic("contract: Registry accessed before Freeze")
	}
}

// InferenceInputBuilder returns the frozen required slot.
func (r *Registry) InferenceInputBuilder() InferenceInputBuilderFunc {
	r.mustBeFrozen()
	return r.slots[SlotInferenceInputBuilder].Interface().(InferenceInputBuilderFunc)
}

// InferenceOutputValidator returns the frozen required slot.
func (r *Registry) InferenceOutputValidator() InferenceOutputValidatorFunc {
	r.mustBeFrozen()
	return r.slots[SlotInferenceOutputValidator].Interface().(InferenceOutputValidatorFunc)
}

// ScoringFunction returns the frozen required slot.
func (r *Registry) ScoringFunction() ScoringFunc {
	r.mustBeFrozen()
	return r.slots[SlotScoringFunction].Interface().(ScoringFunc)
}

// ResolveGroundTruth returns the frozen required slot.
func (r *Registry) ResolveGroundTruth() ResolveGroundTruthFunc {
	r.mustBeFrozen()
	return r.slots[SlotResolveGroundTruth].Interface().(ResolveGroundTruthFunc)
}

// AggregateSnapshot returns the registered slot, or defaultAggregateSnapshot
// (field-wise mean) if none was configured.
func (r *Registry) AggregateSnapshot() AggregateSnapshotFunc {
	r.mustBeFrozen()
	if v, ok := r.slots[SlotAggregateSnapshot]; ok {
		return v.Interface().(AggregateSnapshotFunc)
	}
	return defaultAggregateSnapshot
}

// BuildEmission returns the registered slot, or nil if none was configured,
// in which case internal/checkpoint falls back to its own default tier schedule.
func (r *Registry) BuildEmission() BuildEmissionFunc {
	r.mustBeFrozen()
	if v, ok := r.slots[SlotBuildEmission]; ok {
		return v.Interface().(BuildEmissionFunc)
	}
	return nil
}

// Metric looks up a registered custom metric by name.
func (r *Registry) Metric(name string) (MetricFunc, bool) {
	r.mustBeFrozen()
	fn, ok := r.metrics[name]
	return fn, ok
}

func defaultAggregateSnapshot(scores []store.Score) (json.RawMessage, error) {
	if len(scores) == 0 {
		return json.Marshal(map[string]float64{"mean_value": 0})
	}
	var sum float64
	for _, s := range scores {
		sum += s.Value
	}
	return json.Marshal(map[string]float64{"mean_value": sum / float64(len(scores))})
}
