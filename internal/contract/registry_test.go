package contract_test

import (
	"encoding/json"
	"testing"

	"github.com/predictcoord/coordinator/internal/contract"
	"github.com/predictcoord/coordinator/internal/store"
)

func requiredSlotFuncs() (contract.InferenceInputBuilderFunc, contract.InferenceOutputValidatorFunc, contract.ScoringFunc, contract.ResolveGroundTruthFunc) {
	builder := func(feedWindow []store.FeedRecord, scope store.FeedScope) (json.RawMessage, error) {
		return json.Marshal(map[string]int{"n": len(feedWindow)})
	}
	validator := func(output json.RawMessage) (json.RawMessage, error) { return output, nil }
	scorer := func(inferenceOutput, actuals json.RawMessage) (store.Score, error) {
		return store.Score{Value: 1, Success: true}, nil
	}
	resolver := func(scope store.FeedScope, feedWindow []store.FeedRecord) (json.RawMessage, error) {
		return json.Marshal(nil)
	}
	return builder, validator, scorer, resolver
}

func TestFreezeFailsOnMissingRequiredSlots(t *testing.T) {
	reg := contract.NewRegistry()
	err := reg.Freeze()
	if err == nil {
		t.Fatal("expected Freeze to fail with no slots registered")
	}
	ferr, ok := err.(*contract.FreezeError)
	if !ok {
		t.Fatalf("error type = %T, want *contract.FreezeError", err)
	}
	if len(ferr.Problems) != 4 {
		t.Fatalf("got %d problems, want 4 (one per required slot)", len(ferr.Problems))
	}
}

func TestFreezeSucceedsWithAllRequiredSlots(t *testing.T) {
	reg := contract.NewRegistry()
	builder, validator, scorer, resolver := requiredSlotFuncs()
	reg.RegisterInferenceInputBuilder(builder)
	reg.RegisterInferenceOutputValidator(validator)
	reg.RegisterScoringFunction(scorer)
	reg.RegisterResolveGroundTruth(resolver)

	if err := reg.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if reg.ScoringFunction() == nil {
		t.Fatal("expected ScoringFunction() to return the registered function")
	}
}

func TestAggregateSnapshotDefaultsToFieldwiseMean(t *testing.T) {
	reg := contract.NewRegistry()
	builder, validator, scorer, resolver := requiredSlotFuncs()
	reg.RegisterInferenceInputBuilder(builder)
	reg.RegisterInferenceOutputValidator(validator)
	reg.RegisterScoringFunction(scorer)
	reg.RegisterResolveGroundTruth(resolver)
	if err := reg.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}

	agg := reg.AggregateSnapshot()
	doc, err := agg([]store.Score{{Value: 1}, {Value: 3}})
	if err != nil {
		t.Fatalf("AggregateSnapshot: %v", err)
	}
	var out map[string]float64
	if err := json.Unmarshal(doc, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["mean_value"] != 2 {
		t.Fatalf("mean_value = %v, want 2", out["mean_value"])
	}
}

func TestBuildEmissionNilWhenUnregistered(t *testing.T) {
	reg := contract.NewRegistry()
	builder, validator, scorer, resolver := requiredSlotFuncs()
	reg.RegisterInferenceInputBuilder(builder)
	reg.RegisterInferenceOutputValidator(validator)
	reg.RegisterScoringFunction(scorer)
	reg.RegisterResolveGroundTruth(resolver)
	if err := reg.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	if reg.BuildEmission() != nil {
		t.Fatal("expected BuildEmission() to be nil when no custom emission was registered")
	}
}

func TestRegisterAfterFreezePanics(t *testing.T) {
	reg := contract.NewRegistry()
	builder, validator, scorer, resolver := requiredSlotFuncs()
	reg.RegisterInferenceInputBuilder(builder)
	reg.RegisterInferenceOutputValidator(validator)
	reg.RegisterScoringFunction(scorer)
	reg.RegisterResolveGroundTruth(resolver)
	if err := reg.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected registering a slot on a frozen Registry to panic")
		}
	}()
	reg.RegisterInferenceInputBuilder(builder)
}

func TestAccessingUnfrozenRegistryPanics(t *testing.T) {
	reg := contract.NewRegistry()
	defer func() {
		if recover() == nil {
			t.Fatal("expected accessing an unfrozen Registry to panic")
		}
	}()
	reg.ScoringFunction()
}

func TestMetricLookup(t *testing.T) {
	reg := contract.NewRegistry()
	builder, validator, scorer, resolver := requiredSlotFuncs()
	reg.RegisterInferenceInputBuilder(builder)
	reg.RegisterInferenceOutputValidator(validator)
	reg.RegisterScoringFunction(scorer)
	reg.RegisterResolveGroundTruth(resolver)
	reg.RegisterMetric("custom_metric", func(ctx contract.MetricsContext) (float64, error) { return 7, nil })
	if err := reg.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}

	fn, ok := reg.Metric("custom_metric")
	if !ok {
		t.Fatal("expected custom_metric to be registered")
	}
	v, err := fn(contract.MetricsContext{})
	if err != nil {
		t.Fatalf("custom_metric: %v", err)
	}
	if v != 7 {
		t.Fatalf("custom_metric = %v, want 7", v)
	}

	if _, ok := reg.Metric("never_registered"); ok {
		t.Fatal("expected an unregistered metric name to report not-found")
	}
}
