package metrics

import "testing"

func TestNewRegistryHasBuiltins(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{
		"ic", "ic_sharpe", "hit_rate", "mean_return", "max_drawdown",
		"sortino_ratio", "turnover", "model_correlation", "fnc",
		"contribution", "ensemble_correlation",
	} {
		if _, ok := r.fns[name]; !ok {
			t.Errorf("expected built-in metric %q to be registered", name)
		}
	}
}

func TestComputeOmitsUndefinedMetrics(t *testing.T) {
	r := NewRegistry()
	ctx := Context{Signals: []float64{1, -1}, Realized: []float64{0.1, -0.2}}
	got := r.Compute(ctx, []string{"hit_rate", "max_drawdown", "nonexistent_metric"})

	if _, ok := got["hit_rate"]; !ok {
		t.Error("expected hit_rate to be computed")
	}
	if _, ok := got["max_drawdown"]; !ok {
		t.Error("expected max_drawdown to be computed")
	}
	if _, ok := got["nonexistent_metric"]; ok {
		t.Error("expected an unregistered metric name to be silently omitted")
	}
}

func TestComputeOmitsMetricsThatErrorInsteadOfAborting(t *testing.T) {
	r := NewRegistry()
	ctx := Context{Signals: []float64{0.5}} // too short for turnover, which needs >= 2.
	got := r.Compute(ctx, []string{"turnover", "mean_return"})

	if _, ok := got["turnover"]; ok {
		t.Error("expected turnover to be omitted as undefined for a single-element window")
	}
	if _, ok := got["mean_return"]; ok {
		t.Error("expected mean_return to be omitted: Realized is empty")
	}
}

func TestRegisterOverridesBuiltin(t *testing.T) {
	r := NewRegistry()
	r.Register("hit_rate", func(ctx Context) (float64, error) { return 42, nil })
	got := r.Compute(Context{}, []string{"hit_rate"})
	if got["hit_rate"] != 42 {
		t.Fatalf("hit_rate = %v, want overridden value 42", got["hit_rate"])
	}
}
