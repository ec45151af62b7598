package metrics

import "testing"

func TestHitRatePerfectAgreement(t *testing.T) {
	ctx := Context{Signals: []float64{1, -1, 1, -1}, Realized: []float64{0.1, -0.2, 0.3, -0.4}}
	v, err := HitRate(ctx)
	if err != nil {
		t.Fatalf("HitRate: %v", err)
	}
	if v != 1 {
		t.Fatalf("hit rate = %v, want 1", v)
	}
}

func TestHitRateZeroAgreement(t *testing.T) {
	ctx := Context{Signals: []float64{1, 1}, Realized: []float64{-0.1, -0.2}}
	v, err := HitRate(ctx)
	if err != nil {
		t.Fatalf("HitRate: %v", err)
	}
	if v != 0 {
		t.Fatalf("hit rate = %v, want 0", v)
	}
}

func TestHitRateUndefinedOnEmptyWindow(t *testing.T) {
	if _, err := HitRate(Context{}); err == nil {
		t.Fatal("expected HitRate to be undefined for an empty window")
	}
}

func TestMeanReturn(t *testing.T) {
	v, err := MeanReturn(Context{Realized: []float64{1, 2, 3}})
	if err != nil {
		t.Fatalf("MeanReturn: %v", err)
	}
	if v != 2 {
		t.Fatalf("mean return = %v, want 2", v)
	}
}

func TestMaxDrawdown(t *testing.T) {
	v, err := MaxDrawdown(Context{Realized: []float64{1, 1, -3, 1}})
	if err != nil {
		t.Fatalf("MaxDrawdown: %v", err)
	}
	if v != 3 {
		t.Fatalf("max drawdown = %v, want 3 (peak of 2 down to -1)", v)
	}
}

func TestSortinoRatioUndefinedWithoutDownside(t *testing.T) {
	if _, err := SortinoRatio(Context{Realized: []float64{1, 2, 3}}); err == nil {
		t.Fatal("expected SortinoRatio to be undefined with fewer than 2 negative returns")
	}
}

func TestTurnoverConstantSignalIsZero(t *testing.T) {
	v, err := Turnover(Context{Signals: []float64{0.5, 0.5, 0.5}})
	if err != nil {
		t.Fatalf("Turnover: %v", err)
	}
	if v != 0 {
		t.Fatalf("turnover = %v, want 0 for a constant signal", v)
	}
}

func TestTurnoverUndefinedBelowTwoSignals(t *testing.T) {
	if _, err := Turnover(Context{Signals: []float64{0.5}}); err == nil {
		t.Fatal("expected Turnover to be undefined with fewer than 2 signals")
	}
}

func TestICPerfectRankAgreement(t *testing.T) {
	v, err := IC(Context{Signals: []float64{1, 2, 3, 4}, Realized: []float64{10, 20, 30, 40}})
	if err != nil {
		t.Fatalf("IC: %v", err)
	}
	if v < 0.99 {
		t.Fatalf("IC = %v, want ~1 for perfectly rank-agreeing series", v)
	}
}

func TestICUndefinedOnMismatchedLengths(t *testing.T) {
	if _, err := IC(Context{Signals: []float64{1, 2}, Realized: []float64{1}}); err == nil {
		t.Fatal("expected IC to be undefined for mismatched lengths")
	}
}

func TestModelCorrelationUndefinedWithOnlyOneModel(t *testing.T) {
	ctx := Context{
		ModelID:         "model_1",
		AllModelSignals: map[string][]float64{"model_1": {1, 2, 3}},
	}
	if _, err := ModelCorrelation(ctx); err == nil {
		t.Fatal("expected ModelCorrelation to be undefined with only one model in the window")
	}
}

func TestModelCorrelationAgainstIdenticalPeer(t *testing.T) {
	ctx := Context{
		ModelID: "model_1",
		AllModelSignals: map[string][]float64{
			"model_1": {1, 2, 3, 4},
			"model_2": {1, 2, 3, 4},
		},
	}
	v, err := ModelCorrelation(ctx)
	if err != nil {
		t.Fatalf("ModelCorrelation: %v", err)
	}
	if v < 0.99 {
		t.Fatalf("ModelCorrelation = %v, want ~1 against an identical peer", v)
	}
}

func TestEnsembleCorrelationUndefinedWithoutConsensus(t *testing.T) {
	ctx := Context{ModelID: "model_1", AllModelSignals: map[string][]float64{"model_1": {1, 2, 3}}}
	if _, err := EnsembleCorrelation(ctx); err == nil {
		t.Fatal("expected EnsembleCorrelation to be undefined without ensemble consensus signals")
	}
}

func TestEnsembleCorrelationAgainstMatchingConsensus(t *testing.T) {
	ctx := Context{
		ModelID:         "model_1",
		AllModelSignals: map[string][]float64{"model_1": {1, 2, 3, 4}},
		EnsembleSignals: map[string][]float64{"__consensus__": {1, 2, 3, 4}},
	}
	v, err := EnsembleCorrelation(ctx)
	if err != nil {
		t.Fatalf("EnsembleCorrelation: %v", err)
	}
	if v < 0.99 {
		t.Fatalf("EnsembleCorrelation = %v, want ~1 against identical consensus", v)
	}
}

func TestFNCUndefinedWithoutConsensus(t *testing.T) {
	ctx := Context{ModelID: "model_1", AllModelSignals: map[string][]float64{"model_1": {1, 2, 3}}}
	if _, err := FNC(ctx); err == nil {
		t.Fatal("expected FNC to be undefined without ensemble consensus")
	}
}

func TestContributionUndefinedWithSingleModel(t *testing.T) {
	ctx := Context{
		ModelID:         "model_1",
		AllModelSignals: map[string][]float64{"model_1": {1, 2}},
		EnsembleSignals: map[string][]float64{"__consensus__": {1, 2}},
		Realized:        []float64{0.1, 0.2},
	}
	if _, err := Contribution(ctx); err == nil {
		t.Fatal("expected Contribution to be undefined with fewer than 2 contributing models")
	}
}
