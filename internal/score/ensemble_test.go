package score

import (
	"testing"

	"github.com/predictcoord/coordinator/internal/store"
)

func TestFilterMembersEmptyFilterSelectsAllActive(t *testing.T) {
	groups := map[string][]store.Prediction{
		"model_1": {{}},
		"model_2": {{}},
	}
	got := filterMembers(groups, nil, "")
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 active members", got)
	}
}

func TestFilterMembersTopN(t *testing.T) {
	groups := map[string][]store.Prediction{
		"model_1": {{}},
		"model_2": {{}},
		"model_3": {{}},
	}
	lb := &store.Leaderboard{Entries: []store.LeaderboardEntry{
		{Rank: 1, ModelID: "model_2"},
		{Rank: 2, ModelID: "model_1"},
		{Rank: 3, ModelID: "model_3"},
	}}
	got := filterMembers(groups, lb, "top_n(2)")
	if len(got) != 2 || got[0] != "model_2" || got[1] != "model_1" {
		t.Fatalf("top_n(2) = %v, want [model_2 model_1]", got)
	}
}

func TestFilterMembersMinMetric(t *testing.T) {
	groups := map[string][]store.Prediction{
		"model_1": {{}},
		"model_2": {{}},
	}
	lb := &store.Leaderboard{Entries: []store.LeaderboardEntry{
		{ModelID: "model_1", Metrics: map[string]float64{"hit_rate": 0.8}},
		{ModelID: "model_2", Metrics: map[string]float64{"hit_rate": 0.3}},
	}}
	got := filterMembers(groups, lb, "min_metric(hit_rate, 0.5)")
	if len(got) != 1 || got[0] != "model_1" {
		t.Fatalf("min_metric filter = %v, want [model_1]", got)
	}
}

func TestFilterMembersExcludesEnsembleModels(t *testing.T) {
	groups := map[string][]store.Prediction{
		"model_1":                    {{}},
		store.EnsembleModelID("avg"): {{}},
	}
	got := filterMembers(groups, nil, "")
	if len(got) != 1 || got[0] != "model_1" {
		t.Fatalf("got %v, want only the real model", got)
	}
}

func TestWeightMembersEqualWeight(t *testing.T) {
	weights := weightMembers(nil, []string{"a", "b", "c"}, "equal_weight")
	var sum float64
	for _, w := range weights {
		sum += w
		if w != weights["a"] {
			t.Fatalf("expected equal weights, got %v", weights)
		}
	}
	if diff := sum - 1; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("weights sum to %v, want 1", sum)
	}
}

func TestWeightMembersInverseVariance(t *testing.T) {
	groups := map[string][]store.Prediction{
		"stable":   {{Score: &store.Score{Value: 0.5}}, {Score: &store.Score{Value: 0.5}}, {Score: &store.Score{Value: 0.5}}},
		"volatile": {{Score: &store.Score{Value: -1}}, {Score: &store.Score{Value: 1}}, {Score: &store.Score{Value: -1}}},
	}
	weights := weightMembers(groups, []string{"stable", "volatile"}, "inverse_variance")
	if weights["stable"] <= weights["volatile"] {
		t.Fatalf("expected the lower-variance model to get more weight: %v", weights)
	}
	sum := weights["stable"] + weights["volatile"]
	if diff := sum - 1; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("weights sum to %v, want 1", sum)
	}
}

func TestWeightMembersInverseVarianceFallsBackWhenDegenerate(t *testing.T) {
	weights := weightMembers(map[string][]store.Prediction{}, []string{"a", "b"}, "inverse_variance")
	if weights["a"] != weights["b"] {
		t.Fatalf("expected equal fallback weights with no score data, got %v", weights)
	}
}
