package score

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCanonicalHashIsDeterministic(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	summary, _ := json.Marshal(map[string]float64{"mean_value": 0.5, "hit_rate": 1})

	h1, err := canonicalHash("model_1", start, end, 3, summary)
	if err != nil {
		t.Fatalf("canonicalHash: %v", err)
	}
	h2, err := canonicalHash("model_1", start, end, 3, summary)
	if err != nil {
		t.Fatalf("canonicalHash: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("canonicalHash is not deterministic: %q != %q", h1, h2)
	}

	reordered, _ := json.Marshal(map[string]float64{"hit_rate": 1, "mean_value": 0.5})
	h3, err := canonicalHash("model_1", start, end, 3, reordered)
	if err != nil {
		t.Fatalf("canonicalHash: %v", err)
	}
	if h1 != h3 {
		t.Fatalf("canonicalHash should be insensitive to input key order: %q != %q", h1, h3)
	}
}

func TestCanonicalHashDiffersOnPredictionCount(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	summary, _ := json.Marshal(map[string]float64{"mean_value": 0.5})

	h1, err := canonicalHash("model_1", start, end, 3, summary)
	if err != nil {
		t.Fatalf("canonicalHash: %v", err)
	}
	h2, err := canonicalHash("model_1", start, end, 4, summary)
	if err != nil {
		t.Fatalf("canonicalHash: %v", err)
	}
	if h1 == h2 {
		t.Fatal("expected differing prediction counts to produce different hashes")
	}
}

func TestCanonicalHashHandlesEmptySummary(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := canonicalHash("model_1", start, start, 0, nil); err != nil {
		t.Fatalf("canonicalHash with nil summary: %v", err)
	}
}
