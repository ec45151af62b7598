package store_test

import (
	"testing"

	"github.com/predictcoord/coordinator/internal/store"
)

func TestPutModelUpserts(t *testing.T) {
	s := testStore(t)
	m := store.Model{ID: "model_1", Name: "alpha"}
	if err := s.PutModel(m); err != nil {
		t.Fatalf("PutModel: %v", err)
	}

	score := 0.75
	m.Name = "alpha-v2"
	m.OverallScore = &score
	if err := s.PutModel(m); err != nil {
		t.Fatalf("PutModel upsert: %v", err)
	}

	got, err := s.GetModel("model_1")
	if err != nil {
		t.Fatalf("GetModel: %v", err)
	}
	if got.Name != "alpha-v2" {
		t.Errorf("name = %q, want alpha-v2", got.Name)
	}
	if got.OverallScore == nil || *got.OverallScore != 0.75 {
		t.Errorf("overall score = %v, want 0.75", got.OverallScore)
	}
}

func TestListModelsOrdersByID(t *testing.T) {
	s := testStore(t)
	for _, id := range []string{"model_b", "model_a"} {
		if err := s.PutModel(store.Model{ID: id, Name: id}); err != nil {
			t.Fatalf("PutModel(%s): %v", id, err)
		}
	}

	got, err := s.ListModels()
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(got) != 2 || got[0].ID != "model_a" || got[1].ID != "model_b" {
		t.Fatalf("ListModels = %+v, want [model_a model_b]", got)
	}
}

func TestEnsembleModelID(t *testing.T) {
	id := store.EnsembleModelID("momentum")
	if !store.IsEnsembleModelID(id) {
		t.Fatalf("IsEnsembleModelID(%q) = false, want true", id)
	}
	if store.IsEnsembleModelID("model_1") {
		t.Fatal("IsEnsembleModelID(model_1) = true, want false")
	}
}

func TestLeaderboardRoundTrip(t *testing.T) {
	s := testStore(t)

	none, err := s.LatestLeaderboard()
	if err != nil {
		t.Fatalf("LatestLeaderboard (empty): %v", err)
	}
	if none != nil {
		t.Fatalf("LatestLeaderboard (empty) = %+v, want nil", none)
	}

	lb := store.Leaderboard{
		Entries: []store.LeaderboardEntry{
			{Rank: 1, ModelID: "model_1", Score: 0.9},
			{Rank: 2, ModelID: "model_2", Score: 0.4},
		},
	}
	if err := s.PutLeaderboard(lb); err != nil {
		t.Fatalf("PutLeaderboard: %v", err)
	}

	got, err := s.LatestLeaderboard()
	if err != nil {
		t.Fatalf("LatestLeaderboard: %v", err)
	}
	if got == nil || len(got.Entries) != 2 {
		t.Fatalf("LatestLeaderboard = %+v, want 2 entries", got)
	}
	if got.Entries[0].ModelID != "model_1" {
		t.Errorf("entries[0].ModelID = %q, want model_1", got.Entries[0].ModelID)
	}
}
