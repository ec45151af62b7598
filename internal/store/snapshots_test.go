package store_test

import (
	"testing"
	"time"

	"github.com/predictcoord/coordinator/internal/store"
)

func TestPutSnapshotIsIdempotentOnModelPeriodEnd(t *testing.T) {
	s := testStore(t)
	start := time.Now()
	end := start.Add(time.Hour)
	sn := store.Snapshot{
		ID:              store.NewSnapshotID(),
		ModelID:         "model_1",
		PeriodStart:     start,
		PeriodEnd:       end,
		PredictionCount: 3,
		ContentHash:     "abc123",
	}

	inserted, err := s.PutSnapshot(sn)
	if err != nil {
		t.Fatalf("PutSnapshot: %v", err)
	}
	if !inserted {
		t.Fatal("first PutSnapshot should insert")
	}

	dup := sn
	dup.ID = store.NewSnapshotID()
	inserted, err = s.PutSnapshot(dup)
	if err != nil {
		t.Fatalf("PutSnapshot dup: %v", err)
	}
	if inserted {
		t.Fatal("duplicate (model_id, period_end) should not insert again")
	}
}

func TestSnapshotsForPeriodEnd(t *testing.T) {
	s := testStore(t)
	start := time.Now()
	end := start.Add(time.Hour)

	for _, modelID := range []string{"model_1", "model_2"} {
		sn := store.Snapshot{
			ID:          store.NewSnapshotID(),
			ModelID:     modelID,
			PeriodStart: start,
			PeriodEnd:   end,
			ContentHash: "hash-" + modelID,
		}
		if _, err := s.PutSnapshot(sn); err != nil {
			t.Fatalf("PutSnapshot(%s): %v", modelID, err)
		}
	}

	got, err := s.SnapshotsForPeriodEnd(store.FormatTime(end))
	if err != nil {
		t.Fatalf("SnapshotsForPeriodEnd: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(got))
	}
}

func TestLatestSnapshotPerModel(t *testing.T) {
	s := testStore(t)
	start := time.Now()

	older := store.Snapshot{ID: store.NewSnapshotID(), ModelID: "model_1", PeriodStart: start, PeriodEnd: start.Add(time.Hour), ContentHash: "h1"}
	newer := store.Snapshot{ID: store.NewSnapshotID(), ModelID: "model_1", PeriodStart: start.Add(time.Hour), PeriodEnd: start.Add(2 * time.Hour), ContentHash: "h2"}
	if _, err := s.PutSnapshot(older); err != nil {
		t.Fatalf("PutSnapshot older: %v", err)
	}
	if _, err := s.PutSnapshot(newer); err != nil {
		t.Fatalf("PutSnapshot newer: %v", err)
	}

	latest, err := s.LatestSnapshotPerModel()
	if err != nil {
		t.Fatalf("LatestSnapshotPerModel: %v", err)
	}
	if len(latest) != 1 {
		t.Fatalf("got %d rows, want 1", len(latest))
	}
	if latest[0].ContentHash != "h2" {
		t.Fatalf("latest content hash = %q, want h2", latest[0].ContentHash)
	}
}
