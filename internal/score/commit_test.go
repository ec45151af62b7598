package score

import (
	"testing"
	"time"

	"github.com/predictcoord/coordinator/internal/merkle"
	"github.com/predictcoord/coordinator/internal/store"
)

func testCommitStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewStore(db)
}

func TestCommitCycleAlwaysCommitsEvenWithNoSnapshots(t *testing.T) {
	s := testCommitStore(t)
	e := &Engine{store: s}

	cycle, err := e.commitCycle(nil, time.Now())
	if err != nil {
		t.Fatalf("commitCycle: %v", err)
	}
	if cycle == nil {
		t.Fatal("expected a committed cycle even with zero snapshots")
	}
	if cycle.SnapshotCount != 0 {
		t.Fatalf("snapshot count = %d, want 0", cycle.SnapshotCount)
	}
	if cycle.PreviousCycleID != nil {
		t.Fatal("expected no previous cycle for the first commit")
	}
}

func TestCommitCycleChainsAgainstPreviousRoot(t *testing.T) {
	s := testCommitStore(t)
	e := &Engine{store: s}

	snap1 := []store.Snapshot{{ID: store.NewSnapshotID(), ModelID: "model_1", ContentHash: merkle.HashBytes([]byte("hash-1"))}}
	first, err := e.commitCycle(snap1, time.Now())
	if err != nil {
		t.Fatalf("commitCycle (first): %v", err)
	}

	snap2 := []store.Snapshot{{ID: store.NewSnapshotID(), ModelID: "model_1", ContentHash: merkle.HashBytes([]byte("hash-2"))}}
	second, err := e.commitCycle(snap2, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("commitCycle (second): %v", err)
	}

	if second.PreviousCycleID == nil || *second.PreviousCycleID != first.ID {
		t.Fatalf("PreviousCycleID = %v, want %q", second.PreviousCycleID, first.ID)
	}
	want, err := merkle.Combine(first.ChainedRoot, second.SnapshotsRoot)
	if err != nil {
		t.Fatalf("merkle.Combine: %v", err)
	}
	if second.ChainedRoot != want {
		t.Fatalf("ChainedRoot = %q, want %q", second.ChainedRoot, want)
	}
}
