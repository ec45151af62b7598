package store_test

import (
	"testing"
	"time"

	"github.com/predictcoord/coordinator/internal/store"
)

func newTestCheckpoint(start, end time.Time) store.Checkpoint {
	return store.Checkpoint{
		PeriodStart: start,
		PeriodEnd:   end,
		MerkleRoot:  "root-hash",
		Emission: store.EmissionPayload{
			Crunch: "demo",
			CruncherRewards: []store.CruncherReward{
				{CruncherIndex: 0, ModelID: "model_1", RewardPct: 1_000_000_000},
			},
		},
	}
}

func TestCheckpointLifecycle(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	cp := newTestCheckpoint(now, now.Add(time.Hour))

	if err := s.CreateCheckpointTx(cp, nil); err != nil {
		t.Fatalf("CreateCheckpointTx: %v", err)
	}

	got, err := s.LatestCheckpoint()
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if got == nil {
		t.Fatal("LatestCheckpoint = nil, want the just-created checkpoint")
	}
	if got.Status != store.CheckpointPending {
		t.Fatalf("status = %q, want PENDING", got.Status)
	}
	if len(got.Emission.CruncherRewards) != 1 || got.Emission.CruncherRewards[0].RewardPct != 1_000_000_000 {
		t.Fatalf("emission not round-tripped: %+v", got.Emission)
	}

	if err := s.SubmitCheckpoint(got.ID, "0xdeadbeef"); err != nil {
		t.Fatalf("SubmitCheckpoint: %v", err)
	}
	if err := s.SubmitCheckpoint(got.ID, "0xdeadbeef"); err == nil {
		t.Fatal("expected second SubmitCheckpoint to fail the status guard")
	}

	if err := s.ConfirmCheckpoint(got.ID); err != nil {
		t.Fatalf("ConfirmCheckpoint: %v", err)
	}
	if err := s.MarkCheckpointPaid(got.ID); err != nil {
		t.Fatalf("MarkCheckpointPaid: %v", err)
	}

	final, err := s.GetCheckpoint(got.ID)
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	if final.Status != store.CheckpointPaid {
		t.Fatalf("final status = %q, want PAID", final.Status)
	}
	if final.TxHash == nil || *final.TxHash != "0xdeadbeef" {
		t.Fatalf("TxHash = %v, want 0xdeadbeef", final.TxHash)
	}
}

func TestCheckpointsPagePaginates(t *testing.T) {
	s := testStore(t)
	now := time.Now()
	for i := 0; i < 3; i++ {
		cp := newTestCheckpoint(now, now.Add(time.Duration(i+1)*time.Hour))
		if err := s.CreateCheckpointTx(cp, nil); err != nil {
			t.Fatalf("CreateCheckpointTx[%d]: %v", i, err)
		}
	}

	page, err := s.CheckpointsPage("", 2)
	if err != nil {
		t.Fatalf("CheckpointsPage: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d checkpoints, want 2", len(page))
	}
}
