package checkpoint_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/predictcoord/coordinator/internal/builtins"
	"github.com/predictcoord/coordinator/internal/checkpoint"
	"github.com/predictcoord/coordinator/internal/contract"
	"github.com/predictcoord/coordinator/internal/merkle"
	"github.com/predictcoord/coordinator/internal/store"
)

func testRegistry(t *testing.T) *contract.Registry {
	t.Helper()
	reg := contract.NewRegistry()
	reg.RegisterInferenceInputBuilder(builtins.WindowedSignalV1)
	reg.RegisterInferenceOutputValidator(builtins.DirectionV1)
	reg.RegisterScoringFunction(builtins.DirectionVsReturnV1)
	reg.RegisterResolveGroundTruth(builtins.CloseToCloseV1)
	if err := reg.Freeze(); err != nil {
		t.Fatalf("Freeze: %v", err)
	}
	return reg
}

func TestBuilderSkipsEmptyWindow(t *testing.T) {
	s := testCheckpointStore(t)
	reg := testRegistry(t)
	b := checkpoint.NewBuilder(s, reg, contract.Config{}, "demo", nil)

	report, err := b.Build(time.Now())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !report.Skipped {
		t.Fatal("expected a checkpoint build with zero merkle cycles to be skipped")
	}
}

func TestBuilderBuildsFromMerkleCycles(t *testing.T) {
	s := testCheckpointStore(t)
	reg := testRegistry(t)
	b := checkpoint.NewBuilder(s, reg, contract.Config{}, "demo", nil)

	now := time.Now()
	summary1, _ := json.Marshal(map[string]float64{"mean_value": 0.8})
	summary2, _ := json.Marshal(map[string]float64{"mean_value": 0.2})
	hash1 := merkle.HashBytes([]byte("h1"))
	hash2 := merkle.HashBytes([]byte("h2"))
	if _, err := s.PutSnapshot(store.Snapshot{ModelID: "model_1", PeriodStart: now, PeriodEnd: now.Add(time.Hour), PredictionCount: 10, ResultSummary: summary1, ContentHash: hash1}); err != nil {
		t.Fatalf("PutSnapshot(model_1): %v", err)
	}
	if _, err := s.PutSnapshot(store.Snapshot{ModelID: "model_2", PeriodStart: now, PeriodEnd: now.Add(time.Hour), PredictionCount: 10, ResultSummary: summary2, ContentHash: hash2}); err != nil {
		t.Fatalf("PutSnapshot(model_2): %v", err)
	}

	root, nodes, err := merkle.Build([]string{hash1, hash2})
	if err != nil {
		t.Fatalf("merkle.Build: %v", err)
	}
	chained, err := merkle.Combine(merkle.HashBytes(nil), root)
	if err != nil {
		t.Fatalf("merkle.Combine: %v", err)
	}
	cycle := store.MerkleCycle{ID: store.NewCycleID(), SnapshotsRoot: root, ChainedRoot: chained, SnapshotCount: 2}
	storeNodes := make([]store.MerkleNode, 0, len(nodes))
	for _, n := range nodes {
		storeNodes = append(storeNodes, store.MerkleNode{CycleID: &cycle.ID, Level: n.Level, Position: n.Position, Hash: n.Hash, LeftChild: n.Left, RightChild: n.Right})
	}
	if err := s.PutMerkleCycleTx(cycle, storeNodes); err != nil {
		t.Fatalf("PutMerkleCycleTx: %v", err)
	}

	report, err := b.Build(now.Add(2 * time.Hour))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if report.Skipped {
		t.Fatal("expected the checkpoint build to run with one merkle cycle present")
	}
	if report.CycleCount != 1 {
		t.Errorf("cycle count = %d, want 1", report.CycleCount)
	}
	if report.ModelCount != 2 {
		t.Errorf("model count = %d, want 2", report.ModelCount)
	}

	got, err := s.GetCheckpoint(report.CheckpointID)
	if err != nil {
		t.Fatalf("GetCheckpoint: %v", err)
	}
	var sum uint64
	for _, r := range got.Emission.CruncherRewards {
		sum += r.RewardPct
	}
	if sum != checkpoint.FracDenominator {
		t.Fatalf("emission sum = %d, want %d", sum, checkpoint.FracDenominator)
	}
	// model_1 ranks first (higher mean_value) and should out-earn model_2.
	var r1, r2 uint64
	for _, r := range got.Emission.CruncherRewards {
		switch r.ModelID {
		case "model_1":
			r1 = r.RewardPct
		case "model_2":
			r2 = r.RewardPct
		}
	}
	if r1 <= r2 {
		t.Fatalf("model_1 reward %d should exceed model_2 reward %d", r1, r2)
	}
}
