package checkpoint_test

import (
	"testing"

	"github.com/predictcoord/coordinator/internal/checkpoint"
	"github.com/predictcoord/coordinator/internal/merkle"
	"github.com/predictcoord/coordinator/internal/store"
)

func testCheckpointStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.NewStore(db)
}

func TestProofForUncommittedCycle(t *testing.T) {
	s := testCheckpointStore(t)

	sn1 := store.Snapshot{ID: store.NewSnapshotID(), ModelID: "model_1", ContentHash: merkle.HashBytes([]byte("hash-1"))}
	sn2 := store.Snapshot{ID: store.NewSnapshotID(), ModelID: "model_2", ContentHash: merkle.HashBytes([]byte("hash-2"))}
	if _, err := s.PutSnapshot(sn1); err != nil {
		t.Fatalf("PutSnapshot(sn1): %v", err)
	}
	if _, err := s.PutSnapshot(sn2); err != nil {
		t.Fatalf("PutSnapshot(sn2): %v", err)
	}

	leaves := []string{sn1.ContentHash, sn2.ContentHash}
	root, nodes, err := merkle.Build(leaves)
	if err != nil {
		t.Fatalf("merkle.Build: %v", err)
	}

	cycle := store.MerkleCycle{ID: store.NewCycleID(), SnapshotsRoot: root, ChainedRoot: root, SnapshotCount: 2}
	storeNodes := make([]store.MerkleNode, 0, len(nodes))
	for _, n := range nodes {
		sNode := store.MerkleNode{CycleID: &cycle.ID, Level: n.Level, Position: n.Position, Hash: n.Hash, LeftChild: n.Left, RightChild: n.Right}
		if n.Level == 0 {
			if n.Position == 0 {
				sNode.SnapshotID, sNode.SnapshotContentHash = &sn1.ID, &sn1.ContentHash
			} else {
				sNode.SnapshotID, sNode.SnapshotContentHash = &sn2.ID, &sn2.ContentHash
			}
		}
		storeNodes = append(storeNodes, sNode)
	}
	if err := s.PutMerkleCycleTx(cycle, storeNodes); err != nil {
		t.Fatalf("PutMerkleCycleTx: %v", err)
	}

	proof, err := checkpoint.ProofFor(s, sn1.ID)
	if err != nil {
		t.Fatalf("ProofFor: %v", err)
	}
	if proof.CycleID != cycle.ID {
		t.Errorf("CycleID = %q, want %q", proof.CycleID, cycle.ID)
	}
	if proof.CycleRoot != root {
		t.Errorf("CycleRoot = %q, want %q", proof.CycleRoot, root)
	}
	if proof.CheckpointID != "" {
		t.Errorf("CheckpointID = %q, want empty before any checkpoint sweeps this cycle", proof.CheckpointID)
	}
	if len(proof.Path) != 1 {
		t.Fatalf("path length = %d, want 1 for a 2-leaf tree", len(proof.Path))
	}
}

// putCycle commits a one-snapshot MerkleCycle and returns it, with
// SnapshotsRoot and ChainedRoot distinct (chained_root always chains in the
// previous cycle's root, even for the first cycle, so it never equals the
// bare snapshots_root).
func putCycle(t *testing.T, s *store.Store, sn store.Snapshot) store.MerkleCycle {
	t.Helper()
	snapshotsRoot, nodes, err := merkle.Build([]string{sn.ContentHash})
	if err != nil {
		t.Fatalf("merkle.Build: %v", err)
	}

	prev, err := s.LatestMerkleCycle()
	if err != nil {
		t.Fatalf("LatestMerkleCycle: %v", err)
	}
	prevRoot := ""
	var prevIDPtr, prevRootPtr *string
	if prev != nil {
		prevRoot = prev.ChainedRoot
		prevIDPtr, prevRootPtr = &prev.ID, &prevRoot
	}
	chainedRoot, err := merkle.Combine(prevRoot, snapshotsRoot)
	if err != nil {
		t.Fatalf("merkle.Combine: %v", err)
	}

	cycle := store.MerkleCycle{
		ID:                store.NewCycleID(),
		PreviousCycleID:   prevIDPtr,
		PreviousCycleRoot: prevRootPtr,
		SnapshotsRoot:     snapshotsRoot,
		ChainedRoot:       chainedRoot,
		SnapshotCount:     1,
	}
	storeNodes := make([]store.MerkleNode, 0, len(nodes))
	for _, n := range nodes {
		sNode := store.MerkleNode{CycleID: &cycle.ID, Level: n.Level, Position: n.Position, Hash: n.Hash, LeftChild: n.Left, RightChild: n.Right}
		if n.Level == 0 {
			sNode.SnapshotID, sNode.SnapshotContentHash = &sn.ID, &sn.ContentHash
		}
		storeNodes = append(storeNodes, sNode)
	}
	if err := s.PutMerkleCycleTx(cycle, storeNodes); err != nil {
		t.Fatalf("PutMerkleCycleTx: %v", err)
	}
	return cycle
}

// TestProofForCheckpointedCycle reproduces the non-degenerate case: the
// checkpoint's second-level tree is built over cycles' chained_root values,
// which never equal those cycles' snapshots_root, so locating the
// checkpoint leaf must key on chained_root rather than the value the proof
// already extended to at the cycle level.
func TestProofForCheckpointedCycle(t *testing.T) {
	s := testCheckpointStore(t)

	sn1 := store.Snapshot{ID: store.NewSnapshotID(), ModelID: "model_1", ContentHash: merkle.HashBytes([]byte("hash-1"))}
	sn2 := store.Snapshot{ID: store.NewSnapshotID(), ModelID: "model_2", ContentHash: merkle.HashBytes([]byte("hash-2"))}
	for _, sn := range []store.Snapshot{sn1, sn2} {
		if _, err := s.PutSnapshot(sn); err != nil {
			t.Fatalf("PutSnapshot(%s): %v", sn.ID, err)
		}
	}

	cycle1 := putCycle(t, s, sn1)
	cycle2 := putCycle(t, s, sn2)
	if cycle1.SnapshotsRoot == cycle1.ChainedRoot {
		t.Fatal("fixture invalid: chained_root must differ from snapshots_root")
	}

	checkpointLeaves := []string{cycle1.ChainedRoot, cycle2.ChainedRoot}
	checkpointRoot, checkpointNodes, err := merkle.Build(checkpointLeaves)
	if err != nil {
		t.Fatalf("merkle.Build(checkpoint): %v", err)
	}
	storeCpNodes := make([]store.MerkleNode, 0, len(checkpointNodes))
	for _, n := range checkpointNodes {
		storeCpNodes = append(storeCpNodes, store.MerkleNode{Level: n.Level, Position: n.Position, Hash: n.Hash, LeftChild: n.Left, RightChild: n.Right})
	}
	cp := store.Checkpoint{MerkleRoot: checkpointRoot}
	if err := s.CreateCheckpointTx(cp, storeCpNodes); err != nil {
		t.Fatalf("CreateCheckpointTx: %v", err)
	}
	got, err := s.LatestCheckpoint()
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}

	proof, err := checkpoint.ProofFor(s, sn1.ID)
	if err != nil {
		t.Fatalf("ProofFor: %v", err)
	}
	if proof.CycleID != cycle1.ID {
		t.Errorf("CycleID = %q, want %q", proof.CycleID, cycle1.ID)
	}
	if proof.CycleRoot != cycle1.SnapshotsRoot {
		t.Errorf("CycleRoot = %q, want cycle's snapshots_root %q", proof.CycleRoot, cycle1.SnapshotsRoot)
	}
	if proof.CheckpointID != got.ID {
		t.Fatalf("CheckpointID = %q, want %q (checkpoint leaf lookup must key on chained_root)", proof.CheckpointID, got.ID)
	}
	if proof.MerkleRoot != checkpointRoot {
		t.Errorf("MerkleRoot = %q, want %q", proof.MerkleRoot, checkpointRoot)
	}
	if len(proof.Path) != 2 {
		t.Fatalf("path length = %d, want 2 (single-leaf cycle tree contributes no hops, the chaining hop contributes 1, checkpoint tree contributes 1)", len(proof.Path))
	}

	// Recompute the root from the leaf and proof path to confirm the path
	// actually verifies end to end against the checkpoint's merkle_root.
	h := sn1.ContentHash
	for _, step := range proof.Path {
		var err error
		if step.Position == "left" {
			h, err = merkle.Combine(step.Hash, h)
		} else {
			h, err = merkle.Combine(h, step.Hash)
		}
		if err != nil {
			t.Fatalf("merkle.Combine: %v", err)
		}
	}
	if h != checkpointRoot {
		t.Errorf("recomputed root = %q, want checkpoint merkle_root %q", h, checkpointRoot)
	}
}
