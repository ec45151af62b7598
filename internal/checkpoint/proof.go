package checkpoint

import (
	"fmt"

	"github.com/predictcoord/coordinator/internal/merkle"
	"github.com/predictcoord/coordinator/internal/store"
)

// Proof is the inclusion proof returned for one snapshot_id: its content
// hash, the cycle it landed in and that cycle's snapshots root (where the
// cycle-tree hops end), and, once a later Checkpoint build has swept that
// cycle up, the checkpoint's ID and second-level root plus the extra path
// hops to get there: one chaining hop (the previous cycle's root, on the
// left) up to the cycle's chained root, then the checkpoint tree's hops.
type Proof struct {
	SnapshotContentHash string             `json:"snapshot_content_hash"`
	CycleID             string             `json:"cycle_id"`
	CycleRoot           string             `json:"cycle_root"`
	CheckpointID        string             `json:"checkpoint_id,omitempty"`
	MerkleRoot          string             `json:"merkle_root,omitempty"`
	Path                []merkle.ProofStep `json:"path"`
}

// ProofFor builds the inclusion proof for snapshotID: it walks the
// snapshot's leaf up its MerkleCycle's tree, and, if that cycle's chained
// root has already been swept into a Checkpoint, continues the path up the
// checkpoint's second-level tree.
func ProofFor(s *store.Store, snapshotID string) (*Proof, error) {
	leaf, err := s.LeafNodeForSnapshot(snapshotID)
	if err != nil {
		return nil, fmt.Errorf("lookup snapshot leaf: %w", err)
	}
	if leaf == nil || leaf.CycleID == nil {
		return nil, fmt.Errorf("checkpoint: no cycle leaf found for snapshot %q", snapshotID)
	}
	if leaf.SnapshotContentHash == nil {
		return nil, fmt.Errorf("checkpoint: leaf for snapshot %q missing content hash", snapshotID)
	}

	cycleNodes, err := s.MerkleNodesForCycle(*leaf.CycleID)
	if err != nil {
		return nil, fmt.Errorf("load cycle nodes: %w", err)
	}
	cyclePath, err := merkle.Proof(toMerkleNodes(cycleNodes), leaf.Position)
	if err != nil {
		return nil, fmt.Errorf("build cycle inclusion proof: %w", err)
	}
	cycleRoot, err := cycleRootHash(cycleNodes)
	if err != nil {
		return nil, err
	}

	proof := &Proof{
		SnapshotContentHash: *leaf.SnapshotContentHash,
		CycleID:             *leaf.CycleID,
		CycleRoot:           cycleRoot,
		Path:                cyclePath,
	}

	// The checkpoint's second-level tree is built over each cycle's
	// chained_root (builder.go), not its snapshots_root, so the checkpoint
	// leaf lookup must key on the cycle's chained_root rather than the
	// value just proven into (cycleRoot above).
	cycle, err := s.MerkleCycleByID(*leaf.CycleID)
	if err != nil {
		return nil, fmt.Errorf("load cycle for chained root: %w", err)
	}
	chainedRoot := cycle.ChainedRoot

	cp, err := s.CheckpointForCycle(chainedRoot)
	if err != nil {
		return nil, fmt.Errorf("lookup checkpoint for cycle root: %w", err)
	}
	if cp == nil {
		return proof, nil
	}

	cpLeaf, err := s.CheckpointLeafForCycleRoot(cp.ID, chainedRoot)
	if err != nil {
		return nil, fmt.Errorf("lookup checkpoint leaf: %w", err)
	}
	if cpLeaf == nil {
		return proof, nil
	}

	checkpointNodes, err := s.MerkleNodesForCheckpoint(cp.ID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint nodes: %w", err)
	}
	checkpointPath, err := merkle.Proof(toMerkleNodes(checkpointNodes), cpLeaf.Position)
	if err != nil {
		return nil, fmt.Errorf("build checkpoint inclusion proof: %w", err)
	}

	proof.CheckpointID = cp.ID
	proof.MerkleRoot = cp.MerkleRoot
	prevRoot := ""
	if cycle.PreviousCycleRoot != nil {
		prevRoot = *cycle.PreviousCycleRoot
	}
	proof.Path = append(proof.Path, merkle.ProofStep{Hash: prevRoot, Position: "left"})
	proof.Path = append(proof.Path, checkpointPath...)
	return proof, nil
}

// cycleRootHash returns the single level-0-rooted tree's top hash: the
// highest level present in nodes, position 0. A one-leaf cycle's root is
// that leaf's own hash (merkle.Build never adds internal levels for a
// single leaf).
func cycleRootHash(nodes []store.MerkleNode) (string, error) {
	var maxLevel uint32
	seen := false
	for _, n := range nodes {
		if !seen || n.Level > maxLevel {
			maxLevel = n.Level
			seen = true
		}
	}
	for _, n := range nodes {
		if n.Level == maxLevel && n.Position == 0 {
			return n.Hash, nil
		}
	}
	return "", fmt.Errorf("checkpoint: no root node found among %d nodes", len(nodes))
}

func toMerkleNodes(nodes []store.MerkleNode) []merkle.Node {
	out := make([]merkle.Node, len(nodes))
	for i, n := range nodes {
		out[i] = merkle.Node{Level: n.Level, Position: n.Position, Hash: n.Hash, Left: n.LeftChild, Right: n.RightChild}
	}
	return out
}
