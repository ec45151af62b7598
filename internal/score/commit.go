package score

import (
	"fmt"
	"sort"
	"time"

	"github.com/predictcoord/coordinator/internal/merkle"
	"github.com/predictcoord/coordinator/internal/store"
)

// commitCycle implements Phase F: build the snapshots_root over this cycle's
// Snapshots (sorted by model_id), chain it against the previous cycle's
// root, and persist both the MerkleCycle and its witnessing MerkleNodes.
// A cycle is committed every tick, even with zero Snapshots, so the chain
// and the tick-window boundaries always advance together.
func (e *Engine) commitCycle(snapshots []store.Snapshot, now time.Time) (*store.MerkleCycle, error) {
	ordered := make([]store.Snapshot, len(snapshots))
	copy(ordered, snapshots)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ModelID < ordered[j].ModelID })

	leaves := make([]string, len(ordered))
	for i, sn := range ordered {
		leaves[i] = sn.ContentHash
	}

	snapshotsRoot, nodes, err := merkle.Build(leaves)
	if err != nil {
		return nil, fmt.Errorf("build snapshots merkle tree: %w", err)
	}

	prev, err := e.store.LatestMerkleCycle()
	if err != nil {
		return nil, fmt.Errorf("load latest merkle cycle: %w", err)
	}
	prevRoot := ""
	var prevIDPtr, prevRootPtr *string
	if prev != nil {
		prevRoot = prev.ChainedRoot
		prevIDPtr = &prev.ID
		prevRootPtr = &prevRoot
	}

	chainedRoot, err := merkle.Combine(prevRoot, snapshotsRoot)
	if err != nil {
		return nil, fmt.Errorf("chain cycle root: %w", err)
	}

	cycle := store.MerkleCycle{
		ID:                store.NewCycleID(),
		PreviousCycleID:   prevIDPtr,
		PreviousCycleRoot: prevRootPtr,
		SnapshotsRoot:     snapshotsRoot,
		ChainedRoot:       chainedRoot,
		SnapshotCount:     len(ordered),
	}

	storeNodes := make([]store.MerkleNode, 0, len(nodes))
	for _, n := range nodes {
		sn := store.MerkleNode{
			Level:     n.Level,
			Position:  n.Position,
			Hash:      n.Hash,
			LeftChild: n.Left,
			RightChild: n.Right,
		}
		if n.Level == 0 && int(n.Position) < len(ordered) {
			leaf := ordered[n.Position]
			sn.SnapshotID = &leaf.ID
			sn.SnapshotContentHash = &leaf.ContentHash
		}
		storeNodes = append(storeNodes, sn)
	}

	if err := e.store.PutMerkleCycleTx(cycle, storeNodes); err != nil {
		return nil, fmt.Errorf("persist merkle cycle: %w", err)
	}
	return &cycle, nil
}
