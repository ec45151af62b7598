// Package merkle builds pairwise-SHA256 Merkle trees over leaf hashes and
// reconstructs inclusion proofs, shared by the Score Engine's per-cycle
// commitment and the Checkpoint Builder's second-level tree.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/predictcoord/coordinator/internal/kv"
)

// Node is one position of a built tree, independent of how the caller
// persists it (store.MerkleNode attaches a CycleID or CheckpointID).
type Node struct {
	Level    uint32
	Position uint64
	Hash     string
	Left     *string
	Right    *string
}

// Combine hashes two hex-encoded digests together, the pairwise step used
// at every internal level and for the cross-cycle hash chain
// (chained_root = Combine(previous_cycle_root, snapshots_root)).
func Combine(left, right string) (string, error) {
	lb, err := hex.DecodeString(left)
	if err != nil {
		return "", fmt.Errorf("decode left digest: %w", err)
	}
	rb, err := hex.DecodeString(right)
	if err != nil {
		return "", fmt.Errorf("decode right digest: %w", err)
	}
	h := sha256.New()
	h.Write(lb)
	h.Write(rb)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the hex-encoded SHA256 digest of data; Build uses it for
// the root of an empty leaf set. The first cycle's chain link is
// Combine("", snapshots_root), which does not use this function.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Build constructs a balanced tree over leaves (pairwise SHA256; an odd
// trailing node at any level is duplicated rather than promoted), returning
// the root hash and every node of every level including the leaves
// themselves at level 0. An empty leaf set returns the hash of the empty
// string as its root, with no nodes.
func Build(leaves []string) (root string, nodes []Node, err error) {
	if len(leaves) == 0 {
		return HashBytes(nil), nil, nil
	}

	level := make([]string, len(leaves))
	copy(level, leaves)
	for i, h := range level {
		nodes = append(nodes, Node{Level: 0, Position: uint64(i), Hash: h})
	}

	var lvl uint32
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]string, 0, len(level)/2)
		lvl++
		for i := 0; i < len(level); i += 2 {
			l, r := level[i], level[i+1]
			h, cerr := Combine(l, r)
			if cerr != nil {
				return "", nil, cerr
			}
			next = append(next, h)
			nodes = append(nodes, Node{Level: lvl, Position: uint64(i / 2), Hash: h, Left: &l, Right: &r})
		}
		level = next
	}
	return level[0], nodes, nil
}

// ProofStep is one hop of an inclusion proof: the sibling's hash and which
// side it occupied relative to the node being proven.
type ProofStep struct {
	Hash     string
	Position string // "left" | "right"
}

// Proof walks nodes (one tree's full node set, as returned by Build or
// loaded from storage) from leafPosition up to the root, returning the
// sibling hash and side at each level.
func Proof(nodes []Node, leafPosition uint64) ([]ProofStep, error) {
	byKey := make(map[string]Node, len(nodes))
	perLevel := make(map[uint32]uint64)
	var maxLevel uint32
	for _, n := range nodes {
		byKey[string(kv.MerkleNodeKey(n.Level, n.Position))] = n
		perLevel[n.Level]++
		if n.Level > maxLevel {
			maxLevel = n.Level
		}
	}

	pos := leafPosition
	var steps []ProofStep
	for level := uint32(0); level < maxLevel; level++ {
		siblingPos := pos ^ 1
		sibling, ok := byKey[string(kv.MerkleNodeKey(level, siblingPos))]
		if !ok {
			// Build pairs an odd trailing node with a copy of itself and
			// stores no node for that copy.
			count := perLevel[level]
			if count < 2 || count%2 == 0 || pos != count-1 {
				return nil, fmt.Errorf("merkle proof: missing sibling at level %d position %d", level, siblingPos)
			}
			sibling = byKey[string(kv.MerkleNodeKey(level, pos))]
		}
		side := "right"
		if pos%2 == 1 {
			side = "left"
		}
		steps = append(steps, ProofStep{Hash: sibling.Hash, Position: side})
		pos /= 2
	}
	return steps, nil
}
