package store

import (
	"database/sql"
	"fmt"
)

// LatestMerkleCycle returns the most recently created MerkleCycle, or nil if
// the chain hasn't started yet.
func (s *Store) LatestMerkleCycle() (*MerkleCycle, error) {
	row := s.db.Read.QueryRow(`SELECT id, previous_cycle_id, previous_cycle_root,
		snapshots_root, chained_root, snapshot_count, created_at
		FROM merkle_cycles ORDER BY created_at DESC, id DESC LIMIT 1`)
	c, err := scanMerkleCycle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func scanMerkleCycle(row *sql.Row) (*MerkleCycle, error) {
	var c MerkleCycle
	var prevID, prevRoot sql.NullString
	var created string
	if err := row.Scan(&c.ID, &prevID, &prevRoot, &c.SnapshotsRoot, &c.ChainedRoot,
		&c.SnapshotCount, &created); err != nil {
		return nil, err
	}
	if prevID.Valid {
		c.PreviousCycleID = &prevID.String
	}
	if prevRoot.Valid {
		c.PreviousCycleRoot = &prevRoot.String
	}
	c.CreatedAt = parseTime(created)
	return &c, nil
}

// PutMerkleCycleTx inserts a new MerkleCycle and its tree's MerkleNodes inside
// one transaction, so the chain link and its witnessing nodes are atomic.
func (s *Store) PutMerkleCycleTx(cycle MerkleCycle, nodes []MerkleNode) error {
	return s.writer.ExecuteTx(func(tx *sql.Tx) error {
		var prevID, prevRoot sql.NullString
		if cycle.PreviousCycleID != nil {
			prevID = sql.NullString{String: *cycle.PreviousCycleID, Valid: true}
		}
		if cycle.PreviousCycleRoot != nil {
			prevRoot = sql.NullString{String: *cycle.PreviousCycleRoot, Valid: true}
		}
		_, err := tx.Exec(`INSERT INTO merkle_cycles
			(id, previous_cycle_id, previous_cycle_root, snapshots_root, chained_root, snapshot_count)
			VALUES (?,?,?,?,?,?)`,
			cycle.ID, prevID, prevRoot, cycle.SnapshotsRoot, cycle.ChainedRoot, cycle.SnapshotCount)
		if err != nil {
			return fmt.Errorf("insert merkle cycle: %w", err)
		}
		for _, n := range nodes {
			if err := insertMerkleNodeTx(tx, n); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertMerkleNodeTx(tx *sql.Tx, n MerkleNode) error {
	if n.ID == "" {
		n.ID = NewNodeID()
	}
	var cycleID, checkpointID, left, right, snapID, snapHash sql.NullString
	if n.CycleID != nil {
		cycleID = sql.NullString{String: *n.CycleID, Valid: true}
	}
	if n.CheckpointID != nil {
		checkpointID = sql.NullString{String: *n.CheckpointID, Valid: true}
	}
	if n.LeftChild != nil {
		left = sql.NullString{String: *n.LeftChild, Valid: true}
	}
	if n.RightChild != nil {
		right = sql.NullString{String: *n.RightChild, Valid: true}
	}
	if n.SnapshotID != nil {
		snapID = sql.NullString{String: *n.SnapshotID, Valid: true}
	}
	if n.SnapshotContentHash != nil {
		snapHash = sql.NullString{String: *n.SnapshotContentHash, Valid: true}
	}
	_, err := tx.Exec(`INSERT INTO merkle_nodes
		(id, cycle_id, checkpoint_id, level, position, hash, left_child, right_child, snapshot_id, snapshot_content_hash)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		n.ID, cycleID, checkpointID, n.Level, n.Position, n.Hash, left, right, snapID, snapHash)
	if err != nil {
		return fmt.Errorf("insert merkle node: %w", err)
	}
	return nil
}

// MerkleNodesForCycle returns every node of a cycle's tree, ordered by level
// then position, for proof reconstruction.
func (s *Store) MerkleNodesForCycle(cycleID string) ([]MerkleNode, error) {
	rows, err := s.db.Read.Query(`SELECT id, cycle_id, checkpoint_id, level, position, hash,
		left_child, right_child, snapshot_id, snapshot_content_hash
		FROM merkle_nodes WHERE cycle_id=? ORDER BY level ASC, position ASC`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query merkle nodes for cycle: %w", err)
	}
	defer rows.Close()
	return scanMerkleNodes(rows)
}

// MerkleNodesForCheckpoint returns every node of a checkpoint's second-level
// tree, ordered by level then position.
func (s *Store) MerkleNodesForCheckpoint(checkpointID string) ([]MerkleNode, error) {
	rows, err := s.db.Read.Query(`SELECT id, cycle_id, checkpoint_id, level, position, hash,
		left_child, right_child, snapshot_id, snapshot_content_hash
		FROM merkle_nodes WHERE checkpoint_id=? ORDER BY level ASC, position ASC`, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("query merkle nodes for checkpoint: %w", err)
	}
	defer rows.Close()
	return scanMerkleNodes(rows)
}

func scanMerkleNodes(rows *sql.Rows) ([]MerkleNode, error) {
	var out []MerkleNode
	for rows.Next() {
		var n MerkleNode
		var cycleID, checkpointID, left, right, snapID, snapHash sql.NullString
		if err := rows.Scan(&n.ID, &cycleID, &checkpointID, &n.Level, &n.Position, &n.Hash,
			&left, &right, &snapID, &snapHash); err != nil {
			return nil, fmt.Errorf("scan merkle node: %w", err)
		}
		if cycleID.Valid {
			n.CycleID = &cycleID.String
		}
		if checkpointID.Valid {
			n.CheckpointID = &checkpointID.String
		}
		if left.Valid {
			n.LeftChild = &left.String
		}
		if right.Valid {
			n.RightChild = &right.String
		}
		if snapID.Valid {
			n.SnapshotID = &snapID.String
		}
		if snapHash.Valid {
			n.SnapshotContentHash = &snapHash.String
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// LeafNodeForSnapshot returns the level-0 MerkleNode witnessing snapshotID,
// the entry point for the Checkpoint Builder's proof API, which walks the
// cycle tree from this leaf.
func (s *Store) LeafNodeForSnapshot(snapshotID string) (*MerkleNode, error) {
	row := s.db.Read.QueryRow(`SELECT id, cycle_id, checkpoint_id, level, position, hash,
		left_child, right_child, snapshot_id, snapshot_content_hash
		FROM merkle_nodes WHERE snapshot_id=? AND level=0 AND cycle_id IS NOT NULL LIMIT 1`, snapshotID)
	var n MerkleNode
	var cycleID, checkpointID, left, right, snapID, snapHash sql.NullString
	if err := row.Scan(&n.ID, &cycleID, &checkpointID, &n.Level, &n.Position, &n.Hash,
		&left, &right, &snapID, &snapHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no merkle leaf for snapshot %q", snapshotID)
		}
		return nil, fmt.Errorf("query leaf for snapshot: %w", err)
	}
	if cycleID.Valid {
		n.CycleID = &cycleID.String
	}
	if checkpointID.Valid {
		n.CheckpointID = &checkpointID.String
	}
	if left.Valid {
		n.LeftChild = &left.String
	}
	if right.Valid {
		n.RightChild = &right.String
	}
	if snapID.Valid {
		n.SnapshotID = &snapID.String
	}
	if snapHash.Valid {
		n.SnapshotContentHash = &snapHash.String
	}
	return &n, nil
}

// CheckpointLeafForCycleRoot returns the level-0 MerkleNode of checkpointID's
// second-level tree whose hash equals a cycle's chained_root, the entry
// point for continuing a proof from the cycle tree into the checkpoint tree.
func (s *Store) CheckpointLeafForCycleRoot(checkpointID, chainedRoot string) (*MerkleNode, error) {
	row := s.db.Read.QueryRow(`SELECT id, cycle_id, checkpoint_id, level, position, hash,
		left_child, right_child, snapshot_id, snapshot_content_hash
		FROM merkle_nodes WHERE checkpoint_id=? AND level=0 AND hash=? LIMIT 1`, checkpointID, chainedRoot)
	var n MerkleNode
	var cycleID, checkpointIDCol, left, right, snapID, snapHash sql.NullString
	if err := row.Scan(&n.ID, &cycleID, &checkpointIDCol, &n.Level, &n.Position, &n.Hash,
		&left, &right, &snapID, &snapHash); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no checkpoint leaf for cycle root %q", chainedRoot)
		}
		return nil, fmt.Errorf("query checkpoint leaf: %w", err)
	}
	if cycleID.Valid {
		n.CycleID = &cycleID.String
	}
	if checkpointIDCol.Valid {
		n.CheckpointID = &checkpointIDCol.String
	}
	if left.Valid {
		n.LeftChild = &left.String
	}
	if right.Valid {
		n.RightChild = &right.String
	}
	if snapID.Valid {
		n.SnapshotID = &snapID.String
	}
	if snapHash.Valid {
		n.SnapshotContentHash = &snapHash.String
	}
	return &n, nil
}

// CheckpointForCycle returns the Checkpoint that aggregated cycleID, if any,
// by locating the checkpoint whose second-level tree contains a leaf hash
// equal to cycleChainedRoot.
func (s *Store) CheckpointForCycle(cycleChainedRoot string) (*Checkpoint, error) {
	var checkpointID string
	row := s.db.Read.QueryRow(`SELECT checkpoint_id FROM merkle_nodes
		WHERE checkpoint_id IS NOT NULL AND level=0 AND hash=? LIMIT 1`, cycleChainedRoot)
	if err := row.Scan(&checkpointID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find checkpoint for cycle root: %w", err)
	}
	return s.GetCheckpoint(checkpointID)
}

// MerkleCycleByID returns one MerkleCycle by ID.
func (s *Store) MerkleCycleByID(id string) (*MerkleCycle, error) {
	row := s.db.Read.QueryRow(`SELECT id, previous_cycle_id, previous_cycle_root,
		snapshots_root, chained_root, snapshot_count, created_at
		FROM merkle_cycles WHERE id=?`, id)
	c, err := scanMerkleCycle(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("merkle cycle %q not found", id)
	}
	return c, err
}

// MerkleCyclesInRange returns every MerkleCycle with created_at in
// (afterISO, throughISO], oldest first: the Checkpoint Builder's source set
// for its second-level tree, collecting every cycle since the previous
// Checkpoint's period_end.
func (s *Store) MerkleCyclesInRange(afterISO, throughISO string) ([]MerkleCycle, error) {
	rows, err := s.db.Read.Query(`SELECT id, previous_cycle_id, previous_cycle_root,
		snapshots_root, chained_root, snapshot_count, created_at
		FROM merkle_cycles WHERE created_at > ? AND created_at <= ?
		ORDER BY created_at ASC, id ASC`, afterISO, throughISO)
	if err != nil {
		return nil, fmt.Errorf("query merkle cycles in range: %w", err)
	}
	defer rows.Close()

	var out []MerkleCycle
	for rows.Next() {
		c, err := scanMerkleCycleRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanMerkleCycleRow(rows *sql.Rows) (MerkleCycle, error) {
	var c MerkleCycle
	var prevID, prevRoot sql.NullString
	var created string
	if err := rows.Scan(&c.ID, &prevID, &prevRoot, &c.SnapshotsRoot, &c.ChainedRoot,
		&c.SnapshotCount, &created); err != nil {
		return c, fmt.Errorf("scan merkle cycle: %w", err)
	}
	if prevID.Valid {
		c.PreviousCycleID = &prevID.String
	}
	if prevRoot.Valid {
		c.PreviousCycleRoot = &prevRoot.String
	}
	c.CreatedAt = parseTime(created)
	return c, nil
}

// MerkleCyclesPage returns up to limit cycles created strictly before cursor
// (empty cursor = most recent), ordered newest-first, for reporting.
func (s *Store) MerkleCyclesPage(cursor string, limit int) ([]MerkleCycle, error) {
	var rows *sql.Rows
	var err error
	if cursor == "" {
		rows, err = s.db.Read.Query(`SELECT id, previous_cycle_id, previous_cycle_root,
			snapshots_root, chained_root, snapshot_count, created_at
			FROM merkle_cycles ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Read.Query(`SELECT id, previous_cycle_id, previous_cycle_root,
			snapshots_root, chained_root, snapshot_count, created_at
			FROM merkle_cycles WHERE created_at < ? ORDER BY created_at DESC, id DESC LIMIT ?`, cursor, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query merkle cycles page: %w", err)
	}
	defer rows.Close()

	var out []MerkleCycle
	for rows.Next() {
		var c MerkleCycle
		var prevID, prevRoot sql.NullString
		var created string
		if err := rows.Scan(&c.ID, &prevID, &prevRoot, &c.SnapshotsRoot, &c.ChainedRoot,
			&c.SnapshotCount, &created); err != nil {
			return nil, fmt.Errorf("scan merkle cycle: %w", err)
		}
		if prevID.Valid {
			c.PreviousCycleID = &prevID.String
		}
		if prevRoot.Valid {
			c.PreviousCycleRoot = &prevRoot.String
		}
		c.CreatedAt = parseTime(created)
		out = append(out, c)
	}
	return out, rows.Err()
}
