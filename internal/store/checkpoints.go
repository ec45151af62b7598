package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateCheckpointTx inserts a Checkpoint and its second-level Merkle nodes in
// one transaction, status PENDING.
func (s *Store) CreateCheckpointTx(cp Checkpoint, nodes []MerkleNode) error {
	if cp.ID == "" {
		cp.ID = NewCheckpointID()
	}
	emission, err := json.Marshal(cp.Emission)
	if err != nil {
		return fmt.Errorf("marshal emission: %w", err)
	}
	return s.writer.ExecuteTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO checkpoints
			(id, period_start, period_end, merkle_root, emission, status)
			VALUES (?,?,?,?,?,?)`,
			cp.ID, formatTime(cp.PeriodStart), formatTime(cp.PeriodEnd), cp.MerkleRoot, string(emission), CheckpointPending)
		if err != nil {
			return fmt.Errorf("insert checkpoint: %w", err)
		}
		for _, n := range nodes {
			n.CheckpointID = &cp.ID
			if err := insertMerkleNodeTx(tx, n); err != nil {
				return err
			}
		}
		return nil
	})
}

// SubmitCheckpoint transitions PENDING -> SUBMITTED, recording the settlement tx hash.
func (s *Store) SubmitCheckpoint(id, txHash string) error {
	res, err := s.writer.Execute(`UPDATE checkpoints SET status=?, tx_hash=? WHERE id=? AND status=?`,
		CheckpointSubmitted, txHash, id, CheckpointPending)
	if err != nil {
		return fmt.Errorf("submit checkpoint: %w", err)
	}
	return checkOneRow(res, "checkpoint", id)
}

// ConfirmCheckpoint transitions SUBMITTED -> CLAIMABLE once the settlement
// transaction has been observed confirmed on-chain.
func (s *Store) ConfirmCheckpoint(id string) error {
	res, err := s.writer.Execute(`UPDATE checkpoints SET status=?, emitted_at=?
		WHERE id=? AND status=?`, CheckpointClaimable, formatTime(time.Now()), id, CheckpointSubmitted)
	if err != nil {
		return fmt.Errorf("confirm checkpoint: %w", err)
	}
	return checkOneRow(res, "checkpoint", id)
}

// MarkCheckpointPaid transitions CLAIMABLE -> PAID, the terminal state.
func (s *Store) MarkCheckpointPaid(id string) error {
	res, err := s.writer.Execute(`UPDATE checkpoints SET status=? WHERE id=? AND status=?`,
		CheckpointPaid, id, CheckpointClaimable)
	if err != nil {
		return fmt.Errorf("mark checkpoint paid: %w", err)
	}
	return checkOneRow(res, "checkpoint", id)
}

// GetCheckpoint returns a Checkpoint by ID.
func (s *Store) GetCheckpoint(id string) (*Checkpoint, error) {
	row := s.db.Read.QueryRow(`SELECT id, period_start, period_end, merkle_root, emission,
		status, tx_hash, created_at, emitted_at FROM checkpoints WHERE id=?`, id)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("checkpoint %q not found", id)
	}
	return cp, err
}

func scanCheckpoint(row *sql.Row) (*Checkpoint, error) {
	var cp Checkpoint
	var start, end, created string
	var emission string
	var txHash, emitted sql.NullString
	if err := row.Scan(&cp.ID, &start, &end, &cp.MerkleRoot, &emission,
		&cp.Status, &txHash, &created, &emitted); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(emission), &cp.Emission); err != nil {
		return nil, fmt.Errorf("unmarshal emission: %w", err)
	}
	cp.PeriodStart, cp.PeriodEnd, cp.CreatedAt = parseTime(start), parseTime(end), parseTime(created)
	if txHash.Valid {
		cp.TxHash = &txHash.String
	}
	if emitted.Valid {
		t := parseTime(emitted.String)
		cp.EmittedAt = &t
	}
	return &cp, nil
}

// LatestCheckpoint returns the most recently created Checkpoint, or nil if none exist.
func (s *Store) LatestCheckpoint() (*Checkpoint, error) {
	row := s.db.Read.QueryRow(`SELECT id, period_start, period_end, merkle_root, emission,
		status, tx_hash, created_at, emitted_at FROM checkpoints ORDER BY created_at DESC, id DESC LIMIT 1`)
	cp, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cp, err
}

// CheckpointsPage returns up to limit checkpoints created strictly before cursor
// (empty cursor = most recent), newest first.
func (s *Store) CheckpointsPage(cursor string, limit int) ([]Checkpoint, error) {
	var rows *sql.Rows
	var err error
	if cursor == "" {
		rows, err = s.db.Read.Query(`SELECT id, period_start, period_end, merkle_root, emission,
			status, tx_hash, created_at, emitted_at FROM checkpoints ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Read.Query(`SELECT id, period_start, period_end, merkle_root, emission,
			status, tx_hash, created_at, emitted_at FROM checkpoints
			WHERE created_at < ? ORDER BY created_at DESC, id DESC LIMIT ?`, cursor, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query checkpoints page: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		var start, end, created, emission string
		var txHash, emitted sql.NullString
		if err := rows.Scan(&cp.ID, &start, &end, &cp.MerkleRoot, &emission,
			&cp.Status, &txHash, &created, &emitted); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if err := json.Unmarshal([]byte(emission), &cp.Emission); err != nil {
			return nil, fmt.Errorf("unmarshal emission: %w", err)
		}
		cp.PeriodStart, cp.PeriodEnd, cp.CreatedAt = parseTime(start), parseTime(end), parseTime(created)
		if txHash.Valid {
			cp.TxHash = &txHash.String
		}
		if emitted.Valid {
			t := parseTime(emitted.String)
			cp.EmittedAt = &t
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}
