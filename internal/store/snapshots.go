package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// PutSnapshot inserts a per-model, per-cycle Snapshot. A (model_id, period_end)
// collision means this cycle already produced a snapshot for the model and the
// insert is a no-op, so a restarted score tick cannot double-count a cycle.
func (s *Store) PutSnapshot(sn Snapshot) (inserted bool, err error) {
	if sn.ID == "" {
		sn.ID = NewSnapshotID()
	}
	var summary sql.NullString
	if len(sn.ResultSummary) > 0 {
		summary = sql.NullString{String: string(sn.ResultSummary), Valid: true}
	}
	res, err := s.writer.Execute(`INSERT INTO snapshots
		(id, model_id, period_start, period_end, prediction_count, result_summary, content_hash)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (model_id, period_end) DO NOTHING`,
		sn.ID, sn.ModelID, formatTime(sn.PeriodStart), formatTime(sn.PeriodEnd),
		sn.PredictionCount, summary, sn.ContentHash)
	if err != nil {
		return false, fmt.Errorf("put snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SnapshotsForPeriodEnd returns every Snapshot committed for periodEnd,
// ordered by model_id for deterministic Merkle-leaf ordering.
func (s *Store) SnapshotsForPeriodEnd(periodEndISO string) ([]Snapshot, error) {
	rows, err := s.db.Read.Query(`SELECT id, model_id, period_start, period_end,
		prediction_count, result_summary, content_hash, created_at
		FROM snapshots WHERE period_end=? ORDER BY model_id ASC`, periodEndISO)
	if err != nil {
		return nil, fmt.Errorf("query snapshots for period: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// SnapshotsSince returns every Snapshot with period_end in (afterISO, throughISO],
// ordered by period_end then model_id, used by the Checkpoint Builder to span
// multiple score cycles.
func (s *Store) SnapshotsSince(afterISO, throughISO string) ([]Snapshot, error) {
	rows, err := s.db.Read.Query(`SELECT id, model_id, period_start, period_end,
		prediction_count, result_summary, content_hash, created_at
		FROM snapshots WHERE period_end > ? AND period_end <= ?
		ORDER BY period_end ASC, model_id ASC`, afterISO, throughISO)
	if err != nil {
		return nil, fmt.Errorf("query snapshots since: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func scanSnapshots(rows *sql.Rows) ([]Snapshot, error) {
	var out []Snapshot
	for rows.Next() {
		var sn Snapshot
		var start, end, created string
		var summary sql.NullString
		if err := rows.Scan(&sn.ID, &sn.ModelID, &start, &end,
			&sn.PredictionCount, &summary, &sn.ContentHash, &created); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		sn.PeriodStart, sn.PeriodEnd, sn.CreatedAt = parseTime(start), parseTime(end), parseTime(created)
		if summary.Valid {
			sn.ResultSummary = json.RawMessage(summary.String)
		}
		out = append(out, sn)
	}
	return out, rows.Err()
}

// LatestSnapshotPerModel returns each model's most recent Snapshot (by
// period_end), used by the leaderboard rebuild to rank every model that has
// ever produced a snapshot, not just the ones active in the latest cycle.
func (s *Store) LatestSnapshotPerModel() ([]Snapshot, error) {
	rows, err := s.db.Read.Query(`SELECT s.id, s.model_id, s.period_start, s.period_end,
		s.prediction_count, s.result_summary, s.content_hash, s.created_at
		FROM snapshots s
		WHERE s.period_end = (SELECT MAX(s2.period_end) FROM snapshots s2 WHERE s2.model_id = s.model_id)
		ORDER BY s.model_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot per model: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

// GetSnapshot returns a Snapshot by ID.
func (s *Store) GetSnapshot(id string) (*Snapshot, error) {
	row := s.db.Read.QueryRow(`SELECT id, model_id, period_start, period_end,
		prediction_count, result_summary, content_hash, created_at FROM snapshots WHERE id=?`, id)
	var sn Snapshot
	var start, end, created string
	var summary sql.NullString
	if err := row.Scan(&sn.ID, &sn.ModelID, &start, &end,
		&sn.PredictionCount, &summary, &sn.ContentHash, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("snapshot %q not found", id)
		}
		return nil, err
	}
	sn.PeriodStart, sn.PeriodEnd, sn.CreatedAt = parseTime(start), parseTime(end), parseTime(created)
	if summary.Valid {
		sn.ResultSummary = json.RawMessage(summary.String)
	}
	return &sn, nil
}
