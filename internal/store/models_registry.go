package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// PutModel upserts a Model by ID, including virtual ensemble models created
// under the reserved __ensemble_<name>__ namespace.
func (s *Store) PutModel(m Model) error {
	var overall sql.NullFloat64
	if m.OverallScore != nil {
		overall = sql.NullFloat64{Float64: *m.OverallScore, Valid: true}
	}
	var scores, meta sql.NullString
	if len(m.ScoresByScope) > 0 {
		scores = sql.NullString{String: string(m.ScoresByScope), Valid: true}
	}
	if len(m.Meta) > 0 {
		meta = sql.NullString{String: string(m.Meta), Valid: true}
	}
	_, err := s.writer.Execute(`INSERT INTO models
		(id, name, deployment_id, owner_id, overall_score, scores_by_scope, meta)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			name=excluded.name, deployment_id=excluded.deployment_id, owner_id=excluded.owner_id,
			overall_score=excluded.overall_score, scores_by_scope=excluded.scores_by_scope, meta=excluded.meta`,
		m.ID, m.Name, m.DeploymentID, m.OwnerID, overall, scores, meta)
	if err != nil {
		return fmt.Errorf("put model: %w", err)
	}
	return nil
}

// GetModel returns a Model by ID.
func (s *Store) GetModel(id string) (*Model, error) {
	row := s.db.Read.QueryRow(`SELECT id, name, deployment_id, owner_id, overall_score,
		scores_by_scope, meta, created_at FROM models WHERE id=?`, id)
	m, err := scanModel(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("model %q not found", id)
	}
	return m, err
}

func scanModel(row *sql.Row) (*Model, error) {
	var m Model
	var overall sql.NullFloat64
	var scores, meta sql.NullString
	var created string
	if err := row.Scan(&m.ID, &m.Name, &m.DeploymentID, &m.OwnerID, &overall, &scores, &meta, &created); err != nil {
		return nil, err
	}
	if overall.Valid {
		m.OverallScore = &overall.Float64
	}
	if scores.Valid {
		m.ScoresByScope = json.RawMessage(scores.String)
	}
	if meta.Valid {
		m.Meta = json.RawMessage(meta.String)
	}
	m.CreatedAt = parseTime(created)
	return &m, nil
}

// ListModels returns every registered Model, ordered by ID.
func (s *Store) ListModels() ([]Model, error) {
	rows, err := s.db.Read.Query(`SELECT id, name, deployment_id, owner_id, overall_score,
		scores_by_scope, meta, created_at FROM models ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	var out []Model
	for rows.Next() {
		var m Model
		var overall sql.NullFloat64
		var scores, meta sql.NullString
		var created string
		if err := rows.Scan(&m.ID, &m.Name, &m.DeploymentID, &m.OwnerID, &overall, &scores, &meta, &created); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		if overall.Valid {
			m.OverallScore = &overall.Float64
		}
		if scores.Valid {
			m.ScoresByScope = json.RawMessage(scores.String)
		}
		if meta.Valid {
			m.Meta = json.RawMessage(meta.String)
		}
		m.CreatedAt = parseTime(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

// PutLeaderboard inserts a new, immutable Leaderboard snapshot.
func (s *Store) PutLeaderboard(lb Leaderboard) error {
	if lb.ID == "" {
		lb.ID = NewLeaderboardID()
	}
	entries, err := json.Marshal(lb.Entries)
	if err != nil {
		return fmt.Errorf("marshal leaderboard entries: %w", err)
	}
	_, err = s.writer.Execute(`INSERT INTO leaderboards (id, entries) VALUES (?,?)`, lb.ID, string(entries))
	if err != nil {
		return fmt.Errorf("put leaderboard: %w", err)
	}
	return nil
}

// LatestLeaderboard returns the most recently built Leaderboard, or nil if none exist.
func (s *Store) LatestLeaderboard() (*Leaderboard, error) {
	row := s.db.Read.QueryRow(`SELECT id, created_at, entries FROM leaderboards ORDER BY created_at DESC, id DESC LIMIT 1`)
	var lb Leaderboard
	var created, entries string
	if err := row.Scan(&lb.ID, &created, &entries); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	lb.CreatedAt = parseTime(created)
	if err := json.Unmarshal([]byte(entries), &lb.Entries); err != nil {
		return nil, fmt.Errorf("unmarshal leaderboard entries: %w", err)
	}
	return &lb, nil
}
