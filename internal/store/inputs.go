package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// CreateInput persists a new Input with status RECEIVED.
func (s *Store) CreateInput(in Input) (*Input, error) {
	if in.ID == "" {
		in.ID = NewInputID()
	}
	in.Status = InputReceived
	_, err := s.writer.Execute(`INSERT INTO inputs (id, config_id, scope_key, raw_input, performed_at, resolvable_at, status)
		VALUES (?,?,?,?,?,?,?)`,
		in.ID, in.ConfigID, in.ScopeKey, string(in.RawInput), formatTime(in.PerformedAt), formatTime(in.ResolvableAt), InputReceived)
	if err != nil {
		return nil, fmt.Errorf("create input: %w", err)
	}
	return &in, nil
}

// ResolvableInputs returns RECEIVED Inputs whose resolvable_at has elapsed.
func (s *Store) ResolvableInputs(now time.Time) ([]Input, error) {
	rows, err := s.db.Read.Query(`SELECT id, config_id, scope_key, raw_input, performed_at, resolvable_at, status, created_at
		FROM inputs WHERE status=? AND resolvable_at <= ?`, InputReceived, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("query resolvable inputs: %w", err)
	}
	defer rows.Close()
	return scanInputs(rows)
}

// StaleUnresolvedInputs returns RECEIVED Inputs older than ttl, to be flipped
// to RESOLVED with the null-actuals sentinel.
func (s *Store) StaleUnresolvedInputs(now time.Time, ttl time.Duration) ([]Input, error) {
	cutoff := now.Add(-ttl)
	rows, err := s.db.Read.Query(`SELECT id, config_id, scope_key, raw_input, performed_at, resolvable_at, status, created_at
		FROM inputs WHERE status=? AND resolvable_at <= ?`, InputReceived, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("query stale inputs: %w", err)
	}
	defer rows.Close()
	return scanInputs(rows)
}

func scanInputs(rows *sql.Rows) ([]Input, error) {
	var out []Input
	for rows.Next() {
		var in Input
		var raw sql.NullString
		var performed, resolvable, created string
		if err := rows.Scan(&in.ID, &in.ConfigID, &in.ScopeKey, &raw, &performed, &resolvable, &in.Status, &created); err != nil {
			return nil, fmt.Errorf("scan input: %w", err)
		}
		if raw.Valid {
			in.RawInput = json.RawMessage(raw.String)
		}
		in.PerformedAt, in.ResolvableAt, in.CreatedAt = parseTime(performed), parseTime(resolvable), parseTime(created)
		out = append(out, in)
	}
	return out, rows.Err()
}

// ResolveInput transitions an Input RECEIVED -> RESOLVED with actuals set.
// The transition is one-way, enforced by the status guard in the WHERE clause.
func (s *Store) ResolveInput(id string, actuals json.RawMessage) error {
	res, err := s.writer.Execute(`UPDATE inputs SET status=?, actuals=?, actuals_is_null=0
		WHERE id=? AND status=?`, InputResolved, string(actuals), id, InputReceived)
	if err != nil {
		return fmt.Errorf("resolve input: %w", err)
	}
	return checkOneRow(res, "input", id)
}

// ResolveInputWithNullSentinel flips a TTL-expired Input to RESOLVED with the
// null-actuals sentinel; its Predictions must subsequently be failed by the
// caller with reason "no ground truth".
func (s *Store) ResolveInputWithNullSentinel(id string) error {
	res, err := s.writer.Execute(`UPDATE inputs SET status=?, actuals=NULL, actuals_is_null=1
		WHERE id=? AND status=?`, InputResolved, id, InputReceived)
	if err != nil {
		return fmt.Errorf("resolve input (sentinel): %w", err)
	}
	return checkOneRow(res, "input", id)
}

// GetInput returns an Input by ID.
func (s *Store) GetInput(id string) (*Input, error) {
	row := s.db.Read.QueryRow(`SELECT id, config_id, scope_key, raw_input, performed_at, resolvable_at,
		actuals, actuals_is_null, status, created_at FROM inputs WHERE id=?`, id)
	var in Input
	var raw, actuals sql.NullString
	var isNull int
	var performed, resolvable, created string
	if err := row.Scan(&in.ID, &in.ConfigID, &in.ScopeKey, &raw, &performed, &resolvable,
		&actuals, &isNull, &in.Status, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("input %q not found", id)
		}
		return nil, err
	}
	if raw.Valid {
		in.RawInput = json.RawMessage(raw.String)
	}
	if actuals.Valid {
		in.Actuals = json.RawMessage(actuals.String)
	}
	in.ActualsIsNull = isNull != 0
	in.PerformedAt, in.ResolvableAt, in.CreatedAt = parseTime(performed), parseTime(resolvable), parseTime(created)
	return &in, nil
}

func checkOneRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %q: no matching row (status guard failed or not found)", entity, id)
	}
	return nil
}
