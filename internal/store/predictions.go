package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// InsertPredictionsTx inserts every Prediction for one cycle inside the same
// transaction as its parent Input, so either all persist or none do. The fn
// callback lets the caller create the Input and its Predictions atomically.
func (s *Store) InsertPredictionsTx(fn func(tx *sql.Tx) error) error {
	return s.writer.ExecuteTx(fn)
}

// InsertInputTx inserts the Input row within an already-open transaction.
func InsertInputTx(tx *sql.Tx, in Input) error {
	_, err := tx.Exec(`INSERT INTO inputs (id, config_id, scope_key, raw_input, performed_at, resolvable_at, status)
		VALUES (?,?,?,?,?,?,?)`,
		in.ID, in.ConfigID, in.ScopeKey, string(in.RawInput), formatTime(in.PerformedAt), formatTime(in.ResolvableAt), InputReceived)
	return err
}

// InsertPredictionTx inserts one Prediction row within an already-open transaction.
func InsertPredictionTx(tx *sql.Tx, p Prediction) error {
	var scoreValue sql.NullFloat64
	var scoreSuccess sql.NullBool
	var scoreExtra sql.NullString
	if p.Score != nil {
		scoreValue = sql.NullFloat64{Float64: p.Score.Value, Valid: true}
		scoreSuccess = sql.NullBool{Bool: p.Score.Success, Valid: true}
		if len(p.Score.Extra) > 0 {
			scoreExtra = sql.NullString{String: string(p.Score.Extra), Valid: true}
		}
	}
	var metaStr sql.NullString
	if len(p.Meta) > 0 {
		metaStr = sql.NullString{String: string(p.Meta), Valid: true}
	}
	var inferStr sql.NullString
	if len(p.InferenceOut) > 0 {
		inferStr = sql.NullString{String: string(p.InferenceOut), Valid: true}
	}
	_, err := tx.Exec(`INSERT INTO predictions
		(id, model_id, input_id, config_id, scope_key, inference_output, exec_time_us, status,
		 failed_reason, score_value, score_success, score_extra, meta)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.ModelID, p.InputID, p.ConfigID, p.ScopeKey, inferStr, p.ExecTimeUs, p.Status,
		nullableString(p.FailedReason), scoreValue, scoreSuccess, scoreExtra, metaStr)
	return err
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// PendingPredictionsForResolvedInputs returns PENDING Predictions whose
// parent Input is RESOLVED, joined with the Input's actuals.
func (s *Store) PendingPredictionsForResolvedInputs() ([]Prediction, map[string]Input, error) {
	rows, err := s.db.Read.Query(`SELECT p.id, p.model_id, p.input_id, p.config_id, p.scope_key,
		p.inference_output, p.exec_time_us, p.status, p.created_at,
		i.id, i.config_id, i.scope_key, i.raw_input, i.performed_at, i.resolvable_at,
		i.actuals, i.actuals_is_null, i.status, i.created_at
		FROM predictions p JOIN inputs i ON p.input_id = i.id
		WHERE p.status = ? AND i.status = ?`, PredictionPending, InputResolved)
	if err != nil {
		return nil, nil, fmt.Errorf("query pending predictions: %w", err)
	}
	defer rows.Close()

	var preds []Prediction
	inputs := make(map[string]Input)
	for rows.Next() {
		var p Prediction
		var inferOut sql.NullString
		var pCreated string
		var in Input
		var raw, actuals sql.NullString
		var isNull int
		var performed, resolvable, iCreated string
		if err := rows.Scan(&p.ID, &p.ModelID, &p.InputID, &p.ConfigID, &p.ScopeKey,
			&inferOut, &p.ExecTimeUs, &p.Status, &pCreated,
			&in.ID, &in.ConfigID, &in.ScopeKey, &raw, &performed, &resolvable,
			&actuals, &isNull, &in.Status, &iCreated); err != nil {
			return nil, nil, fmt.Errorf("scan pending prediction: %w", err)
		}
		if inferOut.Valid {
			p.InferenceOut = json.RawMessage(inferOut.String)
		}
		p.CreatedAt = parseTime(pCreated)
		if raw.Valid {
			in.RawInput = json.RawMessage(raw.String)
		}
		if actuals.Valid {
			in.Actuals = json.RawMessage(actuals.String)
		}
		in.ActualsIsNull = isNull != 0
		in.PerformedAt, in.ResolvableAt, in.CreatedAt = parseTime(performed), parseTime(resolvable), parseTime(iCreated)
		preds = append(preds, p)
		inputs[in.ID] = in
	}
	return preds, inputs, rows.Err()
}

// ScorePrediction transitions PENDING -> SCORED (success) or FAILED, once only.
func (s *Store) ScorePrediction(id string, score Score) error {
	status := PredictionFailed
	if score.Success {
		status = PredictionScored
	}
	var extra sql.NullString
	if len(score.Extra) > 0 {
		extra = sql.NullString{String: string(score.Extra), Valid: true}
	}
	res, err := s.writer.Execute(`UPDATE predictions SET status=?, score_value=?, score_success=?,
		score_extra=?, failed_reason=? WHERE id=? AND status=?`,
		status, score.Value, score.Success, extra, nullableString(score.FailedReason), id, PredictionPending)
	if err != nil {
		return fmt.Errorf("score prediction: %w", err)
	}
	return checkOneRow(res, "prediction", id)
}

// FailPrediction transitions PENDING -> FAILED with a reason, once only.
func (s *Store) FailPrediction(id, reason string) error {
	res, err := s.writer.Execute(`UPDATE predictions SET status=?, failed_reason=?
		WHERE id=? AND status=?`, PredictionFailed, reason, id, PredictionPending)
	if err != nil {
		return fmt.Errorf("fail prediction: %w", err)
	}
	return checkOneRow(res, "prediction", id)
}

// FailPredictionsForInput fails every PENDING Prediction belonging to inputID
// with reason, used when an Input resolves to the null-actuals sentinel.
func (s *Store) FailPredictionsForInput(inputID, reason string) (int64, error) {
	res, err := s.writer.Execute(`UPDATE predictions SET status=?, failed_reason=?
		WHERE input_id=? AND status=?`, PredictionFailed, reason, inputID, PredictionPending)
	if err != nil {
		return 0, fmt.Errorf("fail predictions for input: %w", err)
	}
	n, err := res.RowsAffected()
	return n, err
}
