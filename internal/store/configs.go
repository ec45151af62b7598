package store

import (
	"fmt"
)

// ActiveScheduledConfigs returns every active ScheduledPredictionConfig,
// ordered for deterministic firing order.
func (s *Store) ActiveScheduledConfigs() ([]ScheduledPredictionConfig, error) {
	rows, err := s.db.Read.Query(`SELECT id, scope_key, subject, horizon_seconds, step_seconds,
		every_seconds, cron, active, ord, resolve_after_seconds, predict_timeout_ms,
		lookback_seconds, requires_tick, created_at, updated_at
		FROM scheduled_prediction_configs WHERE active=1 ORDER BY ord ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query configs: %w", err)
	}
	defer rows.Close()

	var out []ScheduledPredictionConfig
	for rows.Next() {
		var c ScheduledPredictionConfig
		var active, requiresTick int
		var created, updated string
		if err := rows.Scan(&c.ID, &c.ScopeKey, &c.Subject, &c.HorizonSeconds, &c.StepSeconds,
			&c.EverySeconds, &c.Cron, &active, &c.Order, &c.ResolveAfterSeconds, &c.PredictTimeoutMs,
			&c.LookbackSeconds, &requiresTick, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		c.Active = active != 0
		c.RequiresTick = requiresTick != 0
		c.CreatedAt, c.UpdatedAt = parseTime(created), parseTime(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetScheduledConfig returns one ScheduledPredictionConfig by ID, used by the
// Score Engine to recover an Input's subject for its resolution feed window.
func (s *Store) GetScheduledConfig(id string) (*ScheduledPredictionConfig, error) {
	row := s.db.Read.QueryRow(`SELECT id, scope_key, subject, horizon_seconds, step_seconds,
		every_seconds, cron, active, ord, resolve_after_seconds, predict_timeout_ms,
		lookback_seconds, requires_tick, created_at, updated_at
		FROM scheduled_prediction_configs WHERE id=?`, id)
	var c ScheduledPredictionConfig
	var active, requiresTick int
	var created, updated string
	if err := row.Scan(&c.ID, &c.ScopeKey, &c.Subject, &c.HorizonSeconds, &c.StepSeconds,
		&c.EverySeconds, &c.Cron, &active, &c.Order, &c.ResolveAfterSeconds, &c.PredictTimeoutMs,
		&c.LookbackSeconds, &requiresTick, &created, &updated); err != nil {
		return nil, fmt.Errorf("get config %q: %w", id, err)
	}
	c.Active = active != 0
	c.RequiresTick = requiresTick != 0
	c.CreatedAt, c.UpdatedAt = parseTime(created), parseTime(updated)
	return &c, nil
}

// PutScheduledConfig inserts or replaces a config, keyed by scope_key.
func (s *Store) PutScheduledConfig(c ScheduledPredictionConfig) error {
	if c.ID == "" {
		c.ID = NewConfigID()
	}
	_, err := s.writer.Execute(`INSERT INTO scheduled_prediction_configs
		(id, scope_key, subject, horizon_seconds, step_seconds, every_seconds, cron, active, ord,
		 resolve_after_seconds, predict_timeout_ms, lookback_seconds, requires_tick, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,strftime('%Y-%m-%dT%H:%M:%f','now'))
		ON CONFLICT (scope_key) DO UPDATE SET
			subject=excluded.subject, horizon_seconds=excluded.horizon_seconds,
			step_seconds=excluded.step_seconds, every_seconds=excluded.every_seconds,
			cron=excluded.cron, active=excluded.active, ord=excluded.ord,
			resolve_after_seconds=excluded.resolve_after_seconds,
			predict_timeout_ms=excluded.predict_timeout_ms, lookback_seconds=excluded.lookback_seconds,
			requires_tick=excluded.requires_tick, updated_at=excluded.updated_at`,
		c.ID, c.ScopeKey, c.Subject, c.HorizonSeconds, c.StepSeconds, c.EverySeconds, c.Cron,
		boolToInt(c.Active), c.Order, c.ResolveAfterSeconds, c.PredictTimeoutMs, c.LookbackSeconds,
		boolToInt(c.RequiresTick))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
