package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/predictcoord/coordinator/internal/cerrors"
	"github.com/yanun0323/decimal"
)

// UpsertFeedRecords inserts records in a single transaction, preferring the
// existing row on a unique-key conflict (idempotent replay), then advances
// the scope's watermark to the max ts_event observed. No record with
// ts_event <= the prior watermark is ever inserted.
func (s *Store) UpsertFeedRecords(scope FeedScope, records []FeedRecord) (written int, err error) {
	if len(records) == 0 {
		return 0, nil
	}

	err = s.writer.ExecuteTx(func(tx *sql.Tx) error {
		var wm sql.NullString
		err := tx.QueryRow(`SELECT last_event_ts FROM feed_ingestion_state
			WHERE source=? AND subject=? AND kind=? AND granularity=?`,
			scope.Source, scope.Subject, scope.Kind, scope.Granularity).Scan(&wm)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("read watermark: %w", err)
		}
		watermark := parseTime(wm.String)

		maxTs := watermark
		for _, r := range records {
			if !watermark.IsZero() && !r.TsEvent.After(watermark) {
				continue // replay no-op: at or before the watermark
			}
			metaStr := "{}"
			if len(r.Meta) > 0 {
				metaStr = string(r.Meta)
			}
			res, err := tx.Exec(`INSERT INTO feed_records
				(source, subject, kind, granularity, ts_event, open, high, low, close, volume, meta)
				VALUES (?,?,?,?,?,?,?,?,?,?,?)
				ON CONFLICT (source, subject, kind, granularity, ts_event) DO NOTHING`,
				scope.Source, scope.Subject, scope.Kind, scope.Granularity, formatTime(r.TsEvent),
				decimalString(r.Open), decimalString(r.High), decimalString(r.Low),
				decimalString(r.Close), decimalString(r.Volume), metaStr)
			if err != nil {
				return fmt.Errorf("insert feed record: %w", err)
			}
			n, _ := res.RowsAffected()
			if n > 0 {
				written++
			}
			if r.TsEvent.After(maxTs) {
				maxTs = r.TsEvent
			}
		}

		if maxTs.After(watermark) {
			_, err = tx.Exec(`INSERT INTO feed_ingestion_state (source, subject, kind, granularity, last_event_ts, updated_at)
				VALUES (?,?,?,?,?,strftime('%Y-%m-%dT%H:%M:%f','now'))
				ON CONFLICT (source, subject, kind, granularity) DO UPDATE SET
					last_event_ts = excluded.last_event_ts, updated_at = excluded.updated_at
				WHERE excluded.last_event_ts > feed_ingestion_state.last_event_ts`,
				scope.Source, scope.Subject, scope.Kind, scope.Granularity, formatTime(maxTs))
			if err != nil {
				return fmt.Errorf("advance watermark: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, cerrors.Wrap(cerrors.Transient, "upsert feed records", err)
	}
	return written, nil
}

func decimalString(d decimal.Decimal) string {
	return d.String()
}

// Watermark returns the last ingested ts_event for scope, or the zero time
// if nothing has been ingested yet.
func (s *Store) Watermark(scope FeedScope) (time.Time, error) {
	var wm sql.NullString
	err := s.db.Read.QueryRow(`SELECT last_event_ts FROM feed_ingestion_state
		WHERE source=? AND subject=? AND kind=? AND granularity=?`,
		scope.Source, scope.Subject, scope.Kind, scope.Granularity).Scan(&wm)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read watermark: %w", err)
	}
	return parseTime(wm.String), nil
}

// FeedWindow returns records for subject within [from, to], ordered by ts_event.
func (s *Store) FeedWindow(scope FeedScope, from, to time.Time) ([]FeedRecord, error) {
	rows, err := s.db.Read.Query(`SELECT source, subject, kind, granularity, ts_event, open, high, low, close, volume, meta, created_at
		FROM feed_records
		WHERE source=? AND subject=? AND kind=? AND granularity=? AND ts_event >= ? AND ts_event <= ?
		ORDER BY ts_event ASC`,
		scope.Source, scope.Subject, scope.Kind, scope.Granularity, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("query feed window: %w", err)
	}
	defer rows.Close()

	var out []FeedRecord
	for rows.Next() {
		var r FeedRecord
		var ts, created string
		var open, high, low, cls, vol, meta sql.NullString
		if err := rows.Scan(&r.Source, &r.Subject, &r.Kind, &r.Granularity, &ts,
			&open, &high, &low, &cls, &vol, &meta, &created); err != nil {
			return nil, fmt.Errorf("scan feed record: %w", err)
		}
		r.TsEvent = parseTime(ts)
		r.CreatedAt = parseTime(created)
		r.Open = parseDecimal(open)
		r.High = parseDecimal(high)
		r.Low = parseDecimal(low)
		r.Close = parseDecimal(cls)
		r.Volume = parseDecimal(vol)
		if meta.Valid {
			r.Meta = json.RawMessage(meta.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func parseDecimal(ns sql.NullString) decimal.Decimal {
	if !ns.Valid || ns.String == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return decimal.Zero
	}
	return d
}
