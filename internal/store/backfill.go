package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/predictcoord/coordinator/internal/cerrors"
)

// StartBackfillJob admission-controls a new BackfillJob: at most one job may
// be `running` system-wide. The check and insert happen in one transaction.
func (s *Store) StartBackfillJob(scope FeedScope, start, end time.Time) (*BackfillJob, error) {
	job := &BackfillJob{
		ID:       NewBackfillJobID(),
		Source:   scope.Source,
		Subject:  scope.Subject,
		Kind:     scope.Kind,
		Granularity: scope.Granularity,
		StartTs:  start,
		EndTs:    end,
		CursorTs: start,
		Status:   BackfillRunning,
	}

	err := s.writer.ExecuteTx(func(tx *sql.Tx) error {
		var existing sql.NullString
		if err := tx.QueryRow(`SELECT job_id FROM backfill_admission WHERE id=1`).Scan(&existing); err != nil {
			return fmt.Errorf("read admission row: %w", err)
		}
		if existing.Valid && existing.String != "" {
			var status string
			err := tx.QueryRow(`SELECT status FROM backfill_jobs WHERE id=?`, existing.String).Scan(&status)
			if err == nil && status == BackfillRunning {
				return cerrors.New(cerrors.Validation, "a backfill job is already running")
			}
		}
		_, err := tx.Exec(`INSERT INTO backfill_jobs
			(id, source, subject, kind, granularity, start_ts, end_ts, cursor_ts, status)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			job.ID, job.Source, job.Subject, job.Kind, job.Granularity,
			formatTime(start), formatTime(end), formatTime(start), BackfillRunning)
		if err != nil {
			return fmt.Errorf("insert backfill job: %w", err)
		}
		if _, err := tx.Exec(`UPDATE backfill_admission SET job_id=? WHERE id=1`, job.ID); err != nil {
			return fmt.Errorf("set admission: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// AdvanceBackfillCursor updates cursor_ts and counters monotonically, so a
// restart can resume from the persisted cursor.
func (s *Store) AdvanceBackfillCursor(id string, cursor time.Time, recordsWritten, pagesFetched int64) error {
	_, err := s.writer.Execute(`UPDATE backfill_jobs SET
		cursor_ts=?, records_written=records_written+?, pages_fetched=pages_fetched+?,
		updated_at=strftime('%Y-%m-%dT%H:%M:%f','now')
		WHERE id=?`, formatTime(cursor), recordsWritten, pagesFetched, id)
	return err
}

// CompleteBackfillJob marks a job completed or failed and releases admission.
func (s *Store) CompleteBackfillJob(id string, jobErr error) error {
	status := BackfillCompleted
	var errStr sql.NullString
	if jobErr != nil {
		status = BackfillFailed
		errStr = sql.NullString{String: jobErr.Error(), Valid: true}
	}
	return s.writer.ExecuteTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE backfill_jobs SET status=?, error=?, updated_at=strftime('%Y-%m-%dT%H:%M:%f','now') WHERE id=?`,
			status, errStr, id); err != nil {
			return err
		}
		_, err := tx.Exec(`UPDATE backfill_admission SET job_id=NULL WHERE id=1 AND job_id=?`, id)
		return err
	})
}

// GetBackfillJob returns a job by ID.
func (s *Store) GetBackfillJob(id string) (*BackfillJob, error) {
	var j BackfillJob
	var start, end, cursor, created, updated string
	var errStr sql.NullString
	err := s.db.Read.QueryRow(`SELECT id, source, subject, kind, granularity, start_ts, end_ts, cursor_ts,
		records_written, pages_fetched, status, error, created_at, updated_at FROM backfill_jobs WHERE id=?`, id).
		Scan(&j.ID, &j.Source, &j.Subject, &j.Kind, &j.Granularity, &start, &end, &cursor,
			&j.RecordsWritten, &j.PagesFetched, &j.Status, &errStr, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("backfill job %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	j.StartTs, j.EndTs, j.CursorTs = parseTime(start), parseTime(end), parseTime(cursor)
	j.CreatedAt, j.UpdatedAt = parseTime(created), parseTime(updated)
	if errStr.Valid {
		j.Error = &errStr.String
	}
	return &j, nil
}
