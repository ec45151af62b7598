package store

import (
	"database/sql"
	"fmt"
	"time"
)

// AcquireScoreTickLock tries to claim the singleton score_tick_lock row for
// owner, for ttl. Succeeds if the row is unheld or its lease has expired;
// a heartbeat lock with (owner, expires_at) protects against
// double-scheduling the tick.
func (s *Store) AcquireScoreTickLock(owner string, ttl time.Duration, now time.Time) (bool, error) {
	var acquired bool
	err := s.writer.ExecuteTx(func(tx *sql.Tx) error {
		var currentOwner, expiresAt sql.NullString
		if err := tx.QueryRow(`SELECT owner, expires_at FROM score_tick_lock WHERE id=1`).Scan(&currentOwner, &expiresAt); err != nil {
			return fmt.Errorf("read score tick lock: %w", err)
		}
		held := currentOwner.Valid && currentOwner.String != "" && expiresAt.Valid && parseTime(expiresAt.String).After(now)
		if held && currentOwner.String != owner {
			acquired = false
			return nil
		}
		_, err := tx.Exec(`UPDATE score_tick_lock SET owner=?, expires_at=? WHERE id=1`,
			owner, formatTime(now.Add(ttl)))
		if err != nil {
			return fmt.Errorf("acquire score tick lock: %w", err)
		}
		acquired = true
		return nil
	})
	return acquired, err
}

// ReleaseScoreTickLock releases the lock if still held by owner.
func (s *Store) ReleaseScoreTickLock(owner string) error {
	_, err := s.writer.Execute(`UPDATE score_tick_lock SET owner=NULL, expires_at=NULL WHERE id=1 AND owner=?`, owner)
	return err
}
