package store

import (
	"database/sql"
	"fmt"
)

// Writer abstracts write operations against the coordinator's database.
type Writer interface {
	Execute(query string, args ...interface{}) (sql.Result, error)
	ExecuteTx(fn func(tx *sql.Tx) error) error
}

// Store is the coordinator's data access layer, shared by Feed, Predict,
// Score, and Checkpoint workers. It exclusively owns all persisted entities.
type Store struct {
	db     *DB
	writer Writer
}

// NewStore creates a Store backed by db, writing directly to SQLite.
func NewStore(db *DB) *Store {
	return &Store{db: db, writer: &DirectWriter{db: db.Write}}
}

// NewStoreWithBatching creates a Store whose writer amortizes fsyncs across
// concurrent callers via a BatchWriter, for high-fan-in write paths such as
// the Feed Worker's per-scope ingestion.
func NewStoreWithBatching(db *DB, cfg BatchWriterConfig) (*Store, func()) {
	bw := NewBatchWriter(db.Write, cfg)
	return &Store{db: db, writer: bw}, bw.Stop
}

// DirectWriter executes SQL directly against the write connection.
type DirectWriter struct {
	db *sql.DB
}

func (w *DirectWriter) Execute(query string, args ...interface{}) (sql.Result, error) {
	return w.db.Exec(query, args...)
}

func (w *DirectWriter) ExecuteTx(fn func(tx *sql.Tx) error) error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ReadDB returns the read connection, for reporting queries.
func (s *Store) ReadDB() *sql.DB { return s.db.Read }

// Close releases the underlying database connections.
func (s *Store) Close() error { return s.db.Close() }
