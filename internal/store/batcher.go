package store

import (
	"database/sql"
	"fmt"
	"time"
)

// BatchWriter batches multiple ExecuteTx calls into a single SQLite
// transaction, amortizing the fsync cost across all callers. Feed ingestion
// runs many small per-scope UpsertFeedRecords transactions; routing them
// through a BatchWriter instead of DirectWriter avoids paying one fsync per
// scope during a poll tick that touches dozens of subjects at once.
type BatchWriter struct {
	db            *sql.DB
	pending       chan *txOp
	stop          chan struct{}
	done          chan struct{}
	maxBatchSize  int
	flushInterval time.Duration
}

type txOp struct {
	fn  func(tx *sql.Tx) error
	err chan error
}

// BatchWriterConfig configures the BatchWriter.
type BatchWriterConfig struct {
	MaxBatchSize  int
	FlushInterval time.Duration
}

// DefaultBatchWriterConfig returns sensible defaults.
func DefaultBatchWriterConfig() BatchWriterConfig {
	return BatchWriterConfig{
		MaxBatchSize:  128,
		FlushInterval: 2 * time.Millisecond,
	}
}

// NewBatchWriter creates and starts a BatchWriter.
func NewBatchWriter(db *sql.DB, cfg BatchWriterConfig) *BatchWriter {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Millisecond
	}

	bw := &BatchWriter{
		db:            db,
		pending:       make(chan *txOp, cfg.MaxBatchSize*2),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		maxBatchSize:  cfg.MaxBatchSize,
		flushInterval: cfg.FlushInterval,
	}
	go bw.loop()
	return bw
}

// Execute passes through directly to *sql.DB (no batching needed for one-off ops).
func (bw *BatchWriter) Execute(query string, args ...interface{}) (sql.Result, error) {
	return bw.db.Exec(query, args...)
}

// ExecuteTx sends the closure to the batch loop and blocks until it completes.
func (bw *BatchWriter) ExecuteTx(fn func(tx *sql.Tx) error) error {
	op := &txOp{
		fn:  fn,
		err: make(chan error, 1),
	}
	select {
	case bw.pending <- op:
	case <-bw.stop:
		return fmt.Errorf("batch writer stopped")
	}
	return <-op.err
}

// Stop gracefully shuts down the batch writer, flushing pending ops.
func (bw *BatchWriter) Stop() {
	close(bw.stop)
	<-bw.done
}

func (bw *BatchWriter) loop() {
	defer close(bw.done)

	timer := time.NewTimer(bw.flushInterval)
	defer timer.Stop()

	batch := make([]*txOp, 0, bw.maxBatchSize)

	for {
		select {
		case op := <-bw.pending:
			batch = append(batch, op)
		case <-timer.C:
			if len(batch) == 0 {
				timer.Reset(bw.flushInterval)
				continue
			}
		case <-bw.stop:
			bw.drain(&batch)
			if len(batch) > 0 {
				bw.flush(batch)
			}
			return
		}

		for len(batch) < bw.maxBatchSize {
			select {
			case op := <-bw.pending:
				batch = append(batch, op)
			default:
				goto flush
			}
		}

	flush:
		bw.flush(batch)
		batch = batch[:0]
		timer.Reset(bw.flushInterval)
	}
}

func (bw *BatchWriter) drain(batch *[]*txOp) {
	for {
		select {
		case op := <-bw.pending:
			*batch = append(*batch, op)
		default:
			return
		}
	}
}

func (bw *BatchWriter) flush(batch []*txOp) {
	if len(batch) == 0 {
		return
	}

	tx, err := bw.db.Begin()
	if err != nil {
		for _, op := range batch {
			op.err <- fmt.Errorf("begin batch tx: %w", err)
		}
		return
	}

	var succeeded []*txOp

	for i, op := range batch {
		spName := fmt.Sprintf("sp%d", i)
		if _, err := tx.Exec("SAVEPOINT " + spName); err != nil {
			op.err <- fmt.Errorf("savepoint: %w", err)
			continue
		}

		if err := op.fn(tx); err != nil {
			tx.Exec("ROLLBACK TO " + spName)
			tx.Exec("RELEASE " + spName)
			op.err <- err
			continue
		}

		if _, err := tx.Exec("RELEASE " + spName); err != nil {
			op.err <- fmt.Errorf("release savepoint: %w", err)
			continue
		}

		succeeded = append(succeeded, op)
	}

	if len(succeeded) == 0 {
		tx.Rollback()
		return
	}

	if err := tx.Commit(); err != nil {
		for _, op := range succeeded {
			op.err <- fmt.Errorf("commit batch tx: %w", err)
		}
		return
	}

	for _, op := range succeeded {
		op.err <- nil
	}
}

// BatchWriterStats reports current backlog depth, for monitoring.
type BatchWriterStats struct {
	PendingOps int
}

// Stats returns current BatchWriter statistics.
func (bw *BatchWriter) Stats() BatchWriterStats {
	return BatchWriterStats{PendingOps: len(bw.pending)}
}

var _ Writer = (*BatchWriter)(nil)
