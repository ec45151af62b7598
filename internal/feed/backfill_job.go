package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/predictcoord/coordinator/internal/store"
)

// BackfillRunner drives one admission-controlled BackfillJob: paginate
// historical data from the source, write daily Hive-partitioned parquet
// files, and advance cursor_ts after each page so a restart resumes from
// the persisted cursor.
type BackfillRunner struct {
	store   *store.Store
	writer  *ParquetWriter
	log     *slog.Logger
}

// NewBackfillRunner creates a BackfillRunner writing under dataDir.
func NewBackfillRunner(s *store.Store, dataDir string, log *slog.Logger) *BackfillRunner {
	if log == nil {
		log = slog.Default()
	}
	return &BackfillRunner{store: s, writer: NewParquetWriter(dataDir), log: log}
}

// Start admission-controls and launches one BackfillJob for scope over
// [start, end], returning immediately with the persisted job; run continues
// in the background until ctx is cancelled or the job completes.
func (r *BackfillRunner) Start(ctx context.Context, registry *Registry, sourceName string, scope store.FeedScope, start, end time.Time) (*store.BackfillJob, error) {
	adapter, err := registry.Resolve(sourceName)
	if err != nil {
		return nil, err
	}
	job, err := r.store.StartBackfillJob(scope, start, end)
	if err != nil {
		return nil, err
	}
	go r.run(ctx, adapter, scope, job)
	return job, nil
}

func (r *BackfillRunner) run(ctx context.Context, adapter SourceAdapter, scope store.FeedScope, job *store.BackfillJob) {
	pages, err := adapter.Backfill(ctx, scope, job.CursorTs, job.EndTs)
	if err != nil {
		r.store.CompleteBackfillJob(job.ID, fmt.Errorf("start backfill stream: %w", err))
		return
	}

	var runErr error
	for page := range pages {
		if ctxErr := ctx.Err(); ctxErr != nil {
			runErr = ctxErr
			break
		}
		if len(page.Records) > 0 {
			if err := r.writer.WritePartitioned(scope, page.Records); err != nil {
				runErr = fmt.Errorf("write parquet page: %w", err)
				break
			}
		}
		if err := r.store.AdvanceBackfillCursor(job.ID, page.Cursor, int64(len(page.Records)), 1); err != nil {
			runErr = fmt.Errorf("advance cursor: %w", err)
			break
		}
		if page.Done {
			break
		}
	}

	if err := r.store.CompleteBackfillJob(job.ID, runErr); err != nil {
		r.log.Error("backfill job completion failed to persist", "job_id", job.ID, "err", err)
	}
}
