package store_test

import (
	"errors"
	"testing"
	"time"

	"github.com/predictcoord/coordinator/internal/store"
)

func TestStartBackfillJobAdmissionControl(t *testing.T) {
	s := testStore(t)
	scope := store.FeedScope{Source: "pyth", Subject: "BTC-USD", Kind: "price", Granularity: "1m"}
	start := time.Now().Add(-24 * time.Hour)
	end := time.Now()

	job, err := s.StartBackfillJob(scope, start, end)
	if err != nil {
		t.Fatalf("StartBackfillJob: %v", err)
	}
	if job.Status != store.BackfillRunning {
		t.Fatalf("status = %q, want running", job.Status)
	}

	_, err = s.StartBackfillJob(scope, start, end)
	if err == nil {
		t.Fatal("expected a second concurrent backfill job to be refused")
	}

	if err := s.CompleteBackfillJob(job.ID, nil); err != nil {
		t.Fatalf("CompleteBackfillJob: %v", err)
	}

	job2, err := s.StartBackfillJob(scope, start, end)
	if err != nil {
		t.Fatalf("StartBackfillJob after completion: %v", err)
	}
	if job2.ID == job.ID {
		t.Fatal("expected a fresh job ID")
	}
}

func TestAdvanceBackfillCursorAccumulates(t *testing.T) {
	s := testStore(t)
	scope := store.FeedScope{Source: "pyth", Subject: "BTC-USD", Kind: "price", Granularity: "1m"}
	start := time.Now().Add(-time.Hour)
	end := time.Now()

	job, err := s.StartBackfillJob(scope, start, end)
	if err != nil {
		t.Fatalf("StartBackfillJob: %v", err)
	}

	mid := start.Add(30 * time.Minute)
	if err := s.AdvanceBackfillCursor(job.ID, mid, 10, 1); err != nil {
		t.Fatalf("AdvanceBackfillCursor: %v", err)
	}
	if err := s.AdvanceBackfillCursor(job.ID, end, 5, 1); err != nil {
		t.Fatalf("AdvanceBackfillCursor: %v", err)
	}

	got, err := s.GetBackfillJob(job.ID)
	if err != nil {
		t.Fatalf("GetBackfillJob: %v", err)
	}
	if got.RecordsWritten != 15 {
		t.Errorf("records written = %d, want 15", got.RecordsWritten)
	}
	if got.PagesFetched != 2 {
		t.Errorf("pages fetched = %d, want 2", got.PagesFetched)
	}
}

func TestCompleteBackfillJobFailed(t *testing.T) {
	s := testStore(t)
	scope := store.FeedScope{Source: "pyth", Subject: "BTC-USD", Kind: "price", Granularity: "1m"}
	job, err := s.StartBackfillJob(scope, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("StartBackfillJob: %v", err)
	}

	if err := s.CompleteBackfillJob(job.ID, errors.New("upstream timed out")); err != nil {
		t.Fatalf("CompleteBackfillJob: %v", err)
	}

	got, err := s.GetBackfillJob(job.ID)
	if err != nil {
		t.Fatalf("GetBackfillJob: %v", err)
	}
	if got.Status != store.BackfillFailed {
		t.Fatalf("status = %q, want failed", got.Status)
	}
	if got.Error == nil || *got.Error != "upstream timed out" {
		t.Fatalf("error = %v, want 'upstream timed out'", got.Error)
	}

	next, err := s.StartBackfillJob(scope, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("StartBackfillJob after failure: %v", err)
	}
	if next.ID == job.ID {
		t.Fatal("expected a fresh job ID")
	}
}
