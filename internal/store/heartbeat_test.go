package store_test

import (
	"testing"
	"time"
)

func TestAcquireScoreTickLockExclusion(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	ok, err := s.AcquireScoreTickLock("node-a", time.Minute, now)
	if err != nil {
		t.Fatalf("AcquireScoreTickLock(a): %v", err)
	}
	if !ok {
		t.Fatal("expected node-a to acquire the unheld lock")
	}

	ok, err = s.AcquireScoreTickLock("node-b", time.Minute, now)
	if err != nil {
		t.Fatalf("AcquireScoreTickLock(b): %v", err)
	}
	if ok {
		t.Fatal("expected node-b to be refused while node-a holds the lease")
	}

	// A renewal by the current holder succeeds.
	ok, err = s.AcquireScoreTickLock("node-a", time.Minute, now.Add(time.Second))
	if err != nil {
		t.Fatalf("AcquireScoreTickLock(a renew): %v", err)
	}
	if !ok {
		t.Fatal("expected node-a to renew its own lease")
	}
}

func TestScoreTickLockExpiresAndReleases(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	if _, err := s.AcquireScoreTickLock("node-a", time.Second, now); err != nil {
		t.Fatalf("AcquireScoreTickLock: %v", err)
	}

	ok, err := s.AcquireScoreTickLock("node-b", time.Minute, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("AcquireScoreTickLock after expiry: %v", err)
	}
	if !ok {
		t.Fatal("expected node-b to acquire after node-a's lease expired")
	}

	if err := s.ReleaseScoreTickLock("node-b"); err != nil {
		t.Fatalf("ReleaseScoreTickLock: %v", err)
	}

	ok, err = s.AcquireScoreTickLock("node-a", time.Minute, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("AcquireScoreTickLock after release: %v", err)
	}
	if !ok {
		t.Fatal("expected node-a to acquire the released lock")
	}
}
