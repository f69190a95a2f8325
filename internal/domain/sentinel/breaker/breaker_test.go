package breaker

import (
	"context"
	"testing"
	"time"
)

type memStore struct {
	m map[string]Record
}

func newMemStore() *memStore { return &memStore{m: map[string]Record{}} }

func (s *memStore) Get(ctx context.Context, host string) (*Record, error) {
	if r, ok := s.m[host]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s *memStore) Put(ctx context.Context, r Record) error {
	s.m[r.Host] = r
	return nil
}

func TestHealthyUntilThresholdConsecutiveFailures(t *testing.T) {
	store := newMemStore()
	b := NewWithConfig(store, 3, time.Minute)
	now := time.Now()

	for i := 0; i < 2; i++ {
		if err := b.RecordFailure(context.Background(), "h", now); err != nil {
			t.Fatalf("record failure: %v", err)
		}
		healthy, err := b.IsHealthy(context.Background(), "h", now)
		if err != nil {
			t.Fatalf("is healthy: %v", err)
		}
		if !healthy {
			t.Fatalf("expected host still healthy after %d failures (threshold 3)", i+1)
		}
	}

	if err := b.RecordFailure(context.Background(), "h", now); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	healthy, err := b.IsHealthy(context.Background(), "h", now)
	if err != nil {
		t.Fatalf("is healthy: %v", err)
	}
	if healthy {
		t.Fatal("expected circuit open after reaching threshold")
	}
}

func TestOpenCircuitDeniesUntilCooldownElapses(t *testing.T) {
	store := newMemStore()
	b := NewWithConfig(store, 1, 10*time.Second)
	now := time.Now()

	if err := b.RecordFailure(context.Background(), "h", now); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	healthy, err := b.IsHealthy(context.Background(), "h", now.Add(5*time.Second))
	if err != nil {
		t.Fatalf("is healthy: %v", err)
	}
	if healthy {
		t.Fatal("expected circuit still open before cooldown elapses")
	}

	retryAfter, err := b.RetryAfterSeconds(context.Background(), "h", now.Add(5*time.Second))
	if err != nil {
		t.Fatalf("retry after: %v", err)
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry-after while open, got %d", retryAfter)
	}
}

func TestCooldownTransitionsToHalfOpenThenSuccessCloses(t *testing.T) {
	store := newMemStore()
	b := NewWithConfig(store, 1, 10*time.Second)
	now := time.Now()

	if err := b.RecordFailure(context.Background(), "h", now); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	afterCooldown := now.Add(11 * time.Second)
	status, err := b.ReadAndAdvance(context.Background(), "h", afterCooldown)
	if err != nil {
		t.Fatalf("read and advance: %v", err)
	}
	if status.State != StateHalfOpen {
		t.Fatalf("expected half-open after cooldown elapses, got %v", status.State)
	}

	if err := b.RecordSuccess(context.Background(), "h", afterCooldown); err != nil {
		t.Fatalf("record success: %v", err)
	}
	healthy, err := b.IsHealthy(context.Background(), "h", afterCooldown)
	if err != nil {
		t.Fatalf("is healthy: %v", err)
	}
	if !healthy {
		t.Fatal("expected circuit closed after success in half-open")
	}
	rec := store.m["h"]
	if rec.State != StateClosed || rec.FailureCount != 0 {
		t.Fatalf("expected closed state with reset failure count, got %+v", rec)
	}
}

func TestHalfOpenFailureReopensImmediately(t *testing.T) {
	store := newMemStore()
	b := NewWithConfig(store, 1, 10*time.Second)
	now := time.Now()

	if err := b.RecordFailure(context.Background(), "h", now); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	afterCooldown := now.Add(11 * time.Second)
	if _, err := b.ReadAndAdvance(context.Background(), "h", afterCooldown); err != nil {
		t.Fatalf("read and advance: %v", err)
	}

	if err := b.RecordFailure(context.Background(), "h", afterCooldown); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	healthy, err := b.IsHealthy(context.Background(), "h", afterCooldown)
	if err != nil {
		t.Fatalf("is healthy: %v", err)
	}
	if healthy {
		t.Fatal("expected circuit to reopen on failure while half-open")
	}
}

func TestSuccessWhileClosedResetsFailureCount(t *testing.T) {
	store := newMemStore()
	b := NewWithConfig(store, 3, time.Minute)
	now := time.Now()

	if err := b.RecordFailure(context.Background(), "h", now); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := b.RecordSuccess(context.Background(), "h", now); err != nil {
		t.Fatalf("record success: %v", err)
	}
	if err := b.RecordFailure(context.Background(), "h", now); err != nil {
		t.Fatalf("record failure: %v", err)
	}
	if err := b.RecordFailure(context.Background(), "h", now); err != nil {
		t.Fatalf("record failure: %v", err)
	}

	healthy, err := b.IsHealthy(context.Background(), "h", now)
	if err != nil {
		t.Fatalf("is healthy: %v", err)
	}
	if !healthy {
		t.Fatal("expected circuit still healthy: success should have reset the count, only 2 failures since")
	}
}

func TestNonexistentHostStartsClosed(t *testing.T) {
	store := newMemStore()
	b := New(store)
	healthy, err := b.IsHealthy(context.Background(), "never-seen", time.Now())
	if err != nil {
		t.Fatalf("is healthy: %v", err)
	}
	if !healthy {
		t.Fatal("expected an unknown host to start with a closed circuit")
	}
}
