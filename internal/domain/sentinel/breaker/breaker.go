// Package breaker implements the per-host circuit breaker state machine.
//
// State is owned by a persistent Store so it survives restarts; Breaker
// itself holds only the pure transition logic and default thresholds,
// mirroring the shape of the teacher's other stateful adapters
// (MemoryRateLimiter, ApprovalStore): a small struct wrapping a Store,
// with one method per transition-triggering event, each reading,
// modifying and writing the host's Record through the Store. Breaker
// itself takes no locks.
package breaker

import (
	"context"
	"time"
)

// State is one of the three circuit states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// DefaultThreshold is the number of consecutive failures that opens the
// circuit.
const DefaultThreshold = 2

// DefaultCooldown is how long the circuit stays open before a read
// transitions it to half-open.
const DefaultCooldown = 120 * time.Second

// Record is the persisted state for one host.
type Record struct {
	Host         string
	State        State
	FailureCount int
	LastFailure  *time.Time
	LastSuccess  *time.Time
	OpenedAt     *time.Time
	HalfOpenAt   *time.Time
}

// Store persists circuit-breaker records keyed by host. Implementations
// must serialize read-modify-write sequences per host so concurrent
// successes/failures for the same host cannot race.
type Store interface {
	Get(ctx context.Context, host string) (*Record, error)
	Put(ctx context.Context, r Record) error
}

// Breaker wraps a Store with the transition rules from the state table.
type Breaker struct {
	store     Store
	threshold int
	cooldown  time.Duration
}

// New creates a Breaker with the default threshold and cooldown.
func New(store Store) *Breaker {
	return NewWithConfig(store, DefaultThreshold, DefaultCooldown)
}

// NewWithConfig creates a Breaker with explicit threshold and cooldown.
func NewWithConfig(store Store, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{store: store, threshold: threshold, cooldown: cooldown}
}

// Status is the outcome of reading a host's circuit for gating purposes.
// ReadAndAdvance applies the "read at t, cooldown elapsed -> half-open"
// transition before returning, so callers always see up-to-date state.
type Status struct {
	State             State
	RetryAfterSeconds int
}

// ReadAndAdvance loads the record for host, applying the open->half-open
// clock-driven transition if the cooldown has elapsed, persists any
// resulting transition, and returns the resulting status.
func (b *Breaker) ReadAndAdvance(ctx context.Context, host string, now time.Time) (Status, error) {
	rec, err := b.load(ctx, host)
	if err != nil {
		return Status{}, err
	}

	if rec.State == StateOpen && rec.OpenedAt != nil && now.Sub(*rec.OpenedAt) >= b.cooldown {
		rec.State = StateHalfOpen
		t := now
		rec.HalfOpenAt = &t
		if err := b.store.Put(ctx, *rec); err != nil {
			return Status{}, err
		}
	}

	status := Status{State: rec.State}
	if rec.State == StateOpen && rec.OpenedAt != nil {
		remaining := b.cooldown - now.Sub(*rec.OpenedAt)
		if remaining < 0 {
			remaining = 0
		}
		status.RetryAfterSeconds = int(remaining.Round(time.Second) / time.Second)
		if remaining > 0 && status.RetryAfterSeconds == 0 {
			status.RetryAfterSeconds = 1
		}
	}
	return status, nil
}

// IsHealthy reports whether the host's circuit is anything other than
// open -- half-open and closed both pass requests through.
func (b *Breaker) IsHealthy(ctx context.Context, host string, now time.Time) (bool, error) {
	status, err := b.ReadAndAdvance(ctx, host, now)
	if err != nil {
		return false, err
	}
	return status.State != StateOpen, nil
}

// RetryAfterSeconds returns the remaining cooldown for an open circuit, or
// zero if the circuit is not open.
func (b *Breaker) RetryAfterSeconds(ctx context.Context, host string, now time.Time) (int, error) {
	status, err := b.ReadAndAdvance(ctx, host, now)
	if err != nil {
		return 0, err
	}
	return status.RetryAfterSeconds, nil
}

// RecordSuccess transitions the host's circuit toward closed.
func (b *Breaker) RecordSuccess(ctx context.Context, host string, now time.Time) error {
	rec, err := b.load(ctx, host)
	if err != nil {
		return err
	}
	rec.LastSuccess = &now
	switch rec.State {
	case StateOpen, StateHalfOpen:
		rec.State = StateClosed
		rec.FailureCount = 0
		rec.OpenedAt = nil
		rec.HalfOpenAt = nil
	case StateClosed:
		rec.FailureCount = 0
	}
	return b.store.Put(ctx, *rec)
}

// RecordFailure advances the host's failure count, opening the circuit
// once the threshold is reached (or immediately, from half-open).
func (b *Breaker) RecordFailure(ctx context.Context, host string, now time.Time) error {
	rec, err := b.load(ctx, host)
	if err != nil {
		return err
	}
	rec.LastFailure = &now

	switch rec.State {
	case StateHalfOpen:
		rec.State = StateOpen
		rec.OpenedAt = &now
	case StateClosed:
		rec.FailureCount++
		if rec.FailureCount >= b.threshold {
			rec.State = StateOpen
			rec.OpenedAt = &now
		}
	case StateOpen:
		// Already open; nothing further to advance.
	}
	return b.store.Put(ctx, *rec)
}

func (b *Breaker) load(ctx context.Context, host string) (*Record, error) {
	rec, err := b.store.Get(ctx, host)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &Record{Host: host, State: StateClosed}
	}
	return rec, nil
}
