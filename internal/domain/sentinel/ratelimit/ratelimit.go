// Package ratelimit implements the persistent, fractional token-bucket
// limiter used to enforce a matched rule's RateLimit. Bucket state is
// keyed by (rule ID, tool, host, agent) so the same rule enforces
// independent budgets per caller, mirroring the key shape the teacher's
// MemoryRateLimiter uses for its GCRA buckets -- only the math changes,
// from GCRA to a plain refilling token bucket.
package ratelimit

import (
	"context"
	"time"
)

// Bucket is the persisted state of one token bucket.
type Bucket struct {
	Key       Key
	Tokens    float64
	UpdatedAt time.Time
}

// Key identifies a bucket.
type Key struct {
	RuleID string
	Tool   string
	Host   string
	Agent  string
}

// Store persists buckets keyed by Key. Implementations must serialize
// read-modify-write per key.
type Store interface {
	Get(ctx context.Context, key Key) (*Bucket, error)
	Put(ctx context.Context, b Bucket) error
}

// Spec is the limiter configuration carried by a matched rule.
type Spec struct {
	MaxTokens        float64
	RefillRatePerSec float64
}

// Limiter checks and debits token buckets against a Store.
type Limiter struct {
	store Store
}

// New creates a Limiter backed by store.
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// Result is the outcome of an Allow check.
type Result struct {
	Allowed           bool
	RemainingTokens   float64
	RetryAfterSeconds int
}

// Allow refills the bucket for key up to now, then attempts to debit one
// token. A bucket that does not yet exist starts full (MaxTokens) so the
// first call against a fresh key is never rejected.
func (l *Limiter) Allow(ctx context.Context, key Key, spec Spec, now time.Time) (Result, error) {
	b, err := l.store.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if b == nil {
		b = &Bucket{Key: key, Tokens: spec.MaxTokens, UpdatedAt: now}
	}

	elapsed := now.Sub(b.UpdatedAt).Seconds()
	if elapsed > 0 {
		b.Tokens += elapsed * spec.RefillRatePerSec
		if b.Tokens > spec.MaxTokens {
			b.Tokens = spec.MaxTokens
		}
	}
	b.UpdatedAt = now

	if b.Tokens < 1 {
		if err := l.store.Put(ctx, *b); err != nil {
			return Result{}, err
		}
		retryAfter := 0
		if spec.RefillRatePerSec > 0 {
			needed := 1 - b.Tokens
			retryAfter = int((needed / spec.RefillRatePerSec) + 0.999999)
		}
		return Result{Allowed: false, RemainingTokens: b.Tokens, RetryAfterSeconds: retryAfter}, nil
	}

	b.Tokens -= 1
	if err := l.store.Put(ctx, *b); err != nil {
		return Result{}, err
	}
	return Result{Allowed: true, RemainingTokens: b.Tokens}, nil
}
