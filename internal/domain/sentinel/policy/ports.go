package policy

import (
	"context"
	"time"
)

// BreakerGate is the engine's view of the circuit breaker subsystem (step
// 1). It is satisfied by an adapter wrapping breaker.Breaker so this
// package never imports the breaker package directly -- the engine only
// needs a yes/no plus a retry hint.
type BreakerGate interface {
	// Allowed reports whether host's circuit currently passes requests,
	// and if not, how long until the caller should retry.
	Allowed(ctx context.Context, host string, now time.Time) (ok bool, retryAfter time.Duration, err error)
}

// RateLimitGate is the engine's view of the rate limiter subsystem (step
// 5), keyed by the matched rule plus the calling tuple.
type RateLimitGate interface {
	Allow(ctx context.Context, ruleID, tool, host, agent string, spec RateLimitSpec, now time.Time) (ok bool, retryAfter time.Duration, err error)
}

// ConditionEvaluator evaluates a rule's optional CEL predicate. A rule
// whose Condition is empty never reaches this interface -- it is treated
// as unconditionally satisfied by the four pattern predicates alone.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, expression string, evalCtx Context) (bool, error)
}
