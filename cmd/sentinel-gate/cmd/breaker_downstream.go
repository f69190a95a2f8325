package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/breaker"
)

// breakerRecordingDownstream wraps a sentinel.Downstream so every forward
// call's outcome feeds the circuit breaker's failure count, closing the
// loop between the breaker's pre-emptive gate (step 1 of the decision
// order, consulted before a call is even attempted) and the breaker's
// own state transitions (which only change in response to a real
// forwarded call succeeding or failing).
type breakerRecordingDownstream struct {
	downstream sentinel.Downstream
	breaker    *breaker.Breaker
	logger     *slog.Logger
}

func newBreakerRecordingDownstream(downstream sentinel.Downstream, b *breaker.Breaker, logger *slog.Logger) *breakerRecordingDownstream {
	if logger == nil {
		logger = slog.Default()
	}
	return &breakerRecordingDownstream{downstream: downstream, breaker: b, logger: logger}
}

func (d *breakerRecordingDownstream) Forward(ctx context.Context, tool, host, agent string, arguments map[string]interface{}) ([]byte, error) {
	response, err := d.downstream.Forward(ctx, tool, host, agent, arguments)

	now := time.Now().UTC()
	var recordErr error
	if err != nil {
		recordErr = d.breaker.RecordFailure(ctx, host, now)
	} else {
		recordErr = d.breaker.RecordSuccess(ctx, host, now)
	}
	if recordErr != nil {
		// Breaker bookkeeping is best-effort: a failure to persist the
		// outcome must not mask the downstream call's own result.
		d.logger.Error("recording breaker outcome", "host", host, "error", recordErr)
	}

	return response, err
}
