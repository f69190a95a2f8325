// Package sentinel wires the five core subsystems -- policy engine,
// circuit breaker, rate limiter, anomaly detector, audit log -- into a
// single per-request sequencer, generalizing the teacher's
// ProxyService/InterceptorChain/ApprovalInterceptor trio: where the
// teacher threads a CanonicalAction through a chain of
// ActionInterceptors, Interceptor runs a fixed, non-pluggable sequence
// because every step here is mandated by the decision engine's own
// 7-step order, not an operator-configurable chain.
package sentinel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelgate/sentinel/internal/ctxkey"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/anomaly"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/audit"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/canon"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

// loggerFromContext retrieves the request-enriched logger stashed by the
// inbound transport, falling back to nil so callers can use their own
// default when the context carries none.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// DownstreamTimeout bounds how long a forwarded call may run before the
// sequencer treats it as timed out and synthesizes a timeout response.
const DownstreamTimeout = 15 * time.Second

// anomalyWindow is the trailing window the frequency and error-rate
// anomaly components are measured over.
const anomalyWindow = time.Hour

// Downstream forwards an allowed or log-only tool call to the downstream
// tool-execution server. Implementations own the transport; the
// sequencer only needs a blocking call/response round trip per request.
type Downstream interface {
	Forward(ctx context.Context, tool, host, agent string, arguments map[string]interface{}) (response []byte, err error)
}

// Recorder is the interceptor's view of the metrics subsystem: one
// observation per decision, carrying the action taken and how long the
// full Handle call took. Implementations must be safe for concurrent
// use. New installs noopRecorder, so metrics wiring
// is strictly additive and never required to exercise the sequencer.
type Recorder interface {
	ObserveDecision(action policy.Action, duration time.Duration)
}

type noopRecorder struct{}

func (noopRecorder) ObserveDecision(policy.Action, time.Duration) {}

// Tracer is the interceptor's view of the tracing subsystem: one span
// per Handle call. StartSpan returns the (possibly child) context to
// thread through the rest of Handle, plus a function that ends the
// span; callers must defer it. New installs noopTracer, so tracing
// wiring is strictly additive.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, func())
}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string) (context.Context, func()) {
	return ctx, func() {}
}

// Result is what the sequencer produces for one request: the policy
// verdict plus whatever the downstream call (if any) returned.
type Result struct {
	Verdict  policy.Verdict
	Response []byte
	// Err is set when the verdict allowed forwarding but the downstream
	// call itself failed or timed out.
	Err error
}

// pendingCall tracks one in-flight forwarded request, generalizing the
// teacher's ApprovalStore.pending map from "awaiting human approval" to
// "awaiting any downstream round trip" -- keyed by request ID so a
// timeout or cancellation can be correlated back to its audit sequence
// number for the late response-status update.
type pendingCall struct {
	sequence  int64
	startedAt time.Time
	cancel    context.CancelFunc
}

// Interceptor is the per-request sequencer. One Interceptor serves every
// request against a single configured mode and subsystem set; mode is
// read fresh on every call so an operator toggling lockdown takes effect
// on the very next request.
type Interceptor struct {
	engine     *policy.Engine
	anomaly    *anomaly.Detector
	auditStore audit.Store
	downstream Downstream
	mode       func() policy.Mode
	logger     *slog.Logger
	metrics    Recorder
	tracer     Tracer

	mu      sync.Mutex
	pending map[string]*pendingCall
}

// New builds an Interceptor. mode is a callback rather than a fixed value
// so the current operator-configured mode is always consulted, never
// captured at construction time.
func New(engine *policy.Engine, det *anomaly.Detector, auditStore audit.Store, downstream Downstream, mode func() policy.Mode, logger *slog.Logger) *Interceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		engine:     engine,
		anomaly:    det,
		auditStore: auditStore,
		downstream: downstream,
		mode:       mode,
		logger:     logger,
		metrics:    noopRecorder{},
		tracer:     noopTracer{},
		pending:    make(map[string]*pendingCall),
	}
}

// SetMetrics wires a Recorder into the interceptor's decision path. Not
// part of New's signature since metrics wiring is optional and
// orthogonal to the five mandatory subsystem dependencies.
func (i *Interceptor) SetMetrics(m Recorder) {
	if m == nil {
		m = noopRecorder{}
	}
	i.metrics = m
}

// SetTracer wires a Tracer into the interceptor's decision path.
func (i *Interceptor) SetTracer(t Tracer) {
	if t == nil {
		t = noopTracer{}
	}
	i.tracer = t
}

// anomalyKey groups baselines per (tool, host), matching the anomaly
// baseline's own keying: a bigram component needs a baseline that
// receives every tool seen against a host, not one the agent dimension
// would fragment further.
func anomalyKey(rc policy.Context) string {
	return rc.Tool + "|" + rc.Host
}

// Handle runs one request through every subsystem in order: anomaly
// scoring (read-only, before the decision), the 7-step policy
// evaluation, the write-ahead audit append, the verdict's forwarding
// action, the late audit response update, and finally the anomaly
// baseline update -- which per spec must happen strictly after the
// decision, never before it.
func (i *Interceptor) Handle(ctx context.Context, requestID string, rc policy.Context) (Result, error) {
	ctx, endSpan := i.tracer.StartSpan(ctx, "sentinel.Handle")
	defer endSpan()

	logger := loggerFromContext(ctx)
	if logger == nil {
		logger = i.logger
	}

	start := time.Now()
	key := anomalyKey(rc)

	ops, errored, err := i.auditStore.RecentStats(ctx, rc.Tool, rc.Host, rc.Timestamp.Add(-anomalyWindow), rc.Timestamp)
	if err != nil {
		return Result{}, fmt.Errorf("sentinel: reading recent audit stats: %w", err)
	}
	var errorRate float64
	if ops > 0 {
		errorRate = float64(errored) / float64(ops)
	}

	var prevTool string
	if last, ok, err := i.auditStore.LastForHost(ctx, rc.Host, rc.Timestamp); err != nil {
		return Result{}, fmt.Errorf("sentinel: reading last audit entry for host: %w", err)
	} else if ok {
		prevTool = last.Tool
	}

	obs := anomaly.Observation{
		Tool:              rc.Tool,
		PrevTool:          prevTool,
		Arguments:         rc.Arguments,
		HourOfDay:         rc.Timestamp.Hour(),
		OpsLastHour:       float64(ops),
		ErrorRateLastHour: errorRate,
	}

	score, err := i.anomaly.Score(ctx, key, obs)
	if err != nil {
		return Result{}, fmt.Errorf("sentinel: scoring anomaly: %w", err)
	}

	verdict, err := i.engine.Evaluate(ctx, rc, i.mode(), score.Composite, convertRiskFactors(score.RiskFactors()))
	if err != nil {
		return Result{}, fmt.Errorf("sentinel: evaluating policy: %w", err)
	}

	if verdict.RequiresConfirmation && verdict.ConfirmationToken == "" {
		if err := i.engine.MintConfirmation(ctx, &verdict, rc, policy.DefaultConfirmationTTL); err != nil {
			return Result{}, fmt.Errorf("sentinel: minting confirmation token: %w", err)
		}
	}

	argsJSON, err := canon.SerializeRedacted(rc.Arguments)
	if err != nil {
		return Result{}, fmt.Errorf("sentinel: serializing audit arguments: %w", err)
	}

	sequence, err := i.auditStore.Append(ctx, audit.Entry{
		Timestamp:     rc.Timestamp,
		Tool:          rc.Tool,
		Host:          rc.Host,
		Agent:         rc.Agent,
		Verdict:       audit.VerdictString(verdict.Allowed, verdict.RequiresConfirmation),
		RiskScore:     verdict.RiskScore,
		ArgumentsJSON: argsJSON,
	})
	if err != nil {
		return Result{}, fmt.Errorf("sentinel: appending audit entry: %w", err)
	}

	result := Result{Verdict: verdict}

	switch {
	case verdict.RequiresConfirmation:
		// Ask: no forwarding, no response body -- the caller retries with
		// the minted token once an operator confirms out of band.
		i.setResponse(ctx, sequence, audit.ResponseStatusOK, "")

	case !verdict.Allowed:
		i.setResponse(ctx, sequence, audit.ResponseStatusOK, "")

	default:
		// allow or log-only: forward to the downstream server.
		response, fwdErr := i.forward(ctx, requestID, sequence, rc)
		result.Response = response
		result.Err = fwdErr
		if fwdErr != nil {
			status := audit.ResponseStatusError
			if errors.Is(fwdErr, context.DeadlineExceeded) {
				status = audit.ResponseStatusTimeout
			}
			i.setResponse(ctx, sequence, status, fwdErr.Error())
		} else {
			i.setResponse(ctx, sequence, audit.ResponseStatusOK, "")
		}
	}

	if err := i.anomaly.Observe(ctx, key, obs); err != nil {
		logger.Error("updating anomaly baseline", "error", err, "tool", rc.Tool, "host", rc.Host)
	}

	i.metrics.ObserveDecision(verdict.Action, time.Since(start))

	return result, nil
}

// forward runs the downstream call under DownstreamTimeout, tracking it
// in the pending-calls map for the duration of the round trip so a
// concurrent admin operation (or a future cancellation request) can
// correlate the in-flight call back to its audit sequence number.
func (i *Interceptor) forward(ctx context.Context, requestID string, sequence int64, rc policy.Context) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, DownstreamTimeout)
	defer cancel()

	i.mu.Lock()
	i.pending[requestID] = &pendingCall{sequence: sequence, startedAt: time.Now(), cancel: cancel}
	i.mu.Unlock()
	defer func() {
		i.mu.Lock()
		delete(i.pending, requestID)
		i.mu.Unlock()
	}()

	return i.downstream.Forward(callCtx, rc.Tool, rc.Host, rc.Agent, rc.Arguments)
}

func (i *Interceptor) setResponse(ctx context.Context, sequence int64, status, errorMessage string) {
	if err := i.auditStore.SetResponse(ctx, sequence, status, errorMessage); err != nil {
		logger := loggerFromContext(ctx)
		if logger == nil {
			logger = i.logger
		}
		logger.Error("setting audit response status", "error", err, "sequence", sequence)
	}
}

// Cancel aborts an in-flight forwarded call by request ID, if one is
// still pending. Reports whether a pending call was found and cancelled.
func (i *Interceptor) Cancel(requestID string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	p, ok := i.pending[requestID]
	if !ok {
		return false
	}
	p.cancel()
	delete(i.pending, requestID)
	return true
}

func convertRiskFactors(in []anomaly.RiskFactor) []policy.RiskFactor {
	out := make([]policy.RiskFactor, len(in))
	for idx, f := range in {
		out[idx] = policy.RiskFactor{Factor: f.Factor, Score: f.Score, Details: f.Details}
	}
	return out
}
