// Package stdio is the inbound adapter binding the sentinel core to a
// single line-delimited JSON-RPC stream over stdin/stdout, per the
// external interface spec: non-tool-call methods pass through
// unmodified, tools/call requests go through the full interceptor
// pipeline, and the three verdict outcomes (deny/ask/timeout) are
// synthesized as JSON-RPC errors with fixed codes.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/sentinelgate/sentinel/internal/ctxkey"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
	"github.com/sentinelgate/sentinel/internal/port/inbound"
	"github.com/sentinelgate/sentinel/pkg/mcp"
)

// Error codes for the three verdict outcomes a caller can observe on the
// wire, fixed by the external interface spec -- never renumbered.
const (
	codeDenied             = -32000
	codeConfirmationNeeded = -32001
	codeTimeout            = -32002

	// codeDownstreamError is the standard JSON-RPC "internal error" code,
	// used for a downstream round-trip failure that isn't a timeout. The
	// Downstream port only returns a generic error, not the structured
	// jsonrpc.Error the subprocess replied with, so this cannot relay the
	// downstream error verbatim the way a timeout can be distinguished.
	codeDownstreamError = -32603
)

const (
	defaultHost  = "local"
	defaultAgent = "unknown"
)

// rawForwarder is the subset of downstream.Stdio the transport needs for
// non-tool-call traffic; kept as an interface so tests can fake it
// without starting a real subprocess.
type rawForwarder interface {
	ForwardRaw(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)
}

// toolCallParams is the wire shape of a tools/call request's params, per
// the external interface spec: { name, arguments, agent? }.
type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
	Agent     string                 `json:"agent,omitempty"`
}

// Transport reads newline-delimited JSON-RPC requests from in, routes
// each through the interceptor or passthrough, and writes the
// corresponding response to out. Multiple requests are handled
// concurrently; a mutex serializes the interleaved writes to out so one
// response is never split by another.
type Transport struct {
	interceptor *sentinel.Interceptor
	passthrough rawForwarder
	logger      *slog.Logger

	in  io.Reader
	out io.Writer

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// New builds a Transport over in/out, dispatching tool calls to
// interceptor and everything else to passthrough.
func New(interceptor *sentinel.Interceptor, passthrough rawForwarder, in io.Reader, out io.Writer, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		interceptor: interceptor,
		passthrough: passthrough,
		logger:      logger,
		in:          in,
		out:         out,
	}
}

// Start reads lines from in until EOF or ctx is cancelled, dispatching
// each to its own goroutine so a slow tool call never blocks requests
// behind it. Blocks until every in-flight request has been handled.
func (t *Transport) Start(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.handleLine(ctx, line)
		}()
	}
	t.wg.Wait()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdio: reading input: %w", err)
	}
	return ctx.Err()
}

// Close is a no-op: the transport owns no resources of its own beyond
// the in-flight goroutines Start already waits out.
func (t *Transport) Close() error { return nil }

var _ inbound.ProxyService = (*Transport)(nil)

func (t *Transport) handleLine(ctx context.Context, line []byte) {
	decoded, err := mcp.DecodeMessage(line)
	if err != nil {
		t.logger.Error("discarding unparseable line", "error", err)
		return
	}

	req, ok := decoded.(*jsonrpc.Request)
	if !ok {
		// a *jsonrpc.Response arriving on the inbound stream has no
		// caller waiting on it here; nothing useful to do but drop it.
		t.logger.Debug("discarding unexpected response on inbound stream")
		return
	}

	if req.Method != "tools/call" {
		t.passThrough(ctx, req)
		return
	}
	t.handleToolCall(ctx, req)
}

func (t *Transport) passThrough(ctx context.Context, req *jsonrpc.Request) {
	resp, err := t.passthrough.ForwardRaw(ctx, req)
	if err != nil {
		t.logger.Error("passthrough request failed", "method", req.Method, "error", err)
		return
	}
	t.writeResponse(resp)
}

func (t *Transport) handleToolCall(ctx context.Context, req *jsonrpc.Request) {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		t.writeResponse(&jsonrpc.Response{
			ID:    req.ID,
			Error: &jsonrpc.Error{Code: codeDenied, Message: "Policy violation"},
		})
		return
	}

	host := defaultHost
	if h, ok := params.Arguments["host"].(string); ok && h != "" {
		host = h
	}
	agent := defaultAgent
	if params.Agent != "" {
		agent = params.Agent
	}
	confirmationToken, _ := params.Arguments["confirmation_token"].(string)

	rc := policy.Context{
		Tool:              params.Name,
		Host:              host,
		Agent:             agent,
		Arguments:         params.Arguments,
		Timestamp:         time.Now().UTC(),
		ConfirmationToken: confirmationToken,
	}

	requestID := idString(req.ID)
	ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, t.logger.With("request_id", requestID, "tool", params.Name, "host", host, "agent", agent))
	result, err := t.interceptor.Handle(ctx, requestID, rc)
	if err != nil {
		t.logger.Error("interceptor failed", "tool", params.Name, "host", host, "error", err)
		t.writeResponse(&jsonrpc.Response{
			ID:    req.ID,
			Error: &jsonrpc.Error{Code: codeDenied, Message: "Policy violation"},
		})
		return
	}

	t.writeResponse(t.verdictResponse(req.ID, result))
}

// verdictResponse translates an interceptor Result into the JSON-RPC
// response the caller observes, per the external interface spec's fixed
// error shapes for denied, ask, and timeout outcomes.
func (t *Transport) verdictResponse(id jsonrpc.ID, result sentinel.Result) *jsonrpc.Response {
	v := result.Verdict

	if v.RequiresConfirmation {
		return &jsonrpc.Response{ID: id, Error: &jsonrpc.Error{
			Code:    codeConfirmationNeeded,
			Message: "Confirmation required",
			Data: mustMarshal(map[string]interface{}{
				"reason":            v.Reason,
				"confirmationToken": v.ConfirmationToken,
				"riskScore":         v.RiskScore,
				"riskFactors":       v.RiskFactors,
			}),
		}}
	}

	if !v.Allowed {
		return &jsonrpc.Response{ID: id, Error: &jsonrpc.Error{
			Code:    codeDenied,
			Message: "Policy violation",
			Data: mustMarshal(map[string]interface{}{
				"reason":      v.Reason,
				"riskScore":   v.RiskScore,
				"riskFactors": v.RiskFactors,
			}),
		}}
	}

	if result.Err != nil {
		if errors.Is(result.Err, context.DeadlineExceeded) {
			return &jsonrpc.Response{ID: id, Error: &jsonrpc.Error{Code: codeTimeout, Message: "Request timeout"}}
		}
		return &jsonrpc.Response{ID: id, Error: &jsonrpc.Error{Code: codeDownstreamError, Message: result.Err.Error()}}
	}

	return &jsonrpc.Response{ID: id, Result: result.Response}
}

func (t *Transport) writeResponse(resp *jsonrpc.Response) {
	encoded, err := mcp.EncodeMessage(resp)
	if err != nil {
		t.logger.Error("encoding response", "error", err)
		return
	}
	encoded = append(encoded, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.out.Write(encoded); err != nil {
		t.logger.Error("writing response", "error", err)
	}
}

// idString derives a stable map/log key from a JSON-RPC ID by
// marshaling it to its wire form, mirroring downstream.idKey.
func idString(id jsonrpc.ID) string {
	b, err := json.Marshal(id)
	if err != nil {
		return ""
	}
	return string(b)
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
