// Package downstream adapts an outbound.MCPClient into a sentinel.Downstream:
// a blocking call/response round trip keyed by tool, host, and agent, with
// no policy awareness of its own.
package downstream

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/sentinelgate/sentinel/internal/port/outbound"
	"github.com/sentinelgate/sentinel/pkg/mcp"
)

type toolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type pendingReply struct {
	result []byte
	err    error
	rpcErr *jsonrpc.Error
}

// Stdio forwards tool calls to a downstream MCP server over its stdio
// pipes, correlating requests to responses by JSON-RPC ID. Multiple
// Forward calls may be in flight at once; the read loop dispatches each
// response to whichever caller is waiting on its ID.
type Stdio struct {
	client outbound.MCPClient
	nextID atomic.Int64

	mu      sync.Mutex
	stdin   io.WriteCloser
	pending map[string]chan pendingReply

	closed chan struct{}
}

// NewStdio builds a Stdio downstream over the given MCP client adapter.
// Start must be called before Forward.
func NewStdio(client outbound.MCPClient) *Stdio {
	return &Stdio{
		client:  client,
		pending: make(map[string]chan pendingReply),
		closed:  make(chan struct{}),
	}
}

// Start launches the downstream subprocess and begins reading its
// responses in the background.
func (s *Stdio) Start(ctx context.Context) error {
	stdin, stdout, err := s.client.Start(ctx)
	if err != nil {
		return fmt.Errorf("downstream: starting client: %w", err)
	}

	s.mu.Lock()
	s.stdin = stdin
	s.mu.Unlock()

	go s.readLoop(stdout)
	return nil
}

// Close shuts down the underlying client connection.
func (s *Stdio) Close() error {
	return s.client.Close()
}

func (s *Stdio) readLoop(stdout io.ReadCloser) {
	defer close(s.closed)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		decoded, err := mcp.DecodeMessage(append([]byte(nil), line...))
		if err != nil {
			continue
		}
		resp, ok := decoded.(*jsonrpc.Response)
		if !ok {
			// requests flowing back upstream (notifications, sampling
			// callbacks) are outside Forward's correlation scope.
			continue
		}

		key, err := idKey(resp.ID)
		if err != nil {
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[key]
		if ok {
			delete(s.pending, key)
		}
		s.mu.Unlock()
		if !ok {
			continue
		}

		if resp.Error != nil {
			ch <- pendingReply{err: fmt.Errorf("downstream: %v", resp.Error), rpcErr: resp.Error}
		} else {
			ch <- pendingReply{result: []byte(resp.Result)}
		}
	}

	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]chan pendingReply)
	s.mu.Unlock()
	for _, ch := range pending {
		ch <- pendingReply{err: fmt.Errorf("downstream: connection closed")}
	}
}

// Forward implements sentinel.Downstream. It encodes a tools/call request
// for the given tool and arguments, writes it to the subprocess stdin, and
// blocks until the matching response arrives or ctx is done. host and
// agent are not sent downstream and are not otherwise used; the
// downstream protocol has no notion of either.
func (s *Stdio) Forward(ctx context.Context, tool, host, agent string, arguments map[string]interface{}) ([]byte, error) {
	id, err := jsonrpc.MakeID(float64(s.nextID.Add(1)))
	if err != nil {
		return nil, fmt.Errorf("downstream: minting request id: %w", err)
	}

	params, err := json.Marshal(toolCallParams{Name: tool, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("downstream: marshaling params: %w", err)
	}

	req := &jsonrpc.Request{ID: id, Method: "tools/call", Params: params}
	reply, err := s.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	return reply.result, reply.err
}

// ForwardRaw relays req to the downstream server verbatim and returns its
// response, unmodified. Used for non-tool-call traffic (handshakes,
// pings) that the sequencer passes through without policy evaluation --
// req.ID is preserved, so the caller's own ID shows up in the returned
// response exactly as the downstream server set it.
func (s *Stdio) ForwardRaw(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	reply, err := s.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	if reply.rpcErr != nil {
		return &jsonrpc.Response{ID: req.ID, Error: reply.rpcErr}, nil
	}
	return &jsonrpc.Response{ID: req.ID, Result: reply.result}, nil
}

// roundTrip encodes req, writes it to the subprocess stdin, and blocks
// until the matching response arrives, ctx is done, or the connection
// closes.
func (s *Stdio) roundTrip(ctx context.Context, req *jsonrpc.Request) (pendingReply, error) {
	encoded, err := mcp.EncodeMessage(req)
	if err != nil {
		return pendingReply{}, fmt.Errorf("downstream: encoding request: %w", err)
	}
	encoded = append(encoded, '\n')

	key, err := idKey(req.ID)
	if err != nil {
		return pendingReply{}, fmt.Errorf("downstream: keying request id: %w", err)
	}

	reply := make(chan pendingReply, 1)
	s.mu.Lock()
	stdin := s.stdin
	if stdin != nil {
		s.pending[key] = reply
	}
	s.mu.Unlock()

	if stdin == nil {
		return pendingReply{}, fmt.Errorf("downstream: not started")
	}

	if _, err := stdin.Write(encoded); err != nil {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		return pendingReply{}, fmt.Errorf("downstream: writing request: %w", err)
	}

	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
		return pendingReply{}, ctx.Err()
	case <-s.closed:
		return pendingReply{}, fmt.Errorf("downstream: connection closed")
	}
}

// idKey derives a map key from a JSON-RPC ID. jsonrpc.ID marshals to its
// wire form (a JSON number or string) regardless of which one a given
// request used, so two IDs that are wire-equal key identically.
func idKey(id jsonrpc.ID) (string, error) {
	b, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
