package sentinel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/anomaly"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/audit"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

type memRuleStore struct{ rules []policy.Rule }

func (m *memRuleStore) EnabledRules(ctx context.Context) ([]policy.Rule, error) { return m.rules, nil }
func (m *memRuleStore) Rule(ctx context.Context, id string) (*policy.Rule, error) {
	for _, r := range m.rules {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, policy.ErrRuleNotFound
}
func (m *memRuleStore) SaveRule(ctx context.Context, r *policy.Rule) error { return nil }
func (m *memRuleStore) DeleteRule(ctx context.Context, id string) error   { return nil }

type memQuarantineStore struct{}

func (memQuarantineStore) IsQuarantined(ctx context.Context, scope policy.QuarantineScope, target string) (*policy.QuarantineEntry, error) {
	return nil, nil
}
func (memQuarantineStore) Upsert(ctx context.Context, e policy.QuarantineEntry) error { return nil }
func (memQuarantineStore) Delete(ctx context.Context, scope policy.QuarantineScope, target string) error {
	return nil
}
func (memQuarantineStore) List(ctx context.Context) ([]policy.QuarantineEntry, error) { return nil, nil }

type memConfirmationStore struct{}

func (memConfirmationStore) Mint(ctx context.Context, tool, host, agent string, arguments map[string]interface{}, ttl time.Duration) (*policy.ConfirmationToken, error) {
	return &policy.ConfirmationToken{Token: "tok-1", Tool: tool, Host: host, Agent: agent, ExpiresAt: time.Now().Add(ttl)}, nil
}
func (memConfirmationStore) Validate(ctx context.Context, token, tool, host, agent string) (bool, error) {
	return false, nil
}

type memAnomalyStore struct{ baselines map[string]*anomaly.Baseline }

func newMemAnomalyStore() *memAnomalyStore { return &memAnomalyStore{baselines: map[string]*anomaly.Baseline{}} }

func (m *memAnomalyStore) Get(ctx context.Context, key string) (*anomaly.Baseline, error) {
	return m.baselines[key], nil
}
func (m *memAnomalyStore) Put(ctx context.Context, b *anomaly.Baseline) error {
	m.baselines[b.Key] = b
	return nil
}

type memAuditStore struct {
	entries []audit.Entry
}

func (m *memAuditStore) Append(ctx context.Context, e audit.Entry) (int64, error) {
	prev := audit.Genesis
	seq := int64(len(m.entries) + 1)
	if len(m.entries) > 0 {
		prev = m.entries[len(m.entries)-1].Hash
	}
	e.Sequence = seq
	e.PreviousHash = prev
	e.Hash = audit.ComputeHash(seq, e.Timestamp, e.Tool, e.Host, e.Agent, e.Verdict, prev)
	m.entries = append(m.entries, e)
	return seq, nil
}
func (m *memAuditStore) SetResponse(ctx context.Context, sequence int64, status, errorMessage string) error {
	for i := range m.entries {
		if m.entries[i].Sequence == sequence {
			m.entries[i].ResponseStatus = status
			m.entries[i].ErrorMessage = errorMessage
			return nil
		}
	}
	return nil
}
func (m *memAuditStore) RecentStats(ctx context.Context, tool, host string, since, asOf time.Time) (ops, errored int, err error) {
	for _, e := range m.entries {
		if e.Tool != tool || e.Host != host {
			continue
		}
		if e.Timestamp.After(since) && !e.Timestamp.After(asOf) {
			ops++
			if e.ResponseStatus == audit.ResponseStatusError {
				errored++
			}
		}
	}
	return ops, errored, nil
}

func (m *memAuditStore) LastForHost(ctx context.Context, host string, asOf time.Time) (audit.Entry, bool, error) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.Host == host && e.Timestamp.Before(asOf) {
			return e, true, nil
		}
	}
	return audit.Entry{}, false, nil
}

func (m *memAuditStore) Flush(ctx context.Context) error { return nil }
func (m *memAuditStore) Close() error                    { return nil }

type fakeDownstream struct {
	response []byte
	err      error
	called   bool
}

func (f *fakeDownstream) Forward(ctx context.Context, tool, host, agent string, arguments map[string]interface{}) ([]byte, error) {
	f.called = true
	return f.response, f.err
}

func newTestInterceptor(rules []policy.Rule, ds Downstream, mode policy.Mode) (*Interceptor, *memAuditStore) {
	engine := policy.New(&memRuleStore{rules: rules}, memQuarantineStore{}, memConfirmationStore{}, nil, nil, nil)
	det := anomaly.New(newMemAnomalyStore())
	as := &memAuditStore{}
	return New(engine, det, as, ds, func() policy.Mode { return mode }, nil), as
}

func baseContext() policy.Context {
	return policy.Context{
		Tool:      "fs.read",
		Host:      "build-agent-1",
		Agent:     "claude",
		Arguments: map[string]interface{}{"path": "/tmp/a"},
		Timestamp: time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC),
	}
}

func TestHandleAllowedRuleForwardsToDownstream(t *testing.T) {
	rules := []policy.Rule{{ID: "allow-all", Enabled: true, Action: policy.ActionAllow, ToolPattern: "*"}}
	ds := &fakeDownstream{response: []byte(`{"ok":true}`)}
	i, as := newTestInterceptor(rules, ds, policy.ModeAlert)

	res, err := i.Handle(context.Background(), "req-1", baseContext())
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if !ds.called {
		t.Fatal("expected downstream to be called for allow verdict")
	}
	if string(res.Response) != `{"ok":true}` {
		t.Fatalf("expected forwarded response, got %s", res.Response)
	}
	if len(as.entries) != 1 || as.entries[0].ResponseStatus != audit.ResponseStatusOK {
		t.Fatalf("expected one OK audit entry, got %+v", as.entries)
	}
}

func TestHandleDeniedRuleDoesNotForward(t *testing.T) {
	rules := []policy.Rule{{ID: "deny-all", Enabled: true, Action: policy.ActionDeny, ToolPattern: "*"}}
	ds := &fakeDownstream{response: []byte(`{"ok":true}`)}
	i, as := newTestInterceptor(rules, ds, policy.ModeAlert)

	res, err := i.Handle(context.Background(), "req-2", baseContext())
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if ds.called {
		t.Fatal("expected downstream not to be called for deny verdict")
	}
	if res.Verdict.Allowed {
		t.Fatalf("expected denied verdict, got %+v", res.Verdict)
	}
	if len(as.entries) != 1 || as.entries[0].Verdict != audit.VerdictDenied {
		t.Fatalf("expected one denied audit entry, got %+v", as.entries)
	}
}

func TestHandleAskVerdictMintsTokenWithoutForwarding(t *testing.T) {
	rules := []policy.Rule{{ID: "ask-all", Enabled: true, Action: policy.ActionAsk, ToolPattern: "*"}}
	ds := &fakeDownstream{}
	i, as := newTestInterceptor(rules, ds, policy.ModeAlert)

	res, err := i.Handle(context.Background(), "req-3", baseContext())
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if ds.called {
		t.Fatal("expected downstream not to be called for ask verdict")
	}
	if !res.Verdict.RequiresConfirmation || res.Verdict.ConfirmationToken == "" {
		t.Fatalf("expected minted confirmation token, got %+v", res.Verdict)
	}
	if len(as.entries) != 1 || as.entries[0].Verdict != audit.VerdictAsked {
		t.Fatalf("expected one asked audit entry, got %+v", as.entries)
	}
}

func TestHandleDownstreamErrorRecordedOnAuditEntry(t *testing.T) {
	rules := []policy.Rule{{ID: "allow-all", Enabled: true, Action: policy.ActionAllow, ToolPattern: "*"}}
	ds := &fakeDownstream{err: errors.New("connection refused")}
	i, as := newTestInterceptor(rules, ds, policy.ModeAlert)

	res, err := i.Handle(context.Background(), "req-4", baseContext())
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if res.Err == nil {
		t.Fatal("expected forwarding error to be surfaced on the result")
	}
	if len(as.entries) != 1 || as.entries[0].ResponseStatus != audit.ResponseStatusError {
		t.Fatalf("expected error response status recorded, got %+v", as.entries)
	}
}

func TestHandleLogOnlyForwardsButDoesNotChangeAllowedSemantics(t *testing.T) {
	rules := []policy.Rule{{ID: "log-all", Enabled: true, Action: policy.ActionLogOnly, ToolPattern: "*"}}
	ds := &fakeDownstream{response: []byte(`{}`)}
	i, _ := newTestInterceptor(rules, ds, policy.ModeAlert)

	res, err := i.Handle(context.Background(), "req-5", baseContext())
	if err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if !ds.called {
		t.Fatal("expected log-only verdict to still forward")
	}
	if res.Verdict.Action != policy.ActionLogOnly {
		t.Fatalf("expected log-only action preserved, got %+v", res.Verdict)
	}
}

func TestCancelAbortsTrackedInFlightCall(t *testing.T) {
	rules := []policy.Rule{{ID: "allow-all", Enabled: true, Action: policy.ActionAllow, ToolPattern: "*"}}
	blockUntilCancelled := &blockingDownstream{unblock: make(chan struct{})}
	i, _ := newTestInterceptor(rules, blockUntilCancelled, policy.ModeAlert)

	done := make(chan struct{})
	go func() {
		i.Handle(context.Background(), "req-6", baseContext())
		close(done)
	}()

	waitForPending(t, i, "req-6")
	if !i.Cancel("req-6") {
		t.Fatal("expected Cancel to find the in-flight request")
	}
	<-done
}

type blockingDownstream struct{ unblock chan struct{} }

func (b *blockingDownstream) Forward(ctx context.Context, tool, host, agent string, arguments map[string]interface{}) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func waitForPending(t *testing.T, i *Interceptor, requestID string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		i.mu.Lock()
		_, ok := i.pending[requestID]
		i.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for pending call to register")
}
