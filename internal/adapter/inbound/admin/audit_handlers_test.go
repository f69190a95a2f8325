package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/audit"
)

// fakeAuditQueryStore is an in-memory audit.QueryStore for handler tests.
type fakeAuditQueryStore struct {
	entries []audit.Entry
}

func (s *fakeAuditQueryStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var out []audit.Entry
	for _, e := range s.entries {
		if e.Timestamp.Before(filter.StartTime) || e.Timestamp.After(filter.EndTime) {
			continue
		}
		if filter.Verdict != "" && e.Verdict != filter.Verdict {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeAuditQueryStore) AllOrdered(ctx context.Context) ([]audit.Entry, error) {
	return s.entries, nil
}

func buildTestChain(t *testing.T) []audit.Entry {
	t.Helper()
	now := time.Now().UTC()
	var entries []audit.Entry
	prevHash := audit.Genesis
	for i, verdict := range []string{audit.VerdictAllowed, audit.VerdictDenied} {
		seq := int64(i + 1)
		ts := now.Add(time.Duration(i) * time.Second)
		hash := audit.ComputeHash(seq, ts, "fs.read", "h1", "claude", verdict, prevHash)
		entries = append(entries, audit.Entry{
			Sequence:     seq,
			Timestamp:    ts,
			Tool:         "fs.read",
			Host:         "h1",
			Agent:        "claude",
			Verdict:      verdict,
			PreviousHash: prevHash,
			Hash:         hash,
		})
		prevHash = hash
	}
	return entries
}

func TestHandleQueryAuditFiltersByVerdict(t *testing.T) {
	store := &fakeAuditQueryStore{entries: buildTestChain(t)}
	h := NewAdminAPIHandler(WithAuditQueryStore(store))

	req := httptest.NewRequest(http.MethodGet, "/admin/api/audit?verdict=denied", nil)
	rec := httptest.NewRecorder()
	h.handleQueryAudit(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleVerifyAuditReportsNoBreaksForValidChain(t *testing.T) {
	store := &fakeAuditQueryStore{entries: buildTestChain(t)}
	h := NewAdminAPIHandler(WithAuditQueryStore(store))

	req := httptest.NewRequest(http.MethodGet, "/admin/api/audit/verify", nil)
	rec := httptest.NewRecorder()
	h.handleVerifyAudit(rec, req)

	var resp auditVerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Valid {
		t.Fatalf("expected valid chain, got breaks: %+v", resp.Breaks)
	}
}

func TestHandleVerifyAuditReportsHashMismatch(t *testing.T) {
	entries := buildTestChain(t)
	entries[1].Hash = "corrupted"
	store := &fakeAuditQueryStore{entries: entries}
	h := NewAdminAPIHandler(WithAuditQueryStore(store))

	req := httptest.NewRequest(http.MethodGet, "/admin/api/audit/verify", nil)
	rec := httptest.NewRecorder()
	h.handleVerifyAudit(rec, req)

	var resp auditVerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Valid {
		t.Fatal("expected chain break to be reported")
	}
}
