package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/audit"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

func TestHandleGetStats(t *testing.T) {
	rules := newFakeRuleStore()
	rules.rules["a"] = policy.Rule{ID: "a", Enabled: true, Action: policy.ActionAllow, CreatedAt: time.Now()}

	quarantine := newFakeQuarantineStore()
	quarantine.entries[quarantineKey(policy.ScopeHost, "10.0.0.1")] = policy.QuarantineEntry{Scope: policy.ScopeHost, Target: "10.0.0.1"}

	now := time.Now().UTC()
	auditStore := &fakeAuditQueryStore{entries: []audit.Entry{
		{Sequence: 1, Timestamp: now, Verdict: audit.VerdictAllowed},
		{Sequence: 2, Timestamp: now, Verdict: audit.VerdictDenied},
		{Sequence: 3, Timestamp: now, Verdict: audit.VerdictAsked},
	}}

	holder := sentinel.NewModeHolder(newFakeModeStore(), policy.ModeAlert)

	h := NewAdminAPIHandler(
		WithRuleStore(rules),
		WithQuarantineStore(quarantine),
		WithAuditQueryStore(auditStore),
		WithModeHolder(holder),
	)

	req := httptest.NewRequest(http.MethodGet, "/admin/api/stats", nil)
	rec := httptest.NewRecorder()
	h.handleGetStats(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var resp StatsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Mode != string(policy.ModeAlert) {
		t.Errorf("Mode = %q, want %q", resp.Mode, policy.ModeAlert)
	}
	if resp.RuleCount != 1 {
		t.Errorf("RuleCount = %d, want 1", resp.RuleCount)
	}
	if resp.QuarantineCount != 1 {
		t.Errorf("QuarantineCount = %d, want 1", resp.QuarantineCount)
	}
	if resp.Allowed24h != 1 || resp.Denied24h != 1 || resp.Asked24h != 1 {
		t.Errorf("verdict counts = %+v, want 1/1/1", resp)
	}
}
