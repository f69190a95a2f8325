package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

type fakeQuarantineStore struct {
	entries map[string]policy.QuarantineEntry
}

func newFakeQuarantineStore() *fakeQuarantineStore {
	return &fakeQuarantineStore{entries: map[string]policy.QuarantineEntry{}}
}

func quarantineKey(scope policy.QuarantineScope, target string) string {
	return string(scope) + "|" + target
}

func (s *fakeQuarantineStore) IsQuarantined(ctx context.Context, scope policy.QuarantineScope, target string) (*policy.QuarantineEntry, error) {
	e, ok := s.entries[quarantineKey(scope, target)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *fakeQuarantineStore) Upsert(ctx context.Context, e policy.QuarantineEntry) error {
	s.entries[quarantineKey(e.Scope, e.Target)] = e
	return nil
}

func (s *fakeQuarantineStore) Delete(ctx context.Context, scope policy.QuarantineScope, target string) error {
	delete(s.entries, quarantineKey(scope, target))
	return nil
}

func (s *fakeQuarantineStore) List(ctx context.Context) ([]policy.QuarantineEntry, error) {
	var out []policy.QuarantineEntry
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func TestHandleUpsertQuarantine(t *testing.T) {
	store := newFakeQuarantineStore()
	h := NewAdminAPIHandler(WithQuarantineStore(store))

	body, _ := json.Marshal(quarantineDTO{Scope: string(policy.ScopeHost), Target: "10.0.0.5", Reason: "suspicious burst"})
	req := httptest.NewRequest(http.MethodPost, "/admin/api/quarantine", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.handleUpsertQuarantine(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", rec.Code, rec.Body.String())
	}
	if _, ok := store.entries[quarantineKey(policy.ScopeHost, "10.0.0.5")]; !ok {
		t.Fatal("entry was not stored")
	}
}

func TestHandleUpsertQuarantineRejectsInvalidScope(t *testing.T) {
	store := newFakeQuarantineStore()
	h := NewAdminAPIHandler(WithQuarantineStore(store))

	body, _ := json.Marshal(quarantineDTO{Scope: "planet", Target: "x"})
	req := httptest.NewRequest(http.MethodPost, "/admin/api/quarantine", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.handleUpsertQuarantine(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleDeleteQuarantine(t *testing.T) {
	store := newFakeQuarantineStore()
	store.entries[quarantineKey(policy.ScopeTool, "fs.delete")] = policy.QuarantineEntry{Scope: policy.ScopeTool, Target: "fs.delete"}
	h := NewAdminAPIHandler(WithQuarantineStore(store))

	req := httptest.NewRequest(http.MethodDelete, "/admin/api/quarantine/tool/fs.delete", nil)
	req.SetPathValue("scope", "tool")
	req.SetPathValue("target", "fs.delete")
	rec := httptest.NewRecorder()

	h.handleDeleteQuarantine(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if _, ok := store.entries[quarantineKey(policy.ScopeTool, "fs.delete")]; ok {
		t.Fatal("entry still present after delete")
	}
}
