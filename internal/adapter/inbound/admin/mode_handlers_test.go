package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

// fakeModeStore is an in-memory sentinel.ModeStore for handler tests.
type fakeModeStore struct {
	values map[string]string
}

func newFakeModeStore() *fakeModeStore { return &fakeModeStore{values: map[string]string{}} }

func (s *fakeModeStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *fakeModeStore) Set(ctx context.Context, key, value string) error {
	s.values[key] = value
	return nil
}

func TestHandleGetMode(t *testing.T) {
	holder := sentinel.NewModeHolder(newFakeModeStore(), policy.ModeAlert)
	h := NewAdminAPIHandler(WithModeHolder(holder))

	req := httptest.NewRequest(http.MethodGet, "/admin/api/mode", nil)
	rec := httptest.NewRecorder()
	h.handleGetMode(rec, req)

	var got modeDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Mode != string(policy.ModeAlert) {
		t.Fatalf("mode = %q, want %q", got.Mode, policy.ModeAlert)
	}
}

func TestHandleSetMode(t *testing.T) {
	holder := sentinel.NewModeHolder(newFakeModeStore(), policy.ModeAlert)
	h := NewAdminAPIHandler(WithModeHolder(holder))

	body, _ := json.Marshal(modeDTO{Mode: string(policy.ModeLockdown)})
	req := httptest.NewRequest(http.MethodPut, "/admin/api/mode", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleSetMode(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if holder.Current() != policy.ModeLockdown {
		t.Fatalf("Current() = %q, want %q", holder.Current(), policy.ModeLockdown)
	}
}

func TestHandleSetModeRejectsInvalid(t *testing.T) {
	holder := sentinel.NewModeHolder(newFakeModeStore(), policy.ModeAlert)
	h := NewAdminAPIHandler(WithModeHolder(holder))

	body, _ := json.Marshal(modeDTO{Mode: "panic"})
	req := httptest.NewRequest(http.MethodPut, "/admin/api/mode", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.handleSetMode(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if holder.Current() != policy.ModeAlert {
		t.Fatalf("Current() changed after rejected set: %q", holder.Current())
	}
}
