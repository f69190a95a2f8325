// Package admin provides the operator-facing JSON API: rule and
// quarantine CRUD, audit query and chain verification, mode get/set,
// and basic stats, all gated to localhost access.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/audit"
	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

// BuildInfo carries version metadata printed at startup and surfaced on
// the system info endpoint.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// AdminAPIHandler serves the operator JSON API over the sentinel's
// admin-facing ports: rule and quarantine stores for policy
// CRUD, the audit query store for the log viewer and chain verifier,
// and a ModeHolder for reading and changing the process-global posture.
type AdminAPIHandler struct {
	rules      policy.RuleStore
	quarantine policy.QuarantineStore
	auditQuery audit.QueryStore
	mode       *sentinel.ModeHolder

	buildInfo *BuildInfo
	logger    *slog.Logger
	startTime time.Time
}

// AdminAPIOption configures an AdminAPIHandler dependency.
type AdminAPIOption func(*AdminAPIHandler)

// WithRuleStore sets the rule persistence store.
func WithRuleStore(s policy.RuleStore) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.rules = s }
}

// WithQuarantineStore sets the quarantine persistence store.
func WithQuarantineStore(s policy.QuarantineStore) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.quarantine = s }
}

// WithAuditQueryStore sets the audit read/verify store.
func WithAuditQueryStore(s audit.QueryStore) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.auditQuery = s }
}

// WithModeHolder sets the mode get/set cell.
func WithModeHolder(m *sentinel.ModeHolder) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.mode = m }
}

// WithBuildInfo sets the build version information.
func WithBuildInfo(info *BuildInfo) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.buildInfo = info }
}

// WithAPILogger sets the logger.
func WithAPILogger(l *slog.Logger) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.logger = l }
}

// WithStartTime sets the server start time for uptime calculation.
func WithStartTime(t time.Time) AdminAPIOption {
	return func(h *AdminAPIHandler) { h.startTime = t }
}

// NewAdminAPIHandler creates a new AdminAPIHandler with the given options.
func NewAdminAPIHandler(opts ...AdminAPIOption) *AdminAPIHandler {
	h := &AdminAPIHandler{
		logger:    slog.Default(),
		startTime: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with every admin API route registered,
// wrapped in auth, rate-limit, CSRF, and CSP middleware.
func (h *AdminAPIHandler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Rule CRUD.
	mux.HandleFunc("GET /admin/api/rules", h.handleListRules)
	mux.HandleFunc("POST /admin/api/rules", h.handleCreateRule)
	mux.HandleFunc("PUT /admin/api/rules/{id}", h.handleUpdateRule)
	mux.HandleFunc("DELETE /admin/api/rules/{id}", h.handleDeleteRule)

	// Quarantine CRUD.
	mux.HandleFunc("GET /admin/api/quarantine", h.handleListQuarantine)
	mux.HandleFunc("POST /admin/api/quarantine", h.handleUpsertQuarantine)
	mux.HandleFunc("DELETE /admin/api/quarantine/{scope}/{target}", h.handleDeleteQuarantine)

	// Mode get/set.
	mux.HandleFunc("GET /admin/api/mode", h.handleGetMode)
	mux.HandleFunc("PUT /admin/api/mode", h.handleSetMode)

	// Audit query and chain verification.
	mux.HandleFunc("GET /admin/api/audit", h.handleQueryAudit)
	mux.HandleFunc("GET /admin/api/audit/verify", h.handleVerifyAudit)

	// Stats and system info.
	mux.HandleFunc("GET /admin/api/stats", h.handleGetStats)
	mux.HandleFunc("GET /admin/api/system", h.handleSystemInfo)

	protected := h.adminAuthMiddleware(mux)
	rateLimited := apiRateLimitMiddleware(60, 1*time.Minute, protected)
	csrfProtected := csrfMiddleware(rateLimited)
	return cspMiddleware(csrfProtected)
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *AdminAPIHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *AdminAPIHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into the given value.
func (h *AdminAPIHandler) readJSON(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// pathParam extracts a named path parameter from the request URL.
func (h *AdminAPIHandler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// handleSystemInfo reports build and runtime info, mirroring the
// version command's own fields.
func (h *AdminAPIHandler) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	info := struct {
		Version   string `json:"version"`
		Commit    string `json:"commit"`
		BuildDate string `json:"buildDate"`
		GoVersion string `json:"goVersion"`
		OS        string `json:"os"`
		Arch      string `json:"arch"`
		UptimeSec float64 `json:"uptimeSeconds"`
	}{
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		UptimeSec: time.Since(h.startTime).Seconds(),
	}
	if h.buildInfo != nil {
		info.Version = h.buildInfo.Version
		info.Commit = h.buildInfo.Commit
		info.BuildDate = h.buildInfo.BuildDate
	}
	h.respondJSON(w, http.StatusOK, info)
}
