package admin

import (
	"net/http"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/audit"
)

// StatsResponse summarizes the policy and audit state for the dashboard.
type StatsResponse struct {
	Mode              string `json:"mode"`
	RuleCount         int    `json:"ruleCount"`
	QuarantineCount   int    `json:"quarantineCount"`
	AuditEntries24h   int    `json:"auditEntries24h"`
	Allowed24h        int    `json:"allowed24h"`
	Denied24h         int    `json:"denied24h"`
	Asked24h          int    `json:"asked24h"`
}

func (h *AdminAPIHandler) handleGetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rules, err := h.rules.EnabledRules(ctx)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "listing rules: "+err.Error())
		return
	}
	quarantined, err := h.quarantine.List(ctx)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "listing quarantine entries: "+err.Error())
		return
	}

	since := time.Now().Add(-24 * time.Hour).UTC()
	entries, err := h.auditQuery.Query(ctx, audit.Filter{
		StartTime: since,
		EndTime:   time.Now().UTC(),
		Limit:     0,
	})
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "querying audit log: "+err.Error())
		return
	}

	resp := StatsResponse{
		Mode:            string(h.mode.Current()),
		RuleCount:       len(rules),
		QuarantineCount: len(quarantined),
		AuditEntries24h: len(entries),
	}
	for _, e := range entries {
		switch e.Verdict {
		case audit.VerdictAllowed:
			resp.Allowed24h++
		case audit.VerdictDenied:
			resp.Denied24h++
		case audit.VerdictAsked:
			resp.Asked24h++
		}
	}
	h.respondJSON(w, http.StatusOK, resp)
}
