package admin

import (
	"net/http"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

type quarantineDTO struct {
	Scope     string     `json:"scope"`
	Target    string     `json:"target"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedBy string     `json:"createdBy"`
}

func quarantineToDTO(e policy.QuarantineEntry) quarantineDTO {
	return quarantineDTO{
		Scope:     string(e.Scope),
		Target:    e.Target,
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
		CreatedBy: e.CreatedBy,
	}
}

func (h *AdminAPIHandler) handleListQuarantine(w http.ResponseWriter, r *http.Request) {
	entries, err := h.quarantine.List(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "listing quarantine entries: "+err.Error())
		return
	}
	dtos := make([]quarantineDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, quarantineToDTO(e))
	}
	h.respondJSON(w, http.StatusOK, dtos)
}

func (h *AdminAPIHandler) handleUpsertQuarantine(w http.ResponseWriter, r *http.Request) {
	var dto quarantineDTO
	if err := h.readJSON(r, &dto); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	scope := policy.QuarantineScope(dto.Scope)
	switch scope {
	case policy.ScopeHost, policy.ScopeTool, policy.ScopeAgent:
	default:
		h.respondError(w, http.StatusBadRequest, "invalid scope: "+dto.Scope)
		return
	}
	if dto.Target == "" {
		h.respondError(w, http.StatusBadRequest, "target is required")
		return
	}

	entry := policy.QuarantineEntry{
		Scope:     scope,
		Target:    dto.Target,
		Reason:    dto.Reason,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: dto.ExpiresAt,
		CreatedBy: dto.CreatedBy,
	}
	if err := h.quarantine.Upsert(r.Context(), entry); err != nil {
		h.respondError(w, http.StatusInternalServerError, "upserting quarantine entry: "+err.Error())
		return
	}
	h.respondJSON(w, http.StatusCreated, quarantineToDTO(entry))
}

func (h *AdminAPIHandler) handleDeleteQuarantine(w http.ResponseWriter, r *http.Request) {
	scope := policy.QuarantineScope(h.pathParam(r, "scope"))
	target := h.pathParam(r, "target")
	if err := h.quarantine.Delete(r.Context(), scope, target); err != nil {
		h.respondError(w, http.StatusInternalServerError, "deleting quarantine entry: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
