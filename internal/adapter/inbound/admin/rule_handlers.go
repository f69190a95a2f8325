package admin

import (
	"net/http"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

// ruleDTO is the wire shape for a rule, decoupled from policy.Rule so
// the domain type never needs JSON tags.
type ruleDTO struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Priority        int               `json:"priority"`
	Action          string            `json:"action"`
	Enabled         bool              `json:"enabled"`
	ToolPattern     string            `json:"toolPattern"`
	HostPattern     string            `json:"hostPattern"`
	AgentPattern    string            `json:"agentPattern"`
	ArgumentPattern string            `json:"argumentPattern"`
	Condition       string            `json:"condition"`
	RateLimit       *rateLimitSpecDTO `json:"rateLimit,omitempty"`
	Schedule        *scheduleDTO      `json:"schedule,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

type rateLimitSpecDTO struct {
	MaxTokens        float64 `json:"maxTokens"`
	WindowSeconds    int     `json:"windowSeconds"`
	RefillRatePerSec float64 `json:"refillRatePerSec"`
}

type scheduleDTO struct {
	Days      []int  `json:"days"`
	StartHour int    `json:"startHour"`
	EndHour   int    `json:"endHour"`
	Timezone  string `json:"timezone"`
}

func ruleToDTO(r policy.Rule) ruleDTO {
	dto := ruleDTO{
		ID:              r.ID,
		Name:            r.Name,
		Priority:        r.Priority,
		Action:          string(r.Action),
		Enabled:         r.Enabled,
		ToolPattern:     r.ToolPattern,
		HostPattern:     r.HostPattern,
		AgentPattern:    r.AgentPattern,
		ArgumentPattern: r.ArgumentPattern,
		Condition:       r.Condition,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.RateLimit != nil {
		dto.RateLimit = &rateLimitSpecDTO{
			MaxTokens:        r.RateLimit.MaxTokens,
			WindowSeconds:    r.RateLimit.WindowSeconds,
			RefillRatePerSec: r.RateLimit.RefillRatePerSec,
		}
	}
	if r.Schedule != nil {
		dto.Schedule = &scheduleDTO{
			Days:      r.Schedule.Days,
			StartHour: r.Schedule.StartHour,
			EndHour:   r.Schedule.EndHour,
			Timezone:  r.Schedule.Timezone,
		}
	}
	return dto
}

func (dto ruleDTO) toRule() policy.Rule {
	r := policy.Rule{
		ID:              dto.ID,
		Name:            dto.Name,
		Priority:        dto.Priority,
		Action:          policy.Action(dto.Action),
		Enabled:         dto.Enabled,
		ToolPattern:     dto.ToolPattern,
		HostPattern:     dto.HostPattern,
		AgentPattern:    dto.AgentPattern,
		ArgumentPattern: dto.ArgumentPattern,
		Condition:       dto.Condition,
	}
	if dto.RateLimit != nil {
		r.RateLimit = &policy.RateLimitSpec{
			MaxTokens:        dto.RateLimit.MaxTokens,
			WindowSeconds:    dto.RateLimit.WindowSeconds,
			RefillRatePerSec: dto.RateLimit.RefillRatePerSec,
		}
	}
	if dto.Schedule != nil {
		r.Schedule = &policy.Schedule{
			Days:      dto.Schedule.Days,
			StartHour: dto.Schedule.StartHour,
			EndHour:   dto.Schedule.EndHour,
			Timezone:  dto.Schedule.Timezone,
		}
	}
	return r
}

func (h *AdminAPIHandler) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.EnabledRules(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "listing rules: "+err.Error())
		return
	}
	dtos := make([]ruleDTO, 0, len(rules))
	for _, rule := range rules {
		dtos = append(dtos, ruleToDTO(rule))
	}
	h.respondJSON(w, http.StatusOK, dtos)
}

func (h *AdminAPIHandler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var dto ruleDTO
	if err := h.readJSON(r, &dto); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if dto.ID == "" {
		h.respondError(w, http.StatusBadRequest, "id is required")
		return
	}
	switch policy.Action(dto.Action) {
	case policy.ActionAllow, policy.ActionDeny, policy.ActionAsk, policy.ActionLogOnly:
	default:
		h.respondError(w, http.StatusBadRequest, "invalid action: "+dto.Action)
		return
	}

	rule := dto.toRule()
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := h.rules.SaveRule(r.Context(), &rule); err != nil {
		h.respondError(w, http.StatusInternalServerError, "saving rule: "+err.Error())
		return
	}
	h.respondJSON(w, http.StatusCreated, ruleToDTO(rule))
}

func (h *AdminAPIHandler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := h.pathParam(r, "id")
	existing, err := h.rules.Rule(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "loading rule: "+err.Error())
		return
	}
	if existing == nil {
		h.respondError(w, http.StatusNotFound, "rule not found")
		return
	}

	var dto ruleDTO
	if err := h.readJSON(r, &dto); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	dto.ID = id
	rule := dto.toRule()
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	if err := h.rules.SaveRule(r.Context(), &rule); err != nil {
		h.respondError(w, http.StatusInternalServerError, "saving rule: "+err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, ruleToDTO(rule))
}

func (h *AdminAPIHandler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := h.pathParam(r, "id")
	if err := h.rules.DeleteRule(r.Context(), id); err != nil {
		h.respondError(w, http.StatusInternalServerError, "deleting rule: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
