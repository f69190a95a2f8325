package admin

import (
	"net/http"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/policy"
)

type modeDTO struct {
	Mode string `json:"mode"`
}

func (h *AdminAPIHandler) handleGetMode(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, modeDTO{Mode: string(h.mode.Current())})
}

func (h *AdminAPIHandler) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var dto modeDTO
	if err := h.readJSON(r, &dto); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	mode, err := policy.ParseMode(dto.Mode)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid mode: "+dto.Mode)
		return
	}
	if err := h.mode.Set(r.Context(), mode); err != nil {
		h.respondError(w, http.StatusInternalServerError, "setting mode: "+err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, modeDTO{Mode: string(mode)})
}
