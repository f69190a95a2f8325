package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/audit"
)

type auditEntryDTO struct {
	Sequence       int64     `json:"sequence"`
	Timestamp      time.Time `json:"timestamp"`
	Tool           string    `json:"tool"`
	Host           string    `json:"host"`
	Agent          string    `json:"agent"`
	Verdict        string    `json:"verdict"`
	RiskScore      float64   `json:"riskScore"`
	ArgumentsJSON  string    `json:"argumentsJson,omitempty"`
	PreviousHash   string    `json:"previousHash"`
	Hash           string    `json:"hash"`
	ResponseStatus string    `json:"responseStatus,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
}

func auditEntryToDTO(e audit.Entry) auditEntryDTO {
	return auditEntryDTO{
		Sequence:       e.Sequence,
		Timestamp:      e.Timestamp,
		Tool:           e.Tool,
		Host:           e.Host,
		Agent:          e.Agent,
		Verdict:        e.Verdict,
		RiskScore:      e.RiskScore,
		ArgumentsJSON:  string(e.ArgumentsJSON),
		PreviousHash:   e.PreviousHash,
		Hash:           e.Hash,
		ResponseStatus: e.ResponseStatus,
		ErrorMessage:   e.ErrorMessage,
	}
}

// handleQueryAudit serves GET /admin/api/audit?tool=&host=&agent=&verdict=&start=&end=&limit=&offset=.
// start and end are RFC3339 timestamps; both default to an all-time
// window (epoch to now) when omitted, since Filter requires them set.
func (h *AdminAPIHandler) handleQueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := audit.Filter{
		Tool:    q.Get("tool"),
		Host:    q.Get("host"),
		Agent:   q.Get("agent"),
		Verdict: q.Get("verdict"),
	}

	filter.StartTime = time.Unix(0, 0).UTC()
	if s := q.Get("start"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid start: "+err.Error())
			return
		}
		filter.StartTime = t
	}

	filter.EndTime = time.Now().UTC()
	if s := q.Get("end"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid end: "+err.Error())
			return
		}
		filter.EndTime = t
	}

	filter.Limit = 100
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	entries, err := h.auditQuery.Query(r.Context(), filter)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "querying audit log: "+err.Error())
		return
	}
	dtos := make([]auditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, auditEntryToDTO(e))
	}
	h.respondJSON(w, http.StatusOK, dtos)
}

type auditVerifyResponse struct {
	Valid  bool           `json:"valid"`
	Breaks []audit.Break `json:"breaks"`
}

func (h *AdminAPIHandler) handleVerifyAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.auditQuery.AllOrdered(r.Context())
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "reading audit chain: "+err.Error())
		return
	}
	breaks := audit.Verify(entries)
	h.respondJSON(w, http.StatusOK, auditVerifyResponse{
		Valid:  len(breaks) == 0,
		Breaks: breaks,
	})
}
