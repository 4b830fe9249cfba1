package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"gdpr-guardian/internal/domain"
)

// GetSubject returns the record guardrails evaluate against.
func (h *Handler) GetSubject(w http.ResponseWriter, r *http.Request) {
	rec, err := h.runs.Subject(r.Context(), chi.URLParam(r, "subjectID"))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type legalHoldRequest struct {
	LegalHold *bool `json:"legal_hold"`
}

// SetLegalHold places or lifts a legal hold on a subject.
func (h *Handler) SetLegalHold(w http.ResponseWriter, r *http.Request) {
	var req legalHoldRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	if req.LegalHold == nil {
		h.writeError(w, r, domain.ErrValidation("legal_hold is required"), nil)
		return
	}
	rec, err := h.runs.SetLegalHold(r.Context(), chi.URLParam(r, "subjectID"), *req.LegalHold)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
