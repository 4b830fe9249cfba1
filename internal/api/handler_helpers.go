package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"gdpr-guardian/internal/domain"
)

// maxJSONBody bounds decision and control request bodies.
const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}

// pageFromQuery extracts a PageRequest from max_results/page_token.
func pageFromQuery(q url.Values) (domain.PageRequest, error) {
	p := domain.PageRequest{PageToken: q.Get("page_token")}
	if v := q.Get("max_results"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, domain.ErrValidation("max_results must be a non-negative integer")
		}
		p.MaxResults = n
	}
	return p, nil
}

// === Views ===

type runView struct {
	ID               string                        `json:"id"`
	SubjectID        string                        `json:"subject_id"`
	SubjectEmail     string                        `json:"subject_email,omitempty"`
	RequestTypes     []domain.ProposalAction       `json:"request_types"`
	State            domain.RunState               `json:"state"`
	Version          int64                         `json:"version"`
	AwaitingDecision bool                          `json:"awaiting_decision"`
	Identity         *domain.IdentityAssessment    `json:"identity,omitempty"`
	Clarification    *domain.IdentityClarification `json:"clarification,omitempty"`
	Findings         []domain.Finding              `json:"findings,omitempty"`
	Proposals        []domain.Proposal             `json:"proposals"`
	Verdicts         []domain.GuardrailVerdict     `json:"verdicts"`
	Approval         *domain.Approval              `json:"approval,omitempty"`
	Summary          string                        `json:"summary,omitempty"`
	Export           domain.ExportState            `json:"export"`
	Erasure          *domain.ErasureRecord         `json:"erasure,omitempty"`
	AuditSeq         int64                         `json:"audit_seq"`
	CreatedBy        string                        `json:"created_by"`
	CreatedAt        time.Time                     `json:"created_at"`
	UpdatedAt        time.Time                     `json:"updated_at"`
}

// toRunView maps a run for the wire. Finding values never leave the
// service through this view; only masked previews do.
func toRunView(r *domain.Run) runView {
	return runView{
		ID:               r.ID,
		SubjectID:        r.SubjectID,
		SubjectEmail:     r.SubjectEmail,
		RequestTypes:     r.RequestTypes,
		State:            r.State,
		Version:          r.Version,
		AwaitingDecision: domain.IsWaiting(r.State),
		Identity:         r.Identity,
		Clarification:    r.Clarification,
		Findings:         r.Findings,
		Proposals:        nonNil(r.Proposals),
		Verdicts:         nonNil(r.Verdicts),
		Approval:         r.Approval,
		Summary:          r.Summary,
		Export:           r.Export,
		Erasure:          r.Erasure,
		AuditSeq:         r.AuditSeq,
		CreatedBy:        r.CreatedBy,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

type listRunsResponse struct {
	Runs          []runView `json:"runs"`
	Total         int64     `json:"total"`
	NextPageToken string    `json:"next_page_token,omitempty"`
}

type auditTrailResponse struct {
	RunID  string              `json:"run_id"`
	Events []domain.AuditEvent `json:"events"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
