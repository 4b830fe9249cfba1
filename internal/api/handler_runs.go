package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"gdpr-guardian/internal/domain"
)

// maxArtifactSize bounds an uploaded identity document.
const maxArtifactSize = 10 << 20

// CreateRun accepts a DSAR intake as multipart/form-data (subject_email,
// subject_id, request_types, id_document) or as JSON without an artifact.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	in, err := parseIntake(w, r)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	run, err := h.runs.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, toRunView(run))
}

type intakeRequest struct {
	SubjectEmail string   `json:"subject_email"`
	SubjectID    string   `json:"subject_id"`
	RequestTypes []string `json:"request_types"`
}

func parseIntake(w http.ResponseWriter, r *http.Request) (domain.Intake, error) {
	var (
		req    intakeRequest
		in     domain.Intake
		rawReq []string
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := decodeJSON(w, r, &req); err != nil {
			return in, err
		}
		rawReq = req.RequestTypes
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxArtifactSize+maxJSONBody)
		if err := r.ParseMultipartForm(maxArtifactSize); err != nil {
			return in, domain.ErrValidation("invalid multipart intake: %v", err)
		}
		req.SubjectEmail = r.FormValue("subject_email")
		req.SubjectID = r.FormValue("subject_id")
		rawReq = r.MultipartForm.Value["request_types"]
		in.Artifact, in.ArtifactErr = readArtifact(r)
	}

	in.SubjectEmail = req.SubjectEmail
	in.SubjectID = req.SubjectID
	for _, v := range rawReq {
		for _, a := range strings.Split(v, ",") {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				in.RequestTypes = append(in.RequestTypes, domain.ProposalAction(a))
			}
		}
	}
	return in, nil
}

// readArtifact returns the uploaded id_document. A missing part yields a nil
// artifact; an unreadable one yields a nil artifact and the read error.
func readArtifact(r *http.Request) (*domain.IdentityArtifact, error) {
	f, hdr, err := r.FormFile("id_document")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck
	data, err := io.ReadAll(io.LimitReader(f, maxArtifactSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", hdr.Filename, err)
	}
	if len(data) > maxArtifactSize {
		return nil, fmt.Errorf("%s exceeds %d bytes", hdr.Filename, maxArtifactSize)
	}
	return &domain.IdentityArtifact{Name: hdr.Filename, Content: data}, nil
}

// ListRuns lists runs, optionally filtered by state and subject_id.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := pageFromQuery(q)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	filter := domain.RunFilter{Page: page}
	if v := q.Get("state"); v != "" {
		s := domain.RunState(strings.ToUpper(v))
		filter.State = &s
	}
	if v := q.Get("subject_id"); v != "" {
		filter.SubjectID = &v
	}

	runs, total, err := h.runs.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	resp := listRunsResponse{
		Runs:          make([]runView, len(runs)),
		Total:         total,
		NextPageToken: domain.NextPageToken(page.Offset(), page.Limit(), total),
	}
	for i := range runs {
		resp.Runs[i] = toRunView(&runs[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetRun returns one run with its findings.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toRunView(run))
}

// GetAuditTrail returns the run's audit events in sequence order.
func (h *Handler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	events, err := h.runs.AuditTrail(r.Context(), runID)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, auditTrailResponse{RunID: runID, Events: nonNil(events)})
}

// SubmitDecision feeds a human decision into the run state machine.
func (h *Handler) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	var d domain.Decision
	if err := decodeJSON(w, r, &d); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	d.RunID = chi.URLParam(r, "runID")
	run, err := h.runs.Decide(r.Context(), d)
	if err != nil {
		h.writeError(w, r, err, run)
		return
	}
	writeJSON(w, http.StatusOK, toRunView(run))
}

// Reevaluate re-runs the guardrails of a waiting run.
func (h *Handler) Reevaluate(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.runs.Reevaluate)
}

// Resume re-drives a run whose automated stages were interrupted.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.runs.Resume)
}

// Finalize records finalization and exports the bundle.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.runs.Finalize)
}

// RetryExport retries a failed export of a finalized run.
func (h *Handler) RetryExport(w http.ResponseWriter, r *http.Request) {
	h.runAction(w, r, h.runs.RetryExport)
}

type abandonRequest struct {
	Reason string `json:"reason"`
}

// Abandon cancels a non-terminal run.
func (h *Handler) Abandon(w http.ResponseWriter, r *http.Request) {
	var req abandonRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	run, err := h.runs.Abandon(r.Context(), chi.URLParam(r, "runID"), req.Reason)
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, toRunView(run))
}

// runAction invokes a body-less run operation. A run returned alongside an
// error is included in the error body.
func (h *Handler) runAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*domain.Run, error)) {
	run, err := fn(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, r, err, run)
		return
	}
	writeJSON(w, http.StatusOK, toRunView(run))
}

// DownloadBundle streams the exported zip of a finalized run.
func (h *Handler) DownloadBundle(w http.ResponseWriter, r *http.Request) {
	run, err := h.runs.Get(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		h.writeError(w, r, err, nil)
		return
	}
	if run.Export.Status != domain.ExportCompleted {
		h.writeError(w, r, domain.ErrConflict("run %s has no exported bundle (export status %s)", run.ID, run.Export.Status), nil)
		return
	}
	data, err := h.bundles.Open(r.Context(), run.Export.Location)
	if err != nil {
		h.writeError(w, r, fmt.Errorf("open bundle %s: %w", run.Export.Location, err), nil)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", run.ID+".zip"))
	w.Header().Set("X-Bundle-Checksum", run.Export.Checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
