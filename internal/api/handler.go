// Package api provides the HTTP surface of the DSAR decision core: intake,
// run inspection and the human decision channel.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gdpr-guardian/internal/domain"
	"gdpr-guardian/internal/middleware"
)

// RunService is the run state machine as seen by the HTTP layer.
type RunService interface {
	Create(ctx context.Context, in domain.Intake) (*domain.Run, error)
	Get(ctx context.Context, runID string) (*domain.Run, error)
	List(ctx context.Context, filter domain.RunFilter) ([]domain.Run, int64, error)
	AuditTrail(ctx context.Context, runID string) ([]domain.AuditEvent, error)
	Decide(ctx context.Context, d domain.Decision) (*domain.Run, error)
	Reevaluate(ctx context.Context, runID string) (*domain.Run, error)
	Resume(ctx context.Context, runID string) (*domain.Run, error)
	Finalize(ctx context.Context, runID string) (*domain.Run, error)
	RetryExport(ctx context.Context, runID string) (*domain.Run, error)
	Abandon(ctx context.Context, runID, reason string) (*domain.Run, error)
	Subject(ctx context.Context, subjectID string) (*domain.SubjectRecord, error)
	SetLegalHold(ctx context.Context, subjectID string, hold bool) (*domain.SubjectRecord, error)
}

// Handler serves the /v1 API.
type Handler struct {
	runs    RunService
	bundles domain.BundleReader
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(runs RunService, bundles domain.BundleReader, logger *slog.Logger) *Handler {
	return &Handler{runs: runs, bundles: bundles, logger: logger}
}

// Routes mounts the /v1 endpoints on r. Authentication is applied by the caller.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.CreateRun)
		r.Get("/", h.ListRuns)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", h.GetRun)
			r.Get("/audit", h.GetAuditTrail)
			r.Post("/decisions", h.SubmitDecision)
			r.Post("/reevaluate", h.Reevaluate)
			r.Post("/resume", h.Resume)
			r.Post("/finalize", h.Finalize)
			r.Post("/export/retry", h.RetryExport)
			r.Post("/abandon", h.Abandon)
			r.Get("/bundle", h.DownloadBundle)
		})
	})
	r.Route("/subjects/{subjectID}", func(r chi.Router) {
		r.Get("/", h.GetSubject)
		r.With(middleware.RequireAdmin).Put("/legal-hold", h.SetLegalHold)
	})
}

// Health reports liveness.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
