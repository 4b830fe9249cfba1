package api

import (
	"errors"
	"net/http"

	"gdpr-guardian/internal/domain"
)

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var (
		notFound         *domain.NotFoundError
		accessDenied     *domain.AccessDeniedError
		validation       *domain.ValidationError
		conflict         *domain.ConflictError
		invalidMove      *domain.InvalidTransitionError
		alreadyFinalized *domain.AlreadyFinalizedError
		blocked          *domain.GuardrailBlockedError
		exportFailed     *domain.ExportFailureError
		notLoaded        *domain.NotLoadedError
	)

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &accessDenied):
		return http.StatusForbidden
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict), errors.As(err, &invalidMove),
		errors.As(err, &alreadyFinalized), errors.As(err, &blocked):
		return http.StatusConflict
	case errors.As(err, &exportFailed):
		return http.StatusBadGateway
	case errors.As(err, &notLoaded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse is the JSON error body. Run is set when the operation
// changed the run before failing, e.g. an approval that hit a guardrail.
type errorResponse struct {
	Code     int                       `json:"code"`
	Message  string                    `json:"message"`
	Verdicts []domain.GuardrailVerdict `json:"verdicts,omitempty"`
	Run      *runView                  `json:"run,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, run *domain.Run) {
	code := httpStatusFromDomainError(err)
	body := errorResponse{Code: code, Message: err.Error()}
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		body.Message = "internal error"
	}
	var blocked *domain.GuardrailBlockedError
	if errors.As(err, &blocked) {
		body.Verdicts = blocked.Verdicts
	}
	if run != nil {
		v := toRunView(run)
		body.Run = &v
	}
	writeJSON(w, code, body)
}
