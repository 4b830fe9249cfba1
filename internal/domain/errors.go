// Package domain defines core types, interfaces, and errors for the DSAR decision core.
package domain

import (
	"fmt"
	"strings"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// AccessDeniedError indicates insufficient permissions.
type AccessDeniedError struct {
	Message string
}

func (e *AccessDeniedError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource or a concurrent writer).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrAccessDenied creates an AccessDeniedError with a formatted message.
func ErrAccessDenied(format string, args ...interface{}) *AccessDeniedError {
	return &AccessDeniedError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// PolicyLoadError is returned when the policy source is missing or malformed.
// It is fatal at startup: no run may proceed without a policy.
type PolicyLoadError struct {
	Source string
	Err    error
}

func (e *PolicyLoadError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("load policy: %v", e.Err)
	}
	return fmt.Sprintf("load policy %s: %v", e.Source, e.Err)
}

func (e *PolicyLoadError) Unwrap() error { return e.Err }

// NotLoadedError is returned by the policy store when Get is called before Load.
type NotLoadedError struct{}

func (e *NotLoadedError) Error() string { return "policy not loaded" }

// InvalidTransitionError reports an event that is not legal from the run's
// current state. The run is left unchanged and no audit event is appended.
type InvalidTransitionError struct {
	RunID string
	From  RunState
	Event EventType
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("run %s: %s is not allowed from state %s", e.RunID, e.Event, e.From)
}

// MissingArtifactError describes an absent or unreadable identity artifact.
// The verifier resolves it into a rejected assessment rather than failing the run.
type MissingArtifactError struct {
	Reason string
}

func (e *MissingArtifactError) Error() string {
	return "identity artifact missing or unreadable: " + e.Reason
}

// GuardrailBlockedError carries the blocking verdicts of a guardrail check.
// It is surfaced to the human decision channel and is recoverable via override.
type GuardrailBlockedError struct {
	RunID    string
	Verdicts []GuardrailVerdict
}

func (e *GuardrailBlockedError) Error() string {
	var reasons []string
	for _, v := range e.Verdicts {
		reasons = append(reasons, v.Reasons...)
	}
	return fmt.Sprintf("run %s blocked by guardrails: %s", e.RunID, strings.Join(reasons, "; "))
}

// AlreadyFinalizedError guards against finalizing (and exporting) a run twice.
type AlreadyFinalizedError struct {
	RunID string
}

func (e *AlreadyFinalizedError) Error() string {
	return fmt.Sprintf("run %s is already finalized", e.RunID)
}

// ExportFailureError reports an export sink failure after the finalization
// decision was recorded. The run stays FINALIZED with its export pending retry.
type ExportFailureError struct {
	RunID string
	Err   error
}

func (e *ExportFailureError) Error() string {
	return fmt.Sprintf("export run %s: %v", e.RunID, e.Err)
}

func (e *ExportFailureError) Unwrap() error { return e.Err }
