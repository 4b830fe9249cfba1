package domain

import (
	"context"
	"time"
)

// RunRepository persists DSAR runs. Implementations must serialize writers
// per run: Transition fails with a ConflictError when the stored version is
// not prevVersion, and the run update and its audit event are committed
// atomically.
type RunRepository interface {
	Create(ctx context.Context, run *Run, event *AuditEvent) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, filter RunFilter) ([]Run, int64, error)
	ListOpenBefore(ctx context.Context, cutoff time.Time) ([]Run, error)
	Transition(ctx context.Context, run *Run, prevVersion int64, event *AuditEvent) error
}

// AuditEventRepository reads the append-only audit trail.
type AuditEventRepository interface {
	ListByRun(ctx context.Context, runID string) ([]AuditEvent, error)
}

// SubjectRecordProvider returns the record guardrails are evaluated against.
type SubjectRecordProvider interface {
	SubjectRecord(ctx context.Context, subjectID string) (*SubjectRecord, error)
}

// SubjectRepository manages subject records.
type SubjectRepository interface {
	SubjectRecordProvider
	Upsert(ctx context.Context, rec *SubjectRecord) error
	SetLegalHold(ctx context.Context, subjectID string, hold bool) error
}
