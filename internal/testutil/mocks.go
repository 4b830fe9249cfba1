// Package testutil provides shared mock implementations of domain interfaces
// for use in tests across the codebase. This follows the Go convention of a
// shared test utility package (like net/http/httptest).
package testutil

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"gdpr-guardian/internal/domain"
)

// === Run Store ===

// MemoryRunStore implements domain.RunRepository and
// domain.AuditEventRepository in memory with the same version and audit
// sequencing guarantees as the SQLite repositories.
type MemoryRunStore struct {
	mu     sync.Mutex
	runs   map[string]*domain.Run
	events map[string][]domain.AuditEvent

	transitionErr error
}

// NewMemoryRunStore creates an empty store.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{
		runs:   map[string]*domain.Run{},
		events: map[string][]domain.AuditEvent{},
	}
}

// Create implements the interface method for testing.
func (m *MemoryRunStore) Create(_ context.Context, run *domain.Run, event *domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return domain.ErrConflict("run %q already exists", run.ID)
	}
	m.runs[run.ID] = CloneRun(run)
	m.events[run.ID] = append(m.events[run.ID], *event)
	return nil
}

// Get implements the interface method for testing.
func (m *MemoryRunStore) Get(_ context.Context, id string) (*domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrNotFound("run %q not found", id)
	}
	return CloneRun(r), nil
}

// List implements the interface method for testing.
func (m *MemoryRunStore) List(_ context.Context, filter domain.RunFilter) ([]domain.Run, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Run
	for _, r := range m.runs {
		if filter.State != nil && r.State != *filter.State {
			continue
		}
		if filter.SubjectID != nil && r.SubjectID != *filter.SubjectID {
			continue
		}
		out = append(out, *CloneRun(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := int64(len(out))
	off := min(filter.Page.Offset(), len(out))
	end := min(off+filter.Page.Limit(), len(out))
	return out[off:end], total, nil
}

// ListOpenBefore implements the interface method for testing.
func (m *MemoryRunStore) ListOpenBefore(_ context.Context, cutoff time.Time) ([]domain.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Run
	for _, r := range m.runs {
		if !domain.IsTerminal(r.State) && r.CreatedAt.Before(cutoff) {
			out = append(out, *CloneRun(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// FailTransitions makes every later Transition call fail with err before any
// write. A nil err restores normal behaviour.
func (m *MemoryRunStore) FailTransitions(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitionErr = err
}

// Transition implements the interface method for testing.
func (m *MemoryRunStore) Transition(_ context.Context, run *domain.Run, prevVersion int64, event *domain.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitionErr != nil {
		return m.transitionErr
	}
	cur, ok := m.runs[run.ID]
	if !ok {
		return domain.ErrNotFound("run %q not found", run.ID)
	}
	if cur.Version != prevVersion {
		return domain.ErrConflict("run %q was modified concurrently", run.ID)
	}
	trail := m.events[run.ID]
	if n := len(trail); n > 0 && trail[n-1].Seq+1 != event.Seq {
		return domain.ErrConflict("audit sequence gap on run %q", run.ID)
	}
	m.runs[run.ID] = CloneRun(run)
	m.events[run.ID] = append(trail, *event)
	return nil
}

// ListByRun implements the interface method for testing.
func (m *MemoryRunStore) ListByRun(_ context.Context, runID string) ([]domain.AuditEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events[runID]), nil
}

// Stages returns the audit stages recorded for a run in order.
func (m *MemoryRunStore) Stages(runID string) []domain.EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.EventType
	for _, e := range m.events[runID] {
		out = append(out, e.Stage)
	}
	return out
}

// CloneRun copies a run so that stored and returned values share no slices.
func CloneRun(r *domain.Run) *domain.Run {
	c := *r
	c.RequestTypes = slices.Clone(r.RequestTypes)
	c.Findings = slices.Clone(r.Findings)
	c.Artifacts = slices.Clone(r.Artifacts)
	c.Proposals = slices.Clone(r.Proposals)
	for i := range c.Proposals {
		c.Proposals[i].Targets = slices.Clone(c.Proposals[i].Targets)
	}
	c.Verdicts = slices.Clone(r.Verdicts)
	return &c
}

// === Subject Repository ===

// MemorySubjects implements domain.SubjectRepository in memory.
type MemorySubjects struct {
	mu      sync.Mutex
	records map[string]domain.SubjectRecord

	// Fetches counts SubjectRecord calls, for asserting fresh evaluation.
	Fetches int
}

// NewMemorySubjects creates a store seeded with the given records.
func NewMemorySubjects(recs ...domain.SubjectRecord) *MemorySubjects {
	m := &MemorySubjects{records: map[string]domain.SubjectRecord{}}
	for _, r := range recs {
		m.records[r.SubjectID] = r
	}
	return m
}

// SubjectRecord implements the interface method for testing.
func (m *MemorySubjects) SubjectRecord(_ context.Context, id string) (*domain.SubjectRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fetches++
	r, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound("subject %q not found", id)
	}
	return &r, nil
}

// Upsert implements the interface method for testing.
func (m *MemorySubjects) Upsert(_ context.Context, rec *domain.SubjectRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.SubjectID] = *rec
	return nil
}

// SetLegalHold implements the interface method for testing.
func (m *MemorySubjects) SetLegalHold(_ context.Context, id string, hold bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[id]
	if !ok {
		return domain.ErrNotFound("subject %q not found", id)
	}
	r.LegalHold = hold
	m.records[id] = r
	return nil
}

// === Collaborators ===

// MockCollector implements domain.FindingCollector for testing.
type MockCollector struct {
	CollectFn func(ctx context.Context, run *domain.Run) (domain.Collection, error)
}

// Collect implements the interface method for testing.
func (m *MockCollector) Collect(ctx context.Context, run *domain.Run) (domain.Collection, error) {
	if m.CollectFn != nil {
		return m.CollectFn(ctx, run)
	}
	return domain.Collection{}, nil
}

// MockSummarizer implements domain.Summarizer for testing.
type MockSummarizer struct {
	SummarizeFn func(ctx context.Context, findings []domain.Finding, proposals []domain.Proposal) (string, error)
}

// Summarize implements the interface method for testing.
func (m *MockSummarizer) Summarize(ctx context.Context, findings []domain.Finding, proposals []domain.Proposal) (string, error) {
	if m.SummarizeFn != nil {
		return m.SummarizeFn(ctx, findings, proposals)
	}
	return "", nil
}

// MockExportSink implements domain.ExportSink for testing.
type MockExportSink struct {
	mu       sync.Mutex
	ExportFn func(ctx context.Context, run *domain.Run, trail []domain.AuditEvent) (*domain.ExportResult, error)
	Calls    int
	// Trails holds the audit trail passed on each call.
	Trails [][]domain.AuditEvent
}

// Export implements the interface method for testing.
func (m *MockExportSink) Export(ctx context.Context, run *domain.Run, trail []domain.AuditEvent) (*domain.ExportResult, error) {
	m.mu.Lock()
	m.Calls++
	m.Trails = append(m.Trails, trail)
	m.mu.Unlock()
	if m.ExportFn != nil {
		return m.ExportFn(ctx, run, trail)
	}
	return &domain.ExportResult{Location: "runs/" + run.ID + ".zip", Checksum: "sha256:test"}, nil
}

// FixedClock returns a clock function that always reports t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
