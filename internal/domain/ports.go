package domain

import (
	"context"
	"time"
)

// IdentityVerifier computes an identity assessment for an artifact.
// Implementations are pure: the same artifact and policy yield the same result.
type IdentityVerifier interface {
	Assess(artifact *IdentityArtifact, subject string, policy PolicyConfig) IdentityAssessment
}

// FindingCollector gathers and normalizes findings for a run.
type FindingCollector interface {
	Collect(ctx context.Context, run *Run) (Collection, error)
}

// Collection is the result of one collection pass. Artifacts holds the text
// of every record that yielded at least one finding.
type Collection struct {
	Findings  []Finding
	Artifacts []Artifact
	Stats     CollectionStats
}

// CollectionStats summarizes one collection pass.
type CollectionStats struct {
	Sources       []string          `json:"sources"`
	Records       int               `json:"records"`
	Findings      int               `json:"findings"`
	ThirdParty    int               `json:"third_party"`
	FailedSources map[string]string `json:"failed_sources,omitempty"`
}

// ProposalGenerator derives proposals from findings.
type ProposalGenerator interface {
	Generate(findings []Finding, requested []ProposalAction) []Proposal
}

// GuardrailEvaluator evaluates a proposal against a subject record.
type GuardrailEvaluator interface {
	Evaluate(p Proposal, rec *SubjectRecord, policy PolicyConfig, now time.Time) GuardrailVerdict
}

// Summarizer turns findings and proposals into a human-readable summary.
// Failures are non-fatal to the run.
type Summarizer interface {
	Summarize(ctx context.Context, findings []Finding, proposals []Proposal) (string, error)
}

// ExportResult describes a durable bundle produced by an export sink.
type ExportResult struct {
	Location string
	Checksum string
	Size     int64
}

// ExportSink produces a durable, checksummed bundle for a finalized run.
type ExportSink interface {
	Export(ctx context.Context, run *Run, trail []AuditEvent) (*ExportResult, error)
}

// BundleReader fetches a previously exported bundle.
type BundleReader interface {
	Open(ctx context.Context, location string) ([]byte, error)
}
