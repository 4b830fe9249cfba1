// Package export seals finalized runs into checksummed zip bundles and
// stores them on a blob backend.
package export

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/samber/lo"

	"gdpr-guardian/internal/domain"
)

// Bundle member names.
const (
	FileSummary     = "summary.json"
	FileFindings    = "findings.json"
	FileRedacted    = "redacted_artifacts.json"
	FileProposals   = "proposals.json"
	FileApprovals   = "approvals.json"
	FileDisclosures = "disclosures.json"
	FileErasure     = "erasure.json"
	FileAuditLog    = "audit_log.json"
	FilePolicy      = "policy_snapshot.json"
	FileManifest    = "manifest.json"
	FileChecksum    = "checksum.txt"
)

// Manifest lists every sealed member of a bundle with its digest.
type Manifest struct {
	RunID     string          `json:"run_id"`
	CreatedAt time.Time       `json:"created_at"`
	Files     []ManifestEntry `json:"files"`

	// Checksum is set by Verify from checksum.txt; it is not part of the manifest.
	Checksum string `json:"-"`
}

// ManifestEntry is one bundle member.
type ManifestEntry struct {
	Name   string `json:"name"`
	SHA256 string `json:"sha256"`
	Size   int    `json:"size"`
}

type bundleSummary struct {
	RunID        string                     `json:"run_id"`
	SubjectID    string                     `json:"subject_id"`
	RequestTypes []domain.ProposalAction    `json:"request_types"`
	State        domain.RunState            `json:"state"`
	Identity     *domain.IdentityAssessment `json:"identity,omitempty"`
	Decision     domain.EventType           `json:"decision,omitempty"`
	Findings     int                        `json:"findings"`
	Disclosed    int                        `json:"disclosed"`
	Redacted     int                        `json:"redacted"`
	Erased       int                        `json:"erased"`
	ThirdParty   int                        `json:"third_party"`
	Proposals    int                        `json:"proposals"`
	Summary      string                     `json:"summary,omitempty"`
	CreatedAt    time.Time                  `json:"created_at"`
	FinalizedAt  time.Time                  `json:"finalized_at"`
}

// exportedFinding is a finding as disclosed to the subject. Only disclosed
// values are written; every other finding carries its masked preview.
type exportedFinding struct {
	ID                string         `json:"id"`
	Source            string         `json:"source"`
	ArtifactID        string         `json:"artifact_id"`
	Kind              domain.PIIKind `json:"kind"`
	ValueRef          string         `json:"value_ref"`
	Value             string         `json:"value,omitempty"`
	MaskedPreview     string         `json:"masked_preview"`
	ThirdParty        bool           `json:"third_party"`
	Selected          bool           `json:"selected"`
	RedactionRequired bool           `json:"redaction_required,omitempty"`
	Erased            bool           `json:"erased,omitempty"`
}

type approvals struct {
	Approval *domain.Approval          `json:"approval"`
	Verdicts []domain.GuardrailVerdict `json:"verdicts"`
}

// Build renders the bundle for a finalized run and returns the zip bytes and
// the bundle checksum ("sha256:<hex>" over the manifest).
func Build(run *domain.Run, trail []domain.AuditEvent) ([]byte, string, error) {
	selected := selectedTargets(run)
	plan := domain.PlanDelivery(run)
	findings := lo.Map(run.Findings, func(f domain.Finding, _ int) exportedFinding {
		ef := exportedFinding{
			ID:                f.ID,
			Source:            f.Source,
			ArtifactID:        f.ArtifactID,
			Kind:              f.Kind,
			ValueRef:          f.ValueRef(),
			MaskedPreview:     f.MaskedPreview,
			ThirdParty:        f.ThirdParty,
			Selected:          selected[f.ID],
			RedactionRequired: plan.Required[f.ID],
			Erased:            plan.Erased[f.ID],
		}
		if plan.Disclosed[f.ID] {
			ef.Value = f.Value
		}
		return ef
	})
	redacted := RedactArtifacts(run, plan)
	erasure := run.Erasure
	if erasure == nil {
		erasure = domain.NewErasureRecord(run, run.UpdatedAt.UTC())
	}

	var decision domain.EventType
	if run.Approval != nil {
		decision = run.Approval.Decision
	}
	summary := bundleSummary{
		RunID:        run.ID,
		SubjectID:    run.SubjectID,
		RequestTypes: run.RequestTypes,
		State:        run.State,
		Identity:     run.Identity,
		Decision:     decision,
		Findings:     len(findings),
		Disclosed:    len(plan.Disclosed),
		Redacted:     lo.SumBy(redacted, func(a RedactedArtifact) int { return len(a.Redacted) }),
		Erased:       erasure.Findings,
		ThirdParty:   lo.CountBy(findings, func(f exportedFinding) bool { return f.ThirdParty }),
		Proposals:    len(run.Proposals),
		Summary:      run.Summary,
		CreatedAt:    run.CreatedAt,
		FinalizedAt:  run.UpdatedAt,
	}

	members := []struct {
		name string
		v    any
	}{
		{FileSummary, summary},
		{FileFindings, findings},
		{FileRedacted, redacted},
		{FileProposals, nonNil(run.Proposals)},
		{FileApprovals, approvals{Approval: run.Approval, Verdicts: nonNil(run.Verdicts)}},
		{FileDisclosures, Disclosures(run)},
		{FileErasure, erasure},
		{FileAuditLog, nonNil(trail)},
		{FilePolicy, run.Policy},
	}

	stamp := run.UpdatedAt.UTC()
	manifest := Manifest{RunID: run.ID, CreatedAt: stamp}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, m := range members {
		data, err := json.MarshalIndent(m.v, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("encode %s: %w", m.name, err)
		}
		if err := writeMember(zw, m.name, data, stamp); err != nil {
			return nil, "", err
		}
		manifest.Files = append(manifest.Files, ManifestEntry{Name: m.name, SHA256: digest(data), Size: len(data)})
	}

	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeMember(zw, FileManifest, manifestData, stamp); err != nil {
		return nil, "", err
	}
	checksum := "sha256:" + digest(manifestData)
	if err := writeMember(zw, FileChecksum, []byte(checksum+"\n"), stamp); err != nil {
		return nil, "", err
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("close bundle: %w", err)
	}
	return buf.Bytes(), checksum, nil
}

func writeMember(zw *zip.Writer, name string, data []byte, modified time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// selectedTargets returns the finding IDs named by any selection of the
// run's decision, whatever the proposal action.
func selectedTargets(run *domain.Run) map[string]bool {
	out := map[string]bool{}
	if run.Approval == nil {
		return out
	}
	for _, sel := range run.Approval.Selections {
		for _, id := range sel.TargetIDs {
			out[id] = true
		}
	}
	return out
}

var disclosureText = map[string]string{
	"purpose_of_processing": "Customer account administration, billing and support correspondence.",
	"recipients":            "Internal support and billing teams; payment processors acting as processors.",
	"rights_information":    "You may request rectification, erasure, restriction or portability, object to processing, and lodge a complaint with a supervisory authority.",
	"source_of_data":        "Collected directly from you and from systems you interacted with.",
}

// Disclosures assembles the sections the policy requires in every access
// response, in the order the policy lists them.
func Disclosures(run *domain.Run) map[string]string {
	out := map[string]string{}
	for _, section := range run.Policy.Disclosure.RequireSections {
		key := strings.ToLower(strings.TrimSpace(section))
		switch key {
		case "categories_of_data":
			kinds := lo.Uniq(lo.Map(run.Findings, func(f domain.Finding, _ int) string { return string(f.Kind) }))
			sort.Strings(kinds)
			if len(kinds) == 0 {
				out[key] = "No personal data was found."
			} else {
				out[key] = strings.Join(kinds, ", ")
			}
		case "retention_period":
			out[key] = fmt.Sprintf("Financial records are kept for %d days; service data for %d days after the service ends.",
				run.Policy.Retention.FinancialTransactionDays, run.Policy.Retention.ActiveServiceDays)
		default:
			if txt, ok := disclosureText[key]; ok {
				out[key] = txt
			} else {
				out[key] = "Not documented."
			}
		}
	}
	return out
}
