package export

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gdpr-guardian/internal/domain"
)

var ts = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func finalizedRun(t *testing.T) (*domain.Run, []domain.AuditEvent) {
	t.Helper()
	run := &domain.Run{
		ID:           "run-1",
		SubjectID:    "alice@example.com",
		RequestTypes: []domain.ProposalAction{domain.ActionAccess},
		State:        domain.StateFinalized,
		Policy: domain.PolicyConfig{
			Identity:   domain.IdentityPolicy{MinConfidenceForAutoApproval: 0.85},
			Retention:  domain.RetentionPolicies{FinancialTransactionDays: 2555, ActiveServiceDays: 30},
			Disclosure: domain.DisclosurePolicy{RequireSections: []string{"purpose_of_processing", "categories_of_data", "retention_period", "complaints"}},
		},
		Findings: []domain.Finding{
			{ID: "f1", Source: "crm_profile", ArtifactID: "crm_1", Kind: domain.PIIEmail, Value: "alice@example.com", MaskedPreview: "al***@example.com", End: 17},
			{ID: "f2", Source: "message_export", ArtifactID: "msg_1", Kind: domain.PIIEmail, Value: "bob@example.org", MaskedPreview: "bo***@example.org", Start: 5, End: 20, ThirdParty: true},
			{ID: "f3", Source: "message_export", ArtifactID: "msg_2", Kind: domain.PIIPhone, Value: "+1 555-010-0199", MaskedPreview: "***0199", Start: 5, End: 20},
		},
		Artifacts: []domain.Artifact{
			{RunID: "run-1", Source: "crm_profile", ArtifactID: "crm_1", Content: "alice@example.com"},
			{RunID: "run-1", Source: "message_export", ArtifactID: "msg_1", Content: "From bob@example.org"},
			{RunID: "run-1", Source: "message_export", ArtifactID: "msg_2", Content: "Call +1 555-010-0199"},
		},
		Proposals: []domain.Proposal{{ID: "access:alice@example.com", SubjectID: "alice@example.com", Action: domain.ActionAccess, Targets: []string{"f1", "f2", "f3"}}},
		Approval: &domain.Approval{
			Decision:   domain.EventApproved,
			Actor:      "dpo",
			Selections: []domain.ProposalSelection{{ProposalID: "access:alice@example.com", TargetIDs: []string{"f1", "f2"}}},
			DecidedAt:  ts,
		},
		CreatedAt: ts.Add(-time.Hour),
		UpdatedAt: ts,
	}
	var trail []domain.AuditEvent
	for i, stage := range []domain.EventType{domain.EventRunCreated, domain.EventApproved, domain.EventFinalized} {
		ev, err := domain.NewAuditEvent(run, stage, domain.StateIntake, domain.StateFinalized, "dpo", map[string]int{"step": i}, ts)
		require.NoError(t, err)
		run.AuditSeq, run.AuditHead = ev.Seq, ev.Hash
		trail = append(trail, *ev)
	}
	return run, trail
}

func readMembers(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = b
	}
	return out
}

func rezip(t *testing.T, members map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, b := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(b)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestBuild_VerifiesAndIsDeterministic(t *testing.T) {
	t.Parallel()
	run, trail := finalizedRun(t)

	data, checksum, err := Build(run, trail)
	require.NoError(t, err)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, checksum)

	m, err := Verify(data)
	require.NoError(t, err)
	assert.Equal(t, "run-1", m.RunID)
	assert.Equal(t, checksum, m.Checksum)
	assert.Len(t, m.Files, 9)

	again, checksum2, err := Build(run, trail)
	require.NoError(t, err)
	assert.Equal(t, checksum, checksum2)
	assert.Equal(t, data, again)
}

func TestBuild_Contents(t *testing.T) {
	t.Parallel()
	run, trail := finalizedRun(t)
	data, checksum, err := Build(run, trail)
	require.NoError(t, err)
	members := readMembers(t, data)

	assert.Equal(t, checksum+"\n", string(members[FileChecksum]))
	assert.NotContains(t, string(members[FileFindings]), "bob@example.org")
	assert.Contains(t, string(members[FileFindings]), "bo***@example.org")

	var findings []exportedFinding
	require.NoError(t, json.Unmarshal(members[FileFindings], &findings))
	require.Len(t, findings, 3)
	assert.Equal(t, "alice@example.com", findings[0].Value)
	assert.Equal(t, "crm_profile/crm_1@0:17", findings[0].ValueRef)
	assert.Empty(t, findings[1].Value)
	assert.Empty(t, findings[2].Value, "unselected findings are not disclosed")
	assert.False(t, findings[2].Selected)

	var redacted []RedactedArtifact
	require.NoError(t, json.Unmarshal(members[FileRedacted], &redacted))
	require.Len(t, redacted, 2, "only artifacts with released findings are delivered")
	assert.Equal(t, "alice@example.com", redacted[0].Content)
	assert.Equal(t, []string{"f1"}, redacted[0].Disclosed)
	assert.Equal(t, "From bo***@example.org", redacted[1].Content)
	assert.Equal(t, []string{"f2"}, redacted[1].Redacted)
	assert.NotContains(t, string(members[FileRedacted]), "+1 555-010-0199")

	var erasure domain.ErasureRecord
	require.NoError(t, json.Unmarshal(members[FileErasure], &erasure))
	assert.Equal(t, domain.ErasureNotRequested, erasure.Status)
	assert.Empty(t, erasure.Artifacts)

	var summary bundleSummary
	require.NoError(t, json.Unmarshal(members[FileSummary], &summary))
	assert.Equal(t, 1, summary.Disclosed)
	assert.Equal(t, 1, summary.Redacted)
	assert.Zero(t, summary.Erased)

	var disclosures map[string]string
	require.NoError(t, json.Unmarshal(members[FileDisclosures], &disclosures))
	assert.Equal(t, "email, phone", disclosures["categories_of_data"])
	assert.Contains(t, disclosures["retention_period"], "2555 days")
	assert.Equal(t, "Not documented.", disclosures["complaints"])
	assert.NotEmpty(t, disclosures["purpose_of_processing"])

	var policy domain.PolicyConfig
	require.NoError(t, json.Unmarshal(members[FilePolicy], &policy))
	assert.Equal(t, run.Policy, policy)
}

func TestBuild_RedactionPolicyAndErasure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		waived        bool
		wantPhone     string
		wantMsg2      string
		wantRedacted2 []string
	}{
		{
			name:          "required redaction masks a released finding",
			wantMsg2:      "Call ***0199",
			wantRedacted2: []string{"f3"},
		},
		{
			name:          "justified waiver discloses it",
			waived:        true,
			wantPhone:     "+1 555-010-0199",
			wantMsg2:      "Call +1 555-010-0199",
			wantRedacted2: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			run, trail := finalizedRun(t)
			run.RequestTypes = append(run.RequestTypes, domain.ActionErasure)
			run.Policy.Redaction = domain.RedactionPolicy{RequiredTypes: []domain.PIIKind{domain.PIIPhone}, AllowOverrideWithJustification: true}
			run.Proposals = append(run.Proposals, domain.Proposal{ID: "erasure:alice@example.com", Action: domain.ActionErasure, Targets: []string{"f1", "f3"}})
			run.Approval.Selections = []domain.ProposalSelection{
				{ProposalID: "access:alice@example.com", TargetIDs: []string{"f1", "f3"}},
				{ProposalID: "erasure:alice@example.com", TargetIDs: []string{"f3"}},
			}
			run.Approval.RedactionsWaived = tt.waived
			run.Erasure = domain.NewErasureRecord(run, ts)

			data, _, err := Build(run, trail)
			require.NoError(t, err)
			members := readMembers(t, data)

			var findings []exportedFinding
			require.NoError(t, json.Unmarshal(members[FileFindings], &findings))
			assert.Equal(t, tt.wantPhone, findings[2].Value)
			assert.Equal(t, !tt.waived, findings[2].RedactionRequired)
			assert.True(t, findings[2].Erased)
			assert.False(t, findings[0].Erased)

			var redacted []RedactedArtifact
			require.NoError(t, json.Unmarshal(members[FileRedacted], &redacted))
			require.Len(t, redacted, 2)
			assert.Equal(t, "msg_2", redacted[1].ArtifactID)
			assert.Equal(t, tt.wantMsg2, redacted[1].Content)
			assert.Equal(t, tt.wantRedacted2, redacted[1].Redacted)

			var erasure domain.ErasureRecord
			require.NoError(t, json.Unmarshal(members[FileErasure], &erasure))
			assert.Equal(t, domain.ErasureRecorded, erasure.Status)
			require.Len(t, erasure.Artifacts, 1)
			assert.Equal(t, domain.ErasureArtifact{Source: "message_export", ArtifactID: "msg_2", FindingIDs: []string{"f3"}, Status: domain.ErasedArtifact}, erasure.Artifacts[0])
			assert.NotContains(t, string(members[FileErasure]), "555")
		})
	}
}

func TestRedactArtifacts(t *testing.T) {
	t.Parallel()

	const note = "Contact alice@example.com or +1 555-010-0199"
	email := domain.Finding{ID: "f1", Source: "crm", ArtifactID: "a1", Kind: domain.PIIEmail, Value: "alice@example.com", MaskedPreview: "al***@example.com", Start: 8, End: 25}
	phone := domain.Finding{ID: "f2", Source: "crm", ArtifactID: "a1", Kind: domain.PIIPhone, Value: "+1 555-010-0199", MaskedPreview: "***0199", Start: 29, End: 44}
	address := domain.Finding{ID: "f3", Source: "crm", ArtifactID: "a1", Kind: domain.PIIAddress, Value: "<context>", MaskedPreview: "[REDACTED]"}
	stale := phone
	stale.Value = "+1 555-010-0000"
	overlap := domain.Finding{ID: "f4", Source: "crm", ArtifactID: "a1", Kind: domain.PIIEmail, Value: "example.com or +1", MaskedPreview: "***", Start: 14, End: 31}

	tests := []struct {
		name      string
		findings  []domain.Finding
		released  []string
		disclosed []string
		want      string
		withheld  bool
	}{
		{name: "masks undisclosed keeps disclosed", findings: []domain.Finding{email, phone}, released: []string{"f1", "f2"}, disclosed: []string{"f1"},
			want: "Contact alice@example.com or ***0199"},
		{name: "masks everything", findings: []domain.Finding{email, phone}, released: []string{"f1"},
			want: "Contact al***@example.com or ***0199"},
		{name: "nothing released", findings: []domain.Finding{email, phone}},
		{name: "span-less finding withholds", findings: []domain.Finding{email, address}, released: []string{"f1"}, disclosed: []string{"f1"}, withheld: true},
		{name: "disclosed span-less finding is fine", findings: []domain.Finding{email, address}, released: []string{"f1", "f3"}, disclosed: []string{"f1", "f3"},
			want: note},
		{name: "stale span withholds", findings: []domain.Finding{email, stale}, released: []string{"f1"}, disclosed: []string{"f1"}, withheld: true},
		{name: "overlapping spans withhold", findings: []domain.Finding{email, overlap}, released: []string{"f1"}, withheld: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			run := &domain.Run{
				Findings:  tt.findings,
				Artifacts: []domain.Artifact{{Source: "crm", ArtifactID: "a1", Content: note}},
			}
			plan := domain.Delivery{Released: map[string]bool{}, Disclosed: map[string]bool{}}
			for _, id := range tt.released {
				plan.Released[id] = true
			}
			for _, id := range tt.disclosed {
				plan.Disclosed[id] = true
			}

			out := RedactArtifacts(run, plan)
			if len(tt.released) == 0 {
				assert.Empty(t, out)
				return
			}
			require.Len(t, out, 1)
			assert.Equal(t, tt.withheld, out[0].Withheld)
			if tt.withheld {
				assert.Empty(t, out[0].Content)
			} else {
				assert.Equal(t, tt.want, out[0].Content)
			}
			assert.Len(t, out[0].Disclosed, len(tt.disclosed))
			assert.Len(t, out[0].Redacted, len(tt.findings)-len(tt.disclosed))
		})
	}
}

func TestBuild_EmptyRun(t *testing.T) {
	t.Parallel()
	run := &domain.Run{ID: "run-empty", State: domain.StateFinalized, UpdatedAt: ts,
		Approval: &domain.Approval{Decision: domain.EventApproved, Selections: []domain.ProposalSelection{}}}

	data, _, err := Build(run, nil)
	require.NoError(t, err)
	_, err = Verify(data)
	require.NoError(t, err)

	members := readMembers(t, data)
	assert.JSONEq(t, `[]`, string(members[FileFindings]))
	assert.JSONEq(t, `[]`, string(members[FileProposals]))
	assert.JSONEq(t, `[]`, string(members[FileAuditLog]))
	assert.JSONEq(t, `[]`, string(members[FileRedacted]))
}

func TestVerify_DetectsTampering(t *testing.T) {
	t.Parallel()
	run, trail := finalizedRun(t)
	data, _, err := Build(run, trail)
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(m map[string][]byte)
		wantErr string
	}{
		{
			name:    "edited member",
			mutate:  func(m map[string][]byte) { m[FileProposals] = []byte(`[]`) },
			wantErr: "digest mismatch",
		},
		{
			name:    "edited manifest",
			mutate:  func(m map[string][]byte) { m[FileManifest] = append(m[FileManifest], ' ') },
			wantErr: "checksum mismatch",
		},
		{
			name:    "extra member",
			mutate:  func(m map[string][]byte) { m["notes.txt"] = []byte("hi") },
			wantErr: "not listed",
		},
		{
			name:    "removed member",
			mutate:  func(m map[string][]byte) { delete(m, FileApprovals) },
			wantErr: "missing member",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			members := readMembers(t, data)
			tt.mutate(members)
			_, err := Verify(rezip(t, members))
			require.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err = Verify([]byte("not a zip"))
	require.Error(t, err)
}

func TestFSStore(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	s := NewFSStore(fsys, "out")

	loc, err := s.Put(context.Background(), "runs/r1.zip", []byte("zip"))
	require.NoError(t, err)
	got, err := s.Get(context.Background(), loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("zip"), got)
	exists, _ := afero.Exists(fsys, loc+".tmp")
	assert.False(t, exists)

	_, err = s.Get(context.Background(), "/etc/passwd")
	require.ErrorContains(t, err, "outside the export root")
	_, err = s.Put(context.Background(), "../escape.zip", nil)
	require.Error(t, err)
}

func TestSplitURI(t *testing.T) {
	t.Parallel()
	b, k, err := splitURI("s3", "s3://bucket/runs/r1.zip")
	require.NoError(t, err)
	assert.Equal(t, "bucket", b)
	assert.Equal(t, "runs/r1.zip", k)

	_, _, err = splitURI("gs", "s3://bucket/key")
	require.Error(t, err)
	_, _, err = splitURI("az", "az://container")
	require.Error(t, err)
}

func TestExporter(t *testing.T) {
	t.Parallel()
	run, trail := finalizedRun(t)
	e := NewExporter(NewFSStore(afero.NewMemMapFs(), "out"), slog.New(slog.DiscardHandler))

	res, err := e.Export(context.Background(), run, trail)
	require.NoError(t, err)
	assert.Equal(t, "out/runs/run-1.zip", res.Location)

	data, err := e.Open(context.Background(), res.Location)
	require.NoError(t, err)
	assert.Equal(t, res.Size, int64(len(data)))
	_, err = Verify(data)
	require.NoError(t, err)

	run.State = domain.StateApproved
	_, err = e.Export(context.Background(), run, trail)
	require.ErrorContains(t, err, "not finalized")
}
