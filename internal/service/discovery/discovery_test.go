package discovery

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gdpr-guardian/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDetector_Detect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    []Detection
	}{
		{
			name:    "email with offsets",
			content: "Contact alice@example.com now",
			want: []Detection{
				{Kind: domain.PIIEmail, Value: "alice@example.com", Start: 8, End: 25, Confidence: 0.99},
			},
		},
		{
			name:    "phone number",
			content: "Call +1 555-010-0199 today",
			want: []Detection{
				{Kind: domain.PIIPhone, Value: "+1 555-010-0199", Start: 5, End: 20, Confidence: 0.9},
			},
		},
		{
			name:    "offsets count runes",
			content: "Grüße bob@example.org",
			want: []Detection{
				{Kind: domain.PIIEmail, Value: "bob@example.org", Start: 6, End: 21, Confidence: 0.99},
			},
		},
		{
			name:    "address hint",
			content: "Lives on Baker Street",
			want: []Detection{
				{Kind: domain.PIIAddress, Value: "<context>", Confidence: 0.6},
			},
		},
		{
			name:    "no pii",
			content: "Your order has shipped",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Detector{}.Detect(tt.content))
		})
	}
}

func TestMask(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "bo***@example.org", Mask(domain.PIIEmail, "bob@example.org"))
	assert.Equal(t, "***0199", Mask(domain.PIIPhone, "+1 555-010-0199"))
	assert.Equal(t, "[REDACTED]", Mask(domain.PIIAddress, "221B Baker Street"))
	assert.Equal(t, "***", Mask(domain.PIIEmail, "not-an-email"))
}

func seedFs(t *testing.T) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "data/message_export.json", []byte(`[
		{"id": 1, "subject": "Invoice", "body": "Sent to alice@example.com, cc bob@example.org"},
		{"id": "m2", "subject": "Call back", "body": "Reach me at +1 555-010-0199"}
	]`), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "data/crm_profile.json", []byte(`{
		"id": "crm_42", "name": "Alice Example", "email": "alice@example.com",
		"phone": "+1 555-010-0199", "address": "1 Main Street"
	}`), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "data/files/notes.txt", []byte("alice@example.com asked about billing"), 0o644))
	return fsys
}

type staticSubjects struct{ rec *domain.SubjectRecord }

func (s staticSubjects) SubjectRecord(_ context.Context, _ string) (*domain.SubjectRecord, error) {
	if s.rec == nil {
		return nil, domain.ErrNotFound("subject not found")
	}
	return s.rec, nil
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }

func (failingSource) Fetch(context.Context, string) ([]domain.RawRecord, error) {
	return nil, errors.New("mailbox unavailable")
}

func TestDefaultSources(t *testing.T) {
	t.Parallel()

	srcs := DefaultSources(seedFs(t), "data")
	names := make([]string, 0, len(srcs))
	for _, s := range srcs {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"message_export", "crm_profile", "files"}, names)

	assert.Empty(t, DefaultSources(afero.NewMemMapFs(), "data"))
}

func TestCollector_Collect(t *testing.T) {
	t.Parallel()

	fsys := seedFs(t)
	c := NewCollector(CollectorDeps{
		Sources:  append(DefaultSources(fsys, "data"), failingSource{}),
		Subjects: staticSubjects{rec: &domain.SubjectRecord{SubjectID: "alice@example.com", Email: "alice@example.com", Phone: "+15550100199"}},
		Logger:   discardLogger(),
	})
	run := &domain.Run{ID: "run-1", SubjectID: "alice@example.com", SubjectEmail: "Alice@Example.com"}

	col, err := c.Collect(context.Background(), run)
	require.NoError(t, err)
	findings, stats := col.Findings, col.Stats

	assert.Equal(t, 4, stats.Records)
	assert.Equal(t, len(findings), stats.Findings)
	assert.Equal(t, map[string]string{"broken": "mailbox unavailable"}, stats.FailedSources)
	assert.Equal(t, 1, stats.ThirdParty)

	for i := 1; i < len(findings); i++ {
		prev, cur := findings[i-1], findings[i]
		assert.LessOrEqual(t, prev.Source+"/"+prev.ArtifactID, cur.Source+"/"+cur.ArtifactID)
	}
	for _, f := range findings {
		assert.Equal(t, "run-1", f.RunID)
		assert.Equal(t, "alice@example.com", f.SubjectID)
		assert.NotEmpty(t, f.ID)
		if f.Value == "bob@example.org" {
			assert.True(t, f.ThirdParty)
			assert.Equal(t, "bo***@example.org", f.MaskedPreview)
		} else {
			assert.False(t, f.ThirdParty, f.Value)
		}
	}

	assert.LessOrEqual(t, len(col.Artifacts), stats.Records)
	content := map[string][]rune{}
	for _, a := range col.Artifacts {
		assert.Equal(t, "run-1", a.RunID)
		content[a.Key()] = []rune(a.Content)
	}
	for _, f := range findings {
		text, ok := content[f.ArtifactKey()]
		require.True(t, ok, "finding %s has no artifact", f.ID)
		if f.End > f.Start {
			assert.Equal(t, f.Value, string(text[f.Start:f.End]))
		}
	}
}

func TestCollector_NoSources(t *testing.T) {
	t.Parallel()

	c := NewCollector(CollectorDeps{Logger: discardLogger()})
	col, err := c.Collect(context.Background(), &domain.Run{ID: "r", SubjectEmail: "a@b.co"})
	require.NoError(t, err)
	assert.Empty(t, col.Findings)
	assert.Empty(t, col.Artifacts)
	assert.Zero(t, col.Stats.Findings)
	assert.Nil(t, col.Stats.FailedSources)
}

func TestCollector_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewCollector(CollectorDeps{Sources: DefaultSources(seedFs(t), "data"), Logger: discardLogger()})
	_, err := c.Collect(ctx, &domain.Run{ID: "r", SubjectEmail: "alice@example.com"})
	require.ErrorIs(t, err, context.Canceled)
}
