package api

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gdpr-guardian/internal/domain"
)

// === pageFromQuery ===

func TestHelpers_pageFromQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		query   url.Values
		wantMR  int
		wantPT  string
		wantErr bool
	}{
		{name: "empty returns defaults", query: url.Values{}},
		{name: "both set", query: url.Values{"max_results": {"10"}, "page_token": {"abc"}}, wantMR: 10, wantPT: "abc"},
		{name: "zero is allowed", query: url.Values{"max_results": {"0"}}},
		{name: "negative rejected", query: url.Values{"max_results": {"-1"}}, wantErr: true},
		{name: "non-numeric rejected", query: url.Values{"max_results": {"ten"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := pageFromQuery(tt.query)
			if tt.wantErr {
				var ve *domain.ValidationError
				require.ErrorAs(t, err, &ve)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMR, got.MaxResults)
			assert.Equal(t, tt.wantPT, got.PageToken)
		})
	}
}

// === decodeJSON ===

func TestHelpers_decodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantReason string
		wantErr    bool
	}{
		{name: "valid", body: `{"reason":"duplicate"}`, wantReason: "duplicate"},
		{name: "empty body leaves value untouched", body: ``},
		{name: "unknown field", body: `{"reason":"x","extra":1}`, wantErr: true},
		{name: "malformed", body: `{"reason":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var req abandonRequest
			err := decodeJSON(httptest.NewRecorder(), r, &req)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantReason, req.Reason)
		})
	}
}

// === toRunView ===

func TestHelpers_toRunView(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	run := &domain.Run{
		ID:           "run-1",
		SubjectID:    "alice@example.com",
		RequestTypes: []domain.ProposalAction{domain.ActionAccess},
		State:        domain.StateBlocked,
		Version:      7,
		AuditSeq:     7,
		CreatedAt:    ts,
		UpdatedAt:    ts,
	}

	got := toRunView(run)
	assert.Equal(t, "run-1", got.ID)
	assert.True(t, got.AwaitingDecision)
	assert.NotNil(t, got.Proposals)
	assert.NotNil(t, got.Verdicts)
	assert.Equal(t, int64(7), got.AuditSeq)

	run.State = domain.StateFinalized
	assert.False(t, toRunView(run).AwaitingDecision)
}

func TestHelpers_nonNil(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{}, nonNil[string](nil))
	assert.Equal(t, []string{"a"}, nonNil([]string{"a"}))
}
