package guardrail

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"gdpr-guardian/internal/domain"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testPolicy() domain.PolicyConfig {
	return domain.PolicyConfig{
		Identity:  domain.IdentityPolicy{MinConfidenceForAutoApproval: 0.85},
		Retention: domain.RetentionPolicies{FinancialTransactionDays: 2555, ActiveServiceDays: 30},
	}
}

func TestEngine_Evaluate(t *testing.T) {
	t.Parallel()

	erasure := domain.Proposal{ID: "erasure:alice", Action: domain.ActionErasure}
	access := domain.Proposal{ID: "access:alice", Action: domain.ActionAccess}
	recentTx := domain.Transaction{ID: "tx-1", Date: now.AddDate(0, 0, -10), Amount: decimal.RequireFromString("19.99")}
	oldTx := domain.Transaction{ID: "tx-0", Date: now.AddDate(-8, 0, 0), Amount: decimal.RequireFromString("5.00")}

	tests := []struct {
		name        string
		proposal    domain.Proposal
		record      *domain.SubjectRecord
		wantAllowed bool
		wantReasons []string
	}{
		{
			name:        "clean history allows erasure",
			proposal:    erasure,
			record:      &domain.SubjectRecord{SubjectID: "alice", Transactions: []domain.Transaction{oldTx}},
			wantAllowed: true,
			wantReasons: []string{},
		},
		{
			name:        "transaction 10 days old blocks erasure",
			proposal:    erasure,
			record:      &domain.SubjectRecord{SubjectID: "alice", Transactions: []domain.Transaction{oldTx, recentTx}},
			wantReasons: []string{"financial retention: transaction tx-1 dated 2025-05-22 is within 2555 days"},
		},
		{
			name:     "legal hold is reported alongside retention reasons",
			proposal: erasure,
			record: &domain.SubjectRecord{
				SubjectID:           "alice",
				LegalHold:           true,
				Transactions:        []domain.Transaction{recentTx},
				ActiveSubscriptions: []domain.Subscription{{ID: "sub-1", Start: now.AddDate(-1, 0, 0)}},
			},
			wantReasons: []string{
				ReasonLegalHold,
				"financial retention: transaction tx-1 dated 2025-05-22 is within 2555 days",
				"active service: subscription sub-1 active within 30 days",
			},
		},
		{
			name:     "subscription ended recently still blocks",
			proposal: erasure,
			record: &domain.SubjectRecord{SubjectID: "alice", ActiveSubscriptions: []domain.Subscription{
				{ID: "sub-2", Start: now.AddDate(-1, 0, 0), End: now.AddDate(0, 0, -5)},
			}},
			wantReasons: []string{"active service: subscription sub-2 active within 30 days"},
		},
		{
			name:     "subscription ended long ago or not started is ignored",
			proposal: erasure,
			record: &domain.SubjectRecord{SubjectID: "alice", ActiveSubscriptions: []domain.Subscription{
				{ID: "sub-3", Start: now.AddDate(-2, 0, 0), End: now.AddDate(0, -3, 0)},
				{ID: "sub-4", Start: now.AddDate(0, 1, 0)},
			}},
			wantAllowed: true,
			wantReasons: []string{},
		},
		{
			name:        "access is never blocked",
			proposal:    access,
			record:      &domain.SubjectRecord{SubjectID: "alice", LegalHold: true, Transactions: []domain.Transaction{recentTx}},
			wantAllowed: true,
			wantReasons: []string{},
		},
		{
			name:        "missing record allows",
			proposal:    erasure,
			wantAllowed: true,
			wantReasons: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := NewEngine().Evaluate(tt.proposal, tt.record, testPolicy(), now)
			assert.Equal(t, tt.wantAllowed, v.Allowed)
			assert.Equal(t, tt.wantReasons, v.Reasons)
			assert.Equal(t, tt.proposal.ID, v.ProposalID)
			assert.Equal(t, now, v.EvaluatedAt)
		})
	}
}

func TestEngine_LegalHoldFlag(t *testing.T) {
	t.Parallel()

	rec := &domain.SubjectRecord{SubjectID: "alice", LegalHold: true}
	v := NewEngine().Evaluate(domain.Proposal{ID: "access:alice", Action: domain.ActionAccess}, rec, testPolicy(), now)
	assert.True(t, v.Allowed)
	assert.True(t, v.LegalHold)
}

func TestEngine_FreshEvaluationSeesToggle(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	p := domain.Proposal{ID: "erasure:alice", Action: domain.ActionErasure}
	rec := &domain.SubjectRecord{SubjectID: "alice"}

	assert.True(t, e.Evaluate(p, rec, testPolicy(), now).Allowed)
	rec.LegalHold = true
	v := e.Evaluate(p, rec, testPolicy(), now)
	assert.False(t, v.Allowed)
	assert.Equal(t, []string{ReasonLegalHold}, v.Reasons)
}

func TestEngine_FinancialWindowBoundary(t *testing.T) {
	t.Parallel()

	p := domain.Proposal{ID: "erasure:alice", Action: domain.ActionErasure}
	atBoundary := &domain.SubjectRecord{Transactions: []domain.Transaction{{ID: "tx", Date: now.Add(-2555 * day)}}}
	assert.True(t, NewEngine().Evaluate(p, atBoundary, testPolicy(), now).Allowed)

	inside := &domain.SubjectRecord{Transactions: []domain.Transaction{{ID: "tx", Date: now.Add(-2555*day + time.Second)}}}
	assert.False(t, NewEngine().Evaluate(p, inside, testPolicy(), now).Allowed)
}
