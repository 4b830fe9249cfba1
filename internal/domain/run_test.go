package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		from  RunState
		event EventType
		to    RunState
		want  bool
	}{
		{"intake creates pending", StateIntake, EventRunCreated, StateIdentityPending, true},
		{"assessment verifies", StateIdentityPending, EventIdentityAssessed, StateIdentityVerified, true},
		{"assessment blocks", StateIdentityPending, EventIdentityAssessed, StateIdentityBlocked, true},
		{"blocked identity cannot collect directly", StateIdentityBlocked, EventFindingsCollected, StateFindingsCollected, false},
		{"clarification resumes collection", StateIdentityBlocked, EventIdentityClarified, StateFindingsCollected, true},
		{"gate to awaiting", StateGuardrailEvaluated, EventGuardrailGated, StateAwaitingApproval, true},
		{"gate to blocked", StateGuardrailEvaluated, EventGuardrailGated, StateBlocked, true},
		{"approve from awaiting", StateAwaitingApproval, EventApproved, StateApproved, true},
		{"approve from blocked", StateBlocked, EventApproved, StateApproved, false},
		{"override from blocked", StateBlocked, EventOverridden, StateOverridden, true},
		{"override never yields approved", StateBlocked, EventOverridden, StateApproved, false},
		{"override from awaiting", StateAwaitingApproval, EventOverridden, StateOverridden, false},
		{"recheck can block awaiting run", StateAwaitingApproval, EventGuardrailsRechecked, StateBlocked, true},
		{"finalize approved", StateApproved, EventFinalized, StateFinalized, true},
		{"finalize overridden", StateOverridden, EventFinalized, StateFinalized, true},
		{"finalize finalized", StateFinalized, EventFinalized, StateFinalized, false},
		{"finalize awaiting", StateAwaitingApproval, EventFinalized, StateFinalized, false},
		{"export outcome on finalized", StateFinalized, EventExportFailed, StateFinalized, true},
		{"abandon from blocked", StateBlocked, EventAbandoned, StateAbandoned, true},
		{"abandon from intake", StateIntake, EventAbandoned, StateAbandoned, true},
		{"abandon finalized", StateFinalized, EventAbandoned, StateAbandoned, false},
		{"abandon abandoned", StateAbandoned, EventAbandoned, StateAbandoned, false},
		{"abandon to wrong state", StateBlocked, EventAbandoned, StateApproved, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.event, tt.to))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, IsTerminal(StateFinalized))
	assert.True(t, IsTerminal(StateAbandoned))
	for _, s := range []RunState{StateIntake, StateBlocked, StateApproved, StateOverridden, StateAwaitingApproval} {
		assert.False(t, IsTerminal(s), s)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	const threshold = 0.85
	for _, c := range []float64{0, 0.1, 0.6, 0.8499, 0.85, 0.9, 0.95, 1} {
		got := Classify(c, threshold)
		if c >= threshold {
			assert.Equal(t, IdentityAutoVerified, got, "confidence %v", c)
		} else {
			assert.Equal(t, IdentityNeedsReview, got, "confidence %v", c)
		}
	}
}

func TestIntake_Validate(t *testing.T) {
	t.Parallel()

	t.Run("missing subject", func(t *testing.T) {
		in := Intake{RequestTypes: []ProposalAction{ActionAccess}}
		var ve *ValidationError
		require.ErrorAs(t, in.Validate(), &ve)
	})

	t.Run("no request types", func(t *testing.T) {
		in := Intake{SubjectEmail: "alice@example.com"}
		require.Error(t, in.Validate())
	})

	t.Run("unknown request type", func(t *testing.T) {
		in := Intake{SubjectEmail: "alice@example.com", RequestTypes: []ProposalAction{"rectify"}}
		require.Error(t, in.Validate())
	})

	t.Run("ok", func(t *testing.T) {
		in := Intake{SubjectEmail: "alice@example.com", RequestTypes: []ProposalAction{ActionAccess, ActionErasure}}
		require.NoError(t, in.Validate())
	})
}

func TestPolicyConfig_Validate(t *testing.T) {
	t.Parallel()

	ok := PolicyConfig{
		Identity:  IdentityPolicy{MinConfidenceForAutoApproval: 0.85},
		Retention: RetentionPolicies{FinancialTransactionDays: 2555, ActiveServiceDays: 30},
	}
	require.NoError(t, ok.Validate())

	bad := ok
	bad.Identity.MinConfidenceForAutoApproval = 1.5
	require.Error(t, bad.Validate())

	bad = ok
	bad.Identity.MinConfidenceForAutoApproval = 0
	require.Error(t, bad.Validate())

	bad = ok
	bad.Retention.ActiveServiceDays = -1
	require.Error(t, bad.Validate())

	bad = ok
	bad.Redaction.RequiredTypes = []PIIKind{PIIEmail, "passport"}
	require.ErrorContains(t, bad.Validate(), "redaction.required_types")
}

func TestBandsFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		threshold float64
		want      ConfidenceBands
	}{
		{0.85, ConfidenceBands{Strong: 0.95, Weak: 0.60, NoSignal: 0.10}},
		{0.95, ConfidenceBands{Strong: 0.95, Weak: 0.60, NoSignal: 0.10}},
		{0.61, ConfidenceBands{Strong: 0.95, Weak: 0.60, NoSignal: 0.10}},
		{0.99, ConfidenceBands{Strong: 0.99, Weak: 0.60, NoSignal: 0.10}},
		{1, ConfidenceBands{Strong: 1, Weak: 0.60, NoSignal: 0.10}},
		{0.60, ConfidenceBands{Strong: 0.95, Weak: 0.30, NoSignal: 0.10}},
		{0.5, ConfidenceBands{Strong: 0.95, Weak: 0.25, NoSignal: 0.10}},
		{0.05, ConfidenceBands{Strong: 0.95, Weak: 0.025, NoSignal: 0.0125}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.threshold), func(t *testing.T) {
			t.Parallel()
			got := BandsFor(tt.threshold)
			assert.InDelta(t, tt.want.Strong, got.Strong, 1e-9)
			assert.InDelta(t, tt.want.Weak, got.Weak, 1e-9)
			assert.InDelta(t, tt.want.NoSignal, got.NoSignal, 1e-9)

			assert.Equal(t, IdentityAutoVerified, Classify(got.Strong, tt.threshold))
			assert.Equal(t, IdentityNeedsReview, Classify(got.Weak, tt.threshold))
			assert.Less(t, got.NoSignal, got.Weak)
		})
	}
}
