package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GuardrailVerdict is the allow/block outcome for one proposal.
// Reasons is empty iff Allowed.
type GuardrailVerdict struct {
	ProposalID  string         `json:"proposal_id"`
	Action      ProposalAction `json:"action"`
	Allowed     bool           `json:"allowed"`
	Reasons     []string       `json:"reasons"`
	LegalHold   bool           `json:"legal_hold"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
}

// AllAllowed reports whether every verdict allows its proposal.
func AllAllowed(verdicts []GuardrailVerdict) bool {
	for _, v := range verdicts {
		if !v.Allowed {
			return false
		}
	}
	return true
}

// Blocked returns the verdicts that block.
func Blocked(verdicts []GuardrailVerdict) []GuardrailVerdict {
	var out []GuardrailVerdict
	for _, v := range verdicts {
		if !v.Allowed {
			out = append(out, v)
		}
	}
	return out
}

// Transaction is a financial record in the subject's history.
type Transaction struct {
	ID      string          `json:"id"`
	Date    time.Time       `json:"date"`
	Amount  decimal.Decimal `json:"amount"`
	Product string          `json:"product,omitempty"`
}

// Subscription is a service window. A zero End means open-ended.
type Subscription struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end,omitempty"`
}

// SubjectRecord is what the guardrail engine evaluates erasure against.
type SubjectRecord struct {
	SubjectID           string         `json:"subject_id"`
	Email               string         `json:"email,omitempty"`
	Phone               string         `json:"phone,omitempty"`
	LegalHold           bool           `json:"legal_hold"`
	Transactions        []Transaction  `json:"transactions"`
	ActiveSubscriptions []Subscription `json:"active_subscriptions"`
}
