// Package guardrail decides whether a proposal may proceed given legal hold
// and retention obligations on the subject.
package guardrail

import (
	"fmt"
	"time"

	"gdpr-guardian/internal/domain"
)

// ReasonLegalHold is reported whenever the subject is under legal hold.
const ReasonLegalHold = "legal hold active"

const day = 24 * time.Hour

// Engine evaluates proposals. It holds no state; callers must evaluate
// fresh every time the gate is checked.
type Engine struct{}

// NewEngine creates a new Engine.
func NewEngine() *Engine { return &Engine{} }

var _ domain.GuardrailEvaluator = (*Engine)(nil)

// Evaluate applies every rule independently and accumulates reasons in the
// order legal hold, financial retention, active service. Only erasure is
// subject to the rules. A missing record is treated as an empty history.
func (e *Engine) Evaluate(p domain.Proposal, rec *domain.SubjectRecord, policy domain.PolicyConfig, now time.Time) domain.GuardrailVerdict {
	v := domain.GuardrailVerdict{
		ProposalID:  p.ID,
		Action:      p.Action,
		Reasons:     []string{},
		EvaluatedAt: now.UTC(),
	}
	if rec != nil {
		v.LegalHold = rec.LegalHold
	}
	if p.Action != domain.ActionErasure || rec == nil {
		v.Allowed = true
		return v
	}

	if rec.LegalHold {
		v.Reasons = append(v.Reasons, ReasonLegalHold)
	}
	v.Reasons = append(v.Reasons, financialReasons(rec.Transactions, policy.Retention.FinancialTransactionDays, now)...)
	v.Reasons = append(v.Reasons, activeServiceReasons(rec.ActiveSubscriptions, policy.Retention.ActiveServiceDays, now)...)

	v.Allowed = len(v.Reasons) == 0
	return v
}

func financialReasons(txs []domain.Transaction, days int, now time.Time) []string {
	window := time.Duration(days) * day
	var out []string
	for _, tx := range txs {
		if now.Sub(tx.Date) < window {
			out = append(out, fmt.Sprintf("financial retention: transaction %s dated %s is within %d days",
				tx.ID, tx.Date.UTC().Format(time.DateOnly), days))
		}
	}
	return out
}

func activeServiceReasons(subs []domain.Subscription, days int, now time.Time) []string {
	cutoff := now.Add(-time.Duration(days) * day)
	var out []string
	for _, s := range subs {
		if s.Start.After(now) {
			continue
		}
		if s.End.IsZero() || s.End.After(cutoff) {
			out = append(out, fmt.Sprintf("active service: subscription %s active within %d days", s.ID, days))
		}
	}
	return out
}
