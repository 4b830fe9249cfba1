package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gdpr-guardian/internal/domain"
)

// DemoSubject is the subject the bundled sample data is about.
const DemoSubject = "alice@example.com"

// seedDemo inserts the demo subject's history. Idempotent: an existing
// record is left untouched so operator changes (legal hold) survive restarts.
func seedDemo(ctx context.Context, subjects domain.SubjectRepository) error {
	_, err := subjects.SubjectRecord(ctx, DemoSubject)
	if err == nil {
		return nil
	}
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) {
		return fmt.Errorf("lookup demo subject: %w", err)
	}

	now := time.Now().UTC().Truncate(24 * time.Hour)
	rec := &domain.SubjectRecord{
		SubjectID: DemoSubject,
		Email:     DemoSubject,
		Phone:     "+1 555-010-0199",
		Transactions: []domain.Transaction{
			{Date: now.AddDate(-1, -2, 0), Amount: decimal.RequireFromString("49.90"), Product: "annual plan"},
			{Date: now.AddDate(-9, 0, 0), Amount: decimal.RequireFromString("12.00"), Product: "starter plan"},
		},
		ActiveSubscriptions: []domain.Subscription{
			{Start: now.AddDate(-2, 0, 0), End: now.AddDate(0, -3, 0)},
		},
	}
	if err := subjects.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("seed demo subject: %w", err)
	}
	return nil
}
