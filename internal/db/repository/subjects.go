package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"gdpr-guardian/internal/domain"
)

// SubjectRepo stores the subject history the guardrail engine evaluates.
type SubjectRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewSubjectRepo creates a new SubjectRepo.
func NewSubjectRepo(db *sql.DB) *SubjectRepo {
	return &SubjectRepo{db: db, now: time.Now}
}

var _ domain.SubjectRepository = (*SubjectRepo)(nil)

// SubjectRecord loads a subject with its transactions and subscriptions.
func (r *SubjectRepo) SubjectRecord(ctx context.Context, subjectID string) (*domain.SubjectRecord, error) {
	rec := domain.SubjectRecord{
		SubjectID:           subjectID,
		Transactions:        []domain.Transaction{},
		ActiveSubscriptions: []domain.Subscription{},
	}
	var hold int64
	err := r.db.QueryRowContext(ctx,
		`SELECT email, phone, legal_hold FROM subjects WHERE subject_id = ?`, subjectID,
	).Scan(&rec.Email, &rec.Phone, &hold)
	if err != nil {
		return nil, mapDBError(err, fmt.Sprintf("subject %q", subjectID))
	}
	rec.LegalHold = hold != 0

	txRows, err := r.db.QueryContext(ctx,
		`SELECT id, tx_date, amount, product FROM subject_transactions WHERE subject_id = ? ORDER BY tx_date, id`, subjectID)
	if err != nil {
		return nil, err
	}
	defer txRows.Close() //nolint:errcheck
	for txRows.Next() {
		var (
			t            domain.Transaction
			date, amount string
		)
		if err := txRows.Scan(&t.ID, &date, &amount, &t.Product); err != nil {
			return nil, err
		}
		if t.Date, err = parseTime(date); err != nil {
			return nil, err
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s amount: %w", t.ID, err)
		}
		rec.Transactions = append(rec.Transactions, t)
	}
	if err := txRows.Err(); err != nil {
		return nil, err
	}

	subRows, err := r.db.QueryContext(ctx,
		`SELECT id, start_at, end_at FROM subject_subscriptions WHERE subject_id = ? ORDER BY start_at, id`, subjectID)
	if err != nil {
		return nil, err
	}
	defer subRows.Close() //nolint:errcheck
	for subRows.Next() {
		var (
			s     domain.Subscription
			start string
			end   sql.NullString
		)
		if err := subRows.Scan(&s.ID, &start, &end); err != nil {
			return nil, err
		}
		if s.Start, err = parseTime(start); err != nil {
			return nil, err
		}
		if end.Valid {
			if s.End, err = parseTime(end.String); err != nil {
				return nil, err
			}
		}
		rec.ActiveSubscriptions = append(rec.ActiveSubscriptions, s)
	}
	if err := subRows.Err(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Upsert replaces a subject record and its history.
func (r *SubjectRepo) Upsert(ctx context.Context, rec *domain.SubjectRecord) error {
	if rec.SubjectID == "" {
		return domain.ErrValidation("subject_id is required")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO subjects (subject_id, email, phone, legal_hold, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET
			email = excluded.email, phone = excluded.phone,
			legal_hold = excluded.legal_hold, updated_at = excluded.updated_at`,
		rec.SubjectID, rec.Email, rec.Phone, boolToInt(rec.LegalHold), formatTime(r.now())); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subject_transactions WHERE subject_id = ?`, rec.SubjectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM subject_subscriptions WHERE subject_id = ?`, rec.SubjectID); err != nil {
		return err
	}
	for i, t := range rec.Transactions {
		id := t.ID
		if id == "" {
			id = fmt.Sprintf("%s-tx-%d", rec.SubjectID, i+1)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subject_transactions (id, subject_id, tx_date, amount, product) VALUES (?, ?, ?, ?, ?)`,
			id, rec.SubjectID, formatTime(t.Date), t.Amount.String(), t.Product); err != nil {
			return mapDBError(err, "transaction "+id)
		}
	}
	for i, s := range rec.ActiveSubscriptions {
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("%s-sub-%d", rec.SubjectID, i+1)
		}
		var end sql.NullString
		if !s.End.IsZero() {
			end = sql.NullString{String: formatTime(s.End), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subject_subscriptions (id, subject_id, start_at, end_at) VALUES (?, ?, ?, ?)`,
			id, rec.SubjectID, formatTime(s.Start), end); err != nil {
			return mapDBError(err, "subscription "+id)
		}
	}
	return tx.Commit()
}

// SetLegalHold toggles the legal hold flag of an existing subject.
func (r *SubjectRepo) SetLegalHold(ctx context.Context, subjectID string, hold bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE subjects SET legal_hold = ?, updated_at = ? WHERE subject_id = ?`,
		boolToInt(hold), formatTime(r.now()), subjectID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return mapDBError(sql.ErrNoRows, fmt.Sprintf("subject %q", subjectID))
	}
	return nil
}
