package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"gdpr-guardian/internal/domain"
)

// AuditEventRepo reads the append-only audit trail. Events are only ever
// written by RunRepo, inside the transaction that changes the run.
type AuditEventRepo struct {
	db *sql.DB
}

// NewAuditEventRepo creates a new AuditEventRepo.
func NewAuditEventRepo(db *sql.DB) *AuditEventRepo {
	return &AuditEventRepo{db: db}
}

var _ domain.AuditEventRepository = (*AuditEventRepo)(nil)

func insertAuditEvent(ctx context.Context, x execer, e *domain.AuditEvent) error {
	payload := string(e.Payload)
	if payload == "" {
		payload = "null"
	}
	_, err := x.ExecContext(ctx, `
		INSERT INTO audit_events (id, run_id, seq, stage, from_state, to_state, actor, payload, prev_hash, hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RunID, e.Seq, string(e.Stage), string(e.FromState), string(e.ToState), e.Actor,
		payload, e.PrevHash, e.Hash, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("append audit event %d: %w", e.Seq, mapDBError(err, "audit event"))
	}
	return nil
}

// ListByRun returns a run's events ordered by sequence.
func (r *AuditEventRepo) ListByRun(ctx context.Context, runID string) ([]domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, seq, stage, from_state, to_state, actor, payload, prev_hash, hash, created_at
		FROM audit_events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := []domain.AuditEvent{}
	for rows.Next() {
		var (
			e                   domain.AuditEvent
			stage, from, to, ts string
			payload             string
		)
		if err := rows.Scan(&e.ID, &e.RunID, &e.Seq, &stage, &from, &to, &e.Actor, &payload, &e.PrevHash, &e.Hash, &ts); err != nil {
			return nil, err
		}
		e.Stage = domain.EventType(stage)
		e.FromState = domain.RunState(from)
		e.ToState = domain.RunState(to)
		e.Payload = json.RawMessage(payload)
		if e.CreatedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
