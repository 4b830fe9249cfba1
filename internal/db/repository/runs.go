package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gdpr-guardian/internal/db/crypto"
	"gdpr-guardian/internal/domain"
)

// RunRepo persists DSAR runs. Every write commits the run row, any new
// findings and the matching audit event in one transaction.
type RunRepo struct {
	db       *sql.DB
	findings *FindingRepo
}

// NewRunRepo creates a new RunRepo. Finding values are sealed with cipher.
func NewRunRepo(db *sql.DB, cipher *crypto.FieldCipher) *RunRepo {
	return &RunRepo{db: db, findings: NewFindingRepo(db, cipher)}
}

var _ domain.RunRepository = (*RunRepo)(nil)

const runColumns = `id, subject_id, subject_email, request_types, state, version, policy,
	identity, clarification, proposals, verdicts, approval, erasure, summary,
	export_status, export_location, export_checksum, export_error, export_attempts, exported_at,
	audit_seq, audit_head, created_by, created_at, updated_at`

// runRow holds the encoded column values of a run.
type runRow struct {
	requestTypes, policy, proposals, verdicts sql.NullString
	identity, clarification, approval         sql.NullString
	erasure                                   sql.NullString
}

func encodeRun(run *domain.Run) (runRow, error) {
	var (
		row runRow
		err error
	)
	fields := []struct {
		dst *sql.NullString
		v   any
	}{
		{&row.requestTypes, nonNilSlice(run.RequestTypes)},
		{&row.policy, run.Policy},
		{&row.proposals, nonNilSlice(run.Proposals)},
		{&row.verdicts, nonNilSlice(run.Verdicts)},
		{&row.identity, run.Identity},
		{&row.clarification, run.Clarification},
		{&row.approval, run.Approval},
		{&row.erasure, run.Erasure},
	}
	for _, f := range fields {
		if *f.dst, err = marshalJSON(f.v); err != nil {
			return runRow{}, fmt.Errorf("encode run %s: %w", run.ID, err)
		}
	}
	return row, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Create inserts a new run together with its first audit event.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run, event *domain.AuditEvent) error {
	row, err := encodeRun(run)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `INSERT INTO dsar_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.SubjectID, run.SubjectEmail, row.requestTypes, string(run.State), run.Version, row.policy,
		row.identity, row.clarification, row.proposals, row.verdicts, row.approval, row.erasure, run.Summary,
		string(run.Export.Status), run.Export.Location, run.Export.Checksum, run.Export.Error,
		run.Export.Attempts, nullTime(run.Export.ExportedAt),
		run.AuditSeq, run.AuditHead, run.CreatedBy, formatTime(run.CreatedAt), formatTime(run.UpdatedAt))
	if err != nil {
		return mapDBError(err, "run "+run.ID)
	}
	if err := r.findings.insert(ctx, tx, run.Findings); err != nil {
		return err
	}
	if err := r.findings.insertArtifacts(ctx, tx, run.Artifacts); err != nil {
		return err
	}
	if err := insertAuditEvent(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

// Transition stores the mutated run if the stored version is still
// prevVersion, appending event in the same transaction.
func (r *RunRepo) Transition(ctx context.Context, run *domain.Run, prevVersion int64, event *domain.AuditEvent) error {
	row, err := encodeRun(run)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE dsar_runs SET
			state = ?, version = ?, identity = ?, clarification = ?, proposals = ?, verdicts = ?,
			approval = ?, erasure = ?, summary = ?, export_status = ?, export_location = ?, export_checksum = ?,
			export_error = ?, export_attempts = ?, exported_at = ?, audit_seq = ?, audit_head = ?,
			updated_at = ?
		WHERE id = ? AND version = ?`,
		string(run.State), run.Version, row.identity, row.clarification, row.proposals, row.verdicts,
		row.approval, row.erasure, run.Summary, string(run.Export.Status), run.Export.Location, run.Export.Checksum,
		run.Export.Error, run.Export.Attempts, nullTime(run.Export.ExportedAt), run.AuditSeq, run.AuditHead,
		formatTime(run.UpdatedAt),
		run.ID, prevVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM dsar_runs WHERE id = ?`, run.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound("run %q not found", run.ID)
		}
		if err != nil {
			return err
		}
		return domain.ErrConflict("run %q was modified concurrently (expected version %d)", run.ID, prevVersion)
	}
	if len(run.Findings) > 0 {
		// Findings and their artifacts are written once, by the transition
		// that collects them.
		var stored int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM findings WHERE run_id = ?`, run.ID).Scan(&stored); err != nil {
			return err
		}
		if stored == 0 {
			if err := r.findings.insert(ctx, tx, run.Findings); err != nil {
				return err
			}
			if err := r.findings.insertArtifacts(ctx, tx, run.Artifacts); err != nil {
				return err
			}
		}
	}
	if err := insertAuditEvent(ctx, tx, event); err != nil {
		return err
	}
	return tx.Commit()
}

// Get returns a run with its findings and artifacts.
func (r *RunRepo) Get(ctx context.Context, id string) (*domain.Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM dsar_runs WHERE id = ?`, id))
	if err != nil {
		return nil, mapDBError(err, fmt.Sprintf("run %q", id))
	}
	if run.Findings, err = r.findings.ListByRun(ctx, id); err != nil {
		return nil, err
	}
	if run.Artifacts, err = r.findings.ListArtifacts(ctx, id); err != nil {
		return nil, err
	}
	return run, nil
}

// List returns a page of runs, newest first, and the total matching count.
// Listed runs do not carry their findings.
func (r *RunRepo) List(ctx context.Context, filter domain.RunFilter) ([]domain.Run, int64, error) {
	var (
		where []string
		args  []any
	)
	if filter.State != nil {
		where = append(where, "state = ?")
		args = append(args, string(*filter.State))
	}
	if filter.SubjectID != nil {
		where = append(where, "subject_id = ?")
		args = append(args, *filter.SubjectID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dsar_runs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, filter.Page.Limit(), filter.Page.Offset())
	runs, err := r.query(ctx, `SELECT `+runColumns+` FROM dsar_runs`+clause+
		` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// ListOpenBefore returns runs created before cutoff that are not yet
// finalized or abandoned, oldest first.
func (r *RunRepo) ListOpenBefore(ctx context.Context, cutoff time.Time) ([]domain.Run, error) {
	return r.query(ctx, `SELECT `+runColumns+` FROM dsar_runs
		WHERE created_at < ? AND state NOT IN (?, ?)
		ORDER BY created_at, id`,
		formatTime(cutoff), string(domain.StateFinalized), string(domain.StateAbandoned))
}

func (r *RunRepo) query(ctx context.Context, q string, args ...any) ([]domain.Run, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.Run, error) {
	var (
		run                  domain.Run
		row                  runRow
		state, exportStatus  string
		exportedAt           sql.NullString
		createdAt, updatedAt string
	)
	if err := s.Scan(&run.ID, &run.SubjectID, &run.SubjectEmail, &row.requestTypes, &state, &run.Version, &row.policy,
		&row.identity, &row.clarification, &row.proposals, &row.verdicts, &row.approval, &row.erasure, &run.Summary,
		&exportStatus, &run.Export.Location, &run.Export.Checksum, &run.Export.Error, &run.Export.Attempts, &exportedAt,
		&run.AuditSeq, &run.AuditHead, &run.CreatedBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	run.State = domain.RunState(state)
	run.Export.Status = domain.ExportStatus(exportStatus)

	decode := []struct {
		src sql.NullString
		dst any
	}{
		{row.requestTypes, &run.RequestTypes},
		{row.policy, &run.Policy},
		{row.proposals, &run.Proposals},
		{row.verdicts, &run.Verdicts},
		{row.identity, &run.Identity},
		{row.clarification, &run.Clarification},
		{row.approval, &run.Approval},
		{row.erasure, &run.Erasure},
	}
	for _, d := range decode {
		if err := unmarshalJSON(d.src, d.dst); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", run.ID, err)
		}
	}

	var err error
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if run.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if exportedAt.Valid {
		t, err := parseTime(exportedAt.String)
		if err != nil {
			return nil, err
		}
		run.Export.ExportedAt = &t
	}
	return &run, nil
}
