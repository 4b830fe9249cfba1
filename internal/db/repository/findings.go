package repository

import (
	"context"
	"database/sql"
	"fmt"

	"gdpr-guardian/internal/db/crypto"
	"gdpr-guardian/internal/domain"
)

// FindingRepo stores findings and the artifacts they were found in, with
// values and content sealed to the owning run.
type FindingRepo struct {
	db     *sql.DB
	cipher *crypto.FieldCipher
}

// NewFindingRepo creates a new FindingRepo.
func NewFindingRepo(db *sql.DB, cipher *crypto.FieldCipher) *FindingRepo {
	return &FindingRepo{db: db, cipher: cipher}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// insert writes findings that are not stored yet. Findings are immutable:
// an existing id is left untouched.
func (r *FindingRepo) insert(ctx context.Context, x execer, findings []domain.Finding) error {
	for _, f := range findings {
		sealed, err := r.cipher.Seal(f.Value, f.RunID)
		if err != nil {
			return fmt.Errorf("seal finding %s: %w", f.ID, err)
		}
		if _, err := x.ExecContext(ctx, `
			INSERT INTO findings (id, run_id, subject_id, source, artifact_id, kind, value_sealed,
				masked_preview, start_offset, end_offset, confidence, third_party, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
			f.ID, f.RunID, f.SubjectID, f.Source, f.ArtifactID, string(f.Kind), sealed,
			f.MaskedPreview, f.Start, f.End, f.Confidence, boolToInt(f.ThirdParty), formatTime(f.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert finding %s: %w", f.ID, err)
		}
	}
	return nil
}

// ListByRun returns a run's findings in collection order.
func (r *FindingRepo) ListByRun(ctx context.Context, runID string) ([]domain.Finding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, subject_id, source, artifact_id, kind, value_sealed, masked_preview,
			start_offset, end_offset, confidence, third_party, created_at
		FROM findings WHERE run_id = ?
		ORDER BY source, artifact_id, start_offset, kind, id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Finding
	for rows.Next() {
		var (
			f                domain.Finding
			kind, sealed, ts string
			thirdParty       int64
		)
		if err := rows.Scan(&f.ID, &f.RunID, &f.SubjectID, &f.Source, &f.ArtifactID, &kind, &sealed,
			&f.MaskedPreview, &f.Start, &f.End, &f.Confidence, &thirdParty, &ts); err != nil {
			return nil, err
		}
		f.Kind = domain.PIIKind(kind)
		f.ThirdParty = thirdParty != 0
		if f.Value, err = r.cipher.Open(sealed, f.RunID); err != nil {
			return nil, fmt.Errorf("open finding %s: %w", f.ID, err)
		}
		if f.CreatedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// insertArtifacts writes artifact text sealed to its run. An artifact
// already stored for the run is left untouched.
func (r *FindingRepo) insertArtifacts(ctx context.Context, x execer, artifacts []domain.Artifact) error {
	for _, a := range artifacts {
		sealed, err := r.cipher.Seal(a.Content, a.RunID)
		if err != nil {
			return fmt.Errorf("seal artifact %s: %w", a.Key(), err)
		}
		if _, err := x.ExecContext(ctx, `
			INSERT INTO artifacts (run_id, source, artifact_id, content_sealed)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(run_id, source, artifact_id) DO NOTHING`,
			a.RunID, a.Source, a.ArtifactID, sealed,
		); err != nil {
			return fmt.Errorf("insert artifact %s: %w", a.Key(), err)
		}
	}
	return nil
}

// ListArtifacts returns a run's artifacts ordered by source and artifact ID.
func (r *FindingRepo) ListArtifacts(ctx context.Context, runID string) ([]domain.Artifact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, source, artifact_id, content_sealed
		FROM artifacts WHERE run_id = ?
		ORDER BY source, artifact_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []domain.Artifact
	for rows.Next() {
		var (
			a      domain.Artifact
			sealed string
		)
		if err := rows.Scan(&a.RunID, &a.Source, &a.ArtifactID, &sealed); err != nil {
			return nil, err
		}
		if a.Content, err = r.cipher.Open(sealed, a.RunID); err != nil {
			return nil, fmt.Errorf("open artifact %s: %w", a.Key(), err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
