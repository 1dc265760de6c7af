package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

type SubmissionRepository struct {
	db *sql.DB
}

func NewSubmissionRepository(db *sql.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

func (r *SubmissionRepository) Create(ctx context.Context, sub *domain.Submission) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin submission tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO submissions (id, protocol, type, text, status, enrichment_state, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, sub.ID, sub.Protocol, string(sub.Type), sub.Text, sub.Status, string(sub.EnrichmentState), sub.CreatedAt, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	for idx, file := range sub.Files {
		_, err = tx.ExecContext(ctx, `
INSERT INTO submission_files (id, submission_id, position, category, original_name, mime_type, size_bytes, storage_path, sha256, uploaded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, file.ID, sub.ID, idx, file.Category, file.OriginalName, file.MimeType, file.SizeBytes, file.StoragePath, file.SHA256, file.UploadedAt)
		if err != nil {
			return fmt.Errorf("insert submission file %s: %w", file.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit submission tx: %w", err)
	}
	return nil
}

func (r *SubmissionRepository) GetByID(ctx context.Context, id string) (*domain.Submission, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, protocol, type, text, status, enrichment_state, created_at
FROM submissions
WHERE id = $1
`, id)

	var sub domain.Submission
	var subType, state string
	if err := row.Scan(&sub.ID, &sub.Protocol, &subType, &sub.Text, &sub.Status, &state, &sub.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrSubmissionNotFound, "get submission", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan submission: %w", err)
	}
	sub.Type = domain.SubmissionType(subType)
	sub.EnrichmentState = domain.PipelineState(state)

	files, err := r.listFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.Files = files
	return &sub, nil
}

func (r *SubmissionRepository) listFiles(ctx context.Context, submissionID string) ([]domain.File, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, submission_id, category, original_name, mime_type, size_bytes, storage_path, sha256, uploaded_at
FROM submission_files
WHERE submission_id = $1
ORDER BY position ASC
`, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list submission files: %w", err)
	}
	defer rows.Close()

	out := make([]domain.File, 0)
	for rows.Next() {
		var file domain.File
		if err := rows.Scan(
			&file.ID, &file.SubmissionID, &file.Category, &file.OriginalName, &file.MimeType,
			&file.SizeBytes, &file.StoragePath, &file.SHA256, &file.UploadedAt,
		); err != nil {
			return nil, fmt.Errorf("scan submission file: %w", err)
		}
		out = append(out, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission files: %w", err)
	}
	return out, nil
}

func (r *SubmissionRepository) UpdateEnrichmentState(ctx context.Context, id string, state domain.PipelineState) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE submissions
SET enrichment_state = $2, updated_at = $3
WHERE id = $1
`, id, string(state), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update enrichment state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update enrichment state rows: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrSubmissionNotFound, "update enrichment state", fmt.Errorf("id=%s", id))
	}
	return nil
}
