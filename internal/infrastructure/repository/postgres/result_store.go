package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

// ResultStore keeps the per-submission result document in submission_analyses.result.
type ResultStore struct {
	db           *sql.DB
	maxJSONChars int
	logger       *slog.Logger
}

func NewResultStore(db *sql.DB, maxJSONChars int, logger *slog.Logger) *ResultStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultStore{db: db, maxJSONChars: maxJSONChars, logger: logger}
}

// Ensure creates the placeholder row once; existing rows are left untouched.
func (s *ResultStore) Ensure(ctx context.Context, submissionID string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO submission_analyses (submission_id, category, priority, tags, summary, result, created_at, updated_at)
VALUES ($1, $2, $3, '[]'::jsonb, '', '{}'::jsonb, $4, $4)
ON CONFLICT (submission_id) DO NOTHING
`, submissionID, domain.PlaceholderCategory, domain.PriorityLow, now)
	if err != nil {
		return fmt.Errorf("ensure analysis row: %w", err)
	}
	return nil
}

func (s *ResultStore) Load(ctx context.Context, submissionID string) (*domain.ResultDocument, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
SELECT result
FROM submission_analyses
WHERE submission_id = $1
`, submissionID).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NewResultDocument(), nil
		}
		return nil, fmt.Errorf("load result document: %w", err)
	}
	return domain.ParseResultDocument(raw), nil
}

// SaveDocument persists a stage write in full. The size cap applies only to SaveClassification.
func (s *ResultStore) SaveDocument(ctx context.Context, submissionID string, doc *domain.ResultDocument) error {
	if doc == nil {
		doc = domain.NewResultDocument()
	}
	raw, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal result document: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO submission_analyses (submission_id, category, priority, tags, summary, result, created_at, updated_at)
VALUES ($1, $2, $3, '[]'::jsonb, '', $4, $5, $5)
ON CONFLICT (submission_id) DO UPDATE SET
	result = EXCLUDED.result,
	updated_at = EXCLUDED.updated_at
`, submissionID, domain.PlaceholderCategory, domain.PriorityLow, raw, now)
	if err != nil {
		return fmt.Errorf("save result document: %w", err)
	}
	return nil
}

func (s *ResultStore) SaveClassification(
	ctx context.Context,
	submissionID string,
	doc *domain.ResultDocument,
	projection domain.ClassificationProjection,
) error {
	raw, err := s.encode(submissionID, doc)
	if err != nil {
		return err
	}
	tags := projection.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	var model any
	if projection.Model != "" {
		model = projection.Model
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO submission_analyses (submission_id, category, priority, tags, summary, model, result, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (submission_id) DO UPDATE SET
	category = EXCLUDED.category,
	priority = EXCLUDED.priority,
	tags = EXCLUDED.tags,
	summary = EXCLUDED.summary,
	model = EXCLUDED.model,
	result = EXCLUDED.result,
	updated_at = EXCLUDED.updated_at
`, submissionID, projection.Category, projection.Priority, tagsJSON, projection.Summary, model, raw, now)
	if err != nil {
		return fmt.Errorf("save classification: %w", err)
	}
	return nil
}

func (s *ResultStore) GetAnalysis(ctx context.Context, submissionID string) (*domain.Analysis, error) {
	var (
		analysis domain.Analysis
		tagsRaw  []byte
		model    sql.NullString
		raw      []byte
	)
	err := s.db.QueryRowContext(ctx, `
SELECT submission_id, category, priority, tags, summary, model, result, created_at, updated_at
FROM submission_analyses
WHERE submission_id = $1
`, submissionID).Scan(
		&analysis.SubmissionID,
		&analysis.Category,
		&analysis.Priority,
		&tagsRaw,
		&analysis.Summary,
		&model,
		&raw,
		&analysis.CreatedAt,
		&analysis.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrSubmissionNotFound, "get analysis", fmt.Errorf("id=%s", submissionID))
		}
		return nil, fmt.Errorf("scan analysis: %w", err)
	}

	analysis.Tags = []string{}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &analysis.Tags); err != nil {
			return nil, fmt.Errorf("decode analysis tags: %w", err)
		}
	}
	analysis.Model = model.String
	analysis.Document = domain.ParseResultDocument(raw)
	return &analysis, nil
}

func (s *ResultStore) encode(submissionID string, doc *domain.ResultDocument) ([]byte, error) {
	if doc == nil {
		doc = domain.NewResultDocument()
	}
	raw, slimmed, err := doc.Encode(s.maxJSONChars)
	if err != nil {
		return nil, err
	}
	if slimmed {
		s.logger.Warn("result_document_slimmed",
			"submission_id", submissionID,
			"max_chars", s.maxJSONChars,
		)
	}
	return raw, nil
}
