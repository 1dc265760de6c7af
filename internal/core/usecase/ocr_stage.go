package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
	"github.com/kirillkom/citizen-intake/internal/core/ports"
)

const fileNotFoundMarker = "arquivo_nao_encontrado"

type OCRStageConfig struct {
	PreviewChars int
	TotalChars   int
	FileTimeout  time.Duration
}

func (c OCRStageConfig) normalize() OCRStageConfig {
	if c.PreviewChars <= 0 {
		c.PreviewChars = 2000
	}
	if c.TotalChars <= 0 {
		c.TotalChars = 12000
	}
	return c
}

// OCRStage extracts text from the image attachments of a submission into the "ocr" sub-document.
type OCRStage struct {
	submissions ports.SubmissionRepository
	results     ports.ResultStore
	storage     ports.ObjectStorage
	engine      ports.OCREngine
	cfg         OCRStageConfig
	logger      *slog.Logger
	now         func() time.Time
}

func NewOCRStage(
	submissions ports.SubmissionRepository,
	results ports.ResultStore,
	storage ports.ObjectStorage,
	engine ports.OCREngine,
	cfg OCRStageConfig,
	logger *slog.Logger,
) *OCRStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRStage{
		submissions: submissions,
		results:     results,
		storage:     storage,
		engine:      engine,
		cfg:         cfg.normalize(),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Process only returns an error when the submission or the result document cannot be reached, or
// when the OCR engine is missing altogether. Per-image failures end up in the result entries.
func (s *OCRStage) Process(ctx context.Context, submissionID string) (*domain.OCRResult, error) {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("fetch submission: %w", err)
	}
	if err := s.results.Ensure(ctx, submissionID); err != nil {
		return nil, fmt.Errorf("ensure result document: %w", err)
	}

	images := make([]domain.File, 0, len(sub.Files))
	for _, file := range sub.Files {
		if file.IsImage() {
			images = append(images, file)
		}
	}
	if len(images) == 0 {
		return &domain.OCRResult{Images: []domain.OCRFileResult{}, ProcessedAt: s.now()}, nil
	}

	if err := s.engine.Ready(ctx); err != nil {
		return nil, domain.WrapError(domain.ErrOCREngineUnavailable, "ocr stage", err)
	}

	result := &domain.OCRResult{Images: make([]domain.OCRFileResult, 0, len(images))}
	texts := make([]string, 0, len(images))
	for _, file := range images {
		entry, text := s.recognizeFile(ctx, submissionID, file)
		result.Images = append(result.Images, entry)
		if text != "" {
			texts = append(texts, text)
		}
	}
	result.Text = domain.Head(domain.CleanText(strings.Join(texts, "\n\n")), s.cfg.TotalChars)
	result.ProcessedAt = s.now()

	doc, err := s.results.Load(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load result document: %w", err)
	}
	if err := doc.Put(domain.KeyOCR, result); err != nil {
		return nil, err
	}
	if err := s.results.SaveDocument(ctx, submissionID, doc); err != nil {
		return nil, fmt.Errorf("save ocr result: %w", err)
	}

	s.logger.Info("ocr_stage_done",
		"submission_id", submissionID,
		"images", len(images),
		"text_chars", len([]rune(result.Text)),
	)
	return result, nil
}

func (s *OCRStage) recognizeFile(ctx context.Context, submissionID string, file domain.File) (domain.OCRFileResult, string) {
	entry := domain.OCRFileResult{
		FileID:       file.ID,
		OriginalName: file.OriginalName,
		Path:         file.StoragePath,
	}

	absPath, err := s.storage.Resolve(file.StoragePath)
	if err != nil {
		if !errors.Is(err, domain.ErrFileNotFound) {
			s.logger.Warn("ocr_resolve_failed", "submission_id", submissionID, "file_id", file.ID, "error", err)
		}
		entry.Error = fileNotFoundMarker
		return entry, ""
	}

	fileCtx := ctx
	if s.cfg.FileTimeout > 0 {
		var cancel context.CancelFunc
		fileCtx, cancel = context.WithTimeout(ctx, s.cfg.FileTimeout)
		defer cancel()
	}

	text, err := recognizeSafely(fileCtx, s.engine, absPath)
	if err != nil {
		s.logger.Error("ocr_file_failed", "submission_id", submissionID, "file_id", file.ID, "error", err)
		entry.Error = domain.Head(err.Error(), maxErrorChars)
		return entry, ""
	}

	text = domain.CleanText(text)
	entry.OK = true
	entry.Text = domain.Head(text, s.cfg.PreviewChars)
	return entry, text
}

func recognizeSafely(ctx context.Context, engine ports.OCREngine, path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ocr engine panic: %v", r)
		}
	}()
	return engine.Recognize(ctx, path)
}
