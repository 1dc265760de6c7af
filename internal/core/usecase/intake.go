package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
	"github.com/kirillkom/citizen-intake/internal/core/ports"
)

// IntakeUseCase accepts citizen submissions and hands them to background enrichment.
type IntakeUseCase struct {
	repo    ports.SubmissionRepository
	storage ports.ObjectStorage
	trigger ports.EnrichmentTrigger
	logger  *slog.Logger
}

func NewIntakeUseCase(
	repo ports.SubmissionRepository,
	storage ports.ObjectStorage,
	trigger ports.EnrichmentTrigger,
	logger *slog.Logger,
) *IntakeUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntakeUseCase{
		repo:    repo,
		storage: storage,
		trigger: trigger,
		logger:  logger,
	}
}

// Submit stores the submission and its files, then triggers enrichment. The submission succeeds
// even when the trigger fails.
func (uc *IntakeUseCase) Submit(ctx context.Context, input domain.SubmissionInput) (*domain.Submission, error) {
	subType, err := validateSubmission(input)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sub := &domain.Submission{
		ID:              uuid.NewString(),
		Protocol:        strings.TrimSpace(input.Protocol),
		Type:            subType,
		Text:            strings.TrimSpace(input.Text),
		Status:          domain.StatusReceived,
		EnrichmentState: domain.StateCreated,
		Files:           make([]domain.File, 0, len(input.Files)),
		CreatedAt:       now,
	}

	for _, upload := range input.Files {
		file, err := uc.storeFile(ctx, sub, upload, now)
		if err != nil {
			return nil, err
		}
		sub.Files = append(sub.Files, file)
	}

	if err := uc.repo.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}

	if uc.trigger != nil {
		if err := uc.trigger.Trigger(ctx, sub.ID); err != nil {
			uc.logger.Error("enrichment_trigger_failed", "submission_id", sub.ID, "error", err)
		}
	}
	return sub, nil
}

func (uc *IntakeUseCase) storeFile(ctx context.Context, sub *domain.Submission, upload domain.Upload, now time.Time) (domain.File, error) {
	fileID := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(upload.Name))
	storageKey := fmt.Sprintf("%s/%s%s", sub.ID, fileID, ext)

	hasher := sha256.New()
	counter := &countingWriter{}
	body := io.TeeReader(upload.Body, io.MultiWriter(hasher, counter))
	limit := domain.MaxUploadBytes(sub.Type)
	if limit > 0 {
		body = io.LimitReader(body, limit+1)
	}

	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return domain.File{}, fmt.Errorf("save to object storage: %w", err)
	}
	if limit > 0 && counter.n > limit {
		return domain.File{}, domain.WrapError(domain.ErrInvalidInput, "store file",
			fmt.Errorf("%s exceeds %d bytes", upload.Name, limit))
	}

	return domain.File{
		ID:           fileID,
		SubmissionID: sub.ID,
		Category:     string(sub.Type),
		OriginalName: originalName(upload.Name),
		MimeType:     strings.ToLower(strings.TrimSpace(upload.MimeType)),
		SizeBytes:    counter.n,
		StoragePath:  storageKey,
		SHA256:       hex.EncodeToString(hasher.Sum(nil)),
		UploadedAt:   now,
	}, nil
}

func validateSubmission(input domain.SubmissionInput) (domain.SubmissionType, error) {
	subType, ok := domain.ParseSubmissionType(input.Type)
	if !ok {
		return "", domain.WrapError(domain.ErrInvalidInput, "validate submission", fmt.Errorf("unknown type %q", input.Type))
	}

	if subType == domain.SubmissionText {
		if strings.TrimSpace(input.Text) == "" {
			return "", domain.WrapError(domain.ErrInvalidInput, "validate submission", errors.New("text submission without text"))
		}
		if len(input.Files) > 0 {
			return "", domain.WrapError(domain.ErrInvalidInput, "validate submission", errors.New("text submission does not take files"))
		}
		return subType, nil
	}

	if len(input.Files) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "validate submission", fmt.Errorf("%s submission requires at least one file", subType))
	}
	allowed := domain.AllowedExtensions(subType)
	limit := domain.MaxUploadBytes(subType)
	for _, upload := range input.Files {
		ext := strings.ToLower(filepath.Ext(upload.Name))
		if _, ok := allowed[ext]; !ok {
			return "", domain.WrapError(domain.ErrInvalidInput, "validate submission", fmt.Errorf("extension %q not allowed for %s", ext, subType))
		}
		if upload.Size > limit {
			return "", domain.WrapError(domain.ErrInvalidInput, "validate submission", fmt.Errorf("%s exceeds %d bytes", upload.Name, limit))
		}
		if upload.Body == nil {
			return "", domain.WrapError(domain.ErrInvalidInput, "validate submission", fmt.Errorf("%s has no content", upload.Name))
		}
	}
	return subType, nil
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

// originalName keeps only the base name of a client-supplied file name.
func originalName(name string) string {
	base := strings.TrimSpace(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	if base == "" || base == "." || base == "/" {
		return "arquivo"
	}
	return base
}
