package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
	"github.com/kirillkom/citizen-intake/internal/core/ports"
)

type ClassifyStageConfig struct {
	MaxInputText int
	MaxTags      int
	MaxSummary   int
	Temperature  float64
	MaxTokens    int
	// Timeout bounds a single oracle call; zero leaves it to the oracle client.
	Timeout time.Duration
}

func (c ClassifyStageConfig) normalize() ClassifyStageConfig {
	if c.MaxInputText <= 0 {
		c.MaxInputText = 5500
	}
	if c.MaxTags <= 0 {
		c.MaxTags = domain.DefaultMaxTags
	}
	if c.MaxSummary <= 0 {
		c.MaxSummary = domain.DefaultMaxSummary
	}
	if c.Temperature <= 0 {
		c.Temperature = 0.2
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 650
	}
	return c
}

// ClassifyStage asks the oracle to triage a submission and always writes some valid classification.
type ClassifyStage struct {
	submissions ports.SubmissionRepository
	results     ports.ResultStore
	oracle      ports.ClassificationOracle
	observer    ports.PipelineObserver
	cfg         ClassifyStageConfig
	logger      *slog.Logger
	now         func() time.Time
}

func NewClassifyStage(
	submissions ports.SubmissionRepository,
	results ports.ResultStore,
	oracle ports.ClassificationOracle,
	observer ports.PipelineObserver,
	cfg ClassifyStageConfig,
	logger *slog.Logger,
) *ClassifyStage {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &ClassifyStage{
		submissions: submissions,
		results:     results,
		oracle:      oracle,
		observer:    observer,
		cfg:         cfg.normalize(),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Process never propagates oracle failures; only storage errors reach the caller.
func (s *ClassifyStage) Process(ctx context.Context, submissionID string) (*domain.ClassificationRecord, error) {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("fetch submission: %w", err)
	}
	if err := s.results.Ensure(ctx, submissionID); err != nil {
		return nil, fmt.Errorf("ensure result document: %w", err)
	}
	doc, err := s.results.Load(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load result document: %w", err)
	}

	evidence := ComposeEvidence(sub, doc, s.cfg.MaxInputText)
	record := &domain.ClassificationRecord{
		Input: domain.ClassificationInput{
			CitizenText:          evidence.CitizenText,
			OCRSummary:           evidence.OCRSummary,
			TranscriptionSummary: evidence.TranscriptionSummary,
		},
	}

	req, err := buildClassificationRequest(sub, evidence, s.cfg)
	if err != nil {
		return nil, err
	}
	if raw, err := marshalUnescaped(req.Messages); err == nil {
		record.Request = domain.Head(raw, maxAuditChars)
	}

	output, reply, reason, consultErr := s.consult(ctx, req, evidence.Empty())
	record.Output = output
	record.Model = reply.Model
	record.RawModelOutput = domain.Head(reply.Content, maxAuditChars)
	if consultErr != nil {
		record.Fallback = true
		s.observer.ObserveFallback(reason)
		s.logger.Warn("classification_fallback",
			"submission_id", submissionID,
			"reason", reason,
			"error", consultErr,
		)
		if record.RawModelOutput == "" {
			if fallbackJSON, err := json.Marshal(output); err == nil {
				record.RawModelOutput = string(fallbackJSON)
			}
		}
	}
	record.ClassifiedAt = s.now()

	charts := DeriveCharts(sub, doc)
	if err := doc.Put(domain.KeyClassification, record); err != nil {
		return nil, err
	}
	if err := doc.Put(domain.KeyCharts, charts); err != nil {
		return nil, err
	}

	projection := domain.ClassificationProjection{
		Category: output.Category,
		Priority: output.Priority,
		Tags:     output.Tags,
		Summary:  output.Summary,
		Model:    reply.Model,
	}
	if err := s.results.SaveClassification(ctx, submissionID, doc, projection); err != nil {
		return nil, fmt.Errorf("save classification: %w", err)
	}

	s.logger.Info("classification_done",
		"submission_id", submissionID,
		"category", output.Category,
		"priority", output.Priority,
		"confidence", output.Confidence,
		"charts", len(charts),
		"fallback", record.Fallback,
	)
	return record, nil
}

// consult returns the normalized output, or the fallback plus the failure reason and cause.
func (s *ClassifyStage) consult(ctx context.Context, req domain.OracleRequest, evidenceEmpty bool) (domain.Classification, domain.OracleReply, string, error) {
	callCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	reply, err := s.completeSafely(callCtx, req)
	if err != nil {
		return domain.FallbackClassification(evidenceEmpty, err), reply, oracleFailureReason(err), err
	}

	raw, err := parseOracleReply(reply.Content)
	if err != nil {
		return domain.FallbackClassification(evidenceEmpty, err), reply, "invalid_reply", err
	}

	limits := domain.ClassificationLimits{MaxTags: s.cfg.MaxTags, MaxSummary: s.cfg.MaxSummary}
	return domain.NormalizeClassification(raw, evidenceEmpty, limits), reply, "", nil
}

func (s *ClassifyStage) completeSafely(ctx context.Context, req domain.OracleRequest) (reply domain.OracleReply, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("oracle panic: %v", r)
		}
	}()
	if s.oracle == nil {
		return domain.OracleReply{}, domain.WrapError(domain.ErrOracleUnavailable, "classify", errors.New("no oracle configured"))
	}
	return s.oracle.Complete(ctx, req)
}

func oracleFailureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case domain.IsKind(err, domain.ErrOracleUnavailable):
		return "unavailable"
	case domain.IsKind(err, domain.ErrTemporary):
		return "temporary"
	default:
		return "error"
	}
}
