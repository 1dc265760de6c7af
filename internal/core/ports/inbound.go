package ports

import (
	"context"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

// SubmissionIntake is the inbound contract for accepting a citizen submission.
type SubmissionIntake interface {
	Submit(ctx context.Context, input domain.SubmissionInput) (*domain.Submission, error)
}

// SubmissionReader is the inbound read model for submission metadata and enrichment state.
type SubmissionReader interface {
	GetByID(ctx context.Context, id string) (*domain.Submission, error)
}

// AnalysisReader exposes the merged enrichment result of a submission.
type AnalysisReader interface {
	GetAnalysis(ctx context.Context, submissionID string) (*domain.Analysis, error)
}

// EnrichmentTrigger schedules background enrichment without waiting for it.
type EnrichmentTrigger interface {
	Trigger(ctx context.Context, submissionID string) error
}

// PipelineRunner runs every enrichment stage for a submission to completion.
type PipelineRunner interface {
	Run(ctx context.Context, submissionID string) domain.PipelineReport
}
