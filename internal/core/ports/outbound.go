package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

// SubmissionRepository persists submissions with their attached files.
type SubmissionRepository interface {
	Create(ctx context.Context, sub *domain.Submission) error
	GetByID(ctx context.Context, id string) (*domain.Submission, error)
	UpdateEnrichmentState(ctx context.Context, id string, state domain.PipelineState) error
}

// ResultStore keeps one result document per submission. Load never fails for a missing row.
type ResultStore interface {
	Ensure(ctx context.Context, submissionID string) error
	Load(ctx context.Context, submissionID string) (*domain.ResultDocument, error)
	SaveDocument(ctx context.Context, submissionID string, doc *domain.ResultDocument) error
	SaveClassification(ctx context.Context, submissionID string, doc *domain.ResultDocument, projection domain.ClassificationProjection) error
	GetAnalysis(ctx context.Context, submissionID string) (*domain.Analysis, error)
}

// ObjectStorage stores uploaded files under a fixed root.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	// Resolve maps a relative key to an existing absolute path inside the root, or domain.ErrFileNotFound.
	Resolve(key string) (string, error)
}

// OCREngine extracts plain text from an image file.
type OCREngine interface {
	Ready(ctx context.Context) error
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// MediaConverter extracts a mono 16 kHz WAV track from an audio or video file.
type MediaConverter interface {
	ExtractAudio(ctx context.Context, srcPath, dstPath string) error
}

// SpeechRecognizer transcribes an audio file into timed segments.
type SpeechRecognizer interface {
	Transcribe(ctx context.Context, audioPath string) (domain.Transcript, error)
}

// ClassificationOracle is the external chat model asked to classify a submission.
type ClassificationOracle interface {
	Complete(ctx context.Context, req domain.OracleRequest) (domain.OracleReply, error)
}

// EnrichmentQueue carries submission-created events between processes.
type EnrichmentQueue interface {
	PublishSubmissionCreated(ctx context.Context, submissionID string) error
	SubscribeSubmissionCreated(ctx context.Context, handler func(context.Context, string) error) error
}

// PipelineObserver receives pipeline lifecycle events for metrics.
type PipelineObserver interface {
	StartPipeline()
	FinishPipeline(state domain.PipelineState)
	ObserveStage(stage domain.StageName, status string, duration time.Duration)
	ObserveFallback(reason string)
}
