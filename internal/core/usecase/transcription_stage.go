package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
	"github.com/kirillkom/citizen-intake/internal/core/ports"
)

const (
	maxTranscriptionErrorChars = 600
	summaryLineChars           = 900
)

type TranscriptionStageConfig struct {
	MaxFiles           int
	MaxSegments        int
	MaxTranscriptChars int
	// ConvertAudio normalizes audio files to WAV too, not only video tracks.
	ConvertAudio bool
	FileTimeout  time.Duration
	TempDir      string
}

func (c TranscriptionStageConfig) normalize() TranscriptionStageConfig {
	if c.MaxFiles <= 0 {
		c.MaxFiles = 4
	}
	if c.MaxSegments <= 0 {
		c.MaxSegments = 1200
	}
	if c.MaxTranscriptChars <= 0 {
		c.MaxTranscriptChars = 20000
	}
	return c
}

// TranscriptionStage transcribes audio and video attachments into the "transcription" sub-document.
type TranscriptionStage struct {
	submissions ports.SubmissionRepository
	results     ports.ResultStore
	storage     ports.ObjectStorage
	converter   ports.MediaConverter
	recognizer  ports.SpeechRecognizer
	cfg         TranscriptionStageConfig
	logger      *slog.Logger
	now         func() time.Time
}

func NewTranscriptionStage(
	submissions ports.SubmissionRepository,
	results ports.ResultStore,
	storage ports.ObjectStorage,
	converter ports.MediaConverter,
	recognizer ports.SpeechRecognizer,
	cfg TranscriptionStageConfig,
	logger *slog.Logger,
) *TranscriptionStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscriptionStage{
		submissions: submissions,
		results:     results,
		storage:     storage,
		converter:   converter,
		recognizer:  recognizer,
		cfg:         cfg.normalize(),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Process returns the best-effort result even when no file could be transcribed.
func (s *TranscriptionStage) Process(ctx context.Context, submissionID string) (*domain.TranscriptionResult, error) {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("fetch submission: %w", err)
	}
	if err := s.results.Ensure(ctx, submissionID); err != nil {
		return nil, fmt.Errorf("ensure result document: %w", err)
	}

	media := make([]domain.File, 0, len(sub.Files))
	for _, file := range sub.Files {
		if file.IsMedia() {
			media = append(media, file)
		}
	}
	result := &domain.TranscriptionResult{
		Transcriptions: []domain.TranscriptionFileResult{},
		Errors:         []domain.StageFileError{},
	}
	if len(media) == 0 {
		result.ProcessedAt = s.now()
		return result, nil
	}
	if len(media) > s.cfg.MaxFiles {
		s.logger.Warn("transcription_files_capped",
			"submission_id", submissionID,
			"media_files", len(media),
			"max_files", s.cfg.MaxFiles,
		)
		media = media[:s.cfg.MaxFiles]
	}

	for _, file := range media {
		entry, err := s.transcribeFile(ctx, file)
		if err != nil {
			s.logger.Error("transcription_file_failed", "submission_id", submissionID, "file_id", file.ID, "error", err)
			result.Errors = append(result.Errors, domain.StageFileError{
				FileID:       file.ID,
				OriginalName: file.DisplayName(),
				Error:        stageFileErrorText(err),
			})
			continue
		}
		s.logger.Info("transcription_file_done",
			"submission_id", submissionID,
			"file_id", file.ID,
			"chars", len([]rune(entry.Text)),
		)
		result.Transcriptions = append(result.Transcriptions, entry)
	}
	result.Summary = summarizeTranscriptions(result.Transcriptions, s.cfg.MaxTranscriptChars)
	result.ProcessedAt = s.now()

	doc, err := s.results.Load(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("load result document: %w", err)
	}
	if err := doc.Put(domain.KeyTranscription, result); err != nil {
		return nil, err
	}
	if err := s.results.SaveDocument(ctx, submissionID, doc); err != nil {
		return nil, fmt.Errorf("save transcription result: %w", err)
	}
	return result, nil
}

func (s *TranscriptionStage) transcribeFile(ctx context.Context, file domain.File) (entry domain.TranscriptionFileResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcription panic: %v", r)
		}
	}()

	srcPath, err := s.storage.Resolve(file.StoragePath)
	if err != nil {
		return entry, err
	}

	if s.cfg.FileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.FileTimeout)
		defer cancel()
	}

	audioPath := srcPath
	if file.IsVideo() || s.cfg.ConvertAudio {
		tmpDir, err := os.MkdirTemp(s.cfg.TempDir, "intake-audio-*")
		if err != nil {
			return entry, fmt.Errorf("create temp dir: %w", err)
		}
		defer os.RemoveAll(tmpDir)

		audioPath = filepath.Join(tmpDir, "audio.wav")
		if err := s.converter.ExtractAudio(ctx, srcPath, audioPath); err != nil {
			return entry, fmt.Errorf("extract audio: %w", err)
		}
	}

	transcript, err := s.recognizer.Transcribe(ctx, audioPath)
	if err != nil {
		return entry, fmt.Errorf("transcribe: %w", err)
	}
	transcript, text := boundTranscript(transcript, s.cfg.MaxSegments, s.cfg.MaxTranscriptChars)

	return domain.TranscriptionFileResult{
		FileID:       file.ID,
		FileType:     file.Category,
		MimeType:     file.MimeType,
		OriginalName: file.DisplayName(),
		FilePath:     file.StoragePath,
		Text:         text,
		Meta:         transcript,
	}, nil
}

// boundTranscript caps the segment list and builds the space-joined transcript text.
func boundTranscript(transcript domain.Transcript, maxSegments, maxChars int) (domain.Transcript, string) {
	segments := transcript.Segments
	if len(segments) > maxSegments {
		segments = segments[:maxSegments]
	}
	bounded := make([]domain.Segment, 0, len(segments))
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg.Text = strings.TrimSpace(seg.Text)
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
		bounded = append(bounded, seg)
	}
	transcript.Segments = bounded
	return transcript, domain.Cap(strings.TrimSpace(strings.Join(parts, " ")), maxChars)
}

func summarizeTranscriptions(entries []domain.TranscriptionFileResult, maxChars int) string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", entry.OriginalName, domain.Head(text, summaryLineChars)))
	}
	return domain.Cap(strings.TrimSpace(strings.Join(lines, "\n")), maxChars)
}

func stageFileErrorText(err error) string {
	if errors.Is(err, domain.ErrFileNotFound) {
		return fileNotFoundMarker
	}
	return domain.Head(err.Error(), maxTranscriptionErrorChars)
}
