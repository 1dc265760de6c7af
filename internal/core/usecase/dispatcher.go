package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
	"github.com/kirillkom/citizen-intake/internal/core/ports"
)

// Stage is one enrichment step run by the dispatcher.
type Stage interface {
	Name() domain.StageName
	Run(ctx context.Context, submissionID string) error
}

func (s *OCRStage) Name() domain.StageName { return domain.StageNameOCR }

func (s *OCRStage) Run(ctx context.Context, submissionID string) error {
	_, err := s.Process(ctx, submissionID)
	return err
}

func (s *TranscriptionStage) Name() domain.StageName { return domain.StageNameTranscription }

func (s *TranscriptionStage) Run(ctx context.Context, submissionID string) error {
	_, err := s.Process(ctx, submissionID)
	return err
}

func (s *ClassifyStage) Name() domain.StageName { return domain.StageNameClassification }

func (s *ClassifyStage) Run(ctx context.Context, submissionID string) error {
	_, err := s.Process(ctx, submissionID)
	return err
}

type DispatcherConfig struct {
	MaxConcurrency int64
	RunTimeout     time.Duration
}

func (c DispatcherConfig) normalize() DispatcherConfig {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 15 * time.Minute
	}
	return c
}

// Dispatcher runs OCR, transcription and classification for a submission in the background.
// Delivery is at-most-once: a unit of work lost to a crash is not replayed.
type Dispatcher struct {
	submissions ports.SubmissionRepository
	stages      []Stage
	observer    ports.PipelineObserver
	cfg         DispatcherConfig
	logger      *slog.Logger

	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(
	submissions ports.SubmissionRepository,
	ocr Stage,
	transcription Stage,
	classification Stage,
	observer ports.PipelineObserver,
	cfg DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		submissions: submissions,
		stages:      []Stage{ocr, transcription, classification},
		observer:    observer,
		cfg:         cfg,
		logger:      logger,
		sem:         semaphore.NewWeighted(cfg.MaxConcurrency),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Trigger schedules the pipeline and returns immediately. The request context is not inherited.
func (d *Dispatcher) Trigger(_ context.Context, submissionID string) error {
	if strings.TrimSpace(submissionID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "trigger enrichment", errors.New("empty submission id"))
	}
	if err := d.ctx.Err(); err != nil {
		return fmt.Errorf("trigger enrichment: dispatcher stopped: %w", err)
	}
	d.Dispatch(submissionID)
	return nil
}

func (d *Dispatcher) Dispatch(submissionID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			d.logger.Warn("pipeline_dropped", "submission_id", submissionID, "error", err)
			return
		}
		defer d.sem.Release(1)

		runCtx, cancel := context.WithTimeout(d.ctx, d.cfg.RunTimeout)
		defer cancel()
		d.Run(runCtx, submissionID)
	}()
}

// Wait blocks until every dispatched pipeline has finished and stops the dispatcher. When ctx
// expires first the in-flight pipelines are cancelled.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// Run executes the stages sequentially. A failed stage never stops the ones after it.
func (d *Dispatcher) Run(ctx context.Context, submissionID string) domain.PipelineReport {
	d.observer.StartPipeline()
	report := domain.PipelineReport{
		SubmissionID: submissionID,
		Stages:       make([]domain.StageOutcome, 0, len(d.stages)),
		FinalState:   domain.StateCreated,
	}

	for _, stage := range d.stages {
		if stage == nil {
			continue
		}
		outcome := d.runStage(ctx, submissionID, stage)
		report.Stages = append(report.Stages, outcome)
		report.FinalState = outcome.State
	}

	d.observer.FinishPipeline(report.FinalState)
	d.logger.Info("pipeline_finished",
		"submission_id", submissionID,
		"final_state", report.FinalState,
	)
	return report
}

func (d *Dispatcher) runStage(ctx context.Context, submissionID string, stage Stage) domain.StageOutcome {
	name := stage.Name()
	pending, done, failed := domain.StageStates(name)
	d.markState(ctx, submissionID, pending)

	started := time.Now()
	err := runIsolated(ctx, stage, submissionID)
	outcome := domain.StageOutcome{Stage: name, State: done}
	status := "ok"
	if err != nil {
		outcome.State = failed
		outcome.Error = domain.Head(err.Error(), maxErrorChars)
		status = "failed"
		d.logger.Error("pipeline_stage_failed",
			"submission_id", submissionID,
			"stage", name,
			"error", err,
		)
	}
	d.observer.ObserveStage(name, status, time.Since(started))
	d.markState(ctx, submissionID, outcome.State)
	return outcome
}

// markState is best-effort and survives a cancelled run context.
func (d *Dispatcher) markState(ctx context.Context, submissionID string, state domain.PipelineState) {
	if d.submissions == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := d.submissions.UpdateEnrichmentState(writeCtx, submissionID, state); err != nil {
		d.logger.Warn("pipeline_state_update_failed",
			"submission_id", submissionID,
			"state", state,
			"error", err,
		)
	}
}

func runIsolated(ctx context.Context, stage Stage, submissionID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panic: %v\n%s", stage.Name(), r, debug.Stack())
		}
	}()
	return stage.Run(ctx, submissionID)
}

type noopObserver struct{}

func (noopObserver) StartPipeline()                                       {}
func (noopObserver) FinishPipeline(domain.PipelineState)                  {}
func (noopObserver) ObserveStage(domain.StageName, string, time.Duration) {}
func (noopObserver) ObserveFallback(string)                               {}
