package asr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

// Model is a loaded speech recognition backend.
type Model interface {
	Transcribe(ctx context.Context, audioPath string) (domain.Transcript, error)
}

// Factory builds the backend. It may be slow and is called at most once per successful load.
type Factory func(ctx context.Context) (Model, error)

// Shared constructs one Model per process on first use and hands it to every caller.
// A failed construction is not remembered, so the next call tries again.
type Shared struct {
	factory   Factory
	serialize bool
	logger    *slog.Logger

	model atomic.Pointer[modelBox]
	mu    sync.Mutex
	infer sync.Mutex
}

type modelBox struct {
	model Model
}

func NewShared(factory Factory, serializeInference bool, logger *slog.Logger) *Shared {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shared{factory: factory, serialize: serializeInference, logger: logger}
}

func (s *Shared) get(ctx context.Context) (Model, error) {
	if box := s.model.Load(); box != nil {
		return box.model, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if box := s.model.Load(); box != nil {
		return box.model, nil
	}

	started := time.Now()
	model, err := s.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("load speech model: %w", err)
	}
	if model == nil {
		return nil, fmt.Errorf("load speech model: factory returned no model")
	}
	s.model.Store(&modelBox{model: model})
	s.logger.Info("speech_model_loaded", "duration_ms", time.Since(started).Milliseconds())
	return model, nil
}

func (s *Shared) Transcribe(ctx context.Context, audioPath string) (domain.Transcript, error) {
	model, err := s.get(ctx)
	if err != nil {
		return domain.Transcript{}, err
	}
	if s.serialize {
		s.infer.Lock()
		defer s.infer.Unlock()
	}
	return model.Transcribe(ctx, audioPath)
}
