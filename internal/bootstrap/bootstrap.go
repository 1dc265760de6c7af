package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/kirillkom/citizen-intake/internal/config"
	"github.com/kirillkom/citizen-intake/internal/core/ports"
	"github.com/kirillkom/citizen-intake/internal/core/usecase"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/asr"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/asr/gcpspeech"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/asr/whisper"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/cache/redisdoc"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/llm/groq"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/media/ffmpeg"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/ocr/tesseract"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/queue/nats"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/resilience"
	"github.com/kirillkom/citizen-intake/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/citizen-intake/internal/observability/metrics"
)

const (
	DispatchInProcess = "inprocess"
	DispatchNATS      = "nats"
)

// Role selects which process is being assembled. The worker always consumes the queue.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

type App struct {
	Config config.Config
	Logger *slog.Logger

	Submissions ports.SubmissionRepository
	Results     ports.ResultStore
	Intake      *usecase.IntakeUseCase
	Dispatcher  *usecase.Dispatcher
	Trigger     ports.EnrichmentTrigger
	Queue       *nats.Queue

	Registry    *prometheus.Registry
	HTTPMetrics *metrics.HTTPServerMetrics

	closers []func()
}

func New(ctx context.Context, cfg config.Config, role Role, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.closers = append(app.closers, func() { _ = db.Close() })
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	app.Submissions = postgres.NewSubmissionRepository(db)
	var results ports.ResultStore = postgres.NewResultStore(db, cfg.MaxJSONChars, logger)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rdb, err := redisdoc.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.closers = append(app.closers, func() { _ = rdb.Close() })
		results = redisdoc.New(results, rdb, time.Duration(cfg.ResultCacheTTLSeconds)*time.Second, logger)
	}
	app.Results = results

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	app.Registry = metrics.NewRegistry()
	service := string(role)
	pipelineMetrics := metrics.NewPipelineMetrics(service, app.Registry)
	if role == RoleAPI {
		app.HTTPMetrics = metrics.NewHTTPServerMetrics(service, app.Registry)
	}

	oracle, err := newOracle(cfg, logger)
	if err != nil {
		return nil, err
	}
	recognizer, convertAudio, err := newRecognizer(cfg, logger)
	if err != nil {
		return nil, err
	}

	ocrEngine := tesseract.New(tesseract.Config{
		Binary:     cfg.OCRBinary,
		Languages:  cfg.OCRLangs,
		PSM:        cfg.OCRPSM,
		OEM:        cfg.OCROEM,
		Preprocess: cfg.OCRPreprocess,
	}, logger)
	ocrStage := usecase.NewOCRStage(
		app.Submissions,
		results,
		storage,
		ocrEngine,
		usecase.OCRStageConfig{FileTimeout: seconds(cfg.OCRTimeoutSeconds)},
		logger,
	)
	transcriptionStage := usecase.NewTranscriptionStage(
		app.Submissions,
		results,
		storage,
		ffmpeg.New(cfg.FFmpegBinary, seconds(cfg.FFmpegTimeoutSeconds)),
		recognizer,
		usecase.TranscriptionStageConfig{
			MaxFiles:           cfg.MediaMaxFiles,
			MaxSegments:        cfg.MediaMaxSegments,
			MaxTranscriptChars: cfg.MediaMaxTranscriptChars,
			ConvertAudio:       convertAudio,
			FileTimeout:        seconds(cfg.ASRTimeoutSeconds),
		},
		logger,
	)
	classifyStage := usecase.NewClassifyStage(
		app.Submissions,
		results,
		oracle,
		pipelineMetrics,
		usecase.ClassifyStageConfig{
			MaxInputText: cfg.ClassifyMaxInputText,
			MaxTags:      cfg.ClassifyMaxTags,
			MaxSummary:   cfg.ClassifyMaxSummary,
			Timeout:      seconds(cfg.OracleTimeoutSeconds),
		},
		logger,
	)

	app.Dispatcher = usecase.NewDispatcher(
		app.Submissions,
		ocrStage,
		transcriptionStage,
		classifyStage,
		pipelineMetrics,
		usecase.DispatcherConfig{
			MaxConcurrency: int64(cfg.PipelineMaxConcurrency),
			RunTimeout:     seconds(cfg.PipelineTimeoutSeconds),
		},
		logger,
	)
	app.Trigger = app.Dispatcher

	if role == RoleWorker || cfg.DispatchMode == DispatchNATS {
		queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(resilience.QueueConfig()).WithLogger(logger),
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		app.closers = append(app.closers, queue.Close)
		app.Queue = queue
		if role == RoleAPI {
			app.Trigger = queue
		}
	}

	app.Intake = usecase.NewIntakeUseCase(app.Submissions, storage, app.Trigger, logger)

	logger.Info("bootstrap_ready",
		"role", role,
		"dispatch_mode", cfg.DispatchMode,
		"asr_provider", cfg.ASRProvider,
		"oracle_provider", cfg.OracleProvider,
		"ocr_version", ocrEngine.Version(ctx),
		"result_cache", strings.TrimSpace(cfg.RedisURL) != "",
	)
	ok = true
	return app, nil
}

func newOracle(cfg config.Config, logger *slog.Logger) (ports.ClassificationOracle, error) {
	executor := resilience.NewExecutor(resilience.OracleConfig(cfg.OracleMaxAttempts, cfg.OracleBreakerEnabled)).
		WithLogger(logger)

	var limiter *rate.Limiter
	if cfg.OracleRateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.OracleRateLimitRPS), max(cfg.OracleRateLimitBurst, 1))
	}

	switch cfg.OracleProvider {
	case "groq":
		return groq.New(groq.Config{
			BaseURL: cfg.GroqBaseURL,
			APIKey:  cfg.GroqAPIKey,
			Model:   cfg.GroqModel,
			Timeout: seconds(cfg.OracleTimeoutSeconds),
		}, executor, limiter), nil
	case "ollama":
		return ollama.New(cfg.OllamaURL, cfg.OllamaModel, seconds(cfg.OracleTimeoutSeconds), executor, limiter), nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.OracleProvider)
	}
}

// newRecognizer returns the shared speech model and whether audio files need WAV conversion too.
func newRecognizer(cfg config.Config, logger *slog.Logger) (ports.SpeechRecognizer, bool, error) {
	switch cfg.ASRProvider {
	case "whisper":
		factory := whisper.Factory(whisper.Config{
			BaseURL:         cfg.WhisperURL,
			ModelSize:       cfg.WhisperModelSize,
			Device:          cfg.WhisperDevice,
			ComputeType:     cfg.WhisperCompute,
			Language:        cfg.WhisperLang,
			VADMinSilenceMS: cfg.VADMinSilenceMS,
			Timeout:         seconds(cfg.ASRTimeoutSeconds),
		})
		return asr.NewShared(factory, cfg.ASRSerializeInference, logger), false, nil
	case "gcpspeech":
		factory := gcpspeech.Factory(gcpspeech.Config{
			CredentialsFile: cfg.GCPSpeechCredentials,
			LanguageCode:    cfg.WhisperLang,
			Model:           cfg.GCPSpeechModel,
		})
		return asr.NewShared(factory, cfg.ASRSerializeInference, logger), true, nil
	default:
		return nil, false, fmt.Errorf("unknown asr provider %q", cfg.ASRProvider)
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
