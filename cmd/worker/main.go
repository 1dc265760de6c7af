package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kirillkom/citizen-intake/internal/bootstrap"
	"github.com/kirillkom/citizen-intake/internal/config"
	"github.com/kirillkom/citizen-intake/internal/observability/logging"
	"github.com/kirillkom/citizen-intake/internal/observability/metrics"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.RoleWorker, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler(app.Registry))
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeSubmissionCreated(ctx, func(handlerCtx context.Context, submissionID string) error {
		return app.Dispatcher.Trigger(handlerCtx, submissionID)
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.PipelineTimeoutSeconds)*time.Second)
	defer cancel()
	if err := app.Dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("pipelines_abandoned", "error", err)
	}
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info("worker_stopped")
}
