package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/citizen-intake/internal/config"
	"github.com/kirillkom/citizen-intake/internal/core/domain"
	"github.com/kirillkom/citizen-intake/internal/core/ports"
	"github.com/kirillkom/citizen-intake/internal/observability/metrics"
)

const (
	maxSubmissionBytes = 512 << 20
	multipartMemory    = 32 << 20
)

type Router struct {
	cfg         config.Config
	intake      ports.SubmissionIntake
	submissions ports.SubmissionReader
	analyses    ports.AnalysisReader
	trigger     ports.EnrichmentTrigger
	logger      *slog.Logger

	httpMetrics    *metrics.HTTPServerMetrics
	metricsHandler http.Handler
}

func NewRouter(
	cfg config.Config,
	intake ports.SubmissionIntake,
	submissions ports.SubmissionReader,
	analyses ports.AnalysisReader,
	trigger ports.EnrichmentTrigger,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:         cfg,
		intake:      intake,
		submissions: submissions,
		analyses:    analyses,
		trigger:     trigger,
		logger:      logger,
	}
}

// WithMetrics instruments every request and exposes the scrape handler at /metrics.
func (rt *Router) WithMetrics(httpMetrics *metrics.HTTPServerMetrics, handler http.Handler) *Router {
	rt.httpMetrics = httpMetrics
	rt.metricsHandler = handler
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metricsHandler != nil {
		mux.Handle("GET /metrics", rt.metricsHandler)
	}
	mux.HandleFunc("POST /v1/submissions", rt.createSubmission)
	mux.HandleFunc("GET /v1/submissions/{id}", rt.getSubmission)
	mux.HandleFunc("GET /v1/submissions/{id}/analysis", rt.getAnalysis)
	mux.HandleFunc("POST /v1/submissions/{id}/enrich", rt.enrichSubmission)

	var handler http.Handler = mux
	handler = backpressureMiddleware(
		handler,
		rt.cfg.APIBackpressureMaxInFlight,
		time.Duration(rt.cfg.APIBackpressureWaitMS)*time.Millisecond,
	)
	var onLimited func(string)
	if rt.httpMetrics != nil {
		onLimited = func(path string) { rt.httpMetrics.RecordRateLimited("api", path) }
		handler = rt.httpMetrics.Middleware("api", handler)
	}
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, onLimited)
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) createSubmission(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart form is required"})
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	input := domain.SubmissionInput{
		Type:     r.FormValue("type"),
		Text:     r.FormValue("text"),
		Protocol: r.FormValue("protocol"),
	}

	headers := append(r.MultipartForm.File["files"], r.MultipartForm.File["file"]...)
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("read file %q", header.Filename)})
			return
		}
		opened = append(opened, f)
		input.Files = append(input.Files, domain.Upload{
			Name:     header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Size:     header.Size,
			Body:     f,
		})
	}

	sub, err := rt.intake.Submit(r.Context(), input)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (rt *Router) getSubmission(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	sub, err := rt.submissions.GetByID(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (rt *Router) getAnalysis(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	analysis, err := rt.analyses.GetAnalysis(r.Context(), id)
	if err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// enrichSubmission schedules the pipeline again for an existing submission.
func (rt *Router) enrichSubmission(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if _, err := rt.submissions.GetByID(r.Context(), id); err != nil {
		rt.writeError(w, r, err)
		return
	}
	if rt.trigger == nil {
		rt.writeError(w, r, domain.WrapError(domain.ErrTemporary, "enrich submission", errors.New("no enrichment trigger configured")))
		return
	}
	if err := rt.trigger.Trigger(r.Context(), id); err != nil {
		rt.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"submission_id": id,
		"status":        "scheduled",
	})
}

func (rt *Router) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rt.logger.Error("http_handler_failed",
			"request_id", requestIDFromContext(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
