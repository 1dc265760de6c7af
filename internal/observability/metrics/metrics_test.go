package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
	"github.com/kirillkom/citizen-intake/internal/core/ports"
)

var _ ports.PipelineObserver = (*PipelineMetrics)(nil)

func scrape(t *testing.T, handler http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected scrape status %d", rec.Code)
	}
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read scrape body: %v", err)
	}
	return string(body)
}

func TestPipelineMetricsRecordsStagesAndFallbacks(t *testing.T) {
	registry := NewRegistry()
	m := NewPipelineMetrics("worker", registry)

	m.StartPipeline()
	m.ObserveStage(domain.StageNameOCR, "ok", 120*time.Millisecond)
	m.ObserveStage(domain.StageNameClassification, "failed", time.Second)
	m.ObserveFallback("timeout")
	m.ObserveFallback("")
	m.FinishPipeline(domain.StateClassifyFailed)

	body := scrape(t, Handler(registry))
	for _, want := range []string{
		`intake_pipeline_runs_total{final_state="classify_failed",service="worker"} 1`,
		`intake_pipeline_runs_in_flight{service="worker"} 0`,
		`intake_pipeline_stage_total{service="worker",stage="ocr",status="ok"} 1`,
		`intake_pipeline_stage_total{service="worker",stage="classification",status="failed"} 1`,
		`intake_classifier_fallbacks_total{reason="timeout",service="worker"} 1`,
		`intake_classifier_fallbacks_total{reason="unknown",service="worker"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in scrape output:\n%s", want, body)
		}
	}
}

func TestHTTPMiddlewareNormalizesSubmissionPaths(t *testing.T) {
	registry := NewRegistry()
	m := NewHTTPServerMetrics("api", registry)
	handler := m.Middleware("api", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	for _, path := range []string{"/v1/submissions/a1/enrich", "/v1/submissions/b2/enrich"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, path, nil))
	}

	body := scrape(t, Handler(registry))
	want := `intake_http_requests_total{method="POST",path="/v1/submissions/{id}/enrich",service="api",status="202"} 2`
	if !strings.Contains(body, want) {
		t.Fatalf("expected %q in scrape output:\n%s", want, body)
	}
}

func TestNormalizePath(t *testing.T) {
	cases := map[string]string{
		"/v1/submissions":              "/v1/submissions",
		"/v1/submissions/":             "/v1/submissions/",
		"/v1/submissions/abc":          "/v1/submissions/{id}",
		"/v1/submissions/abc/analysis": "/v1/submissions/{id}/analysis",
		"/healthz":                     "/healthz",
	}
	for in, want := range cases {
		if got := normalizePath(in); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}
