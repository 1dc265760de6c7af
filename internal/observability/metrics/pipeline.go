package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/citizen-intake/internal/core/domain"
)

// PipelineMetrics records enrichment pipeline activity.
type PipelineMetrics struct {
	service string

	runsTotal      *prometheus.CounterVec
	runsInFlight   prometheus.Gauge
	stageTotal     *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	fallbacksTotal *prometheus.CounterVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	runsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total finished pipeline runs by final enrichment state.",
		},
		[]string{"service", "final_state"},
	)
	runsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_in_flight",
			Help:      "Number of pipeline runs currently executing.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	stageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_total",
			Help:      "Total stage executions by stage and status.",
		},
		[]string{"service", "stage", "status"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage execution duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service", "stage", "status"},
	)
	fallbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "fallbacks_total",
			Help:      "Total fallback classifications by reason.",
		},
		[]string{"service", "reason"},
	)

	registerer.MustRegister(runsTotal, runsInFlight, stageTotal, stageDuration, fallbacksTotal)

	return &PipelineMetrics{
		service:        service,
		runsTotal:      runsTotal,
		runsInFlight:   runsInFlight,
		stageTotal:     stageTotal,
		stageDuration:  stageDuration,
		fallbacksTotal: fallbacksTotal,
	}
}

func (m *PipelineMetrics) StartPipeline() {
	m.runsInFlight.Inc()
}

func (m *PipelineMetrics) FinishPipeline(state domain.PipelineState) {
	m.runsInFlight.Dec()
	m.runsTotal.WithLabelValues(m.service, string(state)).Inc()
}

func (m *PipelineMetrics) ObserveStage(stage domain.StageName, status string, duration time.Duration) {
	m.stageTotal.WithLabelValues(m.service, string(stage), status).Inc()
	m.stageDuration.WithLabelValues(m.service, string(stage), status).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveFallback(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	m.fallbacksTotal.WithLabelValues(m.service, reason).Inc()
}
