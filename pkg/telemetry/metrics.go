package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for page renders and background tasks.
type Metrics struct {
	config MetricsConfig

	// Render metrics
	rendersTotal   *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
	activeRenders  prometheus.Gauge

	// Stage metrics
	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec

	// Task metrics
	tasksExecuted *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		rendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renders_total",
				Help:      "Total number of page renders",
			},
			[]string{"page", "status"},
		),
		renderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "render_duration_seconds",
				Help:      "Duration of page renders in seconds",
				Buckets:   buckets,
			},
			[]string{"page"},
		),
		activeRenders: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_renders",
				Help:      "Current number of in-flight page renders",
			},
		),

		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of individual render stages in seconds",
				Buckets:   buckets,
			},
			[]string{"page", "stage", "kind"},
		),
		stageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_errors_total",
				Help:      "Total number of failed render stages",
			},
			[]string{"page", "stage", "error"},
		),

		tasksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_executed_total",
				Help:      "Total number of background task executions",
			},
			[]string{"task", "status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of background task executions in seconds",
				Buckets:   buckets,
			},
			[]string{"task"},
		),
	}

	registry.MustRegister(
		m.rendersTotal,
		m.renderDuration,
		m.activeRenders,
		m.stageDuration,
		m.stageErrors,
		m.tasksExecuted,
		m.taskDuration,
	)

	return m, nil
}

// Render Metrics

// RenderStarted marks a render as in flight.
func (m *Metrics) RenderStarted() {
	if m.activeRenders == nil {
		return
	}
	m.activeRenders.Inc()
}

// RecordRender records a finished render with its status and duration.
func (m *Metrics) RecordRender(page, status string, duration time.Duration) {
	if m.rendersTotal == nil {
		return
	}
	m.rendersTotal.WithLabelValues(page, status).Inc()
	m.renderDuration.WithLabelValues(page).Observe(duration.Seconds())
	m.activeRenders.Dec()
}

// Stage Metrics

// RecordStage records the duration of one render stage.
func (m *Metrics) RecordStage(page, stage, kind string, duration time.Duration) {
	if m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(page, stage, kind).Observe(duration.Seconds())
}

// RecordStageError records a failed render stage by error kind.
func (m *Metrics) RecordStageError(page, stage, kind string) {
	if m.stageErrors == nil {
		return
	}
	m.stageErrors.WithLabelValues(page, stage, kind).Inc()
}

// Task Metrics

// RecordTask records a background task execution.
func (m *Metrics) RecordTask(task, status string, duration time.Duration) {
	if m.tasksExecuted == nil {
		return
	}
	m.tasksExecuted.WithLabelValues(task, status).Inc()
	m.taskDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// Registry returns the private Prometheus registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
