package telemetry

import (
	"context"
	"errors"
	"io"

	"github.com/mikrotik-manager/mikrotik-manager/pkg/layout"
)

// Telemetry bundles logging, tracing and metrics.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	return newTelemetry(cfg, logger)
}

// NewTelemetryWithWriter is NewTelemetry with log output sent to w.
func NewTelemetryWithWriter(cfg *Config, w io.Writer) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newTelemetry(cfg, NewLoggerWithWriter(cfg.Logging, w))
}

func newTelemetry(cfg *Config, logger *Logger) (*Telemetry, error) {
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	ctx = t.Logger.WithContext(ctx)
	return ctx
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown gracefully shuts down all telemetry components.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.Tracer.Shutdown(ctx)
}

// ObserveStage wraps a single render stage in a span, records its duration
// and counts failures by error kind.
func (t *Telemetry) ObserveStage(ctx context.Context, info layout.StageInfo, run func(context.Context) error) error {
	kind := string(info.Kind)
	ctx, span := t.Tracer.StartStageSpan(ctx, info.Page, info.Name, kind, info.Async)
	defer span.End()

	timer := NewTimer()
	err := run(ctx)
	t.Metrics.RecordStage(info.Page, info.Name, kind, timer.Duration())

	if err != nil {
		errKind := errorKind(err)
		t.Metrics.RecordStageError(info.Page, info.Name, errKind)
		span.SetAttributes(AttrErrorKind.String(errKind))
		RecordError(span, err)

		t.Logger.zlog.Debug().
			Str("page", info.Page).
			Str("stage", info.Name).
			Str("kind", kind).
			Err(err).
			Msg("Stage failed")
		return err
	}

	RecordSuccess(span)
	return nil
}

// ObserveRender wraps a complete page render. The status label is "ok" on
// success and the error kind otherwise.
func (t *Telemetry) ObserveRender(ctx context.Context, page, requestID string, render func(context.Context) error) error {
	ctx, span := t.Tracer.StartRenderSpan(ctx, page, requestID)
	defer span.End()

	t.Metrics.RenderStarted()
	timer := NewTimer()
	err := render(ctx)

	status := "ok"
	if err != nil {
		status = errorKind(err)
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	t.Metrics.RecordRender(page, status, timer.Duration())

	return err
}

// ObserveTask wraps one attempt of a background task.
func (t *Telemetry) ObserveTask(ctx context.Context, task, id string, attempt int, run func(context.Context) error) error {
	ctx, span := t.Tracer.StartTaskSpan(ctx, task, id, attempt)
	defer span.End()

	ctx = t.Logger.WithTask(task, id).WithContext(ctx)

	timer := NewTimer()
	err := run(ctx)

	status := "success"
	if err != nil {
		status = "failure"
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	t.Metrics.RecordTask(task, status, timer.Duration())

	return err
}

// errorKind maps an error to a low-cardinality label value.
func errorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	if kind := layout.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
