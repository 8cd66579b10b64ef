package telemetry

import (
	"context"
	"errors"
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

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment, cfg.ResourceAttributes)
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

// Nop returns a telemetry bundle with a silent logger, a no-op tracer and
// a private metrics registry.
func Nop() *Telemetry {
	tel, err := NewTelemetry(TestConfig())
	if err != nil {
		panic(err)
	}
	return tel
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context.
// If no telemetry is found, it returns nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// StartMetricsServer starts the metrics HTTP server if one is configured.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer(t.Logger)
}

// Shutdown flushes traces, stops the metrics server and writes the
// metrics textfile.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Tracer.Shutdown(ctx),
		t.Metrics.Shutdown(ctx),
	)
}

// RecordStep runs fn inside a step span, records its duration and logs
// the outcome. The step logger is available to fn through the context.
func (t *Telemetry) RecordStep(ctx context.Context, step string, fn func(context.Context) error) error {
	ctx, span := t.Tracer.StartStepSpan(ctx, step)
	defer span.End()

	logger := FromContext(ctx).WithStep(step)
	ctx = logger.WithContext(ctx)

	timer := NewTimer()
	logger.Debug("step started")

	err := fn(ctx)

	status := "succeeded"
	if err != nil {
		status = "failed"
		RecordError(span, err)
		logger.WithError(err).Error("step failed")
	} else {
		RecordSuccess(span)
		logger.Zerolog().Info().Dur("duration", timer.Duration()).Msg("step done")
	}
	t.Metrics.RecordStep(step, status, timer.Duration())

	return err
}
