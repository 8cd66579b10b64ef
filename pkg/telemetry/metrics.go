package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for builds and launches.
type Metrics struct {
	config MetricsConfig

	// Build metrics
	buildsStarted   *prometheus.CounterVec
	buildsCompleted *prometheus.CounterVec
	buildDuration   *prometheus.HistogramVec
	activeBuilds    prometheus.Gauge

	// Step metrics
	stepDuration *prometheus.HistogramVec

	// Provisioning metrics
	packagesInstalled *prometheus.CounterVec
	stagedFiles       *prometheus.CounterVec
	stagedBytes       *prometheus.CounterVec

	// Launch metrics
	launches  *prometheus.CounterVec
	exitCodes *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
	server   *http.Server
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
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

		buildsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_started_total",
				Help:      "Total number of builds started",
			},
			[]string{"unit"},
		),
		buildsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_completed_total",
				Help:      "Total number of builds completed",
			},
			[]string{"unit", "status"},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Duration of builds in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		activeBuilds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_builds",
				Help:      "Current number of running builds",
			},
		),

		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of provisioning steps in seconds",
				Buckets:   buckets,
			},
			[]string{"step", "status"},
		),

		packagesInstalled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "packages_installed_total",
				Help:      "Total number of dependency specifiers installed",
			},
			[]string{"unit"},
		),
		stagedFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "staged_files_total",
				Help:      "Total number of files staged into environments",
			},
			[]string{"unit"},
		),
		stagedBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "staged_bytes_total",
				Help:      "Total number of bytes staged into environments",
			},
			[]string{"unit"},
		),

		launches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "launches_total",
				Help:      "Total number of processes launched",
			},
			[]string{"unit"},
		),
		exitCodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_exits_total",
				Help:      "Total number of launched process exits by exit code",
			},
			[]string{"unit", "code"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.buildsStarted,
		m.buildsCompleted,
		m.buildDuration,
		m.activeBuilds,
		m.stepDuration,
		m.packagesInstalled,
		m.stagedFiles,
		m.stagedBytes,
		m.launches,
		m.exitCodes,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Build Metrics

// RecordBuildStarted increments the counter for started builds.
func (m *Metrics) RecordBuildStarted(unit string) {
	if m.buildsStarted == nil {
		return
	}
	m.buildsStarted.WithLabelValues(unit).Inc()
	m.activeBuilds.Inc()
}

// RecordBuildCompleted records a finished build with its status and duration.
func (m *Metrics) RecordBuildCompleted(unit, status string, duration time.Duration) {
	if m.buildsCompleted == nil {
		return
	}
	m.buildsCompleted.WithLabelValues(unit, status).Inc()
	m.buildDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeBuilds.Dec()
}

// RecordStep records the duration of one provisioning step.
func (m *Metrics) RecordStep(step, status string, duration time.Duration) {
	if m.stepDuration == nil {
		return
	}
	m.stepDuration.WithLabelValues(step, status).Observe(duration.Seconds())
}

// Provisioning Metrics

// RecordPackagesInstalled adds installed specifiers for a unit.
func (m *Metrics) RecordPackagesInstalled(unit string, count int) {
	if m.packagesInstalled == nil {
		return
	}
	m.packagesInstalled.WithLabelValues(unit).Add(float64(count))
}

// RecordStaged adds staged files and bytes for a unit.
func (m *Metrics) RecordStaged(unit string, files int, bytes int64) {
	if m.stagedFiles == nil {
		return
	}
	m.stagedFiles.WithLabelValues(unit).Add(float64(files))
	m.stagedBytes.WithLabelValues(unit).Add(float64(bytes))
}

// Launch Metrics

// RecordLaunch increments the launch counter.
func (m *Metrics) RecordLaunch(unit string) {
	if m.launches == nil {
		return
	}
	m.launches.WithLabelValues(unit).Inc()
}

// RecordExit records the exit code of a launched process.
func (m *Metrics) RecordExit(unit string, code int) {
	if m.exitCodes == nil {
		return
	}
	m.exitCodes.WithLabelValues(unit, strconv.Itoa(code)).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
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

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
// It is a no-op unless metrics are enabled and a listen address is set.
func (m *Metrics) StartMetricsServer(logger *Logger) error {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	m.server = &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	return nil
}

// WriteTextfile writes a snapshot of all metrics in the text exposition
// format, for collection by a node exporter.
func (m *Metrics) WriteTextfile(path string) error {
	if m.registry == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Shutdown stops the metrics server and writes the configured textfile.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.server != nil {
		if err := m.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	return m.WriteTextfile(m.config.TextfilePath)
}
