// Package telemetry provides observability for builds and launches.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) behind a single Telemetry value
// that is created once at startup and carried through a context.Context.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.ListenAddress = ":9090"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Steps
//
// Every provisioning step runs through RecordStep, which opens a span named
// "step.<name>", attaches a step-scoped logger to the context and observes
// the launcher_step_duration_seconds histogram:
//
//	err := tel.RecordStep(ctx, "install", func(ctx context.Context) error {
//	    telemetry.FromContext(ctx).Info("installing")
//	    return nil
//	})
//
// # Metrics
//
// Metrics live in a private registry. They are served over HTTP when
// Metrics.ListenAddress is set, and written as a node-exporter textfile
// on Shutdown when Metrics.TextfilePath is set. Short-lived CLI runs
// normally use the textfile.
//
// # Tracing
//
// Tracing is disabled by default. Exporters: "stdout" for local debugging
// and "otlp" (gRPC) for a collector.
package telemetry
