// Package telemetry provides logging, tracing and metrics for the manager.
//
// The package combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and Prometheus metrics behind a single Telemetry value.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("webhost")
//	logger.WithPage("/dashboard").WithRequestID(id).Info("Rendering page")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Page renders
//
// Telemetry implements layout.Observer, so passing it to layout.New with
// layout.WithObserver wraps every section and page handler in a
// "layout.stage" span and records stage_duration_seconds and
// stage_errors_total. The web host wraps the whole render with
// ObserveRender, producing a "page.render" span plus renders_total and
// render_duration_seconds.
//
// # Background tasks
//
// Workers call ObserveTask around each attempt, which records
// tasks_executed_total and task_duration_seconds.
//
// # Metrics endpoint
//
// Metrics live in a private registry and are served by Metrics.Handler,
// mounted by the server at MetricsConfig.Path.
package telemetry
