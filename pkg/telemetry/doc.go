// Package telemetry provides observability instrumentation for the billing
// profile manager.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus), and event publishing.
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
// The Metrics, Tracer, and EventPublisher types are all safe to use through
// a nil pointer, so components can take them as optional dependencies:
//
//	exec := engine.NewExecutor(store, registry, queue, engine.ExecutorConfig{
//	    Logger:  tel.Logger.NewComponentLogger("executor").Zerolog(),
//	    Metrics: tel.Metrics,
//	    Tracer:  tel.Tracer,
//	    Events:  tel.Events,
//	})
//
// # Trace Propagation
//
// A flight may run long after the request that submitted it. The submitter
// stores its trace context in the flight's input parameters with
// InjectTraceContext, and the executor restores it with ExtractTraceContext
// so the flight span joins the original trace.
//
// # Metrics
//
// Metrics are registered on a private registry and served by ServeMetrics:
//
//   - bpm_flights_submitted_total{flight_type}
//   - bpm_flights_completed_total{flight_type,status}
//   - bpm_flight_duration_seconds{flight_type,status}
//   - bpm_step_executions_total{flight_type,step,direction,status}
//   - bpm_step_retries_total{flight_type,step}
//   - bpm_undo_failures_total{flight_type,step}
//   - bpm_profile_creation_duration_seconds{cloud_platform}
//   - bpm_profile_deletions_total{cloud_platform}
//   - bpm_api_calls_total{service,operation,outcome}
//   - bpm_policy_evaluations_total{policy,result}
//   - bpm_queue_depth
package telemetry
