package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the billing profile manager.
// Every recorder is safe to call on a nil or disabled instance.
type Metrics struct {
	config MetricsConfig

	// Flight metrics
	flightsSubmitted *prometheus.CounterVec
	flightsCompleted *prometheus.CounterVec
	flightDuration   *prometheus.HistogramVec
	activeFlights    *prometheus.GaugeVec

	// Step metrics
	stepExecutions *prometheus.CounterVec
	stepDuration   *prometheus.HistogramVec
	stepRetries    *prometheus.CounterVec
	undoFailures   *prometheus.CounterVec

	// Profile metrics
	profileCreations *prometheus.HistogramVec
	profileDeletions *prometheus.CounterVec

	// Dependency metrics
	apiCalls    *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec

	// Policy metrics
	policyEvaluations *prometheus.CounterVec

	// System metrics
	queueDepth prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		flightsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flights_submitted_total",
				Help:      "Total number of flights submitted",
			},
			[]string{"flight_type"},
		),
		flightsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flights_completed_total",
				Help:      "Total number of flights that reached a terminal state",
			},
			[]string{"flight_type", "status"},
		),
		flightDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "flight_duration_seconds",
				Help:      "Duration from submission to completion in seconds",
				Buckets:   buckets,
			},
			[]string{"flight_type", "status"},
		),
		activeFlights: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_flights",
				Help:      "Current number of flights being driven",
			},
			[]string{"flight_type"},
		),

		stepExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_executions_total",
				Help:      "Total number of step invocations",
			},
			[]string{"flight_type", "step", "direction", "status"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of step invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"flight_type", "step", "direction"},
		),
		stepRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_retries_total",
				Help:      "Total number of step retries",
			},
			[]string{"flight_type", "step"},
		),
		undoFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "undo_failures_total",
				Help:      "Total number of compensating actions that failed",
			},
			[]string{"flight_type", "step"},
		),

		profileCreations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "profile_creation_duration_seconds",
				Help:      "Duration of successful billing profile creations in seconds",
				Buckets:   buckets,
			},
			[]string{"cloud_platform"},
		),
		profileDeletions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profile_deletions_total",
				Help:      "Total number of billing profiles deleted",
			},
			[]string{"cloud_platform"},
		),

		apiCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_calls_total",
				Help:      "Total number of calls to external services",
			},
			[]string{"service", "operation", "outcome"},
		),
		apiDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_call_duration_seconds",
				Help:      "Duration of calls to external services in seconds",
				Buckets:   buckets,
			},
			[]string{"service", "operation"},
		),

		policyEvaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_evaluations_total",
				Help:      "Total number of policy evaluations",
			},
			[]string{"policy", "result"},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Current number of queued flights",
			},
		),
	}

	registry.MustRegister(
		m.flightsSubmitted,
		m.flightsCompleted,
		m.flightDuration,
		m.activeFlights,
		m.stepExecutions,
		m.stepDuration,
		m.stepRetries,
		m.undoFailures,
		m.profileCreations,
		m.profileDeletions,
		m.apiCalls,
		m.apiDuration,
		m.policyEvaluations,
		m.queueDepth,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Flight Metrics

// RecordFlightSubmitted increments the counter for submitted flights.
func (m *Metrics) RecordFlightSubmitted(flightType string) {
	if !m.enabled() {
		return
	}
	m.flightsSubmitted.WithLabelValues(flightType).Inc()
}

// RecordFlightStarted marks a flight as being driven.
func (m *Metrics) RecordFlightStarted(flightType string) {
	if !m.enabled() {
		return
	}
	m.activeFlights.WithLabelValues(flightType).Inc()
}

// RecordFlightCompleted records a terminal flight with its status and duration.
func (m *Metrics) RecordFlightCompleted(flightType, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.flightsCompleted.WithLabelValues(flightType, status).Inc()
	m.flightDuration.WithLabelValues(flightType, status).Observe(duration.Seconds())
	m.activeFlights.WithLabelValues(flightType).Dec()
}

// Step Metrics

// RecordStepExecution records a single Do or Undo invocation.
func (m *Metrics) RecordStepExecution(flightType, step, direction, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.stepExecutions.WithLabelValues(flightType, step, direction, status).Inc()
	m.stepDuration.WithLabelValues(flightType, step, direction).Observe(duration.Seconds())
}

// RecordStepRetry records a step retry.
func (m *Metrics) RecordStepRetry(flightType, step string) {
	if !m.enabled() {
		return
	}
	m.stepRetries.WithLabelValues(flightType, step).Inc()
}

// RecordUndoFailure records a compensating action that failed.
func (m *Metrics) RecordUndoFailure(flightType, step string) {
	if !m.enabled() {
		return
	}
	m.undoFailures.WithLabelValues(flightType, step).Inc()
}

// Profile Metrics

// RecordProfileCreated records a successful billing profile creation.
func (m *Metrics) RecordProfileCreated(cloudPlatform string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.profileCreations.WithLabelValues(cloudPlatform).Observe(duration.Seconds())
}

// RecordProfileDeleted records a successful billing profile deletion.
func (m *Metrics) RecordProfileDeleted(cloudPlatform string) {
	if !m.enabled() {
		return
	}
	m.profileDeletions.WithLabelValues(cloudPlatform).Inc()
}

// Dependency Metrics

// RecordAPICall records a call to an external service.
func (m *Metrics) RecordAPICall(service, operation string, duration time.Duration, err error) {
	if !m.enabled() {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.apiCalls.WithLabelValues(service, operation, outcome).Inc()
	m.apiDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordPolicyEvaluation records a policy evaluation result.
func (m *Metrics) RecordPolicyEvaluation(policy string, allowed bool) {
	if !m.enabled() {
		return
	}
	result := "allow"
	if !allowed {
		result = "deny"
	}
	m.policyEvaluations.WithLabelValues(policy, result).Inc()
}

// System Metrics

// SetQueueDepth sets the current number of queued flights.
func (m *Metrics) SetQueueDepth(count int) {
	if !m.enabled() {
		return
	}
	m.queueDepth.Set(float64(count))
}

// Registry returns the underlying registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
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
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// NewMetricsServer builds the HTTP server that exposes metrics and any extra
// handlers mounted by the caller.
func (m *Metrics) NewMetricsServer(extra map[string]http.Handler) *http.Server {
	mux := http.NewServeMux()
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, m.Handler())
	for p, h := range extra {
		mux.Handle(p, h)
	}

	return &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ServeMetrics runs the metrics server until ctx is cancelled.
func (m *Metrics) ServeMetrics(ctx context.Context, extra map[string]http.Handler) error {
	if !m.enabled() {
		<-ctx.Done()
		return nil
	}

	server := m.NewMetricsServer(extra)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
