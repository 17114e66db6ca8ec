package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Telemetry holds the observability components built from one Config.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// NewTelemetry validates cfg and builds every component.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	t := &Telemetry{Config: cfg}
	var err error
	if t.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, err
	}
	if t.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, err
	}
	if t.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, err
	}
	if t.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, err
	}
	return t, nil
}

// Shutdown drains pending events and flushes spans. Both run even if the
// first fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.Events.Shutdown(ctx), t.Tracer.Shutdown(ctx))
}

// ObserveCall wraps a call to an external service in a client span and
// records its latency and outcome. tracer and metrics may be nil.
func ObserveCall(ctx context.Context, tracer *Tracer, metrics *Metrics, service, operation string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.StartClientSpan(ctx, service, operation)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	metrics.RecordAPICall(service, operation, time.Since(start), err)
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	return err
}
