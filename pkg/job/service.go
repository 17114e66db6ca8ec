package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/telemetry"
)

// Config configures a Service.
type Config struct {
	// WaitTimeout bounds SubmitAndWait. Zero waits until the context ends.
	WaitTimeout time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout"`
}

// Service is the caller-facing facade over the flight executor.
type Service struct {
	executor *engine.Executor
	store    engine.FlightStore
	tracer   *telemetry.Tracer
	logger   zerolog.Logger
	cfg      Config
}

// NewService creates a job service. tracer may be nil.
func NewService(executor *engine.Executor, tracer *telemetry.Tracer, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		executor: executor,
		store:    executor.Store(),
		tracer:   tracer,
		logger:   logger.With().Str("component", "job-service").Logger(),
		cfg:      cfg,
	}
}

// NewJob starts describing a job.
func (s *Service) NewJob() *Builder {
	return &Builder{
		service: s,
		params:  engine.NewFlightMap(),
	}
}

func (s *Service) submit(ctx context.Context, rec *engine.FlightRecord) error {
	ctx, span := s.tracer.StartSpan(ctx, "job.submit")
	defer span.End()

	// Record the submitting span, not its parent.
	_ = rec.Input.Put(engine.SubmissionSpanContextKey, telemetry.InjectTraceContext(ctx))

	if err := s.executor.Submit(ctx, rec); err != nil {
		telemetry.RecordError(span, err)
		return err
	}

	s.logger.Debug().
		Str("job_id", rec.JobID).
		Str("flight_type", rec.FlightType).
		Msg("Job submitted")
	return nil
}

func (s *Service) waitForResult(ctx context.Context, jobID string, out any) error {
	waitCtx := ctx
	if s.cfg.WaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.WaitTimeout)
		defer cancel()
	}

	rec, err := s.executor.Wait(waitCtx, jobID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s", ErrJobTimeout, jobID)
		}
		if errors.Is(err, engine.ErrFlightNotFound) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return err
	}

	result := s.resultOf(rec)
	if result.Err != nil {
		return result.Err
	}
	return result.Decode(out)
}

// RetrieveJobResult returns the outcome of a finished job without blocking.
// It returns ErrJobNotFound for unknown ids and ErrJobNotComplete while the
// job is still running.
func (s *Service) RetrieveJobResult(ctx context.Context, jobID string) (*Result, error) {
	rec, err := s.getFlight(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !rec.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrJobNotComplete, jobID, rec.Status)
	}
	return s.resultOf(rec), nil
}

// RetrieveJob returns a report of a job in any state.
func (s *Service) RetrieveJob(ctx context.Context, jobID string) (*Report, error) {
	rec, err := s.getFlight(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return newReport(rec), nil
}

// EnumerateJobs lists jobs matching filter, newest first.
func (s *Service) EnumerateJobs(ctx context.Context, offset, limit int, filter Filter) ([]*Report, error) {
	if offset < 0 || limit < 0 {
		return nil, engine.NewValidationError("offset and limit must not be negative", nil)
	}

	recs, err := s.store.ListFlights(ctx, filter.flightFilter(), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	reports := make([]*Report, 0, len(recs))
	for _, rec := range recs {
		reports = append(reports, newReport(rec))
	}
	return reports, nil
}

// Cleanup deletes finished jobs that completed more than olderThan ago.
func (s *Service) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan < 0 {
		return 0, engine.NewValidationError("cleanup age must not be negative", nil)
	}

	n, err := s.store.DeleteCompletedFlights(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up jobs: %w", err)
	}

	s.logger.Info().Int64("deleted", n).Dur("older_than", olderThan).Msg("Cleaned up finished jobs")
	return n, nil
}

func (s *Service) getFlight(ctx context.Context, jobID string) (*engine.FlightRecord, error) {
	rec, err := s.store.GetFlight(ctx, jobID)
	if errors.Is(err, engine.ErrFlightNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return rec, nil
}

func (s *Service) resultOf(rec *engine.FlightRecord) *Result {
	result := &Result{
		JobID:      rec.JobID,
		Status:     rec.Status,
		StatusCode: rec.StatusCode,
		Response:   rec.Working[KeyResponse],
	}
	if rec.Status == engine.StatusFailed {
		result.Err = s.failureOf(rec)
	}
	return result
}

// failureOf returns the error that failed a flight. The in-process cause
// keeps the original error chain; otherwise the persisted record is used.
func (s *Service) failureOf(rec *engine.FlightRecord) error {
	if err := s.executor.FailureCause(rec.JobID); err != nil {
		return err
	}
	if rec.LastError != nil {
		return rec.LastError.Err().WithJob(rec.JobID)
	}
	return engine.NewFatalError("flight failed without a recorded cause", nil).WithJob(rec.JobID)
}

// Result is the outcome of a finished job.
type Result struct {
	JobID      string
	Status     engine.FlightStatus
	StatusCode int
	Response   json.RawMessage
	Err        error
}

// Decode unmarshals the response into out. A nil out or missing response
// is ignored.
func (r *Result) Decode(out any) error {
	if out == nil || len(r.Response) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Response, out); err != nil {
		return fmt.Errorf("failed to decode response of job %s: %w", r.JobID, err)
	}
	return nil
}
