package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/bpmanager/bpmanager/pkg/telemetry"
)

// Well-known flight map keys.
const (
	// SubmissionSpanContextKey is the input parameter carrying the trace
	// context of the request that submitted a flight.
	SubmissionSpanContextKey = "submissionSpanContext"

	// ResponseKey is the working map entry holding a flight's result payload.
	ResponseKey = "response"

	// StatusCodeKey is the working map entry holding a flight's result status code.
	StatusCodeKey = "statusCode"
)

// errAbandoned signals that a drive stopped without reaching a terminal
// state. The persisted record is left for recovery.
var errAbandoned = errors.New("flight drive abandoned")

// drive runs a flight from its persisted position to a terminal state.
func (e *Executor) drive(ctx context.Context, jobID string) error {
	rec, err := e.store.GetFlight(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load flight: %w", err)
	}
	if rec.Status.IsTerminal() {
		e.notify(rec)
		return nil
	}

	logger := e.logger.With().
		Str("job_id", rec.JobID).
		Str("flight_type", rec.FlightType).
		Logger()

	if !e.claimable(rec, time.Now().UTC()) {
		logger.Debug().Str("owner", rec.Owner).Msg("Flight owned by another instance")
		return nil
	}
	if rec.Owner != "" && rec.Owner != e.cfg.InstanceID {
		logger.Warn().Str("owner", rec.Owner).Time("updated_at", rec.UpdatedAt).Msg("Reclaiming flight from expired owner")
	}

	// Claim the flight. A version conflict means another driver got there first.
	rec.Status = StatusRunning
	rec.Owner = e.cfg.InstanceID
	if err := e.persist(ctx, rec); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			logger.Debug().Msg("Flight claimed by another driver")
			return nil
		}
		return err
	}

	ctx = e.submissionContext(ctx, rec)
	ctx, span := e.cfg.Tracer.StartFlightSpan(ctx, rec.JobID, rec.FlightType)
	defer span.End()

	e.cfg.Metrics.RecordFlightStarted(rec.FlightType)
	logger.Info().
		Int("cursor", rec.Cursor).
		Str("direction", string(rec.Direction)).
		Msg("Driving flight")

	steps, err := e.registry.Build(rec.FlightType, rec.Input)
	if err != nil {
		cause := NewFatalError("failed to build flight", err).WithCode(ErrCodeFlightBuild).WithJob(rec.JobID)
		rec.Direction = DirectionUndo
		rec.LastError = NewErrorRecord(cause)
		rec.Cursor = 0
		e.failures.Set(rec.JobID, cause, 0)
		return e.finish(ctx, rec, span, StatusFailed)
	}
	if rec.Cursor < 0 || rec.Cursor > len(steps) {
		cause := NewFatalError(fmt.Sprintf("cursor %d out of range for %d steps", rec.Cursor, len(steps)), nil).
			WithCode(ErrCodeCursorOutOfRange).WithJob(rec.JobID)
		rec.Direction = DirectionUndo
		rec.LastError = NewErrorRecord(cause)
		rec.Cursor = 0
		e.failures.Set(rec.JobID, cause, 0)
		return e.finish(ctx, rec, span, StatusFailed)
	}

	fc := &FlightContext{
		JobID:      rec.JobID,
		FlightType: rec.FlightType,
		Input:      rec.Input,
		Working:    rec.Working,
		Logger:     logger,
	}

	if rec.Direction != DirectionUndo {
		failed, err := e.runForward(ctx, rec, steps, fc)
		if err != nil {
			return err
		}
		if !failed {
			return e.finish(ctx, rec, span, StatusSucceeded)
		}
	}

	if err := e.runUndo(ctx, rec, steps, fc); err != nil {
		return err
	}
	return e.finish(ctx, rec, span, StatusFailed)
}

// runForward runs steps from the cursor. It reports true when a step failed
// and the flight has switched to the undo direction.
func (e *Executor) runForward(ctx context.Context, rec *FlightRecord, steps []Step, fc *FlightContext) (bool, error) {
	for rec.Cursor < len(steps) {
		if ctx.Err() != nil {
			return false, errAbandoned
		}
		idx := rec.Cursor
		step := steps[idx]

		result, err := e.runStep(ctx, rec, step, idx, DirectionDo, fc)
		if err != nil {
			return false, err
		}

		if result.IsSuccess() {
			rec.Cursor = idx + 1
			rec.Working = fc.Working
			if err := e.persist(ctx, rec); err != nil {
				return false, err
			}
			continue
		}

		name := StepName(step)
		cause := result.Err
		if cause == nil {
			cause = NewFatalError("step failed without an error", nil)
		}
		// Steps may return shared sentinels, so tag a copy.
		if fe, ok := cause.(*FlightError); ok && fe.Step == "" {
			tagged := *fe
			tagged.Step = name
			cause = &tagged
		}

		fc.Logger.Error().
			Err(cause).
			Str("step", name).
			Int("step_index", idx).
			Msg("Step failed, starting undo")
		e.publish(e.cfg.Events.PublishStepFailed(rec.JobID, name, cause.Error()))

		rec.Direction = DirectionUndo
		rec.LastError = NewErrorRecord(cause)
		rec.Working = fc.Working
		e.failures.Set(rec.JobID, cause, 0)
		if err := e.persist(ctx, rec); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// runUndo runs compensating actions for every completed step in reverse
// order. Failures are recorded and the sweep continues.
func (e *Executor) runUndo(ctx context.Context, rec *FlightRecord, steps []Step, fc *FlightContext) error {
	for rec.Cursor > 0 {
		if ctx.Err() != nil {
			return errAbandoned
		}
		idx := rec.Cursor - 1
		step := steps[idx]
		name := StepName(step)

		result, err := e.runStep(ctx, rec, step, idx, DirectionUndo, fc)
		if err != nil {
			return err
		}

		if !result.IsSuccess() {
			undoErr := NewUndoError("undo failed", result.Err).
				WithCode(ErrCodeUndoFailed).
				WithStep(name).
				WithJob(rec.JobID)
			fc.Logger.Error().
				Err(undoErr).
				Str("step", name).
				Int("step_index", idx).
				Msg("Undo failed, continuing")
			e.cfg.Metrics.RecordUndoFailure(rec.FlightType, name)
			e.publish(e.cfg.Events.PublishUndoFailed(rec.JobID, name, undoErr.Error()))
			rec.UndoErrors = append(rec.UndoErrors, *NewErrorRecord(undoErr))
		}

		rec.Cursor = idx
		rec.Working = fc.Working
		if err := e.persist(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// runStep invokes one step in one direction, retrying while it reports
// RETRY and the backoff allows. An exhausted retry budget is returned as
// FATAL carrying the last error. A non-nil error means the drive must be
// abandoned.
func (e *Executor) runStep(ctx context.Context, rec *FlightRecord, step Step, idx int, dir Direction, fc *FlightContext) (StepResult, error) {
	policy := e.cfg.Retry
	if p, ok := e.registry.retryPolicy(rec.FlightType); ok {
		policy = p
	}
	bo := policy.NewBackOff()
	name := StepName(step)

	for {
		fc.StepIndex = idx
		fc.Direction = dir

		result := e.invoke(ctx, rec, step, idx, dir, fc)
		if result.Status != StepRetry {
			return result, nil
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			cause := result.Err
			if cause == nil {
				cause = NewFatalError("retries exhausted", nil).WithCode(ErrCodeRetriesExhausted)
			}
			fc.Logger.Warn().
				Err(cause).
				Str("step", name).
				Msg("Retries exhausted")
			return Fatal(cause), nil
		}

		e.cfg.Metrics.RecordStepRetry(rec.FlightType, name)
		fc.Logger.Warn().
			Err(result.Err).
			Str("step", name).
			Str("direction", string(dir)).
			Dur("delay", delay).
			Msg("Step requested retry")

		rec.Status = StatusWaitingRetry
		rec.Attempts++
		rec.Working = fc.Working
		if err := e.persist(ctx, rec); err != nil {
			return result, err
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return result, errAbandoned
		}

		rec.Status = StatusRunning
		if err := e.persist(ctx, rec); err != nil {
			return result, err
		}
	}
}

// invoke runs a single Do or Undo under the step timeout. A panic becomes
// a FATAL result.
func (e *Executor) invoke(ctx context.Context, rec *FlightRecord, step Step, idx int, dir Direction, fc *FlightContext) (result StepResult) {
	name := StepName(step)
	start := time.Now()

	stepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.StepTimeout)
	defer cancel()

	stepCtx, span := e.cfg.Tracer.StartStepSpan(stepCtx, rec.JobID, name, string(dir), idx)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			fc.Logger.Error().
				Str("step", name).
				Interface("panic", r).
				Msg("Step panicked")
			result = Fatal(NewFatalError(fmt.Sprintf("step panicked: %v", r), nil).
				WithCode(ErrCodeStepPanic).
				WithStep(name))
		}

		if result.Status == StepSuccess {
			telemetry.RecordSuccess(span)
		} else {
			telemetry.RecordError(span, result.Err)
		}
		e.cfg.Metrics.RecordStepExecution(rec.FlightType, name, string(dir), string(result.Status), time.Since(start))
	}()

	if dir == DirectionUndo {
		result = step.Undo(stepCtx, fc)
	} else {
		result = step.Do(stepCtx, fc)
	}
	return result.normalize()
}

// finish writes the terminal state of a flight and wakes its waiters.
func (e *Executor) finish(ctx context.Context, rec *FlightRecord, span trace.Span, status FlightStatus) error {
	now := time.Now().UTC()
	rec.Status = status
	rec.CompletedAt = &now
	rec.Owner = ""
	if status == StatusSucceeded {
		rec.LastError = nil
	}
	var code int
	if ok, err := rec.Working.Get(StatusCodeKey, &code); ok && err == nil {
		rec.StatusCode = code
	}

	if err := e.persist(ctx, rec); err != nil {
		return err
	}

	duration := rec.Duration()
	e.cfg.Metrics.RecordFlightCompleted(rec.FlightType, string(status), duration)

	if status == StatusSucceeded {
		telemetry.RecordSuccess(span)
		e.publish(e.cfg.Events.PublishFlightCompleted(rec.JobID, rec.FlightType, string(status), duration))
		e.logger.Info().
			Str("job_id", rec.JobID).
			Str("flight_type", rec.FlightType).
			Dur("duration", duration).
			Msg("Flight succeeded")
	} else {
		cause := rec.LastError.Err()
		telemetry.RecordError(span, cause)
		reason := "unknown"
		if cause != nil {
			reason = cause.Error()
		}
		e.publish(e.cfg.Events.PublishFlightFailed(rec.JobID, rec.FlightType, reason))
		e.logger.Warn().
			Str("job_id", rec.JobID).
			Str("flight_type", rec.FlightType).
			Int("undo_errors", len(rec.UndoErrors)).
			Dur("duration", duration).
			Str("reason", reason).
			Msg("Flight failed")
	}

	e.notify(rec)
	return nil
}

// persist writes the record. Writes are not cancelled by shutdown so a
// completed step is never lost.
func (e *Executor) persist(ctx context.Context, rec *FlightRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateFlight(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("failed to persist flight %s: %w", rec.JobID, err)
	}
	return nil
}

// submissionContext parents the flight span on the trace of the submitting
// request, when one was recorded.
func (e *Executor) submissionContext(ctx context.Context, rec *FlightRecord) context.Context {
	var carrier map[string]string
	if ok, err := rec.Input.Get(SubmissionSpanContextKey, &carrier); !ok || err != nil {
		return ctx
	}
	return telemetry.ExtractTraceContext(ctx, carrier)
}
