package engine

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/rs/zerolog"
)

// Step is a single unit of work within a flight.
type Step interface {
	// Do performs the forward action. It may read the input parameters and
	// read or write the working map.
	Do(ctx context.Context, fc *FlightContext) StepResult

	// Undo performs the compensating action for a previously successful Do.
	Undo(ctx context.Context, fc *FlightContext) StepResult
}

// StepResult is the outcome of a single Do or Undo invocation.
type StepResult struct {
	Status StepStatus
	Err    error
}

// Success returns a successful step result.
func Success() StepResult {
	return StepResult{Status: StepSuccess}
}

// Retry returns a result asking the executor to re-invoke the step.
func Retry(err error) StepResult {
	return StepResult{Status: StepRetry, Err: err}
}

// Fatal returns a result that aborts the flight.
func Fatal(err error) StepResult {
	return StepResult{Status: StepFatal, Err: err}
}

// FromError classifies err by kind. Retryable errors map to RETRY, nil maps
// to SUCCESS, and everything else maps to FATAL.
func FromError(err error) StepResult {
	switch {
	case err == nil:
		return Success()
	case IsRetryable(err):
		return Retry(err)
	case errors.Is(err, context.DeadlineExceeded):
		return Retry(err)
	default:
		return Fatal(err)
	}
}

// IsSuccess returns true if the step succeeded.
func (r StepResult) IsSuccess() bool {
	return r.Status == StepSuccess
}

// normalize fills in a missing status on results built by hand.
func (r StepResult) normalize() StepResult {
	if r.Status != "" {
		return r
	}
	if r.Err != nil {
		r.Status = StepFatal
	} else {
		r.Status = StepSuccess
	}
	return r
}

// FlightContext is the view of a flight handed to each step invocation.
type FlightContext struct {
	// JobID is the unique identifier of the flight.
	JobID string

	// FlightType is the registered type name of the flight.
	FlightType string

	// Input holds the immutable input parameters supplied at submission.
	Input FlightMap

	// Working holds values produced by steps and consumed by later steps.
	Working FlightMap

	// StepIndex is the position of the step being invoked.
	StepIndex int

	// Direction is the direction of the current invocation.
	Direction Direction

	// Logger is scoped to the flight and step.
	Logger zerolog.Logger
}

// FlightRecord is the persisted state of a flight.
type FlightRecord struct {
	// JobID is the unique identifier for this flight.
	JobID string `json:"job_id"`

	// FlightType is the registered flight type name.
	FlightType string `json:"flight_type"`

	// Description is a human-readable description of the job.
	Description string `json:"description,omitempty"`

	// SubmittedBy is the subject id of the submitting user.
	SubmittedBy string `json:"submitted_by,omitempty"`

	// Input holds the input parameters.
	Input FlightMap `json:"input_parameters"`

	// Working holds the working map.
	Working FlightMap `json:"working_state"`

	// Cursor is the index of the next step to run forward, or one past the
	// next step to undo.
	Cursor int `json:"cursor"`

	// Direction is the direction the flight is travelling.
	Direction Direction `json:"direction"`

	// Status is the lifecycle status of the flight.
	Status FlightStatus `json:"status"`

	// LastError is the error that triggered the undo sweep.
	LastError *ErrorRecord `json:"last_error,omitempty"`

	// UndoErrors lists the compensating actions that failed.
	UndoErrors []ErrorRecord `json:"undo_errors,omitempty"`

	// StatusCode is the result status code the flight wrote to its working
	// map, captured when the flight completes.
	StatusCode int `json:"status_code,omitempty"`

	// Owner is the executor instance currently driving the flight.
	Owner string `json:"owner,omitempty"`

	// Attempts counts the retries performed across all steps.
	Attempts int `json:"attempts"`

	// Version is the record version for optimistic locking.
	Version int64 `json:"version"`

	// CreatedAt is when the flight was submitted.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the record was last persisted.
	UpdatedAt time.Time `json:"updated_at"`

	// CompletedAt is when the flight reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration returns the time from submission to completion, or to now if the
// flight is still active.
func (r *FlightRecord) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.CreatedAt)
	}
	return time.Since(r.CreatedAt)
}

// FlightFilter narrows a flight listing.
type FlightFilter struct {
	// Statuses limits results to the given statuses.
	Statuses []FlightStatus

	// FlightType limits results to a single flight type.
	FlightType string

	// SubmittedBy limits results to flights submitted by one subject.
	SubmittedBy string

	// CompletedBefore limits results to flights completed before the given time.
	CompletedBefore *time.Time
}

// Factory builds the ordered step list of a flight from its input parameters.
type Factory func(input FlightMap) ([]Step, error)

// StepName returns the display name of a step.
func StepName(step Step) string {
	if named, ok := step.(interface{ Name() string }); ok {
		return named.Name()
	}
	t := reflect.TypeOf(step)
	if t == nil {
		return "<nil>"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
