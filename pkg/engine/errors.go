package engine

import (
	"errors"
	"fmt"
)

// ErrorKind represents the classification of a flight error.
type ErrorKind string

const (
	// ErrorKindValidation indicates a rejected request. Nothing was executed.
	ErrorKindValidation ErrorKind = "validation"

	// ErrorKindRetryable indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, 5xx responses, rate limiting.
	ErrorKindRetryable ErrorKind = "retryable"

	// ErrorKindFatal indicates a failure that aborts the flight and starts the undo sweep.
	ErrorKindFatal ErrorKind = "fatal"

	// ErrorKindUndo indicates a compensating action that could not be completed.
	ErrorKindUndo ErrorKind = "undo"
)

// FlightError represents a classified error with flight context.
// nolint:revive // FlightError is intentionally named to distinguish from standard errors
type FlightError struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// JobID is the flight the error belongs to, if applicable.
	JobID string `json:"job_id,omitempty"`

	// Step is the name of the step that produced the error, if applicable.
	Step string `json:"step,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *FlightError) Error() string {
	msg := e.Message
	if e.Step != "" {
		msg = fmt.Sprintf("%s (step=%s)", msg, e.Step)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, msg, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *FlightError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// A coded target matches any FlightError with the same code; an uncoded
// target matches on kind.
func (e *FlightError) Is(target error) bool {
	t, ok := target.(*FlightError)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Kind == t.Kind
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *FlightError {
	return &FlightError{Kind: ErrorKindValidation, Message: message, Err: err}
}

// NewRetryableError creates a new retryable error.
func NewRetryableError(message string, err error) *FlightError {
	return &FlightError{Kind: ErrorKindRetryable, Message: message, Err: err}
}

// NewFatalError creates a new fatal error.
func NewFatalError(message string, err error) *FlightError {
	return &FlightError{Kind: ErrorKindFatal, Message: message, Err: err}
}

// NewUndoError creates a new undo error.
func NewUndoError(message string, err error) *FlightError {
	return &FlightError{Kind: ErrorKindUndo, Message: message, Err: err}
}

// WithCode adds an error code to an error.
func (e *FlightError) WithCode(code string) *FlightError {
	e.Code = code
	return e
}

// WithStep adds step context to an error.
func (e *FlightError) WithStep(step string) *FlightError {
	e.Step = step
	return e
}

// WithJob adds job context to an error.
func (e *FlightError) WithJob(jobID string) *FlightError {
	e.JobID = jobID
	return e
}

// WithDetail adds a detail field to the error context.
func (e *FlightError) WithDetail(key string, value interface{}) *FlightError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Sentinel returns an uncaused error that matches e's code under errors.Is.
func Sentinel(kind ErrorKind, code, message string) *FlightError {
	return &FlightError{Kind: kind, Code: code, Message: message}
}

// IsValidation returns true if the error is classified as a validation error.
func IsValidation(err error) bool {
	return kindOf(err) == ErrorKindValidation
}

// IsRetryable returns true if the error is classified as retryable.
func IsRetryable(err error) bool {
	return kindOf(err) == ErrorKindRetryable
}

// IsFatal returns true if the error is classified as fatal.
func IsFatal(err error) bool {
	return kindOf(err) == ErrorKindFatal
}

// IsUndo returns true if the error is classified as an undo failure.
func IsUndo(err error) bool {
	return kindOf(err) == ErrorKindUndo
}

func kindOf(err error) ErrorKind {
	var e *FlightError
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of the outermost FlightError in err's chain.
func CodeOf(err error) string {
	var e *FlightError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes.
const (
	ErrCodeUnknownFlightType = "UNKNOWN_FLIGHT_TYPE"
	ErrCodeFlightBuild       = "FLIGHT_BUILD_FAILED"
	ErrCodeDuplicateJob      = "DUPLICATE_JOB"
	ErrCodeStepPanic         = "STEP_PANIC"
	ErrCodeRetriesExhausted  = "RETRIES_EXHAUSTED"
	ErrCodeUndoFailed        = "UNDO_FAILED"
	ErrCodeCursorOutOfRange  = "CURSOR_OUT_OF_RANGE"
)

// Store errors returned by FlightStore implementations.
var (
	ErrFlightNotFound  = errors.New("flight not found")
	ErrFlightExists    = errors.New("flight already exists")
	ErrVersionConflict = errors.New("flight version conflict")
	ErrQueueClosed     = errors.New("queue closed")
)

// ErrorRecord is the persisted form of a flight error.
type ErrorRecord struct {
	Kind    ErrorKind `json:"kind"`
	Code    string    `json:"code,omitempty"`
	Message string    `json:"message"`
	Step    string    `json:"step,omitempty"`
	Cause   string    `json:"cause,omitempty"`
}

// NewErrorRecord captures err for persistence. Errors that are not
// FlightErrors are recorded as fatal.
func NewErrorRecord(err error) *ErrorRecord {
	if err == nil {
		return nil
	}
	var fe *FlightError
	if !errors.As(err, &fe) {
		return &ErrorRecord{Kind: ErrorKindFatal, Message: err.Error()}
	}
	rec := &ErrorRecord{
		Kind:    fe.Kind,
		Code:    fe.Code,
		Message: fe.Message,
		Step:    fe.Step,
	}
	if fe.Err != nil {
		rec.Cause = fe.Err.Error()
	}
	return rec
}

// Err reconstructs a FlightError from the record.
func (r *ErrorRecord) Err() *FlightError {
	if r == nil {
		return nil
	}
	fe := &FlightError{
		Kind:    r.Kind,
		Code:    r.Code,
		Message: r.Message,
		Step:    r.Step,
	}
	if r.Cause != "" {
		fe.Err = errors.New(r.Cause)
	}
	return fe
}
