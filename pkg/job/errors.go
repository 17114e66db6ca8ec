package job

import (
	"errors"

	"github.com/bpmanager/bpmanager/pkg/engine"
)

// Job error codes.
const (
	ErrCodeInvalidJobID         = "INVALID_JOB_ID"
	ErrCodeInvalidJobParameter  = "INVALID_JOB_PARAMETER"
	ErrCodeMissingRequiredField = "MISSING_REQUIRED_FIELD"
)

// Builder validation errors, matched by code.
var (
	ErrInvalidJobID         = engine.Sentinel(engine.ErrorKindValidation, ErrCodeInvalidJobID, "invalid job id")
	ErrInvalidJobParameter  = engine.Sentinel(engine.ErrorKindValidation, ErrCodeInvalidJobParameter, "invalid job parameter")
	ErrMissingRequiredField = engine.Sentinel(engine.ErrorKindValidation, ErrCodeMissingRequiredField, "missing required field")
)

var (
	// ErrJobNotFound is returned when no flight exists for a job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotComplete is returned when a result is requested for a job
	// that has not reached a terminal state.
	ErrJobNotComplete = errors.New("job not complete")

	// ErrJobTimeout is returned when SubmitAndWait gives up waiting. The
	// flight keeps running.
	ErrJobTimeout = errors.New("timed out waiting for job")
)
