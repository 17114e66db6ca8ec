package engine

import (
	"encoding/json"
	"fmt"
)

// FlightStatus represents the lifecycle state of a flight.
type FlightStatus string

const (
	// StatusQueued indicates the flight is persisted and waiting for a worker.
	StatusQueued FlightStatus = "QUEUED"

	// StatusRunning indicates a worker is driving the flight.
	StatusRunning FlightStatus = "RUNNING"

	// StatusWaitingRetry indicates the flight is backing off before retrying a step.
	StatusWaitingRetry FlightStatus = "WAITING_RETRY"

	// StatusSucceeded indicates every step completed.
	StatusSucceeded FlightStatus = "SUCCEEDED"

	// StatusFailed indicates the flight failed and its undo sweep has finished.
	StatusFailed FlightStatus = "FAILED"
)

// IsTerminal returns true if the status represents a final state.
func (s FlightStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// IsActive returns true if the flight still has work to do.
func (s FlightStatus) IsActive() bool {
	return s == StatusQueued || s == StatusRunning || s == StatusWaitingRetry
}

// Validate checks if the flight status is valid.
func (s FlightStatus) Validate() error {
	switch s {
	case StatusQueued, StatusRunning, StatusWaitingRetry, StatusSucceeded, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid flight status: %s", s)
	}
}

// ActiveStatuses lists the statuses a recovery pass re-queues.
func ActiveStatuses() []FlightStatus {
	return []FlightStatus{StatusQueued, StatusRunning, StatusWaitingRetry}
}

// StepStatus is the outcome classification of a single step invocation.
type StepStatus string

const (
	// StepSuccess advances the flight to the next step.
	StepSuccess StepStatus = "SUCCESS"

	// StepRetry asks the executor to re-invoke the same step after a backoff.
	StepRetry StepStatus = "RETRY"

	// StepFatal aborts the forward direction and starts the undo sweep.
	StepFatal StepStatus = "FATAL"
)

// Validate checks if the step status is valid.
func (s StepStatus) Validate() error {
	switch s {
	case StepSuccess, StepRetry, StepFatal:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}

// Direction is the direction a flight is travelling.
type Direction string

const (
	// DirectionDo runs forward actions.
	DirectionDo Direction = "do"

	// DirectionUndo runs compensating actions in reverse order.
	DirectionUndo Direction = "undo"
)

// Validate checks if the direction is valid.
func (d Direction) Validate() error {
	switch d {
	case DirectionDo, DirectionUndo:
		return nil
	default:
		return fmt.Errorf("invalid direction: %s", d)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s FlightStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *FlightStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = FlightStatus(str)
	return s.Validate()
}
