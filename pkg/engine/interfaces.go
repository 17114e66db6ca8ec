package engine

import (
	"context"
	"time"
)

// FlightStore persists flight records.
type FlightStore interface {
	// CreateFlight inserts a new record. It returns ErrFlightExists if the job
	// id is already taken.
	CreateFlight(ctx context.Context, rec *FlightRecord) error

	// GetFlight loads a record by job id. It returns ErrFlightNotFound if the
	// record does not exist.
	GetFlight(ctx context.Context, jobID string) (*FlightRecord, error)

	// UpdateFlight writes rec if its Version still matches the stored version,
	// then increments rec.Version. It returns ErrVersionConflict otherwise.
	UpdateFlight(ctx context.Context, rec *FlightRecord) error

	// ListFlights returns records matching filter, newest first. A limit of
	// zero returns every match.
	ListFlights(ctx context.Context, filter FlightFilter, offset, limit int) ([]*FlightRecord, error)

	// DeleteFlight removes a record.
	DeleteFlight(ctx context.Context, jobID string) error

	// DeleteCompletedFlights removes terminal records completed before the
	// given time and returns the number removed.
	DeleteCompletedFlights(ctx context.Context, before time.Time) (int64, error)
}

// Queue hands job ids from submitters to workers.
type Queue interface {
	// Enqueue adds a job id to the queue. It blocks while the queue is full.
	Enqueue(ctx context.Context, jobID string) error

	// Dequeue removes and returns the next job id, blocking until one is
	// available. It returns ErrQueueClosed once the queue is closed and empty.
	Dequeue(ctx context.Context) (string, error)

	// Len returns the number of queued job ids.
	Len(ctx context.Context) (int, error)

	// Close releases the queue.
	Close() error
}
