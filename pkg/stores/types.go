package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/profile"
)

// ErrNotFound is matched by every not-found error returned by the store,
// alongside the domain sentinel for the missing entity.
var ErrNotFound = errors.New("not found")

// notFoundError matches both ErrNotFound and its domain sentinel.
type notFoundError struct {
	kind error
	id   string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.id)
}

func (e *notFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func (e *notFoundError) Unwrap() error {
	return e.kind
}

func notFound(kind error, id string) error {
	return &notFoundError{kind: kind, id: id}
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	engine.FlightStore
	profile.ProfileStore

	// Policy attribute objects
	InsertPao(ctx context.Context, pao *profile.Pao) error
	GetPao(ctx context.Context, objectID string) (*profile.Pao, error)
	DeletePao(ctx context.Context, objectID string) (bool, error)
	ListPaos(ctx context.Context, objectIDs []string) ([]*profile.Pao, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

// Timestamps are stored as unix nanoseconds so they order correctly.
func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func toNullUnix(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toUnix(*t), Valid: true}
}

func fromNullUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
