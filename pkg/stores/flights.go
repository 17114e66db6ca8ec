package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bpmanager/bpmanager/pkg/engine"
)

const flightColumns = `job_id, flight_type, description, submitted_by, input_parameters, working_state,
	cursor, direction, status, last_error, undo_errors, status_code, owner, attempts, version,
	created_at, updated_at, completed_at`

// flightRow holds the encoded column values of a flight record.
type flightRow struct {
	input, working, lastError, undoErrors sql.NullString
}

func encodeFlight(rec *engine.FlightRecord) (flightRow, error) {
	var row flightRow

	input, err := json.Marshal(nonNilMap(rec.Input))
	if err != nil {
		return row, fmt.Errorf("failed to encode input parameters: %w", err)
	}
	working, err := json.Marshal(nonNilMap(rec.Working))
	if err != nil {
		return row, fmt.Errorf("failed to encode working state: %w", err)
	}
	row.input = sql.NullString{String: string(input), Valid: true}
	row.working = sql.NullString{String: string(working), Valid: true}

	if rec.LastError != nil {
		b, err := json.Marshal(rec.LastError)
		if err != nil {
			return row, fmt.Errorf("failed to encode last error: %w", err)
		}
		row.lastError = sql.NullString{String: string(b), Valid: true}
	}
	if len(rec.UndoErrors) > 0 {
		b, err := json.Marshal(rec.UndoErrors)
		if err != nil {
			return row, fmt.Errorf("failed to encode undo errors: %w", err)
		}
		row.undoErrors = sql.NullString{String: string(b), Valid: true}
	}
	return row, nil
}

func nonNilMap(m engine.FlightMap) engine.FlightMap {
	if m == nil {
		return engine.NewFlightMap()
	}
	return m
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlight(sc rowScanner) (*engine.FlightRecord, error) {
	rec := &engine.FlightRecord{}
	var (
		row                  flightRow
		direction, status    string
		createdAt, updatedAt int64
		completedAt          sql.NullInt64
	)

	err := sc.Scan(
		&rec.JobID,
		&rec.FlightType,
		&rec.Description,
		&rec.SubmittedBy,
		&row.input,
		&row.working,
		&rec.Cursor,
		&direction,
		&status,
		&row.lastError,
		&row.undoErrors,
		&rec.StatusCode,
		&rec.Owner,
		&rec.Attempts,
		&rec.Version,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Direction = engine.Direction(direction)
	rec.Status = engine.FlightStatus(status)
	rec.CreatedAt = fromUnix(createdAt)
	rec.UpdatedAt = fromUnix(updatedAt)
	rec.CompletedAt = fromNullUnix(completedAt)

	rec.Input = engine.NewFlightMap()
	if row.input.Valid && row.input.String != "" {
		if err := json.Unmarshal([]byte(row.input.String), &rec.Input); err != nil {
			return nil, fmt.Errorf("failed to decode input parameters: %w", err)
		}
	}
	rec.Working = engine.NewFlightMap()
	if row.working.Valid && row.working.String != "" {
		if err := json.Unmarshal([]byte(row.working.String), &rec.Working); err != nil {
			return nil, fmt.Errorf("failed to decode working state: %w", err)
		}
	}
	if row.lastError.Valid {
		rec.LastError = &engine.ErrorRecord{}
		if err := json.Unmarshal([]byte(row.lastError.String), rec.LastError); err != nil {
			return nil, fmt.Errorf("failed to decode last error: %w", err)
		}
	}
	if row.undoErrors.Valid {
		if err := json.Unmarshal([]byte(row.undoErrors.String), &rec.UndoErrors); err != nil {
			return nil, fmt.Errorf("failed to decode undo errors: %w", err)
		}
	}

	return rec, nil
}

// CreateFlight inserts a new flight record
func (s *SQLiteStore) CreateFlight(ctx context.Context, rec *engine.FlightRecord) error {
	row, err := encodeFlight(rec)
	if err != nil {
		return err
	}

	query := `INSERT INTO flights (` + flightColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		rec.JobID,
		rec.FlightType,
		rec.Description,
		rec.SubmittedBy,
		row.input,
		row.working,
		rec.Cursor,
		string(rec.Direction),
		string(rec.Status),
		row.lastError,
		row.undoErrors,
		rec.StatusCode,
		rec.Owner,
		rec.Attempts,
		rec.Version,
		toUnix(rec.CreatedAt),
		toUnix(rec.UpdatedAt),
		toNullUnix(rec.CompletedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", engine.ErrFlightExists, rec.JobID)
	}
	if err != nil {
		return fmt.Errorf("failed to create flight: %w", err)
	}

	return nil
}

// GetFlight retrieves a flight by job id
func (s *SQLiteStore) GetFlight(ctx context.Context, jobID string) (*engine.FlightRecord, error) {
	query := `SELECT ` + flightColumns + ` FROM flights WHERE job_id = ?`

	rec, err := scanFlight(s.db.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(engine.ErrFlightNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get flight: %w", err)
	}

	return rec, nil
}

// UpdateFlight writes rec if the stored version still matches rec.Version.
func (s *SQLiteStore) UpdateFlight(ctx context.Context, rec *engine.FlightRecord) error {
	row, err := encodeFlight(rec)
	if err != nil {
		return err
	}

	query := `
		UPDATE flights
		SET description = ?, submitted_by = ?, input_parameters = ?, working_state = ?,
			cursor = ?, direction = ?, status = ?, last_error = ?, undo_errors = ?,
			status_code = ?, owner = ?, attempts = ?, updated_at = ?, completed_at = ?,
			version = version + 1
		WHERE job_id = ? AND version = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.Description,
		rec.SubmittedBy,
		row.input,
		row.working,
		rec.Cursor,
		string(rec.Direction),
		string(rec.Status),
		row.lastError,
		row.undoErrors,
		rec.StatusCode,
		rec.Owner,
		rec.Attempts,
		toUnix(rec.UpdatedAt),
		toNullUnix(rec.CompletedAt),
		rec.JobID,
		rec.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update flight: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM flights WHERE job_id = ?`, rec.JobID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(engine.ErrFlightNotFound, rec.JobID)
		}
		if err != nil {
			return fmt.Errorf("failed to check flight: %w", err)
		}
		return fmt.Errorf("%w: %s at version %d", engine.ErrVersionConflict, rec.JobID, rec.Version)
	}

	rec.Version++
	return nil
}

// ListFlights lists flights matching filter, newest first
func (s *SQLiteStore) ListFlights(ctx context.Context, filter engine.FlightFilter, offset, limit int) ([]*engine.FlightRecord, error) {
	var (
		where []string
		args  []any
	)

	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if filter.FlightType != "" {
		where = append(where, "flight_type = ?")
		args = append(args, filter.FlightType)
	}
	if filter.SubmittedBy != "" {
		where = append(where, "submitted_by = ?")
		args = append(args, filter.SubmittedBy)
	}
	if filter.CompletedBefore != nil {
		where = append(where, "completed_at IS NOT NULL AND completed_at < ?")
		args = append(args, toUnix(*filter.CompletedBefore))
	}

	query := `SELECT ` + flightColumns + ` FROM flights`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, job_id DESC"

	// SQLite treats a negative limit as no limit.
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list flights: %w", err)
	}
	defer rows.Close()

	flights := []*engine.FlightRecord{}
	for rows.Next() {
		rec, err := scanFlight(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flight: %w", err)
		}
		flights = append(flights, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flights: %w", err)
	}

	return flights, nil
}

// DeleteFlight deletes a flight by job id
func (s *SQLiteStore) DeleteFlight(ctx context.Context, jobID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM flights WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete flight: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return notFound(engine.ErrFlightNotFound, jobID)
	}

	return nil
}

// DeleteCompletedFlights removes terminal flights completed before the cutoff.
func (s *SQLiteStore) DeleteCompletedFlights(ctx context.Context, before time.Time) (int64, error) {
	query := `
		DELETE FROM flights
		WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(engine.StatusSucceeded),
		string(engine.StatusFailed),
		toUnix(before),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete completed flights: %w", err)
	}

	return result.RowsAffected()
}
