package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bpmanager/bpmanager/pkg/profile"
)

func scanPao(sc rowScanner) (*profile.Pao, error) {
	pao := &profile.Pao{}
	var (
		attributes string
		createdAt  int64
	)
	if err := sc.Scan(&pao.ObjectID, &pao.Component, &pao.ObjectType, &attributes, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(attributes), &pao.Attributes); err != nil {
		return nil, fmt.Errorf("failed to decode policy attributes: %w", err)
	}
	pao.CreatedAt = fromUnix(createdAt)
	return pao, nil
}

// InsertPao stores a policy attribute object. It returns ErrDuplicatePao if
// the object already has one.
func (s *SQLiteStore) InsertPao(ctx context.Context, pao *profile.Pao) error {
	attributes, err := json.Marshal(pao.Attributes)
	if err != nil {
		return fmt.Errorf("failed to encode policy attributes: %w", err)
	}
	if pao.CreatedAt.IsZero() {
		pao.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO paos (object_id, component, object_type, attributes, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		pao.ObjectID,
		pao.Component,
		pao.ObjectType,
		string(attributes),
		toUnix(pao.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", profile.ErrDuplicatePao, pao.ObjectID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert policy attribute object: %w", err)
	}

	return nil
}

// GetPao retrieves the policy attribute object of an object
func (s *SQLiteStore) GetPao(ctx context.Context, objectID string) (*profile.Pao, error) {
	query := `
		SELECT object_id, component, object_type, attributes, created_at
		FROM paos
		WHERE object_id = ?
	`

	pao, err := scanPao(s.db.QueryRowContext(ctx, query, objectID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(profile.ErrPaoNotFound, objectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy attribute object: %w", err)
	}

	return pao, nil
}

// DeletePao deletes the policy attribute object of an object. It reports
// whether a row was removed.
func (s *SQLiteStore) DeletePao(ctx context.Context, objectID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM paos WHERE object_id = ?`, objectID)
	if err != nil {
		return false, fmt.Errorf("failed to delete policy attribute object: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// ListPaos lists the policy attribute objects of the given objects.
func (s *SQLiteStore) ListPaos(ctx context.Context, objectIDs []string) ([]*profile.Pao, error) {
	if len(objectIDs) == 0 {
		return []*profile.Pao{}, nil
	}

	query := `
		SELECT object_id, component, object_type, attributes, created_at
		FROM paos
		WHERE object_id IN (` + placeholders(len(objectIDs)) + `)
		ORDER BY object_id ASC
	`

	args := make([]any, 0, len(objectIDs))
	for _, id := range objectIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy attribute objects: %w", err)
	}
	defer rows.Close()

	paos := []*profile.Pao{}
	for rows.Next() {
		pao, err := scanPao(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy attribute object: %w", err)
		}
		paos = append(paos, pao)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating policy attribute objects: %w", err)
	}

	return paos, nil
}
