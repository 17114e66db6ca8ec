package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bpmanager/bpmanager/pkg/profile"
)

const profileColumns = `id, display_name, description, biller, cloud_platform, billing_account_id,
	tenant_id, subscription_id, resource_group_name, application_deployment_name,
	created_by, created_at, last_modified`

func scanProfile(sc rowScanner) (*profile.BillingProfile, error) {
	p := &profile.BillingProfile{}
	var (
		platform                             string
		billingAccount, tenant, subscription sql.NullString
		resourceGroup, deployment            sql.NullString
		createdAt, lastModified              int64
	)

	err := sc.Scan(
		&p.ID,
		&p.DisplayName,
		&p.Description,
		&p.Biller,
		&platform,
		&billingAccount,
		&tenant,
		&subscription,
		&resourceGroup,
		&deployment,
		&p.CreatedBy,
		&createdAt,
		&lastModified,
	)
	if err != nil {
		return nil, err
	}

	p.CloudPlatform = profile.CloudPlatform(platform)
	p.BillingAccountID = billingAccount.String
	p.TenantID = tenant.String
	p.SubscriptionID = subscription.String
	p.ResourceGroupName = resourceGroup.String
	p.ApplicationDeploymentName = deployment.String
	p.CreatedTime = fromUnix(createdAt)
	p.LastModified = fromUnix(lastModified)
	return p, nil
}

func insertProfile(ctx context.Context, tx *sql.Tx, p *profile.BillingProfile) error {
	query := `INSERT INTO billing_profiles (` + profileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := tx.ExecContext(ctx, query,
		p.ID,
		p.DisplayName,
		p.Description,
		p.Biller,
		string(p.CloudPlatform),
		nullString(p.BillingAccountID),
		nullString(p.TenantID),
		nullString(p.SubscriptionID),
		nullString(p.ResourceGroupName),
		nullString(p.ApplicationDeploymentName),
		p.CreatedBy,
		toUnix(p.CreatedTime),
		toUnix(p.LastModified),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", profile.ErrProfileExists, p.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert billing profile: %w", err)
	}
	return nil
}

func getProfileTx(ctx context.Context, tx *sql.Tx, id string) (*profile.BillingProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM billing_profiles WHERE id = ?`

	p, err := scanProfile(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(profile.ErrProfileNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing profile: %w", err)
	}
	return p, nil
}

func recordChange(ctx context.Context, tx *sql.Tx, profileID string, changeType profile.ChangeType, changeBy string, changes map[string]any) error {
	var payload sql.NullString
	if len(changes) > 0 {
		b, err := json.Marshal(changes)
		if err != nil {
			return fmt.Errorf("failed to encode changes: %w", err)
		}
		payload = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		INSERT INTO billing_profile_changelog (id, profile_id, change_type, change_by, change_date, changes)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := tx.ExecContext(ctx, query,
		uuid.NewString(),
		profileID,
		string(changeType),
		changeBy,
		toUnix(time.Now()),
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to record %s change: %w", changeType, err)
	}
	return nil
}

// CreateProfile inserts a billing profile and its CREATE change log row.
func (s *SQLiteStore) CreateProfile(ctx context.Context, p *profile.BillingProfile, changeBy string) (*profile.BillingProfile, error) {
	created := *p
	now := time.Now().UTC()
	created.CreatedTime = now
	created.LastModified = now
	created.CreatedBy = changeBy

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertProfile(ctx, tx, &created); err != nil {
			return err
		}
		return recordChange(ctx, tx, created.ID, profile.ChangeTypeCreate, changeBy, nil)
	})
	if err != nil {
		return nil, err
	}

	// Round through the stored precision.
	created.CreatedTime = fromUnix(toUnix(now))
	created.LastModified = created.CreatedTime
	return &created, nil
}

// GetProfile retrieves a billing profile by id
func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*profile.BillingProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM billing_profiles WHERE id = ?`

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(profile.ErrProfileNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing profile: %w", err)
	}

	return p, nil
}

// UpdateProfile applies the set fields of req and records the change. A
// request that matches the stored values writes nothing.
func (s *SQLiteStore) UpdateProfile(ctx context.Context, id string, req profile.UpdateRequest, changeBy string) (*profile.BillingProfile, error) {
	var updated *profile.BillingProfile

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getProfileTx(ctx, tx, id)
		if err != nil {
			return err
		}

		// Only differing fields count, so re-applying an update writes nothing.
		changes := map[string]any{}
		if req.Description != nil && *req.Description != current.Description {
			current.Description = *req.Description
			changes["description"] = *req.Description
		}
		if req.BillingAccountID != nil && *req.BillingAccountID != current.BillingAccountID {
			current.BillingAccountID = *req.BillingAccountID
			changes["billingAccountId"] = *req.BillingAccountID
		}
		if len(changes) == 0 {
			updated = current
			return nil
		}
		current.LastModified = fromUnix(toUnix(time.Now()))

		query := `
			UPDATE billing_profiles
			SET description = ?, billing_account_id = ?, last_modified = ?
			WHERE id = ?
		`
		if _, err := tx.ExecContext(ctx, query,
			current.Description,
			nullString(current.BillingAccountID),
			toUnix(current.LastModified),
			id,
		); err != nil {
			return fmt.Errorf("failed to update billing profile: %w", err)
		}

		if err := recordChange(ctx, tx, id, profile.ChangeTypeUpdate, changeBy, changes); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// DeleteProfile deletes a billing profile and records the deletion. It
// reports false when there was nothing to delete.
func (s *SQLiteStore) DeleteProfile(ctx context.Context, id string, changeBy string) (bool, error) {
	var deleted bool

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM billing_profiles WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete billing profile: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return nil
		}

		deleted = true
		return recordChange(ctx, tx, id, profile.ChangeTypeDelete, changeBy, nil)
	})
	if err != nil {
		return false, err
	}

	return deleted, nil
}

// RestoreProfile re-inserts a deleted profile with its original timestamps.
// Restoring a profile that is already present is a no-op.
func (s *SQLiteStore) RestoreProfile(ctx context.Context, p *profile.BillingProfile) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return insertProfile(ctx, tx, p)
	})
	if errors.Is(err, profile.ErrProfileExists) {
		return nil
	}
	return err
}

// ListProfiles lists the given billing profiles ordered by creation time.
func (s *SQLiteStore) ListProfiles(ctx context.Context, ids []string, offset, limit int) ([]*profile.BillingProfile, error) {
	if len(ids) == 0 {
		return []*profile.BillingProfile{}, nil
	}
	if limit <= 0 {
		limit = -1
	}

	query := `SELECT ` + profileColumns + ` FROM billing_profiles
		WHERE id IN (` + placeholders(len(ids)) + `)
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?`

	args := make([]any, 0, len(ids)+2)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing profiles: %w", err)
	}
	defer rows.Close()

	profiles := []*profile.BillingProfile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan billing profile: %w", err)
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating billing profiles: %w", err)
	}

	return profiles, nil
}

// ListChanges lists the change log of a profile, oldest first.
func (s *SQLiteStore) ListChanges(ctx context.Context, profileID string, offset, limit int) ([]*profile.ChangeLogEntry, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, profile_id, change_type, change_by, change_date, changes
		FROM billing_profile_changelog
		WHERE profile_id = ?
		ORDER BY change_date ASC, rowid ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, profileID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list changes: %w", err)
	}
	defer rows.Close()

	entries := []*profile.ChangeLogEntry{}
	for rows.Next() {
		var (
			entry      profile.ChangeLogEntry
			changeType string
			changeDate int64
			changes    sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.ProfileID, &changeType, &entry.ChangeBy, &changeDate, &changes); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		entry.ChangeType = profile.ChangeType(changeType)
		entry.ChangeDate = fromUnix(changeDate)
		if changes.Valid {
			if err := json.Unmarshal([]byte(changes.String), &entry.Changes); err != nil {
				return nil, fmt.Errorf("failed to decode changes: %w", err)
			}
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changes: %w", err)
	}

	return entries, nil
}
