package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"social-metrics-sync/internal/models"
)

// Store wraps pgxpool for Postgres persistence of snapshots and credentials.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ListWorkspaceCredentials returns every credential connected to a workspace.
// Eligibility filtering and rotation ordering live in the token manager.
func (s *Store) ListWorkspaceCredentials(ctx context.Context, workspaceID string) ([]models.Credential, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workspace_id, user_id, account_id, account_label,
		       access_secret, refresh_secret, expires_at, rate_limited_until,
		       rotation_index, created_at, updated_at
		FROM credentials WHERE workspace_id = $1
		ORDER BY rotation_index ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("query credentials: %w", err)
	}
	defer rows.Close()

	var creds []models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.UserID, &c.AccountID, &c.AccountLabel,
			&c.AccessSecret, &c.RefreshSecret, &c.ExpiresAt, &c.RateLimitedUntil,
			&c.RotationIndex, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// GetCredentialByUser fetches the credential connected by a user in a workspace.
func (s *Store) GetCredentialByUser(ctx context.Context, workspaceID, userID string) (models.Credential, bool, error) {
	var c models.Credential
	err := s.pool.QueryRow(ctx, `
		SELECT id, workspace_id, user_id, account_id, account_label,
		       access_secret, refresh_secret, expires_at, rate_limited_until,
		       rotation_index, created_at, updated_at
		FROM credentials WHERE workspace_id = $1 AND user_id = $2
		ORDER BY rotation_index ASC LIMIT 1
	`, workspaceID, userID).Scan(&c.ID, &c.WorkspaceID, &c.UserID, &c.AccountID, &c.AccountLabel,
		&c.AccessSecret, &c.RefreshSecret, &c.ExpiresAt, &c.RateLimitedUntil,
		&c.RotationIndex, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Credential{}, false, nil
	}
	if err != nil {
		return models.Credential{}, false, fmt.Errorf("query credential: %w", err)
	}
	return c, true, nil
}

// PromoteCredential reassigns rotation index 0 to the credential that just
// succeeded, shifting the rest of the workspace pool down.
func (s *Store) PromoteCredential(ctx context.Context, workspaceID, credentialID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	if _, err := tx.Exec(ctx, `
		UPDATE credentials SET rotation_index = rotation_index + 1, updated_at = NOW()
		WHERE workspace_id = $1
	`, workspaceID); err != nil {
		return fmt.Errorf("shift rotation: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE credentials SET rotation_index = 0, updated_at = NOW()
		WHERE id = $1
	`, credentialID); err != nil {
		return fmt.Errorf("promote credential: %w", err)
	}
	return tx.Commit(ctx)
}

// SetRateLimitedUntil marks the credential matching the access secret as
// cooling down until the given time.
func (s *Store) SetRateLimitedUntil(ctx context.Context, workspaceID, accessSecret string, until time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE credentials SET rate_limited_until = $3, updated_at = NOW()
		WHERE workspace_id = $1 AND access_secret = $2
	`, workspaceID, accessSecret, until)
	return err
}

// UpdateAccessSecret persists a refreshed access secret and its new expiry,
// clearing any rate-limit cool-down.
func (s *Store) UpdateAccessSecret(ctx context.Context, credentialID, accessSecret string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE credentials
		SET access_secret = $2, expires_at = $3, rate_limited_until = to_timestamp(0), updated_at = NOW()
		WHERE id = $1
	`, credentialID, accessSecret, expiresAt)
	return err
}

// LatestSnapshot returns the most recent snapshot for the account and period.
func (s *Store) LatestSnapshot(ctx context.Context, workspaceID, accountID, period string) (*models.MetricsSnapshot, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT workspace_id, account_id, period, start_time, end_time,
		       measurements, previous_values, changes_since,
		       last_updated, fetched_at, data_status
		FROM metrics_snapshots
		WHERE workspace_id = $1 AND account_id = $2 AND period = $3
		ORDER BY start_time DESC LIMIT 1
	`, workspaceID, accountID, period)
	return scanSnapshot(row)
}

// DaySnapshot returns the snapshot row for the day containing at, if present.
func (s *Store) DaySnapshot(ctx context.Context, workspaceID, accountID, period string, at time.Time) (*models.MetricsSnapshot, error) {
	start, _ := models.DayBounds(at)
	row := s.pool.QueryRow(ctx, `
		SELECT workspace_id, account_id, period, start_time, end_time,
		       measurements, previous_values, changes_since,
		       last_updated, fetched_at, data_status
		FROM metrics_snapshots
		WHERE workspace_id = $1 AND account_id = $2 AND period = $3 AND day = $4
	`, workspaceID, accountID, period, start)
	return scanSnapshot(row)
}

// UpsertSnapshot writes the day-bucketed row, replacing any existing one.
// The caller has already folded the prior row's measurements into
// PreviousValues/ChangesSince; concurrent writers are last-writer-wins.
func (s *Store) UpsertSnapshot(ctx context.Context, snap models.MetricsSnapshot) error {
	day, _ := models.DayBounds(snap.StartTime)
	measurements, err := json.Marshal(snap.Measurements)
	if err != nil {
		return fmt.Errorf("marshal measurements: %w", err)
	}
	previous, err := json.Marshal(snap.PreviousValues)
	if err != nil {
		return fmt.Errorf("marshal previous values: %w", err)
	}
	changes, err := json.Marshal(snap.ChangesSince)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO metrics_snapshots
			(workspace_id, account_id, period, day, start_time, end_time,
			 measurements, previous_values, changes_since, last_updated, fetched_at, data_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (workspace_id, account_id, period, day) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			measurements = EXCLUDED.measurements,
			previous_values = EXCLUDED.previous_values,
			changes_since = EXCLUDED.changes_since,
			last_updated = EXCLUDED.last_updated,
			fetched_at = EXCLUDED.fetched_at,
			data_status = EXCLUDED.data_status
	`, snap.WorkspaceID, snap.AccountID, snap.Period, day, snap.StartTime, snap.EndTime,
		measurements, previous, changes, snap.LastUpdated, snap.FetchedAt, snap.DataStatus)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*models.MetricsSnapshot, error) {
	var snap models.MetricsSnapshot
	var measurements, previous, changes []byte
	err := row.Scan(&snap.WorkspaceID, &snap.AccountID, &snap.Period, &snap.StartTime, &snap.EndTime,
		&measurements, &previous, &changes, &snap.LastUpdated, &snap.FetchedAt, &snap.DataStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	if err := json.Unmarshal(measurements, &snap.Measurements); err != nil {
		return nil, fmt.Errorf("unmarshal measurements: %w", err)
	}
	if err := json.Unmarshal(previous, &snap.PreviousValues); err != nil {
		return nil, fmt.Errorf("unmarshal previous values: %w", err)
	}
	if err := json.Unmarshal(changes, &snap.ChangesSince); err != nil {
		return nil, fmt.Errorf("unmarshal changes: %w", err)
	}
	return &snap, nil
}
