package store

import (
	"context"
	"fmt"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS credentials (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		workspace_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		account_label TEXT NOT NULL DEFAULT '',
		access_secret TEXT NOT NULL,
		refresh_secret TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMPTZ NOT NULL,
		rate_limited_until TIMESTAMPTZ NOT NULL DEFAULT to_timestamp(0),
		rotation_index INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credentials_workspace
		ON credentials (workspace_id, rotation_index)`,
	`CREATE TABLE IF NOT EXISTS metrics_snapshots (
		workspace_id TEXT NOT NULL,
		account_id TEXT NOT NULL,
		period TEXT NOT NULL,
		day TIMESTAMPTZ NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		measurements JSONB NOT NULL DEFAULT '{}',
		previous_values JSONB NOT NULL DEFAULT '{}',
		changes_since JSONB NOT NULL DEFAULT '{}',
		last_updated TIMESTAMPTZ NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL,
		data_status TEXT NOT NULL DEFAULT 'fresh',
		PRIMARY KEY (workspace_id, account_id, period, day)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_recency
		ON metrics_snapshots (workspace_id, account_id, period, start_time DESC)`,
}

// RunMigrations executes the embedded SQL migrations in order.
func (s *Store) RunMigrations(ctx context.Context) error {
	for i, sql := range migrations {
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %d: %w", i, err)
		}
	}
	return nil
}
