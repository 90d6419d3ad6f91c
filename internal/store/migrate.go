package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS endpoint_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		taken_at INTEGER NOT NULL,
		endpoint_index INTEGER NOT NULL,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		healthy INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		successes INTEGER NOT NULL,
		processed INTEGER NOT NULL,
		in_flight INTEGER NOT NULL,
		max_concurrent INTEGER NOT NULL,
		avg_latency_ms REAL,
		backoff_until INTEGER,
		rate_limited INTEGER NOT NULL DEFAULT 0,
		quota_exceeded INTEGER NOT NULL DEFAULT 0,
		timeouts INTEGER NOT NULL DEFAULT 0,
		other_errors INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_endpoint_snapshots_taken ON endpoint_snapshots(taken_at);`,
	`CREATE INDEX IF NOT EXISTS idx_endpoint_snapshots_name ON endpoint_snapshots(name, taken_at);`,
}

// Migrate ensures the required database tables exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store migration failed: %w", err)
		}
	}
	return nil
}
