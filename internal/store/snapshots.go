package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/relaypool/relaypool/internal/pool"
)

// Snapshot is one recorded pool snapshot.
type Snapshot struct {
	TakenAt   time.Time               `json:"taken_at"`
	Endpoints []pool.EndpointSnapshot `json:"endpoints"`
}

// HistoryQuery filters recorded snapshots. Limit counts snapshots, not rows.
type HistoryQuery struct {
	Endpoint string
	Since    time.Time
	Limit    int
}

// RecordSnapshot stores every endpoint of one snapshot under a single
// timestamp.
func (s *Store) RecordSnapshot(ctx context.Context, takenAt time.Time, endpoints []pool.EndpointSnapshot) error {
	if s == nil || s.DB == nil {
		return errNotInitialized
	}
	if len(endpoints) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO endpoint_snapshots (
			taken_at, endpoint_index, name, url, healthy, failures, successes,
			processed, in_flight, max_concurrent, avg_latency_ms, backoff_until,
			rate_limited, quota_exceeded, timeouts, other_errors
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close() // nolint:errcheck // closed with the transaction

	ts := takenAt.UTC().UnixMilli()
	for _, ep := range endpoints {
		var latency sql.NullFloat64
		if ep.AvgLatencyMs != nil {
			latency = sql.NullFloat64{Float64: *ep.AvgLatencyMs, Valid: true}
		}
		var backoff sql.NullInt64
		if ep.BackoffUntil != nil {
			backoff = sql.NullInt64{Int64: ep.BackoffUntil.UTC().UnixMilli(), Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			ts, ep.Index, ep.Name, ep.URL, boolToInt(ep.Healthy), ep.Failures, ep.Successes,
			ep.ProcessedCount, ep.CurrentConcurrent, ep.MaxConcurrent, latency, backoff,
			ep.ErrorCounts.RateLimited, ep.ErrorCounts.QuotaExceeded, ep.ErrorCounts.Timeout, ep.ErrorCounts.Other,
		); err != nil {
			return fmt.Errorf("insert snapshot for %s: %w", ep.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// History returns recorded snapshots newest first.
func (s *Store) History(ctx context.Context, q HistoryQuery) ([]Snapshot, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}

	var (
		where []string
		args  []any
	)
	if name := strings.TrimSpace(q.Endpoint); name != "" {
		where = append(where, "name = ?")
		args = append(args, name)
	}
	if !q.Since.IsZero() {
		where = append(where, "taken_at >= ?")
		args = append(args, q.Since.UTC().UnixMilli())
	}
	if q.Limit > 0 {
		inner := "SELECT DISTINCT taken_at FROM endpoint_snapshots"
		if len(where) > 0 {
			inner += " WHERE " + strings.Join(where, " AND ")
		}
		inner += " ORDER BY taken_at DESC LIMIT ?"
		where = append(where, "taken_at IN ("+inner+")")
		args = append(args, args...)
		args = append(args, q.Limit)
	}

	query := `
		SELECT taken_at, endpoint_index, name, url, healthy, failures, successes,
			processed, in_flight, max_concurrent, avg_latency_ms, backoff_until,
			rate_limited, quota_exceeded, timeouts, other_errors
		FROM endpoint_snapshots`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY taken_at DESC, endpoint_index ASC"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var out []Snapshot
	for rows.Next() {
		var (
			takenAt int64
			healthy int
			latency sql.NullFloat64
			backoff sql.NullInt64
			ep      pool.EndpointSnapshot
		)
		if err := rows.Scan(&takenAt, &ep.Index, &ep.Name, &ep.URL, &healthy, &ep.Failures, &ep.Successes,
			&ep.ProcessedCount, &ep.CurrentConcurrent, &ep.MaxConcurrent, &latency, &backoff,
			&ep.ErrorCounts.RateLimited, &ep.ErrorCounts.QuotaExceeded, &ep.ErrorCounts.Timeout, &ep.ErrorCounts.Other,
		); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		ep.Healthy = healthy != 0
		if latency.Valid {
			value := latency.Float64
			ep.AvgLatencyMs = &value
		}
		if backoff.Valid {
			value := time.UnixMilli(backoff.Int64).UTC()
			ep.BackoffUntil = &value
		}

		at := time.UnixMilli(takenAt).UTC()
		if n := len(out); n == 0 || !out[n-1].TakenAt.Equal(at) {
			out = append(out, Snapshot{TakenAt: at})
		}
		out[len(out)-1].Endpoints = append(out[len(out)-1].Endpoints, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return out, nil
}

// Prune deletes snapshots taken before cutoff and returns the rows removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errNotInitialized
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM endpoint_snapshots WHERE taken_at < ?`, cutoff.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
