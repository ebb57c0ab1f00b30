package store

import (
	"context"
	"fmt"
	"time"
)

// StartSyncLog writes a sync_log row with status=running (spec.md 4.5 step 1).
func (s *Store) StartSyncLog(ctx context.Context, groupID uuid, connectionID *uuid) (uuid, error) {
	const q = `
INSERT INTO sync_logs (group_id, connection_id, status)
VALUES ($1, $2, 'running')
RETURNING id`
	var id uuid
	if err := s.pool.QueryRow(ctx, q, groupID, connectionID).Scan(&id); err != nil {
		return "", fmt.Errorf("starting sync log: %w", err)
	}
	return id, nil
}

// CompleteSyncLog finalizes a running sync log as success or failed
// (spec.md 4.5 step 7).
func (s *Store) CompleteSyncLog(ctx context.Context, id uuid, status string, created, updated, deleted int, errMsg *string) error {
	const q = `
UPDATE sync_logs SET status = $2, events_created = $3, events_updated = $4, events_deleted = $5,
  error = $6, completed_at = now()
WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id, status, created, updated, deleted, errMsg)
	if err != nil {
		return fmt.Errorf("completing sync log %s: %w", id, err)
	}
	return nil
}

// SyncLogFilter narrows GetSyncLogs.
type SyncLogFilter struct {
	Limit   int
	GroupID *uuid
}

// GetSyncLogs returns recent sync logs, most recent first (spec.md 4.5).
func (s *Store) GetSyncLogs(ctx context.Context, f SyncLogFilter) ([]SyncLog, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q := `
SELECT id, group_id, connection_id, status, events_created, events_updated, events_deleted, error, started_at, completed_at
FROM sync_logs`
	args := []any{}
	if f.GroupID != nil {
		q += ` WHERE group_id = $1`
		args = append(args, *f.GroupID)
	}
	q += fmt.Sprintf(` ORDER BY started_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sync logs: %w", err)
	}
	defer rows.Close()

	var out []SyncLog
	for rows.Next() {
		var l SyncLog
		if err := rows.Scan(&l.ID, &l.GroupID, &l.ConnectionID, &l.Status, &l.EventsCreated, &l.EventsUpdated,
			&l.EventsDeleted, &l.Error, &l.StartedAt, &l.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Now returns the current time. Exists so callers in this package never
// call time.Now() directly inside SQL-adjacent logic, keeping a single
// seam for tests that need deterministic timestamps.
func Now() time.Time { return time.Now() }
