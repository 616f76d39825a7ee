package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"finsight/internal/domain/synclog"

	"github.com/lib/pq"
)

// SyncLogRepository implements synclog.Repository for PostgreSQL. Entries are
// append-only.
type SyncLogRepository struct {
	db *DB
}

func NewSyncLogRepository(db *DB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

func (r *SyncLogRepository) Append(ctx context.Context, entry *synclog.Entry) error {
	query := `
		INSERT INTO sync_logs (id, user_id, connection_id, action, status, message, duration_ms, errors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	var duration sql.NullInt64
	if entry.DurationMs != nil {
		duration = sql.NullInt64{Int64: *entry.DurationMs, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, nullStringPtr(entry.ConnectionID), entry.Action, entry.Status,
		entry.Message, duration, pq.Array(entry.Errors), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append sync log: %w", err)
	}
	return nil
}

// ListByUserID returns the user's latest entries, newest first.
func (r *SyncLogRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]*synclog.Entry, error) {
	query := `
		SELECT id, user_id, connection_id, action, status, message, duration_ms, errors, created_at
		FROM sync_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	var entries []*synclog.Entry
	for rows.Next() {
		var (
			e        synclog.Entry
			connID   sql.NullString
			duration sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &connID, &e.Action, &e.Status, &e.Message, &duration, pq.Array(&e.Errors), &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		e.ConnectionID = stringPtr(connID)
		if duration.Valid {
			ms := duration.Int64
			e.DurationMs = &ms
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
