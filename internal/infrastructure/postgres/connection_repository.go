package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"finsight/internal/domain/connection"
)

// ConnectionRepository implements connection.Repository for PostgreSQL
type ConnectionRepository struct {
	db *DB
}

func NewConnectionRepository(db *DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

const connectionColumns = `id, user_id, customer_id, provider_code, provider_name, status,
	last_success_at, last_sync_at, created_at, updated_at`

func scanConnection(row rowScanner) (*connection.Connection, error) {
	var (
		c                       connection.Connection
		status                  string
		lastSuccessAt, lastSync sql.NullTime
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.CustomerID, &c.ProviderCode, &c.ProviderName, &status,
		&lastSuccessAt, &lastSync, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = connection.Status(status)
	c.LastSuccessAt = timePtr(lastSuccessAt)
	c.LastSyncAt = timePtr(lastSync)
	return &c, nil
}

// Upsert records the connection keyed on the aggregator id. last_sync_at is
// only ever written by MarkSynced.
func (r *ConnectionRepository) Upsert(ctx context.Context, params connection.UpsertParams) (*connection.Connection, error) {
	query := `
		INSERT INTO connections (id, user_id, customer_id, provider_code, provider_name, status, last_success_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
			SET user_id = EXCLUDED.user_id,
			    customer_id = EXCLUDED.customer_id,
			    provider_code = EXCLUDED.provider_code,
			    provider_name = EXCLUDED.provider_name,
			    status = EXCLUDED.status,
			    last_success_at = COALESCE(EXCLUDED.last_success_at, connections.last_success_at),
			    updated_at = NOW()
		RETURNING ` + connectionColumns

	c, err := scanConnection(r.db.QueryRowContext(ctx, query,
		params.ID, params.UserID, params.CustomerID, params.ProviderCode, params.ProviderName,
		string(params.Status), nullTime(params.LastSuccessAt),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert connection: %w", err)
	}
	return c, nil
}

func (r *ConnectionRepository) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	c, err := scanConnection(r.db.QueryRowContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrConnectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return c, nil
}

func (r *ConnectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*connection.Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}
	defer rows.Close()

	var conns []*connection.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connection: %w", err)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

func (r *ConnectionRepository) MarkSynced(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE connections SET last_sync_at = $2, status = $3, updated_at = NOW() WHERE id = $1`,
		id, at, string(connection.StatusActive))
	if err != nil {
		return fmt.Errorf("failed to mark connection synced: %w", err)
	}
	return expectRow(result, connection.ErrConnectionNotFound)
}

// Delete removes the connection. Accounts and their transactions go with it
// through ON DELETE CASCADE.
func (r *ConnectionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return expectRow(result, connection.ErrConnectionNotFound)
}

func expectRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}
