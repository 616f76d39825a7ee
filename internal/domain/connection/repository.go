package connection

import (
	"context"
	"time"
)

// CustomerRepository stores the user -> aggregator customer mapping.
type CustomerRepository interface {
	// GetOrCreate returns the user's customer record, inserting params when the
	// user has none yet.
	GetOrCreate(ctx context.Context, params CustomerParams) (*Customer, error)
	GetByUserID(ctx context.Context, userID int64) (*Customer, error)
	GetByCustomerID(ctx context.Context, customerID string) (*Customer, error)
}

// Repository defines the interface for connection records
type Repository interface {
	// Upsert records the connection, overwriting status and provider fields of
	// an existing row. Sync timestamps are left alone.
	Upsert(ctx context.Context, params UpsertParams) (*Connection, error)
	GetByID(ctx context.Context, id string) (*Connection, error)
	ListByUserID(ctx context.Context, userID int64) ([]*Connection, error)
	// MarkSynced sets last_sync_at and flips the status to active.
	MarkSynced(ctx context.Context, id string, at time.Time) error
	// Delete removes the connection with its accounts and their transactions.
	Delete(ctx context.Context, id string) error
}
