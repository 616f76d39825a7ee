package transaction

import "context"

// Repository defines the interface for transaction data access
type Repository interface {
	// Upsert keys on the aggregator transaction id, so re-syncing is idempotent.
	Upsert(ctx context.Context, params UpsertParams) (*Transaction, error)
	GetByID(ctx context.Context, id string) (*Transaction, error)
	// ListByUserID returns the user's latest transactions, newest first.
	ListByUserID(ctx context.Context, userID int64, limit int) ([]*WithAccount, error)
	// ListByAccountID returns the account's latest transactions, newest first.
	ListByAccountID(ctx context.Context, accountID string, limit int) ([]*Transaction, error)
}
