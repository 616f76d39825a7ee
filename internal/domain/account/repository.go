package account

import "context"

// Repository defines the interface for account data access.
// Defined in the domain layer, implemented in the infrastructure layer.
type Repository interface {
	// Upsert inserts the account or overwrites every field of the existing row
	// with the same ID.
	Upsert(ctx context.Context, params UpsertParams) (*Account, error)
	GetByID(ctx context.Context, id string) (*Account, error)
	ListByUserID(ctx context.Context, userID int64) ([]*Account, error)
	ListByConnectionID(ctx context.Context, connectionID string) ([]*Account, error)
}
