package user

import "context"

// Repository defines the interface for user data access
type Repository interface {
	// GetOrCreate returns the user with the given email, inserting it on first sight.
	GetOrCreate(ctx context.Context, params CreateUserParams) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// Delete removes the user and cascades to customers, connections, accounts,
	// transactions, sync logs and device tokens.
	Delete(ctx context.Context, id int64) error
}
