package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"finsight/internal/domain/connection"
)

// CustomerRepository implements connection.CustomerRepository for PostgreSQL
type CustomerRepository struct {
	db *DB
}

func NewCustomerRepository(db *DB) *CustomerRepository {
	return &CustomerRepository{db: db}
}

const customerColumns = `id, user_id, customer_id, identifier, created_at, updated_at`

func scanCustomer(row rowScanner) (*connection.Customer, error) {
	var c connection.Customer
	if err := row.Scan(&c.ID, &c.UserID, &c.CustomerID, &c.Identifier, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetOrCreate keeps the first customer recorded for a user. A later call with
// a different aggregator id returns the stored record unchanged.
func (r *CustomerRepository) GetOrCreate(ctx context.Context, params connection.CustomerParams) (*connection.Customer, error) {
	query := `
		INSERT INTO aggregator_customers (user_id, customer_id, identifier)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, params.UserID, params.CustomerID, params.Identifier); err != nil {
		return nil, fmt.Errorf("failed to insert customer: %w", err)
	}
	return r.GetByUserID(ctx, params.UserID)
}

func (r *CustomerRepository) GetByUserID(ctx context.Context, userID int64) (*connection.Customer, error) {
	c, err := scanCustomer(r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM aggregator_customers WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}
	return c, nil
}

func (r *CustomerRepository) GetByCustomerID(ctx context.Context, customerID string) (*connection.Customer, error) {
	c, err := scanCustomer(r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM aggregator_customers WHERE customer_id = $1`, customerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, connection.ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get customer by aggregator id: %w", err)
	}
	return c, nil
}
