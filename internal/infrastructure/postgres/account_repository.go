package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"finsight/internal/domain/account"
)

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, user_id, connection_id, name, nature, balance, currency,
	iban, account_number, sort_code, swift_code, created_at, updated_at`

func scanAccount(row rowScanner) (*account.Account, error) {
	var (
		acc                                  account.Account
		iban, accountNumber, sortCode, swift sql.NullString
	)
	err := row.Scan(
		&acc.ID, &acc.UserID, &acc.ConnectionID, &acc.Name, &acc.Nature, &acc.Balance, &acc.Currency,
		&iban, &accountNumber, &sortCode, &swift, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	acc.IBAN = stringPtr(iban)
	acc.AccountNumber = stringPtr(accountNumber)
	acc.SortCode = stringPtr(sortCode)
	acc.SwiftCode = stringPtr(swift)
	return &acc, nil
}

// Upsert inserts the account or overwrites the stored copy with the
// aggregator's current values.
func (r *AccountRepository) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, error) {
	query := `
		INSERT INTO accounts (id, user_id, connection_id, name, nature, balance, currency,
		                      iban, account_number, sort_code, swift_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
			SET user_id = EXCLUDED.user_id,
			    connection_id = EXCLUDED.connection_id,
			    name = EXCLUDED.name,
			    nature = EXCLUDED.nature,
			    balance = EXCLUDED.balance,
			    currency = EXCLUDED.currency,
			    iban = EXCLUDED.iban,
			    account_number = EXCLUDED.account_number,
			    sort_code = EXCLUDED.sort_code,
			    swift_code = EXCLUDED.swift_code,
			    updated_at = NOW()
		RETURNING ` + accountColumns

	acc, err := scanAccount(r.db.QueryRowContext(ctx, query,
		params.ID, params.UserID, params.ConnectionID, params.Name, params.Nature, params.Balance, params.Currency,
		nullStringPtr(params.IBAN), nullStringPtr(params.AccountNumber), nullStringPtr(params.SortCode), nullStringPtr(params.SwiftCode),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return acc, nil
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	acc, err := scanAccount(r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// ListByUserID retrieves all accounts for a specific user
func (r *AccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*account.Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY name, id`, userID)
}

func (r *AccountRepository) ListByConnectionID(ctx context.Context, connectionID string) ([]*account.Account, error) {
	return r.list(ctx, `SELECT `+accountColumns+` FROM accounts WHERE connection_id = $1 ORDER BY name, id`, connectionID)
}

func (r *AccountRepository) list(ctx context.Context, query string, arg any) ([]*account.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}
