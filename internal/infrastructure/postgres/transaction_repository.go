package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"finsight/internal/domain/transaction"

	"github.com/shopspring/decimal"
)

type TransactionRepository struct {
	db *DB
}

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `t.id, t.account_id, t.amount, t.currency, t.made_on, t.description, t.category,
	t.mode, t.status, t.duplicated, t.balance_snapshot, t.posting_date, t.merchant_id,
	t.created_at, t.updated_at`

// scanTransaction reads transactionColumns followed by any extra destinations.
func scanTransaction(row rowScanner, extra ...any) (*transaction.Transaction, error) {
	var (
		tx          transaction.Transaction
		snapshot    decimal.NullDecimal
		postingDate sql.NullTime
		merchantID  sql.NullString
	)
	dest := []any{
		&tx.ID, &tx.AccountID, &tx.Amount, &tx.Currency, &tx.MadeOn, &tx.Description, &tx.Category,
		&tx.Mode, &tx.Status, &tx.Duplicated, &snapshot, &postingDate, &merchantID,
		&tx.CreatedAt, &tx.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	tx.BalanceSnapshot = decimalPtr(snapshot)
	tx.PostingDate = timePtr(postingDate)
	tx.MerchantID = stringPtr(merchantID)
	return &tx, nil
}

// Upsert keys on the aggregator id; a re-sync overwrites every mutable field.
func (r *TransactionRepository) Upsert(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, error) {
	query := `
		INSERT INTO transactions AS t (id, account_id, amount, currency, made_on, description, category,
		                               mode, status, duplicated, balance_snapshot, posting_date, merchant_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE
			SET account_id = EXCLUDED.account_id,
			    amount = EXCLUDED.amount,
			    currency = EXCLUDED.currency,
			    made_on = EXCLUDED.made_on,
			    description = EXCLUDED.description,
			    category = EXCLUDED.category,
			    mode = EXCLUDED.mode,
			    status = EXCLUDED.status,
			    duplicated = EXCLUDED.duplicated,
			    balance_snapshot = EXCLUDED.balance_snapshot,
			    posting_date = EXCLUDED.posting_date,
			    merchant_id = EXCLUDED.merchant_id,
			    updated_at = NOW()
		RETURNING ` + transactionColumns

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, query,
		params.ID, params.AccountID, params.Amount, params.Currency, params.MadeOn,
		params.Description, params.Category, params.Mode, params.Status, params.Duplicated,
		nullDecimal(params.BalanceSnapshot), nullTime(params.PostingDate), nullStringPtr(params.MerchantID),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert transaction: %w", err)
	}
	return tx, nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions t WHERE t.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transaction.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// ListByUserID joins each transaction with its account name, newest first.
func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]*transaction.WithAccount, error) {
	query := `
		SELECT ` + transactionColumns + `, a.name
		FROM transactions t
		JOIN accounts a ON a.id = t.account_id
		WHERE a.user_id = $1
		ORDER BY t.made_on DESC, t.id
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*transaction.WithAccount
	for rows.Next() {
		var accountName string
		tx, err := scanTransaction(rows, &accountName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, &transaction.WithAccount{Transaction: *tx, AccountName: accountName})
	}
	return txs, rows.Err()
}

func (r *TransactionRepository) ListByAccountID(ctx context.Context, accountID string, limit int) ([]*transaction.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions t
		WHERE t.account_id = $1
		ORDER BY t.made_on DESC, t.id
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list account transactions: %w", err)
	}
	defer rows.Close()

	var txs []*transaction.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
