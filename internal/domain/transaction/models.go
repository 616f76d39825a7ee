package transaction

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction statuses reported by the aggregator
const (
	StatusPosted  = "posted"
	StatusPending = "pending"
)

// Direction labels derived from the amount sign
const (
	TypeCredit = "credit"
	TypeDebit  = "debit"
)

// Domain errors
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidInput        = errors.New("invalid input")
)

// Transaction is a posted or pending movement on an account. Amount is signed:
// credits are positive, debits negative.
type Transaction struct {
	ID              string           `json:"id"` // Aggregator transaction id (PK)
	AccountID       string           `json:"accountId"`
	Amount          decimal.Decimal  `json:"amount"`
	Currency        string           `json:"currency"`
	MadeOn          time.Time        `json:"madeOn"`
	Description     string           `json:"description"`
	Category        string           `json:"category"`
	Mode            string           `json:"mode,omitempty"`
	Status          string           `json:"status"`
	Duplicated      bool             `json:"duplicated"`
	BalanceSnapshot *decimal.Decimal `json:"balanceSnapshot,omitempty"`
	PostingDate     *time.Time       `json:"postingDate,omitempty"`
	MerchantID      *string          `json:"merchantId,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// WithAccount is a transaction joined with its account for dashboard lists.
type WithAccount struct {
	Transaction
	AccountName   string `json:"accountName"`
	CategoryLabel string `json:"categoryLabel"`
}

// Type reports whether the transaction credits or debits the account.
func (t *Transaction) Type() string {
	return TypeOf(t.Amount)
}

// TypeOf maps an amount sign onto a direction label. Zero counts as credit.
func TypeOf(amount decimal.Decimal) string {
	if amount.IsNegative() {
		return TypeDebit
	}
	return TypeCredit
}

// UpsertParams is used for syncing transactions from the aggregator
type UpsertParams struct {
	ID              string
	AccountID       string
	Amount          decimal.Decimal
	Currency        string
	MadeOn          time.Time
	Description     string
	Category        string
	Mode            string
	Status          string
	Duplicated      bool
	BalanceSnapshot *decimal.Decimal
	PostingDate     *time.Time
	MerchantID      *string
}

func (p UpsertParams) Validate() error {
	if p.ID == "" {
		return errors.New("transaction ID is required")
	}
	if p.AccountID == "" {
		return errors.New("account ID is required")
	}
	if len(p.Currency) != 3 {
		return errors.New("currency code must have 3 letters")
	}
	if p.MadeOn.IsZero() {
		return errors.New("transaction date is required")
	}
	if p.Status != StatusPosted && p.Status != StatusPending {
		return errors.New("status must be 'posted' or 'pending'")
	}
	return nil
}
