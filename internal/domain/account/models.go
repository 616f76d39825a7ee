package account

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// Account natures reported by the aggregator
	natures = map[string]struct{}{
		"account": {}, "bonus": {}, "card": {}, "checking": {}, "credit": {},
		"credit_card": {}, "debit_card": {}, "ewallet": {}, "insurance": {},
		"investment": {}, "loan": {}, "mortgage": {}, "savings": {},
	}
	// Common ISO 4217 currency codes
	validCurrencies = map[string]struct{}{
		"EUR": {}, "USD": {}, "GBP": {}, "CHF": {}, "JPY": {},
		"CAD": {}, "AUD": {}, "NZD": {}, "CNY": {}, "SEK": {},
		"NOK": {}, "DKK": {}, "PLN": {}, "CZK": {}, "HUF": {},
		"RON": {}, "BGN": {}, "TRY": {}, "SGD": {}, "HKD": {},
		"MAD": {}, "XOF": {}, "XAF": {}, "BRL": {}, "INR": {},
	}
)

// Domain errors
var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidCurrency = errors.New("valid ISO 4217 currency is required")
)

// Account is a financial account under a bank connection. The ID is assigned
// by the aggregator and is never regenerated locally.
type Account struct {
	ID            string          `json:"id"`
	UserID        int64           `json:"userId"`
	ConnectionID  string          `json:"connectionId"`
	Name          string          `json:"name"`
	Nature        string          `json:"nature"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	IBAN          *string         `json:"iban,omitempty"`
	AccountNumber *string         `json:"accountNumber,omitempty"`
	SortCode      *string         `json:"sortCode,omitempty"`
	SwiftCode     *string         `json:"swiftCode,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// UpsertParams contains parameters for inserting or overwriting an account
type UpsertParams struct {
	ID            string
	UserID        int64
	ConnectionID  string
	Name          string
	Nature        string
	Balance       decimal.Decimal
	Currency      string
	IBAN          *string
	AccountNumber *string
	SortCode      *string
	SwiftCode     *string
}

func (p UpsertParams) Validate() error {
	if p.ID == "" {
		return errors.New("account ID is required")
	}
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.ConnectionID == "" {
		return errors.New("connection ID is required")
	}
	if p.Name == "" {
		return errors.New("account name is required")
	}
	if !IsValidCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// Totals is the dashboard balance summary. Total mixes currencies exactly as
// the dashboard shows it; ByCurrency keeps them apart.
type Totals struct {
	Total      decimal.Decimal            `json:"total"`
	ByCurrency map[string]decimal.Decimal `json:"byCurrency"`
}

// SumBalances adds up the balances of the given accounts.
func SumBalances(accounts []*Account) Totals {
	t := Totals{Total: decimal.Zero, ByCurrency: make(map[string]decimal.Decimal)}
	for _, a := range accounts {
		t.Total = t.Total.Add(a.Balance)
		t.ByCurrency[a.Currency] = t.ByCurrency[a.Currency].Add(a.Balance)
	}
	return t
}

// IsKnownNature reports whether the nature is one the aggregator documents.
// Unknown natures are stored anyway.
func IsKnownNature(n string) bool {
	_, ok := natures[n]
	return ok
}

func IsValidCurrency(c string) bool {
	_, ok := validCurrencies[c]
	return ok
}
