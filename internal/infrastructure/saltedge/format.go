package saltedge

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DisplayTransaction is the dashboard shape of a transaction.
type DisplayTransaction struct {
	ID          string           `json:"id"`
	Date        string           `json:"date"`
	Description string           `json:"description"`
	Amount      decimal.Decimal  `json:"amount"`
	Currency    string           `json:"currency"`
	Type        string           `json:"type"` // credit | debit
	Category    string           `json:"category"`
	Balance     *decimal.Decimal `json:"balance,omitempty"`
}

// DisplayAccount is the dashboard shape of an account.
type DisplayAccount struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	Type          string          `json:"type"`
	IBAN          string          `json:"iban,omitempty"`
	AccountNumber string          `json:"accountNumber,omitempty"`
}

func FormatTransaction(t Transaction) DisplayTransaction {
	kind := "credit"
	if t.Amount.IsNegative() {
		kind = "debit"
	}
	return DisplayTransaction{
		ID:          t.ID,
		Date:        t.MadeOn,
		Description: t.Description,
		Amount:      t.Amount.Abs(),
		Currency:    t.CurrencyCode,
		Type:        kind,
		Category:    t.Category,
		Balance:     t.Extra.AccountBalanceSnapshot,
	}
}

func FormatAccount(a Account) DisplayAccount {
	return DisplayAccount{
		ID:            a.ID,
		Name:          a.Name,
		Balance:       a.Balance,
		Currency:      a.CurrencyCode,
		Type:          a.Nature,
		IBAN:          a.Extra.IBAN,
		AccountNumber: a.Extra.AccountNumber,
	}
}

// popularFrenchBanks are matched against provider codes, and against provider
// names with the first underscore turned into a space.
var popularFrenchBanks = []string{
	"bnp_paribas",
	"credit_agricole",
	"societe_generale",
	"lcl",
	"credit_mutuel",
	"banque_postale",
	"revolut",
	"boursorama",
	"ing",
	"hello_bank",
}

// FilterPopularBanks keeps the providers matching a popular French bank.
func FilterPopularBanks(providers []Provider) []Provider {
	out := make([]Provider, 0, len(providers))
	for _, p := range providers {
		name := strings.ToLower(p.Name)
		for _, key := range popularFrenchBanks {
			if strings.Contains(p.Code, key) || strings.Contains(name, strings.Replace(key, "_", " ", 1)) {
				out = append(out, p)
				break
			}
		}
	}
	return out
}
