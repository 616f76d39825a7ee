package saltedge

import (
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Connection statuses reported by the aggregator.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
	StatusDisabled = "disabled"
)

// Customer is the aggregator-side identity of one user.
type Customer struct {
	ID         string    `json:"id"`
	Identifier string    `json:"identifier"`
	Secret     string    `json:"secret,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Connection is one authorized link to a financial institution.
type Connection struct {
	ID                      string     `json:"id"`
	Secret                  string     `json:"secret,omitempty"`
	ProviderID              string     `json:"provider_id"`
	ProviderCode            string     `json:"provider_code"`
	ProviderName            string     `json:"provider_name"`
	CustomerID              string     `json:"customer_id"`
	CountryCode             string     `json:"country_code,omitempty"`
	Status                  string     `json:"status"`
	Interactive             bool       `json:"interactive"`
	StoreCredentials        bool       `json:"store_credentials"`
	Categorization          string     `json:"categorization,omitempty"`
	ShowConsentConfirmation bool       `json:"show_consent_confirmation"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
	LastSuccessAt           *time.Time `json:"last_success_at,omitempty"`
	NextRefreshPossibleAt   *time.Time `json:"next_refresh_possible_at,omitempty"`
}

// IsActive reports whether data can be fetched for the connection.
func (c *Connection) IsActive() bool {
	return c.Status == StatusActive
}

type Account struct {
	ID           string          `json:"id"`
	ConnectionID string          `json:"connection_id"`
	Name         string          `json:"name"`
	Nature       string          `json:"nature"`
	Balance      decimal.Decimal `json:"balance"`
	CurrencyCode string          `json:"currency_code"`
	Extra        AccountExtra    `json:"extra"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type AccountExtra struct {
	IBAN          string `json:"iban,omitempty"`
	SwiftCode     string `json:"swift_code,omitempty"`
	AccountHolder string `json:"account_holder,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	SortCode      string `json:"sort_code,omitempty"`
	RoutingNumber string `json:"routing_number,omitempty"`
}

// Transaction amounts are signed: negative values are debits.
type Transaction struct {
	ID           string           `json:"id"`
	AccountID    string           `json:"account_id"`
	Duplicated   bool             `json:"duplicated"`
	Mode         string           `json:"mode"`
	Status       string           `json:"status"`
	MadeOn       string           `json:"made_on"` // YYYY-MM-DD
	Amount       decimal.Decimal  `json:"amount"`
	CurrencyCode string           `json:"currency_code"`
	Description  string           `json:"description"`
	Category     string           `json:"category"`
	Extra        TransactionExtra `json:"extra"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

type TransactionExtra struct {
	AccountBalanceSnapshot   *decimal.Decimal `json:"account_balance_snapshot,omitempty"`
	CategorizationConfidence *float64         `json:"categorization_confidence,omitempty"`
	MerchantID               string           `json:"merchant_id,omitempty"`
	PostingDate              string           `json:"posting_date,omitempty"`
	Time                     string           `json:"time,omitempty"`
	Type                     string           `json:"type,omitempty"`
}

// MadeOnDate parses the booking date.
func (t *Transaction) MadeOnDate() (time.Time, error) {
	return time.Parse(time.DateOnly, t.MadeOn)
}

// PostingDate parses the optional posting date, returning nil when absent.
func (t *Transaction) PostingDate() (*time.Time, error) {
	if t.Extra.PostingDate == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.DateOnly, t.Extra.PostingDate)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

type Provider struct {
	ID                   string   `json:"id"`
	Code                 string   `json:"code"`
	Name                 string   `json:"name"`
	Mode                 string   `json:"mode"`
	Status               string   `json:"status"`
	Interactive          bool     `json:"interactive"`
	Instruction          string   `json:"instruction,omitempty"`
	HomeURL              string   `json:"home_url,omitempty"`
	LoginURL             string   `json:"login_url,omitempty"`
	LogoURL              string   `json:"logo_url"`
	CountryCode          string   `json:"country_code"`
	Timezone             string   `json:"timezone,omitempty"`
	Regulated            bool     `json:"regulated"`
	MaxConsentDays       int      `json:"max_consent_days,omitempty"`
	SupportedFetchScopes []string `json:"supported_fetch_scopes,omitempty"`
	BICCodes             []string `json:"bic_codes,omitempty"`
}

type Country struct {
	Code             string `json:"code"`
	Name             string `json:"name"`
	RefreshStartTime int    `json:"refresh_start_time,omitempty"`
}

// ConnectSession is a hosted consent widget the browser is redirected to.
type ConnectSession struct {
	ConnectURL string    `json:"connect_url"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type RemovedConnection struct {
	ID      string `json:"id"`
	Removed bool   `json:"removed"`
}

// Attempt configures a single authorization attempt.
type Attempt struct {
	ReturnTo                string   `json:"return_to"`
	Locale                  string   `json:"locale,omitempty"`
	ShowConsentConfirmation bool     `json:"show_consent_confirmation"`
	CredentialsStrategy     string   `json:"credentials_strategy,omitempty"`
	FetchScopes             []string `json:"fetch_scopes,omitempty"`
}

// Widget customises the hosted consent UI.
type Widget struct {
	Template                string `json:"template,omitempty"`
	Theme                   string `json:"theme,omitempty"`
	JavaScriptCallbackType  string `json:"javascript_callback_type,omitempty"`
	ShowConsentConfirmation *bool  `json:"show_consent_confirmation,omitempty"`
	DisableProviderSearch   *bool  `json:"disable_provider_search,omitempty"`
	PopularProvidersCountry string `json:"popular_providers_country,omitempty"`
}

// ConnectSessionRequest opens the hosted consent flow. An empty ProviderCode
// lets the widget prompt for the bank.
type ConnectSessionRequest struct {
	CustomerID   string   `json:"customer_id"`
	ProviderCode string   `json:"provider_code,omitempty"`
	Consent      []string `json:"consent"`
	Attempt      Attempt  `json:"attempt"`
	Widget       *Widget  `json:"widget,omitempty"`
}

// SessionOptions drive refresh and reconnect sessions.
type SessionOptions struct {
	Attempt Attempt `json:"attempt"`
	Widget  *Widget `json:"widget,omitempty"`
}

// TransactionFilters are optional query parameters for GetTransactions.
type TransactionFilters struct {
	FromID     string
	PerPage    int
	FromDate   string
	ToDate     string
	Pending    *bool
	Duplicated *bool
}

func (f TransactionFilters) apply(q url.Values) {
	if f.FromID != "" {
		q.Set("from_id", f.FromID)
	}
	if f.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(f.PerPage))
	}
	if f.FromDate != "" {
		q.Set("from_date", f.FromDate)
	}
	if f.ToDate != "" {
		q.Set("to_date", f.ToDate)
	}
	if f.Pending != nil {
		q.Set("pending", strconv.FormatBool(*f.Pending))
	}
	if f.Duplicated != nil {
		q.Set("duplicated", strconv.FormatBool(*f.Duplicated))
	}
}

// Bool returns a pointer to b for optional widget flags.
func Bool(b bool) *bool {
	return &b
}
