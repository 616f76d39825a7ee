package connection

import (
	"errors"
	"time"
)

// Status is the aggregator-reported state of a bank connection. Values outside
// the known set are kept verbatim and treated as not yet usable.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDisabled Status = "disabled"
	StatusError    Status = "error"
)

// Domain errors
var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrCustomerNotFound   = errors.New("aggregator customer not found")
	ErrForbidden          = errors.New("access forbidden")
)

// Known reports whether the status belongs to the closed enumeration.
func (s Status) Known() bool {
	switch s {
	case StatusPending, StatusActive, StatusInactive, StatusDisabled, StatusError:
		return true
	}
	return false
}

// Usable reports whether data may be synchronized from the connection.
func (s Status) Usable() bool {
	return s == StatusActive
}

// Customer links a local user to the aggregator customer created for them.
type Customer struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	CustomerID string    `json:"customerId"` // Aggregator customer id
	Identifier string    `json:"identifier"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Connection is the local record of one authorized link to a bank.
type Connection struct {
	ID            string     `json:"id"` // Aggregator connection id
	UserID        int64      `json:"userId"`
	CustomerID    string     `json:"customerId"`
	ProviderCode  string     `json:"providerCode"`
	ProviderName  string     `json:"providerName"`
	Status        Status     `json:"status"`
	LastSuccessAt *time.Time `json:"lastSuccessAt,omitempty"`
	LastSyncAt    *time.Time `json:"lastSyncAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// CustomerParams contains parameters for recording an aggregator customer
type CustomerParams struct {
	UserID     int64
	CustomerID string
	Identifier string
}

func (p CustomerParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.CustomerID == "" {
		return errors.New("customer ID is required")
	}
	if p.Identifier == "" {
		return errors.New("customer identifier is required")
	}
	return nil
}

// UpsertParams contains parameters for recording a connection
type UpsertParams struct {
	ID            string
	UserID        int64
	CustomerID    string
	ProviderCode  string
	ProviderName  string
	Status        Status
	LastSuccessAt *time.Time
}

func (p UpsertParams) Validate() error {
	if p.ID == "" {
		return errors.New("connection ID is required")
	}
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.CustomerID == "" {
		return errors.New("customer ID is required")
	}
	if p.Status == "" {
		return errors.New("status is required")
	}
	return nil
}
