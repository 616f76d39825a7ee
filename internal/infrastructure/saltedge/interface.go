package saltedge

import (
	"context"
)

// ClientInterface defines the aggregator operations used by the domain services.
type ClientInterface interface {
	GetCountries(ctx context.Context) ([]Country, error)
	GetProviders(ctx context.Context, countryCode string) ([]Provider, error)
	GetFrenchBanks(ctx context.Context) ([]Provider, error)

	CreateCustomer(ctx context.Context, identifier string) (*Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)

	CreateConnectionSession(ctx context.Context, req ConnectSessionRequest) (*ConnectSession, error)
	GetConnection(ctx context.Context, connectionID string) (*Connection, error)
	GetCustomerConnections(ctx context.Context, customerID string) ([]Connection, error)
	RefreshConnection(ctx context.Context, connectionID string, opts SessionOptions) (*ConnectSession, error)
	ReconnectConnection(ctx context.Context, connectionID string, opts SessionOptions) (*ConnectSession, error)
	DeleteConnection(ctx context.Context, connectionID string) (*RemovedConnection, error)

	GetAccounts(ctx context.Context, connectionID string) ([]Account, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	GetTransactions(ctx context.Context, accountID string, filters TransactionFilters) ([]Transaction, error)
	GetConnectionTransactions(ctx context.Context, connectionID string) ([]Transaction, error)
}
