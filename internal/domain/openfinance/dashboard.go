package openfinance

import (
	"context"
	"errors"
	"fmt"

	"finsight/internal/domain/account"
	"finsight/internal/domain/connection"
	"finsight/internal/domain/synclog"
	"finsight/internal/domain/transaction"
	"finsight/internal/domain/user"
)

// AccountTransactionLimit is how many transactions each dashboard account carries.
const AccountTransactionLimit = 50

// AccountView is an account with its latest transactions.
type AccountView struct {
	*account.Account
	Transactions []*transaction.Transaction `json:"transactions"`
}

// Overview is the stored banking picture of one user.
type Overview struct {
	User        *user.User               `json:"user"`
	Customer    *connection.Customer     `json:"customer"`
	Connections []*connection.Connection `json:"connections"`
	Accounts    []AccountView            `json:"accounts"`
	Totals      account.Totals           `json:"totals"`
}

// Dashboard serves the stored banking data. It never calls the aggregator.
type Dashboard struct {
	users        *user.Service
	customers    connection.CustomerRepository
	connections  connection.Repository
	accounts     *account.Service
	transactions *transaction.Service
	logs         *synclog.Service
}

// NewDashboard creates a new dashboard reader
func NewDashboard(
	users *user.Service,
	customers connection.CustomerRepository,
	connections connection.Repository,
	accounts *account.Service,
	transactions *transaction.Service,
	logs *synclog.Service,
) *Dashboard {
	return &Dashboard{
		users:        users,
		customers:    customers,
		connections:  connections,
		accounts:     accounts,
		transactions: transactions,
		logs:         logs,
	}
}

// Overview returns the user's customer record, connections and accounts with
// their latest transactions and balance totals.
func (d *Dashboard) Overview(ctx context.Context, email string) (*Overview, error) {
	u, err := d.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	out := &Overview{User: u, Connections: []*connection.Connection{}, Accounts: []AccountView{}}

	customer, err := d.customers.GetByUserID(ctx, u.ID)
	switch {
	case err == nil:
		out.Customer = customer
	case !errors.Is(err, connection.ErrCustomerNotFound):
		return nil, fmt.Errorf("failed to load customer for user %d: %w", u.ID, err)
	}

	conns, err := d.connections.ListByUserID(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections for user %d: %w", u.ID, err)
	}
	if conns != nil {
		out.Connections = conns
	}

	accounts, err := d.accounts.ListByUserID(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts for user %d: %w", u.ID, err)
	}
	for _, a := range accounts {
		txs, err := d.transactions.ListForAccount(ctx, a.ID, AccountTransactionLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to list transactions for account %s: %w", a.ID, err)
		}
		if txs == nil {
			txs = []*transaction.Transaction{}
		}
		out.Accounts = append(out.Accounts, AccountView{Account: a, Transactions: txs})
	}
	out.Totals = account.SumBalances(accounts)

	return out, nil
}

// Transactions returns the user's most recent transactions across all accounts.
func (d *Dashboard) Transactions(ctx context.Context, email string, limit int) ([]*transaction.WithAccount, error) {
	u, err := d.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	txs, err := d.transactions.ListForUser(ctx, u.ID, limit)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []*transaction.WithAccount{}
	}
	return txs, nil
}

// SyncLogs returns the user's latest sync log entries.
func (d *Dashboard) SyncLogs(ctx context.Context, email string) ([]*synclog.Entry, error) {
	u, err := d.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	entries, err := d.logs.ListForUser(ctx, u.ID, synclog.DefaultListLimit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*synclog.Entry{}
	}
	return entries, nil
}

// DeleteUserData removes the user and, by cascade, everything stored for them.
// Aggregator-side customers and connections are left in place.
func (d *Dashboard) DeleteUserData(ctx context.Context, email string) error {
	return d.users.DeleteByEmail(ctx, email)
}
