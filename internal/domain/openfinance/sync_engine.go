// Package openfinance provides domain services for linking banks and syncing
// their data from the aggregator.
package openfinance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finsight/internal/domain/account"
	"finsight/internal/domain/connection"
	"finsight/internal/domain/synclog"
	"finsight/internal/domain/transaction"
	"finsight/internal/infrastructure/saltedge"

	"github.com/rs/zerolog/log"
)

// MessageSyncAborted is the sync log message of a run that synced nothing.
const MessageSyncAborted = "La synchronisation a échoué"

// ItemKind identifies what a sync failure was about.
type ItemKind string

const (
	KindAccount      ItemKind = "account"
	KindTransaction  ItemKind = "transaction"
	KindAccounts     ItemKind = "accounts"     // fetching the account list failed
	KindTransactions ItemKind = "transactions" // fetching the transaction list failed
)

// ItemFailure is one item (or one whole fetch) that could not be synced.
type ItemFailure struct {
	Kind ItemKind
	ID   string
	Name string
	Err  error
}

func (f ItemFailure) String() string {
	switch f.Kind {
	case KindAccount:
		return fmt.Sprintf("Account %s: %v", f.Name, f.Err)
	case KindTransaction:
		return fmt.Sprintf("Transaction %s: %v", f.ID, f.Err)
	case KindAccounts:
		return fmt.Sprintf("Accounts: %v", f.Err)
	default:
		return fmt.Sprintf("Transactions: %v", f.Err)
	}
}

// SyncResult collects what one sync stored and what it could not.
type SyncResult struct {
	ConnectionID string
	UserID       int64
	Accounts     []*account.Account
	Transactions []*transaction.Transaction
	Failed       []ItemFailure
	Duration     time.Duration
}

// OK reports whether every item was stored.
func (r *SyncResult) OK() bool {
	return len(r.Failed) == 0
}

// Errors renders the failures as human-readable lines.
func (r *SyncResult) Errors() []string {
	out := make([]string, len(r.Failed))
	for i, f := range r.Failed {
		out[i] = f.String()
	}
	return out
}

// SyncEngine pulls accounts and transactions for one active connection and
// upserts them. Writes are keyed on aggregator ids, so concurrent or repeated
// runs for the same connection converge.
type SyncEngine struct {
	client       saltedge.ClientInterface
	customers    connection.CustomerRepository
	connections  connection.Repository
	accounts     *account.Service
	transactions *transaction.Service
	logs         *synclog.Service
	now          func() time.Time
}

// NewSyncEngine creates a new sync engine
func NewSyncEngine(
	client saltedge.ClientInterface,
	customers connection.CustomerRepository,
	connections connection.Repository,
	accounts *account.Service,
	transactions *transaction.Service,
	logs *synclog.Service,
) *SyncEngine {
	return &SyncEngine{
		client:       client,
		customers:    customers,
		connections:  connections,
		accounts:     accounts,
		transactions: transactions,
		logs:         logs,
		now:          time.Now,
	}
}

// Sync fetches the connection and synchronizes it, logging the run as manual_sync.
func (e *SyncEngine) Sync(ctx context.Context, connectionID string) (*SyncResult, error) {
	start := e.now()
	remote, err := e.client.GetConnection(ctx, connectionID)
	if err != nil {
		err = fmt.Errorf("failed to load connection %s: %w", connectionID, err)
		e.recordAbort(ctx, connectionID, "", "manual_sync", start, err)
		return nil, err
	}
	return e.SyncConnection(ctx, remote, "manual_sync")
}

// SyncConnection synchronizes an already fetched connection. Per-item failures
// are collected in the result; only failures that prevent the run altogether
// are returned as errors. Either way a sync log entry named after action is
// written once the owning user is known.
func (e *SyncEngine) SyncConnection(ctx context.Context, remote *saltedge.Connection, action string) (*SyncResult, error) {
	start := e.now()
	result := &SyncResult{ConnectionID: remote.ID}

	logger := log.With().Str("connection_id", remote.ID).Str("action", action).Logger()

	owner, err := e.resolveOwner(ctx, remote.CustomerID)
	if err != nil {
		e.recordAbort(ctx, remote.ID, remote.CustomerID, action, start, err)
		return nil, err
	}
	result.UserID = owner.UserID

	if _, err := e.recordConnection(ctx, owner, remote); err != nil {
		e.logs.Record(ctx, synclog.AppendParams{
			UserID:       owner.UserID,
			ConnectionID: remote.ID,
			Action:       action + "_error",
			Status:       synclog.StatusError,
			Message:      "Impossible d'enregistrer la connexion",
			Duration:     e.now().Sub(start),
			Errors:       []string{err.Error()},
		})
		return nil, err
	}

	e.syncAccounts(ctx, owner.UserID, remote.ID, result)
	e.syncTransactions(ctx, remote.ID, result)

	if err := e.connections.MarkSynced(ctx, remote.ID, e.now().UTC()); err != nil {
		logger.Error().Err(err).Msg("failed to mark connection synced")
	}

	result.Duration = e.now().Sub(start)

	entry := synclog.AppendParams{
		UserID:       owner.UserID,
		ConnectionID: remote.ID,
		Action:       action + "_success",
		Status:       synclog.StatusSuccess,
		Message:      fmt.Sprintf("%d comptes et %d transactions synchronisés", len(result.Accounts), len(result.Transactions)),
		Duration:     result.Duration,
	}
	if !result.OK() {
		entry.Action = action + "_partial"
		entry.Status = synclog.StatusError
		entry.Message = fmt.Sprintf("%s, %d erreurs", entry.Message, len(result.Failed))
		entry.Errors = result.Errors()
	}
	e.logs.Record(ctx, entry)

	logger.Info().
		Int64("user_id", owner.UserID).
		Int("accounts", len(result.Accounts)).
		Int("transactions", len(result.Transactions)).
		Int("failures", len(result.Failed)).
		Int64("duration_ms", result.Duration.Milliseconds()).
		Msg("connection synced")

	return result, nil
}

// recordAbort writes the failed sync log for a run that stopped before any
// data was synced. The owner comes from the stored connection, then from the
// customer; when neither is known the failure is only logged.
func (e *SyncEngine) recordAbort(ctx context.Context, connectionID, customerID, action string, start time.Time, cause error) {
	logger := log.With().Str("connection_id", connectionID).Str("action", action).Logger()

	userID, err := lookupOwner(ctx, e.connections, e.customers, connectionID, customerID)
	if err != nil {
		logger.Error().Err(cause).AnErr("owner_error", err).Msg("sync aborted, owner unknown")
		return
	}

	logger.Error().Err(cause).Int64("user_id", userID).Msg("sync aborted")
	e.logs.Record(ctx, synclog.AppendParams{
		UserID:       userID,
		ConnectionID: connectionID,
		Action:       action + "_error",
		Status:       synclog.StatusError,
		Message:      MessageSyncAborted,
		Duration:     e.now().Sub(start),
		Errors:       []string{cause.Error()},
	})
}

// lookupOwner finds the local user behind a connection, first from the stored
// connection record, then from the aggregator customer.
func lookupOwner(ctx context.Context, connections connection.Repository, customers connection.CustomerRepository, connectionID, customerID string) (int64, error) {
	conn, err := connections.GetByID(ctx, connectionID)
	if err == nil {
		return conn.UserID, nil
	}
	if !errors.Is(err, connection.ErrConnectionNotFound) || customerID == "" {
		return 0, err
	}

	customer, err := customers.GetByCustomerID(ctx, customerID)
	if err != nil {
		return 0, err
	}
	return customer.UserID, nil
}

func (e *SyncEngine) resolveOwner(ctx context.Context, customerID string) (*connection.Customer, error) {
	owner, err := e.customers.GetByCustomerID(ctx, customerID)
	if errors.Is(err, connection.ErrCustomerNotFound) {
		return nil, fmt.Errorf("no user found for customer %s: %w", customerID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve customer %s: %w", customerID, err)
	}
	return owner, nil
}

// recordConnection stores the remote connection with its status verbatim.
func (e *SyncEngine) recordConnection(ctx context.Context, owner *connection.Customer, remote *saltedge.Connection) (*connection.Connection, error) {
	return e.connections.Upsert(ctx, connection.UpsertParams{
		ID:            remote.ID,
		UserID:        owner.UserID,
		CustomerID:    remote.CustomerID,
		ProviderCode:  remote.ProviderCode,
		ProviderName:  remote.ProviderName,
		Status:        connection.Status(remote.Status),
		LastSuccessAt: remote.LastSuccessAt,
	})
}

func (e *SyncEngine) syncAccounts(ctx context.Context, userID int64, connectionID string, result *SyncResult) {
	remote, err := e.client.GetAccounts(ctx, connectionID)
	if err != nil {
		log.Error().Err(err).Str("connection_id", connectionID).Msg("error fetching accounts")
		result.Failed = append(result.Failed, ItemFailure{Kind: KindAccounts, Err: err})
		return
	}

	for _, a := range remote {
		stored, err := e.accounts.Upsert(ctx, accountParams(userID, connectionID, a))
		if err != nil {
			log.Warn().Err(err).Str("account_id", a.ID).Msg("error upserting account")
			result.Failed = append(result.Failed, ItemFailure{Kind: KindAccount, ID: a.ID, Name: a.Name, Err: err})
			continue
		}
		result.Accounts = append(result.Accounts, stored)
	}
}

func (e *SyncEngine) syncTransactions(ctx context.Context, connectionID string, result *SyncResult) {
	remote, err := e.client.GetConnectionTransactions(ctx, connectionID)
	if err != nil {
		log.Error().Err(err).Str("connection_id", connectionID).Msg("error fetching transactions")
		result.Failed = append(result.Failed, ItemFailure{Kind: KindTransactions, Err: err})
		return
	}

	for _, t := range remote {
		params, err := transactionParams(t)
		if err == nil {
			var stored *transaction.Transaction
			stored, err = e.transactions.Upsert(ctx, params)
			if err == nil {
				result.Transactions = append(result.Transactions, stored)
				continue
			}
		}
		log.Warn().Err(err).Str("transaction_id", t.ID).Msg("error upserting transaction")
		result.Failed = append(result.Failed, ItemFailure{Kind: KindTransaction, ID: t.ID, Err: err})
	}
}

func accountParams(userID int64, connectionID string, a saltedge.Account) account.UpsertParams {
	return account.UpsertParams{
		ID:            a.ID,
		UserID:        userID,
		ConnectionID:  connectionID,
		Name:          a.Name,
		Nature:        a.Nature,
		Balance:       a.Balance,
		Currency:      a.CurrencyCode,
		IBAN:          optional(a.Extra.IBAN),
		AccountNumber: optional(a.Extra.AccountNumber),
		SortCode:      optional(a.Extra.SortCode),
		SwiftCode:     optional(a.Extra.SwiftCode),
	}
}

func transactionParams(t saltedge.Transaction) (transaction.UpsertParams, error) {
	madeOn, err := t.MadeOnDate()
	if err != nil {
		return transaction.UpsertParams{}, fmt.Errorf("invalid made_on %q: %w", t.MadeOn, err)
	}
	postingDate, err := t.PostingDate()
	if err != nil {
		return transaction.UpsertParams{}, fmt.Errorf("invalid posting_date %q: %w", t.Extra.PostingDate, err)
	}

	return transaction.UpsertParams{
		ID:              t.ID,
		AccountID:       t.AccountID,
		Amount:          t.Amount,
		Currency:        t.CurrencyCode,
		MadeOn:          madeOn,
		Description:     t.Description,
		Category:        t.Category,
		Mode:            t.Mode,
		Status:          t.Status,
		Duplicated:      t.Duplicated,
		BalanceSnapshot: t.Extra.AccountBalanceSnapshot,
		PostingDate:     postingDate,
		MerchantID:      optional(t.Extra.MerchantID),
	}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
