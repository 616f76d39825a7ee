package openfinance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"finsight/internal/domain/connection"
	"finsight/internal/domain/synclog"
	"finsight/internal/domain/user"
	"finsight/internal/infrastructure/saltedge"

	"github.com/rs/zerolog/log"
)

// Session kinds accepted by ReopenSession
const (
	SessionRefresh   = "refresh"
	SessionReconnect = "reconnect"
)

// Live data selections
const (
	DataAccounts     = "accounts"
	DataTransactions = "transactions"
	DataAll          = "all"
)

// LiveTransactionLimit caps how many transactions the live data view returns.
const LiveTransactionLimit = 100

// CustomerPrefix is prepended to the user's email to build the aggregator identifier.
const CustomerPrefix = "finsight_"

var consentScopes = []string{"accounts", "transactions", "holder_info"}

// Domain errors
var (
	ErrInvalidSessionKind = errors.New(`Invalid refresh type. Use "refresh" or "reconnect"`)
	ErrConnectionRequired = errors.New("Connection ID is required")
)

// InactiveConnectionError is returned when live data is requested from a
// connection the aggregator does not report as active.
type InactiveConnectionError struct {
	Status connection.Status
}

func (e *InactiveConnectionError) Error() string {
	return fmt.Sprintf("connection is not active (status %q)", e.Status)
}

// UserMessage is shown to the user instead of the raw error.
func (e *InactiveConnectionError) UserMessage() string {
	return "La connexion bancaire n'est pas active. Veuillez la reconnecter."
}

// SyncDispatcher hands a connection off to a background sync. Implemented by
// the scheduler so webhook responses never wait on a sync.
type SyncDispatcher interface {
	DispatchSync(ctx context.Context, connectionID, trigger string) error
}

// Notifier tells users about finished syncs. Implemented by notification.Service.
type Notifier interface {
	NotifySyncComplete(ctx context.Context, userID int64, connectionID string, accounts, transactions int) error
	NotifySyncFailed(ctx context.Context, userID int64, connectionID string) error
}

// Quota counts connection attempts against the sandbox budget.
type Quota interface {
	Record(action, provider string, success bool) saltedge.QuotaStatus
}

// SessionConfig holds the hosted widget settings.
type SessionConfig struct {
	CallbackURL string
	Locale      string
	Country     string
}

// ConnectResult is returned when a hosted consent session has been opened.
type ConnectResult struct {
	ConnectURL string               `json:"connect_url"`
	ExpiresAt  time.Time            `json:"expires_at"`
	CustomerID string               `json:"customer_id"`
	TestStatus saltedge.QuotaStatus `json:"test_status"`
}

// ReopenResult is returned by refresh and reconnect.
type ReopenResult struct {
	ConnectURL string    `json:"connect_url"`
	ExpiresAt  time.Time `json:"expires_at"`
	Type       string    `json:"type"`
}

// Webhook is the payload the aggregator posts when a connection changes stage.
type Webhook struct {
	ConnectionID string `json:"connection_id"`
	CustomerID   string `json:"customer_id"`
	Stage        string `json:"stage"`
	APIStage     string `json:"api_stage"`
	Secret       string `json:"secret"`
	ErrorMessage string `json:"error_message"`
}

// LiveConnection summarizes the remote connection in the live data view.
type LiveConnection struct {
	ID            string     `json:"id"`
	ProviderName  string     `json:"provider_name"`
	Status        string     `json:"status"`
	LastSuccessAt *time.Time `json:"last_success_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

type DateRange struct {
	From *string `json:"from"`
	To   *string `json:"to"`
}

type TransactionsSummary struct {
	TotalCount     int       `json:"total_count"`
	DisplayedCount int       `json:"displayed_count"`
	DateRange      DateRange `json:"date_range"`
}

// LiveData is fetched straight from the aggregator without touching storage.
type LiveData struct {
	Connection          LiveConnection                `json:"connection"`
	Accounts            []saltedge.DisplayAccount     `json:"accounts,omitempty"`
	AccountsError       string                        `json:"accounts_error,omitempty"`
	Transactions        []saltedge.DisplayTransaction `json:"transactions,omitempty"`
	TransactionsSummary *TransactionsSummary          `json:"transactions_summary,omitempty"`
	TransactionsError   string                        `json:"transactions_error,omitempty"`
}

// Manager drives a bank connection from consent to synced data and removal.
type Manager struct {
	client      saltedge.ClientInterface
	users       *user.Service
	customers   connection.CustomerRepository
	connections connection.Repository
	engine      *SyncEngine
	logs        *synclog.Service
	notifier    Notifier
	quota       Quota
	dispatcher  SyncDispatcher
	session     SessionConfig
}

// NewManager creates a new connection lifecycle manager. notifier and quota may be nil.
func NewManager(
	client saltedge.ClientInterface,
	users *user.Service,
	customers connection.CustomerRepository,
	connections connection.Repository,
	engine *SyncEngine,
	logs *synclog.Service,
	notifier Notifier,
	quota Quota,
	session SessionConfig,
) *Manager {
	return &Manager{
		client:      client,
		users:       users,
		customers:   customers,
		connections: connections,
		engine:      engine,
		logs:        logs,
		notifier:    notifier,
		quota:       quota,
		session:     session,
	}
}

// SetDispatcher wires the background sync queue. Until it is set, webhooks
// complete connections inline.
func (m *Manager) SetDispatcher(d SyncDispatcher) {
	m.dispatcher = d
}

// Connect ensures the user has an aggregator customer and opens a hosted
// consent session. An empty providerCode lets the widget prompt for the bank.
func (m *Manager) Connect(ctx context.Context, email, name, providerCode string) (*ConnectResult, error) {
	u, err := m.users.Resolve(ctx, email, name)
	if err != nil {
		return nil, err
	}

	customer, err := m.ensureCustomer(ctx, u)
	if err != nil {
		m.recordAttempt("connection_failed", providerCode, false)
		return nil, err
	}

	session, err := m.client.CreateConnectionSession(ctx, saltedge.ConnectSessionRequest{
		CustomerID:   customer.CustomerID,
		ProviderCode: providerCode,
		Consent:      consentScopes,
		Attempt: saltedge.Attempt{
			ReturnTo:                m.session.CallbackURL,
			Locale:                  m.session.Locale,
			ShowConsentConfirmation: true,
			CredentialsStrategy:     "store",
		},
		Widget: &saltedge.Widget{
			Template:                "default_v3",
			Theme:                   "light",
			JavaScriptCallbackType:  "post_message",
			ShowConsentConfirmation: saltedge.Bool(true),
			DisableProviderSearch:   saltedge.Bool(false),
			PopularProvidersCountry: m.session.Country,
		},
	})
	if err != nil {
		m.recordAttempt("connection_failed", providerCode, false)
		return nil, err
	}

	status := m.recordAttempt("connection_attempt", providerCode, true)

	provider := providerCode
	if provider == "" {
		provider = "auto-selection"
	}
	m.logs.Record(ctx, synclog.AppendParams{
		UserID:  u.ID,
		Action:  "connection_initiated",
		Status:  synclog.StatusPending,
		Message: "Session de connexion créée (" + provider + ")",
	})

	log.Info().Int64("user_id", u.ID).Str("provider", provider).Msg("consent session created")

	return &ConnectResult{
		ConnectURL: session.ConnectURL,
		ExpiresAt:  session.ExpiresAt,
		CustomerID: customer.CustomerID,
		TestStatus: status,
	}, nil
}

// ensureCustomer reuses the stored customer record, creating the remote
// customer only the first time.
func (m *Manager) ensureCustomer(ctx context.Context, u *user.User) (*connection.Customer, error) {
	existing, err := m.customers.GetByUserID(ctx, u.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, connection.ErrCustomerNotFound) {
		return nil, err
	}

	identifier := CustomerPrefix + u.Email
	remote, err := m.client.CreateCustomer(ctx, identifier)
	if err != nil {
		return nil, err
	}

	return m.customers.GetOrCreate(ctx, connection.CustomerParams{
		UserID:     u.ID,
		CustomerID: remote.ID,
		Identifier: remote.Identifier,
	})
}

func (m *Manager) recordAttempt(action, provider string, success bool) saltedge.QuotaStatus {
	if m.quota == nil {
		return saltedge.QuotaStatus{}
	}
	return m.quota.Record(action, provider, success)
}

// HandleWebhook reacts to a stage notification. Success hands the connection
// to the sync queue; error writes a failed sync log without syncing. The
// returned error is for logging only: the aggregator always gets a 200.
func (m *Manager) HandleWebhook(ctx context.Context, hook Webhook) error {
	logger := log.With().Str("connection_id", hook.ConnectionID).Str("stage", hook.Stage).Str("api_stage", hook.APIStage).Logger()

	if hook.ConnectionID == "" {
		logger.Warn().Msg("webhook without connection id ignored")
		return nil
	}

	switch hook.Stage {
	case "success":
		logger.Info().Msg("connection established, queueing sync")
		if m.dispatcher == nil {
			return m.CompleteConnection(ctx, hook.ConnectionID, "webhook")
		}
		return m.dispatcher.DispatchSync(ctx, hook.ConnectionID, "webhook")

	case "error":
		logger.Warn().Str("error_message", hook.ErrorMessage).Msg("connection failed")
		return m.recordWebhookError(ctx, hook)

	case "fetching", "interactive":
		logger.Info().Msg("connection in progress")
		return nil

	default:
		logger.Info().Msg("unhandled webhook stage")
		return nil
	}
}

func (m *Manager) recordWebhookError(ctx context.Context, hook Webhook) error {
	userID, err := m.ownerOf(ctx, hook.ConnectionID, hook.CustomerID)
	if err != nil {
		return fmt.Errorf("cannot attribute webhook error for connection %s: %w", hook.ConnectionID, err)
	}

	msg := hook.ErrorMessage
	if msg == "" {
		msg = connection.MessageConnectFailed
	}

	_, err = m.logs.Append(ctx, synclog.AppendParams{
		UserID:       userID,
		ConnectionID: hook.ConnectionID,
		Action:       "webhook_error",
		Status:       synclog.StatusError,
		Message:      msg,
	})
	return err
}

func (m *Manager) ownerOf(ctx context.Context, connectionID, customerID string) (int64, error) {
	return lookupOwner(ctx, m.connections, m.customers, connectionID, customerID)
}

// CompleteConnection is the body of a sync job. It records the live status of
// the connection and syncs it when active. Anything else is logged as still
// pending rather than as a failure.
func (m *Manager) CompleteConnection(ctx context.Context, connectionID, trigger string) error {
	start := m.engine.now()
	remote, err := m.client.GetConnection(ctx, connectionID)
	if err != nil {
		err = fmt.Errorf("failed to load connection %s: %w", connectionID, err)
		m.engine.recordAbort(ctx, connectionID, "", trigger, start, err)
		return err
	}

	status := connection.Status(remote.Status)
	if !status.Usable() {
		owner, err := m.engine.resolveOwner(ctx, remote.CustomerID)
		if err != nil {
			m.engine.recordAbort(ctx, connectionID, remote.CustomerID, trigger, start, err)
			return err
		}
		if _, err := m.engine.recordConnection(ctx, owner, remote); err != nil {
			return fmt.Errorf("failed to record connection %s: %w", connectionID, err)
		}
		m.logs.Record(ctx, synclog.AppendParams{
			UserID:       owner.UserID,
			ConnectionID: connectionID,
			Action:       trigger + "_pending",
			Status:       synclog.StatusPending,
			Message:      fmt.Sprintf("Connexion en attente (statut %s)", remote.Status),
		})
		log.Info().Str("connection_id", connectionID).Str("status", remote.Status).Msg("connection not active yet, sync skipped")
		return nil
	}

	result, err := m.engine.SyncConnection(ctx, remote, trigger)
	if err != nil {
		return err
	}

	m.notify(ctx, result)
	return nil
}

func (m *Manager) notify(ctx context.Context, result *SyncResult) {
	if m.notifier == nil {
		return
	}

	var err error
	if result.OK() || len(result.Accounts) > 0 || len(result.Transactions) > 0 {
		err = m.notifier.NotifySyncComplete(ctx, result.UserID, result.ConnectionID, len(result.Accounts), len(result.Transactions))
	} else {
		err = m.notifier.NotifySyncFailed(ctx, result.UserID, result.ConnectionID)
	}
	if err != nil {
		log.Warn().Err(err).Int64("user_id", result.UserID).Msg("sync notification not delivered")
	}
}

// AbandonSync records that the background sync of a connection gave up after
// its last attempt and tells the owner.
func (m *Manager) AbandonSync(ctx context.Context, connectionID, trigger string, cause error) {
	userID, err := m.ownerOf(ctx, connectionID, "")
	if err != nil {
		log.Warn().Err(err).AnErr("cause", cause).Str("connection_id", connectionID).Msg("abandoned sync not recorded: owner unknown")
		return
	}

	m.logs.Record(ctx, synclog.AppendParams{
		UserID:       userID,
		ConnectionID: connectionID,
		Action:       trigger + "_abandoned",
		Status:       synclog.StatusError,
		Message:      MessageSyncAborted,
		Errors:       []string{cause.Error()},
	})

	if m.notifier == nil {
		return
	}
	if err := m.notifier.NotifySyncFailed(ctx, userID, connectionID); err != nil {
		log.Warn().Err(err).Int64("user_id", userID).Msg("sync notification not delivered")
	}
}

// ResolveCallback maps the consent redirect onto a dashboard banner.
func (m *Manager) ResolveCallback(ctx context.Context, params connection.CallbackParams) connection.CallbackOutcome {
	outcome := connection.ResolveCallback(ctx, params, func(ctx context.Context, id string) (connection.Status, error) {
		remote, err := m.client.GetConnection(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("connection_id", id).Msg("callback status check failed")
			return "", err
		}
		return connection.Status(remote.Status), nil
	})

	log.Info().
		Str("connection_id", params.ConnectionID).
		Str("stage", params.Stage).
		Str("outcome", string(outcome.Status)).
		Msg("consent callback resolved")

	return outcome
}

// ReopenSession re-opens a hosted session on an existing connection. Refresh
// reuses stored credentials silently; reconnect asks for consent again.
func (m *Manager) ReopenSession(ctx context.Context, email, connectionID, kind string) (*ReopenResult, error) {
	if connectionID == "" {
		return nil, ErrConnectionRequired
	}
	if kind != SessionRefresh && kind != SessionReconnect {
		return nil, ErrInvalidSessionKind
	}
	userID, err := m.authorize(ctx, email, connectionID)
	if err != nil {
		return nil, err
	}

	opts := saltedge.SessionOptions{
		Attempt: saltedge.Attempt{
			ReturnTo: m.session.CallbackURL,
			Locale:   m.session.Locale,
		},
		Widget: &saltedge.Widget{Theme: "light", JavaScriptCallbackType: "post_message"},
	}

	var session *saltedge.ConnectSession
	if kind == SessionRefresh {
		opts.Attempt.ShowConsentConfirmation = false
		session, err = m.client.RefreshConnection(ctx, connectionID, opts)
	} else {
		opts.Attempt.ShowConsentConfirmation = true
		opts.Attempt.CredentialsStrategy = "store"
		session, err = m.client.ReconnectConnection(ctx, connectionID, opts)
	}
	if err != nil {
		return nil, err
	}

	m.logs.Record(ctx, synclog.AppendParams{
		UserID:       userID,
		ConnectionID: connectionID,
		Action:       kind + "_initiated",
		Status:       synclog.StatusPending,
		Message:      connection.MessageInProgress,
	})

	return &ReopenResult{ConnectURL: session.ConnectURL, ExpiresAt: session.ExpiresAt, Type: kind}, nil
}

// LiveData reads accounts and transactions straight from the aggregator.
// A failed section is reported in its *_error field instead of failing the call.
func (m *Manager) LiveData(ctx context.Context, email, connectionID, dataType string) (*LiveData, error) {
	if connectionID == "" {
		return nil, ErrConnectionRequired
	}
	if dataType == "" {
		dataType = DataAll
	}
	if _, err := m.authorize(ctx, email, connectionID); err != nil {
		return nil, err
	}

	remote, err := m.client.GetConnection(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if status := connection.Status(remote.Status); !status.Usable() {
		return nil, &InactiveConnectionError{Status: status}
	}

	data := &LiveData{
		Connection: LiveConnection{
			ID:            remote.ID,
			ProviderName:  remote.ProviderName,
			Status:        remote.Status,
			LastSuccessAt: remote.LastSuccessAt,
			CreatedAt:     remote.CreatedAt,
		},
	}

	if dataType == DataAccounts || dataType == DataAll {
		accounts, err := m.client.GetAccounts(ctx, connectionID)
		if err != nil {
			log.Warn().Err(err).Str("connection_id", connectionID).Msg("live accounts unavailable")
			data.AccountsError = "Impossible de récupérer les comptes"
		} else {
			data.Accounts = make([]saltedge.DisplayAccount, len(accounts))
			for i, a := range accounts {
				data.Accounts[i] = saltedge.FormatAccount(a)
			}
		}
	}

	if dataType == DataTransactions || dataType == DataAll {
		txs, err := m.client.GetConnectionTransactions(ctx, connectionID)
		if err != nil {
			log.Warn().Err(err).Str("connection_id", connectionID).Msg("live transactions unavailable")
			data.TransactionsError = "Impossible de récupérer les transactions"
		} else {
			shown := txs
			if len(shown) > LiveTransactionLimit {
				shown = shown[:LiveTransactionLimit]
			}
			data.Transactions = make([]saltedge.DisplayTransaction, len(shown))
			for i, t := range shown {
				data.Transactions[i] = saltedge.FormatTransaction(t)
			}
			summary := &TransactionsSummary{TotalCount: len(txs), DisplayedCount: len(shown)}
			if len(txs) > 0 {
				from, to := txs[len(txs)-1].MadeOn, txs[0].MadeOn
				summary.DateRange = DateRange{From: &from, To: &to}
			}
			data.TransactionsSummary = summary
		}
	}

	return data, nil
}

// Disconnect deletes the remote connection, treating "already gone" as
// success, then removes the local connection with its accounts and transactions.
func (m *Manager) Disconnect(ctx context.Context, email, connectionID string) error {
	if connectionID == "" {
		return ErrConnectionRequired
	}
	userID, err := m.authorize(ctx, email, connectionID)
	if err != nil {
		return err
	}

	if _, err := m.client.DeleteConnection(ctx, connectionID); err != nil {
		if !saltedge.IsCode(err, saltedge.CodeConnectionNotFound, saltedge.CodeNotFound) {
			return err
		}
		log.Info().Str("connection_id", connectionID).Msg("remote connection already removed")
	}

	if err := m.connections.Delete(ctx, connectionID); err != nil && !errors.Is(err, connection.ErrConnectionNotFound) {
		return fmt.Errorf("failed to delete local connection %s: %w", connectionID, err)
	}

	m.logs.Record(ctx, synclog.AppendParams{
		UserID:       userID,
		ConnectionID: connectionID,
		Action:       "disconnect",
		Status:       synclog.StatusSuccess,
		Message:      "Connexion bancaire supprimée",
	})

	log.Info().Int64("user_id", userID).Str("connection_id", connectionID).Msg("connection removed")
	return nil
}

// authorize checks that the connection belongs to the user and returns the
// user's id. The stored record is authoritative; connections not stored yet
// are checked against the user's aggregator customer.
func (m *Manager) authorize(ctx context.Context, email, connectionID string) (int64, error) {
	u, err := m.users.GetByEmail(ctx, email)
	if errors.Is(err, user.ErrUserNotFound) {
		return 0, connection.ErrForbidden
	}
	if err != nil {
		return 0, err
	}

	stored, err := m.connections.GetByID(ctx, connectionID)
	if err == nil {
		if stored.UserID != u.ID {
			return 0, connection.ErrForbidden
		}
		return u.ID, nil
	}
	if !errors.Is(err, connection.ErrConnectionNotFound) {
		return 0, err
	}

	customer, err := m.customers.GetByUserID(ctx, u.ID)
	if errors.Is(err, connection.ErrCustomerNotFound) {
		return 0, connection.ErrForbidden
	}
	if err != nil {
		return 0, err
	}

	remote, err := m.client.GetConnection(ctx, connectionID)
	if err != nil {
		return 0, err
	}
	if remote.CustomerID != customer.CustomerID {
		return 0, connection.ErrForbidden
	}
	return u.ID, nil
}
