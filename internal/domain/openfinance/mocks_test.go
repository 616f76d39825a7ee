package openfinance

import (
	"context"
	"sort"
	"sync"
	"time"

	"finsight/internal/domain/account"
	"finsight/internal/domain/connection"
	"finsight/internal/domain/synclog"
	"finsight/internal/domain/transaction"
	"finsight/internal/domain/user"
	"finsight/internal/infrastructure/saltedge"
)

// MockClient implements saltedge.ClientInterface
type MockClient struct {
	GetCountriesFunc              func(ctx context.Context) ([]saltedge.Country, error)
	GetProvidersFunc              func(ctx context.Context, countryCode string) ([]saltedge.Provider, error)
	GetFrenchBanksFunc            func(ctx context.Context) ([]saltedge.Provider, error)
	CreateCustomerFunc            func(ctx context.Context, identifier string) (*saltedge.Customer, error)
	GetCustomerFunc               func(ctx context.Context, customerID string) (*saltedge.Customer, error)
	CreateConnectionSessionFunc   func(ctx context.Context, req saltedge.ConnectSessionRequest) (*saltedge.ConnectSession, error)
	GetConnectionFunc             func(ctx context.Context, connectionID string) (*saltedge.Connection, error)
	GetCustomerConnectionsFunc    func(ctx context.Context, customerID string) ([]saltedge.Connection, error)
	RefreshConnectionFunc         func(ctx context.Context, connectionID string, opts saltedge.SessionOptions) (*saltedge.ConnectSession, error)
	ReconnectConnectionFunc       func(ctx context.Context, connectionID string, opts saltedge.SessionOptions) (*saltedge.ConnectSession, error)
	DeleteConnectionFunc          func(ctx context.Context, connectionID string) (*saltedge.RemovedConnection, error)
	GetAccountsFunc               func(ctx context.Context, connectionID string) ([]saltedge.Account, error)
	GetAccountFunc                func(ctx context.Context, accountID string) (*saltedge.Account, error)
	GetTransactionsFunc           func(ctx context.Context, accountID string, filters saltedge.TransactionFilters) ([]saltedge.Transaction, error)
	GetConnectionTransactionsFunc func(ctx context.Context, connectionID string) ([]saltedge.Transaction, error)
}

func (m *MockClient) GetCountries(ctx context.Context) ([]saltedge.Country, error) {
	if m.GetCountriesFunc != nil {
		return m.GetCountriesFunc(ctx)
	}
	return nil, nil
}

func (m *MockClient) GetProviders(ctx context.Context, countryCode string) ([]saltedge.Provider, error) {
	if m.GetProvidersFunc != nil {
		return m.GetProvidersFunc(ctx, countryCode)
	}
	return nil, nil
}

func (m *MockClient) GetFrenchBanks(ctx context.Context) ([]saltedge.Provider, error) {
	if m.GetFrenchBanksFunc != nil {
		return m.GetFrenchBanksFunc(ctx)
	}
	return nil, nil
}

func (m *MockClient) CreateCustomer(ctx context.Context, identifier string) (*saltedge.Customer, error) {
	if m.CreateCustomerFunc != nil {
		return m.CreateCustomerFunc(ctx, identifier)
	}
	return &saltedge.Customer{ID: "cust-1", Identifier: identifier}, nil
}

func (m *MockClient) GetCustomer(ctx context.Context, customerID string) (*saltedge.Customer, error) {
	if m.GetCustomerFunc != nil {
		return m.GetCustomerFunc(ctx, customerID)
	}
	return nil, nil
}

func (m *MockClient) CreateConnectionSession(ctx context.Context, req saltedge.ConnectSessionRequest) (*saltedge.ConnectSession, error) {
	if m.CreateConnectionSessionFunc != nil {
		return m.CreateConnectionSessionFunc(ctx, req)
	}
	return &saltedge.ConnectSession{ConnectURL: "https://widget.example/connect"}, nil
}

func (m *MockClient) GetConnection(ctx context.Context, connectionID string) (*saltedge.Connection, error) {
	if m.GetConnectionFunc != nil {
		return m.GetConnectionFunc(ctx, connectionID)
	}
	return nil, nil
}

func (m *MockClient) GetCustomerConnections(ctx context.Context, customerID string) ([]saltedge.Connection, error) {
	if m.GetCustomerConnectionsFunc != nil {
		return m.GetCustomerConnectionsFunc(ctx, customerID)
	}
	return nil, nil
}

func (m *MockClient) RefreshConnection(ctx context.Context, connectionID string, opts saltedge.SessionOptions) (*saltedge.ConnectSession, error) {
	if m.RefreshConnectionFunc != nil {
		return m.RefreshConnectionFunc(ctx, connectionID, opts)
	}
	return &saltedge.ConnectSession{}, nil
}

func (m *MockClient) ReconnectConnection(ctx context.Context, connectionID string, opts saltedge.SessionOptions) (*saltedge.ConnectSession, error) {
	if m.ReconnectConnectionFunc != nil {
		return m.ReconnectConnectionFunc(ctx, connectionID, opts)
	}
	return &saltedge.ConnectSession{}, nil
}

func (m *MockClient) DeleteConnection(ctx context.Context, connectionID string) (*saltedge.RemovedConnection, error) {
	if m.DeleteConnectionFunc != nil {
		return m.DeleteConnectionFunc(ctx, connectionID)
	}
	return &saltedge.RemovedConnection{ID: connectionID, Removed: true}, nil
}

func (m *MockClient) GetAccounts(ctx context.Context, connectionID string) ([]saltedge.Account, error) {
	if m.GetAccountsFunc != nil {
		return m.GetAccountsFunc(ctx, connectionID)
	}
	return nil, nil
}

func (m *MockClient) GetAccount(ctx context.Context, accountID string) (*saltedge.Account, error) {
	if m.GetAccountFunc != nil {
		return m.GetAccountFunc(ctx, accountID)
	}
	return nil, nil
}

func (m *MockClient) GetTransactions(ctx context.Context, accountID string, filters saltedge.TransactionFilters) ([]saltedge.Transaction, error) {
	if m.GetTransactionsFunc != nil {
		return m.GetTransactionsFunc(ctx, accountID, filters)
	}
	return nil, nil
}

func (m *MockClient) GetConnectionTransactions(ctx context.Context, connectionID string) ([]saltedge.Transaction, error) {
	if m.GetConnectionTransactionsFunc != nil {
		return m.GetConnectionTransactionsFunc(ctx, connectionID)
	}
	return nil, nil
}

// memUsers is an in-memory user.Repository
type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]*user.User
	nextID  int64
}

func newMemUsers() *memUsers {
	return &memUsers{byEmail: make(map[string]*user.User)}
}

func (r *memUsers) GetOrCreate(ctx context.Context, params user.CreateUserParams) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byEmail[params.Email]; ok {
		return u, nil
	}
	r.nextID++
	u := &user.User{ID: r.nextID, Email: params.Email, Name: params.Name}
	r.byEmail[params.Email] = u
	return u, nil
}

func (r *memUsers) GetByID(ctx context.Context, id int64) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, user.ErrUserNotFound
}

func (r *memUsers) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byEmail[email]; ok {
		return u, nil
	}
	return nil, user.ErrUserNotFound
}

func (r *memUsers) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for email, u := range r.byEmail {
		if u.ID == id {
			delete(r.byEmail, email)
		}
	}
	return nil
}

// memCustomers is an in-memory connection.CustomerRepository
type memCustomers struct {
	mu   sync.Mutex
	rows []*connection.Customer
}

func (r *memCustomers) GetOrCreate(ctx context.Context, params connection.CustomerParams) (*connection.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.rows {
		if c.UserID == params.UserID {
			return c, nil
		}
	}
	c := &connection.Customer{ID: int64(len(r.rows) + 1), UserID: params.UserID, CustomerID: params.CustomerID, Identifier: params.Identifier}
	r.rows = append(r.rows, c)
	return c, nil
}

func (r *memCustomers) GetByUserID(ctx context.Context, userID int64) (*connection.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.rows {
		if c.UserID == userID {
			return c, nil
		}
	}
	return nil, connection.ErrCustomerNotFound
}

func (r *memCustomers) GetByCustomerID(ctx context.Context, customerID string) (*connection.Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.rows {
		if c.CustomerID == customerID {
			return c, nil
		}
	}
	return nil, connection.ErrCustomerNotFound
}

// memConnections is an in-memory connection.Repository
type memConnections struct {
	mu       sync.Mutex
	rows     map[string]*connection.Connection
	synced   []string
	deleted  []string
	upsertFn func(params connection.UpsertParams) error
}

func newMemConnections() *memConnections {
	return &memConnections{rows: make(map[string]*connection.Connection)}
}

func (r *memConnections) Upsert(ctx context.Context, params connection.UpsertParams) (*connection.Connection, error) {
	if r.upsertFn != nil {
		if err := r.upsertFn(params); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[params.ID]
	if !ok {
		c = &connection.Connection{ID: params.ID}
		r.rows[params.ID] = c
	}
	c.UserID = params.UserID
	c.CustomerID = params.CustomerID
	c.ProviderCode = params.ProviderCode
	c.ProviderName = params.ProviderName
	c.Status = params.Status
	c.LastSuccessAt = params.LastSuccessAt
	return c, nil
}

func (r *memConnections) GetByID(ctx context.Context, id string) (*connection.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.rows[id]; ok {
		return c, nil
	}
	return nil, connection.ErrConnectionNotFound
}

func (r *memConnections) ListByUserID(ctx context.Context, userID int64) ([]*connection.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*connection.Connection
	for _, c := range r.rows {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *memConnections) MarkSynced(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced = append(r.synced, id)
	if c, ok := r.rows[id]; ok {
		c.LastSyncAt = &at
		c.Status = connection.StatusActive
	}
	return nil
}

func (r *memConnections) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
	if _, ok := r.rows[id]; !ok {
		return connection.ErrConnectionNotFound
	}
	delete(r.rows, id)
	return nil
}

// memAccounts is an in-memory account.Repository keyed by aggregator id
type memAccounts struct {
	mu       sync.Mutex
	rows     map[string]*account.Account
	upsertFn func(params account.UpsertParams) error
}

func newMemAccounts() *memAccounts {
	return &memAccounts{rows: make(map[string]*account.Account)}
}

func (r *memAccounts) Upsert(ctx context.Context, params account.UpsertParams) (*account.Account, error) {
	if r.upsertFn != nil {
		if err := r.upsertFn(params); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a := &account.Account{
		ID:            params.ID,
		UserID:        params.UserID,
		ConnectionID:  params.ConnectionID,
		Name:          params.Name,
		Nature:        params.Nature,
		Balance:       params.Balance,
		Currency:      params.Currency,
		IBAN:          params.IBAN,
		AccountNumber: params.AccountNumber,
	}
	r.rows[params.ID] = a
	return a, nil
}

func (r *memAccounts) GetByID(ctx context.Context, id string) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.rows[id]; ok {
		return a, nil
	}
	return nil, account.ErrAccountNotFound
}

func (r *memAccounts) ListByUserID(ctx context.Context, userID int64) ([]*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*account.Account
	for _, a := range r.rows {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memAccounts) ListByConnectionID(ctx context.Context, connectionID string) ([]*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*account.Account
	for _, a := range r.rows {
		if a.ConnectionID == connectionID {
			out = append(out, a)
		}
	}
	return out, nil
}

// memTransactions is an in-memory transaction.Repository keyed by aggregator id
type memTransactions struct {
	mu   sync.Mutex
	rows map[string]*transaction.Transaction
}

func newMemTransactions() *memTransactions {
	return &memTransactions{rows: make(map[string]*transaction.Transaction)}
}

func (r *memTransactions) Upsert(ctx context.Context, params transaction.UpsertParams) (*transaction.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &transaction.Transaction{
		ID:              params.ID,
		AccountID:       params.AccountID,
		Amount:          params.Amount,
		Currency:        params.Currency,
		MadeOn:          params.MadeOn,
		Description:     params.Description,
		Category:        params.Category,
		Status:          params.Status,
		Duplicated:      params.Duplicated,
		BalanceSnapshot: params.BalanceSnapshot,
		PostingDate:     params.PostingDate,
		MerchantID:      params.MerchantID,
	}
	r.rows[params.ID] = t
	return t, nil
}

func (r *memTransactions) GetByID(ctx context.Context, id string) (*transaction.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.rows[id]; ok {
		return t, nil
	}
	return nil, transaction.ErrTransactionNotFound
}

func (r *memTransactions) ListByUserID(ctx context.Context, userID int64, limit int) ([]*transaction.WithAccount, error) {
	return nil, nil
}

func (r *memTransactions) ListByAccountID(ctx context.Context, accountID string, limit int) ([]*transaction.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*transaction.Transaction
	for _, t := range r.rows {
		if t.AccountID == accountID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MadeOn.After(out[j].MadeOn) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memLogs is an in-memory synclog.Repository
type memLogs struct {
	mu      sync.Mutex
	entries []*synclog.Entry
}

func (r *memLogs) Append(ctx context.Context, entry *synclog.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memLogs) ListByUserID(ctx context.Context, userID int64, limit int) ([]*synclog.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*synclog.Entry
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memLogs) last() *synclog.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	return r.entries[len(r.entries)-1]
}

func (r *memLogs) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type sentNotification struct {
	kind         string
	userID       int64
	connectionID string
	accounts     int
	transactions int
}

// mockNotifier records sync notifications
type mockNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *mockNotifier) NotifySyncComplete(ctx context.Context, userID int64, connectionID string, accounts, transactions int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{"complete", userID, connectionID, accounts, transactions})
	return nil
}

func (n *mockNotifier) NotifySyncFailed(ctx context.Context, userID int64, connectionID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{kind: "failed", userID: userID, connectionID: connectionID})
	return nil
}

// mockDispatcher records queued syncs
type mockDispatcher struct {
	DispatchSyncFunc func(ctx context.Context, connectionID, trigger string) error
}

func (d *mockDispatcher) DispatchSync(ctx context.Context, connectionID, trigger string) error {
	if d.DispatchSyncFunc != nil {
		return d.DispatchSyncFunc(ctx, connectionID, trigger)
	}
	return nil
}

// fixture wires a Manager and SyncEngine over in-memory repositories
type fixture struct {
	client       *MockClient
	users        *memUsers
	customers    *memCustomers
	connections  *memConnections
	accounts     *memAccounts
	transactions *memTransactions
	logs         *memLogs
	notifier     *mockNotifier
	quota        *saltedge.SandboxQuota
	engine       *SyncEngine
	manager      *Manager
}

func newFixture() *fixture {
	f := &fixture{
		client:       &MockClient{},
		users:        newMemUsers(),
		customers:    &memCustomers{},
		connections:  newMemConnections(),
		accounts:     newMemAccounts(),
		transactions: newMemTransactions(),
		logs:         &memLogs{},
		notifier:     &mockNotifier{},
		quota:        saltedge.NewSandboxQuota(),
	}

	logs := synclog.NewService(f.logs)
	f.engine = NewSyncEngine(
		f.client,
		f.customers,
		f.connections,
		account.NewService(f.accounts),
		transaction.NewService(f.transactions),
		logs,
	)
	f.manager = NewManager(
		f.client,
		user.NewService(f.users),
		f.customers,
		f.connections,
		f.engine,
		logs,
		f.notifier,
		f.quota,
		SessionConfig{CallbackURL: "https://finsight.app/api/saltedge/callback", Locale: "fr", Country: "FR"},
	)
	return f
}

// seedUser creates a user with an aggregator customer record.
func (f *fixture) seedUser(email, customerID string) *user.User {
	u, _ := f.users.GetOrCreate(context.Background(), user.CreateUserParams{Email: email})
	_, _ = f.customers.GetOrCreate(context.Background(), connection.CustomerParams{
		UserID:     u.ID,
		CustomerID: customerID,
		Identifier: CustomerPrefix + email,
	})
	return u
}
