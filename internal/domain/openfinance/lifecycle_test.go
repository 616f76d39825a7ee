package openfinance

import (
	"context"
	"errors"
	"testing"
	"time"

	"finsight/internal/domain/connection"
	"finsight/internal/domain/synclog"
	"finsight/internal/infrastructure/saltedge"
)

func TestManager_Connect_CreatesCustomerOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	creates := 0
	f.client.CreateCustomerFunc = func(ctx context.Context, identifier string) (*saltedge.Customer, error) {
		creates++
		return &saltedge.Customer{ID: "cust-1", Identifier: identifier}, nil
	}
	var req saltedge.ConnectSessionRequest
	f.client.CreateConnectionSessionFunc = func(ctx context.Context, r saltedge.ConnectSessionRequest) (*saltedge.ConnectSession, error) {
		req = r
		return &saltedge.ConnectSession{ConnectURL: "https://widget/connect", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}

	first, err := f.manager.Connect(ctx, "Alice@Example.com", "Alice", "bnp_paribas_fr")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, err := f.manager.Connect(ctx, "alice@example.com", "Alice", ""); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}

	if creates != 1 {
		t.Errorf("CreateCustomer called %d times, want 1", creates)
	}
	if first.CustomerID != "cust-1" {
		t.Errorf("CustomerID = %q, want cust-1", first.CustomerID)
	}
	if first.TestStatus.UsedTests != 1 {
		t.Errorf("UsedTests = %d, want 1", first.TestStatus.UsedTests)
	}

	if req.CustomerID != "cust-1" {
		t.Errorf("session customer = %q", req.CustomerID)
	}
	if len(req.Consent) != 3 || req.Consent[2] != "holder_info" {
		t.Errorf("Consent = %v", req.Consent)
	}
	if req.Attempt.ReturnTo != "https://finsight.app/api/saltedge/callback" || req.Attempt.Locale != "fr" {
		t.Errorf("Attempt = %+v", req.Attempt)
	}
	if !req.Attempt.ShowConsentConfirmation || req.Attempt.CredentialsStrategy != "store" {
		t.Errorf("Attempt = %+v", req.Attempt)
	}
	if req.Widget == nil || req.Widget.Template != "default_v3" || req.Widget.PopularProvidersCountry != "FR" {
		t.Errorf("Widget = %+v", req.Widget)
	}

	entry := f.logs.last()
	if entry.Action != "connection_initiated" || entry.Status != synclog.StatusPending {
		t.Errorf("log = %s/%s, want connection_initiated/pending", entry.Action, entry.Status)
	}
}

func TestManager_Connect_SessionFailureRecordsQuota(t *testing.T) {
	f := newFixture()
	f.client.CreateConnectionSessionFunc = func(ctx context.Context, r saltedge.ConnectSessionRequest) (*saltedge.ConnectSession, error) {
		return nil, &saltedge.APIError{Code: saltedge.CodeProviderDisabled, Message: "disabled"}
	}

	_, err := f.manager.Connect(context.Background(), "bob@example.com", "", "closed_bank")
	if !saltedge.IsCode(err, saltedge.CodeProviderDisabled) {
		t.Fatalf("Connect() error = %v, want PROVIDER_DISABLED", err)
	}

	status := f.quota.Status()
	if status.UsedTests != 1 || status.TestHistory[0].Action != "connection_failed" || status.TestHistory[0].Success {
		t.Errorf("quota = %+v, want one failed attempt", status)
	}
}

func TestManager_Connect_InvalidEmail(t *testing.T) {
	f := newFixture()
	if _, err := f.manager.Connect(context.Background(), "nobody", "", ""); err == nil {
		t.Error("Connect() expected error for invalid email")
	}
}

func TestManager_HandleWebhook_SuccessDispatches(t *testing.T) {
	f := newFixture()
	var gotID, gotTrigger string
	f.manager.SetDispatcher(&mockDispatcher{
		DispatchSyncFunc: func(ctx context.Context, connectionID, trigger string) error {
			gotID, gotTrigger = connectionID, trigger
			return nil
		},
	})
	f.client.GetConnectionFunc = func(ctx context.Context, connectionID string) (*saltedge.Connection, error) {
		t.Fatal("the webhook path must not fetch the connection when a dispatcher is set")
		return nil, nil
	}

	if err := f.manager.HandleWebhook(context.Background(), Webhook{ConnectionID: "C1", Stage: "success"}); err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}
	if gotID != "C1" || gotTrigger != "webhook" {
		t.Errorf("DispatchSync(%q, %q), want (C1, webhook)", gotID, gotTrigger)
	}
}

func TestManager_HandleWebhook_ErrorStageLogsWithoutSync(t *testing.T) {
	f := newFixture()
	u := f.seedUser("alice@example.com", "cust-1")
	f.manager.SetDispatcher(&mockDispatcher{
		DispatchSyncFunc: func(ctx context.Context, connectionID, trigger string) error {
			t.Fatal("error stage must not queue a sync")
			return nil
		},
	})

	err := f.manager.HandleWebhook(context.Background(), Webhook{
		ConnectionID: "C1",
		CustomerID:   "cust-1",
		Stage:        "error",
		ErrorMessage: "InvalidCredentials",
	})
	if err != nil {
		t.Fatalf("HandleWebhook() error = %v", err)
	}

	entry := f.logs.last()
	if entry == nil {
		t.Fatal("no sync log written")
	}
	if entry.UserID != u.ID || entry.Status != synclog.StatusError || entry.Message != "InvalidCredentials" {
		t.Errorf("log = %+v", entry)
	}
}

func TestManager_HandleWebhook_ErrorStageUnknownOwner(t *testing.T) {
	f := newFixture()

	err := f.manager.HandleWebhook(context.Background(), Webhook{ConnectionID: "C1", Stage: "error"})
	if err == nil {
		t.Error("HandleWebhook() expected error when the owner cannot be resolved")
	}
	if f.logs.count() != 0 {
		t.Errorf("wrote %d logs, want none", f.logs.count())
	}
}

func TestManager_HandleWebhook_IntermediateStages(t *testing.T) {
	f := newFixture()
	f.manager.SetDispatcher(&mockDispatcher{
		DispatchSyncFunc: func(ctx context.Context, connectionID, trigger string) error {
			t.Fatal("intermediate stages must not queue a sync")
			return nil
		},
	})

	for _, stage := range []string{"fetching", "interactive", "start"} {
		if err := f.manager.HandleWebhook(context.Background(), Webhook{ConnectionID: "C1", Stage: stage}); err != nil {
			t.Errorf("HandleWebhook(%s) error = %v", stage, err)
		}
	}
}

func TestManager_CompleteConnection_NotActive(t *testing.T) {
	f := newFixture()
	f.seedUser("alice@example.com", "cust-1")
	f.client.GetConnectionFunc = func(ctx context.Context, connectionID string) (*saltedge.Connection, error) {
		c := activeConnection(connectionID, "cust-1")
		c.Status = "processing"
		return c, nil
	}
	f.client.GetAccountsFunc = func(ctx context.Context, connectionID string) ([]saltedge.Account, error) {
		t.Fatal("inactive connections must not be synced")
		return nil, nil
	}

	if err := f.manager.CompleteConnection(context.Background(), "C1", "webhook"); err != nil {
		t.Fatalf("CompleteConnection() error = %v", err)
	}

	stored, err := f.connections.GetByID(context.Background(), "C1")
	if err != nil {
		t.Fatalf("connection not recorded: %v", err)
	}
	if stored.Status != connection.Status("processing") {
		t.Errorf("Status = %q, want verbatim %q", stored.Status, "processing")
	}
	if entry := f.logs.last(); entry.Status != synclog.StatusPending {
		t.Errorf("log status = %q, want pending", entry.Status)
	}
	if len(f.notifier.sent) != 0 {
		t.Errorf("sent %d notifications, want none", len(f.notifier.sent))
	}
}

func TestManager_CompleteConnection_NotifiesAfterSync(t *testing.T) {
	f := newFixture()
	u := f.seedUser("alice@example.com", "cust-1")
	f.client.GetConnectionFunc = func(ctx context.Context, connectionID string) (*saltedge.Connection, error) {
		return activeConnection(connectionID, "cust-1"), nil
	}
	f.client.GetAccountsFunc = func(ctx context.Context, connectionID string) ([]saltedge.Account, error) {
		return []saltedge.Account{remoteAccount("acc-1", "Compte", "1")}, nil
	}

	if err := f.manager.CompleteConnection(context.Background(), "C1", "resync"); err != nil {
		t.Fatalf("CompleteConnection() error = %v", err)
	}

	if len(f.notifier.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(f.notifier.sent))
	}
	got := f.notifier.sent[0]
	if got.kind != "complete" || got.userID != u.ID || got.accounts != 1 {
		t.Errorf("notification = %+v", got)
	}
	if entry := f.logs.last(); entry.Action != "resync_success" {
		t.Errorf("log action = %q, want resync_success", entry.Action)
	}
}

func TestManager_CompleteConnection_TotalFailureNotifiesFailure(t *testing.T) {
	f := newFixture()
	f.seedUser("alice@example.com", "cust-1")
	f.client.GetConnectionFunc = func(ctx context.Context, connectionID string) (*saltedge.Connection, error) {
		return activeConnection(connectionID, "cust-1"), nil
	}
	f.client.GetAccountsFunc = func(ctx context.Context, connectionID string) ([]saltedge.Account, error) {
		return nil, errors.New("boom")
	}
	f.client.GetConnectionTransactionsFunc = func(ctx context.Context, connectionID string) ([]saltedge.Transaction, error) {
		return nil, errors.New("boom")
	}

	if err := f.manager.CompleteConnection(context.Background(), "C1", "webhook"); err != nil {
		t.Fatalf("CompleteConnection() error = %v", err)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].kind != "failed" {
		t.Errorf("notifications = %+v, want one failure", f.notifier.sent)
	}
}

func TestManager_CompleteConnection_LookupFailureLogsFailedEntry(t *testing.T) {
	f := newFixture()
	u := f.seedUser("alice@example.com", "cust-1")
	_, _ = f.connections.Upsert(context.Background(), connection.UpsertParams{ID: "C1", UserID: u.ID, CustomerID: "cust-1", Status: connection.StatusActive})
	f.client.GetConnectionFunc = func(ctx context.Context, connectionID string) (*saltedge.Connection, error) {
		return nil, &saltedge.APIError{Code: saltedge.CodeServerError, Retryable: true}
	}

	err := f.manager.CompleteConnection(context.Background(), "C1", "webhook")
	if !saltedge.IsCode(err, saltedge.CodeServerError) {
		t.Fatalf("CompleteConnection() error = %v, want SERVER_ERROR", err)
	}

	entry := f.logs.last()
	if entry == nil {
		t.Fatal("no sync log written")
	}
	if entry.Action != "webhook_error" || entry.Status != synclog.StatusError || entry.UserID != u.ID {
		t.Errorf("entry = %+v, want webhook_error for alice", entry)
	}
	if len(f.notifier.sent) != 0 {
		t.Errorf("sent %d notifications before the retries ran out, want none", len(f.notifier.sent))
	}
}

func TestManager_AbandonSync(t *testing.T) {
	f := newFixture()
	u := f.seedUser("alice@example.com", "cust-1")
	_, _ = f.connections.Upsert(context.Background(), connection.UpsertParams{ID: "C1", UserID: u.ID, CustomerID: "cust-1", Status: connection.StatusActive})

	f.manager.AbandonSync(context.Background(), "C1", "webhook", errors.New("saltedge [SERVER_ERROR] down"))

	entry := f.logs.last()
	if entry == nil || entry.Action != "webhook_abandoned" || entry.Status != synclog.StatusError {
		t.Fatalf("entry = %+v, want webhook_abandoned/error", entry)
	}
	if len(entry.Errors) != 1 || entry.Errors[0] != "saltedge [SERVER_ERROR] down" {
		t.Errorf("entry errors = %v", entry.Errors)
	}
	if len(f.notifier.sent) != 1 || f.notifier.sent[0].kind != "failed" || f.notifier.sent[0].userID != u.ID {
		t.Errorf("notifications = %+v, want one failure for alice", f.notifier.sent)
	}
}

func TestManager_AbandonSync_UnknownOwner(t *testing.T) {
	f := newFixture()

	f.manager.AbandonSync(context.Background(), "C404", "resync", errors.New("boom"))

	if f.logs.count() != 0 || len(f.notifier.sent) != 0 {
		t.Errorf("logs = %d, notifications = %d, want none", f.logs.count(), len(f.notifier.sent))
	}
}

func TestManager_ResolveCallback_ErrorWins(t *testing.T) {
	f := newFixture()
	f.client.GetConnectionFunc = func(ctx context.Context, connectionID string) (*saltedge.Connection, error) {
		return activeConnection(connectionID, "cust-1"), nil
	}

	out := f.manager.ResolveCallback(context.Background(), connection.CallbackParams{
		ConnectionID: "C1",
		Stage:        "success",
		ErrorMessage: "User cancelled",
	})
	if out.Status != connection.FeedbackError {
		t.Errorf("Status = %q, want error", out.Status)
	}
}

func TestManager_ResolveCallback_LookupFailureWarns(t *testing.T) {
	f := newFixture()
	f.client.GetConnectionFunc = func(ctx context.Context, connectionID string) (*saltedge.Connection, error) {
		return nil, &saltedge.APIError{Code: saltedge.CodeNetworkError}
	}

	out := f.manager.ResolveCallback(context.Background(), connection.CallbackParams{ConnectionID: "C1"})
	if out.Status != connection.FeedbackWarning || out.Message != connection.MessageUnverified {
		t.Errorf("outcome = %+v", out)
	}
}

func TestManager_ReopenSession(t *testing.T) {
	f := newFixture()
	u := f.seedUser("alice@example.com", "cust-1")
	_, _ = f.connections.Upsert(context.Background(), connection.UpsertParams{ID: "C1", UserID: u.ID, CustomerID: "cust-1", Status: connection.StatusActive})

	var refreshOpts, reconnectOpts saltedge.SessionOptions
	f.client.RefreshConnectionFunc = func(ctx context.Context, id string, opts saltedge.SessionOptions) (*saltedge.ConnectSession, error) {
		refreshOpts = opts
		return &saltedge.ConnectSession{ConnectURL: "https://widget/refresh"}, nil
	}
	f.client.ReconnectConnectionFunc = func(ctx context.Context, id string, opts saltedge.SessionOptions) (*saltedge.ConnectSession, error) {
		reconnectOpts = opts
		return &saltedge.ConnectSession{ConnectURL: "https://widget/reconnect"}, nil
	}

	res, err := f.manager.ReopenSession(context.Background(), "alice@example.com", "C1", SessionRefresh)
	if err != nil {
		t.Fatalf("ReopenSession(refresh) error = %v", err)
	}
	if res.Type != SessionRefresh || res.ConnectURL != "https://widget/refresh" {
		t.Errorf("result = %+v", res)
	}
	if refreshOpts.Attempt.ShowConsentConfirmation || refreshOpts.Attempt.CredentialsStrategy != "" {
		t.Errorf("refresh attempt = %+v", refreshOpts.Attempt)
	}

	if _, err := f.manager.ReopenSession(context.Background(), "alice@example.com", "C1", SessionReconnect); err != nil {
		t.Fatalf("ReopenSession(reconnect) error = %v", err)
	}
	if !reconnectOpts.Attempt.ShowConsentConfirmation || reconnectOpts.Attempt.CredentialsStrategy != "store" {
		t.Errorf("reconnect attempt = %+v", reconnectOpts.Attempt)
	}
	if reconnectOpts.Widget == nil || reconnectOpts.Widget.JavaScriptCallbackType != "post_message" {
		t.Errorf("reconnect widget = %+v", reconnectOpts.Widget)
	}

	if f.logs.count() != 2 {
		t.Fatalf("wrote %d sync logs, want one per reopened session", f.logs.count())
	}
	for i, want := range []string{"refresh_initiated", "reconnect_initiated"} {
		entry := f.logs.entries[i]
		if entry.Action != want || entry.Status != synclog.StatusPending || entry.ConnectionID == nil || *entry.ConnectionID != "C1" || entry.UserID != u.ID {
			t.Errorf("entry %d = %+v, want %s/pending for C1", i, entry, want)
		}
	}
}

func TestManager_ReopenSession_Errors(t *testing.T) {
	f := newFixture()
	f.seedUser("alice@example.com", "cust-1")
	mallory := f.seedUser("mallory@example.com", "cust-2")
	_, _ = f.connections.Upsert(context.Background(), connection.UpsertParams{ID: "C1", UserID: mallory.ID, CustomerID: "cust-2", Status: connection.StatusActive})

	tests := []struct {
		name   string
		connID string
		kind   string
		want   error
	}{
		{"missing connection", "", SessionRefresh, ErrConnectionRequired},
		{"bad kind", "C1", "sync", ErrInvalidSessionKind},
		{"someone else's connection", "C1", SessionRefresh, connection.ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.ReopenSession(context.Background(), "alice@example.com", tt.connID, tt.kind)
			if !errors.Is(err, tt.want) {
				t.Errorf("ReopenSession() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestManager_Authorize_UnstoredConnection(t *testing.T) {
	f := newFixture()
	f.seedUser("alice@example.com", "cust-1")
	f.client.GetConnectionFunc = func(ctx context.Context, connectionID string) (*saltedge.Connection, error) {
		return activeConnection(connectionID, "cust-other"), nil
	}

	_, err := f.manager.LiveData(context.Background(), "alice@example.com", "C9", DataAll)
	if !errors.Is(err, connection.ErrForbidden) {
		t.Errorf("LiveData() error = %v, want ErrForbidden", err)
	}
}

func TestManager_LiveData(t *testing.T) {
	f := newFixture()
	f.seedUser("alice@example.com", "cust-1")
	f.client.GetConnectionFunc = func(ctx context.Context, connectionID string) (*saltedge.Connection, error) {
		return activeConnection(connectionID, "cust-1"), nil
	}
	f.client.GetAccountsFunc = func(ctx context.Context, connectionID string) ([]saltedge.Account, error) {
		return []saltedge.Account{remoteAccount("acc-1", "Compte", "10")}, nil
	}
	f.client.GetConnectionTransactionsFunc = func(ctx context.Context, connectionID string) ([]saltedge.Transaction, error) {
		txs := make([]saltedge.Transaction, 120)
		for i := range txs {
			day := 28 - i/5
			txs[i] = remoteTransaction("tx", "acc-1", time.Date(2024, 2, day, 0, 0, 0, 0, time.UTC).Format(time.DateOnly), "-1")
		}
		return txs, nil
	}

	data, err := f.manager.LiveData(context.Background(), "alice@example.com", "C1", "")
	if err != nil {
		t.Fatalf("LiveData() error = %v", err)
	}

	if data.Connection.ProviderName != "BNP Paribas" {
		t.Errorf("Connection = %+v", data.Connection)
	}
	if len(data.Accounts) != 1 || data.Accounts[0].Type != "checking" {
		t.Errorf("Accounts = %+v", data.Accounts)
	}
	if len(data.Transactions) != LiveTransactionLimit {
		t.Errorf("returned %d transactions, want %d", len(data.Transactions), LiveTransactionLimit)
	}
	s := data.TransactionsSummary
	if s == nil || s.TotalCount != 120 || s.DisplayedCount != 100 {
		t.Fatalf("summary = %+v", s)
	}
	if *s.DateRange.To != "2024-02-28" || *s.DateRange.From != "2024-02-05" {
		t.Errorf("date range = %s..%s", *s.DateRange.From, *s.DateRange.To)
	}
}

func TestManager_LiveData_SectionErrors(t *testing.T) {
	f := newFixture()
	f.seedUser("alice@example.com", "cust-1")
	f.client.GetConnectionFunc = func(ctx context.Context, connectionID string) (*saltedge.Connection, error) {
		return activeConnection(connectionID, "cust-1"), nil
	}
	f.client.GetAccountsFunc = func(ctx context.Context, connectionID string) ([]saltedge.Account, error) {
		return nil, errors.New("boom")
	}
	f.client.GetConnectionTransactionsFunc = func(ctx context.Context, connectionID string) ([]saltedge.Transaction, error) {
		return nil, errors.New("boom")
	}

	data, err := f.manager.LiveData(context.Background(), "alice@example.com", "C1", DataAll)
	if err != nil {
		t.Fatalf("LiveData() error = %v", err)
	}
	if data.AccountsError != "Impossible de récupérer les comptes" {
		t.Errorf("AccountsError = %q", data.AccountsError)
	}
	if data.TransactionsError != "Impossible de récupérer les transactions" {
		t.Errorf("TransactionsError = %q", data.TransactionsError)
	}
}

func TestManager_LiveData_Inactive(t *testing.T) {
	f := newFixture()
	f.seedUser("alice@example.com", "cust-1")
	f.client.GetConnectionFunc = func(ctx context.Context, connectionID string) (*saltedge.Connection, error) {
		c := activeConnection(connectionID, "cust-1")
		c.Status = "inactive"
		return c, nil
	}

	_, err := f.manager.LiveData(context.Background(), "alice@example.com", "C1", DataAccounts)
	var inactive *InactiveConnectionError
	if !errors.As(err, &inactive) {
		t.Fatalf("LiveData() error = %v, want InactiveConnectionError", err)
	}
	if inactive.Status != connection.StatusInactive {
		t.Errorf("Status = %q, want inactive", inactive.Status)
	}
}

func TestManager_Disconnect_ToleratesRemoteNotFound(t *testing.T) {
	f := newFixture()
	u := f.seedUser("alice@example.com", "cust-1")
	_, _ = f.connections.Upsert(context.Background(), connection.UpsertParams{ID: "C1", UserID: u.ID, CustomerID: "cust-1", Status: connection.StatusActive})
	f.client.DeleteConnectionFunc = func(ctx context.Context, connectionID string) (*saltedge.RemovedConnection, error) {
		return nil, &saltedge.APIError{Code: saltedge.CodeConnectionNotFound, Message: "gone"}
	}

	if err := f.manager.Disconnect(context.Background(), "alice@example.com", "C1"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if _, err := f.connections.GetByID(context.Background(), "C1"); !errors.Is(err, connection.ErrConnectionNotFound) {
		t.Errorf("local connection still present: %v", err)
	}
	if entry := f.logs.last(); entry.Action != "disconnect" {
		t.Errorf("log action = %q, want disconnect", entry.Action)
	}
}

func TestManager_Disconnect_RemoteFailure(t *testing.T) {
	f := newFixture()
	u := f.seedUser("alice@example.com", "cust-1")
	_, _ = f.connections.Upsert(context.Background(), connection.UpsertParams{ID: "C1", UserID: u.ID, CustomerID: "cust-1", Status: connection.StatusActive})
	f.client.DeleteConnectionFunc = func(ctx context.Context, connectionID string) (*saltedge.RemovedConnection, error) {
		return nil, &saltedge.APIError{Code: saltedge.CodeServerError, Retryable: true}
	}

	if err := f.manager.Disconnect(context.Background(), "alice@example.com", "C1"); !saltedge.IsCode(err, saltedge.CodeServerError) {
		t.Fatalf("Disconnect() error = %v, want SERVER_ERROR", err)
	}
	if _, err := f.connections.GetByID(context.Background(), "C1"); err != nil {
		t.Errorf("local connection removed despite remote failure: %v", err)
	}
}
