package saltedge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout      = 30 * time.Second
	signatureTTL        = 60 * time.Second
	maxResponseBodySize = 10 << 20
	connectionTxPerPage = 100
)

// BreakerSettings configures the circuit breaker around every round trip.
type BreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

type Config struct {
	AppID       string
	Secret      string
	BaseURL     string
	PrivateKey  string
	Mode        string // pending | live
	Timeout     time.Duration
	CustomerTTL time.Duration
	Breaker     BreakerSettings
	// HTTPClient overrides the instrumented default client.
	HTTPClient *http.Client
}

// Client is the process-wide aggregator client. It owns the rate limiter,
// customer cache, audit log, metrics and sandbox quota shared by all requests.
type Client struct {
	appID      string
	secret     string
	baseURL    string
	mode       string
	httpClient *http.Client
	signer     *Signer

	limiter *RateLimiter
	cache   *CustomerCache
	audit   *AuditLog
	metrics *MetricsRecorder
	quota   *SandboxQuota
	breaker *gobreaker.CircuitBreaker[*rawResponse]

	now func() time.Time
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

type rawResponse struct {
	status int
	body   []byte
}

var errUpstreamFailure = errors.New("saltedge upstream failure")

func NewClient(cfg Config) (*Client, error) {
	if cfg.AppID == "" || cfg.Secret == "" {
		return nil, errors.New("SALTEDGE_APP_ID and SALTEDGE_SECRET are required")
	}

	baseURL, upgraded := NormalizeBaseURL(cfg.BaseURL)
	if upgraded {
		log.Warn().
			Str("base_url", baseURL).
			Msg("SALTEDGE_BASE_URL points to API v5, switched to API v6; update the configuration")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	c := &Client{
		appID:      cfg.AppID,
		secret:     cfg.Secret,
		baseURL:    baseURL,
		mode:       cfg.Mode,
		httpClient: httpClient,
		limiter:    NewRateLimiter(cfg.Mode),
		cache:      NewCustomerCache(cfg.CustomerTTL),
		audit:      NewAuditLog(),
		metrics:    NewMetricsRecorder(),
		quota:      NewSandboxQuota(),
		breaker:    newBreaker(cfg.Breaker),
		now:        time.Now,
	}

	if cfg.PrivateKey != "" {
		signer, err := NewSigner(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		c.signer = signer
	} else {
		log.Warn().Msg("saltedge private key not configured, request signing disabled")
	}

	log.Info().
		Str("base_url", baseURL).
		Str("mode", cfg.Mode).
		Bool("signing", c.signer != nil).
		Msg("saltedge client configured")

	return c, nil
}

func newBreaker(s BreakerSettings) *gobreaker.CircuitBreaker[*rawResponse] {
	minRequests := s.MinRequests
	if minRequests == 0 {
		minRequests = 10
	}
	ratio := s.FailureRatio
	if ratio <= 0 {
		ratio = 0.6
	}
	return gobreaker.NewCircuitBreaker[*rawResponse](gobreaker.Settings{
		Name:        "saltedge",
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}

func (c *Client) Limiter() *RateLimiter         { return c.limiter }
func (c *Client) Cache() *CustomerCache         { return c.cache }
func (c *Client) Audit() *AuditLog              { return c.audit }
func (c *Client) Metrics() *MetricsRecorder     { return c.metrics }
func (c *Client) Quota() *SandboxQuota          { return c.quota }
func (c *Client) BaseURL() string               { return c.baseURL }
func (c *Client) Mode() string                  { return c.mode }
func (c *Client) BreakerState() gobreaker.State { return c.breaker.State() }

// call describes one aggregator request.
type call struct {
	action  string
	method  string
	path    string
	query   url.Values
	body    any
	signed  bool
	details map[string]any
}

// do runs the request through the limiter, signer and breaker, records
// metrics and an audit entry, and decodes the data envelope into out.
func (c *Client) do(ctx context.Context, cl call, out any) error {
	if err := c.limiter.Acquire(ctx); err != nil {
		apiErr := TranslateTransport(err)
		c.audit.Record(AuditEntry{
			Level:    LevelWarn,
			Action:   cl.action,
			Endpoint: cl.path,
			Method:   cl.method,
			Status:   "error",
			Details:  cl.details,
			Error:    apiErr.Message,
		})
		return apiErr
	}

	var payload []byte
	if cl.body != nil {
		var err error
		payload, err = json.Marshal(map[string]any{"data": cl.body})
		if err != nil {
			return fmt.Errorf("failed to encode %s request: %w", cl.action, err)
		}
	}

	fullURL := c.baseURL + cl.path
	if len(cl.query) > 0 {
		fullURL += "?" + cl.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, fullURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", cl.action, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("App-id", c.appID)
	req.Header.Set("Secret", c.secret)

	if cl.signed && c.signer != nil {
		expiresAt := c.now().Add(signatureTTL).Unix()
		signature, err := c.signer.Sign(expiresAt, cl.method, fullURL, payload)
		if err != nil {
			return err
		}
		req.Header.Set("Expires-at", strconv.FormatInt(expiresAt, 10))
		req.Header.Set("Signature", signature)
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*rawResponse, error) {
		return c.roundTrip(req)
	})
	duration := time.Since(start)

	var apiErr *APIError
	switch {
	case resp == nil:
		apiErr = TranslateTransport(err)
	case resp.status < 200 || resp.status >= 300:
		apiErr = Translate(resp.status, resp.body)
	}

	c.metrics.Record(ctx, cl.action, duration, apiErr == nil)

	entry := AuditEntry{
		Action:     cl.action,
		Endpoint:   cl.path,
		Method:     cl.method,
		DurationMs: duration.Milliseconds(),
		Details:    cl.details,
	}
	if apiErr != nil {
		entry.Level = LevelError
		entry.Status = "error"
		entry.Error = fmt.Sprintf("%s: %s", apiErr.Code, apiErr.Message)
		c.audit.Record(entry)
		return apiErr
	}
	entry.Status = "success"
	c.audit.Record(entry)

	if out == nil {
		return nil
	}
	if err := decodeData(resp.body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", cl.action, err)
	}
	return nil
}

// roundTrip reports 5xx and 429 responses as failures so they count toward
// tripping the breaker, while still returning the response for translation.
func (c *Client) roundTrip(req *http.Request) (*rawResponse, error) {
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	raw := &rawResponse{status: httpResp.StatusCode, body: body}
	if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests {
		return raw, errUpstreamFailure
	}
	return raw, nil
}

// decodeData unwraps the {"data": ...} envelope when present.
func decodeData(body []byte, out any) error {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		return json.Unmarshal(envelope.Data, out)
	}
	return json.Unmarshal(body, out)
}

func (c *Client) GetCountries(ctx context.Context) ([]Country, error) {
	var countries []Country
	err := c.do(ctx, call{action: "getCountries", method: http.MethodGet, path: "/countries"}, &countries)
	return countries, err
}

func (c *Client) GetProviders(ctx context.Context, countryCode string) ([]Provider, error) {
	q := url.Values{}
	if countryCode != "" {
		q.Set("country_code", countryCode)
	}
	var providers []Provider
	err := c.do(ctx, call{action: "getProviders", method: http.MethodGet, path: "/providers", query: q}, &providers)
	return providers, err
}

// GetFrenchBanks lists the popular French providers.
func (c *Client) GetFrenchBanks(ctx context.Context) ([]Provider, error) {
	providers, err := c.GetProviders(ctx, "FR")
	if err != nil {
		return nil, err
	}
	return FilterPopularBanks(providers), nil
}

// CreateCustomer returns the cached customer for identifier or creates one.
// A duplicate identifier is retried once with a timestamp suffix; the result
// is cached under the original identifier. The aggregator offers no lookup by
// identifier, so the customer behind the duplicate stays orphaned remotely.
func (c *Client) CreateCustomer(ctx context.Context, identifier string) (*Customer, error) {
	if cached, ok := c.cache.Get(identifier); ok {
		log.Debug().Str("identifier", identifier).Msg("saltedge customer served from cache")
		return cached, nil
	}

	customer, err := c.postCustomer(ctx, identifier, map[string]any{"identifier": identifier})
	if err == nil {
		c.cache.Set(identifier, customer)
		return customer, nil
	}

	if !IsCode(err, CodeDuplicateCustomer) {
		return nil, err
	}

	unique := identifier + "_" + strconv.FormatInt(c.now().UnixMilli(), 10)
	log.Info().
		Str("identifier", identifier).
		Str("new_identifier", unique).
		Msg("saltedge customer already exists, retrying with unique identifier")

	customer, err = c.postCustomer(ctx, unique, map[string]any{
		"originalIdentifier": identifier,
		"newIdentifier":      unique,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create customer after duplicate conflict: %w", err)
	}

	c.cache.Set(identifier, customer)
	return customer, nil
}

func (c *Client) postCustomer(ctx context.Context, identifier string, details map[string]any) (*Customer, error) {
	var customer Customer
	err := c.do(ctx, call{
		action:  "createCustomer",
		method:  http.MethodPost,
		path:    "/customers",
		body:    map[string]string{"identifier": identifier},
		signed:  true,
		details: details,
	}, &customer)
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (c *Client) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	var customer Customer
	err := c.do(ctx, call{
		action: "getCustomer",
		method: http.MethodGet,
		path:   "/customers/" + url.PathEscape(customerID),
		signed: true,
	}, &customer)
	if err != nil {
		return nil, narrowNotFound(err, "CustomerNotFound")
	}
	return &customer, nil
}

func (c *Client) CreateConnectionSession(ctx context.Context, req ConnectSessionRequest) (*ConnectSession, error) {
	var session ConnectSession
	err := c.do(ctx, call{
		action: "createConnectionSession",
		method: http.MethodPost,
		path:   "/connections/connect",
		body:   req,
		details: map[string]any{
			"customer_id":   req.CustomerID,
			"provider_code": req.ProviderCode,
		},
	}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) GetConnection(ctx context.Context, connectionID string) (*Connection, error) {
	var conn Connection
	err := c.do(ctx, call{
		action: "getConnection",
		method: http.MethodGet,
		path:   "/connections/" + url.PathEscape(connectionID),
	}, &conn)
	if err != nil {
		return nil, narrowNotFound(err, "ConnectionNotFound")
	}
	return &conn, nil
}

func (c *Client) GetCustomerConnections(ctx context.Context, customerID string) ([]Connection, error) {
	var conns []Connection
	err := c.do(ctx, call{
		action: "getCustomerConnections",
		method: http.MethodGet,
		path:   "/connections",
		query:  url.Values{"customer_id": {customerID}},
		signed: true,
	}, &conns)
	return conns, err
}

func (c *Client) RefreshConnection(ctx context.Context, connectionID string, opts SessionOptions) (*ConnectSession, error) {
	return c.reopenSession(ctx, "refreshConnection", connectionID, "/refresh", opts)
}

func (c *Client) ReconnectConnection(ctx context.Context, connectionID string, opts SessionOptions) (*ConnectSession, error) {
	return c.reopenSession(ctx, "reconnectConnection", connectionID, "/reconnect", opts)
}

func (c *Client) reopenSession(ctx context.Context, action, connectionID, suffix string, opts SessionOptions) (*ConnectSession, error) {
	var session ConnectSession
	err := c.do(ctx, call{
		action: action,
		method: http.MethodPost,
		path:   "/connections/" + url.PathEscape(connectionID) + suffix,
		body:   opts,
		signed: true,
		details: map[string]any{
			"connectionId": connectionID,
			"return_to":    opts.Attempt.ReturnTo,
		},
	}, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) DeleteConnection(ctx context.Context, connectionID string) (*RemovedConnection, error) {
	var removed RemovedConnection
	err := c.do(ctx, call{
		action: "deleteConnection",
		method: http.MethodDelete,
		path:   "/connections/" + url.PathEscape(connectionID),
		signed: true,
	}, &removed)
	if err != nil {
		return nil, err
	}
	return &removed, nil
}

func (c *Client) GetAccounts(ctx context.Context, connectionID string) ([]Account, error) {
	var accounts []Account
	err := c.do(ctx, call{
		action: "getAccounts",
		method: http.MethodGet,
		path:   "/accounts",
		query:  url.Values{"connection_id": {connectionID}},
	}, &accounts)
	return accounts, err
}

func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	var account Account
	err := c.do(ctx, call{
		action: "getAccount",
		method: http.MethodGet,
		path:   "/accounts/" + url.PathEscape(accountID),
		signed: true,
	}, &account)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (c *Client) GetTransactions(ctx context.Context, accountID string, filters TransactionFilters) ([]Transaction, error) {
	q := url.Values{"account_id": {accountID}}
	filters.apply(q)

	var txs []Transaction
	err := c.do(ctx, call{
		action: "getTransactions",
		method: http.MethodGet,
		path:   "/transactions",
		query:  q,
	}, &txs)
	return txs, err
}

// GetConnectionTransactions fetches transactions for every account of the
// connection, skipping accounts whose fetch fails, newest first.
func (c *Client) GetConnectionTransactions(ctx context.Context, connectionID string) ([]Transaction, error) {
	accounts, err := c.GetAccounts(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	var all []Transaction
	for _, account := range accounts {
		txs, err := c.GetTransactions(ctx, account.ID, TransactionFilters{PerPage: connectionTxPerPage})
		if err != nil {
			log.Error().
				Err(err).
				Str("connection_id", connectionID).
				Str("account_id", account.ID).
				Msg("failed to fetch account transactions")
			continue
		}
		all = append(all, txs...)
	}

	SortByMadeOnDesc(all)
	return all, nil
}

// SortByMadeOnDesc orders transactions newest first. Booking dates are ISO
// formatted so they compare lexically.
func SortByMadeOnDesc(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].MadeOn > txs[j].MadeOn
	})
}
