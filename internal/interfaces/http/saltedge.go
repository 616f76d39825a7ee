package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"finsight/internal/domain/connection"
	"finsight/internal/domain/openfinance"
	"finsight/internal/infrastructure/saltedge"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// maxWebhookBody bounds the notification payload read into memory.
const maxWebhookBody = 1 << 20

// ConnectionService is the connection lifecycle as seen by the HTTP layer.
// Implemented by openfinance.Manager.
type ConnectionService interface {
	Connect(ctx context.Context, email, name, providerCode string) (*openfinance.ConnectResult, error)
	HandleWebhook(ctx context.Context, hook openfinance.Webhook) error
	ResolveCallback(ctx context.Context, params connection.CallbackParams) connection.CallbackOutcome
	ReopenSession(ctx context.Context, email, connectionID, kind string) (*openfinance.ReopenResult, error)
	LiveData(ctx context.Context, email, connectionID, dataType string) (*openfinance.LiveData, error)
	Disconnect(ctx context.Context, email, connectionID string) error
}

// BankCatalog lists the banks offered in the connect screen.
type BankCatalog interface {
	GetFrenchBanks(ctx context.Context) ([]saltedge.Provider, error)
}

// SaltEdgeHandler serves the bank connection routes.
type SaltEdgeHandler struct {
	Responder
	connections  ConnectionService
	banks        BankCatalog
	verifier     *saltedge.WebhookVerifier
	dashboardURL string
}

// NewSaltEdgeHandler creates a new bank connection handler
func NewSaltEdgeHandler(
	connections ConnectionService,
	banks BankCatalog,
	verifier *saltedge.WebhookVerifier,
	dashboardURL string,
	responder Responder,
) *SaltEdgeHandler {
	return &SaltEdgeHandler{
		Responder:    responder,
		connections:  connections,
		banks:        banks,
		verifier:     verifier,
		dashboardURL: dashboardURL,
	}
}

// --- Request/Response types ---

type ConnectRequest struct {
	ProviderCode string `json:"provider_code"`
}

type BankResponse struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	LogoURL     string `json:"logo_url"`
	CountryCode string `json:"country_code"`
	Mode        string `json:"mode"`
	Status      string `json:"status"`
}

type ReopenRequest struct {
	ConnectionID string `json:"connection_id"`
	Type         string `json:"type"`
}

type webhookEnvelope struct {
	Data openfinance.Webhook `json:"data"`
}

type WebhookAck struct {
	Received bool `json:"received"`
}

type InactiveResponse struct {
	Error   string `json:"error"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HandleConnect opens a hosted consent session for the signed-in user.
func (h *SaltEdgeHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}

	var req ConnectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			h.BadRequest(w, "Invalid request body")
			return
		}
	}

	result, err := h.connections.Connect(r.Context(), email, "", strings.TrimSpace(req.ProviderCode))
	if err != nil {
		h.Error(w, r, err)
		return
	}
	writeData(w, result)
}

// HandleBanks lists the popular French banks.
func (h *SaltEdgeHandler) HandleBanks(w http.ResponseWriter, r *http.Request) {
	providers, err := h.banks.GetFrenchBanks(r.Context())
	if err != nil {
		h.Error(w, r, err)
		return
	}

	banks := make([]BankResponse, 0, len(providers))
	for _, p := range providers {
		banks = append(banks, BankResponse{
			Code:        p.Code,
			Name:        p.Name,
			LogoURL:     p.LogoURL,
			CountryCode: p.CountryCode,
			Mode:        p.Mode,
			Status:      p.Status,
		})
	}
	writeData(w, banks)
}

// HandleCallback turns the consent redirect into a dashboard redirect carrying
// a status banner.
func (h *SaltEdgeHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	outcome := h.connections.ResolveCallback(r.Context(), connection.CallbackParams{
		ConnectionID: q.Get("connection_id"),
		CustomerID:   q.Get("customer_id"),
		Stage:        q.Get("stage"),
		Error:        q.Get("error"),
		ErrorMessage: q.Get("error_message"),
	})

	http.Redirect(w, r, h.redirectURL(outcome), http.StatusFound)
}

func (h *SaltEdgeHandler) redirectURL(outcome connection.CallbackOutcome) string {
	params := url.Values{}
	params.Set("status", string(outcome.Status))
	params.Set("message", outcome.Message)
	if outcome.ConnectionID != "" {
		params.Set("connection_id", outcome.ConnectionID)
	}

	sep := "?"
	if strings.Contains(h.dashboardURL, "?") {
		sep = "&"
	}
	return h.dashboardURL + sep + params.Encode()
}

// HandleWebhook accepts connection stage notifications. The aggregator gets a
// 200 for every payload it sent correctly; processing failures are only logged.
func (h *SaltEdgeHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.BadRequest(w, "Invalid request body")
		return
	}

	signature := r.Header.Get("Signature")
	if h.verifier != nil && h.verifier.Configured() {
		if !h.verifier.Verify(body, signature) {
			if h.verifier.Strict() {
				log.Warn().Str("remote_addr", r.RemoteAddr).Msg("webhook rejected: invalid signature")
				writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Invalid signature", Code: "UNAUTHORIZED"})
				return
			}
			log.Warn().Bool("signed", signature != "").Msg("webhook signature not verified, processing anyway")
		}
	} else {
		log.Warn().Msg("webhook accepted without signature verification")
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		log.Warn().Err(err).Msg("webhook payload is not valid JSON")
		writeJSON(w, http.StatusOK, WebhookAck{Received: true})
		return
	}

	start := time.Now()
	if err := h.connections.HandleWebhook(r.Context(), envelope.Data); err != nil {
		log.Error().Err(err).
			Str("connection_id", envelope.Data.ConnectionID).
			Str("stage", envelope.Data.Stage).
			Dur("duration", time.Since(start)).
			Msg("webhook processing failed")
	}

	writeJSON(w, http.StatusOK, WebhookAck{Received: true})
}

// HandleLiveData returns accounts and transactions read live from the aggregator.
func (h *SaltEdgeHandler) HandleLiveData(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	data, err := h.connections.LiveData(r.Context(), email, q.Get("connection_id"), q.Get("type"))
	if err != nil {
		var inactive *openfinance.InactiveConnectionError
		if errors.As(err, &inactive) {
			writeJSON(w, http.StatusBadRequest, InactiveResponse{
				Error:   "Connection is not active",
				Status:  string(inactive.Status),
				Message: inactive.UserMessage(),
			})
			return
		}
		h.Error(w, r, err)
		return
	}
	writeData(w, data)
}

// HandleReopen refreshes or reconnects an existing connection.
func (h *SaltEdgeHandler) HandleReopen(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}

	var req ReopenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.BadRequest(w, "Invalid request body")
		return
	}

	result, err := h.connections.ReopenSession(r.Context(), email, req.ConnectionID, req.Type)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	writeData(w, result)
}

// HandleDisconnect removes a connection remotely and locally.
func (h *SaltEdgeHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}

	if err := h.connections.Disconnect(r.Context(), email, r.URL.Query().Get("connection_id")); err != nil {
		h.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Connexion bancaire supprimée avec succès",
	})
}
