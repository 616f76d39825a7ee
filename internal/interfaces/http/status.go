package http

import (
	"net/http"
	"strconv"

	"finsight/internal/infrastructure/saltedge"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	apiVersion           = "v6"
	defaultStatusLogSize = 20
)

// StatusHandler exposes the aggregator client's in-process diagnostics.
type StatusHandler struct {
	Responder
	client      *saltedge.Client
	environment string
}

// NewStatusHandler creates a new diagnostics handler
func NewStatusHandler(client *saltedge.Client, environment string, responder Responder) *StatusHandler {
	return &StatusHandler{Responder: responder, client: client, environment: environment}
}

type StatusResponse struct {
	TestStatus      saltedge.QuotaStatus       `json:"test_status"`
	Recommendations []saltedge.Recommendation  `json:"recommendations"`
	Mode            string                     `json:"mode"`
	Environment     string                     `json:"environment"`
	APIVersion      string                     `json:"api_version"`
	BaseURL         string                     `json:"base_url"`
	RateLimit       saltedge.RateLimitSnapshot `json:"rate_limit"`
	Breaker         string                     `json:"breaker"`
	CachedCustomers int                        `json:"cached_customers"`
	Performance     *saltedge.MetricsSnapshot  `json:"performance,omitempty"`
	Logs            []saltedge.AuditEntry      `json:"logs,omitempty"`
}

type StatusActionRequest struct {
	Action string `json:"action"`
}

// HandleStatus reports quota, limiter and breaker state, plus metrics and
// audit entries when asked for.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	quota := h.client.Quota().Status()

	resp := StatusResponse{
		TestStatus:      quota,
		Recommendations: saltedge.Recommendations(quota),
		Mode:            h.client.Mode(),
		Environment:     h.environment,
		APIVersion:      apiVersion,
		BaseURL:         h.client.BaseURL(),
		RateLimit:       h.client.Limiter().Snapshot(),
		Breaker:         h.client.BreakerState().String(),
		CachedCustomers: h.client.Cache().Len(),
	}
	if resp.Recommendations == nil {
		resp.Recommendations = []saltedge.Recommendation{}
	}

	if q.Get("metrics") == "true" {
		snapshot := h.client.Metrics().Snapshot()
		resp.Performance = &snapshot
	}

	if q.Get("logs") == "true" {
		count := defaultStatusLogSize
		if raw := q.Get("logs_count"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				count = n
			}
		}
		resp.Logs = h.client.Audit().Entries(saltedge.AuditFilter{
			Level: q.Get("logs_level"),
			LastN: count,
		})
		if resp.Logs == nil {
			resp.Logs = []saltedge.AuditEntry{}
		}
	}

	writeData(w, resp)
}

// HandleStatusAction resets counters and clears the in-process buffers.
func (h *StatusHandler) HandleStatusAction(w http.ResponseWriter, r *http.Request) {
	var req StatusActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.BadRequest(w, "Invalid request body")
		return
	}

	var message string
	switch req.Action {
	case "reset":
		h.client.Quota().Reset()
		message = "Compteur de tests réinitialisé"
	case "clear_logs":
		h.client.Audit().Clear()
		message = "Logs effacés"
	case "clear_cache":
		h.client.Cache().Clear()
		message = "Cache des clients vidé"
	case "reset_all":
		h.client.Quota().Reset()
		h.client.Audit().Clear()
		h.client.Cache().Clear()
		h.client.Metrics().Reset()
		h.client.Limiter().Reset()
		message = "Toutes les données de diagnostic ont été réinitialisées"
	default:
		h.BadRequest(w, `Action non supportée. Utilisez "reset", "clear_logs", "clear_cache" ou "reset_all".`)
		return
	}

	log.Info().Str("action", req.Action).Msg("aggregator diagnostics reset")
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message})
}
