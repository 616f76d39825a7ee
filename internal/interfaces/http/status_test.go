package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"finsight/internal/infrastructure/saltedge"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStatusHandler(t *testing.T) (*StatusHandler, *saltedge.Client) {
	t.Helper()
	client, err := saltedge.NewClient(saltedge.Config{
		AppID:   "app-id",
		Secret:  "secret",
		BaseURL: "https://www.saltedge.com/api/v5",
		Mode:    "pending",
	})
	require.NoError(t, err)
	return NewStatusHandler(client, "development", NewResponder("development")), client
}

func TestHandleStatus_Basic(t *testing.T) {
	h, client := newTestStatusHandler(t)
	client.Quota().Record("create_connection_session", "fake_client_xf", true)

	rr := httptest.NewRecorder()
	h.HandleStatus(rr, httptest.NewRequest(http.MethodGet, "/api/saltedge/status", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeBody(t, rr)["data"].(map[string]any)

	assert.Equal(t, "pending", data["mode"])
	assert.Equal(t, "v6", data["api_version"])
	assert.Equal(t, "https://www.saltedge.com/api/v6", data["base_url"])
	assert.Equal(t, "closed", data["breaker"])

	quota := data["test_status"].(map[string]any)
	assert.EqualValues(t, 10, quota["totalTests"])
	assert.EqualValues(t, 1, quota["usedTests"])
	assert.EqualValues(t, 9, quota["remainingTests"])

	limiter := data["rate_limit"].(map[string]any)
	assert.EqualValues(t, 15, limiter["max_requests"])

	assert.NotContains(t, data, "performance")
	assert.NotContains(t, data, "logs")
}

func TestHandleStatus_MetricsAndLogs(t *testing.T) {
	h, client := newTestStatusHandler(t)
	for i := 0; i < 5; i++ {
		client.Audit().Record(saltedge.AuditEntry{Level: saltedge.LevelInfo, Action: "get_connection"})
	}
	client.Audit().Record(saltedge.AuditEntry{Level: saltedge.LevelError, Action: "get_accounts", Error: "boom"})

	rr := httptest.NewRecorder()
	h.HandleStatus(rr, httptest.NewRequest(http.MethodGet, "/api/saltedge/status?metrics=true&logs=true&logs_count=3", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	data := decodeBody(t, rr)["data"].(map[string]any)
	assert.Contains(t, data, "performance")
	assert.Len(t, data["logs"], 3)

	rr = httptest.NewRecorder()
	h.HandleStatus(rr, httptest.NewRequest(http.MethodGet, "/api/saltedge/status?logs=true&logs_level=error", nil))
	data = decodeBody(t, rr)["data"].(map[string]any)
	logs := data["logs"].([]any)
	require.Len(t, logs, 1)
	assert.Equal(t, "get_accounts", logs[0].(map[string]any)["action"])
}

func TestHandleStatusAction(t *testing.T) {
	tests := []struct {
		name           string
		action         string
		expectedStatus int
		check          func(t *testing.T, client *saltedge.Client)
	}{
		{
			name:           "Reset quota",
			action:         "reset",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, client *saltedge.Client) {
				assert.Equal(t, 0, client.Quota().Status().UsedTests)
				assert.Equal(t, 1, client.Audit().Len())
			},
		},
		{
			name:           "Clear logs",
			action:         "clear_logs",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, client *saltedge.Client) {
				assert.Equal(t, 0, client.Audit().Len())
				assert.Equal(t, 1, client.Quota().Status().UsedTests)
			},
		},
		{
			name:           "Clear cache",
			action:         "clear_cache",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, client *saltedge.Client) {
				assert.Equal(t, 0, client.Cache().Len())
			},
		},
		{
			name:           "Reset all",
			action:         "reset_all",
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, client *saltedge.Client) {
				assert.Equal(t, 0, client.Audit().Len())
				assert.Equal(t, 0, client.Quota().Status().UsedTests)
				assert.Equal(t, 0, client.Cache().Len())
			},
		},
		{
			name:           "Unsupported",
			action:         "explode",
			expectedStatus: http.StatusBadRequest,
			check: func(t *testing.T, client *saltedge.Client) {
				assert.Equal(t, 1, client.Quota().Status().UsedTests)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, client := newTestStatusHandler(t)
			client.Quota().Record("create_connection_session", "", true)
			client.Audit().Record(saltedge.AuditEntry{Action: "get_connection"})
			client.Cache().Set("finsight_alice@example.com", &saltedge.Customer{ID: "cust-1"})

			req := httptest.NewRequest(http.MethodPost, "/api/saltedge/status", strings.NewReader(`{"action":"`+tt.action+`"}`))
			rr := httptest.NewRecorder()
			h.HandleStatusAction(rr, req)

			require.Equal(t, tt.expectedStatus, rr.Code)
			tt.check(t, client)
			if tt.expectedStatus == http.StatusBadRequest {
				assert.Contains(t, decodeBody(t, rr)["error"], "Action non supportée")
			}
		})
	}
}
