package saltedge

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranslate_V6Classes(t *testing.T) {
	tests := []struct {
		class     string
		code      ErrorCode
		retryable bool
		user      string
	}{
		{"DuplicatedCustomer", CodeDuplicateCustomer, false, "Profil utilisateur déjà existant (géré automatiquement)"},
		{"CustomerNotFound", CodeCustomerNotFound, false, "Profil utilisateur introuvable. Veuillez recréer votre connexion."},
		{"ConnectionNotFound", CodeConnectionNotFound, false, "Connexion bancaire introuvable. Veuillez vous reconnecter."},
		{"ProviderNotFound", CodeProviderNotFound, false, "Banque non supportée. Veuillez choisir une autre banque."},
		{"ProviderDisabled", CodeProviderDisabled, true, "Cette banque est temporairement indisponible. Essayez une autre banque."},
		{"InvalidCredentials", CodeInvalidCredentials, true, "Identifiants bancaires incorrects. Vérifiez vos informations."},
		{"ApiKeyNotFound", CodeInvalidCredentials, false, "Identifiants API invalides. Vérifiez votre configuration."},
		{"ConnectionFailed", CodeConnectionFailed, true, "Échec de la connexion bancaire. Vérifiez vos identifiants."},
		{"SessionExpired", CodeSessionExpired, true, "Session expirée. Veuillez recommencer la connexion."},
		{"RateLimitExceeded", CodeRateLimit, true, "Trop de tentatives. Veuillez patienter quelques minutes."},
		{"MaintenanceMode", CodeMaintenance, true, "Service en maintenance. Veuillez réessayer plus tard."},
	}

	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			body := fmt.Sprintf(`{"error":{"class":%q,"message":"boom"}}`, tt.class)

			got := Translate(http.StatusBadRequest, []byte(body))

			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, "boom", got.Message)
			assert.Equal(t, tt.user, got.UserMessage)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.class, got.Class)
			assert.Equal(t, []byte(body), got.Payload)
		})
	}
}

func TestTranslate_UnknownClassKeepsDetails(t *testing.T) {
	got := Translate(http.StatusBadRequest, []byte(`{"error":{"class":"WeirdThing","message":""}}`))

	assert.Equal(t, CodeUnknownSaltEdge, got.Code)
	assert.Equal(t, "Unknown Salt Edge error", got.Message)
	assert.False(t, got.Retryable)
	assert.Equal(t, "WeirdThing", got.Details["error_class"])
}

func TestTranslate_V5Body(t *testing.T) {
	dup := Translate(http.StatusConflict, []byte(`{"error_class":"DuplicatedCustomer","error_message":"exists"}`))
	assert.Equal(t, CodeDuplicateCustomer, dup.Code)
	assert.Equal(t, "exists", dup.Message)

	other := Translate(http.StatusBadRequest, []byte(`{"error_class":"Whatever","error_message":""}`))
	assert.Equal(t, CodeUnknownSaltEdge, other.Code)
	assert.Equal(t, "Unknown Salt Edge error (v5)", other.Message)
}

func TestTranslate_StatusFallback(t *testing.T) {
	tests := []struct {
		status    int
		code      ErrorCode
		retryable bool
		message   string
	}{
		{400, CodeBadRequest, false, "Invalid request parameters"},
		{401, CodeUnauthorized, false, "Authentication failed"},
		{403, CodeForbidden, false, "Access denied"},
		{404, CodeNotFound, false, "Resource not found"},
		{429, CodeRateLimit, true, "Rate limit exceeded"},
		{500, CodeServerError, true, "Internal server error"},
		{502, CodeHTTPError, true, "HTTP 502 error"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			got := Translate(tt.status, []byte("<html>not json</html>"))

			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.message, got.Message)
			assert.Equal(t, tt.status, got.Status)
		})
	}
}

func TestTranslateTransport(t *testing.T) {
	dns := TranslateTransport(fmt.Errorf("dial: %w", &net.DNSError{Err: "no such host", Name: "saltedge"}))
	assert.Equal(t, CodeNetworkError, dns.Code)
	assert.True(t, dns.Retryable)
	assert.Equal(t, "Connection to Salt Edge API failed", dns.Message)

	refused := TranslateTransport(&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED})
	assert.Equal(t, CodeNetworkError, refused.Code)

	open := TranslateTransport(gobreaker.ErrOpenState)
	assert.Equal(t, CodeNetworkError, open.Code)
	assert.True(t, open.Retryable)
	assert.ErrorIs(t, open, gobreaker.ErrOpenState)

	generic := TranslateTransport(errors.New("something odd"))
	assert.Equal(t, CodeUnknown, generic.Code)
	assert.Equal(t, "something odd", generic.Message)
	assert.False(t, generic.Retryable)
}

func TestAPIError_HTTPStatusAndHelpers(t *testing.T) {
	retryable := &APIError{Code: CodeServerError, Retryable: true}
	permanent := &APIError{Code: CodeBadRequest}

	assert.Equal(t, http.StatusServiceUnavailable, retryable.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, permanent.HTTPStatus())

	wrapped := fmt.Errorf("outer: %w", permanent)
	got, ok := AsAPIError(wrapped)
	require.True(t, ok)
	assert.Same(t, permanent, got)
	assert.True(t, IsCode(wrapped, CodeNotFound, CodeBadRequest))
	assert.False(t, IsCode(wrapped, CodeNotFound))
	assert.False(t, IsCode(errors.New("plain"), CodeBadRequest))
}
