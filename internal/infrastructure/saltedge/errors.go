package saltedge

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"
)

// ErrorCode is the closed set of failure kinds surfaced by the client.
type ErrorCode string

const (
	CodeDuplicateCustomer  ErrorCode = "DUPLICATE_CUSTOMER"
	CodeCustomerNotFound   ErrorCode = "CUSTOMER_NOT_FOUND"
	CodeConnectionNotFound ErrorCode = "CONNECTION_NOT_FOUND"
	CodeProviderNotFound   ErrorCode = "PROVIDER_NOT_FOUND"
	CodeProviderDisabled   ErrorCode = "PROVIDER_DISABLED"
	CodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	CodeConnectionFailed   ErrorCode = "CONNECTION_FAILED"
	CodeSessionExpired     ErrorCode = "SESSION_EXPIRED"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeMaintenance        ErrorCode = "MAINTENANCE"
	CodeNetworkError       ErrorCode = "NETWORK_ERROR"
	CodeUnknownSaltEdge    ErrorCode = "UNKNOWN_SALT_EDGE_ERROR"
	CodeBadRequest         ErrorCode = "BAD_REQUEST"
	CodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	CodeForbidden          ErrorCode = "FORBIDDEN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeServerError        ErrorCode = "SERVER_ERROR"
	CodeHTTPError          ErrorCode = "HTTP_ERROR"
	CodeUnknown            ErrorCode = "UNKNOWN_ERROR"
)

// APIError is the single error type returned for aggregator failures.
type APIError struct {
	Code        ErrorCode
	Message     string
	UserMessage string
	Retryable   bool
	// Status is the HTTP status returned by the aggregator, 0 for transport failures.
	Status  int
	Class   string
	Details map[string]any
	// Payload is the raw response body.
	Payload []byte
	cause   error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("saltedge [%s]: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// HTTPStatus maps the error onto the status returned to API callers.
func (e *APIError) HTTPStatus() int {
	if e.Retryable {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

// AsAPIError unwraps err into an *APIError when possible.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsCode reports whether err is an *APIError carrying one of codes.
func IsCode(err error, codes ...ErrorCode) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	for _, c := range codes {
		if apiErr.Code == c {
			return true
		}
	}
	return false
}

type classMapping struct {
	code        ErrorCode
	userMessage string
	retryable   bool
}

var classMappings = map[string]classMapping{
	"DuplicatedCustomer": {CodeDuplicateCustomer, "Profil utilisateur déjà existant (géré automatiquement)", false},
	"CustomerNotFound":   {CodeCustomerNotFound, "Profil utilisateur introuvable. Veuillez recréer votre connexion.", false},
	"ConnectionNotFound": {CodeConnectionNotFound, "Connexion bancaire introuvable. Veuillez vous reconnecter.", false},
	"ProviderNotFound":   {CodeProviderNotFound, "Banque non supportée. Veuillez choisir une autre banque.", false},
	"ProviderDisabled":   {CodeProviderDisabled, "Cette banque est temporairement indisponible. Essayez une autre banque.", true},
	"InvalidCredentials": {CodeInvalidCredentials, "Identifiants bancaires incorrects. Vérifiez vos informations.", true},
	"ApiKeyNotFound":     {CodeInvalidCredentials, "Identifiants API invalides. Vérifiez votre configuration.", false},
	"ConnectionFailed":   {CodeConnectionFailed, "Échec de la connexion bancaire. Vérifiez vos identifiants.", true},
	"SessionExpired":     {CodeSessionExpired, "Session expirée. Veuillez recommencer la connexion.", true},
	"RateLimitExceeded":  {CodeRateLimit, "Trop de tentatives. Veuillez patienter quelques minutes.", true},
	"MaintenanceMode":    {CodeMaintenance, "Service en maintenance. Veuillez réessayer plus tard.", true},
}

const unknownSaltEdgeMessage = "Erreur inattendue du service bancaire. Contactez le support."

type statusMapping struct {
	code        ErrorCode
	message     string
	userMessage string
	retryable   bool
}

var statusMappings = map[int]statusMapping{
	http.StatusBadRequest:          {CodeBadRequest, "Invalid request parameters", "Paramètres de requête invalides. Veuillez réessayer.", false},
	http.StatusUnauthorized:        {CodeUnauthorized, "Authentication failed", "Authentification échouée. Vérifiez la configuration.", false},
	http.StatusForbidden:           {CodeForbidden, "Access denied", "Accès refusé. Vérifiez vos permissions.", false},
	http.StatusNotFound:            {CodeNotFound, "Resource not found", "Ressource introuvable.", false},
	http.StatusTooManyRequests:     {CodeRateLimit, "Rate limit exceeded", "Trop de requêtes. Veuillez patienter.", true},
	http.StatusInternalServerError: {CodeServerError, "Internal server error", "Erreur serveur temporaire. Veuillez réessayer.", true},
}

// errorBody covers both the v6 envelope and the legacy v5 flat fields.
type errorBody struct {
	Error *struct {
		Class   string `json:"class"`
		Message string `json:"message"`
	} `json:"error"`
	ErrorClass   string `json:"error_class"`
	ErrorMessage string `json:"error_message"`
	RequestID    string `json:"request_id"`
}

// Translate classifies a non-2xx aggregator response. The v6 error envelope is
// preferred, then the v5 flat fields, then the HTTP status.
func Translate(status int, body []byte) *APIError {
	var parsed errorBody
	if len(body) > 0 && json.Unmarshal(body, &parsed) == nil {
		if parsed.Error != nil && (parsed.Error.Class != "" || parsed.Error.Message != "") {
			return fromClass(status, body, parsed.Error.Class, parsed.Error.Message, "Unknown Salt Edge error")
		}
		if parsed.ErrorClass != "" || parsed.ErrorMessage != "" {
			if parsed.ErrorClass == "DuplicatedCustomer" {
				return fromClass(status, body, parsed.ErrorClass, parsed.ErrorMessage, "")
			}
			return &APIError{
				Code:        CodeUnknownSaltEdge,
				Message:     firstNonEmpty(parsed.ErrorMessage, "Unknown Salt Edge error (v5)"),
				UserMessage: unknownSaltEdgeMessage,
				Status:      status,
				Class:       parsed.ErrorClass,
				Details:     map[string]any{"error_class": parsed.ErrorClass, "error_message": parsed.ErrorMessage},
				Payload:     body,
			}
		}
	}

	if m, ok := statusMappings[status]; ok {
		return &APIError{
			Code:        m.code,
			Message:     m.message,
			UserMessage: m.userMessage,
			Retryable:   m.retryable,
			Status:      status,
			Payload:     body,
		}
	}

	return &APIError{
		Code:        CodeHTTPError,
		Message:     fmt.Sprintf("HTTP %d error", status),
		UserMessage: "Erreur de communication. Veuillez réessayer.",
		Retryable:   true,
		Status:      status,
		Payload:     body,
	}
}

func fromClass(status int, body []byte, class, message, fallback string) *APIError {
	if m, ok := classMappings[class]; ok {
		return &APIError{
			Code:        m.code,
			Message:     message,
			UserMessage: m.userMessage,
			Retryable:   m.retryable,
			Status:      status,
			Class:       class,
			Payload:     body,
		}
	}
	return &APIError{
		Code:        CodeUnknownSaltEdge,
		Message:     firstNonEmpty(message, fallback),
		UserMessage: unknownSaltEdgeMessage,
		Status:      status,
		Class:       class,
		Details:     map[string]any{"error_class": class, "error_message": message},
		Payload:     body,
	}
}

// narrowNotFound turns a bare 404 from a single-resource endpoint into that
// resource's not-found code. Responses that named an error class are kept.
func narrowNotFound(err error, class string) error {
	apiErr, ok := AsAPIError(err)
	if !ok || apiErr.Code != CodeNotFound {
		return err
	}
	m := classMappings[class]
	narrowed := *apiErr
	narrowed.Code = m.code
	narrowed.UserMessage = m.userMessage
	return &narrowed
}

// TranslateTransport classifies failures that happened before a response was read.
func TranslateTransport(err error) *APIError {
	if apiErr, ok := AsAPIError(err); ok {
		return apiErr
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &APIError{
			Code:        CodeNetworkError,
			Message:     "Salt Edge API temporarily unavailable: " + err.Error(),
			UserMessage: "Impossible de se connecter au service bancaire. Veuillez réessayer.",
			Retryable:   true,
			cause:       err,
		}
	}

	var dnsErr *net.DNSError
	var netErr net.Error
	if errors.As(err, &dnsErr) || errors.Is(err, syscall.ECONNREFUSED) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &APIError{
			Code:        CodeNetworkError,
			Message:     "Connection to Salt Edge API failed",
			UserMessage: "Impossible de se connecter au service bancaire. Veuillez réessayer.",
			Retryable:   true,
			cause:       err,
		}
	}

	msg := "Unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &APIError{
		Code:        CodeUnknown,
		Message:     msg,
		UserMessage: "Erreur inattendue. Veuillez réessayer ou contactez le support.",
		cause:       err,
	}
}

func rateLimitError() *APIError {
	return &APIError{
		Code:        CodeRateLimit,
		Message:     "Rate limit exceeded. Please wait before making more requests.",
		UserMessage: "Trop de tentatives. Veuillez patienter quelques minutes.",
		Retryable:   true,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
