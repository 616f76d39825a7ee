package http

import (
	"errors"
	"net/http"

	"finsight/internal/domain/account"
	"finsight/internal/domain/connection"
	"finsight/internal/domain/notification"
	"finsight/internal/domain/openfinance"
	"finsight/internal/domain/transaction"
	"finsight/internal/domain/user"
	"finsight/internal/infrastructure/saltedge"
	"finsight/internal/shared/middleware"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const messageInternal = "Erreur interne du serveur"

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Details   string `json:"details,omitempty"`
}

// DataResponse wraps successful payloads.
type DataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// Responder writes JSON bodies. ShowDetails exposes raw error text and is
// off in production.
type Responder struct {
	ShowDetails bool
}

// NewResponder returns a Responder for the given environment name.
func NewResponder(environment string) Responder {
	return Responder{ShowDetails: environment != "production"}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, DataResponse{Success: true, Data: data})
}

// requireEmail returns the session email set by the auth middleware, writing
// a 401 when it is missing.
func requireEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, ok := middleware.EmailFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized", Code: "UNAUTHORIZED"})
	}
	return email, ok
}

// Error maps err onto a status code and writes the error envelope.
func (rs Responder) Error(w http.ResponseWriter, r *http.Request, err error) {
	status, body := rs.describe(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	} else {
		log.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, status, body)
}

// BadRequest writes a 400 with a fixed message.
func (rs Responder) BadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Code: "BAD_REQUEST"})
}

func (rs Responder) describe(err error) (int, ErrorResponse) {
	body := ErrorResponse{Error: messageInternal, Code: "INTERNAL_ERROR"}
	if rs.ShowDetails {
		body.Details = err.Error()
	}

	switch {
	case errors.Is(err, connection.ErrForbidden):
		body.Error, body.Code = "Connection not found or access denied", "FORBIDDEN"
		return http.StatusForbidden, body
	case errors.Is(err, connection.ErrConnectionNotFound), saltedge.IsCode(err, saltedge.CodeConnectionNotFound):
		body.Error, body.Code = "Connection not found or access denied", "NOT_FOUND"
		return http.StatusNotFound, body
	case errors.Is(err, user.ErrUserNotFound):
		body.Error, body.Code = "User not found", "NOT_FOUND"
		return http.StatusNotFound, body
	case errors.Is(err, connection.ErrCustomerNotFound), errors.Is(err, account.ErrAccountNotFound),
		errors.Is(err, transaction.ErrTransactionNotFound):
		body.Error, body.Code = "Not found", "NOT_FOUND"
		return http.StatusNotFound, body
	case errors.Is(err, openfinance.ErrConnectionRequired), errors.Is(err, openfinance.ErrInvalidSessionKind),
		errors.Is(err, user.ErrInvalidEmail), errors.Is(err, notification.ErrInvalidPlatform),
		errors.Is(err, notification.ErrInvalidToken):
		body.Error, body.Code = err.Error(), "BAD_REQUEST"
		return http.StatusBadRequest, body
	}

	if apiErr, ok := saltedge.AsAPIError(err); ok {
		body.Error = apiErr.UserMessage
		if body.Error == "" {
			body.Error = apiErr.Message
		}
		body.Code = string(apiErr.Code)
		body.Retryable = apiErr.Retryable
		if rs.ShowDetails {
			body.Details = apiErr.Message
		}
		return apiErr.HTTPStatus(), body
	}

	return http.StatusInternalServerError, body
}
