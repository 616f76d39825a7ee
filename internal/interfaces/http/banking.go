package http

import (
	"context"
	"net/http"
	"strconv"

	"finsight/internal/domain/openfinance"
	"finsight/internal/domain/synclog"
	"finsight/internal/domain/transaction"
)

// BankingReader serves stored banking data. Implemented by openfinance.Dashboard.
type BankingReader interface {
	Overview(ctx context.Context, email string) (*openfinance.Overview, error)
	Transactions(ctx context.Context, email string, limit int) ([]*transaction.WithAccount, error)
	SyncLogs(ctx context.Context, email string) ([]*synclog.Entry, error)
	DeleteUserData(ctx context.Context, email string) error
}

type BankingHandler struct {
	Responder
	banking BankingReader
}

func NewBankingHandler(banking BankingReader, responder Responder) *BankingHandler {
	return &BankingHandler{Responder: responder, banking: banking}
}

// HandleOverview returns the user's connections and accounts with balance totals.
func (h *BankingHandler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}

	overview, err := h.banking.Overview(r.Context(), email)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	writeData(w, overview)
}

// HandleTransactions returns the user's latest transactions. ?limit= defaults to 100.
func (h *BankingHandler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}

	limit := transaction.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	txs, err := h.banking.Transactions(r.Context(), email, limit)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	writeData(w, txs)
}

// HandleSyncLogs returns the latest sync log entries.
func (h *BankingHandler) HandleSyncLogs(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}

	entries, err := h.banking.SyncLogs(r.Context(), email)
	if err != nil {
		h.Error(w, r, err)
		return
	}
	writeData(w, entries)
}

// HandleDeleteUserData removes every stored record of the user.
func (h *BankingHandler) HandleDeleteUserData(w http.ResponseWriter, r *http.Request) {
	email, ok := requireEmail(w, r)
	if !ok {
		return
	}

	if err := h.banking.DeleteUserData(r.Context(), email); err != nil {
		h.Error(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Toutes les données bancaires ont été supprimées",
	})
}
