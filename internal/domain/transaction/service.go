package transaction

import (
	"context"
	"errors"
	"fmt"
)

// Default and maximum page sizes for dashboard transaction lists
const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// Service contains the business logic for transaction operations
type Service struct {
	repo Repository
}

// NewService creates a new transaction service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Upsert validates and stores a transaction snapshot from the aggregator.
func (s *Service) Upsert(ctx context.Context, params UpsertParams) (*Transaction, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.repo.Upsert(ctx, params)
}

// ListForUser returns the user's most recent transactions with display labels.
// A non-positive limit falls back to DefaultListLimit.
func (s *Service) ListForUser(ctx context.Context, userID int64, limit int) ([]*WithAccount, error) {
	if userID <= 0 {
		return nil, errors.New("valid user ID is required")
	}

	txs, err := s.repo.ListByUserID(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	for _, tx := range txs {
		tx.CategoryLabel = CategoryLabel(tx.Category)
	}
	return txs, nil
}

// ListForAccount returns the account's most recent transactions.
func (s *Service) ListForAccount(ctx context.Context, accountID string, limit int) ([]*Transaction, error) {
	if accountID == "" {
		return nil, errors.New("account ID is required")
	}
	return s.repo.ListByAccountID(ctx, accountID, clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
