package account

import (
	"context"
	"errors"
	"fmt"
)

// Service contains the business logic for account operations
type Service struct {
	repo Repository
}

// NewService creates a new account service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Upsert validates and stores an account snapshot from the aggregator.
func (s *Service) Upsert(ctx context.Context, params UpsertParams) (*Account, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.repo.Upsert(ctx, params)
}

// ListByUserID returns every account the user owns across all connections.
func (s *Service) ListByUserID(ctx context.Context, userID int64) ([]*Account, error) {
	if userID <= 0 {
		return nil, errors.New("valid user ID is required")
	}
	return s.repo.ListByUserID(ctx, userID)
}

// ListByConnectionID returns the accounts stored for one connection.
func (s *Service) ListByConnectionID(ctx context.Context, connectionID string) ([]*Account, error) {
	if connectionID == "" {
		return nil, errors.New("connection ID is required")
	}
	return s.repo.ListByConnectionID(ctx, connectionID)
}
