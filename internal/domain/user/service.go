package user

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Service contains the business logic for user operations
type Service struct {
	repo Repository
}

// NewService creates a new user service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Resolve maps a session email onto the local user, creating it when needed.
func (s *Service) Resolve(ctx context.Context, email, name string) (*User, error) {
	params := CreateUserParams{Email: NormalizeEmail(email), Name: name}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return s.repo.GetOrCreate(ctx, params)
}

// GetByEmail looks up an existing user without creating one.
func (s *Service) GetByEmail(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, ErrInvalidEmail
	}
	return s.repo.GetByEmail(ctx, email)
}

// DeleteByEmail removes every record owned by the user. A user that does not
// exist has nothing to delete, so that case is not an error.
func (s *Service) DeleteByEmail(ctx context.Context, email string) error {
	u, err := s.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		log.Info().Str("email", NormalizeEmail(email)).Msg("user data deletion skipped: no such user")
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, u.ID); err != nil {
		return err
	}

	log.Info().Int64("user_id", u.ID).Msg("user data deleted")
	return nil
}
