package synclog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service writes and reads sync log entries
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new sync log service
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Append validates and stores one entry. A zero duration is stored as NULL.
func (s *Service) Append(ctx context.Context, params AppendParams) (*Entry, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:        uuid.NewString(),
		UserID:    params.UserID,
		Action:    params.Action,
		Status:    params.Status,
		Message:   params.Message,
		Errors:    params.Errors,
		CreatedAt: s.now().UTC(),
	}
	if params.ConnectionID != "" {
		connID := params.ConnectionID
		entry.ConnectionID = &connID
	}
	if params.Duration > 0 {
		ms := params.Duration.Milliseconds()
		entry.DurationMs = &ms
	}

	if err := s.repo.Append(ctx, entry); err != nil {
		return nil, err
	}

	log.Debug().
		Int64("user_id", entry.UserID).
		Str("connection_id", params.ConnectionID).
		Str("action", entry.Action).
		Str("status", entry.Status).
		Msg("sync log appended")

	return entry, nil
}

// Record appends an entry and only logs a failure. Sync bookkeeping must never
// turn a finished sync into a failed one.
func (s *Service) Record(ctx context.Context, params AppendParams) {
	if _, err := s.Append(ctx, params); err != nil {
		log.Error().Err(err).
			Int64("user_id", params.UserID).
			Str("connection_id", params.ConnectionID).
			Str("action", params.Action).
			Msg("failed to write sync log")
	}
}

// ListForUser returns the user's latest entries, newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64, limit int) ([]*Entry, error) {
	if userID <= 0 {
		return nil, errors.New("valid user ID is required")
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.repo.ListByUserID(ctx, userID, limit)
}
