package synclog

import (
	"errors"
	"time"
)

// Entry statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusPending = "pending"
)

// DefaultListLimit is how many entries the dashboard shows.
const DefaultListLimit = 50

var ErrInvalidStatus = errors.New("sync log status must be success, error or pending")

// Entry is an append-only audit record of one synchronization attempt.
type Entry struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"userId"`
	ConnectionID *string   `json:"connectionId,omitempty"`
	Action       string    `json:"action"`
	Status       string    `json:"status"`
	Message      string    `json:"message"`
	DurationMs   *int64    `json:"durationMs,omitempty"`
	Errors       []string  `json:"errors,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AppendParams contains parameters for writing a sync log entry
type AppendParams struct {
	UserID       int64
	ConnectionID string
	Action       string
	Status       string
	Message      string
	Duration     time.Duration
	Errors       []string
}

func (p AppendParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.Action == "" {
		return errors.New("action is required")
	}
	switch p.Status {
	case StatusSuccess, StatusError, StatusPending:
		return nil
	default:
		return ErrInvalidStatus
	}
}
