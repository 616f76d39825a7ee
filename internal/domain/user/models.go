package user

import (
	"errors"
	"strings"
	"time"
)

// Domain errors
var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidEmail = errors.New("a valid email is required")
)

// User is the local owner of every aggregator record. Identity comes from the
// session provider, so the email is the only stable key.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CreateUserParams struct {
	Email string
	Name  string
}

func (p CreateUserParams) Validate() error {
	if !strings.Contains(p.Email, "@") {
		return ErrInvalidEmail
	}
	return nil
}

// NormalizeEmail lower-cases and trims an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
