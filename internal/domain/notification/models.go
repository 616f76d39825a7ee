package notification

import (
	"errors"
	"time"
)

// RouteBanking is the client route opened when a banking notification is tapped.
const RouteBanking = "banking"

var validPlatforms = map[string]struct{}{
	"ios":     {},
	"android": {},
	"web":     {},
}

// Domain errors
var (
	ErrDeviceTokenNotFound = errors.New("device token not found")
	ErrInvalidPlatform     = errors.New("platform must be 'ios', 'android' or 'web'")
	ErrInvalidToken        = errors.New("device token is required")
)

// DeviceToken represents a registered FCM device token
type DeviceToken struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"userId"`
	Token     string    `json:"token"`
	Platform  string    `json:"platform"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed"`
}

// RegisterDeviceParams contains parameters for registering a device
type RegisterDeviceParams struct {
	UserID   int64
	Token    string
	Platform string
}

func (p RegisterDeviceParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.Token == "" {
		return ErrInvalidToken
	}
	if !IsValidPlatform(p.Platform) {
		return ErrInvalidPlatform
	}
	return nil
}

func IsValidPlatform(p string) bool {
	_, ok := validPlatforms[p]
	return ok
}
