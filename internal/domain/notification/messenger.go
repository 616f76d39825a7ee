package notification

import "context"

// Push is one notification addressed to every device of a user.
type Push struct {
	Title string
	Body  string
	Data  map[string]string
	// CollapseKey makes a newer push replace an undelivered older one with the
	// same key, so a device only shows the latest result per connection.
	CollapseKey string
}

// Delivery counts per-device outcomes of a Send.
type Delivery struct {
	Sent   int
	Failed int
}

// Messenger delivers pushes. Implemented by the Firebase client.
type Messenger interface {
	Send(ctx context.Context, tokens []string, push Push) (Delivery, error)
}
