package synclog

import "context"

// Repository defines the interface for sync log persistence. Entries are never
// updated; they disappear only when their user is deleted.
type Repository interface {
	Append(ctx context.Context, entry *Entry) error
	ListByUserID(ctx context.Context, userID int64, limit int) ([]*Entry, error)
}
