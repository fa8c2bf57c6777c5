package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the message does not exist.
	ErrNotFound = errors.New("message not found")
)

// Repository persists messages. Insert is idempotent on the client key: a
// second insert with the same key returns the already-stored row instead of
// a duplicate.
type Repository interface {
	History(ctx context.Context, key Key) ([]*Message, error)
	Insert(ctx context.Context, m *Message) (*Message, error)
	Latest(ctx context.Context, key Key) (*Message, error)
	MarkRead(ctx context.Context, key Key, viewerID uuid.UUID, at time.Time) (int64, error)
}
