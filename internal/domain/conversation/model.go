package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Key identifies the message thread between two actors. The pair is
// unordered: NewKey(a, b) and NewKey(b, a) are the same key.
type Key struct {
	lo uuid.UUID
	hi uuid.UUID
}

// NewKey canonicalizes the actor pair into a Key.
func NewKey(a, b uuid.UUID) Key {
	if strings.Compare(a.String(), b.String()) > 0 {
		a, b = b, a
	}
	return Key{lo: a, hi: b}
}

// ParseKey parses the "lo:hi" string form produced by String.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Key{}, fmt.Errorf("malformed conversation key %q", s)
	}
	a, err := uuid.Parse(parts[0])
	if err != nil {
		return Key{}, fmt.Errorf("malformed conversation key %q: %w", s, err)
	}
	b, err := uuid.Parse(parts[1])
	if err != nil {
		return Key{}, fmt.Errorf("malformed conversation key %q: %w", s, err)
	}
	return NewKey(a, b), nil
}

func (k Key) String() string {
	return k.lo.String() + ":" + k.hi.String()
}

// Actors returns both actor ids in canonical order.
func (k Key) Actors() (uuid.UUID, uuid.UUID) {
	return k.lo, k.hi
}

// Includes reports whether id is one of the two actors.
func (k Key) Includes(id uuid.UUID) bool {
	return k.lo == id || k.hi == id
}

// Other returns the counterpart of id within the pair.
func (k Key) Other(id uuid.UUID) uuid.UUID {
	if k.lo == id {
		return k.hi
	}
	return k.lo
}

// Message is one entry in a conversation. Pending and Failed are local view
// state for optimistic sends and are never persisted; a pending message
// carries a temporary id until the authoritative write confirms it.
type Message struct {
	ID         string     `json:"id"`
	ClientKey  uuid.UUID  `json:"client_key"`
	SenderID   uuid.UUID  `json:"sender_id"`
	ReceiverID uuid.UUID  `json:"receiver_id"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	Pending    bool       `json:"pending,omitempty"`
	Failed     bool       `json:"failed,omitempty"`
}

// Before reports whether m sorts ahead of other in conversation order:
// by CreatedAt, ties broken by id.
func (m *Message) Before(other *Message) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// ValidationError rejects a malformed send before anything is stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// FetchError wraps a transport failure on a history fetch. The caller may
// retry; business-rule rejections never use this kind.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch conversation history: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
