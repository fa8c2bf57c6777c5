// Package changefeed delivers newly inserted message rows as asynchronous
// events. Subscribers register a filter for one sender/receiver pair and
// receive every insert matching it until they unsubscribe.
package changefeed

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a change notification for one inserted message row.
type Event struct {
	ID         uuid.UUID  `json:"id"`
	ClientKey  *uuid.UUID `json:"client_key"`
	SenderID   uuid.UUID  `json:"sender_id"`
	ReceiverID uuid.UUID  `json:"receiver_id"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Handler consumes events for a subscription.
type Handler func(Event)

// Filter matches events belonging to the unordered pair of actor ids.
type Filter struct {
	A uuid.UUID
	B uuid.UUID
}

// Matches reports whether the event's sender/receiver pair equals the filter
// pair in either direction.
func (f Filter) Matches(e Event) bool {
	return (e.SenderID == f.A && e.ReceiverID == f.B) ||
		(e.SenderID == f.B && e.ReceiverID == f.A)
}

// Feed is the push-subscribe primitive offered by the persistence layer.
type Feed interface {
	Subscribe(ctx context.Context, filter Filter, fn Handler) (*Subscription, error)
}

// Subscription is a handle for one active filter registration.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the registration. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// NewSubscription wraps a cancel func for Feed implementations.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}
