package conversation

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/carelink/portal/internal/platform/changefeed"
)

// EventFunc observes a message after it has been folded into the view.
type EventFunc func(key Key, m Message)

// Subscriber holds at most one live changefeed registration, tracking the
// conversation currently on screen. Switching conversations always tears
// down the previous registration before opening the next one, so events for
// a conversation the actor has left are never delivered.
type Subscriber struct {
	feed    changefeed.Feed
	store   *Store
	logger  zerolog.Logger
	onEvent EventFunc

	mu     sync.Mutex
	active Key
	live   bool
	sub    *changefeed.Subscription
}

func NewSubscriber(feed changefeed.Feed, store *Store, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		feed:   feed,
		store:  store,
		logger: logger.With().Str("component", "conversation_subscriber").Logger(),
	}
}

// OnEvent registers a callback invoked after each ingested event. Must be
// set before the first Switch.
func (s *Subscriber) OnEvent(fn EventFunc) {
	s.onEvent = fn
}

// Switch makes key the active conversation. The previous registration, if
// any, is removed first. Switching to the already-active conversation is a
// no-op.
func (s *Subscriber) Switch(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live && s.active == key {
		return nil
	}
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
		s.live = false
	}

	a, b := key.Actors()
	sub, err := s.feed.Subscribe(ctx, changefeed.Filter{A: a, B: b}, func(e changefeed.Event) {
		s.dispatch(key, e)
	})
	if err != nil {
		return err
	}

	s.sub = sub
	s.active = key
	s.live = true
	s.logger.Debug().Str("conversation", key.String()).Msg("subscription switched")
	return nil
}

// Active returns the current conversation, if any.
func (s *Subscriber) Active() (Key, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.live
}

// Close removes the live registration. Safe to call repeatedly.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
	s.live = false
}

func (s *Subscriber) dispatch(key Key, e changefeed.Event) {
	m := &Message{
		ID:         e.ID.String(),
		SenderID:   e.SenderID,
		ReceiverID: e.ReceiverID,
		Body:       e.Body,
		CreatedAt:  e.CreatedAt,
	}
	if e.ClientKey != nil {
		m.ClientKey = *e.ClientKey
	}

	if !s.store.Ingest(key, m) {
		return
	}
	if s.onEvent != nil {
		s.onEvent(key, *m)
	}
}
