// Package session coordinates what an actor is currently looking at: which
// conversation is open, its live subscription, and the read receipts that
// follow from having it on screen.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/portal/internal/domain/conversation"
	"github.com/carelink/portal/internal/platform/changefeed"
)

// ErrSuperseded means the actor opened another conversation while this
// activation was still fetching; its result must be discarded.
var ErrSuperseded = errors.New("activation superseded")

// Notifier observes messages ingested for an actor's active conversation.
type Notifier func(actorID uuid.UUID, key conversation.Key, m conversation.Message)

type actorSession struct {
	subscriber *conversation.Subscriber
	active     conversation.Key
	epoch      uint64
}

// Coordinator tracks one active conversation per actor. Activating a
// conversation subscribes to its changefeed, loads its history, and marks
// it read; activating another one first tears the previous subscription
// down. A history fetch that finishes after the actor has moved on is
// dropped rather than shown.
type Coordinator struct {
	feed    changefeed.Feed
	store   *conversation.Store
	tracker *conversation.ReadTracker
	logger  zerolog.Logger
	notify  Notifier
	spawn   func(func())

	mu       sync.Mutex
	sessions map[uuid.UUID]*actorSession
}

func NewCoordinator(feed changefeed.Feed, store *conversation.Store, tracker *conversation.ReadTracker, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		feed:     feed,
		store:    store,
		tracker:  tracker,
		logger:   logger.With().Str("component", "session").Logger(),
		spawn:    func(fn func()) { go fn() },
		sessions: make(map[uuid.UUID]*actorSession),
	}
}

// SetNotifier registers the observer for live messages. Must be called
// before the first activation.
func (c *Coordinator) SetNotifier(fn Notifier) {
	c.notify = fn
}

// Activate opens the conversation with contactID for the actor and returns
// its history. Unread messages from the contact are marked read, matching
// the conversation coming on screen.
func (c *Coordinator) Activate(ctx context.Context, actorID, contactID uuid.UUID) ([]conversation.Message, error) {
	key := conversation.NewKey(actorID, contactID)

	c.mu.Lock()
	sess := c.ensure(actorID)
	sess.epoch++
	epoch := sess.epoch
	sess.active = key
	subscriber := sess.subscriber
	c.mu.Unlock()

	if err := subscriber.Switch(ctx, key); err != nil {
		return nil, err
	}

	history, err := c.store.History(ctx, key)
	if err != nil {
		return nil, err
	}

	// The actor may have opened another conversation while the fetch was
	// in flight; its result belongs to a view that no longer exists.
	c.mu.Lock()
	stale := sess.epoch != epoch
	c.mu.Unlock()
	if stale {
		return nil, ErrSuperseded
	}

	if err := c.tracker.MarkRead(ctx, key, actorID); err != nil {
		c.logger.Warn().Err(err).
			Str("conversation", key.String()).
			Msg("mark read on open failed")
	}
	return history, nil
}

// Active returns the actor's open conversation, if any.
func (c *Coordinator) Active(actorID uuid.UUID) (conversation.Key, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[actorID]
	if !ok {
		return conversation.Key{}, false
	}
	return sess.subscriber.Active()
}

// End tears the actor's session down: the subscription is removed and the
// next activation starts from a fresh fetch.
func (c *Coordinator) End(actorID uuid.UUID) {
	c.mu.Lock()
	sess, ok := c.sessions[actorID]
	if ok {
		delete(c.sessions, actorID)
	}
	c.mu.Unlock()
	if ok {
		key, live := sess.subscriber.Active()
		sess.subscriber.Close()
		if live {
			c.store.Drop(key)
		}
		c.logger.Debug().Str("actor_id", actorID.String()).Msg("session ended")
	}
}

// Shutdown ends every session and discards the cached views.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[uuid.UUID]*actorSession)
	c.mu.Unlock()
	for _, sess := range sessions {
		sess.subscriber.Close()
	}
	c.store.Reset()
}

func (c *Coordinator) ensure(actorID uuid.UUID) *actorSession {
	sess, ok := c.sessions[actorID]
	if ok {
		return sess
	}
	sess = &actorSession{
		subscriber: conversation.NewSubscriber(c.feed, c.store, c.logger),
	}
	sess.subscriber.OnEvent(func(key conversation.Key, m conversation.Message) {
		c.onMessage(actorID, key, m)
	})
	c.sessions[actorID] = sess
	return sess
}

// onMessage runs after an event lands in the view. A message from the
// contact while their conversation is on screen is read immediately.
func (c *Coordinator) onMessage(actorID uuid.UUID, key conversation.Key, m conversation.Message) {
	if c.notify != nil {
		c.notify(actorID, key, m)
	}
	if m.SenderID == actorID {
		return
	}

	c.mu.Lock()
	sess, ok := c.sessions[actorID]
	active := ok && sess.active == key
	c.mu.Unlock()
	if !active {
		return
	}

	c.spawn(func() {
		if err := c.tracker.MarkRead(context.Background(), key, actorID); err != nil {
			c.logger.Warn().Err(err).
				Str("conversation", key.String()).
				Msg("mark read on live message failed")
		}
	})
}
