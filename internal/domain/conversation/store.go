package conversation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// reconcileWindow bounds the fallback match between an optimistic entry and
// an incoming event when no client key lines up.
const reconcileWindow = 5 * time.Second

const tempIDPrefix = "tmp-"

// Store keeps an in-memory ordered view per conversation on top of the
// message repository. Sends append an optimistic entry immediately and
// confirm it against the authoritative write in the background; pushed
// events are folded in idempotently. All view mutations are serialized
// through one mutex so readers never observe a half-applied update.
type Store struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
	spawn  func(func())

	mu    sync.Mutex
	views map[Key]*view
}

type view struct {
	loaded bool
	msgs   []*Message
}

func NewStore(repo Repository, logger zerolog.Logger) *Store {
	return &Store{
		repo:   repo,
		logger: logger.With().Str("component", "conversation_store").Logger(),
		now:    time.Now,
		spawn:  func(fn func()) { go fn() },
		views:  make(map[Key]*view),
	}
}

// History returns the ordered view for key, loading it from the repository
// on first access. A repository failure surfaces as a *FetchError and leaves
// the view unloaded so the next call retries.
func (s *Store) History(ctx context.Context, key Key) ([]Message, error) {
	s.mu.Lock()
	v := s.ensure(key)
	if v.loaded {
		snap := snapshot(v)
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()

	fetched, err := s.repo.History(ctx, key)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v = s.ensure(key)
	if !v.loaded {
		s.mergeFetched(v, fetched)
		v.loaded = true
	}
	return snapshot(v), nil
}

// mergeFetched rebuilds the view from authoritative rows, carrying over
// local entries that are still in flight or flagged failed.
func (s *Store) mergeFetched(v *view, fetched []*Message) {
	byKey := make(map[uuid.UUID]bool, len(fetched))
	for _, m := range fetched {
		byKey[m.ClientKey] = true
	}
	merged := make([]*Message, len(fetched))
	copy(merged, fetched)

	local := v.msgs
	v.msgs = merged
	for _, m := range local {
		if (m.Pending || m.Failed) && !byKey[m.ClientKey] {
			s.insertOrdered(v, m)
		}
	}
}

// Snapshot returns the current view without touching the repository.
func (s *Store) Snapshot(key Key) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[key]
	if !ok {
		return nil
	}
	return snapshot(v)
}

// Send appends an optimistic entry for the given sender and body and kicks
// off the authoritative write in the background. The returned message
// carries a temporary id and Pending set; the entry is confirmed in place
// once the write lands, or flagged Failed if it does not.
func (s *Store) Send(ctx context.Context, key Key, senderID uuid.UUID, body string) (Message, error) {
	if strings.TrimSpace(body) == "" {
		return Message{}, &ValidationError{Field: "body", Reason: "must not be empty"}
	}
	if !key.Includes(senderID) {
		return Message{}, &ValidationError{Field: "sender_id", Reason: "not a participant"}
	}

	optimistic := &Message{
		ID:         tempIDPrefix + uuid.NewString(),
		ClientKey:  uuid.New(),
		SenderID:   senderID,
		ReceiverID: key.Other(senderID),
		Body:       body,
		CreatedAt:  s.now(),
		Pending:    true,
	}

	s.mu.Lock()
	v := s.ensure(key)
	s.insertOrdered(v, optimistic)
	s.mu.Unlock()

	// The write must outlive the request that triggered it.
	writeCtx := context.WithoutCancel(ctx)
	toStore := *optimistic
	s.spawn(func() {
		stored, err := s.repo.Insert(writeCtx, &toStore)
		if err != nil {
			s.logger.Error().Err(err).
				Str("conversation", key.String()).
				Msg("message write failed")
			s.markFailed(key, optimistic.ClientKey)
			return
		}
		s.confirm(key, optimistic.ClientKey, stored)
	})

	return *optimistic, nil
}

// confirm replaces the optimistic entry carrying clientKey with the
// authoritative row. If a pushed event already delivered the row, the
// optimistic duplicate is dropped instead.
func (s *Store) confirm(key Key, clientKey uuid.UUID, stored *Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.ensure(key)

	alreadyDelivered := false
	for _, m := range v.msgs {
		if m.ID == stored.ID {
			alreadyDelivered = true
			break
		}
	}

	for i, m := range v.msgs {
		if m.ClientKey != clientKey || !m.Pending {
			continue
		}
		if alreadyDelivered {
			v.msgs = append(v.msgs[:i], v.msgs[i+1:]...)
			return
		}
		m.ID = stored.ID
		m.CreatedAt = stored.CreatedAt
		m.ReadAt = stored.ReadAt
		m.Pending = false
		m.Failed = false
		return
	}

	if !alreadyDelivered {
		confirmed := *stored
		s.insertOrdered(v, &confirmed)
	}
}

func (s *Store) markFailed(key Key, clientKey uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.ensure(key)
	for _, m := range v.msgs {
		if m.ClientKey == clientKey && m.Pending {
			m.Pending = false
			m.Failed = true
			return
		}
	}
}

// Ingest folds a pushed message into the view. It is idempotent: an event
// whose server id is already present is dropped, and an event matching an
// optimistic entry confirms that entry in place instead of duplicating it.
// It reports whether the view changed.
func (s *Store) Ingest(key Key, incoming *Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.ensure(key)

	for _, m := range v.msgs {
		if m.ID == incoming.ID {
			return false
		}
	}

	if m := s.matchOptimistic(v, incoming); m != nil {
		m.ID = incoming.ID
		m.CreatedAt = incoming.CreatedAt
		m.ReadAt = incoming.ReadAt
		m.Pending = false
		m.Failed = false
		return true
	}

	added := *incoming
	s.insertOrdered(v, &added)
	return true
}

// matchOptimistic finds the in-flight entry the incoming event confirms:
// by client key when present, otherwise by sender, body, and proximity of
// timestamps.
func (s *Store) matchOptimistic(v *view, incoming *Message) *Message {
	if incoming.ClientKey != uuid.Nil {
		for _, m := range v.msgs {
			if m.Pending && m.ClientKey == incoming.ClientKey {
				return m
			}
		}
	}
	for _, m := range v.msgs {
		if !m.Pending || m.SenderID != incoming.SenderID || m.Body != incoming.Body {
			continue
		}
		delta := incoming.CreatedAt.Sub(m.CreatedAt)
		if delta < 0 {
			delta = -delta
		}
		if delta <= reconcileWindow {
			return m
		}
	}
	return nil
}

// markRead stamps every unread message from counterpart in the local view.
func (s *Store) markRead(key Key, counterpartID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.views[key]
	if !ok {
		return
	}
	for _, m := range v.msgs {
		if m.SenderID == counterpartID && m.ReadAt == nil && !m.Pending && !m.Failed {
			stamp := at
			m.ReadAt = &stamp
		}
	}
}

// Latest returns the newest message of the conversation, from the loaded
// view when available and from the repository otherwise. A conversation
// with no messages yields nil.
func (s *Store) Latest(ctx context.Context, key Key) (*Message, error) {
	s.mu.Lock()
	if v, ok := s.views[key]; ok && v.loaded {
		for i := len(v.msgs) - 1; i >= 0; i-- {
			if !v.msgs[i].Failed {
				last := *v.msgs[i]
				s.mu.Unlock()
				return &last, nil
			}
		}
		s.mu.Unlock()
		return nil, nil
	}
	s.mu.Unlock()
	return s.repo.Latest(ctx, key)
}

// Drop discards the view for key, forcing a reload on next access.
func (s *Store) Drop(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, key)
}

// Reset discards every view. Used when the session is torn down.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = make(map[Key]*view)
}

func (s *Store) ensure(key Key) *view {
	v, ok := s.views[key]
	if !ok {
		v = &view{}
		s.views[key] = v
	}
	return v
}

// insertOrdered places m at its chronological position, scanning from the
// tail since inserts are almost always appends.
func (s *Store) insertOrdered(v *view, m *Message) {
	i := len(v.msgs)
	for i > 0 && m.Before(v.msgs[i-1]) {
		i--
	}
	v.msgs = append(v.msgs, nil)
	copy(v.msgs[i+1:], v.msgs[i:])
	v.msgs[i] = m
}

func snapshot(v *view) []Message {
	out := make([]Message, len(v.msgs))
	for i, m := range v.msgs {
		out[i] = *m
	}
	return out
}
