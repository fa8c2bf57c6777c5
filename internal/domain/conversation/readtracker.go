package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ReadTracker stamps read receipts. Only messages the counterpart sent are
// ever touched; the viewer's own messages keep whatever receipt the other
// side gave them.
type ReadTracker struct {
	repo   Repository
	store  *Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewReadTracker(repo Repository, store *Store, logger zerolog.Logger) *ReadTracker {
	return &ReadTracker{
		repo:   repo,
		store:  store,
		logger: logger.With().Str("component", "read_tracker").Logger(),
		now:    time.Now,
	}
}

// MarkRead marks every unread message from the viewer's counterpart as read,
// in storage and in the local view. Calling it when nothing is unread is a
// no-op.
func (t *ReadTracker) MarkRead(ctx context.Context, key Key, viewerID uuid.UUID) error {
	if !key.Includes(viewerID) {
		return &ValidationError{Field: "viewer_id", Reason: "not a participant"}
	}

	at := t.now()
	n, err := t.repo.MarkRead(ctx, key, viewerID, at)
	if err != nil {
		return err
	}
	if n > 0 {
		t.logger.Debug().
			Str("conversation", key.String()).
			Int64("messages", n).
			Msg("marked read")
	}
	t.store.markRead(key, key.Other(viewerID), at)
	return nil
}
