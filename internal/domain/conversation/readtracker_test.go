package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTrackerFixture() (*ReadTracker, *storeFixture) {
	f := newStoreFixture()
	tracker := NewReadTracker(f.repo, f.store, zerolog.Nop())
	tracker.now = func() time.Time { return f.at(100) }
	return tracker, f
}

func TestMarkRead_StampsCounterpartMessagesOnly(t *testing.T) {
	tracker, f := newTrackerFixture()
	fromDoctor := serverMessage(f, f.doctor, f.patient, "results", 0)
	fromPatient := serverMessage(f, f.patient, f.doctor, "thanks", 1)
	f.repo.seed(fromDoctor)
	f.repo.seed(fromPatient)

	if _, err := f.store.History(context.Background(), f.key); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := tracker.MarkRead(context.Background(), f.key, f.patient); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, m := range f.store.Snapshot(f.key) {
		switch m.SenderID {
		case f.doctor:
			if m.ReadAt == nil {
				t.Error("doctor's message should be marked read")
			}
		case f.patient:
			if m.ReadAt != nil {
				t.Error("viewer's own message must not be touched")
			}
		}
	}

	if fromDoctor.ReadAt == nil {
		t.Error("receipt should be persisted")
	}
	if fromPatient.ReadAt != nil {
		t.Error("persisted receipt must only cover the counterpart's messages")
	}
}

func TestMarkRead_Idempotent(t *testing.T) {
	tracker, f := newTrackerFixture()
	m := serverMessage(f, f.doctor, f.patient, "results", 0)
	f.repo.seed(m)

	if err := tracker.MarkRead(context.Background(), f.key, f.patient); err != nil {
		t.Fatalf("first call: %v", err)
	}
	first := *m.ReadAt

	tracker.now = func() time.Time { return f.at(200) }
	if err := tracker.MarkRead(context.Background(), f.key, f.patient); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if !m.ReadAt.Equal(first) {
		t.Error("an already-read message must keep its original receipt")
	}
}

func TestMarkRead_RejectsNonParticipant(t *testing.T) {
	tracker, f := newTrackerFixture()
	err := tracker.MarkRead(context.Background(), f.key, uuid.New())
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}
