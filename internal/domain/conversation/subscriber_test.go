package conversation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/portal/internal/platform/changefeed"
)

// fakeFeed records registrations and lets tests push events by hand.
type fakeFeed struct {
	filters      []changefeed.Filter
	handler      changefeed.Handler
	unsubscribes int
}

func (f *fakeFeed) Subscribe(_ context.Context, filter changefeed.Filter, fn changefeed.Handler) (*changefeed.Subscription, error) {
	f.filters = append(f.filters, filter)
	f.handler = fn
	return changefeed.NewSubscription(func() {
		f.unsubscribes++
		f.handler = nil
	}), nil
}

func (f *fakeFeed) push(e changefeed.Event) {
	if f.handler != nil {
		f.handler(e)
	}
}

func newSubscriberFixture() (*Subscriber, *fakeFeed, *storeFixture) {
	f := newStoreFixture()
	feed := &fakeFeed{}
	sub := NewSubscriber(feed, f.store, zerolog.Nop())
	return sub, feed, f
}

func TestSwitch_RegistersPairFilter(t *testing.T) {
	sub, feed, f := newSubscriberFixture()

	if err := sub.Switch(context.Background(), f.key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(feed.filters) != 1 {
		t.Fatalf("expected one registration, got %d", len(feed.filters))
	}
	filter := feed.filters[0]
	if !(filter.A == f.patient && filter.B == f.doctor) && !(filter.A == f.doctor && filter.B == f.patient) {
		t.Errorf("filter does not cover the pair: %+v", filter)
	}

	active, ok := sub.Active()
	if !ok || active != f.key {
		t.Error("conversation should be active after switch")
	}
}

func TestSwitch_TearsDownPreviousRegistration(t *testing.T) {
	sub, feed, f := newSubscriberFixture()
	other := NewKey(f.patient, uuid.New())

	if err := sub.Switch(context.Background(), f.key); err != nil {
		t.Fatalf("first switch: %v", err)
	}
	if err := sub.Switch(context.Background(), other); err != nil {
		t.Fatalf("second switch: %v", err)
	}

	if feed.unsubscribes != 1 {
		t.Errorf("previous registration should be removed, got %d unsubscribes", feed.unsubscribes)
	}
	if len(feed.filters) != 2 {
		t.Errorf("expected two registrations total, got %d", len(feed.filters))
	}
}

func TestSwitch_SameConversationIsNoop(t *testing.T) {
	sub, feed, f := newSubscriberFixture()

	sub.Switch(context.Background(), f.key)
	sub.Switch(context.Background(), f.key)

	if len(feed.filters) != 1 || feed.unsubscribes != 0 {
		t.Errorf("re-switching the active conversation should not touch the feed: %d registrations, %d unsubscribes",
			len(feed.filters), feed.unsubscribes)
	}
}

func TestSubscriber_EventIngestedAndObserved(t *testing.T) {
	sub, feed, f := newSubscriberFixture()

	var observed []Message
	sub.OnEvent(func(_ Key, m Message) { observed = append(observed, m) })
	sub.Switch(context.Background(), f.key)

	id := uuid.New()
	feed.push(changefeed.Event{
		ID:         id,
		SenderID:   f.doctor,
		ReceiverID: f.patient,
		Body:       "results are in",
		CreatedAt:  f.at(0),
	})

	snap := f.store.Snapshot(f.key)
	if len(snap) != 1 || snap[0].ID != id.String() {
		t.Fatalf("event should land in the view: %+v", snap)
	}
	if len(observed) != 1 {
		t.Fatalf("observer should fire once, got %d", len(observed))
	}

	// Redelivery of the same row changes nothing and stays silent.
	feed.push(changefeed.Event{ID: id, SenderID: f.doctor, ReceiverID: f.patient, Body: "results are in", CreatedAt: f.at(0)})
	if len(f.store.Snapshot(f.key)) != 1 {
		t.Error("duplicate event must not grow the view")
	}
	if len(observed) != 1 {
		t.Error("observer must not fire for duplicates")
	}
}

func TestClose_RemovesRegistration(t *testing.T) {
	sub, feed, f := newSubscriberFixture()
	sub.Switch(context.Background(), f.key)

	sub.Close()
	sub.Close()

	if feed.unsubscribes != 1 {
		t.Errorf("expected exactly one unsubscribe, got %d", feed.unsubscribes)
	}
	if _, ok := sub.Active(); ok {
		t.Error("no conversation should be active after close")
	}
}
