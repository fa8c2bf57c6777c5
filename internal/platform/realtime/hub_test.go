package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(conversations ...string) *Client {
	return &Client{
		ID:            "test-" + time.Now().String(),
		Conversations: conversations,
		Send:          make(chan []byte, 8),
	}
}

func drain(c *Client) []Event {
	var events []Event
	for {
		select {
		case data := <-c.Send:
			var e Event
			if err := json.Unmarshal(data, &e); err == nil {
				events = append(events, e)
			}
		default:
			return events
		}
	}
}

func TestHub_BroadcastToSubscribers(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c1 := newTestClient("a:b")
	c2 := newTestClient("a:c")
	h.Register(c1)
	h.Register(c2)

	h.Broadcast(Event{Type: "message", Conversation: "a:b", Timestamp: time.Now()})

	if got := drain(c1); len(got) != 1 || got[0].Conversation != "a:b" {
		t.Errorf("expected one event for c1, got %v", got)
	}
	if got := drain(c2); len(got) != 0 {
		t.Errorf("expected no events for c2, got %v", got)
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := newTestClient()
	h.Register(c)

	h.ProcessMessage(c, ClientMessage{Action: "subscribe", Conversations: []string{"x:y"}})
	if h.ConversationCount("x:y") != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.ConversationCount("x:y"))
	}

	h.Broadcast(Event{Type: "message", Conversation: "x:y"})
	if got := drain(c); len(got) != 1 {
		t.Fatalf("expected one event, got %d", len(got))
	}

	h.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Conversations: []string{"x:y"}})
	if h.ConversationCount("x:y") != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", h.ConversationCount("x:y"))
	}

	h.Broadcast(Event{Type: "message", Conversation: "x:y"})
	if got := drain(c); len(got) != 0 {
		t.Errorf("expected no events after unsubscribe, got %d", len(got))
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := newTestClient("a:b")
	h.Register(c)
	if h.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", h.ClientCount())
	}

	h.Unregister(c)
	if h.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", h.ClientCount())
	}
	if _, open := <-c.Send; open {
		t.Error("expected Send channel to be closed")
	}

	// Double unregister is a no-op.
	h.Unregister(c)
}

func TestHub_BroadcastSkipsFullBuffers(t *testing.T) {
	h := NewHub(zerolog.Nop())
	c := &Client{ID: "slow", Conversations: []string{"a:b"}, Send: make(chan []byte)}
	h.Register(c)

	// Unbuffered channel with no reader: broadcast must not block.
	done := make(chan struct{})
	go func() {
		h.Broadcast(Event{Type: "message", Conversation: "a:b"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}
