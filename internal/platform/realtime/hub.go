// Package realtime fans message events out to connected browser clients
// over WebSockets. Clients subscribe to conversation keys and receive every
// event broadcast for those conversations.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Event is a realtime notification pushed to WebSocket clients.
type Event struct {
	Type         string          `json:"type"`
	Conversation string          `json:"conversation"`
	Timestamp    time.Time       `json:"timestamp"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound control message from a WebSocket client.
type ClientMessage struct {
	Action        string   `json:"action"`
	Conversations []string `json:"conversations"`
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents a single WebSocket connection.
type Client struct {
	ID            string
	Conversations []string
	Send          chan []byte
	conn          Conn
}

// Hub tracks clients and their conversation subscriptions and broadcasts
// events to them. All operations are safe for concurrent use.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // conversation -> clients
	all     map[*Client]struct{}
}

// NewHub creates a Hub ready to manage WebSocket clients.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
	}
}

// Register adds a client and subscribes it to its initial conversations.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, conv := range client.Conversations {
		if h.clients[conv] == nil {
			h.clients[conv] = make(map[*Client]struct{})
		}
		h.clients[conv][client] = struct{}{}
	}
}

// Unregister removes a client from the hub and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}

	for _, conv := range client.Conversations {
		if subscribers, ok := h.clients[conv]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, conv)
			}
		}
	}

	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds conversations to an already-registered client.
func (h *Hub) Subscribe(client *Client, conversations []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, conv := range conversations {
		if h.clients[conv] == nil {
			h.clients[conv] = make(map[*Client]struct{})
		}
		h.clients[conv][client] = struct{}{}
	}
	client.Conversations = append(client.Conversations, conversations...)
}

// Unsubscribe removes conversations from an already-registered client.
func (h *Hub) Unsubscribe(client *Client, conversations []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(conversations))
	for _, conv := range conversations {
		removeSet[conv] = struct{}{}
		if subscribers, ok := h.clients[conv]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, conv)
			}
		}
	}

	remaining := make([]string, 0, len(client.Conversations))
	for _, conv := range client.Conversations {
		if _, rm := removeSet[conv]; !rm {
			remaining = append(remaining, conv)
		}
	}
	client.Conversations = remaining
}

// ProcessMessage dispatches an inbound control message.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Conversations)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Conversations)
	}
}

// Broadcast sends an event to every client subscribed to its conversation.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("realtime: marshal event failed")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[event.Conversation] {
		select {
		case client.Send <- data:
		default:
			// Client buffer full; skip to avoid blocking.
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// ConversationCount returns the number of clients subscribed to one conversation.
func (h *Hub) ConversationCount(conversation string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[conversation])
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Handler upgrades HTTP connections to WebSocket and pumps messages.
type Handler struct {
	hub *Hub
}

// NewHandler creates a WebSocket handler bound to the given Hub.
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes registers the WebSocket endpoint on the provided group.
func (wh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wh.HandleConnect)
}

// HandleConnect upgrades the connection, registers the client, and starts
// the read/write pumps.
func (wh *Handler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:            uuid.New().String(),
		Conversations: []string{},
		Send:          make(chan []byte, 256),
		conn:          &gorillaConnAdapter{ws},
	}

	wh.hub.Register(client)

	go wh.writePump(client)
	go wh.readPump(client)

	return nil
}

func (wh *Handler) readPump(client *Client) {
	defer func() {
		wh.hub.Unregister(client)
		client.conn.Close()
	}()

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue // Ignore malformed messages.
		}

		wh.hub.ProcessMessage(client, msg)
	}
}

func (wh *Handler) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}

type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
