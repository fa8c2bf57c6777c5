package conversation

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/portal/internal/platform/auth"
)

// Handler exposes conversation history, sends, and read receipts over HTTP.
type Handler struct {
	store   *Store
	tracker *ReadTracker
}

func NewHandler(store *Store, tracker *ReadTracker) *Handler {
	return &Handler{store: store, tracker: tracker}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/conversations/:contactId/messages", h.History)
	g.POST("/conversations/:contactId/messages", h.Send)
	g.POST("/conversations/:contactId/read", h.MarkRead)
}

type sendRequest struct {
	Body string `json:"body"`
}

// History returns the ordered message view between the session actor and
// the contact.
func (h *Handler) History(c echo.Context) error {
	_, key, err := h.resolveKey(c)
	if err != nil {
		return err
	}

	msgs, err := h.store.History(c.Request().Context(), key)
	if err != nil {
		return translateError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"total":    len(msgs),
	})
}

// Send appends the message optimistically and returns the pending entry.
// The authoritative write completes in the background.
func (h *Handler) Send(c echo.Context) error {
	actor, key, err := h.resolveKey(c)
	if err != nil {
		return err
	}

	var req sendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	msg, err := h.store.Send(c.Request().Context(), key, actor.ID, req.Body)
	if err != nil {
		return translateError(err)
	}
	return c.JSON(http.StatusAccepted, msg)
}

// MarkRead stamps every unread message from the contact.
func (h *Handler) MarkRead(c echo.Context) error {
	actor, key, err := h.resolveKey(c)
	if err != nil {
		return err
	}

	if err := h.tracker.MarkRead(c.Request().Context(), key, actor.ID); err != nil {
		return translateError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) resolveKey(c echo.Context) (auth.Actor, Key, error) {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return auth.Actor{}, Key{}, echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	contactID, err := uuid.Parse(c.Param("contactId"))
	if err != nil {
		return auth.Actor{}, Key{}, echo.NewHTTPError(http.StatusBadRequest, "invalid contact id")
	}
	if contactID == actor.ID {
		return auth.Actor{}, Key{}, echo.NewHTTPError(http.StatusBadRequest, "cannot converse with yourself")
	}
	return actor, NewKey(actor.ID, contactID), nil
}

func translateError(err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "conversation history unavailable")
	}
	if errors.Is(err, ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "message not found")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
