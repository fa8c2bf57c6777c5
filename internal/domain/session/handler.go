package session

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/portal/internal/domain/conversation"
	"github.com/carelink/portal/internal/platform/auth"
)

// Handler exposes conversation activation and session teardown.
type Handler struct {
	coordinator *Coordinator
}

func NewHandler(coordinator *Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/session/conversations/:contactId", h.Activate)
	g.DELETE("/session", h.End)
}

// Activate opens a conversation: subscribes to its updates, marks it read,
// and returns its history.
func (h *Handler) Activate(c echo.Context) error {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	contactID, err := uuid.Parse(c.Param("contactId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid contact id")
	}
	if contactID == actor.ID {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot converse with yourself")
	}

	history, err := h.coordinator.Activate(c.Request().Context(), actor.ID, contactID)
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			return echo.NewHTTPError(http.StatusConflict, "another conversation was opened")
		}
		var fe *conversation.FetchError
		if errors.As(err, &fe) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "conversation history unavailable")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "could not open conversation")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": history,
		"total":    len(history),
	})
}

// End tears down the actor's session.
func (h *Handler) End(c echo.Context) error {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}
	h.coordinator.End(actor.ID)
	return c.NoContent(http.StatusNoContent)
}
