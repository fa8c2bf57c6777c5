package directory

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/carelink/portal/internal/platform/auth"
)

// Handler serves the contact directory.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/contacts", h.List)
}

func (h *Handler) List(c echo.Context) error {
	actor, ok := auth.ActorFromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "no session")
	}

	contacts, err := h.service.Build(c.Request().Context(), actor.ID, actor.Role)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not build directory")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"contacts": contacts,
		"total":    len(contacts),
	})
}
