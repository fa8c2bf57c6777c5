// Package auth verifies portal session tokens and exposes the acting
// patient or doctor to downstream handlers. Token issuance belongs to the
// external authentication service; this package only consumes its tokens.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Actor roles recognized by the portal.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
)

// Actor identifies the authenticated user for the duration of a request.
type Actor struct {
	ID   uuid.UUID
	Role string
}

type contextKey string

const actorKey contextKey = "actor"

// Claims are the session token claims issued by the auth service.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// SessionConfig configures session token verification.
type SessionConfig struct {
	Secret []byte
}

// SessionMiddleware validates the bearer token and attaches the Actor to the
// request context.
func SessionMiddleware(cfg SessionConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.Secret, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			id, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject")
			}
			if claims.Role != RolePatient && claims.Role != RoleDoctor {
				return echo.NewHTTPError(http.StatusUnauthorized, "unknown role")
			}

			ctx := context.WithValue(c.Request().Context(), actorKey, Actor{ID: id, Role: claims.Role})
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// DevAuthMiddleware is a permissive middleware for development. Requests
// without a token act as a fixed patient; X-Dev-Actor and X-Dev-Role headers
// override the identity.
func DevAuthMiddleware() echo.MiddlewareFunc {
	devID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := Actor{ID: devID, Role: RolePatient}
			if v := c.Request().Header.Get("X-Dev-Actor"); v != "" {
				if id, err := uuid.Parse(v); err == nil {
					actor.ID = id
				}
			}
			if v := c.Request().Header.Get("X-Dev-Role"); v == RolePatient || v == RoleDoctor {
				actor.Role = v
			}
			ctx := context.WithValue(c.Request().Context(), actorKey, actor)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequireRole rejects requests whose actor has none of the given roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor, ok := ActorFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "no session")
			}
			for _, required := range roles {
				if actor.Role == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				"required role: "+strings.Join(roles, " or "))
		}
	}
}

// ActorFromContext retrieves the authenticated actor from the request context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithActor returns a context carrying the given actor. Intended for
// internal callers and tests that bypass the HTTP middleware.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}
