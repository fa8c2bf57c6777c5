package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, sub, role string) string {
	t.Helper()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func runSession(t *testing.T, authorization string) (Actor, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got Actor
	h := SessionMiddleware(SessionConfig{Secret: testSecret})(func(c echo.Context) error {
		got, _ = ActorFromContext(c.Request().Context())
		return nil
	})
	return got, h(c)
}

func TestSessionMiddleware_ValidToken(t *testing.T) {
	id := uuid.New()
	actor, err := runSession(t, "Bearer "+signToken(t, id.String(), RoleDoctor))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actor.ID != id {
		t.Errorf("expected actor id %s, got %s", id, actor.ID)
	}
	if actor.Role != RoleDoctor {
		t.Errorf("expected role doctor, got %s", actor.Role)
	}
}

func TestSessionMiddleware_MissingHeader(t *testing.T) {
	_, err := runSession(t, "")
	if err == nil {
		t.Fatal("expected error for missing header")
	}
}

func TestSessionMiddleware_BadRole(t *testing.T) {
	_, err := runSession(t, "Bearer "+signToken(t, uuid.New().String(), "admin"))
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestSessionMiddleware_BadSubject(t *testing.T) {
	_, err := runSession(t, "Bearer "+signToken(t, "not-a-uuid", RolePatient))
	if err == nil {
		t.Fatal("expected error for invalid subject")
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, uuid.New().String(), RolePatient))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	chain := SessionMiddleware(SessionConfig{Secret: testSecret})(
		RequireRole(RoleDoctor)(func(c echo.Context) error {
			called = true
			return nil
		}))

	err := chain(c)
	if err == nil {
		t.Fatal("expected forbidden error for patient on doctor route")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
	if called {
		t.Error("handler should not have been called")
	}
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := DevAuthMiddleware()(func(c echo.Context) error {
		actor, ok := ActorFromContext(c.Request().Context())
		if !ok {
			t.Fatal("expected actor in context")
		}
		if actor.Role != RolePatient {
			t.Errorf("expected default patient role, got %s", actor.Role)
		}
		return nil
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
