package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func contextForPath(path string, header http.Header) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)
	return c
}

func TestAuthSkipper(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/health/db", true},
		{"/metrics", true},
		{"/ws", true},
		{"/api/v1/orders", false},
		{"/api/v1/prescriptions", false},
		{"/api/v1/providers", false},
		{"/api/v1/catalog/items", false},
		{"/", false},
		{"/health/extra", false},
	}
	for _, tc := range cases {
		if got := AuthSkipper(contextForPath(tc.path, nil)); got != tc.want {
			t.Errorf("AuthSkipper(%s) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	if !IsPublicPath("/health") || !IsPublicPath("/metrics") {
		t.Error("infrastructure endpoints must be public")
	}
	if IsPublicPath("/api/v1/orders") {
		t.Error("API endpoints must not be public")
	}
}

func TestJWTMiddleware_SkipperBypassesPublicPaths(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})

	for _, path := range []string{"/health", "/health/db", "/metrics", "/ws"} {
		called := false
		err := mw(func(c echo.Context) error {
			called = true
			return c.String(http.StatusOK, "ok")
		})(contextForPath(path, nil))
		if err != nil {
			t.Errorf("%s: unexpected error without credentials: %v", path, err)
		}
		if !called {
			t.Errorf("%s: handler did not run", path)
		}
	}
}

func TestJWTMiddleware_SkipperKeepsProtectedPathsGuarded(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})

	err := mw(func(c echo.Context) error {
		t.Error("handler must not run without credentials")
		return nil
	})(contextForPath("/api/v1/orders", nil))

	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %v", err)
	}
	if httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", httpErr.Code)
	}
}

func TestJWTMiddleware_NilSkipperGuardsEverything(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})

	if err := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(contextForPath("/health", nil)); err == nil {
		t.Fatal("expected error when no skipper is configured")
	}
}

func TestJWTMiddleware_ValidTokenWithSkipperConfigured(t *testing.T) {
	tokenStr := createTestToken(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-789",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Roles: []string{RolePharmacist},
	}, testSigningKey)

	c := contextForPath("/api/v1/orders", http.Header{"Authorization": {"Bearer " + tokenStr}})
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})

	called := false
	err := mw(func(c echo.Context) error {
		called = true
		if uid := UserIDFromContext(c.Request().Context()); uid != "user-789" {
			t.Errorf("user id = %q, want user-789", uid)
		}
		return c.String(http.StatusOK, "ok")
	})(c)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler did not run")
	}
}

func TestDevAuthMiddleware_SkipsPublicPaths(t *testing.T) {
	mw := DevAuthMiddleware(AuthSkipper)

	called := false
	err := mw(func(c echo.Context) error {
		called = true
		if uid := UserIDFromContext(c.Request().Context()); uid != "" {
			t.Errorf("skipped path must not get dev identity, got %q", uid)
		}
		return c.String(http.StatusOK, "ok")
	})(contextForPath("/health", nil))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler did not run")
	}
}

func TestDevAuthMiddleware_WithoutSkipper(t *testing.T) {
	mw := DevAuthMiddleware()

	err := mw(func(c echo.Context) error {
		if uid := UserIDFromContext(c.Request().Context()); uid != "dev-user" {
			t.Errorf("user id = %q, want dev-user", uid)
		}
		return c.String(http.StatusOK, "ok")
	})(contextForPath("/api/v1/orders", nil))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
