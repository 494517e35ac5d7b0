package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func authContext(header, cookie string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "auth", Value: cookie})
	}
	return e.NewContext(req, httptest.NewRecorder())
}

func TestWithAuthBearerToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := signJWT(42, secret, time.Hour)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}

	var gotUser int64
	handler := withAuth(func(c echo.Context) error {
		gotUser = currentUserID(c)
		return c.NoContent(http.StatusOK)
	}, secret)

	if err := handler(authContext("Bearer "+token, "")); err != nil {
		t.Fatalf("expected auth to pass: %v", err)
	}
	if gotUser != 42 {
		t.Fatalf("expected user 42, got %d", gotUser)
	}
}

func TestWithAuthCookieToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := signJWT(7, secret, time.Hour)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}

	var gotUser int64
	handler := withAuth(func(c echo.Context) error {
		gotUser = currentUserID(c)
		return nil
	}, secret)

	if err := handler(authContext("", token)); err != nil {
		t.Fatalf("expected cookie auth to pass: %v", err)
	}
	if gotUser != 7 {
		t.Fatalf("expected user 7, got %d", gotUser)
	}
}

func TestWithAuthMissingToken(t *testing.T) {
	handler := withAuth(func(c echo.Context) error { return nil }, []byte("s"))
	err := handler(authContext("", ""))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestWithAuthWrongSecret(t *testing.T) {
	token, err := signJWT(1, []byte("first"), time.Hour)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}
	handler := withAuth(func(c echo.Context) error { return nil }, []byte("second"))
	herr := handler(authContext("Bearer "+token, ""))
	he, ok := herr.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %v", herr)
	}
}

func TestWithAuthExpiredToken(t *testing.T) {
	secret := []byte("s")
	token, err := signJWT(1, secret, -time.Minute)
	if err != nil {
		t.Fatalf("signJWT: %v", err)
	}
	handler := withAuth(func(c echo.Context) error { return nil }, secret)
	herr := handler(authContext("Bearer "+token, ""))
	he, ok := herr.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %v", herr)
	}
}
