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

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func expectStatus(t *testing.T, err error, status int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d", status)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != status {
		t.Errorf("expected %d, got %d", status, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	userID := uuid.New()
	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "recordchain"}
	tokenStr, err := NewToken(cfg, userID, []string{RoleDoctor}, time.Hour)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotID uuid.UUID
	var gotRoles []string
	handler := func(c echo.Context) error {
		gotID, _ = UserUUIDFromContext(c.Request().Context())
		gotRoles = RolesFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	}

	if err := JWTMiddleware(cfg)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotID != userID {
		t.Errorf("expected subject %s, got %s", userID, gotID)
	}
	if len(gotRoles) != 1 || gotRoles[0] != RoleDoctor {
		t.Errorf("expected [doctor], got %v", gotRoles)
	}
}

func TestJWTMiddleware_RejectsBadTokens(t *testing.T) {
	valid := jwt.RegisteredClaims{
		Subject:   uuid.NewString(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	tests := []struct {
		name   string
		claims Claims
		key    []byte
	}{
		{"expired", Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		}}, testSigningKey},
		{"no expiry", Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()}}, testSigningKey},
		{"wrong key", Claims{RegisteredClaims: valid}, []byte("another-key")},
		{"non-uuid subject", Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "dev-user",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		}}, testSigningKey},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+createTestToken(t, tt.claims, tt.key))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_WrongIssuer(t *testing.T) {
	tokenStr, err := NewToken(JWTConfig{SigningKey: testSigningKey, Issuer: "someone-else"}, uuid.New(), nil, time.Hour)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err = JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "recordchain"})(okHandler)(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		ctx := c.Request().Context()
		if UserIDFromContext(ctx) != DevUserID {
			t.Errorf("expected dev user id, got %s", UserIDFromContext(ctx))
		}
		if !HasRole(ctx, RoleAdmin) {
			t.Errorf("expected admin role, got %v", RolesFromContext(ctx))
		}
		return c.String(http.StatusOK, "ok")
	}

	if err := DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey})(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDevAuthMiddleware_ValidatesProvidedToken(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey})(okHandler)(c)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WebsocketQueryToken(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey}
	tokenStr, err := NewToken(cfg, uuid.New(), []string{RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?access_token="+tokenStr, nil)
	req.Header.Set("Upgrade", "websocket")
	if err := JWTMiddleware(cfg)(okHandler)(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Errorf("expected the query token to be accepted on a websocket handshake: %v", err)
	}

	plain := httptest.NewRequest(http.MethodGet, "/?access_token="+tokenStr, nil)
	err = JWTMiddleware(cfg)(okHandler)(e.NewContext(plain, httptest.NewRecorder()))
	expectStatus(t, err, http.StatusUnauthorized)
}
