package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestRequireScopeAllowsDisabledAuth(t *testing.T) {
	a := NewAuthenticator(AuthConfig{Enabled: false}, nil)
	called := false
	h := a.RequireScope("price:write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodPost, "/price", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if !called {
		t.Fatalf("expected the handler to run when auth is disabled")
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireScopeRejectsMissingToken(t *testing.T) {
	a := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "s3cr3t"}, nil)
	h := a.RequireScope("price:write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run without a token")
	}))
	req := httptest.NewRequest(http.MethodPost, "/price", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a missing token, got %d", rr.Code)
	}
}

func TestRequireScopeRejectsInsufficientScope(t *testing.T) {
	a := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "s3cr3t"}, nil)
	token := signToken(t, "s3cr3t", jwt.MapClaims{"scope": "read:only"})
	h := a.RequireScope("price:write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run with an insufficient scope")
	}))
	req := httptest.NewRequest(http.MethodPost, "/price", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for an insufficient scope, got %d", rr.Code)
	}
}

func TestRequireScopeAllowsMatchingScope(t *testing.T) {
	a := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "s3cr3t"}, nil)
	token := signToken(t, "s3cr3t", jwt.MapClaims{"scope": "price:write admin:shutdown"})
	called := false
	h := a.RequireScope("price:write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	req := httptest.NewRequest(http.MethodPost, "/price", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if !called {
		t.Fatalf("expected the handler to run for a token carrying the required scope")
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestRequireScopeRejectsExpiredToken(t *testing.T) {
	a := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "s3cr3t", ClockSkew: time.Second}, nil)
	token := signToken(t, "s3cr3t", jwt.MapClaims{
		"scope": "price:write",
		"exp":   time.Now().Add(-time.Hour).Unix(),
	})
	h := a.RequireScope("price:write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run with an expired token")
	}))
	req := httptest.NewRequest(http.MethodPost, "/price", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an expired token, got %d", rr.Code)
	}
}

func TestRequireScopeRejectsIssuerMismatch(t *testing.T) {
	a := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "s3cr3t", Issuer: "marketd"}, nil)
	token := signToken(t, "s3cr3t", jwt.MapClaims{"scope": "price:write", "iss": "someone-else"})
	h := a.RequireScope("price:write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run with a mismatched issuer")
	}))
	req := httptest.NewRequest(http.MethodPost, "/price", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for an issuer mismatch, got %d", rr.Code)
	}
}

func TestExtractBearerParsesSchemeCaseInsensitively(t *testing.T) {
	if got := extractBearer("bearer abc.def.ghi"); got != "abc.def.ghi" {
		t.Fatalf("expected case-insensitive scheme match, got %q", got)
	}
	if got := extractBearer("Basic abc"); got != "" {
		t.Fatalf("expected a non-bearer scheme to yield an empty token, got %q", got)
	}
	if got := extractBearer(""); got != "" {
		t.Fatalf("expected an empty header to yield an empty token, got %q", got)
	}
}

func TestHasScope(t *testing.T) {
	if !hasScope([]string{"a", "b"}, "b") {
		t.Fatalf("expected hasScope to find a present scope")
	}
	if hasScope([]string{"a"}, "b") {
		t.Fatalf("expected hasScope to reject an absent scope")
	}
}
