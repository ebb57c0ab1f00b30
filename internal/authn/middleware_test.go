package authn

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret, subject, scope string, expired bool) string {
	t.Helper()
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Scope: scope,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestVerifyValidToken(t *testing.T) {
	v := NewVerifier("shared-secret")
	token := signToken(t, "shared-secret", "user-1", "admin sync:write", false)

	id, err := v.Verify(token)
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != "user-1" {
		t.Errorf("UserID = %q, want user-1", id.UserID)
	}
	if _, ok := id.Auth.Scopes["admin"]; !ok {
		t.Error("expected admin scope present")
	}
	if _, ok := id.Auth.Scopes["sync:write"]; !ok {
		t.Error("expected sync:write scope present")
	}
}

func TestVerifyEmptyTokenIsAnonymous(t *testing.T) {
	v := NewVerifier("shared-secret")
	id, err := v.Verify("")
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != "" || len(id.Auth.Scopes) != 0 {
		t.Errorf("expected anonymous identity, got %+v", id)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	v := NewVerifier("shared-secret")
	token := signToken(t, "wrong-secret", "user-1", "", false)

	if _, err := v.Verify(token); err == nil {
		t.Error("expected verification failure for a token signed with a different secret")
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	v := NewVerifier("shared-secret")
	token := signToken(t, "shared-secret", "user-1", "", true)

	if _, err := v.Verify(token); err == nil {
		t.Error("expected verification failure for an expired token")
	}
}

func TestBearerToken(t *testing.T) {
	if got := bearerToken("Bearer abc123"); got != "abc123" {
		t.Errorf("bearerToken = %q, want abc123", got)
	}
	if got := bearerToken("Basic abc123"); got != "" {
		t.Errorf("bearerToken should reject non-Bearer schemes, got %q", got)
	}
	if got := bearerToken(""); got != "" {
		t.Errorf("bearerToken of empty header should be empty, got %q", got)
	}
}
