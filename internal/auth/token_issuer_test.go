package auth

import (
	"testing"
	"time"
)

func fixedClock(unixSeconds int64) func() time.Time {
	return func() time.Time {
		return time.Unix(unixSeconds, 0).UTC()
	}
}

func TestIssueAndValidateRoundTripCarriesRole(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("unit-test-secret"),
		Issuer:        "hyperide-auth",
		Audience:      "hyperide-api",
		TokenTTL:      time.Hour,
		Clock:         fixedClock(1700000000),
	})

	token, expiresIn, err := issuer.IssueSessionToken(Session{User: "alice", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expiresIn != 3600 {
		t.Fatalf("expected 3600 second expiry, got %d", expiresIn)
	}

	session, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
	if session.User != "alice" {
		t.Fatalf("expected subject alice, got %s", session.User)
	}
	if session.Role != RoleAdmin {
		t.Fatalf("expected admin role, got %s", session.Role)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("unit-test-secret"),
		Issuer:        "hyperide-auth",
		Audience:      "hyperide-api",
		TokenTTL:      time.Minute,
		Clock:         fixedClock(1700000000),
	})

	token, _, err := issuer.IssueSessionToken(Session{User: "bob", Role: RoleUser})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	later := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("unit-test-secret"),
		Issuer:        "hyperide-auth",
		Audience:      "hyperide-api",
		Clock:         fixedClock(1700003600),
	})
	if _, err := later.ValidateToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("unit-test-secret"),
		Issuer:        "hyperide-auth",
		Audience:      "hyperide-api",
	})
	token, _, err := issuer.IssueSessionToken(Session{User: "bob", Role: RoleUser})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	other := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("different-secret"),
		Issuer:        "hyperide-auth",
		Audience:      "hyperide-api",
	})
	if _, err := other.ValidateToken(token); err == nil {
		t.Fatal("expected token signed with another secret to be rejected")
	}
}

func TestIssueSessionTokenRequiresUser(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("unit-test-secret"),
	})
	if _, _, err := issuer.IssueSessionToken(Session{Role: RoleUser}); err == nil {
		t.Fatal("expected error for empty user")
	}
}

func TestValidateTokenDefaultsMissingRole(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("unit-test-secret"),
		Issuer:        "hyperide-auth",
		Audience:      "hyperide-api",
	})
	token, _, err := issuer.IssueSessionToken(Session{User: "carol"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	session, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.Role != RoleUser {
		t.Fatalf("expected default participant role, got %s", session.Role)
	}
}

func TestIsAdmin(t *testing.T) {
	if !IsAdmin("ADMIN") || !IsAdmin("admin") {
		t.Fatal("expected admin role detection to be case-insensitive")
	}
	if IsAdmin(RoleUser) || IsAdmin("") {
		t.Fatal("did not expect non-admin roles to pass")
	}
}
