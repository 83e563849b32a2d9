package auth

import (
	"errors"
	"testing"
	"time"
)

func TestIssueAndAuthorize(t *testing.T) {
	tm, err := NewTokenManager("secret", "voice-translator")
	if err != nil {
		t.Fatalf("new token manager: %v", err)
	}
	token, exp, err := tm.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if exp.Before(time.Now()) {
		t.Fatalf("expiry in the past: %v", exp)
	}

	if err := tm.Authorize("Bearer "+token, "user-1"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := tm.Authorize("Bearer "+token, "user-2"); !errors.Is(err, ErrWrongSubject) {
		t.Fatalf("expected wrong subject, got %v", err)
	}
	if err := tm.Authorize("", "user-1"); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}
}

func TestVerifyRejectsForeignAndExpiredTokens(t *testing.T) {
	issuer, _ := NewTokenManager("other-secret", "voice-translator")
	verifier, _ := NewTokenManager("secret", "voice-translator")

	foreign, _, err := issuer.Issue("user-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verifier.Verify(foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token for wrong key, got %v", err)
	}

	token, _, err := verifier.Issue("user-1", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	verifier.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestVerifyChecksIssuer(t *testing.T) {
	a, _ := NewTokenManager("secret", "issuer-a")
	b, _ := NewTokenManager("secret", "issuer-b")
	token, _, _ := a.Issue("user-1", time.Hour)
	if _, err := b.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected issuer mismatch, got %v", err)
	}
}

func TestNewTokenManagerRequiresSecret(t *testing.T) {
	if _, err := NewTokenManager(" ", ""); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
