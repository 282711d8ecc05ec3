package identity_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/milelog/milelog/internal/identity"
)

func newIssuer(t *testing.T) *identity.TokenIssuer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return identity.NewTokenIssuer(priv, "http://localhost:8080", time.Hour)
}

func TestIssue_verifyRoundTrip(t *testing.T) {
	issuer := newIssuer(t)
	userID := uuid.New()

	tok, err := issuer.Issue(userID, "driver@example.com")
	if err != nil {
		t.Fatal(err)
	}

	claims, err := issuer.Verify(tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != userID.String() {
		t.Errorf("user id: got %q, want %q", claims.UserID, userID)
	}
	if claims.Email != "driver@example.com" {
		t.Errorf("email: got %q", claims.Email)
	}
}

func TestVerify_rejectsTamperedToken(t *testing.T) {
	issuer := newIssuer(t)
	tok, err := issuer.Issue(uuid.New(), "driver@example.com")
	if err != nil {
		t.Fatal(err)
	}

	parts := strings.Split(tok, ".")
	parts[1] = strings.Repeat("A", len(parts[1]))
	if _, err := issuer.Verify(strings.Join(parts, ".")); err == nil {
		t.Error("tampered token verified")
	}
}

func TestVerify_rejectsForeignKey(t *testing.T) {
	tok, err := newIssuer(t).Issue(uuid.New(), "driver@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := newIssuer(t).Verify(tok); err == nil {
		t.Error("token signed with a different key verified")
	}
}
