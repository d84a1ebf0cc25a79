package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestIssuerRoundTrip(t *testing.T) {
	iss, err := NewIssuer("s3cret", 15*time.Minute, 7*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	tok, err := iss.Access(42)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	id, err := iss.Parse(tok, KindAccess)
	if err != nil || id != 42 {
		t.Fatalf("parse: %d %v", id, err)
	}
	if _, err := iss.Parse(tok, KindRefresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("access token accepted as refresh: %v", err)
	}
}

func TestIssuerRejectsExpiredAndForeignTokens(t *testing.T) {
	iss, _ := NewIssuer("s3cret", time.Minute, time.Hour)
	base := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	iss.now = func() time.Time { return base }
	tok, _ := iss.Access(1)

	iss.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := iss.Parse(tok, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: %v", err)
	}

	other, _ := NewIssuer("other", time.Minute, time.Hour)
	foreign, _ := other.Access(1)
	if _, err := iss.Parse(foreign, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "1", "kind": "access", "iss": "worksched"})
	s, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := iss.Parse(s, KindAccess); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg none accepted: %v", err)
	}
}

func TestNewIssuerValidates(t *testing.T) {
	if _, err := NewIssuer("", time.Minute, time.Hour); err == nil {
		t.Fatal("empty secret accepted")
	}
	if _, err := NewIssuer("x", 0, time.Hour); err == nil {
		t.Fatal("zero ttl accepted")
	}
}

func TestPasswords(t *testing.T) {
	h, err := HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword(h, "pw") || CheckPassword(h, "nope") {
		t.Fatal("bcrypt check mismatch")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatal("empty password accepted")
	}
}

func TestCSRF(t *testing.T) {
	a, _ := NewCSRFToken()
	b, _ := NewCSRFToken()
	if len(a) != 64 || a == b {
		t.Fatalf("tokens %q %q", a, b)
	}
	if !CSRFMatch(a, a) || CSRFMatch(a, b) || CSRFMatch("", "") {
		t.Fatal("CSRFMatch wrong")
	}
}

func TestUserIDContext(t *testing.T) {
	if _, ok := UserIDFromContext(context.Background()); ok {
		t.Fatal("empty context")
	}
	id, ok := UserIDFromContext(WithUserID(context.Background(), 9))
	if !ok || id != 9 {
		t.Fatalf("got %d %v", id, ok)
	}
}
