package auth

import (
	"context"
	"encoding/base64"
	"testing"
)

// unsigned JWT with sub=user_123, alg none-style header; ClaimsResolver must
// accept it since verification is the gateway's job.
func tokenWithSub(t *testing.T, sub string) string {
	t.Helper()
	enc := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	header := enc(`{"alg":"HS256","typ":"JWT"}`)
	payload := enc(`{"sub":"` + sub + `"}`)
	return header + "." + payload + "." + enc("sig")
}

func TestClaimsResolverExtractsSubject(t *testing.T) {
	r := NewClaimsResolver()
	got, err := r.Resolve(context.Background(), tokenWithSub(t, "user_123"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "user_123" {
		t.Fatalf("expected user_123, got %q", got)
	}
}

func TestClaimsResolverRejectsGarbage(t *testing.T) {
	r := NewClaimsResolver()
	for _, tok := range []string{"", "not-a-jwt", "a.b"} {
		if _, err := r.Resolve(context.Background(), tok); err == nil {
			t.Fatalf("expected error for %q", tok)
		}
	}
}

func TestStaticResolver(t *testing.T) {
	var r StaticResolver
	if got, err := r.Resolve(context.Background(), "u1"); err != nil || got != "u1" {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := r.Resolve(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}
