package auth

import (
	"strings"
	"testing"
	"time"
)

func TestNewTokenIssuer_requiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer("", time.Hour); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestIssueAndVerify_roundTrip(t *testing.T) {
	ti, err := NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, err := ti.Issue("agent_abc_admin", "org_abc")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Errorf("token %q is not a three-part JWT", token)
	}

	claims, err := ti.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.AgentID != "agent_abc_admin" || claims.OrgID != "org_abc" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestVerify_rejectsWrongSecret(t *testing.T) {
	issuer, _ := NewTokenIssuer("secret-a", time.Hour)
	verifier, _ := NewTokenIssuer("secret-b", time.Hour)

	token, err := issuer.Issue("agent_x", "org_x")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := verifier.Verify(token); err == nil {
		t.Error("token signed with a different secret must not verify")
	}
}

func TestVerify_rejectsExpiredBeyondSkew(t *testing.T) {
	// Built directly so the TTL stays negative: the token is already
	// expired past the 10s leeway. NewTokenIssuer would clamp this to 1h.
	ti := &TokenIssuer{secret: []byte("test-secret"), ttl: -time.Minute}
	token, err := ti.Issue("agent_x", "org_x")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := ti.Verify(token); err == nil {
		t.Error("expired token must not verify")
	}
}

func TestVerify_allowsSkewWindow(t *testing.T) {
	// A token expired 5 seconds ago is still inside the 10s leeway.
	ti := &TokenIssuer{secret: []byte("test-secret"), ttl: -5 * time.Second}
	token, err := ti.Issue("agent_x", "org_x")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := ti.Verify(token); err != nil {
		t.Errorf("token within clock-skew leeway should verify: %v", err)
	}
}

func TestVerify_rejectsGarbage(t *testing.T) {
	ti, _ := NewTokenIssuer("test-secret", time.Hour)
	for _, tok := range []string{"", "abc", "a.b.c"} {
		if _, err := ti.Verify(tok); err == nil {
			t.Errorf("garbage token %q verified", tok)
		}
	}
}

func TestNewTokenIssuer_defaultTTL(t *testing.T) {
	ti, err := NewTokenIssuer("s", 0)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	if ti.TTL() != time.Hour {
		t.Errorf("default TTL = %v, want 1h", ti.TTL())
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	b, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}

	// 32 bytes of entropy, URL-safe base64 without padding.
	if len(a) != 43 || strings.ContainsAny(a, "+/=") {
		t.Errorf("secret %q malformed", a)
	}
	if a == b {
		t.Error("two generated secrets are identical")
	}

	ti, err := NewTokenIssuer(a, time.Hour)
	if err != nil {
		t.Fatalf("generated secret rejected by issuer: %v", err)
	}
	token, err := ti.Issue("agent_x", "org_x")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := ti.Verify(token); err != nil {
		t.Errorf("Verify with generated secret: %v", err)
	}
}
