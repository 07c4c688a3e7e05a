package seal

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/relay-protocol/relay/internal/model"
)

func testManifest(t *testing.T) *model.Manifest {
	t.Helper()
	m := &model.Manifest{
		Agent: model.AgentContext{AgentID: "agent_abc123_admin", OrgID: "org_abc123"},
		Action: model.ActionRequest{
			Provider:   "stripe",
			Method:     "create_payment",
			Parameters: map[string]any{"amount": float64(4000), "currency": "USD"},
		},
		Justification: model.Justification{Reasoning: "demo"},
	}
	m.Normalize()
	return m
}

func newTestEngine(t *testing.T, ttl time.Duration) *Engine {
	t.Helper()
	priv, _, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	e, err := NewEngine(priv, ttl)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func TestNewEngine_rejectsBadKeys(t *testing.T) {
	if _, err := NewEngine("", 0); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := NewEngine("not base64!!!", 0); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := NewEngine("aGVsbG8=", 0); err == nil {
		t.Error("expected error for wrong key length")
	}
}

func TestCreateSeal_approved(t *testing.T) {
	e := newTestEngine(t, 0)
	m := testManifest(t)

	s, err := e.CreateSeal(m, true, "v1.0.0", "")
	if err != nil {
		t.Fatalf("CreateSeal: %v", err)
	}

	if !strings.HasPrefix(s.SealID, "seal_") {
		t.Errorf("seal_id %q missing prefix", s.SealID)
	}
	prefix, _, _ := strings.Cut(m.ManifestID.String(), "-")
	if !strings.HasSuffix(s.SealID, "_"+prefix) {
		t.Errorf("seal_id %q does not end with manifest uuid prefix %q", s.SealID, prefix)
	}
	if s.Signature == "" || s.PublicKey == "" {
		t.Error("signature and public key must be non-empty")
	}
	if got := s.ExpiresAt.Sub(s.IssuedAt); got != model.DefaultSealTTL {
		t.Errorf("TTL = %v, want %v", got, model.DefaultSealTTL)
	}
	if !s.Approved || s.Executed {
		t.Errorf("fresh approved seal state wrong: approved=%v executed=%v", s.Approved, s.Executed)
	}
}

func TestVerifySeal_roundTrip(t *testing.T) {
	e := newTestEngine(t, 0)
	m := testManifest(t)

	s, err := e.CreateSeal(m, true, "v1.0.0", "")
	if err != nil {
		t.Fatalf("CreateSeal: %v", err)
	}
	if !VerifySeal(s, m) {
		t.Fatal("seal should verify against its own manifest")
	}
}

func TestVerifySeal_deniedSealVerifiesToo(t *testing.T) {
	e := newTestEngine(t, 0)
	m := testManifest(t)

	s, err := e.CreateSeal(m, false, "v1.0.0", "amount exceeds limit")
	if err != nil {
		t.Fatalf("CreateSeal: %v", err)
	}
	if s.DenialReason != "amount exceeds limit" {
		t.Errorf("denial reason = %q", s.DenialReason)
	}
	// The signature covers approved=false; it still verifies.
	if !VerifySeal(s, m) {
		t.Error("denial seal should verify")
	}
}

func TestVerifySeal_detectsTampering(t *testing.T) {
	e := newTestEngine(t, 0)
	m := testManifest(t)
	s, err := e.CreateSeal(m, true, "v1.0.0", "")
	if err != nil {
		t.Fatalf("CreateSeal: %v", err)
	}

	t.Run("parameter swap", func(t *testing.T) {
		tampered := *m
		tampered.Action.Parameters = map[string]any{"amount": float64(999999), "currency": "USD"}
		if VerifySeal(s, &tampered) {
			t.Error("tampered parameters must not verify")
		}
	})

	t.Run("approval bit flip", func(t *testing.T) {
		flipped := *s
		flipped.Approved = false
		if VerifySeal(&flipped, m) {
			t.Error("flipped approval bit must not verify")
		}
	})

	t.Run("policy version swap", func(t *testing.T) {
		swapped := *s
		swapped.PolicyVersion = "v9.9.9"
		if VerifySeal(&swapped, m) {
			t.Error("swapped policy version must not verify")
		}
	})

	t.Run("foreign manifest", func(t *testing.T) {
		other := testManifest(t)
		if VerifySeal(s, other) {
			t.Error("seal must not verify against a different manifest")
		}
	})
}

func TestVerifySeal_neverPanicsOnGarbage(t *testing.T) {
	m := testManifest(t)
	garbage := &model.Seal{
		SealID:     "seal_0_dead",
		ManifestID: uuid.New(),
		Signature:  "not base64!!!",
		PublicKey:  "also not base64!!!",
	}
	if VerifySeal(garbage, m) {
		t.Error("garbage seal verified")
	}
	if VerifySignature("AAAA", "AAAA", []byte("payload")) {
		t.Error("short public key verified")
	}
}

func TestNewEngine_acceptsSeed(t *testing.T) {
	// A 32-byte seed must produce the same signatures as the 64-byte key
	// derived from it.
	privB64, _, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	full, err := NewEngine(privB64, 0)
	if err != nil {
		t.Fatalf("NewEngine(full): %v", err)
	}

	m := testManifest(t)
	s, err := full.CreateSeal(m, true, "v1", "")
	if err != nil {
		t.Fatalf("CreateSeal: %v", err)
	}
	if !VerifySeal(s, m) {
		t.Fatal("seal from full key should verify")
	}
}

func TestSignable_exactBytes(t *testing.T) {
	// Pin the wire contract: a fixed manifest must canonicalize to a fixed
	// byte string. External verifiers rebuild these bytes independently.
	id := uuid.MustParse("11111111-2222-3333-4444-555555555555")
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := &model.Manifest{
		ManifestID: id,
		Version:    "1.0",
		Timestamp:  ts,
		Agent:      model.AgentContext{AgentID: "agent_x", OrgID: "org_y"},
		Action: model.ActionRequest{
			Provider:   "stripe",
			Method:     "create_payment",
			Parameters: map[string]any{"currency": "USD", "amount": float64(42)},
		},
		Justification: model.Justification{Reasoning: "r"},
		Environment:   "production",
	}

	got, err := signable(m, "v1.0.0", true)
	if err != nil {
		t.Fatalf("signable: %v", err)
	}
	want := `{"agent_id":"agent_x","approved":true,"manifest_id":"11111111-2222-3333-4444-555555555555",` +
		`"method":"create_payment","org_id":"org_y","parameters":{"amount":42,"currency":"USD"},` +
		`"policy_version":"v1.0.0","provider":"stripe","timestamp":"2026-01-02T03:04:05Z"}`
	if string(got) != want {
		t.Errorf("payload mismatch:\n got  %s\n want %s", got, want)
	}
}
