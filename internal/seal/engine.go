// Package seal implements the cryptographic core of the gateway: Ed25519
// signatures over a canonical manifest payload, proving that a specific
// action was approved (or denied) by a specific policy version.
package seal

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/relay-protocol/relay/internal/model"
)

// Engine signs and verifies seals with a process-wide Ed25519 key loaded at
// startup. The key is read-only after construction.
type Engine struct {
	priv      ed25519.PrivateKey
	publicB64 string
	ttl       time.Duration
}

// NewEngine loads the base64-encoded signing key. Both a 64-byte private key
// and a 32-byte seed are accepted. ttl defaults to model.DefaultSealTTL.
func NewEngine(privateKeyB64 string, ttl time.Duration) (*Engine, error) {
	if privateKeyB64 == "" {
		return nil, fmt.Errorf("signing key not configured")
	}
	raw, err := base64.StdEncoding.DecodeString(privateKeyB64)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}

	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	default:
		return nil, fmt.Errorf("signing key must be %d or %d bytes, got %d",
			ed25519.PrivateKeySize, ed25519.SeedSize, len(raw))
	}

	if ttl <= 0 {
		ttl = model.DefaultSealTTL
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Engine{
		priv:      priv,
		publicB64: base64.StdEncoding.EncodeToString(pub),
		ttl:       ttl,
	}, nil
}

// GenerateKeypair mints a fresh Ed25519 keypair, base64-encoded.
func GenerateKeypair() (privateB64, publicB64 string, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate keypair: %w", err)
	}
	return base64.StdEncoding.EncodeToString(priv),
		base64.StdEncoding.EncodeToString(pub), nil
}

// PublicKey returns the base64-encoded verification key embedded in every
// seal this engine produces.
func (e *Engine) PublicKey() string { return e.publicB64 }

// TTL returns the configured seal lifetime.
func (e *Engine) TTL() time.Duration { return e.ttl }

// signable builds the canonical payload the signature covers. The field set
// binds the decision to the manifest identity, the exact action parameters,
// the policy version, and the approval bit, so none of them can be swapped
// after signing.
func signable(m *model.Manifest, policyVersion string, approved bool) ([]byte, error) {
	payload := map[string]any{
		"manifest_id":    m.ManifestID.String(),
		"timestamp":      m.TimestampISO(),
		"agent_id":       m.Agent.AgentID,
		"org_id":         m.Agent.OrgID,
		"provider":       m.Action.Provider,
		"method":         m.Action.Method,
		"parameters":     m.Action.Parameters,
		"policy_version": policyVersion,
		"approved":       approved,
	}
	return CanonicalJSON(payload)
}

// CreateSeal signs a decision for the manifest. Denials are sealed too —
// the ledger records them — with Approved=false and the reason attached.
func (e *Engine) CreateSeal(m *model.Manifest, approved bool, policyVersion, denialReason string) (*model.Seal, error) {
	payload, err := signable(m, policyVersion, approved)
	if err != nil {
		return nil, fmt.Errorf("build seal payload: %w", err)
	}

	sig := ed25519.Sign(e.priv, payload)
	now := time.Now().UTC()

	return &model.Seal{
		SealID:        model.NewSealID(m.ManifestID, now),
		ManifestID:    m.ManifestID,
		Approved:      approved,
		PolicyVersion: policyVersion,
		DenialReason:  denialReason,
		Signature:     base64.StdEncoding.EncodeToString(sig),
		PublicKey:     e.publicB64,
		IssuedAt:      now,
		ExpiresAt:     now.Add(e.ttl),
	}, nil
}

// VerifySeal reconstructs the canonical payload from the manifest and the
// seal's stored policy_version/approved, then checks the signature against
// the seal's stored public key. It never panics; any decode or crypto
// failure reports false.
func VerifySeal(s *model.Seal, m *model.Manifest) bool {
	payload, err := signable(m, s.PolicyVersion, s.Approved)
	if err != nil {
		return false
	}
	return VerifySignature(s.Signature, s.PublicKey, payload)
}

// VerifySignature checks a detached base64 signature over payload using a
// base64 public key. Exposed so executors can verify seals without an Engine.
func VerifySignature(signatureB64, publicKeyB64 string, payload []byte) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), payload, sig)
}
