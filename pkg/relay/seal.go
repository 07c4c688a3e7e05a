package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultSealTTL bounds how long a seal can be presented to an executor.
// Kept short to limit the replay window.
const DefaultSealTTL = 5 * time.Minute

// Seal is a cryptographic decision record: an Ed25519 signature binding a
// policy decision to one specific manifest. Seals are one-time-use and
// time-bounded; the only mutable fields are Executed/ExecutedAt, which flip
// exactly once.
type Seal struct {
	SealID        string     `json:"seal_id"`
	ManifestID    uuid.UUID  `json:"manifest_id"`
	Approved      bool       `json:"approved"`
	PolicyVersion string     `json:"policy_version"`
	DenialReason  string     `json:"denial_reason,omitempty"`
	Signature     string     `json:"signature"`
	PublicKey     string     `json:"public_key"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Executed      bool       `json:"executed"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
}

// NewSealID derives a seal identifier from the issue time and the first hex
// group of the manifest UUID: seal_{unix_seconds}_{uuid_prefix}.
func NewSealID(manifestID uuid.UUID, issuedAt time.Time) string {
	prefix, _, _ := strings.Cut(manifestID.String(), "-")
	return fmt.Sprintf("seal_%d_%s", issuedAt.Unix(), prefix)
}

// IsExpired reports whether the seal's TTL has elapsed at the given instant.
func (s *Seal) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsUsable reports whether the seal may still authorize execution:
// approved, unexpired, and never executed. Signature validity is checked
// separately by the seal engine.
func (s *Seal) IsUsable(now time.Time) bool {
	return s.Approved && !s.IsExpired(now) && !s.Executed
}

// VerificationResponse is the report returned by GET /v1/seal/verify.
// The four predicates are independent; Valid is their conjunction.
type VerificationResponse struct {
	SealID          string    `json:"seal_id"`
	Valid           bool      `json:"valid"`
	Approved        bool      `json:"approved"`
	Expired         bool      `json:"expired"`
	AlreadyExecuted bool      `json:"already_executed"`
	Reason          string    `json:"reason,omitempty"`
	ManifestID      uuid.UUID `json:"manifest_id"`
}
