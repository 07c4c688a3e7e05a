// Package ledger implements the append-only audit store for manifests,
// seals, and auth events.
//
// Writes are insert-only with one exception: a seal's executed bit may flip
// from false to true exactly once (MarkExecuted). Manifest and seal inserts
// for a single decision happen in one transaction so a seal can never exist
// without its manifest.
//
// Two implementations of the Ledger interface are provided:
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable, for production use.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/relay-protocol/relay/internal/model"
)

var (
	// ErrNotFound is returned when a manifest or seal does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExecuted is returned by MarkExecuted on a spent seal.
	ErrAlreadyExecuted = errors.New("seal already executed")
	// ErrExpired is returned by MarkExecuted on a seal past its TTL.
	ErrExpired = errors.New("seal has expired")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// ManifestRow is the persisted form of a manifest: the indexed columns used
// by audit queries plus the submitted document stored verbatim, from which
// the canonical seal payload is reconstructed at verification time.
type ManifestRow struct {
	ManifestID  uuid.UUID       `json:"manifest_id"`
	CreatedAt   time.Time       `json:"created_at"`
	AgentID     string          `json:"agent_id"`
	OrgID       string          `json:"org_id"`
	UserID      string          `json:"user_id,omitempty"`
	Provider    string          `json:"provider"`
	Method      string          `json:"method"`
	Parameters  map[string]any  `json:"parameters"`
	Reasoning   string          `json:"reasoning"`
	Confidence  *float64        `json:"confidence_score,omitempty"`
	Environment string          `json:"environment"`
	Raw         json.RawMessage `json:"-"`
}

// NewManifestRow flattens a manifest into its row form, capturing the full
// document as the raw audit copy.
func NewManifestRow(m *model.Manifest) (*ManifestRow, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal manifest document: %w", err)
	}
	return &ManifestRow{
		ManifestID:  m.ManifestID,
		CreatedAt:   m.Timestamp,
		AgentID:     m.Agent.AgentID,
		OrgID:       m.Agent.OrgID,
		UserID:      m.Agent.UserID,
		Provider:    m.Action.Provider,
		Method:      m.Action.Method,
		Parameters:  m.Action.Parameters,
		Reasoning:   m.Justification.Reasoning,
		Confidence:  m.Justification.ConfidenceScore,
		Environment: m.Environment,
		Raw:         raw,
	}, nil
}

// Decode reconstructs the manifest from the stored raw document.
func (r *ManifestRow) Decode() (*model.Manifest, error) {
	var m model.Manifest
	if err := json.Unmarshal(r.Raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", r.ManifestID, err)
	}
	return &m, nil
}

// Record is one audit query result: a manifest joined with its seal.
// Seal is nil only if a caller races the decision write, which the
// transactional WriteDecision makes unobservable in practice.
type Record struct {
	Manifest *ManifestRow
	Seal     *model.Seal
}

// Filter scopes audit queries and stats.
type Filter struct {
	OrgID    string
	AgentID  string
	Provider string
	// ApprovedOnly is tri-state: true = approved only, false = denied only,
	// nil = both.
	ApprovedOnly *bool
	Limit        int
	Offset       int
}

// normalize clamps pagination to the supported range.
func (f *Filter) normalize() {
	if f.Limit < 1 {
		f.Limit = 100
	}
	if f.Limit > 1000 {
		f.Limit = 1000
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Stats are aggregate counts over the manifests matching a filter.
type Stats struct {
	TotalManifests int     `json:"total_manifests"`
	Approved       int     `json:"approved"`
	Denied         int     `json:"denied"`
	Executed       int     `json:"executed"`
	ApprovalRate   float64 `json:"approval_rate"`
}

// rate computes the approval percentage rounded to two decimals.
func rate(approved, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(approved)/float64(total)*10000) / 100
}

// Ledger is the append-only audit store.
type Ledger interface {
	// WriteDecision inserts a manifest and its seal atomically.
	WriteDecision(ctx context.Context, m *ManifestRow, s *model.Seal) error
	// WriteAuthEvent appends an auth audit record.
	WriteAuthEvent(ctx context.Context, e *model.AuthEvent) error
	// GetManifest looks up a manifest by id; ErrNotFound when absent.
	GetManifest(ctx context.Context, id uuid.UUID) (*ManifestRow, error)
	// GetSeal looks up a seal by id; ErrNotFound when absent.
	GetSeal(ctx context.Context, sealID string) (*model.Seal, error)
	// MarkExecuted flips the seal's one-time-use bit. Returns the execution
	// timestamp on success, ErrNotFound for unknown seals, ErrAlreadyExecuted
	// for spent ones, and ErrExpired past the TTL. Race-safe: under
	// concurrent calls exactly one caller wins.
	MarkExecuted(ctx context.Context, sealID string) (time.Time, error)
	// Query returns manifests joined with their seals, newest first.
	Query(ctx context.Context, f Filter) ([]*Record, error)
	// Stats aggregates decision counts over the same filter scope.
	Stats(ctx context.Context, f Filter) (*Stats, error)
}
