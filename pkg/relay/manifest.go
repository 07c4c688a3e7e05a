// Package relay defines the wire types exchanged between a Relay gateway
// and its clients: manifests, seals, verification reports, and the tenant
// registration payloads. Both the gateway and the pkg/client SDK build on
// these types, so external consumers can construct and decode every request
// and response.
package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AgentContext identifies who is requesting an action.
type AgentContext struct {
	AgentID string `json:"agent_id" binding:"required"`
	OrgID   string `json:"org_id"   binding:"required"`
	UserID  string `json:"user_id,omitempty"`
}

// ActionRequest is the side-effectful operation the agent wants to perform.
type ActionRequest struct {
	Provider   string         `json:"provider"   binding:"required"`
	Method     string         `json:"method"     binding:"required"`
	Parameters map[string]any `json:"parameters" binding:"required"`
}

// Justification is the agent's stated reasoning for the action.
type Justification struct {
	Reasoning       string         `json:"reasoning" binding:"required"`
	ConfidenceScore *float64       `json:"confidence_score,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
}

// Manifest is the core primitive of the gateway: a structured description of
// a requested agent action, evaluated against policy and bound into a seal.
type Manifest struct {
	ManifestID    uuid.UUID     `json:"manifest_id"`
	Version       string        `json:"version"`
	Timestamp     time.Time     `json:"timestamp"`
	Agent         AgentContext  `json:"agent"         binding:"required"`
	Action        ActionRequest `json:"action"        binding:"required"`
	Justification Justification `json:"justification" binding:"required"`
	Environment   string        `json:"environment"`
}

// Normalize fills server-side defaults and lowercases the action identifiers.
// Called once when a manifest enters the gateway, before validation.
func (m *Manifest) Normalize() {
	if m.ManifestID == uuid.Nil {
		m.ManifestID = uuid.New()
	}
	if m.Version == "" {
		m.Version = "1.0"
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	} else {
		m.Timestamp = m.Timestamp.UTC()
	}
	if m.Environment == "" {
		m.Environment = "production"
	}
	m.Action.Provider = strings.ToLower(m.Action.Provider)
	m.Action.Method = strings.ToLower(m.Action.Method)
}

// Validate enforces the schema constraints that gin's binding tags cannot
// express: identifier charset and confidence range.
func (m *Manifest) Validate() error {
	if !isActionIdent(m.Action.Provider) {
		return fmt.Errorf("provider %q must be alphanumeric (underscores and hyphens allowed)", m.Action.Provider)
	}
	if !isActionIdent(m.Action.Method) {
		return fmt.Errorf("method %q must be alphanumeric (underscores and hyphens allowed)", m.Action.Method)
	}
	if c := m.Justification.ConfidenceScore; c != nil && (*c < 0 || *c > 1) {
		return fmt.Errorf("confidence_score %v out of range [0,1]", *c)
	}
	return nil
}

// TimestampISO renders the manifest timestamp as ISO-8601 UTC with Z suffix.
// Both the policy input projection and the canonical seal payload use this
// exact rendering, so signing and verification agree byte for byte.
func (m *Manifest) TimestampISO() string {
	return m.Timestamp.UTC().Format(time.RFC3339Nano)
}

// PolicyInput projects the manifest into the document posted to the policy
// evaluator. Field set and nesting are part of the evaluator contract.
func (m *Manifest) PolicyInput() map[string]any {
	agent := map[string]any{
		"agent_id": m.Agent.AgentID,
		"org_id":   m.Agent.OrgID,
	}
	if m.Agent.UserID != "" {
		agent["user_id"] = m.Agent.UserID
	}
	justification := map[string]any{
		"reasoning": m.Justification.Reasoning,
	}
	if m.Justification.ConfidenceScore != nil {
		justification["confidence_score"] = *m.Justification.ConfidenceScore
	}
	if m.Justification.Context != nil {
		justification["context"] = m.Justification.Context
	}
	return map[string]any{
		"manifest_id": m.ManifestID.String(),
		"timestamp":   m.TimestampISO(),
		"agent":       agent,
		"action": map[string]any{
			"provider":   m.Action.Provider,
			"method":     m.Action.Method,
			"parameters": m.Action.Parameters,
		},
		"justification": justification,
		"environment":   m.Environment,
	}
}

func isActionIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// ValidationRequest is the body of POST /v1/manifest/validate.
type ValidationRequest struct {
	Manifest Manifest `json:"manifest" binding:"required"`
	DryRun   bool     `json:"dry_run"`
}

// ValidationResponse is the outcome of manifest validation. The seal is
// present only on approval; denials carry the reason instead.
type ValidationResponse struct {
	ManifestID    uuid.UUID `json:"manifest_id"`
	Approved      bool      `json:"approved"`
	Seal          *Seal     `json:"seal,omitempty"`
	DenialReason  string    `json:"denial_reason,omitempty"`
	PolicyVersion string    `json:"policy_version"`
	Timestamp     time.Time `json:"timestamp"`
}
