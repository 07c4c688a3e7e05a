package model

import (
	"time"

	"github.com/google/uuid"
)

// Organization is a tenant. Organizations are never deleted; deactivation is
// a flag flip.
type Organization struct {
	OrgID        string    `json:"org_id"`
	OrgName      string    `json:"org_name"`
	ContactEmail string    `json:"contact_email"`
	CreatedAt    time.Time `json:"created_at"`
	Active       bool      `json:"is_active"`
}

// Agent is a registered actor within exactly one organization. The org
// linkage is immutable after creation.
type Agent struct {
	AgentID     string    `json:"agent_id"`
	OrgID       string    `json:"org_id"`
	AgentName   string    `json:"agent_name"`
	Description string    `json:"description,omitempty"`
	// APIKeyHash is reserved for a future credential scheme; always empty
	// under JWT-only auth.
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	Active     bool      `json:"is_active"`
}

// Auth event types written to the audit trail.
const (
	EventAuthentication       = "authentication"
	EventAuthorizationSuccess = "authorization_success"
	EventAuthorizationFailure = "authorization_failure"
)

// AuthEvent is an immutable audit record of an authentication or
// authorization decision.
type AuthEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	EventType     string    `json:"event_type"`
	AgentID       string    `json:"agent_id,omitempty"`
	OrgID         string    `json:"org_id,omitempty"`
	Endpoint      string    `json:"endpoint,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
	Success       bool      `json:"success"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
