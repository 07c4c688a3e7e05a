package relay

import "time"

// OrgRegisterRequest is the body of POST /v1/orgs/register.
type OrgRegisterRequest struct {
	OrgName      string `json:"org_name"      binding:"required"`
	ContactEmail string `json:"contact_email" binding:"required,email"`
}

// InitialAgentInfo describes the admin agent minted alongside a new org.
type InitialAgentInfo struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
}

// OrgRegisterResponse returns the new org plus a bearer token bound to its
// admin agent, usable immediately.
type OrgRegisterResponse struct {
	OrgID        string           `json:"org_id"`
	OrgName      string           `json:"org_name"`
	ContactEmail string           `json:"contact_email"`
	CreatedAt    time.Time        `json:"created_at"`
	InitialAgent InitialAgentInfo `json:"initial_agent"`
	AccessToken  string           `json:"access_token"`
	TokenType    string           `json:"token_type"`
	ExpiresIn    int              `json:"expires_in"`
}

// OrgInfoResponse is the body of GET /v1/orgs/{org_id}.
type OrgInfoResponse struct {
	OrgID        string    `json:"org_id"`
	OrgName      string    `json:"org_name"`
	ContactEmail string    `json:"contact_email"`
	AgentsCount  int       `json:"agents_count"`
	CreatedAt    time.Time `json:"created_at"`
	Active       bool      `json:"is_active"`
}

// AgentRegisterRequest is the body of POST /v1/agents/register.
type AgentRegisterRequest struct {
	AgentName   string `json:"agent_name" binding:"required"`
	Description string `json:"description"`
}

// AgentRegisterResponse returns the new agent with its own bearer token.
type AgentRegisterResponse struct {
	AgentID     string    `json:"agent_id"`
	OrgID       string    `json:"org_id"`
	AgentName   string    `json:"agent_name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
}

// AgentInfo is one row of GET /v1/agents.
type AgentInfo struct {
	AgentID     string    `json:"agent_id"`
	AgentName   string    `json:"agent_name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Active      bool      `json:"is_active"`
}

// AgentListResponse is the body of GET /v1/agents.
type AgentListResponse struct {
	Total  int         `json:"total"`
	Agents []AgentInfo `json:"agents"`
}
