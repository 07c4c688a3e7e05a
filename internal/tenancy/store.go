// Package tenancy implements the organization and agent registry: tenant
// records, ID minting, and activation state.
package tenancy

import (
	"context"
	"errors"

	"github.com/relay-protocol/relay/internal/model"
)

var (
	// ErrNotFound is returned when an organization or agent does not exist.
	ErrNotFound = errors.New("tenant record not found")
	// ErrDuplicateID is returned when a minted ID collides with an existing row.
	ErrDuplicateID = errors.New("duplicate tenant id")
)

// Store persists organizations and agents.
type Store interface {
	// CreateOrganization inserts an org and its initial admin agent in one
	// transaction; neither row exists if either insert fails.
	CreateOrganization(ctx context.Context, org *model.Organization, admin *model.Agent) error
	// GetOrganization looks up an org by id; ErrNotFound when absent.
	GetOrganization(ctx context.Context, orgID string) (*model.Organization, error)
	// CreateAgent inserts an agent under an existing org.
	CreateAgent(ctx context.Context, agent *model.Agent) error
	// GetAgent looks up an agent by id; ErrNotFound when absent.
	GetAgent(ctx context.Context, agentID string) (*model.Agent, error)
	// ListAgents returns an org's agents, newest first.
	ListAgents(ctx context.Context, orgID string) ([]*model.Agent, error)
	// CountAgents returns the number of agents registered under an org.
	CountAgents(ctx context.Context, orgID string) (int, error)
}
