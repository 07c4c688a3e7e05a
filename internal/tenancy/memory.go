package tenancy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/relay-protocol/relay/internal/model"
)

// MemoryStore is an in-memory, thread-safe Store implementation for tests
// and development.
type MemoryStore struct {
	mu     sync.RWMutex
	orgs   map[string]*model.Organization
	agents map[string]*model.Agent
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:   make(map[string]*model.Organization),
		agents: make(map[string]*model.Agent),
	}
}

// CreateOrganization implements Store.
func (s *MemoryStore) CreateOrganization(_ context.Context, org *model.Organization, admin *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orgs[org.OrgID]; ok {
		return fmt.Errorf("%w: org %s", ErrDuplicateID, org.OrgID)
	}
	if _, ok := s.agents[admin.AgentID]; ok {
		return fmt.Errorf("%w: agent %s", ErrDuplicateID, admin.AgentID)
	}
	orgCopy := *org
	adminCopy := *admin
	s.orgs[org.OrgID] = &orgCopy
	s.agents[admin.AgentID] = &adminCopy
	return nil
}

// GetOrganization implements Store.
func (s *MemoryStore) GetOrganization(_ context.Context, orgID string) (*model.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[orgID]
	if !ok {
		return nil, ErrNotFound
	}
	orgCopy := *org
	return &orgCopy, nil
}

// CreateAgent implements Store.
func (s *MemoryStore) CreateAgent(_ context.Context, agent *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.AgentID]; ok {
		return fmt.Errorf("%w: agent %s", ErrDuplicateID, agent.AgentID)
	}
	agentCopy := *agent
	s.agents[agent.AgentID] = &agentCopy
	return nil
}

// GetAgent implements Store.
func (s *MemoryStore) GetAgent(_ context.Context, agentID string) (*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	agentCopy := *agent
	return &agentCopy, nil
}

// ListAgents implements Store.
func (s *MemoryStore) ListAgents(_ context.Context, orgID string) ([]*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var agents []*model.Agent
	for _, a := range s.agents {
		if a.OrgID == orgID {
			aCopy := *a
			agents = append(agents, &aCopy)
		}
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].CreatedAt.After(agents[j].CreatedAt)
	})
	return agents, nil
}

// CountAgents implements Store.
func (s *MemoryStore) CountAgents(_ context.Context, orgID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.agents {
		if a.OrgID == orgID {
			n++
		}
	}
	return n, nil
}

// SetAgentActive toggles an agent's activation flag. Test helper mirroring
// an operator-side deactivation.
func (s *MemoryStore) SetAgentActive(agentID string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.agents[agentID]; ok {
		a.Active = active
	}
}
