package tenancy

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/relay-protocol/relay/internal/model"
	"go.uber.org/zap"
)

// Service mints tenant IDs and drives registration against a Store.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a Service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// mintID returns prefix_{16 hex chars} from 8 random bytes.
func mintID(prefix string) string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; treat as fatal.
		panic(fmt.Sprintf("tenancy: read random bytes: %v", err))
	}
	return prefix + "_" + hex.EncodeToString(b[:])
}

// adminAgentID derives the well-known ID of an org's initial agent.
func adminAgentID(orgID string) string {
	return "agent_" + orgID + "_admin"
}

// RegisterOrganization creates an org together with its admin agent. A
// minted org_id colliding with an existing row is retried once with a fresh
// value; a second collision surfaces to the caller (the 128-bit space makes
// this effectively unreachable).
func (s *Service) RegisterOrganization(ctx context.Context, req *model.OrgRegisterRequest) (*model.Organization, *model.Agent, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		now := time.Now().UTC()
		org := &model.Organization{
			OrgID:        mintID("org"),
			OrgName:      req.OrgName,
			ContactEmail: req.ContactEmail,
			CreatedAt:    now,
			Active:       true,
		}
		admin := &model.Agent{
			AgentID:     adminAgentID(org.OrgID),
			OrgID:       org.OrgID,
			AgentName:   "admin-agent",
			Description: "Initial admin agent created during organization registration",
			CreatedAt:   now,
			Active:      true,
		}

		err := s.store.CreateOrganization(ctx, org, admin)
		if err == nil {
			s.logger.Info("organization registered",
				zap.String("org_id", org.OrgID),
				zap.String("admin_agent_id", admin.AgentID),
			)
			return org, admin, nil
		}
		if !errors.Is(err, ErrDuplicateID) {
			return nil, nil, err
		}
		lastErr = err
		s.logger.Warn("org id collision, retrying with fresh id", zap.Error(err))
	}
	return nil, nil, fmt.Errorf("register organization: %w", lastErr)
}

// RegisterAgent mints a new agent under orgID, with the same single-retry
// collision policy as org registration.
func (s *Service) RegisterAgent(ctx context.Context, orgID string, req *model.AgentRegisterRequest) (*model.Agent, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		agent := &model.Agent{
			AgentID:     mintID("agent"),
			OrgID:       orgID,
			AgentName:   req.AgentName,
			Description: req.Description,
			CreatedAt:   time.Now().UTC(),
			Active:      true,
		}

		err := s.store.CreateAgent(ctx, agent)
		if err == nil {
			s.logger.Info("agent registered",
				zap.String("agent_id", agent.AgentID),
				zap.String("org_id", orgID),
			)
			return agent, nil
		}
		if !errors.Is(err, ErrDuplicateID) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("agent id collision, retrying with fresh id", zap.Error(err))
	}
	return nil, fmt.Errorf("register agent: %w", lastErr)
}

// GetOrganization returns an org with its agent count.
func (s *Service) GetOrganization(ctx context.Context, orgID string) (*model.Organization, int, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.store.CountAgents(ctx, orgID)
	if err != nil {
		return nil, 0, err
	}
	return org, count, nil
}

// ListAgents returns the agents of one org, newest first.
func (s *Service) ListAgents(ctx context.Context, orgID string) ([]*model.Agent, error) {
	return s.store.ListAgents(ctx, orgID)
}

// GetAgent looks up a single agent. Used by the auth middleware to confirm
// a token's subject still exists and is active.
func (s *Service) GetAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	return s.store.GetAgent(ctx, agentID)
}
