// Package handler exposes the gateway over HTTP with gin: tenant
// registration, manifest validation, seal lifecycle, and audit reads.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/relay-protocol/relay/internal/auth"
	"github.com/relay-protocol/relay/internal/model"
	"github.com/relay-protocol/relay/internal/tenancy"
	"go.uber.org/zap"
)

// TenantHandler handles organization and agent registration.
type TenantHandler struct {
	tenants *tenancy.Service
	tokens  *auth.TokenIssuer
	gate    *auth.Gate
	logger  *zap.Logger
}

// NewTenantHandler creates a TenantHandler.
func NewTenantHandler(tenants *tenancy.Service, tokens *auth.TokenIssuer, gate *auth.Gate, logger *zap.Logger) *TenantHandler {
	return &TenantHandler{tenants: tenants, tokens: tokens, gate: gate, logger: logger}
}

// Register mounts the tenancy routes. Org registration is the only public
// write: it is how a tenant obtains its first token.
func (h *TenantHandler) Register(rg *gin.RouterGroup) {
	orgs := rg.Group("/orgs")
	{
		orgs.POST("/register", h.RegisterOrg)
		orgs.GET("/:org_id", h.gate.Require(), h.GetOrg)
	}
	agents := rg.Group("/agents")
	{
		agents.POST("/register", h.gate.Require(), h.RegisterAgent)
		agents.GET("", h.gate.Require(), h.ListAgents)
	}
}

// RegisterOrg handles POST /v1/orgs/register.
func (h *TenantHandler) RegisterOrg(c *gin.Context) {
	var req model.OrgRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	org, admin, err := h.tenants.RegisterOrganization(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("register organization", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register organization"})
		return
	}

	token, err := h.tokens.Issue(admin.AgentID, org.OrgID)
	if err != nil {
		h.logger.Error("issue token", zap.Error(err), zap.String("org_id", org.OrgID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	h.gate.RecordAuthentication(c, admin.AgentID, org.OrgID)

	c.JSON(http.StatusOK, model.OrgRegisterResponse{
		OrgID:        org.OrgID,
		OrgName:      org.OrgName,
		ContactEmail: org.ContactEmail,
		CreatedAt:    org.CreatedAt,
		InitialAgent: model.InitialAgentInfo{
			AgentID:   admin.AgentID,
			AgentName: admin.AgentName,
		},
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(h.tokens.TTL().Seconds()),
	})
}

// GetOrg handles GET /v1/orgs/:org_id. Callers may only read their own org;
// any other org_id is a 403 regardless of whether it exists, so the endpoint
// cannot be used to probe the tenant namespace.
func (h *TenantHandler) GetOrg(c *gin.Context) {
	ac := auth.FromCtx(c)
	orgID := c.Param("org_id")
	if ac.OrgID != orgID {
		h.gate.Forbid(c, ac, "org mismatch on org read", "access denied to this organization")
		return
	}

	org, count, err := h.tenants.GetOrganization(c.Request.Context(), orgID)
	if err != nil {
		if errors.Is(err, tenancy.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		h.logger.Error("get organization", zap.Error(err), zap.String("org_id", orgID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load organization"})
		return
	}

	c.JSON(http.StatusOK, model.OrgInfoResponse{
		OrgID:        org.OrgID,
		OrgName:      org.OrgName,
		ContactEmail: org.ContactEmail,
		AgentsCount:  count,
		CreatedAt:    org.CreatedAt,
		Active:       org.Active,
	})
}

// RegisterAgent handles POST /v1/agents/register. The new agent always lands
// in the caller's org; there is no way to register into a foreign tenant.
func (h *TenantHandler) RegisterAgent(c *gin.Context) {
	ac := auth.FromCtx(c)

	var req model.AgentRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	agent, err := h.tenants.RegisterAgent(c.Request.Context(), ac.OrgID, &req)
	if err != nil {
		h.logger.Error("register agent", zap.Error(err), zap.String("org_id", ac.OrgID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to register agent"})
		return
	}

	token, err := h.tokens.Issue(agent.AgentID, agent.OrgID)
	if err != nil {
		h.logger.Error("issue token", zap.Error(err), zap.String("agent_id", agent.AgentID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	h.gate.RecordAuthentication(c, agent.AgentID, agent.OrgID)

	c.JSON(http.StatusOK, model.AgentRegisterResponse{
		AgentID:     agent.AgentID,
		OrgID:       agent.OrgID,
		AgentName:   agent.AgentName,
		Description: agent.Description,
		CreatedAt:   agent.CreatedAt,
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(h.tokens.TTL().Seconds()),
	})
}

// ListAgents handles GET /v1/agents, scoped to the caller's org.
func (h *TenantHandler) ListAgents(c *gin.Context) {
	ac := auth.FromCtx(c)

	agents, err := h.tenants.ListAgents(c.Request.Context(), ac.OrgID)
	if err != nil {
		h.logger.Error("list agents", zap.Error(err), zap.String("org_id", ac.OrgID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list agents"})
		return
	}

	infos := make([]model.AgentInfo, 0, len(agents))
	for _, a := range agents {
		infos = append(infos, model.AgentInfo{
			AgentID:     a.AgentID,
			AgentName:   a.AgentName,
			Description: a.Description,
			CreatedAt:   a.CreatedAt,
			Active:      a.Active,
		})
	}
	c.JSON(http.StatusOK, model.AgentListResponse{Total: len(infos), Agents: infos})
}
