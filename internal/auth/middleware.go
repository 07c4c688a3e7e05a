package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/relay-protocol/relay/internal/model"
	"go.uber.org/zap"
)

// ctxKey is the gin context key holding the verified identity.
const ctxKey = "relay_auth_context"

// AgentDirectory confirms that a token's subject still exists and is active.
// Satisfied by *tenancy.Service.
type AgentDirectory interface {
	GetAgent(ctx context.Context, agentID string) (*model.Agent, error)
}

// EventWriter records auth outcomes on the audit trail.
// Satisfied by ledger.Ledger.
type EventWriter interface {
	WriteAuthEvent(ctx context.Context, e *model.AuthEvent) error
}

// Gate verifies bearer tokens on incoming requests and writes an AuthEvent
// for every outcome before the response is emitted.
type Gate struct {
	tokens *TokenIssuer
	agents AgentDirectory
	events EventWriter
	logger *zap.Logger
}

// NewGate creates a Gate.
func NewGate(tokens *TokenIssuer, agents AgentDirectory, events EventWriter, logger *zap.Logger) *Gate {
	return &Gate{tokens: tokens, agents: agents, events: events, logger: logger}
}

// Require returns middleware that rejects requests without a valid token.
func (g *Gate) Require() gin.HandlerFunc {
	return g.middleware(true)
}

// Optional returns middleware that admits anonymous requests when the
// bearer header is absent but still fully verifies any token presented.
func (g *Gate) Optional() gin.HandlerFunc {
	return g.middleware(false)
}

func (g *Gate) middleware(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if !required {
				c.Next()
				return
			}
			g.fail(c, "", "", "Missing authorization token")
			return
		}

		// A present header must be usable even in optional mode: anonymous
		// means no credentials, not broken ones.
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			g.fail(c, "", "", "Authorization header must use the Bearer scheme")
			return
		}

		claims, err := g.tokens.Verify(token)
		if err != nil {
			g.fail(c, "", "", "Invalid token: "+err.Error())
			return
		}

		agent, err := g.agents.GetAgent(c.Request.Context(), claims.AgentID)
		if err != nil || !agent.Active {
			g.fail(c, claims.AgentID, claims.OrgID, "Agent not found or inactive")
			return
		}

		g.record(c, model.EventAuthorizationSuccess, true, claims.AgentID, claims.OrgID, "")
		c.Set(ctxKey, &Context{AgentID: claims.AgentID, OrgID: claims.OrgID})
		c.Next()
	}
}

// RecordAuthentication logs a token issuance on the audit trail. Called by
// the tenant handlers when a registration mints a bearer token.
func (g *Gate) RecordAuthentication(c *gin.Context, agentID, orgID string) {
	g.record(c, model.EventAuthentication, true, agentID, orgID, "")
}

// fail records the failure event and aborts with 401. The event write
// happens before the response per the audit ordering guarantee.
func (g *Gate) fail(c *gin.Context, agentID, orgID, reason string) {
	g.record(c, model.EventAuthorizationFailure, false, agentID, orgID, reason)
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": reason})
}

// Forbid records a tenant-mismatch authorization failure and responds 403.
// Called by handlers when the caller's org does not own the target resource.
func (g *Gate) Forbid(c *gin.Context, ac *Context, reason, message string) {
	g.record(c, model.EventAuthorizationFailure, false, ac.AgentID, ac.OrgID, reason)
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": message})
}

func (g *Gate) record(c *gin.Context, eventType string, success bool, agentID, orgID, reason string) {
	e := &model.AuthEvent{
		EventID:       uuid.New(),
		EventType:     eventType,
		AgentID:       agentID,
		OrgID:         orgID,
		Endpoint:      c.Request.URL.Path,
		IPAddress:     c.ClientIP(),
		Success:       success,
		FailureReason: reason,
		CreatedAt:     time.Now().UTC(),
	}
	if err := g.events.WriteAuthEvent(c.Request.Context(), e); err != nil {
		g.logger.Error("write auth event", zap.Error(err), zap.String("event_type", eventType))
	}
}

// FromCtx retrieves the identity injected by the middleware, or nil for
// anonymous requests.
func FromCtx(c *gin.Context) *Context {
	v, ok := c.Get(ctxKey)
	if !ok {
		return nil
	}
	ac, _ := v.(*Context)
	return ac
}
