package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relay-protocol/relay/internal/auth"
	"github.com/relay-protocol/relay/internal/ledger"
	"github.com/relay-protocol/relay/internal/model"
	"go.uber.org/zap"
)

// AuditHandler exposes read-only audit queries over the decision ledger.
type AuditHandler struct {
	ledger ledger.Ledger
	logger *zap.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(led ledger.Ledger, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{ledger: led, logger: logger}
}

// Register mounts the audit routes behind the provided auth middleware
// (Optional or Require, per the AUTH_REQUIRED flag).
func (h *AuditHandler) Register(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	a := rg.Group("/audit")
	{
		a.GET("/query", authMW, h.Query)
		a.GET("/stats", authMW, h.Stats)
	}
}

// auditRecord is one row of the query response: the manifest's action
// payload and justification plus its seal.
type auditRecord struct {
	ManifestID  string         `json:"manifest_id"`
	CreatedAt   time.Time      `json:"created_at"`
	AgentID     string         `json:"agent_id"`
	OrgID       string         `json:"org_id"`
	Provider    string         `json:"provider"`
	Method      string         `json:"method"`
	Parameters  map[string]any `json:"parameters"`
	Reasoning   string         `json:"reasoning"`
	Environment string         `json:"environment"`
	Seal        *model.Seal    `json:"seal"`
}

// filterFromQuery builds the ledger filter from query parameters. For
// authenticated callers the org scope is forced to the caller's org,
// overriding any supplied org_id.
func filterFromQuery(c *gin.Context) ledger.Filter {
	f := ledger.Filter{
		OrgID:    c.Query("org_id"),
		AgentID:  c.Query("agent_id"),
		Provider: c.Query("provider"),
	}
	if v := c.Query("approved_only"); v != "" {
		if approved, err := strconv.ParseBool(v); err == nil {
			f.ApprovedOnly = &approved
		}
	}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "100"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	if ac := auth.FromCtx(c); ac != nil {
		f.OrgID = ac.OrgID
	}
	return f
}

// Query handles GET /v1/audit/query — filtered decision history, newest first.
func (h *AuditHandler) Query(c *gin.Context) {
	f := filterFromQuery(c)

	records, err := h.ledger.Query(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("audit query", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query audit ledger"})
		return
	}

	results := make([]auditRecord, 0, len(records))
	for _, r := range records {
		results = append(results, auditRecord{
			ManifestID:  r.Manifest.ManifestID.String(),
			CreatedAt:   r.Manifest.CreatedAt.UTC(),
			AgentID:     r.Manifest.AgentID,
			OrgID:       r.Manifest.OrgID,
			Provider:    r.Manifest.Provider,
			Method:      r.Manifest.Method,
			Parameters:  r.Manifest.Parameters,
			Reasoning:   r.Manifest.Reasoning,
			Environment: r.Manifest.Environment,
			Seal:        r.Seal,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"total":   len(results),
		"limit":   f.Limit,
		"offset":  f.Offset,
		"results": results,
	})
}

// Stats handles GET /v1/audit/stats — aggregate counts under the same
// tenant-scoping rule as Query.
func (h *AuditHandler) Stats(c *gin.Context) {
	f := filterFromQuery(c)

	stats, err := h.ledger.Stats(c.Request.Context(), f)
	if err != nil {
		h.logger.Error("audit stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute audit stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}
