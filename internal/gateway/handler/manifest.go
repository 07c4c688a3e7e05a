package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/relay-protocol/relay/internal/auth"
	"github.com/relay-protocol/relay/internal/gateway/service"
	"github.com/relay-protocol/relay/internal/model"
	"github.com/relay-protocol/relay/internal/policy"
	"go.uber.org/zap"
)

// ManifestHandler handles manifest validation and the evaluator health probe.
type ManifestHandler struct {
	validator *service.Validator
	evaluator *policy.Client
	gate      *auth.Gate
	logger    *zap.Logger
}

// NewManifestHandler creates a ManifestHandler.
func NewManifestHandler(validator *service.Validator, evaluator *policy.Client, gate *auth.Gate, logger *zap.Logger) *ManifestHandler {
	return &ManifestHandler{validator: validator, evaluator: evaluator, gate: gate, logger: logger}
}

// Register mounts the manifest routes. Validation auth is Optional: the
// AUTH_REQUIRED flag decides at startup whether anonymous submission is
// allowed, and an authenticated caller is always tenant-checked.
func (h *ManifestHandler) Register(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	m := rg.Group("/manifest")
	{
		m.POST("/validate", authMW, h.Validate)
		m.GET("/health", h.Health)
	}
}

// Validate handles POST /v1/manifest/validate: normalize, schema-check,
// tenant-check, then run the decision pipeline. A policy evaluator failure
// maps to 503 with nothing persisted.
func (h *ManifestHandler) Validate(c *gin.Context) {
	var req model.ValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	m := &req.Manifest
	m.Normalize()
	if err := m.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// An authenticated caller may only submit manifests for its own org.
	if ac := auth.FromCtx(c); ac != nil && ac.OrgID != m.Agent.OrgID {
		h.gate.Forbid(c, ac, "org mismatch on manifest submission", "manifest org_id does not match authenticated organization")
		return
	}

	resp, err := h.validator.Validate(c.Request.Context(), m, req.DryRun)
	if err != nil {
		var engineErr *policy.EngineError
		if errors.As(err, &engineErr) {
			h.logger.Warn("policy evaluator unavailable", zap.Error(err),
				zap.String("manifest_id", m.ManifestID.String()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "policy evaluator unavailable"})
			return
		}
		h.logger.Error("validate manifest", zap.Error(err),
			zap.String("manifest_id", m.ManifestID.String()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to validate manifest"})
		return
	}

	RecordDecision(resp.Approved)
	c.JSON(http.StatusOK, resp)
}

// Health handles GET /v1/manifest/health — reports evaluator reachability.
// Informational, not a liveness gate: an evaluator outage is "degraded" with
// a 200, never a 5xx.
func (h *ManifestHandler) Health(c *gin.Context) {
	ok := h.evaluator.HealthCheck(c.Request.Context())
	status := "healthy"
	policyVersion := "unknown"
	if ok {
		policyVersion = h.evaluator.PolicyVersion(c.Request.Context())
	} else {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":         status,
		"opa_available":  ok,
		"policy_version": policyVersion,
	})
}
