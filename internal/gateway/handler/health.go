package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relay-protocol/relay/internal/policy"
	"go.uber.org/zap"
)

// Pinger reports database liveness. Satisfied by *pgxpool.Pool; nil means
// the gateway runs on the in-memory ledger and the check is skipped.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the process liveness probe.
type HealthHandler struct {
	db        Pinger
	evaluator *policy.Client
	logger    *zap.Logger
}

// NewHealthHandler creates a HealthHandler. db may be nil.
func NewHealthHandler(db Pinger, evaluator *policy.Client, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{db: db, evaluator: evaluator, logger: logger}
}

// Register mounts GET /health on the root router.
func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)
}

// Health handles GET /health — checks the store and the policy evaluator.
// Degraded components are reported individually; the overall status is
// healthy only when both respond.
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbOK := true
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("database health check failed", zap.Error(err))
			dbOK = false
		}
	}
	policyOK := h.evaluator.HealthCheck(ctx)

	status := "healthy"
	code := http.StatusOK
	if !dbOK || !policyOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	RecordHealthCheck(dbOK && policyOK)

	c.JSON(code, gin.H{
		"status":        status,
		"database":      dbOK,
		"policy_engine": policyOK,
		"timestamp":     time.Now().UTC(),
	})
}
