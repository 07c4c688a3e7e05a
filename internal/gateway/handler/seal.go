package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/relay-protocol/relay/internal/gateway/service"
	"github.com/relay-protocol/relay/internal/ledger"
	"go.uber.org/zap"
)

// SealHandler handles seal verification and the one-time-use transition.
// Both endpoints are unauthenticated: executors hold a seal_id, not a tenant
// token, and a seal_id is itself an unguessable capability.
type SealHandler struct {
	validator *service.Validator
	logger    *zap.Logger
}

// NewSealHandler creates a SealHandler.
func NewSealHandler(validator *service.Validator, logger *zap.Logger) *SealHandler {
	return &SealHandler{validator: validator, logger: logger}
}

// Register mounts the seal routes.
func (h *SealHandler) Register(rg *gin.RouterGroup) {
	s := rg.Group("/seal")
	{
		s.GET("/verify", h.Verify)
		s.POST("/mark-executed", h.MarkExecuted)
	}
}

// Verify handles GET /v1/seal/verify?seal_id=… — returns the verification
// report without consuming the seal.
func (h *SealHandler) Verify(c *gin.Context) {
	sealID := c.Query("seal_id")
	if sealID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seal_id query parameter is required"})
		return
	}

	report, err := h.validator.VerifySeal(c.Request.Context(), sealID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "seal not found"})
			return
		}
		h.logger.Error("verify seal", zap.Error(err), zap.String("seal_id", sealID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to verify seal"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// MarkExecuted handles POST /v1/seal/mark-executed?seal_id=… — flips the
// one-time-use bit. Exactly one concurrent caller succeeds; the rest get 400.
func (h *SealHandler) MarkExecuted(c *gin.Context) {
	sealID := c.Query("seal_id")
	if sealID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seal_id query parameter is required"})
		return
	}

	execAt, err := h.validator.MarkExecuted(c.Request.Context(), sealID)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrAlreadyExecuted):
			c.JSON(http.StatusBadRequest, gin.H{"error": "seal already executed"})
		case errors.Is(err, ledger.ErrExpired):
			c.JSON(http.StatusBadRequest, gin.H{"error": "seal has expired"})
		case errors.Is(err, ledger.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "seal not found"})
		default:
			h.logger.Error("mark seal executed", zap.Error(err), zap.String("seal_id", sealID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark seal executed"})
		}
		return
	}

	RecordSealExecuted()
	c.JSON(http.StatusOK, gin.H{
		"seal_id":     sealID,
		"executed":    true,
		"executed_at": execAt,
	})
}
