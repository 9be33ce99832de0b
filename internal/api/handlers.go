package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/certfolio/verification-engine/internal/issuers"
	"github.com/certfolio/verification-engine/internal/service"
	"github.com/certfolio/verification-engine/internal/verification"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// VerificationService is the certificate service used by the handlers
type VerificationService interface {
	Verify(ctx context.Context, req service.Request) (*service.Result, error)
	BulkVerify(ctx context.Context, reqs []service.Request) (*service.BulkResult, error)
	Enhanced(ctx context.Context, req service.Request) (*verification.Judgment, error)
	Screen(ctx context.Context, req service.Request) verification.AIResult
	CheckIssuer(claimed verification.ClaimedMetadata) *verification.IssuerCheckResult
	ListIssuers() []issuers.Issuer
	History(ctx context.Context, certificateID string, limit int) ([]service.HistoryEntry, error)
	Stats(ctx context.Context) (map[string]int64, error)
}

// HealthChecker reports the health of each backend. A nil error means healthy.
type HealthChecker interface {
	Health(ctx context.Context) map[string]error
}

// Handler contains all API handlers
type Handler struct {
	service VerificationService
	health  HealthChecker
	version string
	logger  *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(svc VerificationService, health HealthChecker, version string, logger *zap.Logger) *Handler {
	return &Handler{
		service: svc,
		health:  health,
		version: version,
		logger:  logger,
	}
}

type bulkRequest struct {
	Items []service.Request `json:"items" binding:"required"`
}

// Health returns service health status
func (h *Handler) Health(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	services := map[string]string{}

	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		for name, err := range h.health.Health(ctx) {
			if err != nil {
				services[name] = "unhealthy: " + err.Error()
				status = "unhealthy"
				code = http.StatusServiceUnavailable
				continue
			}
			services[name] = "healthy"
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"version":   h.version,
		"services":  services,
	})
}

// Verify verifies a single certificate
func (h *Handler) Verify(c *gin.Context) {
	var req service.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.UserID == "" {
		req.UserID = callerID(c)
	}

	result, err := h.service.Verify(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "Failed to verify certificate", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// BulkVerify verifies a batch of certificates
func (h *Handler) BulkVerify(c *gin.Context) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	caller := callerID(c)
	for i := range req.Items {
		if req.Items[i].UserID == "" {
			req.Items[i].UserID = caller
		}
	}

	result, err := h.service.BulkVerify(c.Request.Context(), req.Items)
	if err != nil {
		h.respondError(c, "Failed to run bulk verification", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Enhanced runs the escalation judge on a certificate
func (h *Handler) Enhanced(c *gin.Context) {
	var req service.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	judgment, err := h.service.Enhanced(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, "Enhanced verification failed", err)
		return
	}

	c.JSON(http.StatusOK, judgment)
}

// Screen runs the fail-open submission check
func (h *Handler) Screen(c *gin.Context) {
	var req service.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.service.Screen(c.Request.Context(), req))
}

// CheckIssuer cross-checks claimed metadata against known issuers
func (h *Handler) CheckIssuer(c *gin.Context) {
	var claimed verification.ClaimedMetadata
	if err := c.ShouldBindJSON(&claimed); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.service.CheckIssuer(claimed))
}

// ListIssuers returns the known issuers
func (h *Handler) ListIssuers(c *gin.Context) {
	list := h.service.ListIssuers()
	c.JSON(http.StatusOK, gin.H{"issuers": list, "count": len(list)})
}

// History returns the stored verifications of a certificate
func (h *Handler) History(c *gin.Context) {
	certificateID := c.Param("id")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit parameter"})
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := h.service.History(c.Request.Context(), certificateID, limit)
	if err != nil {
		h.respondError(c, "Failed to retrieve verification history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"certificateId": certificateID, "verifications": entries})
}

// Stats returns stored verification counts per decision
func (h *Handler) Stats(c *gin.Context) {
	counts, err := h.service.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to retrieve verification stats", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"decisions": counts})
}

func (h *Handler) respondError(c *gin.Context, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error(msg,
			zap.String("request_id", c.GetString(requestIDKey)),
			zap.Error(err))
	}
	c.JSON(code, gin.H{"error": msg, "details": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrEmptyBatch),
		errors.Is(err, service.ErrBatchTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrExtractionFailed),
		errors.Is(err, verification.ErrInvalidJudgment):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrStorageUnavailable),
		errors.Is(err, verification.ErrJudgeUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
