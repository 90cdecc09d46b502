package handlers

import (
	"errors"
	"net/http"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/models"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// JobHandler HTTP surface for N-leg cross-chain jobs
type JobHandler struct {
	orchestrator *services.BridgeOrchestratorService
	logger       *logrus.Logger
}

// NewJobHandler creates the job handler
func NewJobHandler(orchestrator *services.BridgeOrchestratorService, logger *logrus.Logger) *JobHandler {
	return &JobHandler{orchestrator: orchestrator, logger: logger}
}

type createJobRequest struct {
	QuoteID       string `json:"quote_id" binding:"required"`
	WalletAddress string `json:"wallet_address" binding:"required"`
	Recipient     string `json:"recipient" binding:"required"`
}

// CreateJob POST /api/v1/jobs
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	job, err := h.orchestrator.InitiateBridge(c.Request.Context(), req.QuoteID, req.WalletAddress, req.Recipient)
	if err != nil {
		if errors.Is(err, services.ErrQuoteExpired) {
			c.JSON(http.StatusGone, gin.H{"success": false, "error": err.Error(), "code": "QUOTE_EXPIRED"})
			return
		}
		h.logger.WithError(err).Warn("Failed to create job")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": job})
}

// GetJob GET /api/v1/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.orchestrator.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": job})
}

// ListJobs GET /api/v1/jobs?wallet=...
func (h *JobHandler) ListJobs(c *gin.Context) {
	wallet := c.Query("wallet")
	if wallet == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "wallet query parameter is required"})
		return
	}
	jobs, err := h.orchestrator.GetJobsByWallet(c.Request.Context(), wallet)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": jobs})
}

// CancelJob POST /api/v1/jobs/:id/cancel
func (h *JobHandler) CancelJob(c *gin.Context) {
	if err := h.orchestrator.CancelJob(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, services.ErrJobNotCancellable) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error(), "code": "NOT_CANCELLABLE"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type updateLegRequest struct {
	Status       string `json:"status" binding:"required"`
	SourceTxHash string `json:"source_tx_hash"`
	DestTxHash   string `json:"dest_tx_hash"`
	OutputAmount string `json:"output_amount"`
	LastError    string `json:"last_error"`
}

// UpdateLegStatus PUT /api/v1/admin/legs/:id/status. Operator-facing:
// reports leg outcomes observed off-process (destination chain
// deliveries, manual resolutions).
func (h *JobHandler) UpdateLegStatus(c *gin.Context) {
	var req updateLegRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	status := models.LegStatus(req.Status)
	switch status {
	case models.LegStatusExecuting, models.LegStatusSubmitted, models.LegStatusCompleted, models.LegStatusFailed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid leg status"})
		return
	}

	err := h.orchestrator.UpdateLegStatus(c.Request.Context(), c.Param("id"), status, services.LegUpdate{
		SourceTxHash: req.SourceTxHash,
		DestTxHash:   req.DestTxHash,
		OutputAmount: req.OutputAmount,
		LastError:    req.LastError,
	})
	if err != nil {
		h.logger.WithError(err).WithField("leg_id", c.Param("id")).Warn("Failed to update leg")
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
