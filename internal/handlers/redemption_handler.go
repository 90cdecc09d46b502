package handlers

import (
	"errors"
	"net/http"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/app"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RedemptionHandler HTTP surface for EVM → XRPL withdrawals
type RedemptionHandler struct {
	service app.BridgeAPI
	logger  *logrus.Logger
}

// NewRedemptionHandler creates the redemption handler
func NewRedemptionHandler(service app.BridgeAPI, logger *logrus.Logger) *RedemptionHandler {
	return &RedemptionHandler{service: service, logger: logger}
}

type createRedemptionRequest struct {
	WalletAddress      string `json:"wallet_address" binding:"required"`
	BurnTxHash         string `json:"burn_tx_hash" binding:"required"`
	DestinationAddress string `json:"destination_address" binding:"required"`
	AmountDrops        int64  `json:"amount_drops" binding:"required,gt=0"`
}

// CreateRedemption POST /api/v1/redemptions
func (h *RedemptionHandler) CreateRedemption(c *gin.Context) {
	var req createRedemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	redemption, err := h.service.CreateRedemption(c.Request.Context(),
		req.WalletAddress, req.BurnTxHash, req.DestinationAddress, req.AmountDrops)
	if err != nil {
		if errors.Is(err, app.ErrNotReady) {
			respondNotReady(c)
			return
		}
		h.logger.WithError(err).Warn("Failed to create redemption")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": redemption})
}

type recordPayoutRequest struct {
	PayoutTxHash string `json:"payout_tx_hash" binding:"required"`
}

// RecordPayout POST /api/v1/redemptions/:id/payout
func (h *RedemptionHandler) RecordPayout(c *gin.Context) {
	var req recordPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	if err := h.service.RecordPayoutSubmitted(c.Request.Context(), c.Param("id"), req.PayoutTxHash); err != nil {
		if errors.Is(err, app.ErrNotReady) {
			respondNotReady(c)
			return
		}
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
