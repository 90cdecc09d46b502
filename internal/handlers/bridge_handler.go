package handlers

import (
	"errors"
	"net/http"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/app"
	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BridgeHandler HTTP surface for two-party bridge requests
type BridgeHandler struct {
	service app.BridgeAPI
	logger  *logrus.Logger
}

// NewBridgeHandler creates the bridge handler
func NewBridgeHandler(service app.BridgeAPI, logger *logrus.Logger) *BridgeHandler {
	return &BridgeHandler{service: service, logger: logger}
}

func respondNotReady(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "service is starting up", "code": "NOT_READY"})
}

type createBridgeRequest struct {
	WalletAddress string `json:"wallet_address" binding:"required"`
	VaultAddress  string `json:"vault_address" binding:"required"`
	AmountDrops   int64  `json:"amount_drops" binding:"required,gt=0"`
}

// CreateBridge POST /api/v1/bridges
func (h *BridgeHandler) CreateBridge(c *gin.Context) {
	var req createBridgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	bridge, err := h.service.CreateBridgeRequest(c.Request.Context(), req.WalletAddress, req.VaultAddress, req.AmountDrops)
	if err != nil {
		if errors.Is(err, app.ErrNotReady) {
			respondNotReady(c)
			return
		}
		h.logger.WithError(err).Warn("Failed to create bridge request")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": bridge})
}

// InitiateBridge POST /api/v1/bridges/:id/initiate
func (h *BridgeHandler) InitiateBridge(c *gin.Context) {
	bridge, err := h.service.InitiateBridge(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, app.ErrNotReady) {
			respondNotReady(c)
			return
		}
		h.logger.WithError(err).WithField("bridge_id", c.Param("id")).Warn("Failed to initiate bridge")
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": bridge})
}

// GetBridge GET /api/v1/bridges/:id
func (h *BridgeHandler) GetBridge(c *gin.Context) {
	bridge, err := h.service.GetBridge(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, app.ErrNotReady) {
			respondNotReady(c)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "bridge not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": bridge})
}

// CancelBridge POST /api/v1/bridges/:id/cancel
func (h *BridgeHandler) CancelBridge(c *gin.Context) {
	err := h.service.CancelBridge(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, app.ErrNotReady) {
			respondNotReady(c)
			return
		}
		if errors.Is(err, services.ErrCancellationRefused) {
			c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error(), "code": "PAST_COMMIT_POINT"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
