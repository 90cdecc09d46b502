package handlers

import (
	"net/http"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// QuoteHandler HTTP surface for route quotes
type QuoteHandler struct {
	registry *services.RouteRegistry
	logger   *logrus.Logger
}

// NewQuoteHandler creates the quote handler
func NewQuoteHandler(registry *services.RouteRegistry, logger *logrus.Logger) *QuoteHandler {
	return &QuoteHandler{registry: registry, logger: logger}
}

type quoteRequest struct {
	SourceChain string `json:"source_chain" binding:"required"`
	SourceToken string `json:"source_token" binding:"required"`
	DestChain   string `json:"dest_chain" binding:"required"`
	DestToken   string `json:"dest_token" binding:"required"`
	Amount      string `json:"amount" binding:"required"`
	SlippageBps int64  `json:"slippage_bps"`
}

// GetQuote POST /api/v1/quotes
func (h *QuoteHandler) GetQuote(c *gin.Context) {
	var req quoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	quote, err := h.registry.GetQuote(c.Request.Context(),
		req.SourceChain, req.SourceToken, req.DestChain, req.DestToken, req.Amount,
		services.QuoteOptions{SlippageBps: req.SlippageBps})
	if err != nil {
		h.logger.WithError(err).Warn("Quote request rejected")
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if quote == nil {
		// A valid pair with no available route is an empty result, not an
		// error.
		c.JSON(http.StatusOK, gin.H{"success": true, "data": nil, "message": "no route available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": quote})
}
