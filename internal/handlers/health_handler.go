package handlers

import (
	"net/http"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/app"

	"github.com/gin-gonic/gin"
)

// HealthHandler liveness and readiness probes
type HealthHandler struct {
	readiness *app.ReadinessRegistry
}

// NewHealthHandler creates the health handler
func NewHealthHandler(readiness *app.ReadinessRegistry) *HealthHandler {
	return &HealthHandler{readiness: readiness}
}

// Health GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	ready, components := h.readiness.Snapshot()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready, "components": components})
}
