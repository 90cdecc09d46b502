package handlers

import (
	"context"
	"net/http"

	"github.com/shield-xrpfinance/shieldfinance-sub005/internal/app"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminHandler operator endpoints: status overviews and manual sweep
// triggers.
type AdminHandler struct {
	container *app.ServiceContainer
	logger    *logrus.Logger
}

// NewAdminHandler creates the admin handler
func NewAdminHandler(container *app.ServiceContainer, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{container: container, logger: logger}
}

// Status GET /api/v1/admin/status
func (h *AdminHandler) Status(c *gin.Context) {
	counts, err := h.container.BridgeRepo.CountByStatus(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"bridges_by_status": counts,
			"watched_addresses": h.container.Watcher.WatchedAddresses(),
			"free_agent_addrs":  h.container.AgentPool.FreeCount(),
		},
	})
}

// TriggerReconciliation POST /api/v1/admin/reconcile
func (h *AdminHandler) TriggerReconciliation(c *gin.Context) {
	h.logger.Info("Manual reconciliation sweep triggered")
	go h.container.Reconciliation.RunOnce(context.Background())
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "reconciliation sweep started"})
}

// TriggerRetryCycle POST /api/v1/admin/retry
func (h *AdminHandler) TriggerRetryCycle(c *gin.Context) {
	h.logger.Info("Manual withdrawal retry cycle triggered")
	go h.container.RetryEngine.RunCycle()
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "retry cycle started"})
}
