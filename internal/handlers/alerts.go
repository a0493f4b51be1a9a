package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListAlerts returns open alerts, or every stored alert with ?all=true
// GET /api/v1/admin/alerts
func (h *Handlers) ListAlerts(c *gin.Context) {
	manager := h.container.Alerts().Manager()
	list := manager.Active()
	if c.Query("all") == "true" {
		list = manager.All()
	}
	c.JSON(http.StatusOK, gin.H{
		"alerts": list,
		"stats":  manager.Stats(),
		"rules":  manager.Rules(),
	})
}

// EvaluateAlerts runs the rules now instead of waiting for the scheduler
// POST /api/v1/admin/alerts/evaluate
func (h *Handlers) EvaluateAlerts(c *gin.Context) {
	raised, err := h.container.Alerts().Evaluate(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"raised": raised})
}

// ResolveAlert closes an alert by hand
// POST /api/v1/admin/alerts/:id/resolve
func (h *Handlers) ResolveAlert(c *gin.Context) {
	alert, err := h.container.Alerts().Manager().Resolve(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": alert})
}
