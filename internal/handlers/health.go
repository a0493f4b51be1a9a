package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zfogg/vidlayer/internal/middleware"
)

// Health reports database and cache connectivity. Any failure is a 503 so
// load balancers take the instance out of rotation.
// GET /health
func (h *Handlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if sqlDB, err := h.container.DB().DB(); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
		middleware.SetDatabaseConnections("postgres", sqlDB.Stats().OpenConnections)
	}

	if err := h.container.Cache().Ping(ctx); err != nil {
		checks["cache"] = err.Error()
		healthy = false
	} else {
		checks["cache"] = "ok"
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	c.JSON(status, gin.H{
		"status":    state,
		"checks":    checks,
		"websocket": h.container.Hub().GetMetrics(),
		"timestamp": time.Now().UTC(),
	})
}
