package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/burrowhq/burrow/internal/config"
)

// HealthHandler serves the unauthenticated service endpoints.
type HealthHandler struct {
	cfg *config.Config
}

func NewHealthHandler(cfg *config.Config) *HealthHandler {
	return &HealthHandler{cfg: cfg}
}

// Check answers liveness probes.
func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"app":     h.cfg.AppName,
		"version": h.cfg.Version,
	})
}

// ServiceInfo describes the running gateway.
func (h *HealthHandler) ServiceInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":                h.cfg.AppName,
		"version":            h.cfg.Version,
		"environment":        h.cfg.Environment,
		"websocket_endpoint": "/api/tunnel/connect/{tunnel_id}",
	})
}

// RootNotFound hides the root path from scanners.
func (h *HealthHandler) RootNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
}
