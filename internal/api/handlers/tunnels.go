package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/burrowhq/burrow/internal/api/dto"
	"github.com/burrowhq/burrow/internal/config"
	"github.com/burrowhq/burrow/internal/logging"
	"github.com/burrowhq/burrow/internal/tunnel"
)

// TunnelHandler serves the tunnel control plane.
type TunnelHandler struct {
	cfg      *config.Config
	registry *tunnel.Registry
	logger   *logging.Logger
}

func NewTunnelHandler(cfg *config.Config, registry *tunnel.Registry, logger *logging.Logger) *TunnelHandler {
	return &TunnelHandler{cfg: cfg, registry: registry, logger: logger}
}

// Create mints a tunnel and returns the one response that carries the
// auth token.
func (h *TunnelHandler) Create(c *gin.Context) {
	var req dto.CreateTunnelRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	t, err := h.registry.Create(req.Name, req.LocalPort, req.Metadata)
	if err != nil {
		if errors.Is(err, tunnel.ErrCapacityExhausted) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Tunnel capacity exhausted"})
			return
		}
		h.logger.Error("Failed to create tunnel: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create tunnel"})
		return
	}

	h.logger.Info("Created tunnel %s via API", t.ID)

	c.JSON(http.StatusOK, dto.CreateTunnelResponse{
		TunnelID:  t.ID,
		AuthToken: t.AuthToken,
		URL:       h.cfg.PublicURL(t.ID),
		CreatedAt: t.CreatedAt,
	})
}

// List enumerates every registered tunnel.
func (h *TunnelHandler) List(c *gin.Context) {
	infos := h.registry.List()
	c.JSON(http.StatusOK, dto.ListTunnelsResponse{
		Tunnels: infos,
		Total:   len(infos),
	})
}

// Status returns the live state of one tunnel.
func (h *TunnelHandler) Status(c *gin.Context) {
	t, ok := h.registry.Get(c.Param("tunnel_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Tunnel not found"})
		return
	}
	c.JSON(http.StatusOK, t.Snapshot())
}

// Delete destroys a tunnel, closing its channel and failing any
// in-flight requests.
func (h *TunnelHandler) Delete(c *gin.Context) {
	tunnelID := c.Param("tunnel_id")
	if !h.registry.Delete(tunnelID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Tunnel not found"})
		return
	}

	h.logger.Info("Deleted tunnel %s via API", tunnelID)

	c.JSON(http.StatusOK, dto.DeleteTunnelResponse{
		Status:   "success",
		TunnelID: tunnelID,
	})
}
