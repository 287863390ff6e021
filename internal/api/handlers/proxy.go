package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/burrowhq/burrow/internal/config"
	"github.com/burrowhq/burrow/internal/logging"
	"github.com/burrowhq/burrow/internal/tunnel"
)

// maxRequestBody bounds how much of a public request is buffered for
// the channel. Bodies are never streamed.
const maxRequestBody = 32 << 20 // 32 MB

// ProxyHandler is the public ingress: it forwards any request under
// /{tunnel_id}/... through the owner channel and relays the response.
type ProxyHandler struct {
	registry *tunnel.Registry
	timeout  time.Duration
	logger   *logging.Logger
}

func NewProxyHandler(cfg *config.Config, registry *tunnel.Registry, logger *logging.Logger) *ProxyHandler {
	return &ProxyHandler{
		registry: registry,
		timeout:  cfg.RequestTimeout(),
		logger:   logger,
	}
}

var proxiedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodPatch:   true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// Handle serves one public request end to end. It is installed as the
// NoRoute handler, so every path that is not a service or control route
// lands here.
func (h *ProxyHandler) Handle(c *gin.Context) {
	if !proxiedMethods[c.Request.Method] {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}

	tunnelID, rest := splitTunnelPath(c.Request.URL.Path)
	if tunnelID == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
		return
	}

	t, ok := h.registry.Get(tunnelID)
	if !ok {
		h.logger.Warn("Tunnel not found: %s", tunnelID)
		c.JSON(http.StatusNotFound, gin.H{"error": "Tunnel not found"})
		return
	}

	status := t.Status()
	channel := t.Channel()
	if status != tunnel.StatusActive || channel == nil {
		h.logger.Warn("Tunnel not active: %s (status=%s)", tunnelID, status)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": fmt.Sprintf("Tunnel not active (status: %s)", status),
		})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read request body"})
		return
	}

	requestID := uuid.New().String()
	reqData := tunnel.NewRequestData(requestID, c.Request.Method, rest, c.Request.URL.Query(), c.Request.Header, body)

	env, err := tunnel.NewEnvelope(tunnel.MessageTypeRequest, reqData)
	if err != nil {
		h.logger.Error("Failed to encode request %s for tunnel %s: %v", requestID, tunnelID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal proxy error"})
		return
	}

	slot := t.AddPending(requestID)
	if err := channel.Send(env); err != nil {
		t.RemovePending(requestID)
		h.logger.Error("Failed to send request %s to tunnel %s: %v", requestID, tunnelID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send request to tunnel"})
		return
	}
	t.Touch()

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	resp, err := slot.Await(ctx)
	if err != nil {
		t.RemovePending(requestID)
		h.writeAwaitError(c, tunnelID, requestID, err)
		return
	}
	t.Touch()

	h.writeResponse(c, tunnelID, resp)
}

// splitTunnelPath cuts /{tunnel_id}/{rest} into its id and the local
// path the owner should see.
func splitTunnelPath(path string) (tunnelID, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", ""
	}
	tunnelID, rest, _ = strings.Cut(trimmed, "/")
	return tunnelID, "/" + rest
}

func (h *ProxyHandler) writeAwaitError(c *gin.Context, tunnelID, requestID string, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Error("Request timeout for tunnel %s, request %s", tunnelID, requestID)
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Gateway timeout"})
	case errors.Is(err, tunnel.ErrTunnelDisconnected):
		h.logger.Warn("Tunnel %s disconnected with request %s in flight", tunnelID, requestID)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Tunnel disconnected"})
	case errors.Is(err, tunnel.ErrTunnelDeleted):
		h.logger.Warn("Tunnel %s deleted with request %s in flight", tunnelID, requestID)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Tunnel deleted"})
	case errors.Is(err, context.Canceled):
		// Public caller went away; nothing left to write.
	default:
		h.logger.Error("Error proxying request %s to tunnel %s: %v", requestID, tunnelID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal proxy error"})
	}
}

// writeResponse relays the owner's response verbatim, minus the
// channel-internal body-encoding marker.
func (h *ProxyHandler) writeResponse(c *gin.Context, tunnelID string, resp *tunnel.ResponseData) {
	body, err := resp.DecodedBody()
	if err != nil {
		h.logger.Error("Bad response body encoding from tunnel %s: %v", tunnelID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal proxy error"})
		return
	}

	header := c.Writer.Header()
	for key, value := range resp.Headers {
		switch strings.ToLower(key) {
		case tunnel.BodyEncodingHeader, "content-length", "transfer-encoding", "connection":
			continue
		}
		header.Set(key, value)
	}

	statusCode := resp.StatusCode
	if statusCode < 100 || statusCode > 599 {
		statusCode = http.StatusBadGateway
	}
	c.Status(statusCode)
	if len(body) > 0 {
		_, _ = c.Writer.Write(body)
	}
}
