package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/burrowhq/burrow/internal/config"
	"github.com/burrowhq/burrow/internal/logging"
	"github.com/burrowhq/burrow/internal/tunnel"
)

// authWindow bounds how long an accepted connection may take to present
// its auth envelope.
const authWindow = 10 * time.Second

// ChannelHandler accepts and drives the owner-side duplex channel.
type ChannelHandler struct {
	registry  *tunnel.Registry
	heartbeat time.Duration
	logger    *logging.Logger
	upgrader  websocket.Upgrader
}

func NewChannelHandler(cfg *config.Config, registry *tunnel.Registry, logger *logging.Logger) *ChannelHandler {
	return &ChannelHandler{
		registry:  registry,
		heartbeat: cfg.HeartbeatInterval(),
		logger:    logger,
		upgrader: websocket.Upgrader{
			// Owners authenticate with the tunnel token, not the origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Connect upgrades the connection, authenticates the owner, and runs
// the heartbeat and receive loops until the channel closes. The tunnel
// is detached but not deleted on exit; the sweeper collects it.
func (h *ChannelHandler) Connect(c *gin.Context) {
	tunnelID := c.Param("tunnel_id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade failures already wrote an HTTP error.
		h.logger.Warn("Channel upgrade failed for tunnel %s: %v", tunnelID, err)
		return
	}

	h.logger.Info("Channel connection attempt for tunnel %s", tunnelID)
	channel := tunnel.NewChannel(conn)

	t, err := h.authenticate(channel, tunnelID)
	if err != nil {
		h.rejectChannel(channel, tunnelID, err)
		return
	}

	connected, err := tunnel.NewEnvelope(tunnel.MessageTypeConnected, &tunnel.ConnectedData{
		TunnelID: tunnelID,
		Message:  "Tunnel connected successfully",
	})
	if err == nil {
		err = channel.Send(connected)
	}
	if err != nil {
		h.logger.Warn("Failed to acknowledge attachment for tunnel %s: %v", tunnelID, err)
		h.registry.Detach(tunnelID)
		channel.Close(websocket.CloseInternalServerErr, "attachment acknowledgment failed")
		return
	}

	h.logger.Info("Tunnel %s authenticated and connected", tunnelID)

	stopHeartbeat := make(chan struct{})
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		h.runHeartbeat(t, channel, stopHeartbeat)
	}()

	h.receiveLoop(t, channel)

	close(stopHeartbeat)
	<-heartbeatDone
	h.registry.Detach(tunnelID)
	channel.Close(websocket.CloseNormalClosure, "channel closed")
	h.logger.Info("Tunnel %s detached", tunnelID)
}

// authenticate waits for a single auth envelope and attaches the
// channel. Timeout, malformed payloads, and bad tokens each come back
// as distinct errors for the rejection log line.
func (h *ChannelHandler) authenticate(channel *tunnel.Channel, tunnelID string) (*tunnel.Tunnel, error) {
	_ = channel.SetReadDeadline(time.Now().Add(authWindow))
	env, err := channel.ReadEnvelope()
	_ = channel.SetReadDeadline(time.Time{})
	if err != nil {
		if os.IsTimeout(err) {
			return nil, fmt.Errorf("authentication timeout after %s", authWindow)
		}
		if errors.Is(err, tunnel.ErrMalformedEnvelope) || errors.Is(err, tunnel.ErrUnknownMessageType) {
			return nil, fmt.Errorf("invalid authentication message: %w", err)
		}
		return nil, fmt.Errorf("connection lost during authentication: %w", err)
	}

	if env.Type != tunnel.MessageTypeAuth {
		return nil, fmt.Errorf("expected auth message, got %s", env.Type)
	}

	var auth tunnel.AuthData
	if err := env.DecodeData(&auth); err != nil {
		return nil, fmt.Errorf("invalid authentication payload: %w", err)
	}
	if auth.AuthToken == "" {
		return nil, errors.New("authentication token required")
	}

	t, err := h.registry.Attach(tunnelID, auth.AuthToken, channel)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	return t, nil
}

// rejectChannel reports the failure to the owner (best-effort) and
// closes with a policy-violation code. Registry state is untouched.
func (h *ChannelHandler) rejectChannel(channel *tunnel.Channel, tunnelID string, reason error) {
	h.logger.Warn("Rejecting channel for tunnel %s: %v", tunnelID, reason)

	errEnv, err := tunnel.NewEnvelope(tunnel.MessageTypeError, &tunnel.ErrorData{
		Message: reason.Error(),
	})
	if err == nil {
		_ = channel.Send(errEnv)
	}
	channel.Close(websocket.ClosePolicyViolation, "authentication failed")
}

// runHeartbeat pings the owner every interval. A failed send stops the
// heartbeat; the receive loop observes the close and tears down.
func (h *ChannelHandler) runHeartbeat(t *tunnel.Tunnel, channel *tunnel.Channel, stop <-chan struct{}) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ping, err := tunnel.NewEnvelope(tunnel.MessageTypePing, nil)
			if err == nil {
				err = channel.Send(ping)
			}
			if err != nil {
				h.logger.Warn("Heartbeat failed for tunnel %s: %v", t.ID, err)
				return
			}
			t.Touch()
		case <-stop:
			return
		case <-channel.Done():
			return
		}
	}
}

// receiveLoop pumps inbound envelopes until the channel closes.
// Per-frame faults are logged and dropped; only transport errors end
// the loop.
func (h *ChannelHandler) receiveLoop(t *tunnel.Tunnel, channel *tunnel.Channel) {
	for {
		env, err := channel.ReadEnvelope()
		if err != nil {
			if errors.Is(err, tunnel.ErrMalformedEnvelope) || errors.Is(err, tunnel.ErrUnknownMessageType) {
				h.logger.Warn("Dropping undecodable frame from tunnel %s: %v", t.ID, err)
				continue
			}
			if tunnel.IsExpectedCloseError(err) {
				h.logger.Info("Channel closed for tunnel %s", t.ID)
			} else {
				h.logger.Warn("Channel error for tunnel %s: %v", t.ID, err)
			}
			return
		}

		switch env.Type {
		case tunnel.MessageTypePong:
			t.Touch()
		case tunnel.MessageTypePing:
			pong, err := tunnel.NewEnvelope(tunnel.MessageTypePong, nil)
			if err == nil {
				err = channel.Send(pong)
			}
			if err != nil {
				h.logger.Warn("Failed to answer ping from tunnel %s: %v", t.ID, err)
				return
			}
			t.Touch()
		case tunnel.MessageTypeResponse:
			var resp tunnel.ResponseData
			if err := env.DecodeData(&resp); err != nil {
				h.logger.Warn("Dropping bad response frame from tunnel %s: %v", t.ID, err)
				continue
			}
			if t.ResolvePending(&resp) {
				t.Touch()
			} else {
				h.logger.Warn("Received response for unknown request %s on tunnel %s", resp.RequestID, t.ID)
			}
		default:
			h.logger.Warn("Dropping unexpected %s message from tunnel %s", env.Type, t.ID)
		}
	}
}
