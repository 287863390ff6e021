package dto

import (
	"time"

	"github.com/burrowhq/burrow/internal/tunnel"
)

// CreateTunnelRequest carries the optional fields for minting a tunnel.
// An empty body is also accepted.
type CreateTunnelRequest struct {
	Name      string                 `json:"name" binding:"omitempty,max=64"`
	LocalPort int                    `json:"local_port" binding:"omitempty,min=1,max=65535"`
	Metadata  map[string]interface{} `json:"metadata" binding:"omitempty,max=16"`
}

// CreateTunnelResponse includes the auth token. The token is returned
// only here; status and list views never carry it.
type CreateTunnelResponse struct {
	TunnelID  string    `json:"tunnel_id"`
	AuthToken string    `json:"auth_token"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// ListTunnelsResponse enumerates every registered tunnel.
type ListTunnelsResponse struct {
	Tunnels []tunnel.Info `json:"tunnels"`
	Total   int           `json:"total"`
}

// DeleteTunnelResponse acknowledges a destroyed tunnel.
type DeleteTunnelResponse struct {
	Status   string `json:"status"`
	TunnelID string `json:"tunnel_id"`
}

// RecentLogsResponse carries the in-memory log tail for the admin API.
type RecentLogsResponse struct {
	Lines []string `json:"lines"`
	Count int      `json:"count"`
}
