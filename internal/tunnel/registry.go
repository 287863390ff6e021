package tunnel

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	tunnelIDLength      = 8
	tunnelIDAlphabet    = "abcdefghijklmnopqrstuvwxyz0123456789"
	tunnelIDMaxAttempts = 16
	authTokenBytes      = 32
)

// Registry owns every tunnel on the server. All mutations go through it,
// and its lock is never held across channel or network I/O.
type Registry struct {
	mu         sync.RWMutex
	tunnels    map[string]*Tunnel
	maxTunnels int
}

// NewRegistry creates an empty registry capped at maxTunnels.
func NewRegistry(maxTunnels int) *Registry {
	if maxTunnels <= 0 {
		maxTunnels = 100
	}
	return &Registry{
		tunnels:    make(map[string]*Tunnel),
		maxTunnels: maxTunnels,
	}
}

// Create registers a new tunnel in CONNECTING state and returns it with
// a freshly minted ID and auth token.
func (r *Registry) Create(name string, localPort int, metadata map[string]interface{}) (*Tunnel, error) {
	authToken, err := generateAuthToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate auth token: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.tunnels) >= r.maxTunnels {
		return nil, ErrCapacityExhausted
	}

	for attempt := 0; attempt < tunnelIDMaxAttempts; attempt++ {
		id, err := generateTunnelID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate tunnel ID: %w", err)
		}
		if _, taken := r.tunnels[id]; taken {
			continue
		}
		t := newTunnel(id, authToken, name, localPort, metadata)
		r.tunnels[id] = t
		return t, nil
	}
	return nil, ErrCapacityExhausted
}

// Attach binds a channel to the tunnel after verifying the auth token.
// A tunnel accepts exactly one attachment in its lifetime: concurrent
// and repeat attachments are rejected.
func (r *Registry) Attach(tunnelID, authToken string, ch *Channel) (*Tunnel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tunnels[tunnelID]
	if !ok {
		return nil, ErrTunnelNotFound
	}
	if subtle.ConstantTimeCompare([]byte(t.AuthToken), []byte(authToken)) != 1 {
		return nil, ErrAuthTokenMismatch
	}
	if t.Status() == StatusDisconnected {
		return nil, ErrTunnelDisconnected
	}
	if t.Channel() != nil {
		return nil, ErrAlreadyAttached
	}
	t.setAttached(ch)
	return t, nil
}

// Detach removes the tunnel's channel and fails all in-flight requests.
// Detaching a tunnel with no channel is a no-op, so teardown paths may
// call it unconditionally.
func (r *Registry) Detach(tunnelID string) {
	r.mu.RLock()
	t, ok := r.tunnels[tunnelID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if t.clearChannel() != nil {
		t.FailAllPending(ErrTunnelDisconnected)
	}
}

// Delete removes the tunnel, closes its channel, and fails all in-flight
// requests. Reports whether the tunnel existed.
func (r *Registry) Delete(tunnelID string) bool {
	r.mu.Lock()
	t, ok := r.tunnels[tunnelID]
	if ok {
		delete(r.tunnels, tunnelID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if ch := t.clearChannel(); ch != nil {
		ch.Close(websocket.CloseNormalClosure, "tunnel deleted")
	}
	t.FailAllPending(ErrTunnelDeleted)
	return true
}

// Get looks up a tunnel by ID.
func (r *Registry) Get(tunnelID string) (*Tunnel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tunnels[tunnelID]
	return t, ok
}

// List returns a snapshot of every tunnel, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	tunnels := make([]*Tunnel, 0, len(r.tunnels))
	for _, t := range r.tunnels {
		tunnels = append(tunnels, t)
	}
	r.mu.RUnlock()

	infos := make([]Info, 0, len(tunnels))
	for _, t := range tunnels {
		infos = append(infos, t.Snapshot())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].TunnelID < infos[j].TunnelID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// UpdateActivity bumps the tunnel's last-active timestamp.
func (r *Registry) UpdateActivity(tunnelID string) {
	if t, ok := r.Get(tunnelID); ok {
		t.Touch()
	}
}

// Count returns the number of registered tunnels.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tunnels)
}

// SweepExpired removes tunnels that are disconnected or idle longer than
// threshold. Returns the number of tunnels removed.
func (r *Registry) SweepExpired(threshold time.Duration) int {
	now := time.Now().UTC()

	r.mu.RLock()
	expired := make([]*Tunnel, 0)
	for _, t := range r.tunnels {
		if t.Status() == StatusDisconnected || now.Sub(t.LastActive()) > threshold {
			expired = append(expired, t)
		}
	}
	r.mu.RUnlock()

	removed := 0
	for _, t := range expired {
		t.markExpired()
		if r.Delete(t.ID) {
			removed++
		}
	}
	return removed
}

func generateTunnelID() (string, error) {
	// Reject bytes above the largest multiple of the alphabet size so
	// every character is equally likely.
	maxUnbiased := byte(256 - 256%len(tunnelIDAlphabet))
	id := make([]byte, 0, tunnelIDLength)
	buf := make([]byte, tunnelIDLength)
	for len(id) < tunnelIDLength {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= maxUnbiased || len(id) == tunnelIDLength {
				continue
			}
			id = append(id, tunnelIDAlphabet[int(b)%len(tunnelIDAlphabet)])
		}
	}
	return string(id), nil
}

func generateAuthToken() (string, error) {
	buf := make([]byte, authTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
