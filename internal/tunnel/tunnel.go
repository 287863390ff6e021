package tunnel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of a tunnel.
type Status string

const (
	StatusConnecting   Status = "CONNECTING"
	StatusActive       Status = "ACTIVE"
	StatusDisconnected Status = "DISCONNECTED"
	StatusExpired      Status = "EXPIRED"
)

var (
	ErrTunnelNotFound     = errors.New("tunnel not found")
	ErrTunnelNotActive    = errors.New("tunnel not active")
	ErrAuthTokenMismatch  = errors.New("auth token mismatch")
	ErrAlreadyAttached    = errors.New("tunnel already has an attached channel")
	ErrTunnelDisconnected = errors.New("tunnel disconnected")
	ErrTunnelDeleted      = errors.New("tunnel deleted")
	ErrCapacityExhausted  = errors.New("tunnel capacity exhausted")
	ErrChannelClosed      = errors.New("channel closed")
)

type slotResult struct {
	response *ResponseData
	err      error
}

// PendingSlot collects the response for one in-flight proxied request.
// Exactly one outcome wins; later fulfillments and failures are dropped.
type PendingSlot struct {
	resolved atomic.Bool
	ch       chan slotResult
}

func newPendingSlot() *PendingSlot {
	return &PendingSlot{ch: make(chan slotResult, 1)}
}

// Fulfill delivers the response. Reports whether this call won the slot.
func (s *PendingSlot) Fulfill(resp *ResponseData) bool {
	if !s.resolved.CompareAndSwap(false, true) {
		return false
	}
	s.ch <- slotResult{response: resp}
	return true
}

// Fail delivers an error. Reports whether this call won the slot.
func (s *PendingSlot) Fail(err error) bool {
	if !s.resolved.CompareAndSwap(false, true) {
		return false
	}
	s.ch <- slotResult{err: err}
	return true
}

// Await blocks until the slot resolves or the context expires.
func (s *PendingSlot) Await(ctx context.Context) (*ResponseData, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-s.ch:
		return result.response, result.err
	}
}

// Tunnel is one registered public endpoint plus its owner channel and
// in-flight requests.
type Tunnel struct {
	ID        string
	AuthToken string
	Name      string
	LocalPort int
	Metadata  map[string]interface{}
	CreatedAt time.Time

	mu         sync.RWMutex
	status     Status
	lastActive time.Time
	channel    *Channel

	pendingMu sync.Mutex
	pending   map[string]*PendingSlot
}

func newTunnel(id, authToken, name string, localPort int, metadata map[string]interface{}) *Tunnel {
	now := time.Now().UTC()
	return &Tunnel{
		ID:         id,
		AuthToken:  authToken,
		Name:       name,
		LocalPort:  localPort,
		Metadata:   metadata,
		CreatedAt:  now,
		status:     StatusConnecting,
		lastActive: now,
		pending:    make(map[string]*PendingSlot),
	}
}

// Status returns the current lifecycle state.
func (t *Tunnel) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Channel returns the attached channel, or nil.
func (t *Tunnel) Channel() *Channel {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.channel
}

// LastActive returns the last recorded activity timestamp.
func (t *Tunnel) LastActive() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastActive
}

// Touch records activity now. The timestamp never moves backwards.
func (t *Tunnel) Touch() {
	now := time.Now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.After(t.lastActive) {
		t.lastActive = now
	}
}

func (t *Tunnel) setAttached(ch *Channel) {
	now := time.Now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = ch
	t.status = StatusActive
	if now.After(t.lastActive) {
		t.lastActive = now
	}
}

// clearChannel detaches the channel if one is attached, transitioning to
// DISCONNECTED. Returns the detached channel, or nil if there was none.
func (t *Tunnel) clearChannel() *Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.channel == nil {
		return nil
	}
	ch := t.channel
	t.channel = nil
	t.status = StatusDisconnected
	return ch
}

func (t *Tunnel) markExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = StatusExpired
}

// AddPending registers a slot for an in-flight request.
func (t *Tunnel) AddPending(requestID string) *PendingSlot {
	slot := newPendingSlot()
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	t.pending[requestID] = slot
	return slot
}

// RemovePending drops the slot for requestID if still registered.
func (t *Tunnel) RemovePending(requestID string) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	delete(t.pending, requestID)
}

// ResolvePending fulfills the slot matching the response, if any.
// Reports whether a waiting slot accepted it.
func (t *Tunnel) ResolvePending(resp *ResponseData) bool {
	t.pendingMu.Lock()
	slot, ok := t.pending[resp.RequestID]
	if ok {
		delete(t.pending, resp.RequestID)
	}
	t.pendingMu.Unlock()
	if !ok {
		return false
	}
	return slot.Fulfill(resp)
}

// FailAllPending fails every in-flight request with err.
func (t *Tunnel) FailAllPending(err error) {
	t.pendingMu.Lock()
	slots := make([]*PendingSlot, 0, len(t.pending))
	for _, slot := range t.pending {
		slots = append(slots, slot)
	}
	t.pending = make(map[string]*PendingSlot)
	t.pendingMu.Unlock()

	for _, slot := range slots {
		slot.Fail(err)
	}
}

// PendingCount returns the number of in-flight requests.
func (t *Tunnel) PendingCount() int {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	return len(t.pending)
}

// Info is the public view of a tunnel. The auth token never appears.
type Info struct {
	TunnelID   string                 `json:"tunnel_id"`
	Name       string                 `json:"name,omitempty"`
	Status     Status                 `json:"status"`
	LocalPort  int                    `json:"local_port,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	LastActive time.Time              `json:"last_active"`
}

// Snapshot captures the tunnel state for API responses.
func (t *Tunnel) Snapshot() Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Info{
		TunnelID:   t.ID,
		Name:       t.Name,
		Status:     t.status,
		LocalPort:  t.LocalPort,
		Metadata:   t.Metadata,
		CreatedAt:  t.CreatedAt,
		LastActive: t.lastActive,
	}
}
