package tunnel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingSlot(t *testing.T) {
	t.Run("fulfill delivers response", func(t *testing.T) {
		slot := newPendingSlot()
		require.True(t, slot.Fulfill(&ResponseData{RequestID: "r1", StatusCode: 204}))

		resp, err := slot.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 204, resp.StatusCode)
	})

	t.Run("fail delivers error", func(t *testing.T) {
		slot := newPendingSlot()
		require.True(t, slot.Fail(ErrTunnelDisconnected))

		_, err := slot.Await(context.Background())
		assert.ErrorIs(t, err, ErrTunnelDisconnected)
	})

	t.Run("exactly one outcome wins", func(t *testing.T) {
		slot := newPendingSlot()

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					if slot.Fulfill(&ResponseData{RequestID: "r1", StatusCode: 200}) {
						wins.Add(1)
					}
				} else if slot.Fail(ErrTunnelDeleted) {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("await honors context deadline", func(t *testing.T) {
		slot := newPendingSlot()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := slot.Await(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestTunnelTouch(t *testing.T) {
	tun := newTunnel("abc12345", "token", "", 0, nil)
	before := tun.LastActive()

	time.Sleep(5 * time.Millisecond)
	tun.Touch()
	assert.True(t, tun.LastActive().After(before))

	t.Run("never moves backwards", func(t *testing.T) {
		future := time.Now().UTC().Add(time.Hour)
		tun.mu.Lock()
		tun.lastActive = future
		tun.mu.Unlock()

		tun.Touch()
		assert.Equal(t, future, tun.LastActive())
	})
}

func TestTunnelPendingLifecycle(t *testing.T) {
	tun := newTunnel("abc12345", "token", "", 0, nil)

	t.Run("resolve matches by request id", func(t *testing.T) {
		slot := tun.AddPending("r1")
		require.Equal(t, 1, tun.PendingCount())

		require.True(t, tun.ResolvePending(&ResponseData{RequestID: "r1", StatusCode: 201}))
		assert.Zero(t, tun.PendingCount())

		resp, err := slot.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 201, resp.StatusCode)
	})

	t.Run("unknown request id is dropped", func(t *testing.T) {
		assert.False(t, tun.ResolvePending(&ResponseData{RequestID: "ghost", StatusCode: 200}))
	})

	t.Run("fail all pending", func(t *testing.T) {
		s1 := tun.AddPending("r2")
		s2 := tun.AddPending("r3")

		tun.FailAllPending(ErrTunnelDeleted)
		assert.Zero(t, tun.PendingCount())

		for _, slot := range []*PendingSlot{s1, s2} {
			_, err := slot.Await(context.Background())
			assert.ErrorIs(t, err, ErrTunnelDeleted)
		}
	})

	t.Run("remove pending is idempotent", func(t *testing.T) {
		tun.AddPending("r4")
		tun.RemovePending("r4")
		tun.RemovePending("r4")
		assert.Zero(t, tun.PendingCount())
	})
}

func TestTunnelSnapshot(t *testing.T) {
	meta := map[string]interface{}{"env": "dev"}
	tun := newTunnel("abc12345", "secret-token", "my-api", 3000, meta)

	info := tun.Snapshot()
	assert.Equal(t, "abc12345", info.TunnelID)
	assert.Equal(t, "my-api", info.Name)
	assert.Equal(t, StatusConnecting, info.Status)
	assert.Equal(t, 3000, info.LocalPort)
	assert.Equal(t, meta, info.Metadata)
	assert.False(t, info.CreatedAt.IsZero())
	assert.False(t, info.LastActive.IsZero())
}
