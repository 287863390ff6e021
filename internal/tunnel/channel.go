package tunnel

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	channelWriteWait  = 10 * time.Second
	channelSendBuffer = 64
	closeGracePeriod  = 2 * time.Second
)

// Channel wraps one attached duplex connection. All outbound envelopes
// funnel through a single writer goroutine so concurrent proxied
// requests never interleave frames on the wire.
type Channel struct {
	ws         *websocket.Conn
	send       chan *Envelope
	done       chan struct{}
	pumpExited chan struct{}

	closeOnce sync.Once
}

// NewChannel wraps an accepted connection and starts its writer.
func NewChannel(ws *websocket.Conn) *Channel {
	c := &Channel{
		ws:         ws,
		send:       make(chan *Envelope, channelSendBuffer),
		done:       make(chan struct{}),
		pumpExited: make(chan struct{}),
	}
	go c.writePump()
	return c
}

// Send queues an envelope for the writer goroutine.
func (c *Channel) Send(env *Envelope) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return ErrChannelClosed
	case <-time.After(channelWriteWait):
		return errors.New("send timed out: outbound queue full")
	}
}

func (c *Channel) writePump() {
	defer close(c.pumpExited)
	for {
		select {
		case env := <-c.send:
			if !c.writeEnvelope(env) {
				return
			}
		case <-c.done:
			// Flush whatever was queued before the close frame goes out.
			for {
				select {
				case env := <-c.send:
					if !c.writeEnvelope(env) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Channel) writeEnvelope(env *Envelope) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(channelWriteWait))
	if err := c.ws.WriteJSON(env); err != nil {
		c.shutdown()
		return false
	}
	return true
}

// Close sends a close frame with the given code and tears the
// connection down. Queued envelopes are flushed first. Safe to call
// from any goroutine, any number of times.
func (c *Channel) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		select {
		case <-c.pumpExited:
		case <-time.After(closeGracePeriod):
		}
		msg := websocket.FormatCloseMessage(code, reason)
		deadline := time.Now().Add(closeGracePeriod)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.ws.Close()
	})
}

// shutdown tears the connection down without a close frame, for paths
// where the transport already failed.
func (c *Channel) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Done is closed once the channel shuts down.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// IsClosed reports whether the channel has shut down.
func (c *Channel) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// ReadEnvelope blocks for the next inbound frame and decodes it. Decode
// failures are distinguishable from transport errors via errors.Is on
// ErrMalformedEnvelope and ErrUnknownMessageType.
func (c *Channel) ReadEnvelope() (*Envelope, error) {
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return ParseEnvelope(raw)
}

// SetReadDeadline bounds the next read, for the attachment auth window.
func (c *Channel) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// IsExpectedCloseError reports whether a receive-loop error is a normal
// shutdown rather than a fault worth logging loudly.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
