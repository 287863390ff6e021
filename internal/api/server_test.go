package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/burrowhq/burrow/internal/api/dto"
	"github.com/burrowhq/burrow/internal/config"
	"github.com/burrowhq/burrow/internal/logging"
	"github.com/burrowhq/burrow/internal/tunnel"
)

const (
	ownerKey = "owner-key"
	adminKey = "admin-key"
)

func newTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	logger, err := logging.NewLogger(&logging.Config{
		Level:      "debug",
		File:       filepath.Join(t.TempDir(), "test.log"),
		Timezone:   "UTC",
		MaxSize:    1,
		MaxBackups: 1,
		MaxAge:     1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger
}

func newTestGateway(t *testing.T, mutate func(*config.Config)) (*httptest.Server, *tunnel.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Environment:              "LOCAL",
		AppName:                  "TUNNEL_SERVER",
		Version:                  "test",
		APIKey:                   ownerKey,
		AdminAPIKey:              adminKey,
		RequestTimeoutSeconds:    2,
		MaxTunnels:               100,
		HeartbeatIntervalSeconds: 10,
		CleanupIntervalSeconds:   60,
	}
	if mutate != nil {
		mutate(cfg)
	}

	registry := tunnel.NewRegistry(cfg.MaxTunnels)
	server := NewServer(cfg, registry, newTestLogger(t))
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, registry
}

func doJSON(t *testing.T, method, url, apiKey string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func createTunnel(t *testing.T, ts *httptest.Server) dto.CreateTunnelResponse {
	t.Helper()
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/tunnels/create", ownerKey,
		strings.NewReader(`{"name":"test","local_port":8000}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var created dto.CreateTunnelResponse
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.TunnelID)
	require.NotEmpty(t, created.AuthToken)
	return created
}

// dialChannel opens the owner-side websocket for a tunnel.
func dialChannel(t *testing.T, ts *httptest.Server, tunnelID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/tunnel/connect/" + tunnelID
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// attachOwner completes the auth handshake and returns the attached
// connection.
func attachOwner(t *testing.T, ts *httptest.Server, tunnelID, token string) *websocket.Conn {
	t.Helper()
	conn := dialChannel(t, ts, tunnelID)

	auth, err := tunnel.NewEnvelope(tunnel.MessageTypeAuth, &tunnel.AuthData{AuthToken: token})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(auth))

	var env tunnel.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, tunnel.MessageTypeConnected, env.Type)
	return conn
}

// serveOwner pumps the owner side of the channel, answering pings and
// passing request frames to handler. A nil handler result drops the
// request silently.
func serveOwner(conn *websocket.Conn, handler func(req *tunnel.RequestData) *tunnel.ResponseData) {
	go func() {
		for {
			var env tunnel.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			switch env.Type {
			case tunnel.MessageTypeRequest:
				var req tunnel.RequestData
				if json.Unmarshal(env.Data, &req) != nil {
					continue
				}
				resp := handler(&req)
				if resp == nil {
					continue
				}
				out, err := tunnel.NewEnvelope(tunnel.MessageTypeResponse, resp)
				if err == nil {
					_ = conn.WriteJSON(out)
				}
			case tunnel.MessageTypePing:
				pong, _ := tunnel.NewEnvelope(tunnel.MessageTypePong, nil)
				_ = conn.WriteJSON(pong)
			}
		}
	}()
}

func TestServiceEndpoints(t *testing.T) {
	ts, _ := newTestGateway(t, nil)

	t.Run("health", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/health", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, "TUNNEL_SERVER", body["app"])
		assert.NotEmpty(t, resp.Header.Get("X-Process-Time"))
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	})

	t.Run("service info", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/api", "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		decodeBody(t, resp, &body)
		assert.Equal(t, "/api/tunnel/connect/{tunnel_id}", body["websocket_endpoint"])
	})

	t.Run("root hides itself", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/", "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("request id is echoed", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
		require.NoError(t, err)
		req.Header.Set("X-Request-ID", "trace-me-123")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, "trace-me-123", resp.Header.Get("X-Request-ID"))
	})
}

func TestControlAPIAuth(t *testing.T) {
	ts, _ := newTestGateway(t, nil)

	t.Run("missing key", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/api/tunnels/list", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong key", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/api/tunnels/list", "not-a-key", nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("owner key accepted", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/api/tunnels/list", ownerKey, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("admin key accepted on control routes", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/api/tunnels/list", adminKey, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("owner key rejected on admin routes", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/api/admin/logs", ownerKey, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("admin logs", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/api/admin/logs?limit=10", adminKey, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body dto.RecentLogsResponse
		decodeBody(t, resp, &body)
		assert.Equal(t, len(body.Lines), body.Count)
	})
}

func TestTunnelLifecycle(t *testing.T) {
	ts, _ := newTestGateway(t, nil)

	created := createTunnel(t, ts)
	assert.Contains(t, created.URL, created.TunnelID)

	t.Run("status shows CONNECTING", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/api/tunnels/"+created.TunnelID+"/status", ownerKey, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var info tunnel.Info
		decodeBody(t, resp, &info)
		assert.Equal(t, tunnel.StatusConnecting, info.Status)
		assert.Equal(t, "test", info.Name)
	})

	t.Run("list includes the tunnel", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/api/tunnels/list", ownerKey, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var listed dto.ListTunnelsResponse
		decodeBody(t, resp, &listed)
		require.Equal(t, 1, listed.Total)
		assert.Equal(t, created.TunnelID, listed.Tunnels[0].TunnelID)
	})

	t.Run("delete", func(t *testing.T) {
		resp := doJSON(t, http.MethodDelete, ts.URL+"/api/tunnels/"+created.TunnelID, ownerKey, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var deleted dto.DeleteTunnelResponse
		decodeBody(t, resp, &deleted)
		assert.Equal(t, "success", deleted.Status)
		assert.Equal(t, created.TunnelID, deleted.TunnelID)
	})

	t.Run("delete again is 404", func(t *testing.T) {
		resp := doJSON(t, http.MethodDelete, ts.URL+"/api/tunnels/"+created.TunnelID, ownerKey, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("status after delete is 404", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, ts.URL+"/api/tunnels/"+created.TunnelID+"/status", ownerKey, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestCreateRejectsBadBody(t *testing.T) {
	ts, _ := newTestGateway(t, nil)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/tunnels/create", ownerKey,
		strings.NewReader(`{"local_port":99999}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	t.Run("empty body is fine", func(t *testing.T) {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/tunnels/create", ownerKey, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestProxyUnknownTunnel(t *testing.T) {
	ts, _ := newTestGateway(t, nil)

	resp := doJSON(t, http.MethodGet, ts.URL+"/zzzzzzzz/hello", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProxyTunnelNotActive(t *testing.T) {
	ts, _ := newTestGateway(t, nil)
	created := createTunnel(t, ts)

	resp := doJSON(t, http.MethodGet, ts.URL+"/"+created.TunnelID+"/hello", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Contains(t, body["error"], "CONNECTING")
}

func TestProxyHappyPath(t *testing.T) {
	ts, _ := newTestGateway(t, nil)
	created := createTunnel(t, ts)
	conn := attachOwner(t, ts, created.TunnelID, created.AuthToken)

	seen := make(chan *tunnel.RequestData, 1)
	serveOwner(conn, func(req *tunnel.RequestData) *tunnel.ResponseData {
		seen <- req
		headers := http.Header{}
		headers.Set("Content-Type", "text/plain")
		return tunnel.NewResponseData(req.RequestID, http.StatusOK, headers, []byte("world"))
	})

	resp := doJSON(t, http.MethodGet, ts.URL+"/"+created.TunnelID+"/hello?who=there", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "world", string(payload))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	assert.Empty(t, resp.Header.Get("x-tunnel-body-encoding"))

	select {
	case req := <-seen:
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "/hello", req.Path)
		assert.Equal(t, "there", req.QueryParams["who"])
	case <-time.After(time.Second):
		t.Fatal("owner never received the request")
	}
}

func TestProxyBinaryRoundTrip(t *testing.T) {
	ts, _ := newTestGateway(t, nil)
	created := createTunnel(t, ts)
	conn := attachOwner(t, ts, created.TunnelID, created.AuthToken)

	serveOwner(conn, func(req *tunnel.RequestData) *tunnel.ResponseData {
		// The upload travels base64-escaped with the marker header.
		if req.Body != base64.StdEncoding.EncodeToString([]byte{0x00, 0x01, 0x02}) {
			return tunnel.NewResponseData(req.RequestID, http.StatusBadRequest, http.Header{}, nil)
		}
		if !req.IsBodyEncoded() {
			return tunnel.NewResponseData(req.RequestID, http.StatusBadRequest, http.Header{}, nil)
		}
		headers := http.Header{}
		headers.Set("Content-Type", "application/octet-stream")
		return tunnel.NewResponseData(req.RequestID, http.StatusCreated, headers, []byte{0xFF, 0xFE})
	})

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/"+created.TunnelID+"/upload", bytes.NewReader([]byte{0x00, 0x01, 0x02}))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xFE}, payload)
	assert.Empty(t, resp.Header.Get("x-tunnel-body-encoding"))
}

func TestProxyTimeout(t *testing.T) {
	ts, registry := newTestGateway(t, func(cfg *config.Config) {
		cfg.RequestTimeoutSeconds = 1
	})
	created := createTunnel(t, ts)
	conn := attachOwner(t, ts, created.TunnelID, created.AuthToken)

	// Owner swallows every request.
	serveOwner(conn, func(req *tunnel.RequestData) *tunnel.ResponseData {
		return nil
	})

	start := time.Now()
	resp := doJSON(t, http.MethodGet, ts.URL+"/"+created.TunnelID+"/slow", "", nil)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)

	tun, ok := registry.Get(created.TunnelID)
	require.True(t, ok)
	assert.Equal(t, 0, tun.PendingCount(), "timed-out request must not leak a pending slot")
}

func TestProxyDisconnectMidFlight(t *testing.T) {
	ts, registry := newTestGateway(t, nil)
	created := createTunnel(t, ts)
	conn := attachOwner(t, ts, created.TunnelID, created.AuthToken)

	// Owner hangs up as soon as a request arrives.
	serveOwner(conn, func(req *tunnel.RequestData) *tunnel.ResponseData {
		conn.Close()
		return nil
	})

	resp := doJSON(t, http.MethodGet, ts.URL+"/"+created.TunnelID+"/boom", "", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	require.Eventually(t, func() bool {
		tun, ok := registry.Get(created.TunnelID)
		return ok && tun.Status() == tunnel.StatusDisconnected
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChannelWrongSecret(t *testing.T) {
	ts, registry := newTestGateway(t, nil)
	created := createTunnel(t, ts)

	conn := dialChannel(t, ts, created.TunnelID)
	auth, err := tunnel.NewEnvelope(tunnel.MessageTypeAuth, &tunnel.AuthData{AuthToken: "bad"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(auth))

	var env tunnel.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, tunnel.MessageTypeError, env.Type)

	// The server closes with a policy-violation code.
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "expected policy violation close, got %v", err)

	tun, ok := registry.Get(created.TunnelID)
	require.True(t, ok)
	assert.Equal(t, tunnel.StatusConnecting, tun.Status())

	t.Run("tunnel still deletable", func(t *testing.T) {
		resp := doJSON(t, http.MethodDelete, ts.URL+"/api/tunnels/"+created.TunnelID, ownerKey, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestChannelRejectsNonAuthFirstMessage(t *testing.T) {
	ts, _ := newTestGateway(t, nil)
	created := createTunnel(t, ts)

	conn := dialChannel(t, ts, created.TunnelID)
	ping, err := tunnel.NewEnvelope(tunnel.MessageTypePing, nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(ping))

	var env tunnel.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, tunnel.MessageTypeError, env.Type)
}

func TestChannelRejectsSecondAttachment(t *testing.T) {
	ts, _ := newTestGateway(t, nil)
	created := createTunnel(t, ts)
	attachOwner(t, ts, created.TunnelID, created.AuthToken)

	conn := dialChannel(t, ts, created.TunnelID)
	auth, err := tunnel.NewEnvelope(tunnel.MessageTypeAuth, &tunnel.AuthData{AuthToken: created.AuthToken})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(auth))

	var env tunnel.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, tunnel.MessageTypeError, env.Type)
}

func TestChannelUnknownTunnel(t *testing.T) {
	ts, _ := newTestGateway(t, nil)

	conn := dialChannel(t, ts, "zzzzzzzz")
	auth, err := tunnel.NewEnvelope(tunnel.MessageTypeAuth, &tunnel.AuthData{AuthToken: "whatever"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(auth))

	var env tunnel.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, tunnel.MessageTypeError, env.Type)
}
