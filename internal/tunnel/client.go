package tunnel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/burrowhq/burrow/internal/logging"
)

const (
	clientLocalTimeout  = 30 * time.Second
	clientAuthWindow    = 10 * time.Second
	clientReconnectWait = 5 * time.Second
)

// CreatedTunnel is the server's answer to a create request.
type CreatedTunnel struct {
	TunnelID  string    `json:"tunnel_id"`
	AuthToken string    `json:"auth_token"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// ClientOptions configures a tunnel client.
type ClientOptions struct {
	ServerURL string
	APIKey    string
	LocalHost string
	LocalPort int
	Name      string
	Logger    *logging.Logger
}

// Client registers tunnels against a gateway server and replays proxied
// requests to a local HTTP service.
type Client struct {
	serverURL  string
	apiKey     string
	localHost  string
	localPort  int
	name       string
	logger     *logging.Logger
	httpClient *http.Client

	// OnTunnelReady runs after each successful attachment, before
	// traffic flows. Reconnects mint a new tunnel, so it can fire more
	// than once.
	OnTunnelReady func(*CreatedTunnel)
}

// NewClient creates a tunnel client.
func NewClient(opts ClientOptions) *Client {
	localHost := opts.LocalHost
	if localHost == "" {
		localHost = "localhost"
	}
	return &Client{
		serverURL: opts.ServerURL,
		apiKey:    opts.APIKey,
		localHost: localHost,
		localPort: opts.LocalPort,
		name:      opts.Name,
		logger:    opts.Logger,
		httpClient: &http.Client{
			Timeout: clientLocalTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Run registers a tunnel, attaches its channel, and serves proxied
// requests until ctx is cancelled. A lost channel cannot be re-attached,
// so each reconnect registers a fresh tunnel with a new public URL.
func (c *Client) Run(ctx context.Context) error {
	for {
		created, err := c.CreateTunnel(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to register tunnel: %v", err)
		} else {
			c.logger.Info("Tunnel %s registered, public URL: %s", created.TunnelID, created.URL)
			err = c.serve(ctx, created)
			if ctx.Err() != nil {
				c.logger.Info("Tunnel client shutting down")
				return nil
			}
			c.logger.Warn("Channel lost: %v", err)
		}

		c.logger.Info("Reconnecting in %s...", clientReconnectWait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(clientReconnectWait):
		}
	}
}

// serve attaches a channel for the tunnel and pumps requests until the
// channel dies or ctx is cancelled.
func (c *Client) serve(ctx context.Context, created *CreatedTunnel) error {
	channel, err := c.connectChannel(ctx, created)
	if err != nil {
		return err
	}
	defer channel.Close(websocket.CloseNormalClosure, "client shutting down")

	if c.OnTunnelReady != nil {
		c.OnTunnelReady(created)
	}

	go func() {
		select {
		case <-ctx.Done():
			channel.Close(websocket.CloseNormalClosure, "client shutting down")
		case <-channel.Done():
		}
	}()

	for {
		env, err := channel.ReadEnvelope()
		if err != nil {
			if errors.Is(err, ErrMalformedEnvelope) || errors.Is(err, ErrUnknownMessageType) {
				c.logger.Warn("Dropping undecodable frame: %v", err)
				continue
			}
			return err
		}

		switch env.Type {
		case MessageTypeRequest:
			var req RequestData
			if err := env.DecodeData(&req); err != nil {
				c.logger.Warn("Dropping bad request frame: %v", err)
				continue
			}
			go c.handleRequest(ctx, channel, &req)
		case MessageTypePing:
			pong, err := NewEnvelope(MessageTypePong, nil)
			if err == nil {
				err = channel.Send(pong)
			}
			if err != nil {
				return fmt.Errorf("failed to answer ping: %w", err)
			}
		case MessageTypeError:
			var errData ErrorData
			if env.DecodeData(&errData) == nil {
				c.logger.Error("Server reported: %s", errData.Message)
			}
		default:
			c.logger.Warn("Dropping unexpected %s message", env.Type)
		}
	}
}

// connectChannel dials the attachment endpoint and completes the auth
// handshake.
func (c *Client) connectChannel(ctx context.Context, created *CreatedTunnel) (*Channel, error) {
	wsURL, err := c.channelURL(created.TunnelID)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to dial channel (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to dial channel: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	channel := NewChannel(conn)
	auth, err := NewEnvelope(MessageTypeAuth, &AuthData{AuthToken: created.AuthToken})
	if err == nil {
		err = channel.Send(auth)
	}
	if err != nil {
		channel.Close(websocket.CloseNormalClosure, "handshake failed")
		return nil, fmt.Errorf("failed to send auth: %w", err)
	}

	_ = channel.SetReadDeadline(time.Now().Add(clientAuthWindow))
	env, err := channel.ReadEnvelope()
	if err != nil {
		channel.Close(websocket.CloseNormalClosure, "handshake failed")
		return nil, fmt.Errorf("handshake failed: %w", err)
	}
	_ = channel.SetReadDeadline(time.Time{})

	switch env.Type {
	case MessageTypeConnected:
		return channel, nil
	case MessageTypeError:
		var errData ErrorData
		_ = env.DecodeData(&errData)
		channel.Close(websocket.CloseNormalClosure, "handshake rejected")
		return nil, fmt.Errorf("attachment rejected: %s", errData.Message)
	default:
		channel.Close(websocket.CloseNormalClosure, "handshake failed")
		return nil, fmt.Errorf("unexpected %s message during handshake", env.Type)
	}
}

func (c *Client) channelURL(tunnelID string) (string, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path = "/api/tunnel/connect/" + tunnelID
	u.RawQuery = ""
	return u.String(), nil
}

// handleRequest replays one proxied request against the local service
// and sends the outcome back. Every request produces exactly one
// response envelope.
func (c *Client) handleRequest(ctx context.Context, channel *Channel, req *RequestData) {
	resp := c.issueLocal(ctx, req)

	env, err := NewEnvelope(MessageTypeResponse, resp)
	if err != nil {
		c.logger.Error("Failed to encode response for %s: %v", req.RequestID, err)
		return
	}
	if err := channel.Send(env); err != nil {
		c.logger.Warn("Failed to send response for %s: %v", req.RequestID, err)
	}
}

func (c *Client) issueLocal(ctx context.Context, req *RequestData) *ResponseData {
	body, err := req.DecodedBody()
	if err != nil {
		return errorResponse(req.RequestID, http.StatusInternalServerError, "invalid request body encoding")
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.localURL(req), bytes.NewReader(body))
	if err != nil {
		return errorResponse(req.RequestID, http.StatusInternalServerError, err.Error())
	}
	for key, value := range req.Headers {
		// The local service sees its own host; the escape marker is
		// channel-internal.
		if key == "host" || key == BodyEncodingHeader {
			continue
		}
		httpReq.Header.Set(key, value)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyLocalError(req.RequestID, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return errorResponse(req.RequestID, http.StatusBadGateway, "failed to read local response")
	}
	return NewResponseData(req.RequestID, httpResp.StatusCode, httpResp.Header, respBody)
}

func (c *Client) localURL(req *RequestData) string {
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(c.localHost, strconv.Itoa(c.localPort)),
		Path:   req.Path,
	}
	if len(req.QueryParams) > 0 {
		q := url.Values{}
		for key, value := range req.QueryParams {
			q.Set(key, value)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func classifyLocalError(requestID string, err error) *ResponseData {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err):
		return errorResponse(requestID, http.StatusGatewayTimeout, "local service timed out")
	case isDialError(err):
		return errorResponse(requestID, http.StatusBadGateway, "failed to reach local service")
	default:
		return errorResponse(requestID, http.StatusInternalServerError, err.Error())
	}
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func errorResponse(requestID string, statusCode int, message string) *ResponseData {
	body, _ := json.Marshal(map[string]string{"error": message})
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	return NewResponseData(requestID, statusCode, headers, body)
}

// CreateTunnel registers a new tunnel via the control API.
func (c *Client) CreateTunnel(ctx context.Context) (*CreatedTunnel, error) {
	payload := map[string]interface{}{}
	if c.name != "" {
		payload["name"] = c.name
	}
	if c.localPort > 0 {
		payload["local_port"] = c.localPort
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode create request: %w", err)
	}

	resp, err := c.doAPI(ctx, http.MethodPost, "/api/tunnels/create", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var created CreatedTunnel
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("failed to decode create response: %w", err)
	}
	return &created, nil
}

// ListTunnels fetches every tunnel registered on the server.
func (c *Client) ListTunnels(ctx context.Context) ([]Info, int, error) {
	resp, err := c.doAPI(ctx, http.MethodGet, "/api/tunnels/list", nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, decodeAPIError(resp)
	}

	var result struct {
		Tunnels []Info `json:"tunnels"`
		Total   int    `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, 0, fmt.Errorf("failed to decode list response: %w", err)
	}
	return result.Tunnels, result.Total, nil
}

// TunnelStatus fetches the live state of one tunnel.
func (c *Client) TunnelStatus(ctx context.Context, tunnelID string) (*Info, error) {
	resp, err := c.doAPI(ctx, http.MethodGet, "/api/tunnels/"+tunnelID+"/status", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &info, nil
}

// DeleteTunnel removes a tunnel from the server.
func (c *Client) DeleteTunnel(ctx context.Context, tunnelID string) error {
	resp, err := c.doAPI(ctx, http.MethodDelete, "/api/tunnels/"+tunnelID, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}
	return nil
}

func (c *Client) doAPI(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
