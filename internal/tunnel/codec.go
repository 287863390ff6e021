package tunnel

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// MessageType selects the envelope variant exchanged on the duplex channel.
type MessageType string

const (
	MessageTypeAuth      MessageType = "auth"
	MessageTypeConnected MessageType = "connected"
	MessageTypeRequest   MessageType = "request"
	MessageTypeResponse  MessageType = "response"
	MessageTypePing      MessageType = "ping"
	MessageTypePong      MessageType = "pong"
	MessageTypeError     MessageType = "error"
)

// BodyEncodingHeader marks a base64-encoded body inside a serialized
// request or response. It is an internal marker and must never reach the
// public caller or the local service.
const BodyEncodingHeader = "x-tunnel-body-encoding"

const bodyEncodingBase64 = "base64"

var (
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrBadBodyEncoding    = errors.New("invalid base64 body")
)

var knownMessageTypes = map[MessageType]bool{
	MessageTypeAuth:      true,
	MessageTypeConnected: true,
	MessageTypeRequest:   true,
	MessageTypeResponse:  true,
	MessageTypePing:      true,
	MessageTypePong:      true,
	MessageTypeError:     true,
}

// Envelope is the JSON wrapper for every message on the duplex channel.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEnvelope wraps a payload in a timestamped envelope. A nil payload
// produces an envelope with no data field (ping/pong).
func NewEnvelope(t MessageType, data interface{}) (*Envelope, error) {
	env := &Envelope{Type: t, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s payload: %w", t, err)
		}
		env.Data = raw
	}
	return env, nil
}

// ParseEnvelope decodes one wire frame. Unknown variants are rejected
// here so receive loops can log and drop them without further decoding.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	if !knownMessageTypes[env.Type] {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
	return &env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e *Envelope) DecodeData(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: missing %s data", ErrMalformedEnvelope, e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: bad %s data: %v", ErrMalformedEnvelope, e.Type, err)
	}
	return nil
}

// AuthData is presented once by the owner when attaching the channel.
type AuthData struct {
	AuthToken string `json:"auth_token"`
}

// ConnectedData acknowledges a successful attachment.
type ConnectedData struct {
	TunnelID string `json:"tunnel_id"`
	Message  string `json:"message"`
}

// ErrorData carries a human-readable failure description.
type ErrorData struct {
	Message string `json:"message"`
}

// RequestData is a whole HTTP request marshaled for the channel. Header
// keys are lowercased; duplicate headers and query parameters collapse
// to the last value.
type RequestData struct {
	RequestID   string            `json:"request_id"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	QueryParams map[string]string `json:"query_params"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body,omitempty"`
}

// ResponseData is a whole HTTP response marshaled for the channel.
type ResponseData struct {
	RequestID  string            `json:"request_id"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body,omitempty"`
}

var binaryContentTypePrefixes = []string{"image/", "video/", "audio/"}

var binaryContentTypes = map[string]bool{
	"application/octet-stream": true,
	"application/pdf":          true,
	"application/zip":          true,
	"application/x-tar":        true,
}

// IsBinaryContentType reports whether a content type always travels
// base64-encoded regardless of the body bytes.
func IsBinaryContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, prefix := range binaryContentTypePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return binaryContentTypes[ct]
}

// EncodeBody applies the binary-body escape: binary-typed or non-UTF-8
// bodies become base64. Reports whether the escape was applied.
func EncodeBody(body []byte, contentType string) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	if IsBinaryContentType(contentType) || !utf8.Valid(body) {
		return base64.StdEncoding.EncodeToString(body), true
	}
	return string(body), false
}

// DecodeBody inverts EncodeBody.
func DecodeBody(body string, encoded bool) ([]byte, error) {
	if body == "" {
		return nil, nil
	}
	if !encoded {
		return []byte(body), nil
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBodyEncoding, err)
	}
	return raw, nil
}

// HeaderValue looks up a serialized header with case-insensitive keys.
func HeaderValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// NewRequestData marshals one inbound public request for the channel.
// The caller has already stripped the tunnel-id prefix from path.
func NewRequestData(requestID, method, path string, query url.Values, headers http.Header, body []byte) *RequestData {
	data := &RequestData{
		RequestID:   requestID,
		Method:      method,
		Path:        path,
		QueryParams: flattenValues(query),
		Headers:     flattenHeader(headers),
	}

	encoded, wasEncoded := EncodeBody(body, headers.Get("Content-Type"))
	data.Body = encoded
	if wasEncoded {
		data.Headers[BodyEncodingHeader] = bodyEncodingBase64
	}
	return data
}

// NewResponseData marshals a local HTTP response for the channel.
func NewResponseData(requestID string, statusCode int, headers http.Header, body []byte) *ResponseData {
	data := &ResponseData{
		RequestID:  requestID,
		StatusCode: statusCode,
		Headers:    flattenHeader(headers),
	}

	encoded, wasEncoded := EncodeBody(body, headers.Get("Content-Type"))
	data.Body = encoded
	if wasEncoded {
		data.Headers[BodyEncodingHeader] = bodyEncodingBase64
	}
	return data
}

// IsBodyEncoded reports whether the serialized request carries the
// base64 escape marker.
func (d *RequestData) IsBodyEncoded() bool {
	return strings.EqualFold(HeaderValue(d.Headers, BodyEncodingHeader), bodyEncodingBase64)
}

// DecodedBody returns the raw request body bytes, undoing the escape.
func (d *RequestData) DecodedBody() ([]byte, error) {
	return DecodeBody(d.Body, d.IsBodyEncoded())
}

// IsBodyEncoded reports whether the serialized response carries the
// base64 escape marker.
func (d *ResponseData) IsBodyEncoded() bool {
	return strings.EqualFold(HeaderValue(d.Headers, BodyEncodingHeader), bodyEncodingBase64)
}

// DecodedBody returns the raw response body bytes, undoing the escape.
func (d *ResponseData) DecodedBody() ([]byte, error) {
	return DecodeBody(d.Body, d.IsBodyEncoded())
}

func flattenValues(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			out[key] = vals[len(vals)-1]
		}
	}
	return out
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, vals := range h {
		if len(vals) > 0 {
			out[strings.ToLower(key)] = vals[len(vals)-1]
		}
	}
	return out
}
