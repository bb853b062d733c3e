// Package transport defines the JSON-RPC 2.0 message model and the
// client Transport contract used by an MCP session.
package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
)

//go:generate mockgen -source=transport.go -destination=../../mocks/mocktransport/transport_mock.gen.go -package mocktransport

// JSONRPCVersion is the only supported JSON-RPC version.
const JSONRPCVersion = "2.0"

// ErrUnavailable is marked on failures to reach the remote peer:
// network errors, server error status codes or a closed transport.
var ErrUnavailable = errors.New("transport unavailable")

// ErrMalformed is marked on responses that can not be decoded as JSON-RPC.
var ErrMalformed = errors.New("malformed message")

// ErrRejected is marked on requests the peer refused with a client error
// status, such as a handshake the server does not accept.
var ErrRejected = errors.New("request rejected")

// Transport is a client side JSON-RPC transport.
type Transport interface {
	// Connect prepares the transport for use.
	Connect(ctx context.Context) error
	// Call sends a request and waits for its result.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	// Notify sends a notification, no response is expected.
	Notify(ctx context.Context, method string, params any) error
	// SetProtocolVersion sets the negotiated protocol version
	// sent with every request after the handshake.
	SetProtocolVersion(version string)
	// Close releases the transport and terminates the remote session.
	Close(ctx context.Context) error
}

// RequestID is the JSON-RPC request identifier.
type RequestID int64

// Request is a JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      RequestID       `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a JSON-RPC notification.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC response, either Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	ErrorCodeParse          = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeMethodNotFound = -32601
	ErrorCodeInvalidParams  = -32602
	ErrorCodeInternal       = -32603
)

// NewRequest returns a request with the params encoded.
func NewRequest(id RequestID, method string, params any) (*Request, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  raw,
	}, nil
}

// NewNotification returns a notification with the params encoded.
func NewNotification(method string, params any) (*Notification, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, err
	}
	return &Notification{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  raw,
	}, nil
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal params")
	}
	return raw, nil
}

// DecodeResponse parses a JSON-RPC response and returns its result.
// A JSON-RPC error object is returned as *Error.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to decode response"), ErrMalformed)
	}
	if resp.JSONRPC != JSONRPCVersion {
		return nil, errors.Mark(errors.Newf("unsupported jsonrpc version: %q", resp.JSONRPC), ErrMalformed)
	}
	if resp.Error == nil && resp.Result == nil {
		return nil, errors.Mark(errors.New("response has neither result nor error"), ErrMalformed)
	}
	return &resp, nil
}

// IsUnavailable returns true if err indicates the peer could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
