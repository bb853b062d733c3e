package httptransport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/mcp/transport"
	"github.com/effective-security/sqlagent/pkg/sanitize"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sqlagent/mcp/transport", "httptransport")

const (
	// HeaderSessionID is the session header assigned by the server
	HeaderSessionID = "Mcp-Session-Id"
	// HeaderProtocolVersion is the negotiated protocol version header
	HeaderProtocolVersion = "MCP-Protocol-Version"

	contentTypeJSON = "application/json"
	contentTypeSSE  = "text/event-stream"

	// maxEventSize is the largest single SSE line accepted
	maxEventSize = 16 << 20
)

// Config provides the settings of the streamable HTTP transport.
type Config struct {
	// URL is the MCP endpoint
	URL string
	// Headers are added to every request
	Headers map[string]string
	// Timeout is the per request timeout, zero means no timeout
	Timeout time.Duration
	// Client is an optional HTTP client
	Client *http.Client
}

// HTTPTransport implements the client side of the MCP streamable HTTP transport:
// every message is a POST, the response is JSON or an SSE stream.
type HTTPTransport struct {
	cfg    Config
	client *http.Client
	// endpoint is the sanitized URL, safe to log
	endpoint string

	nextID    atomic.Int64
	connected atomic.Bool

	mu              sync.RWMutex
	sessionID       string
	protocolVersion string
	closed          bool
}

// New returns a streamable HTTP transport
func New(cfg Config) *HTTPTransport {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPTransport{
		cfg:      cfg,
		client:   client,
		endpoint: sanitize.URL(cfg.URL),
	}
}

// SessionID returns the session identifier assigned by the server
func (t *HTTPTransport) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

// SetProtocolVersion implements transport.Transport
func (t *HTTPTransport) SetProtocolVersion(version string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.protocolVersion = version
}

// Connect validates the endpoint. The streamable HTTP transport has no
// long lived connection, the first POST is the initialize request.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		// the parse error contains the raw URL
		return errors.Mark(errors.Newf("invalid endpoint: %s", t.endpoint), transport.ErrUnavailable)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Mark(errors.Newf("unsupported endpoint: %s", t.endpoint), transport.ErrUnavailable)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.Mark(errors.New("transport is closed"), transport.ErrUnavailable)
	}
	t.connected.Store(true)

	logger.ContextKV(ctx, xlog.DEBUG, "status", "connected", "endpoint", t.endpoint)
	return nil
}

// Call implements transport.Transport
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, errors.Mark(errors.New("not connected"), transport.ErrUnavailable)
	}

	id := transport.RequestID(t.nextID.Add(1))
	req, err := transport.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	logger.ContextKV(ctx, xlog.DEBUG, "method", method, "id", id)

	resp, err := t.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var rpcResp *transport.Response
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case contentTypeSSE:
		rpcResp, err = readEventStream(resp.Body, id)
	case contentTypeJSON:
		var data []byte
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to read response"), transport.ErrUnavailable)
		}
		rpcResp, err = transport.DecodeResponse(data)
	default:
		err = errors.Mark(errors.Newf("unexpected content type: %q", mediaType), transport.ErrMalformed)
	}
	if err != nil {
		return nil, err
	}

	if rpcResp.Error != nil {
		logger.ContextKV(ctx, xlog.DEBUG, "method", method, "id", id, "code", rpcResp.Error.Code)
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// Notify implements transport.Transport
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return errors.Mark(errors.New("not connected"), transport.ErrUnavailable)
	}

	n, err := transport.NewNotification(method, params)
	if err != nil {
		return err
	}
	body, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "failed to marshal notification")
	}

	resp, err := t.post(ctx, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

// Close terminates the server session with DELETE, if one was assigned.
// Close is idempotent.
func (t *HTTPTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sessionID := t.sessionID
	t.mu.Unlock()
	t.connected.Store(false)

	if sessionID == "" {
		return nil
	}

	// the session must be terminated even if the caller was cancelled
	ctx = context.WithoutCancel(ctx)
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.cfg.URL, nil)
	if err != nil {
		return errors.Mark(errors.New("failed to create request"), transport.ErrUnavailable)
	}
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Mark(errors.Newf("failed to terminate session: %s", errorMessage(err)), transport.ErrUnavailable)
	}
	defer resp.Body.Close()

	// servers may not allow clients to terminate sessions
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusMethodNotAllowed {
		return statusError(resp)
	}
	logger.ContextKV(ctx, xlog.DEBUG, "status", "session_terminated")
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Mark(errors.New("failed to create request"), transport.ErrUnavailable)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON+", "+contentTypeSSE)
	t.setHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Mark(errors.WithStack(ctxErr), transport.ErrUnavailable)
		}
		return nil, errors.Mark(errors.Newf("request failed: %s", errorMessage(err)), transport.ErrUnavailable)
	}

	if sid := resp.Header.Get(HeaderSessionID); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	return resp, nil
}

func (t *HTTPTransport) setHeaders(req *http.Request) {
	for k, v := range t.cfg.Headers {
		req.Header.Set(k, v)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.sessionID != "" {
		req.Header.Set(HeaderSessionID, t.sessionID)
	}
	if t.protocolVersion != "" {
		req.Header.Set(HeaderProtocolVersion, t.protocolVersion)
	}
}

// errorMessage returns the error text without the request URL,
// which may carry credentials.
func errorMessage(err error) string {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return uerr.Op + ": " + uerr.Err.Error()
	}
	return err.Error()
}

// statusError marks client errors as rejected, with the JSON-RPC error
// of the body when there is one, and any other status as unavailable.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if rejected(resp.StatusCode) {
		if rpcResp, err := transport.DecodeResponse(body); err == nil && rpcResp.Error != nil {
			return errors.Mark(errors.Wrapf(rpcResp.Error, "HTTP %d", resp.StatusCode), transport.ErrRejected)
		}
		return errors.Mark(
			errors.Newf("HTTP %d: %s", resp.StatusCode, slices.StringUpto(string(bytes.TrimSpace(body)), 256)),
			transport.ErrRejected)
	}
	return errors.Mark(
		errors.Newf("HTTP %d: %s", resp.StatusCode, slices.StringUpto(string(bytes.TrimSpace(body)), 256)),
		transport.ErrUnavailable)
}

// rejected returns true for 4xx, except timeout and throttling
func rejected(status int) bool {
	return status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout &&
		status != http.StatusTooManyRequests
}

// readEventStream reads SSE events until the response with the given id.
// Server requests and notifications on the stream are skipped.
func readEventStream(r io.Reader, id transport.RequestID) (*transport.Response, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var data bytes.Buffer
	dispatch := func() (*transport.Response, error) {
		defer data.Reset()
		if data.Len() == 0 {
			return nil, nil
		}
		var envelope struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(data.Bytes(), &envelope); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to decode event"), transport.ErrMalformed)
		}
		if envelope.Method != "" {
			logger.KV(xlog.DEBUG, "status", "skipped_server_message", "method", envelope.Method)
			return nil, nil
		}
		resp, err := transport.DecodeResponse(data.Bytes())
		if err != nil {
			return nil, err
		}
		if resp.ID == nil || *resp.ID != id {
			return nil, nil
		}
		return resp, nil
	}

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			resp, err := dispatch()
			if err != nil || resp != nil {
				return resp, err
			}
			continue
		}
		if value, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.Write(bytes.TrimPrefix(value, []byte(" ")))
		}
		// event, id, retry and comment lines carry nothing the client needs
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to read event stream"), transport.ErrUnavailable)
	}
	// the last event may not be terminated by a blank line
	resp, err := dispatch()
	if err != nil || resp != nil {
		return resp, err
	}
	return nil, errors.Mark(errors.Newf("event stream ended without response to request %d", id), transport.ErrMalformed)
}
