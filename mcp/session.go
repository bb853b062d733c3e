package mcp

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/mcp/transport"
	"github.com/effective-security/sqlagent/pkg/metricskey"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sqlagent", "mcp")

var (
	// ErrConnection is returned when the server can not be reached,
	// or the connection is lost
	ErrConnection = errors.New("MCP connection failed")
	// ErrProtocol is returned when the server rejects the handshake
	// or answers with an invalid message
	ErrProtocol = errors.New("MCP protocol error")
	// ErrSessionNotReady is returned on requests outside of the Ready state
	ErrSessionNotReady = errors.New("MCP session is not ready")
)

// State is the lifecycle state of a Session
type State int

// Session states
const (
	StateIdle State = iota
	StateConnecting
	StateHandshaking
	StateReady
	StateFailed
	StateClosing
	StateClosed
)

var stateNames = map[State]string{
	StateIdle:        "Idle",
	StateConnecting:  "Connecting",
	StateHandshaking: "Handshaking",
	StateReady:       "Ready",
	StateFailed:      "Failed",
	StateClosing:     "Closing",
	StateClosed:      "Closed",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "Unknown"
}

// DefaultClientInfo is sent in the initialize request
var DefaultClientInfo = Implementation{
	Name:    "sqlagent",
	Version: "1.0.0",
}

// Option configures a Session
type Option func(*options)

type options struct {
	clientInfo      Implementation
	protocolVersion string
	onStateChange   func(from, to State)
}

// WithClientInfo sets the client name and version
func WithClientInfo(name, version string) Option {
	return func(o *options) {
		o.clientInfo = Implementation{Name: name, Version: version}
	}
}

// WithProtocolVersion sets the protocol version requested on initialize
func WithProtocolVersion(version string) Option {
	return func(o *options) {
		o.protocolVersion = version
	}
}

// WithStateObserver registers a function called on every state change
func WithStateObserver(fn func(from, to State)) Option {
	return func(o *options) {
		o.onStateChange = fn
	}
}

// Session is a client session with an MCP server.
// It performs exactly one handshake, only a Ready session serves requests,
// and requests are serialized.
type Session struct {
	tr   transport.Transport
	opts options

	// reqLock serializes requests on the wire
	reqLock sync.Mutex

	stateLock sync.RWMutex
	state     State

	closeOnce sync.Once
	closeErr  error

	initResult InitializeResult
}

// Open connects the transport and performs the handshake.
// On failure the transport is released and the session is Closed.
func Open(ctx context.Context, tr transport.Transport, opts ...Option) (*Session, error) {
	s := &Session{
		tr: tr,
		opts: options{
			clientInfo:      DefaultClientInfo,
			protocolVersion: LatestProtocolVersion,
		},
		state: StateIdle,
	}
	for _, opt := range opts {
		opt(&s.opts)
	}

	started := time.Now()
	s.setState(StateConnecting)
	if err := tr.Connect(ctx); err != nil {
		metricskey.StatsSessionsFailed.IncrCounter(1, "connect")
		logger.ContextKV(ctx, xlog.ERROR, "status", "connect_failed", "err", err.Error())
		_ = s.Close(ctx)
		return nil, errors.Mark(errors.Wrap(err, "failed to connect"), ErrConnection)
	}

	s.setState(StateHandshaking)
	if err := s.handshake(ctx); err != nil {
		metricskey.StatsSessionsFailed.IncrCounter(1, "handshake")
		logger.ContextKV(ctx, xlog.ERROR, "status", "handshake_failed", "err", err.Error())
		_ = s.Close(ctx)
		return nil, err
	}

	s.setState(StateReady)
	metricskey.StatsSessionsOpened.IncrCounter(1, s.initResult.ProtocolVersion)
	metricskey.PerfSessionHandshake.MeasureSince(started, s.initResult.ProtocolVersion)

	logger.ContextKV(ctx, xlog.INFO,
		"status", "ready",
		"server", s.initResult.ServerInfo.Name,
		"server_version", s.initResult.ServerInfo.Version,
		"protocol", s.initResult.ProtocolVersion,
	)
	return s, nil
}

// WithSession opens a session, calls fn and closes the session
// on every exit path.
func WithSession(ctx context.Context, tr transport.Transport, fn func(context.Context, *Session) error, opts ...Option) (err error) {
	s, err := Open(ctx, tr, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(ctx); cerr != nil {
			logger.ContextKV(ctx, xlog.WARNING, "status", "close_failed", "err", cerr.Error())
		}
	}()
	return fn(ctx, s)
}

func (s *Session) handshake(ctx context.Context) error {
	raw, err := s.tr.Call(ctx, MethodInitialize, &InitializeParams{
		ProtocolVersion: s.opts.protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      s.opts.clientInfo,
	})
	if err != nil {
		return classify(ctx, err, "initialize failed")
	}

	var res InitializeResult
	if err = json.Unmarshal(raw, &res); err != nil {
		return errors.Mark(errors.Wrap(err, "failed to decode initialize result"), ErrProtocol)
	}
	if res.ProtocolVersion == "" {
		return errors.Mark(errors.New("initialize result has no protocol version"), ErrProtocol)
	}
	if !slices.Contains(SupportedProtocolVersions, res.ProtocolVersion) {
		return errors.Mark(errors.Newf("unsupported protocol version: %q", res.ProtocolVersion), ErrProtocol)
	}
	s.initResult = res
	s.tr.SetProtocolVersion(res.ProtocolVersion)

	if err = s.tr.Notify(ctx, MethodNotificationInitialized, nil); err != nil {
		return classify(ctx, err, "initialized notification failed")
	}
	return nil
}

// classify marks err as ErrConnection for network failures
// and ErrProtocol otherwise.
func classify(ctx context.Context, err error, msg string) error {
	if transport.IsUnavailable(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		ctx.Err() != nil {
		return errors.Mark(errors.Wrap(err, msg), ErrConnection)
	}
	return errors.Mark(errors.Wrap(err, msg), ErrProtocol)
}

// State returns the current state
func (s *Session) State() State {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	return s.state
}

// ServerInfo returns the server name and version
func (s *Session) ServerInfo() Implementation {
	return s.initResult.ServerInfo
}

// ProtocolVersion returns the negotiated protocol version
func (s *Session) ProtocolVersion() string {
	return s.initResult.ProtocolVersion
}

// Instructions returns the server instructions, if any
func (s *Session) Instructions() string {
	return s.initResult.Instructions
}

func (s *Session) setState(to State) {
	s.stateLock.Lock()
	from := s.state
	s.state = to
	s.stateLock.Unlock()

	logger.KV(xlog.DEBUG, "from", from, "to", to)
	if s.opts.onStateChange != nil {
		s.opts.onStateChange(from, to)
	}
}

// fail moves a Ready session to Failed
func (s *Session) fail() {
	if s.State() == StateReady {
		s.setState(StateFailed)
	}
}

// request sends a request in the Ready state and decodes the result into out
func (s *Session) request(ctx context.Context, method string, params, out any) error {
	s.reqLock.Lock()
	defer s.reqLock.Unlock()

	if st := s.State(); st != StateReady {
		return errors.Wrapf(ErrSessionNotReady, "%s in state %s", method, st)
	}

	raw, err := s.tr.Call(ctx, method, params)
	if err != nil {
		metricskey.StatsSessionsFailed.IncrCounter(1, "request")
		s.fail()
		return classify(ctx, err, method+" failed")
	}
	if err = json.Unmarshal(raw, out); err != nil {
		metricskey.StatsSessionsFailed.IncrCounter(1, "request")
		s.fail()
		return errors.Mark(errors.Wrapf(err, "failed to decode %s result", method), ErrProtocol)
	}
	return nil
}

// ListTools returns a page of the server tools
func (s *Session) ListTools(ctx context.Context, cursor string) (*ListToolsResult, error) {
	res := new(ListToolsResult)
	if err := s.request(ctx, MethodToolsList, &ListToolsParams{Cursor: cursor}, res); err != nil {
		return nil, err
	}
	return res, nil
}

// CallTool invokes a tool on the server
func (s *Session) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	res := new(CallToolResult)
	params := &CallToolParams{
		Name:      name,
		Arguments: args,
	}
	if params.Arguments == nil {
		params.Arguments = map[string]any{}
	}
	if err := s.request(ctx, MethodToolsCall, params, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Close releases the transport. Close is idempotent,
// subsequent calls return the result of the first one.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		if err := s.tr.Close(ctx); err != nil {
			s.closeErr = errors.Mark(errors.Wrap(err, "failed to close transport"), ErrConnection)
		}
		s.setState(StateClosed)
	})
	return s.closeErr
}
