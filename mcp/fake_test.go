package mcp_test

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/effective-security/sqlagent/mcp"
	"github.com/effective-security/sqlagent/mcp/transport"
)

type handler func(params json.RawMessage) (any, error)

// fakeTransport is an in-memory MCP server counting transport usage
type fakeTransport struct {
	lock sync.Mutex

	connectErr error
	notifyErr  error
	closeErr   error
	handlers   map[string]handler

	connects int
	closes   int
	calls    []string
	notified []string
	version  string
}

func newFakeTransport(tools ...mcp.ToolDescriptor) *fakeTransport {
	return &fakeTransport{
		handlers: map[string]handler{
			mcp.MethodInitialize: func(json.RawMessage) (any, error) {
				return map[string]any{
					"protocolVersion": mcp.ProtocolVersion20250326,
					"capabilities":    map[string]any{"tools": map[string]any{}},
					"serverInfo":      map[string]any{"name": "sales-db", "version": "0.1.0"},
				}, nil
			},
			mcp.MethodToolsList: func(json.RawMessage) (any, error) {
				return mcp.ListToolsResult{Tools: tools}, nil
			},
		},
	}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.lock.Lock()
	f.calls = append(f.calls, method)
	h := f.handlers[method]
	f.lock.Unlock()

	if h == nil {
		return nil, &transport.Error{Code: transport.ErrorCodeMethodNotFound, Message: "Method not found"}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	res, err := h(raw)
	if err != nil {
		return nil, err
	}
	if r, ok := res.(json.RawMessage); ok {
		return r, nil
	}
	return json.Marshal(res)
}

func (f *fakeTransport) Notify(_ context.Context, method string, _ any) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.notified = append(f.notified, method)
	return f.notifyErr
}

func (f *fakeTransport) SetProtocolVersion(version string) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.version = version
}

func (f *fakeTransport) Close(context.Context) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.closes++
	return f.closeErr
}

func (f *fakeTransport) setHandler(method string, h handler) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.handlers[method] = h
}

func (f *fakeTransport) counts() (connects, closes int) {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.connects, f.closes
}

func (f *fakeTransport) callLog() []string {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]string(nil), f.calls...)
}

// stateLog records session state transitions
type stateLog struct {
	lock   sync.Mutex
	states []mcp.State
}

func (l *stateLog) observe(_, to mcp.State) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.states = append(l.states, to)
}

func (l *stateLog) get() []mcp.State {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]mcp.State(nil), l.states...)
}
