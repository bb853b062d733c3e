package mcp_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/mcp"
	"github.com/effective-security/sqlagent/mcp/transport"
	"github.com/effective-security/sqlagent/mocks/mocktransport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestState_String(t *testing.T) {
	assert.Equal(t, "Idle", mcp.StateIdle.String())
	assert.Equal(t, "Ready", mcp.StateReady.String())
	assert.Equal(t, "Closed", mcp.StateClosed.String())
	assert.Equal(t, "Unknown", mcp.State(42).String())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	log := &stateLog{}

	s, err := mcp.Open(ctx, tr, mcp.WithClientInfo("test", "1"), mcp.WithStateObserver(log.observe))
	require.NoError(t, err)
	assert.Equal(t, mcp.StateReady, s.State())
	assert.Equal(t, mcp.ProtocolVersion20250326, s.ProtocolVersion())
	assert.Equal(t, "sales-db", s.ServerInfo().Name)
	assert.Equal(t, mcp.ProtocolVersion20250326, tr.version)
	assert.Equal(t, []string{mcp.MethodInitialize}, tr.callLog())
	assert.Equal(t, []string{mcp.MethodNotificationInitialized}, tr.notified)

	res, err := s.ListTools(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, res.Tools)

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, mcp.StateClosed, s.State())

	connects, closes := tr.counts()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, closes)

	assert.Equal(t, []mcp.State{
		mcp.StateConnecting,
		mcp.StateHandshaking,
		mcp.StateReady,
		mcp.StateClosing,
		mcp.StateClosed,
	}, log.get())

	_, err = s.ListTools(ctx, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrSessionNotReady))
	// nothing reached the wire after close
	assert.Equal(t, []string{mcp.MethodInitialize, mcp.MethodToolsList}, tr.callLog())
}

func TestOpen_ConnectFailure(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.connectErr = errors.Mark(errors.New("connection refused"), transport.ErrUnavailable)
	log := &stateLog{}

	s, err := mcp.Open(ctx, tr, mcp.WithStateObserver(log.observe))
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, mcp.ErrConnection))
	assert.False(t, errors.Is(err, mcp.ErrProtocol))
	assert.Contains(t, err.Error(), "connection refused")

	// no handshake, transport released
	assert.Empty(t, tr.callLog())
	connects, closes := tr.counts()
	assert.Equal(t, connects, closes)
	assert.Equal(t, []mcp.State{mcp.StateConnecting, mcp.StateClosing, mcp.StateClosed}, log.get())
}

func TestOpen_HandshakeFailures(t *testing.T) {
	tcases := []struct {
		name    string
		init    handler
		notify  error
		wantErr error
		msg     string
	}{
		{
			name: "unreachable",
			init: func(json.RawMessage) (any, error) {
				return nil, errors.Mark(errors.New("dial tcp: connection refused"), transport.ErrUnavailable)
			},
			wantErr: mcp.ErrConnection,
			msg:     "initialize failed: dial tcp: connection refused",
		},
		{
			name: "rejected",
			init: func(json.RawMessage) (any, error) {
				return nil, &transport.Error{Code: transport.ErrorCodeInvalidParams, Message: "unsupported client"}
			},
			wantErr: mcp.ErrProtocol,
			msg:     "initialize failed: RPC error -32602: unsupported client",
		},
		{
			name: "rejected with status",
			init: func(json.RawMessage) (any, error) {
				return nil, errors.Mark(
					errors.Wrap(&transport.Error{Code: transport.ErrorCodeInvalidRequest, Message: "bad handshake"}, "HTTP 400"),
					transport.ErrRejected)
			},
			wantErr: mcp.ErrProtocol,
			msg:     "initialize failed: HTTP 400: RPC error -32600: bad handshake",
		},
		{
			name: "malformed",
			init: func(json.RawMessage) (any, error) {
				return json.RawMessage(`"hello"`), nil
			},
			wantErr: mcp.ErrProtocol,
			msg:     "failed to decode initialize result",
		},
		{
			name: "no version",
			init: func(json.RawMessage) (any, error) {
				return map[string]any{"serverInfo": map[string]any{"name": "x"}}, nil
			},
			wantErr: mcp.ErrProtocol,
			msg:     "initialize result has no protocol version",
		},
		{
			name: "unsupported version",
			init: func(json.RawMessage) (any, error) {
				return map[string]any{"protocolVersion": "1999-01-01"}, nil
			},
			wantErr: mcp.ErrProtocol,
			msg:     `unsupported protocol version: "1999-01-01"`,
		},
		{
			name:    "notification lost",
			notify:  errors.Mark(errors.New("HTTP 503"), transport.ErrUnavailable),
			wantErr: mcp.ErrConnection,
			msg:     "initialized notification failed: HTTP 503",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newFakeTransport()
			if tc.init != nil {
				tr.setHandler(mcp.MethodInitialize, tc.init)
			}
			tr.notifyErr = tc.notify
			log := &stateLog{}

			s, err := mcp.Open(context.Background(), tr, mcp.WithStateObserver(log.observe))
			require.Error(t, err)
			assert.Nil(t, s)
			assert.True(t, errors.Is(err, tc.wantErr), err.Error())
			assert.Contains(t, err.Error(), tc.msg)

			connects, closes := tr.counts()
			assert.Equal(t, 1, connects)
			assert.Equal(t, 1, closes)

			states := log.get()
			assert.Equal(t, mcp.StateClosed, states[len(states)-1])
			assert.NotContains(t, states, mcp.StateReady)
		})
	}
}

func TestOpen_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr := newFakeTransport()
	_, err := mcp.Open(ctx, tr)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrConnection))
	assert.True(t, errors.Is(err, context.Canceled))

	connects, closes := tr.counts()
	assert.Equal(t, connects, closes)
}

func TestSession_FailedOnProtocolError(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()
	tr.setHandler(mcp.MethodToolsList, func(json.RawMessage) (any, error) {
		return json.RawMessage(`[1,2,3]`), nil
	})

	s, err := mcp.Open(ctx, tr)
	require.NoError(t, err)

	_, err = s.ListTools(ctx, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrProtocol))
	assert.Equal(t, mcp.StateFailed, s.State())

	_, err = s.CallTool(ctx, "query_db", nil)
	assert.True(t, errors.Is(err, mcp.ErrSessionNotReady))
	assert.Contains(t, err.Error(), "tools/call in state Failed")

	require.NoError(t, s.Close(ctx))
	assert.Equal(t, mcp.StateClosed, s.State())
}

func TestSession_CallTool(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()

	var got mcp.CallToolParams
	tr.setHandler(mcp.MethodToolsCall, func(params json.RawMessage) (any, error) {
		require.NoError(t, json.Unmarshal(params, &got))
		return mcp.CallToolResult{Content: []mcp.Content{{Type: "text", Text: "ok"}}}, nil
	})

	s, err := mcp.Open(ctx, tr)
	require.NoError(t, err)
	defer s.Close(ctx)

	res, err := s.CallTool(ctx, "list_tables", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text())
	assert.Equal(t, "list_tables", got.Name)
	assert.NotNil(t, got.Arguments)
}

func TestSession_SerializedRequests(t *testing.T) {
	ctx := context.Background()
	tr := newFakeTransport()

	var (
		lock     sync.Mutex
		inflight int
		maxSeen  int
	)
	tr.setHandler(mcp.MethodToolsCall, func(json.RawMessage) (any, error) {
		lock.Lock()
		inflight++
		maxSeen = max(maxSeen, inflight)
		lock.Unlock()

		time.Sleep(time.Millisecond)

		lock.Lock()
		inflight--
		lock.Unlock()
		return mcp.CallToolResult{}, nil
	})

	s, err := mcp.Open(ctx, tr)
	require.NoError(t, err)
	defer s.Close(ctx)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CallTool(ctx, "q", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestWithSession(t *testing.T) {
	ctx := context.Background()

	t.Run("released on error", func(t *testing.T) {
		tr := newFakeTransport()
		var sess *mcp.Session
		err := mcp.WithSession(ctx, tr, func(_ context.Context, s *mcp.Session) error {
			sess = s
			assert.Equal(t, mcp.StateReady, s.State())
			return errors.New("agent failed")
		})
		require.EqualError(t, err, "agent failed")
		assert.Equal(t, mcp.StateClosed, sess.State())
		connects, closes := tr.counts()
		assert.Equal(t, 1, connects)
		assert.Equal(t, 1, closes)
	})

	t.Run("released on success", func(t *testing.T) {
		tr := newFakeTransport()
		err := mcp.WithSession(ctx, tr, func(context.Context, *mcp.Session) error {
			return nil
		})
		require.NoError(t, err)
		_, closes := tr.counts()
		assert.Equal(t, 1, closes)
	})

	t.Run("close error is not fatal", func(t *testing.T) {
		tr := newFakeTransport()
		tr.closeErr = errors.New("DELETE failed")
		err := mcp.WithSession(ctx, tr, func(context.Context, *mcp.Session) error {
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("open failure", func(t *testing.T) {
		tr := newFakeTransport()
		tr.connectErr = errors.New("refused")
		called := false
		err := mcp.WithSession(ctx, tr, func(context.Context, *mcp.Session) error {
			called = true
			return nil
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, mcp.ErrConnection))
		assert.False(t, called)
		connects, closes := tr.counts()
		assert.Equal(t, connects, closes)
	})
}

func TestOpen_WireOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	tr := mocktransport.NewMockTransport(ctrl)
	ctx := context.Background()

	gomock.InOrder(
		tr.EXPECT().Connect(gomock.Any()).Return(nil),
		tr.EXPECT().Call(gomock.Any(), mcp.MethodInitialize, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ string, params any) (json.RawMessage, error) {
				p, ok := params.(*mcp.InitializeParams)
				require.True(t, ok)
				assert.Equal(t, mcp.LatestProtocolVersion, p.ProtocolVersion)
				assert.Equal(t, mcp.DefaultClientInfo, p.ClientInfo)
				return json.RawMessage(`{"protocolVersion":"2025-06-18","serverInfo":{"name":"db"}}`), nil
			}),
		tr.EXPECT().SetProtocolVersion("2025-06-18"),
		tr.EXPECT().Notify(gomock.Any(), mcp.MethodNotificationInitialized, nil).Return(nil),
		tr.EXPECT().Close(gomock.Any()).Return(nil),
	)

	s, err := mcp.Open(ctx, tr)
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))
}
