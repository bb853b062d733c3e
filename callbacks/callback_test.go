package callbacks_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/assistants"
	"github.com/effective-security/sqlagent/callbacks"
	"github.com/effective-security/sqlagent/mocks/mockllms"
	"github.com/effective-security/sqlagent/mocks/mocktools"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/sqlagent/tools"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sqlagent", "callbacks_test")

func newAgent(t *testing.T, cb assistants.Callback, responses ...*llms.ContentResponse) *assistants.Assistant {
	ctrl := gomock.NewController(t)

	tool := mocktools.NewMockITool(ctrl)
	tool.EXPECT().Name().Return("query_db").AnyTimes()
	tool.EXPECT().Description().Return("runs a query").AnyTimes()
	tool.EXPECT().Parameters().Return(&jsonschema.Schema{Type: "object"}).AnyTimes()
	tool.EXPECT().Call(gomock.Any(), `{"query":"SELECT 1"}`).Return("1", nil).AnyTimes()
	tool.EXPECT().Call(gomock.Any(), `{"query":"bad"}`).Return("", errors.New("syntax error")).AnyTimes()

	model := mockllms.NewMockModel(ctrl)
	model.EXPECT().GetName().Return("gpt-4o").AnyTimes()
	model.EXPECT().GetProviderType().Return(llms.ProviderAzure).AnyTimes()
	calls := 0
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(context.Context, []llms.Message, ...llms.CallOption) (*llms.ContentResponse, error) {
			resp := responses[calls]
			calls++
			return resp, nil
		}).Times(len(responses))

	a, err := assistants.NewAssistant(model, "sql_agent", "system", []tools.ITool{tool}, assistants.WithCallback(cb))
	require.NoError(t, err)
	return a
}

func queryCall(args string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		ToolCalls: []llms.ToolCall{{ID: "c1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "query_db", Arguments: args}}},
	}}}
}

func answer(text string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        text,
		GenerationInfo: map[string]any{"InputTokens": int64(7), "OutputTokens": int64(3), "TotalTokens": int64(10)},
	}}}
}

func TestCallbacks_Success(t *testing.T) {
	var buf bytes.Buffer
	stats := callbacks.NewStats()
	fanout := callbacks.NewFanout(callbacks.NewPrinter(&buf, callbacks.ModeVerbose))
	fanout.Add(stats)
	fanout.Add(callbacks.NewAuditLogger(logger))

	a := newAgent(t, fanout, queryCall(`{"query":"SELECT 1"}`), answer("one"))
	run, err := a.Run(context.Background(), "how many?")
	require.NoError(t, err)
	assert.Equal(t, "one", run.Answer())

	res := buf.String()
	assert.Contains(t, res, "> sql_agent: how many?\n")
	assert.Contains(t, res, "  gpt-4o <- 2 messages\n")
	assert.Contains(t, res, "  gpt-4o -> 1 tool calls\n")
	assert.Contains(t, res, "  gpt-4o -> 0 tool calls\n")
	assert.Contains(t, res, "  query_db: SELECT 1\n")
	assert.Contains(t, res, "  query_db returned 1 bytes\n1\n")
	assert.Contains(t, res, "< sql_agent: answered after 2 iterations and 1 tool calls\n")
	assert.Contains(t, res, "HUMAN: how many?\n")
	assert.Contains(t, res, "AI: one\n")

	s := stats.Snapshot()
	assert.Equal(t, uint32(1), s.AssistantRuns)
	assert.Equal(t, uint32(0), s.AssistantRunsFailed)
	assert.Equal(t, uint32(2), s.AssistantLLMCalls)
	assert.Equal(t, uint32(6), s.TotalMessages)
	assert.Equal(t, uint32(1), s.ToolsCalls)
	assert.Equal(t, uint64(7), s.LLMInputTokens)
	assert.Equal(t, uint64(3), s.LLMOutputTokens)
	assert.Equal(t, uint64(10), s.LLMTotalTokens)
	assert.NotZero(t, s.LLMBytesOut)
	assert.Contains(t, s.String(), "runs=1 failed=0 llm_calls=2 messages=6")
}

func TestCallbacks_Failures(t *testing.T) {
	t.Run("tool error", func(t *testing.T) {
		var buf bytes.Buffer
		stats := callbacks.NewStats()
		a := newAgent(t, callbacks.NewFanout(callbacks.NewPrinter(&buf, callbacks.ModeDefault), stats, callbacks.NewAuditLogger(logger)),
			queryCall(`{"query":"bad"}`))
		_, err := a.Run(context.Background(), "q")
		require.Error(t, err)

		res := buf.String()
		assert.Contains(t, res, "  query_db: bad\n")
		assert.Contains(t, res, "  query_db failed: syntax error\n")
		assert.Contains(t, res, "! sql_agent: tool query_db failed: syntax error\n")
		assert.NotContains(t, res, "HUMAN:")

		s := stats.Snapshot()
		assert.Equal(t, uint32(1), s.AssistantRunsFailed)
		assert.Equal(t, uint32(1), s.ToolsCallsFailed)
	})

	t.Run("tool not found", func(t *testing.T) {
		var buf bytes.Buffer
		stats := callbacks.NewStats()
		a := newAgent(t, callbacks.NewFanout(callbacks.NewPrinter(&buf, callbacks.ModeDefault), stats, callbacks.NewAuditLogger(logger)),
			&llms.ContentResponse{Choices: []*llms.ContentChoice{{
				ToolCalls: []llms.ToolCall{{ID: "x", FunctionCall: &llms.FunctionCall{Name: "drop_all"}}},
			}}})
		_, err := a.Run(context.Background(), "q")
		require.Error(t, err)

		assert.Contains(t, buf.String(), "  drop_all is not offered by the server\n")
		assert.Equal(t, uint32(1), stats.Snapshot().ToolNotFound)
		assert.Equal(t, uint32(0), stats.Snapshot().ToolsCalls)
	})
}

func TestStatement(t *testing.T) {
	tcases := []struct {
		input string
		exp   string
	}{
		{`{"query":" SELECT * FROM sales "}`, "SELECT * FROM sales"},
		{`{"sql":"SELECT 1"}`, "SELECT 1"},
		{`{"table":"sales"}`, `{"table":"sales"}`},
		{`not json`, "not json"},
		{``, ""},
	}
	for _, tc := range tcases {
		assert.Equal(t, tc.exp, callbacks.Statement(tc.input), tc.input)
	}
}

func TestPrinter_DefaultMode(t *testing.T) {
	var buf bytes.Buffer
	a := newAgent(t, callbacks.NewPrinter(&buf, callbacks.ModeDefault), queryCall(`{"query":"SELECT 1"}`), answer("one"))
	_, err := a.Run(context.Background(), "how many?")
	require.NoError(t, err)

	res := buf.String()
	assert.Contains(t, res, "  query_db returned 1 bytes\n")
	assert.NotContains(t, res, "returned 1 bytes\n1\n")
	assert.NotContains(t, res, "HUMAN:")
}
