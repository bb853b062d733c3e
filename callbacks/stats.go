package callbacks

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/effective-security/sqlagent/assistants"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/sqlagent/pkg/llmutils"
	"github.com/effective-security/sqlagent/tools"
)

// RunStats is a snapshot of the counters collected by Stats.
type RunStats struct {
	TotalMessages       uint32
	LLMBytesOut         uint64
	LLMBytesIn          uint64
	LLMInputTokens      uint64
	LLMOutputTokens     uint64
	LLMTotalTokens      uint64
	AssistantRuns       uint32
	AssistantRunsFailed uint32
	AssistantLLMCalls   uint32
	ToolsCalls          uint32
	ToolsCallsFailed    uint32
	ToolNotFound        uint32
}

func (s RunStats) String() string {
	return fmt.Sprintf("runs=%d failed=%d llm_calls=%d messages=%d bytes_out=%d bytes_in=%d tokens_in=%d tokens_out=%d tokens_total=%d tool_calls=%d tool_failed=%d tool_not_found=%d",
		s.AssistantRuns, s.AssistantRunsFailed,
		s.AssistantLLMCalls, s.TotalMessages,
		s.LLMBytesOut, s.LLMBytesIn,
		s.LLMInputTokens, s.LLMOutputTokens, s.LLMTotalTokens,
		s.ToolsCalls, s.ToolsCallsFailed, s.ToolNotFound,
	)
}

// Stats counts the events of agent runs. It is safe for concurrent use.
type Stats struct {
	stats RunStats
}

func NewStats() *Stats {
	return &Stats{}
}

// Snapshot returns the current counters.
func (l *Stats) Snapshot() RunStats {
	return RunStats{
		TotalMessages:       atomic.LoadUint32(&l.stats.TotalMessages),
		LLMBytesOut:         atomic.LoadUint64(&l.stats.LLMBytesOut),
		LLMBytesIn:          atomic.LoadUint64(&l.stats.LLMBytesIn),
		LLMInputTokens:      atomic.LoadUint64(&l.stats.LLMInputTokens),
		LLMOutputTokens:     atomic.LoadUint64(&l.stats.LLMOutputTokens),
		LLMTotalTokens:      atomic.LoadUint64(&l.stats.LLMTotalTokens),
		AssistantRuns:       atomic.LoadUint32(&l.stats.AssistantRuns),
		AssistantRunsFailed: atomic.LoadUint32(&l.stats.AssistantRunsFailed),
		AssistantLLMCalls:   atomic.LoadUint32(&l.stats.AssistantLLMCalls),
		ToolsCalls:          atomic.LoadUint32(&l.stats.ToolsCalls),
		ToolsCallsFailed:    atomic.LoadUint32(&l.stats.ToolsCallsFailed),
		ToolNotFound:        atomic.LoadUint32(&l.stats.ToolNotFound),
	}
}

func (l *Stats) OnAssistantStart(ctx context.Context, assistant assistants.IAssistant, input string) {
	atomic.AddUint32(&l.stats.AssistantRuns, 1)
}

func (l *Stats) OnAssistantEnd(ctx context.Context, assistant assistants.IAssistant, input string, run *assistants.Run) {
}

func (l *Stats) OnAssistantError(ctx context.Context, assistant assistants.IAssistant, input string, err error) {
	atomic.AddUint32(&l.stats.AssistantRunsFailed, 1)
}

func (l *Stats) OnAssistantLLMCallStart(ctx context.Context, agent assistants.IAssistant, llm llms.Model, payload []llms.Message) {
	atomic.AddUint64(&l.stats.LLMBytesOut, llmutils.CountMessagesContentSize(payload))
	atomic.AddUint32(&l.stats.AssistantLLMCalls, 1)
	atomic.AddUint32(&l.stats.TotalMessages, uint32(len(payload)))
}

func (l *Stats) OnAssistantLLMCallEnd(ctx context.Context, agent assistants.IAssistant, llm llms.Model, resp *llms.ContentResponse) {
	atomic.AddUint64(&l.stats.LLMBytesIn, llmutils.CountResponseContentSize(resp))
	tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(resp)
	atomic.AddUint64(&l.stats.LLMInputTokens, uint64(tokensIn))
	atomic.AddUint64(&l.stats.LLMOutputTokens, uint64(tokensOut))
	atomic.AddUint64(&l.stats.LLMTotalTokens, uint64(tokensTotal))
}

func (l *Stats) OnToolStart(ctx context.Context, tool tools.ITool, assistantName, input string) {
	atomic.AddUint32(&l.stats.ToolsCalls, 1)
}

func (l *Stats) OnToolEnd(ctx context.Context, tool tools.ITool, assistantName, input string, output string) {
}

func (l *Stats) OnToolError(ctx context.Context, tool tools.ITool, assistantName, input string, err error) {
	atomic.AddUint32(&l.stats.ToolsCallsFailed, 1)
}

func (l *Stats) OnToolNotFound(ctx context.Context, agent assistants.IAssistant, tool string) {
	atomic.AddUint32(&l.stats.ToolNotFound, 1)
}
