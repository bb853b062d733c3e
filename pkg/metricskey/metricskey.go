package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	// StatsLLMMessagesSent is base for counter metric for total messages sent to LLM
	StatsLLMMessagesSent = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_messages_sent",
		Help:         "stats_llm_messages_sent provides total messages sent to LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMBytesSent = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_bytes_sent",
		Help:         "stats_llm_bytes_sent provides total bytes sent to LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMBytesReceived = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_bytes_received",
		Help:         "stats_llm_bytes_received provides total bytes received from LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMInputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_input_tokens",
		Help:         "stats_llm_input_tokens provides total input tokens sent to LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMOutputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_output_tokens",
		Help:         "stats_llm_output_tokens provides total output tokens received from LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMTotalTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_total_tokens",
		Help:         "stats_llm_total_tokens provides total tokens sent and received from LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsAgentRunsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_agent_runs_succeeded",
		Help:         "stats_agent_runs_succeeded provides total agent runs succeeded",
		RequiredTags: []string{"agent"},
	}

	StatsAgentRunsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_agent_runs_failed",
		Help:         "stats_agent_runs_failed provides total agent runs failed",
		RequiredTags: []string{"agent"},
	}

	StatsAgentLLMRetried = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_agent_llm_retried",
		Help:         "stats_agent_llm_retried provides total LLM calls retried on empty response",
		RequiredTags: []string{"agent"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}

	StatsSessionsOpened = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_sessions_opened",
		Help:         "stats_mcp_sessions_opened provides total MCP sessions that reached Ready",
		RequiredTags: []string{"protocol"},
	}

	StatsSessionsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_sessions_failed",
		Help:         "stats_mcp_sessions_failed provides total MCP session failures",
		RequiredTags: []string{"stage"},
	}

	StatsResultsSaved = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_results_saved",
		Help:         "stats_results_saved provides total result documents saved",
		RequiredTags: []string{"kind"},
	}

	StatsResultsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_results_failed",
		Help:         "stats_results_failed provides total result documents failed to save",
		RequiredTags: []string{"kind"},
	}
)

// Perf
var (
	PerfAgentRun = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_agent_run",
		Help:         "perf_agent_run provides duration of agent run",
		RequiredTags: []string{"agent"},
	}

	PerfLLMCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_llm_call",
		Help:         "perf_llm_call provides duration of LLM call",
		RequiredTags: []string{"agent", "model"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}

	PerfSessionHandshake = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_mcp_session_handshake",
		Help:         "perf_mcp_session_handshake provides duration of MCP connect and handshake",
		RequiredTags: []string{"protocol"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfAgentRun,
	&PerfLLMCall,
	&PerfSessionHandshake,
	&PerfToolCall,
	&StatsAgentLLMRetried,
	&StatsAgentRunsFailed,
	&StatsAgentRunsSucceeded,
	&StatsLLMBytesReceived,
	&StatsLLMBytesSent,
	&StatsLLMInputTokens,
	&StatsLLMMessagesSent,
	&StatsLLMOutputTokens,
	&StatsLLMTotalTokens,
	&StatsSessionsFailed,
	&StatsSessionsOpened,
	&StatsResultsFailed,
	&StatsResultsSaved,
	&StatsToolCallsFailed,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
}
