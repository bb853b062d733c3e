package callbacks

import (
	"context"

	"github.com/effective-security/sqlagent/assistants"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/sqlagent/pkg/llmutils"
	"github.com/effective-security/sqlagent/tools"
	"github.com/effective-security/xlog"
)

// AuditLogger records every tool call of a run on the logger, so a run
// can be traced from the log file alone. Statements and outcomes are
// logged at INFO, payloads and results at DEBUG.
type AuditLogger struct {
	logger *xlog.PackageLogger
}

func NewAuditLogger(logger *xlog.PackageLogger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

func (l *AuditLogger) OnAssistantStart(ctx context.Context, agent assistants.IAssistant, input string) {
	l.logger.ContextKV(ctx, xlog.INFO,
		"status", "question",
		"agent", agent.Name(),
		"question", input,
	)
}

func (l *AuditLogger) OnAssistantEnd(ctx context.Context, agent assistants.IAssistant, _ string, run *assistants.Run) {
	l.logger.ContextKV(ctx, xlog.INFO,
		"status", "answered",
		"agent", agent.Name(),
		"run_id", run.ID(),
		"iterations", run.Iterations(),
		"tool_calls", run.ToolCalls(),
	)
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"run_id", run.ID(),
		"answer", run.Answer(),
	)
}

func (l *AuditLogger) OnAssistantError(ctx context.Context, agent assistants.IAssistant, _ string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"status", "run_failed",
		"agent", agent.Name(),
		"err", err.Error(),
	)
}

func (l *AuditLogger) OnAssistantLLMCallStart(ctx context.Context, agent assistants.IAssistant, llm llms.Model, payload []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"status", "llm_request",
		"agent", agent.Name(),
		"model", llm.GetName(),
		"messages", len(payload),
		"bytes", llmutils.CountMessagesContentSize(payload),
	)
}

func (l *AuditLogger) OnAssistantLLMCallEnd(ctx context.Context, agent assistants.IAssistant, llm llms.Model, resp *llms.ContentResponse) {
	_, _, total := llmutils.CountTokens(resp)
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"status", "llm_response",
		"agent", agent.Name(),
		"model", llm.GetName(),
		"choices", len(resp.Choices),
		"tokens", total,
	)
}

func (l *AuditLogger) OnToolStart(ctx context.Context, tool tools.ITool, assistantName, input string) {
	l.logger.ContextKV(ctx, xlog.INFO,
		"status", "tool_call",
		"agent", assistantName,
		"tool", tool.Name(),
		"statement", Statement(input),
	)
}

func (l *AuditLogger) OnToolEnd(ctx context.Context, tool tools.ITool, assistantName, input string, output string) {
	l.logger.ContextKV(ctx, xlog.INFO,
		"status", "tool_result",
		"agent", assistantName,
		"tool", tool.Name(),
		"bytes", len(output),
	)
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"tool", tool.Name(),
		"input", input,
		"output", output,
	)
}

func (l *AuditLogger) OnToolError(ctx context.Context, tool tools.ITool, assistantName, input string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"status", "tool_failed",
		"agent", assistantName,
		"tool", tool.Name(),
		"statement", Statement(input),
		"err", err.Error(),
	)
}

func (l *AuditLogger) OnToolNotFound(ctx context.Context, agent assistants.IAssistant, tool string) {
	l.logger.ContextKV(ctx, xlog.WARNING,
		"status", "tool_not_found",
		"agent", agent.Name(),
		"tool", tool,
	)
}
