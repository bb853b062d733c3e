package assistants

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/sqlagent/pkg/llmutils"
	"github.com/effective-security/sqlagent/pkg/metricskey"
	"github.com/effective-security/sqlagent/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

// Assistant is a tool-calling agent bound to one model, one system prompt
// and a fixed set of tools.
type Assistant struct {
	LLM llms.Model

	registry     *tools.Registry
	cfg          *Config
	name         string
	systemPrompt string
	promptDigest string
}

var _ IAssistant = (*Assistant)(nil)

// NewAssistant returns an agent for the model and tools.
// Tool names must be unique, and the model must support function calling
// when any tool is provided.
func NewAssistant(
	llmModel llms.Model,
	name, systemPrompt string,
	list []tools.ITool,
	options ...Option,
) (*Assistant, error) {
	registry, err := tools.NewRegistry(list...)
	if err != nil {
		return nil, err
	}
	if registry.Len() > 0 && !llmModel.GetProviderType().Supports(llms.CapabilityFunctionCalling) {
		return nil, errors.Wrapf(ErrUnsupportedModel, "assistant %s: provider %s", name, llmModel.GetProviderType())
	}

	return &Assistant{
		LLM:          llmModel,
		registry:     registry,
		cfg:          NewConfig(options...),
		name:         name,
		systemPrompt: systemPrompt,
		promptDigest: PromptDigest(systemPrompt),
	}, nil
}

// Name returns the name of the Agent.
func (a *Assistant) Name() string {
	return a.name
}

// Description returns the description of the Agent.
func (a *Assistant) Description() string {
	return a.cfg.Description
}

// ToolNames returns the names of the registered tools.
func (a *Assistant) ToolNames() []string {
	return a.registry.Names()
}

// Run answers the question. On failure the returned error is a *RunError
// holding the conversation up to the failure.
func (a *Assistant) Run(ctx context.Context, question string) (*Run, error) {
	started := time.Now()
	defer metricskey.PerfAgentRun.MeasureSince(started, a.name)

	callback := a.cfg.CallbackHandler
	if callback != nil {
		callback.OnAssistantStart(ctx, a, question)
	}

	st := &runState{}
	answer, err := a.run(ctx, question, st)
	if err != nil {
		metricskey.StatsAgentRunsFailed.IncrCounter(1, a.name)
		if callback != nil {
			callback.OnAssistantError(ctx, a, question, err)
		}
		return nil, &RunError{Messages: st.transcript, Err: err}
	}
	metricskey.StatsAgentRunsSucceeded.IncrCounter(1, a.name)

	run := &Run{
		id:           uuid.NewString(),
		kind:         a.cfg.Kind,
		assistant:    a.name,
		model:        a.LLM.GetName(),
		question:     question,
		promptDigest: a.promptDigest,
		tools:        a.registry.Names(),
		startedAt:    started,
		finishedAt:   time.Now(),
		messages:     st.transcript,
		answer:       answer,
		iterations:   st.iterations,
		toolCalls:    st.toolCalls,
	}
	if callback != nil {
		callback.OnAssistantEnd(ctx, a, question, run)
	}
	return run, nil
}

type runState struct {
	// history is sent to the model, and starts with the system prompt
	history []llms.Message
	// transcript is the history without the system prompt
	transcript []llms.Message
	iterations int
	toolCalls  int
	retries    int
}

func (s *runState) append(msg llms.Message) {
	s.history = append(s.history, msg)
	s.transcript = append(s.transcript, msg)
}

func (a *Assistant) run(ctx context.Context, question string, st *runState) (string, error) {
	if question == "" {
		return "", errors.Wrap(ErrInvalidInput, "question is required")
	}

	st.history = []llms.Message{llms.MessageFromTextParts(llms.RoleSystem, a.systemPrompt)}
	st.append(llms.MessageFromTextParts(llms.RoleHuman, question))

	callOpts := a.cfg.GetCallOptions()
	if a.registry.Len() > 0 {
		callOpts = append(callOpts, llms.WithTools(a.registry.Definitions()))
	}

	cfg := a.cfg
	callback := cfg.CallbackHandler
	modelName := a.LLM.GetName()

	for {
		if err := ctx.Err(); err != nil {
			return "", errors.WithStack(err)
		}
		if st.iterations >= cfg.MaxIterations {
			return "", errors.Wrapf(ErrLimitExceeded, "assistant %s: %d iterations", a.name, st.iterations)
		}
		st.iterations++

		if callback != nil {
			callback.OnAssistantLLMCallStart(ctx, a, a.LLM, st.history)
		}

		bytesSent := llmutils.CountMessagesContentSize(st.history)
		metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(st.history)), a.name, modelName)
		metricskey.StatsLLMBytesSent.IncrCounter(float64(bytesSent), a.name, modelName)

		llmStarted := time.Now()
		resp, err := a.LLM.GenerateContent(ctx, st.history, callOpts...)
		metricskey.PerfLLMCall.MeasureSince(llmStarted, a.name, modelName)
		if err != nil {
			return "", errors.Wrapf(err, "failed to generate content from LLM")
		}

		if callback != nil {
			callback.OnAssistantLLMCallEnd(ctx, a, a.LLM, resp)
		}

		metricskey.StatsLLMBytesReceived.IncrCounter(float64(llmutils.CountResponseContentSize(resp)), a.name, modelName)
		tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(resp)
		metricskey.StatsLLMInputTokens.IncrCounter(float64(tokensIn), a.name, modelName)
		metricskey.StatsLLMOutputTokens.IncrCounter(float64(tokensOut), a.name, modelName)
		metricskey.StatsLLMTotalTokens.IncrCounter(float64(tokensTotal), a.name, modelName)

		step, err := DecodeStep(resp)
		if errors.Is(err, ErrEmptyResponse) {
			st.retries++
			if st.retries > cfg.MaxEmptyRetries {
				logger.ContextKV(ctx, xlog.ERROR,
					"assistant", a.name,
					"status", "max_retries_exceeded",
					"input", slices.StringUpto(question, 64),
					"retry_count", st.retries,
				)
				return "", errors.Wrapf(err, "assistant %s: after %d retries", a.name, st.retries-1)
			}
			metricskey.StatsAgentLLMRetried.IncrCounter(1, a.name)
			logger.ContextKV(ctx, xlog.WARNING,
				"assistant", a.name,
				"status", "retrying_empty_response",
				"retry_count", st.retries,
			)
			continue
		}
		if err != nil {
			return "", errors.WithMessagef(err, "assistant %s", a.name)
		}

		switch s := step.(type) {
		case *FinalAnswer:
			st.append(llms.MessageFromTextParts(llms.RoleAI, s.Content))
			logger.ContextKV(ctx, xlog.DEBUG,
				"assistant", a.name,
				"status", "final_answer",
				"iterations", st.iterations,
				"tool_calls", st.toolCalls,
			)
			return s.Content, nil
		case *ToolCallRequest:
			if err := a.executeToolCalls(ctx, st, s); err != nil {
				return "", err
			}
		}
	}
}

// executeToolCalls runs the requested calls sequentially in the order given
// by the model, and appends the request and each response to the history.
// The first failing call ends the run.
func (a *Assistant) executeToolCalls(ctx context.Context, st *runState, req *ToolCallRequest) error {
	cfg := a.cfg
	if st.toolCalls+len(req.Calls) > cfg.MaxToolCalls {
		return errors.Wrapf(ErrLimitExceeded, "assistant %s: %d tool calls", a.name, st.toolCalls+len(req.Calls))
	}

	st.append(llms.MessageFromToolCalls(llms.RoleAI, req.Calls...))

	callback := cfg.CallbackHandler
	for _, call := range req.Calls {
		toolName := call.FunctionCall.Name
		tool, ok := a.registry.Get(toolName)
		if !ok {
			metricskey.StatsToolCallsNotFound.IncrCounter(1, toolName)
			logger.ContextKV(ctx, xlog.ERROR,
				"assistant", a.name,
				"status", "tool_not_found",
				"tool", toolName,
			)
			if callback != nil {
				callback.OnToolNotFound(ctx, a, toolName)
			}
			return errors.Mark(errors.Newf("tool not found: %q", toolName), ErrToolNotFound)
		}

		input := call.FunctionCall.Arguments
		if callback != nil {
			callback.OnToolStart(ctx, tool, a.name, input)
		}

		started := time.Now()
		output, err := tool.Call(ctx, input)
		metricskey.PerfToolCall.MeasureSince(started, toolName)
		st.toolCalls++
		if err != nil {
			metricskey.StatsToolCallsFailed.IncrCounter(1, toolName)
			if callback != nil {
				callback.OnToolError(ctx, tool, a.name, input, err)
			}
			return errors.Mark(errors.Wrapf(err, "tool %s failed", toolName), ErrToolInvocation)
		}
		metricskey.StatsToolCallsSucceeded.IncrCounter(1, toolName)

		if callback != nil {
			callback.OnToolEnd(ctx, tool, a.name, input, output)
		}

		st.append(llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
			ToolCallID: call.ID,
			Name:       toolName,
			Content:    output,
		}))
	}
	return nil
}
