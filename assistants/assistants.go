package assistants

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/sqlagent/tools"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sqlagent", "assistants")

//go:generate mockgen -source=assistants.go -destination=../mocks/mockassistants/assistants_mock.gen.go -package mockassistants

var (
	// ErrInvalidInput is returned when the question is empty.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEmptyResponse is returned when the model produced no usable choice.
	ErrEmptyResponse = errors.New("empty response from LLM")
	// ErrToolNotFound is returned when the model requests a tool that is not registered.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolInvocation is returned when a tool call fails.
	ErrToolInvocation = errors.New("tool invocation failed")
	// ErrLimitExceeded is returned when the run exceeds the iteration or tool call limits.
	ErrLimitExceeded = errors.New("run limit exceeded")
	// ErrUnsupportedModel is returned when tools are configured for a model without function calling.
	ErrUnsupportedModel = errors.New("model does not support function calling")
)

// IAssistant is the identity of an agent.
type IAssistant interface {
	// Name returns the name of the Assistant.
	Name() string
	// Description returns the description of the Assistant.
	Description() string
}

// Callback receives the events of an agent run.
type Callback interface {
	OnAssistantStart(ctx context.Context, agent IAssistant, input string)
	OnAssistantEnd(ctx context.Context, agent IAssistant, input string, run *Run)
	OnAssistantError(ctx context.Context, agent IAssistant, input string, err error)
	OnAssistantLLMCallStart(ctx context.Context, agent IAssistant, llm llms.Model, payload []llms.Message)
	OnAssistantLLMCallEnd(ctx context.Context, agent IAssistant, llm llms.Model, resp *llms.ContentResponse)
	OnToolStart(ctx context.Context, tool tools.ITool, assistantName, input string)
	OnToolEnd(ctx context.Context, tool tools.ITool, assistantName, input string, output string)
	OnToolError(ctx context.Context, tool tools.ITool, assistantName, input string, err error)
	OnToolNotFound(ctx context.Context, agent IAssistant, tool string)
}
