package assistants

import (
	"fmt"
	"slices"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/effective-security/sqlagent/pkg/llms"
)

// Run is the immutable record of a completed agent run.
// Accessors return copies.
type Run struct {
	id           string
	kind         string
	assistant    string
	model        string
	question     string
	promptDigest string
	tools        []string
	startedAt    time.Time
	finishedAt   time.Time
	messages     []llms.Message
	answer       string
	iterations   int
	toolCalls    int
}

// ID returns the unique ID of the run.
func (r *Run) ID() string { return r.id }

// Kind returns the kind of the run, used to name archived results.
func (r *Run) Kind() string { return r.kind }

// Assistant returns the name of the agent.
func (r *Run) Assistant() string { return r.assistant }

// Model returns the model name reported by the LLM.
func (r *Run) Model() string { return r.model }

// Question returns the user question.
func (r *Run) Question() string { return r.question }

// PromptDigest returns the hex xxhash of the system prompt.
func (r *Run) PromptDigest() string { return r.promptDigest }

// Tools returns the tool names available to the run.
func (r *Run) Tools() []string { return slices.Clone(r.tools) }

// StartedAt returns the start time of the run.
func (r *Run) StartedAt() time.Time { return r.startedAt }

// FinishedAt returns the end time of the run.
func (r *Run) FinishedAt() time.Time { return r.finishedAt }

// Messages returns the conversation of the run without the system prompt:
// the question, every tool request and response, and the final answer.
func (r *Run) Messages() []llms.Message { return llms.CloneMessages(r.messages) }

// Answer returns the final answer text.
func (r *Run) Answer() string { return r.answer }

// Iterations returns the number of model turns.
func (r *Run) Iterations() int { return r.iterations }

// ToolCalls returns the number of executed tool calls.
func (r *Run) ToolCalls() int { return r.toolCalls }

// RunError is returned when a run fails, and carries
// the partial conversation up to the failure.
type RunError struct {
	Messages []llms.Message
	Err      error
}

func (e *RunError) Error() string {
	return e.Err.Error()
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// PromptDigest returns the digest of the system prompt recorded in runs.
func PromptDigest(prompt string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(prompt))
}
