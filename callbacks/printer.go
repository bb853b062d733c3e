package callbacks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/effective-security/sqlagent/assistants"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/sqlagent/pkg/llmutils"
	"github.com/effective-security/sqlagent/tools"
)

// Mode controls how much of a run the Printer shows
type Mode int

const (
	// ModeDefault prints the question, the statements and the outcome
	ModeDefault Mode = iota
	// ModeVerbose also prints the tool results and the final transcript
	ModeVerbose
)

// Printer writes a readable trace of a run: the question, each SQL
// statement the model sends to a tool, and how the run ended.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) printf(format string, args ...any) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, format, args...)
}

func (l *Printer) OnAssistantStart(_ context.Context, agent assistants.IAssistant, input string) {
	l.printf("> %s: %s\n", agent.Name(), input)
}

func (l *Printer) OnAssistantEnd(_ context.Context, agent assistants.IAssistant, _ string, run *assistants.Run) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "< %s: answered after %d iterations and %d tool calls\n", agent.Name(), run.Iterations(), run.ToolCalls())
	if l.Mode == ModeVerbose {
		llmutils.PrintMessages(l.Out, run.Messages())
	}
}

func (l *Printer) OnAssistantError(_ context.Context, agent assistants.IAssistant, _ string, err error) {
	l.printf("! %s: %s\n", agent.Name(), err.Error())
}

func (l *Printer) OnAssistantLLMCallStart(_ context.Context, _ assistants.IAssistant, llm llms.Model, payload []llms.Message) {
	l.printf("  %s <- %d messages\n", llm.GetName(), len(payload))
}

func (l *Printer) OnAssistantLLMCallEnd(_ context.Context, _ assistants.IAssistant, llm llms.Model, resp *llms.ContentResponse) {
	calls := 0
	for _, choice := range resp.Choices {
		calls += len(choice.ToolCalls)
	}
	l.printf("  %s -> %d tool calls\n", llm.GetName(), calls)
}

func (l *Printer) OnToolStart(_ context.Context, tool tools.ITool, _ string, input string) {
	l.printf("  %s: %s\n", tool.Name(), Statement(input))
}

func (l *Printer) OnToolEnd(_ context.Context, tool tools.ITool, _ string, _ string, output string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "  %s returned %d bytes\n", tool.Name(), len(output))
	if l.Mode == ModeVerbose {
		fmt.Fprint(l.Out, llmutils.EnsureEndsWithNewline(output))
	}
}

func (l *Printer) OnToolError(_ context.Context, tool tools.ITool, _ string, _ string, err error) {
	l.printf("  %s failed: %s\n", tool.Name(), err.Error())
}

func (l *Printer) OnToolNotFound(_ context.Context, _ assistants.IAssistant, tool string) {
	l.printf("  %s is not offered by the server\n", tool)
}

// Statement returns the SQL carried by the tool arguments,
// or the arguments as they are when no statement is found.
func Statement(input string) string {
	var args struct {
		Query string `json:"query"`
		SQL   string `json:"sql"`
	}
	if err := json.Unmarshal([]byte(input), &args); err == nil {
		if s := strings.TrimSpace(args.Query + args.SQL); s != "" {
			return s
		}
	}
	return input
}
