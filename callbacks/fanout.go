package callbacks

import (
	"context"

	"github.com/effective-security/sqlagent/assistants"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/sqlagent/tools"
)

var (
	_ assistants.Callback = (*Fanout)(nil)
	_ assistants.Callback = (*Printer)(nil)
	_ assistants.Callback = (*AuditLogger)(nil)
	_ assistants.Callback = (*Stats)(nil)
)

// Fanout forwards the events of a run to each of its callbacks in order.
type Fanout struct {
	callbacks []assistants.Callback
}

func NewFanout(callbacks ...assistants.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

// Add appends a callback, it must not be called while a run is in progress.
func (l *Fanout) Add(callback assistants.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) each(fn func(assistants.Callback)) {
	for _, cb := range l.callbacks {
		fn(cb)
	}
}

func (l *Fanout) OnAssistantStart(ctx context.Context, agent assistants.IAssistant, input string) {
	l.each(func(cb assistants.Callback) { cb.OnAssistantStart(ctx, agent, input) })
}

func (l *Fanout) OnAssistantEnd(ctx context.Context, agent assistants.IAssistant, input string, run *assistants.Run) {
	l.each(func(cb assistants.Callback) { cb.OnAssistantEnd(ctx, agent, input, run) })
}

func (l *Fanout) OnAssistantError(ctx context.Context, agent assistants.IAssistant, input string, err error) {
	l.each(func(cb assistants.Callback) { cb.OnAssistantError(ctx, agent, input, err) })
}

func (l *Fanout) OnAssistantLLMCallStart(ctx context.Context, agent assistants.IAssistant, llm llms.Model, payload []llms.Message) {
	l.each(func(cb assistants.Callback) { cb.OnAssistantLLMCallStart(ctx, agent, llm, payload) })
}

func (l *Fanout) OnAssistantLLMCallEnd(ctx context.Context, agent assistants.IAssistant, llm llms.Model, resp *llms.ContentResponse) {
	l.each(func(cb assistants.Callback) { cb.OnAssistantLLMCallEnd(ctx, agent, llm, resp) })
}

func (l *Fanout) OnToolStart(ctx context.Context, tool tools.ITool, assistantName, input string) {
	l.each(func(cb assistants.Callback) { cb.OnToolStart(ctx, tool, assistantName, input) })
}

func (l *Fanout) OnToolEnd(ctx context.Context, tool tools.ITool, assistantName, input string, output string) {
	l.each(func(cb assistants.Callback) { cb.OnToolEnd(ctx, tool, assistantName, input, output) })
}

func (l *Fanout) OnToolError(ctx context.Context, tool tools.ITool, assistantName, input string, err error) {
	l.each(func(cb assistants.Callback) { cb.OnToolError(ctx, tool, assistantName, input, err) })
}

func (l *Fanout) OnToolNotFound(ctx context.Context, agent assistants.IAssistant, tool string) {
	l.each(func(cb assistants.Callback) { cb.OnToolNotFound(ctx, agent, tool) })
}
