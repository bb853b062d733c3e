package assistants

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/pkg/llms"
)

// Step is the decision the model made in one turn:
// either a *FinalAnswer or a *ToolCallRequest.
type Step interface {
	isStep()
}

// FinalAnswer is a model turn that ends the run.
type FinalAnswer struct {
	Content string
}

func (*FinalAnswer) isStep() {}

// ToolCallRequest is a model turn that asks for tools to be executed in order.
type ToolCallRequest struct {
	// Content is the optional text the model sent along with the calls.
	Content string
	Calls   []llms.ToolCall
}

func (*ToolCallRequest) isStep() {}

// DecodeStep interprets the model response.
// Tool calls from all choices take precedence over text content.
// Calls with empty ID get a generated one, and empty Type defaults to "function".
func DecodeStep(resp *llms.ContentResponse) (Step, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.WithStack(ErrEmptyResponse)
	}

	var calls []llms.ToolCall
	var texts []string
	for _, choice := range resp.Choices {
		if choice == nil {
			continue
		}
		if choice.Content != "" {
			texts = append(texts, choice.Content)
		}
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil || tc.FunctionCall.Name == "" {
				return nil, errors.Newf("malformed tool call %q: missing function name", tc.ID)
			}
			if tc.ID == "" {
				tc.ID = fmtCallID(tc.FunctionCall.Name, len(calls))
			}
			if tc.Type == "" {
				tc.Type = "function"
			}
			fc := *tc.FunctionCall
			tc.FunctionCall = &fc
			calls = append(calls, tc)
		}
	}

	content := joinTexts(texts)
	if len(calls) > 0 {
		return &ToolCallRequest{Content: content, Calls: calls}, nil
	}
	if content == "" {
		return nil, errors.WithStack(ErrEmptyResponse)
	}
	return &FinalAnswer{Content: content}, nil
}

func fmtCallID(name string, idx int) string {
	return fmt.Sprintf("%s_%d", name, idx)
}

func joinTexts(texts []string) string {
	return strings.TrimSpace(strings.Join(texts, "\n\n"))
}
