package llmutils

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/x/values"
	"gopkg.in/yaml.v3"
)

func ToJSON(val any) string {
	js, _ := json.Marshal(val)
	return string(js)
}

func ToJSONIndent(val any) string {
	js, _ := json.MarshalIndent(val, "", "\t")
	return string(js)
}

func ToYAML(val any) string {
	js, _ := yaml.Marshal(val)
	return string(js)
}

// PrintMessages is a debugging helper for a message transcript.
func PrintMessages(w io.Writer, msgs []llms.Message) {
	for _, mc := range msgs {
		fmt.Fprintf(w, "%s: ", strings.ToUpper(string(mc.Role)))
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				fmt.Fprintln(w, pp.Text)
			case llms.ToolCall:
				if pp.FunctionCall == nil {
					fmt.Fprintf(w, "ToolCall ID=%s, Type=%s\n", pp.ID, pp.Type)
					continue
				}
				fmt.Fprintf(w, "ToolCall ID=%s, Type=%s, Func=%s(%s)\n", pp.ID, pp.Type, pp.FunctionCall.Name, pp.FunctionCall.Arguments)
			case llms.ToolCallResponse:
				fmt.Fprintf(w, "ToolCallResponse ID=%s, Name=%s, Content=%s\n", pp.ToolCallID, pp.Name, pp.Content)
			}
		}
	}
}

// CountMessagesContentSize counts the size of the content in the messages
func CountMessagesContentSize(msgs []llms.Message) uint64 {
	var size uint64
	for _, mc := range msgs {
		size += uint64(len(mc.Role))
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				size += uint64(len(pp.Text))
			case llms.ToolCall:
				size += uint64(len(pp.ID))
				size += uint64(len(pp.Type))
				if pp.FunctionCall != nil {
					size += uint64(len(pp.FunctionCall.Name))
					size += uint64(len(pp.FunctionCall.Arguments))
				}
			case llms.ToolCallResponse:
				size += uint64(len(pp.ToolCallID))
				size += uint64(len(pp.Name))
				size += uint64(len(pp.Content))
			}
		}
	}
	return size
}

// CountResponseContentSize counts the size of the content in the content response
func CountResponseContentSize(resp *llms.ContentResponse) uint64 {
	var size uint64
	if resp == nil {
		return size
	}
	for _, choice := range resp.Choices {
		size += uint64(len(choice.Content))
		for _, toolCall := range choice.ToolCalls {
			size += uint64(len(toolCall.ID))
			size += uint64(len(toolCall.Type))
			if toolCall.FunctionCall != nil {
				size += uint64(len(toolCall.FunctionCall.Name))
				size += uint64(len(toolCall.FunctionCall.Arguments))
			}
		}
	}
	return size
}

// CountTokens sums the token usage reported by the provider
// in the GenerationInfo of each choice.
func CountTokens(resp *llms.ContentResponse) (in, out, total int64) {
	if resp == nil {
		return
	}
	for _, choice := range resp.Choices {
		ma := values.MapAny(choice.GenerationInfo)
		in += ma.Int64("InputTokens")
		out += ma.Int64("OutputTokens")
		total += ma.Int64("TotalTokens")
	}
	return
}

// EnsureEndsWithNewline ensures the message ends with a newline,
// it also removes any extra leading and trailing spaces.
func EnsureEndsWithNewline(s string) string {
	s = strings.TrimSpace(s)
	c := len(s)
	if c == 0 {
		return s
	}
	if s[c-1] != '\n' {
		return s + "\n"
	}
	return s
}
