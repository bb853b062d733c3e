package anthropic

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sqlagent/pkg/llms", "anthropic")

var (
	ErrEmptyResponse          = errors.New("anthropic: no response")
	ErrMissingToken           = errors.New("anthropic: missing API key, set it in the ANTHROPIC_API_KEY environment variable")
	ErrMissingModel           = errors.New("anthropic: model is required")
	ErrInvalidContentType     = errors.New("anthropic: invalid content type")
	ErrUnsupportedMessageType = errors.New("anthropic: unsupported message type")
	ErrUnsupportedContentType = errors.New("anthropic: unsupported content type")
)

// DefaultMaxTokens is sent when the caller does not limit the response,
// the Messages API requires max_tokens.
const DefaultMaxTokens = 4096

// LLM is a chat model served by the Anthropic Messages API.
type LLM struct {
	client anthropic.Client
	model  string
}

var _ llms.Model = (*LLM)(nil)

// New creates a new Anthropic LLM client using the official Anthropic SDK.
//
// If no token is provided via options, the API key is read
// from the ANTHROPIC_API_KEY environment variable.
//
// Example usage:
//
//	llm, err := anthropic.New(
//	    anthropic.WithToken("your-api-key"),
//	    anthropic.WithModel("claude-sonnet-4-5"),
//	)
func New(opts ...Option) (*LLM, error) {
	o := &options{
		token:      os.Getenv(TokenEnvVarName),
		baseURL:    DefaultBaseURL,
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.token == "" {
		return nil, errors.WithStack(ErrMissingToken)
	}
	if o.model == "" {
		return nil, errors.WithStack(ErrMissingModel)
	}

	sdkOpts := []option.RequestOption{
		option.WithAPIKey(o.token),
		option.WithMaxRetries(o.maxRetries),
		option.WithRequestTimeout(5 * time.Minute),
		option.WithBaseURL(o.baseURL),
	}
	if o.httpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(o.httpClient))
	}
	if o.betaHeader != "" {
		sdkOpts = append(sdkOpts, option.WithHeader("anthropic-beta", o.betaHeader))
	}

	return &LLM{
		client: anthropic.NewClient(sdkOpts...),
		model:  o.model,
	}, nil
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderAnthropic
}

// GenerateContent implements the Model interface.
//
// The response has a single choice: the text blocks of the message
// joined together, and every tool_use block as a tool call.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(options...)

	sdkMessages, systemPrompt, err := ProcessMessages(messages)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic: failed to process messages")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(values.StringsCoalesce(opts.Model, o.model)),
		Messages:  sdkMessages,
		MaxTokens: values.NumbersCoalesce(int64(opts.MaxTokens), DefaultMaxTokens),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = anthropic.Float(opts.TopP)
	}
	if len(opts.StopWords) > 0 {
		params.StopSequences = opts.StopWords
	}
	if len(opts.Tools) > 0 {
		params.Tools, err = ToTools(opts.Tools)
		if err != nil {
			return nil, err
		}
		params.ToolChoice = toolChoice(opts.ToolChoice)
	}

	result, err := o.client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic: failed to create message")
	}
	if len(result.Content) == 0 {
		return nil, errors.WithStack(ErrEmptyResponse)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"model", result.Model,
		"stop_reason", result.StopReason,
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
	)

	choice := &llms.ContentChoice{
		StopReason: string(result.StopReason),
		GenerationInfo: map[string]any{
			"InputTokens":  result.Usage.InputTokens,
			"OutputTokens": result.Usage.OutputTokens,
			"TotalTokens":  result.Usage.InputTokens + result.Usage.OutputTokens,
			"ID":           result.ID,
		},
	}

	var texts []string
	for _, block := range result.Content {
		switch content := block.AsAny().(type) {
		case anthropic.TextBlock:
			texts = append(texts, content.Text)
		case anthropic.ToolUseBlock:
			args, err := json.Marshal(content.Input)
			if err != nil {
				return nil, errors.Wrap(err, "anthropic: failed to marshal tool use arguments")
			}
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:   content.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      content.Name,
					Arguments: string(args),
				},
			})
		default:
			return nil, errors.WithMessagef(ErrUnsupportedContentType, "anthropic: %T", content)
		}
	}
	choice.Content = strings.Join(texts, "\n")

	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{choice},
	}, nil
}

func toolChoice(choice string) anthropic.ToolChoiceUnionParam {
	switch choice {
	case "required", "any":
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	case "none":
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	default:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}
}

// ToTools converts LLM tool definitions to Anthropic SDK tool parameters.
//
// The properties of the JSON schema are copied from the ordered map
// in declaration order.
func ToTools(tools []llms.Tool) ([]anthropic.ToolUnionParam, error) {
	sdkTools := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		if tool.Type != "function" || tool.Function == nil {
			return nil, errors.Newf("anthropic: tool type %v not supported", tool.Type)
		}

		properties := map[string]any{}
		var required []string
		if params := tool.Function.Parameters; params != nil {
			if params.Properties != nil {
				for pair := params.Properties.Oldest(); pair != nil; pair = pair.Next() {
					properties[pair.Key] = pair.Value
				}
			}
			required = params.Required
		}

		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: properties,
		}
		if len(required) > 0 {
			inputSchema.Required = required
		}

		param := &anthropic.ToolParam{
			Name:        tool.Function.Name,
			InputSchema: inputSchema,
		}
		if tool.Function.Description != "" {
			param.Description = anthropic.String(tool.Function.Description)
		}
		sdkTools = append(sdkTools, anthropic.ToolUnionParam{OfTool: param})
	}
	return sdkTools, nil
}

// ProcessMessages converts the history to Anthropic SDK message parameters.
//
// System messages are returned as a separate system prompt.
// Consecutive tool messages are merged into one user message,
// the Messages API requires the roles to alternate.
func ProcessMessages(messages []llms.Message) ([]anthropic.MessageParam, string, error) {
	chatMessages := make([]anthropic.MessageParam, 0, len(messages))
	var system []string
	lastTool := false
	for _, msg := range messages {
		if len(msg.Parts) == 0 {
			continue
		}
		isTool := false
		switch msg.Role {
		case llms.RoleSystem:
			content, err := HandleSystemMessage(msg)
			if err != nil {
				return nil, "", errors.Wrap(err, "anthropic: failed to handle system message")
			}
			system = append(system, content)
		case llms.RoleHuman:
			chatMessage, err := HandleHumanMessage(msg)
			if err != nil {
				return nil, "", errors.Wrap(err, "anthropic: failed to handle human message")
			}
			chatMessages = append(chatMessages, chatMessage)
		case llms.RoleAI:
			chatMessage, err := HandleAIMessage(msg)
			if err != nil {
				return nil, "", errors.Wrap(err, "anthropic: failed to handle AI message")
			}
			chatMessages = append(chatMessages, chatMessage)
		case llms.RoleTool:
			chatMessage, err := HandleToolMessage(msg)
			if err != nil {
				return nil, "", errors.WithMessage(err, "anthropic: failed to handle tool message")
			}
			if lastTool {
				last := &chatMessages[len(chatMessages)-1]
				last.Content = append(last.Content, chatMessage.Content...)
			} else {
				chatMessages = append(chatMessages, chatMessage)
			}
			isTool = true
		default:
			return nil, "", errors.WithMessagef(ErrUnsupportedMessageType, "anthropic: %v", msg.Role)
		}
		lastTool = isTool
	}
	return chatMessages, strings.Join(system, "\n"), nil
}

// HandleSystemMessage extracts text content from system messages.
func HandleSystemMessage(msg llms.Message) (string, error) {
	if textContent, ok := msg.Parts[0].(llms.TextContent); ok {
		return textContent.Text, nil
	}
	return "", errors.WithMessagef(ErrInvalidContentType, "anthropic: for system message")
}

// HandleHumanMessage converts human messages to Anthropic user message format.
func HandleHumanMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			contents = append(contents, anthropic.NewTextBlock(p.Text))
		default:
			return anthropic.MessageParam{}, errors.Errorf("anthropic: unsupported human message part type: %T", part)
		}
	}
	return anthropic.NewUserMessage(contents...), nil
}

// HandleAIMessage converts AI assistant messages to Anthropic assistant message format.
//
// Tool call arguments are validated as proper JSON before conversion.
func HandleAIMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.ToolCall:
			if p.FunctionCall == nil {
				return anthropic.MessageParam{}, errors.Errorf("anthropic: tool call %s has no function", p.ID)
			}
			var input json.RawMessage
			if err := json.Unmarshal([]byte(values.StringsCoalesce(p.FunctionCall.Arguments, "{}")), &input); err != nil {
				return anthropic.MessageParam{}, errors.Wrap(err, "anthropic: failed to unmarshal tool call arguments")
			}
			contents = append(contents, anthropic.NewToolUseBlock(p.ID, input, p.FunctionCall.Name))
		case llms.TextContent:
			if p.Text != "" {
				contents = append(contents, anthropic.NewTextBlock(p.Text))
			}
		default:
			return anthropic.MessageParam{}, errors.Errorf("anthropic: unsupported AI message part type: %T", part)
		}
	}

	if len(contents) == 0 {
		return anthropic.MessageParam{}, errors.New("anthropic: no valid content in AI message")
	}
	return anthropic.NewAssistantMessage(contents...), nil
}

// HandleToolMessage converts tool response messages to Anthropic user message format.
// Tool responses are sent as user messages containing tool result blocks.
func HandleToolMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion
	for _, part := range msg.Parts {
		resp, ok := part.(llms.ToolCallResponse)
		if !ok {
			return anthropic.MessageParam{}, errors.WithMessagef(ErrInvalidContentType, "anthropic: for tool message part type: %T", part)
		}
		contents = append(contents, anthropic.NewToolResultBlock(resp.ToolCallID, resp.Content, false))
	}
	return anthropic.NewUserMessage(contents...), nil
}
