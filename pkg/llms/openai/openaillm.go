package openai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sqlagent/pkg/llms", "openai")

var (
	// ErrEmptyResponse is returned when the API returned no choices
	ErrEmptyResponse = errors.New("no response")
	// ErrMissingModel is returned when no model or deployment is configured
	ErrMissingModel = errors.New("missing the model or deployment name")
	// ErrMissingEndpoint is returned when Azure is selected without an endpoint
	ErrMissingEndpoint = errors.New("missing the Azure OpenAI endpoint")
)

// LLM is a chat model served by the OpenAI or Azure OpenAI Chat Completions API.
type LLM struct {
	client   openai.Client
	model    string
	provider llms.ProviderType
}

var _ llms.Model = (*LLM)(nil)

// New returns a new OpenAI LLM.
func New(opts ...Option) (*LLM, error) {
	o := &options{
		provider:   llms.ProviderOpenAI,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.model == "" {
		return nil, errors.WithStack(ErrMissingModel)
	}

	reqOpts := []option.RequestOption{
		option.WithMaxRetries(o.maxRetries),
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}

	switch o.provider {
	case llms.ProviderAzure:
		if o.baseURL == "" {
			return nil, errors.WithStack(ErrMissingEndpoint)
		}
		reqOpts = append(reqOpts,
			azure.WithEndpoint(o.baseURL, values.StringsCoalesce(o.apiVersion, DefaultAPIVersion)),
			azure.WithAPIKey(o.token),
		)
	case llms.ProviderOpenAI:
		if o.baseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
		}
		if o.token != "" {
			reqOpts = append(reqOpts, option.WithAPIKey(o.token))
		}
	default:
		return nil, errors.Newf("provider %s not supported", o.provider)
	}

	return &LLM{
		client:   openai.NewClient(reqOpts...),
		model:    o.model,
		provider: o.provider,
	}, nil
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return o.provider
}

// GenerateContent implements the Model interface.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(options...)

	chatMsgs, err := toChatMessages(messages)
	if err != nil {
		return nil, err
	}

	req := openai.ChatCompletionNewParams{
		Model:    values.StringsCoalesce(opts.Model, o.model),
		Messages: chatMsgs,
	}
	if opts.Temperature > 0 {
		req.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		req.TopP = openai.Float(opts.TopP)
	}
	if opts.MaxTokens > 0 {
		req.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Seed != 0 {
		req.Seed = openai.Int(int64(opts.Seed))
	}
	if len(opts.StopWords) > 0 {
		req.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.StopWords}
	}
	if opts.ToolChoice != "" {
		req.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(opts.ToolChoice)}
	}
	if len(opts.Metadata) > 0 {
		req.Metadata = opts.Metadata
	}
	for _, tool := range opts.Tools {
		t, err := toolFromTool(tool)
		if err != nil {
			return nil, errors.Wrap(err, "failed to convert llms tool to openai tool")
		}
		req.Tools = append(req.Tools, t)
	}

	result, err := o.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chat completion")
	}
	if len(result.Choices) == 0 {
		return nil, errors.WithStack(ErrEmptyResponse)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"model", result.Model,
		"choices", len(result.Choices),
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
	)

	choices := make([]*llms.ContentChoice, len(result.Choices))
	for i, c := range result.Choices {
		choices[i] = &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: c.FinishReason,
			GenerationInfo: map[string]any{
				"InputTokens":  result.Usage.PromptTokens,
				"OutputTokens": result.Usage.CompletionTokens,
				"TotalTokens":  result.Usage.TotalTokens,
			},
		}
		for _, tc := range c.Message.ToolCalls {
			choices[i].ToolCalls = append(choices[i].ToolCalls, llms.ToolCall{
				ID:   tc.ID,
				Type: values.StringsCoalesce(tc.Type, "function"),
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
	}
	return &llms.ContentResponse{Choices: choices}, nil
}

// toChatMessages converts the history to the Chat Completions messages.
// A tool message carries one ToolCallResponse part per call.
func toChatMessages(messages []llms.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	chatMsgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, mc := range messages {
		text, toolCalls, toolResponses := splitParts(mc)
		switch mc.Role {
		case llms.RoleSystem:
			chatMsgs = append(chatMsgs, openai.SystemMessage(text))
		case llms.RoleHuman:
			chatMsgs = append(chatMsgs, openai.UserMessage(text))
		case llms.RoleAI:
			if len(toolCalls) == 0 {
				chatMsgs = append(chatMsgs, openai.AssistantMessage(text))
				continue
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{}
			if text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			for _, tc := range toolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.FunctionCall.Name,
							Arguments: tc.FunctionCall.Arguments,
						},
					},
				})
			}
			chatMsgs = append(chatMsgs, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case llms.RoleTool:
			if len(toolResponses) == 0 {
				return nil, errors.Newf("expected tool responses for role %v", mc.Role)
			}
			for _, tr := range toolResponses {
				chatMsgs = append(chatMsgs, openai.ToolMessage(tr.Content, tr.ToolCallID))
			}
		default:
			return nil, errors.Newf("role %v not supported", mc.Role)
		}
	}
	return chatMsgs, nil
}

func splitParts(mc llms.Message) (string, []llms.ToolCall, []llms.ToolCallResponse) {
	var texts []string
	var toolCalls []llms.ToolCall
	var toolResponses []llms.ToolCallResponse
	for _, part := range mc.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			texts = append(texts, p.Text)
		case llms.ToolCall:
			if p.FunctionCall != nil {
				toolCalls = append(toolCalls, p)
			}
		case llms.ToolCallResponse:
			toolResponses = append(toolResponses, p)
		}
	}
	return strings.Join(texts, "\n"), toolCalls, toolResponses
}

// toolFromTool converts an llms.Tool to a function tool.
func toolFromTool(t llms.Tool) (openai.ChatCompletionToolUnionParam, error) {
	if t.Type != "function" || t.Function == nil {
		return openai.ChatCompletionToolUnionParam{}, errors.Newf("tool type %v not supported", t.Type)
	}
	params, err := schemaToParameters(t.Function)
	if err != nil {
		return openai.ChatCompletionToolUnionParam{}, err
	}
	def := openai.FunctionDefinitionParam{
		Name:       t.Function.Name,
		Parameters: params,
	}
	if t.Function.Description != "" {
		def.Description = openai.String(t.Function.Description)
	}
	if t.Function.Strict {
		def.Strict = openai.Bool(true)
	}
	return openai.ChatCompletionFunctionTool(def), nil
}

func schemaToParameters(fn *llms.FunctionDefinition) (openai.FunctionParameters, error) {
	if fn.Parameters == nil {
		return openai.FunctionParameters{"type": "object", "properties": map[string]any{}}, nil
	}
	js, err := json.Marshal(fn.Parameters)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid parameters of %s", fn.Name)
	}
	var params openai.FunctionParameters
	if err = json.Unmarshal(js, &params); err != nil {
		return nil, errors.Wrapf(err, "invalid parameters of %s", fn.Name)
	}
	return params, nil
}
