package assistants

import (
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/x/values"
)

const (
	// DefaultMaxIterations is the default limit of model turns in one run.
	DefaultMaxIterations = 16
	// DefaultMaxToolCalls is the default limit of tool calls in one run.
	DefaultMaxToolCalls = 32
	// DefaultMaxEmptyRetries is the default number of retries after an empty model response.
	DefaultMaxEmptyRetries = 2
	// DefaultKind is the default kind of the run.
	DefaultKind = "sql"
)

// Option is a function that can be used to modify the behavior of the Agent Config.
type Option func(*Config)

type Config struct {
	// Model is the model to use in an LLM call.
	Model    string
	modelSet bool

	// MaxTokens is the maximum number of tokens to generate to use in an LLM call.
	MaxTokens    int
	maxTokensSet bool

	// Temperature is the temperature for sampling to use in an LLM call, between 0 and 1.
	Temperature    float64
	temperatureSet bool

	// StopWords is a list of words to stop on to use in an LLM call.
	StopWords    []string
	stopWordsSet bool

	// TopP is the cumulative probability for top-p sampling in an LLM call.
	TopP    float64
	toppSet bool

	// Seed is a seed for deterministic sampling in an LLM call.
	Seed    int
	seedSet bool

	// ToolChoice is the choice of tool to use: "none", "auto" or "required".
	ToolChoice    string
	toolChoiceSet bool

	// CallbackHandler receives the events of the run
	CallbackHandler Callback

	//
	// Below are the options for the Agent, not related to LLM call
	//

	// MaxIterations limits the number of model turns
	MaxIterations int
	// MaxToolCalls limits the number of tool calls
	MaxToolCalls int
	// MaxEmptyRetries limits the retries after an empty model response
	MaxEmptyRetries int
	// Kind is recorded in the Run and names the archived result
	Kind string
	// Description of the agent
	Description string
}

func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		MaxEmptyRetries: DefaultMaxEmptyRetries,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.MaxIterations = values.NumbersCoalesce(cfg.MaxIterations, DefaultMaxIterations)
	cfg.MaxToolCalls = values.NumbersCoalesce(cfg.MaxToolCalls, DefaultMaxToolCalls)
	cfg.Kind = values.StringsCoalesce(cfg.Kind, DefaultKind)
	return cfg
}

// WithModel is an option for LLM.Call.
func WithModel(model string) Option {
	return func(o *Config) {
		o.Model = model
		o.modelSet = true
	}
}

// WithMaxTokens is an option for LLM.Call.
func WithMaxTokens(maxTokens int) Option {
	return func(o *Config) {
		o.MaxTokens = maxTokens
		o.maxTokensSet = true
	}
}

// WithTemperature is an option for LLM.Call.
func WithTemperature(temperature float64) Option {
	return func(o *Config) {
		o.Temperature = temperature
		o.temperatureSet = true
	}
}

// WithTopP	will add an option to use top-p sampling for LLM.Call.
func WithTopP(topP float64) Option {
	return func(o *Config) {
		o.TopP = topP
		o.toppSet = true
	}
}

// WithSeed will add an option to use deterministic sampling for LLM.Call.
func WithSeed(seed int) Option {
	return func(o *Config) {
		o.Seed = seed
		o.seedSet = true
	}
}

// WithStopWords is an option for setting the stop words for LLM.Call.
func WithStopWords(stopWords []string) Option {
	return func(o *Config) {
		o.StopWords = stopWords
		o.stopWordsSet = true
	}
}

// WithToolChoice is an option for LLM.Call.
func WithToolChoice(choice string) Option {
	return func(o *Config) {
		o.ToolChoice = choice
		o.toolChoiceSet = true
	}
}

// WithCallback allows setting a custom Callback Handler.
func WithCallback(callbackHandler Callback) Option {
	return func(o *Config) {
		o.CallbackHandler = callbackHandler
	}
}

// WithMaxIterations limits the number of model turns, 0 means default.
func WithMaxIterations(n int) Option {
	return func(o *Config) {
		o.MaxIterations = n
	}
}

// WithMaxToolCalls limits the number of tool calls, 0 means default.
func WithMaxToolCalls(n int) Option {
	return func(o *Config) {
		o.MaxToolCalls = n
	}
}

// WithMaxEmptyRetries sets the number of retries after an empty model response.
func WithMaxEmptyRetries(n int) Option {
	return func(o *Config) {
		o.MaxEmptyRetries = n
	}
}

// WithKind sets the kind recorded in the Run.
func WithKind(kind string) Option {
	return func(o *Config) {
		o.Kind = kind
	}
}

// WithDescription sets the description of the agent.
func WithDescription(description string) Option {
	return func(o *Config) {
		o.Description = description
	}
}

// GetCallOptions returns the LLM call options that were explicitly set.
func (c *Config) GetCallOptions() []llms.CallOption {
	var callOptions []llms.CallOption
	if c.modelSet {
		callOptions = append(callOptions, llms.WithModel(c.Model))
	}
	if c.maxTokensSet {
		callOptions = append(callOptions, llms.WithMaxTokens(c.MaxTokens))
	}
	if c.temperatureSet {
		callOptions = append(callOptions, llms.WithTemperature(c.Temperature))
	}
	if c.stopWordsSet {
		callOptions = append(callOptions, llms.WithStopWords(c.StopWords))
	}
	if c.toppSet {
		callOptions = append(callOptions, llms.WithTopP(c.TopP))
	}
	if c.seedSet {
		callOptions = append(callOptions, llms.WithSeed(c.Seed))
	}
	if c.toolChoiceSet {
		callOptions = append(callOptions, llms.WithToolChoice(c.ToolChoice))
	}
	return callOptions
}
