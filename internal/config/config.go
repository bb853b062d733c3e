// Package config provides the configuration of the sqlagent pipeline.
//
// The configuration is built in layers: defaults, an optional YAML, JSON or
// TOML file, then the environment variables of the Azure deployment.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/archive"
	"github.com/effective-security/sqlagent/pkg/llmfactory"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/sqlagent/pkg/sanitize"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/go-playground/validator/v10"
)

// ErrConfiguration is returned when the configuration is incomplete or invalid
var ErrConfiguration = errors.New("configuration error")

// Environment variables
const (
	EnvEndpoint       = "AZURE_FUNC_URI"
	EnvDeployment     = "AZURE_OPENAI_DEPLOYMENT"
	EnvAPIVersion     = "AZURE_OPENAI_API_VERSION"
	EnvOpenAIEndpoint = "AZURE_OPENAI_ENDPOINT"
	EnvOpenAIKey      = "AZURE_OPENAI_API_KEY" //nolint:gosec
)

const (
	DefaultEndpoint    = "http://localhost:3000/mcp"
	DefaultLogsDir     = "logs"
	DefaultAgentName   = "sql_agent"
	DefaultProviderKey = "azure"
)

// Config of the pipeline
type Config struct {
	// Endpoint is the MCP tool server URL, it may carry a shared secret
	Endpoint string `json:"endpoint" yaml:"endpoint" toml:"endpoint" validate:"required,url"`
	// Question is asked when none is given on the command line
	Question string `json:"question,omitempty" yaml:"question,omitempty" toml:"question"`
	// Kind is the result kind used in the result file name
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty" toml:"kind"`
	// PromptFile overrides the built-in system prompt
	PromptFile string `json:"prompt_file,omitempty" yaml:"prompt_file,omitempty" toml:"prompt_file"`
	// LogsDir is the folder of the per-process log file
	LogsDir string `json:"logs_dir" yaml:"logs_dir" toml:"logs_dir" validate:"required"`
	// ResultsDir is the folder of the result documents
	ResultsDir string `json:"results_dir" yaml:"results_dir" toml:"results_dir" validate:"required"`
	// Debug enables debug logs
	Debug bool `json:"debug,omitempty" yaml:"debug,omitempty" toml:"debug"`
	// RedactRules are added to the default redaction rules
	RedactRules []string `json:"redact_rules,omitempty" yaml:"redact_rules,omitempty" toml:"redact_rules"`

	Agent AgentConfig `json:"agent" yaml:"agent" toml:"agent"`
	MCP   MCPConfig   `json:"mcp" yaml:"mcp" toml:"mcp"`
	Azure AzureConfig `json:"azure" yaml:"azure" toml:"azure"`
	// LLM configures the model providers, when empty
	// the provider is built from the Azure section
	LLM llmfactory.Config `json:"llm" yaml:"llm" toml:"llm"`
}

// AgentConfig provides the agent loop settings
type AgentConfig struct {
	Name          string  `json:"name,omitempty" yaml:"name,omitempty" toml:"name"`
	MaxIterations int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty" toml:"max_iterations" validate:"gte=0"`
	MaxToolCalls  int     `json:"max_tool_calls,omitempty" yaml:"max_tool_calls,omitempty" toml:"max_tool_calls" validate:"gte=0"`
	MaxTokens     int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" toml:"max_tokens" validate:"gte=0"`
	Temperature   float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" toml:"temperature" validate:"gte=0,lte=2"`
}

// MCPConfig provides the tool server session settings
type MCPConfig struct {
	// Timeout is the per request timeout, as a duration string
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout"`
	// Headers are added to every request
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers"`
	// ClientName is reported in the handshake
	ClientName string `json:"client_name,omitempty" yaml:"client_name,omitempty" toml:"client_name"`
}

// AzureConfig provides the Azure OpenAI deployment
type AzureConfig struct {
	Deployment string `json:"deployment" yaml:"deployment" toml:"deployment" validate:"required"`
	APIVersion string `json:"api_version" yaml:"api_version" toml:"api_version" validate:"required"`
	Endpoint   string `json:"endpoint" yaml:"endpoint" toml:"endpoint" validate:"required,url"`
	APIKey     string `json:"api_key,omitempty" yaml:"api_key,omitempty" toml:"api_key"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Endpoint:   DefaultEndpoint,
		Kind:       "sql",
		LogsDir:    DefaultLogsDir,
		ResultsDir: archive.DefaultDir,
		Agent: AgentConfig{
			Name: DefaultAgentName,
		},
	}
}

// Load returns the configuration from the optional file,
// with the environment applied on top.
// The configuration is not validated.
func Load(file string) (*Config, error) {
	cfg := Default()
	if file != "" {
		if err := decodeFile(file, cfg); err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "unable to load configuration %s", file), ErrConfiguration)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

func decodeFile(file string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(file), ".toml") {
		raw, err := os.ReadFile(file)
		if err != nil {
			return errors.WithStack(err)
		}
		_, err = toml.Decode(os.ExpandEnv(string(raw)), cfg)
		return errors.WithStack(err)
	}
	return configloader.UnmarshalAndExpand(file, cfg)
}

// ApplyEnv overrides the configuration with the set environment variables
func (c *Config) ApplyEnv(getenv func(string) string) {
	c.Endpoint = values.StringsCoalesce(getenv(EnvEndpoint), c.Endpoint)
	c.Azure.Deployment = values.StringsCoalesce(getenv(EnvDeployment), c.Azure.Deployment)
	c.Azure.APIVersion = values.StringsCoalesce(getenv(EnvAPIVersion), c.Azure.APIVersion)
	c.Azure.Endpoint = values.StringsCoalesce(getenv(EnvOpenAIEndpoint), c.Azure.Endpoint)
	c.Azure.APIKey = values.StringsCoalesce(getenv(EnvOpenAIKey), c.Azure.APIKey)
}

// Validate returns ErrConfiguration when a required value is missing.
// The Azure section is required only when no LLM providers are configured.
func (c *Config) Validate() error {
	validate := validator.New()
	// the Azure section is checked on its own below
	if err := validate.Struct(c); err != nil && !onlyAzure(err) {
		return errors.Mark(errors.Wrap(err, "invalid configuration"), ErrConfiguration)
	}
	if len(c.LLM.Providers) == 0 {
		if err := validate.Struct(&c.Azure); err != nil {
			return errors.Mark(errors.Wrapf(err, "set %s, %s and %s", EnvDeployment, EnvAPIVersion, EnvOpenAIEndpoint), ErrConfiguration)
		}
	}
	if _, err := c.MCPTimeout(); err != nil {
		return errors.Mark(err, ErrConfiguration)
	}
	return nil
}

// onlyAzure returns true when all the validation errors are in the Azure section
func onlyAzure(err error) bool {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	for _, fe := range verrs {
		if !strings.HasPrefix(fe.Namespace(), "Config.Azure.") {
			return false
		}
	}
	return true
}

// MCPTimeout returns the per request timeout of the tool server session
func (c *Config) MCPTimeout() (time.Duration, error) {
	if c.MCP.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.MCP.Timeout)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid mcp.timeout")
	}
	return d, nil
}

// Providers returns the LLM providers configuration:
// the configured providers, or the Azure deployment.
func (c *Config) Providers() *llmfactory.Config {
	if len(c.LLM.Providers) > 0 {
		return &c.LLM
	}
	return &llmfactory.Config{
		DefaultProvider: DefaultProviderKey,
		Providers: []*llmfactory.ProviderConfig{
			{
				Name:         DefaultProviderKey,
				Token:        c.Azure.APIKey,
				DefaultModel: c.Azure.Deployment,
				OpenAI: llmfactory.OpenAIConfig{
					APIType:    string(llms.ProviderAzure),
					APIVersion: c.Azure.APIVersion,
					BaseURL:    c.Azure.Endpoint,
				},
			},
		},
	}
}

// Masked returns a copy of the configuration safe to print
func (c *Config) Masked() *Config {
	m := *c
	m.Endpoint = sanitize.URL(c.Endpoint)
	m.Azure.Endpoint = sanitize.URL(c.Azure.Endpoint)
	m.Azure.APIKey = mask(c.Azure.APIKey)
	m.MCP.Headers = nil
	if len(c.MCP.Headers) > 0 {
		m.MCP.Headers = make(map[string]string, len(c.MCP.Headers))
		for k, v := range c.MCP.Headers {
			m.MCP.Headers[k] = mask(v)
		}
	}
	m.LLM.Providers = nil
	for _, p := range c.LLM.Providers {
		cp := *p
		cp.Token = mask(p.Token)
		cp.OpenAI.BaseURL = sanitize.URL(p.OpenAI.BaseURL)
		m.LLM.Providers = append(m.LLM.Providers, &cp)
	}
	return &m
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
