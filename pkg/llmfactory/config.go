package llmfactory

import (
	"slices"

	"github.com/effective-security/x/configloader"
)

type Config struct {
	// Providers specifies the list of providers to use
	Providers []*ProviderConfig `json:"providers" yaml:"providers" toml:"providers"`
	// DefaultProvider specifies the default provider to use
	DefaultProvider string `json:"default_provider" yaml:"default_provider" toml:"default_provider"`
	// AssistantModels specifies the mapping of assistants to models.
	// key is the assistant name, value is the model name.
	// Use `default: <model_name>` as the default model for assistants.
	AssistantModels map[string][]string `json:"assistant_models" yaml:"assistant_models" toml:"assistant_models"`
}

// ProviderConfig for a chat model provider
type ProviderConfig struct {
	Name            string       `json:"name" yaml:"name" toml:"name"`
	Token           string       `json:"token,omitempty" yaml:"token,omitempty" toml:"token"`
	DefaultModel    string       `json:"default_model,omitempty" yaml:"default_model,omitempty" toml:"default_model"`
	AvailableModels []string     `json:"available_models,omitempty" yaml:"available_models,omitempty" toml:"available_models"`
	OpenAI          OpenAIConfig `json:"open_ai" yaml:"open_ai" toml:"open_ai"`
}

// OpenAIConfig specifies options config
type OpenAIConfig struct {
	BaseURL    string `json:"base_url,omitempty" yaml:"base_url,omitempty" toml:"base_url"`
	APIVersion string `json:"api_version,omitempty" yaml:"api_version,omitempty" toml:"api_version"`
	// APIType specifies the type of API to use:
	// AZURE|OPENAI|ANTHROPIC
	APIType string `json:"api_type,omitempty" yaml:"api_type,omitempty" toml:"api_type"`
	// MaxRetries is the number of SDK retries of a failed request
	MaxRetries *int `json:"max_retries,omitempty" yaml:"max_retries,omitempty" toml:"max_retries"`
}

// FindModel returns the first of models served by the provider,
// or the provider's default model.
func (c *ProviderConfig) FindModel(models ...string) string {
	for _, model := range models {
		if slices.Contains(c.AvailableModels, model) {
			return model
		}
	}
	return c.DefaultModel
}

// LoadConfig from file
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}

	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
