package llmfactory

import (
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/effective-security/sqlagent/pkg/llms/anthropic"
	"github.com/effective-security/sqlagent/pkg/llms/openai"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sqlagent/pkg", "llmfactory")

// NewLLM is a wrapper for CreateLLM to allow for overriding the default implementation.
var NewLLM = CreateLLM

// Factory is the interface for creating and managing LLM models.
type Factory interface {
	// DefaultModel returns the default LLM model.
	DefaultModel() (llms.Model, error)
	// ModelByType returns an LLM model by its type: AZURE, OPENAI or ANTHROPIC
	ModelByType(providerType string) (llms.Model, error)
	// ModelByName returns an LLM model by its name,
	// if the model is not found, it will return the default model.
	ModelByName(preferredModels ...string) (llms.Model, error)
	// AssistantModel returns the model configured for the assistant.
	AssistantModel(assistantName string, preferredModels ...string) (llms.Model, error)
}

// Load returns a factory configured from the file
func Load(location string) (Factory, error) {
	cfg, err := LoadConfig(location)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

type factory struct {
	cfg *Config

	defaultProvider *ProviderConfig
	assistantModels map[string][]string
	byType          map[string]llms.Model
	byName          map[string]llms.Model
	lock            sync.Mutex
}

// New creates a new LLM factory
func New(cfg *Config) Factory {
	f := &factory{
		cfg:             cfg,
		byType:          make(map[string]llms.Model),
		byName:          make(map[string]llms.Model),
		assistantModels: make(map[string][]string),
	}

	for k, v := range cfg.AssistantModels {
		f.assistantModels[k] = slices.Clone(v)
	}

	if cfg.DefaultProvider != "" {
		for _, provider := range cfg.Providers {
			if provider.Name == cfg.DefaultProvider {
				f.defaultProvider = provider
				break
			}
		}
	}
	if f.defaultProvider == nil && len(f.cfg.Providers) > 0 {
		f.defaultProvider = f.cfg.Providers[0]
	}
	return f
}

// ProviderType returns the normalized provider type of the configuration,
// AZURE when none is set.
func ProviderType(cfg *ProviderConfig) llms.ProviderType {
	return normalizeType(cfg.OpenAI.APIType)
}

func normalizeType(apiType string) llms.ProviderType {
	switch typ := strings.ToUpper(apiType); typ {
	case "", "AZURE", "AZURE_AD":
		return llms.ProviderAzure
	case "OPEN_AI":
		return llms.ProviderOpenAI
	default:
		return llms.ProviderType(typ)
	}
}

// CreateLLM creates the model of the provider,
// preferring the first of preferredModels the provider serves.
func CreateLLM(cfg *ProviderConfig, preferredModels ...string) (llms.Model, error) {
	switch provType := ProviderType(cfg); provType {
	case llms.ProviderAzure, llms.ProviderOpenAI:
		return newOpenAI(provType, cfg, preferredModels...)
	case llms.ProviderAnthropic:
		return newAnthropic(cfg, preferredModels...)
	default:
		return nil, errors.Errorf("unsupported provider type: %s", provType)
	}
}

func newOpenAI(provType llms.ProviderType, cfg *ProviderConfig, preferredModels ...string) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithProvider(provType),
		openai.WithModel(cfg.FindModel(preferredModels...)),
	}
	if cfg.Token != "" {
		opts = append(opts, openai.WithToken(cfg.Token))
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	if cfg.OpenAI.APIVersion != "" {
		opts = append(opts, openai.WithAPIVersion(cfg.OpenAI.APIVersion))
	}
	if cfg.OpenAI.MaxRetries != nil {
		opts = append(opts, openai.WithMaxRetries(*cfg.OpenAI.MaxRetries))
	}
	return openai.New(opts...)
}

func newAnthropic(cfg *ProviderConfig, preferredModels ...string) (llms.Model, error) {
	opts := []anthropic.Option{
		anthropic.WithModel(cfg.FindModel(preferredModels...)),
	}
	if cfg.Token != "" {
		opts = append(opts, anthropic.WithToken(cfg.Token))
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	if cfg.OpenAI.MaxRetries != nil {
		opts = append(opts, anthropic.WithMaxRetries(*cfg.OpenAI.MaxRetries))
	}
	return anthropic.New(opts...)
}

// DefaultModel returns the default model of the default provider
func (f *factory) DefaultModel() (llms.Model, error) {
	if f.defaultProvider == nil {
		return nil, errors.New("no providers configured")
	}
	return f.ModelByName(f.defaultProvider.DefaultModel)
}

func (f *factory) ModelByType(providerType string) (llms.Model, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if client, ok := f.byType[providerType]; ok {
		return client, nil
	}

	for _, cfg := range f.cfg.Providers {
		if ProviderType(cfg) == normalizeType(providerType) {
			model, err := NewLLM(cfg)
			if err != nil {
				return nil, err
			}

			logger.KV(xlog.DEBUG,
				"status", "created_llm",
				"type", cfg.OpenAI.APIType,
				"version", cfg.OpenAI.APIVersion,
				"name", cfg.Name)

			f.byType[providerType] = model
			return model, nil
		}
	}
	return nil, errors.Errorf("provider not found for type: %s", providerType)
}

func (f *factory) ModelByName(modelNames ...string) (llms.Model, error) {
	f.lock.Lock()

	for _, modelName := range modelNames {
		if client, ok := f.byName[modelName]; ok {
			f.lock.Unlock()
			return client, nil
		}

		for _, cfg := range f.cfg.Providers {
			if slices.Contains(cfg.AvailableModels, modelName) || cfg.DefaultModel == modelName {
				model, err := NewLLM(cfg, modelName)
				if err != nil {
					logger.KV(xlog.ERROR,
						"reason", "NewLLM",
						"type", cfg.OpenAI.APIType,
						"model", modelName,
						"err", err.Error(),
					)
					continue
				}

				logger.KV(xlog.DEBUG,
					"status", "created_llm",
					"type", cfg.OpenAI.APIType,
					"version", cfg.OpenAI.APIVersion,
					"name", cfg.Name,
					"model", modelName)

				f.byName[modelName] = model
				f.lock.Unlock()
				return model, nil
			}
		}
	}
	f.lock.Unlock()

	if f.defaultProvider == nil {
		return nil, errors.New("no providers configured")
	}
	if slices.Contains(modelNames, f.defaultProvider.DefaultModel) {
		return nil, errors.Errorf("failed to create default model %q", f.defaultProvider.DefaultModel)
	}
	return f.DefaultModel()
}

// AssistantModel returns the model configured for the assistant.
func (f *factory) AssistantModel(assistantName string, preferredModels ...string) (llms.Model, error) {
	if modelNames, ok := f.assistantModels[assistantName]; ok {
		return f.ModelByName(modelNames...)
	}
	if modelNames, ok := f.assistantModels["default"]; ok {
		return f.ModelByName(modelNames...)
	}
	return f.ModelByName(preferredModels...)
}
