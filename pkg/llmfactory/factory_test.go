package llmfactory_test

import (
	"context"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sqlagent/pkg/llmfactory"
	"github.com/effective-security/sqlagent/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	provider string
	model    string
}

func (f *fakeLLM) GetName() string {
	return f.model
}

func (f *fakeLLM) GetProviderType() llms.ProviderType {
	return llms.ProviderType(f.provider)
}

func (f *fakeLLM) GenerateContent(context.Context, []llms.Message, ...llms.CallOption) (*llms.ContentResponse, error) {
	return nil, nil
}

func useFake(t *testing.T) *int {
	created := 0
	llmfactory.NewLLM = func(cfg *llmfactory.ProviderConfig, preferredModels ...string) (llms.Model, error) {
		created++
		return &fakeLLM{provider: cfg.Name, model: cfg.FindModel(preferredModels...)}, nil
	}
	t.Cleanup(func() {
		llmfactory.NewLLM = llmfactory.CreateLLM
	})
	return &created
}

func Test_Factory(t *testing.T) {
	created := useFake(t)

	f, err := llmfactory.Load("testdata/llm.yaml")
	require.NoError(t, err)

	model, err := f.DefaultModel()
	require.NoError(t, err)
	fm := model.(*fakeLLM)
	assert.Equal(t, "gpt-4o", fm.model)
	assert.Equal(t, "azure", fm.provider)

	model, err = f.ModelByName("gpt-4.1-mini")
	require.NoError(t, err)
	fm = model.(*fakeLLM)
	assert.Equal(t, "gpt-4.1-mini", fm.model)
	assert.Equal(t, "openai", fm.provider)

	model, err = f.ModelByName("unknown", "claude-sonnet-4-5")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", model.(*fakeLLM).provider)

	// unknown models fall back to the default
	model, err = f.ModelByName("non-existent-model")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", model.(*fakeLLM).model)

	model, err = f.ModelByType("ANTHROPIC")
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4-5", model.(*fakeLLM).model)

	model, err = f.ModelByType("OPEN_AI")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", model.(*fakeLLM).model)

	model, err = f.AssistantModel("sql_agent")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", model.(*fakeLLM).model)

	model, err = f.AssistantModel("other", "gpt-4.1")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", model.(*fakeLLM).model)

	_, err = f.ModelByType("BEDROCK")
	assert.EqualError(t, err, "provider not found for type: BEDROCK")

	// cached instances
	before := *created
	_, err = f.ModelByName("gpt-4.1-mini")
	require.NoError(t, err)
	_, err = f.ModelByType("ANTHROPIC")
	require.NoError(t, err)
	assert.Equal(t, before, *created)
}

func Test_DefaultProviderFallback(t *testing.T) {
	useFake(t)

	cfg, err := llmfactory.LoadConfig("testdata/llm.yaml")
	require.NoError(t, err)
	cfg.DefaultProvider = "non-existent"

	model, err := llmfactory.New(cfg).DefaultModel()
	require.NoError(t, err)
	assert.Equal(t, "azure", model.(*fakeLLM).provider)
}

func Test_EmptyConfig(t *testing.T) {
	t.Parallel()

	f := llmfactory.New(&llmfactory.Config{})

	_, err := f.DefaultModel()
	assert.EqualError(t, err, "no providers configured")

	_, err = f.ModelByType("AZURE")
	assert.EqualError(t, err, "provider not found for type: AZURE")

	_, err = f.ModelByName("gpt-4")
	assert.EqualError(t, err, "no providers configured")

	_, err = f.AssistantModel("sql_agent")
	assert.EqualError(t, err, "no providers configured")
}

func Test_DefaultModelFailure(t *testing.T) {
	llmfactory.NewLLM = func(*llmfactory.ProviderConfig, ...string) (llms.Model, error) {
		return nil, errors.New("boom")
	}
	t.Cleanup(func() {
		llmfactory.NewLLM = llmfactory.CreateLLM
	})

	f := llmfactory.New(&llmfactory.Config{Providers: []*llmfactory.ProviderConfig{{Name: "azure", DefaultModel: "gpt-4o"}}})
	_, err := f.DefaultModel()
	assert.EqualError(t, err, `failed to create default model "gpt-4o"`)
}

func Test_LoadConfig(t *testing.T) {
	t.Parallel()

	cfg, err := llmfactory.LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers)

	_, err = llmfactory.LoadConfig("testdata/non-existent.yaml")
	require.Error(t, err)

	_, err = llmfactory.LoadConfig("testdata/invalid.yaml")
	require.Error(t, err)

	_, err = llmfactory.Load("testdata/non-existent.yaml")
	require.Error(t, err)
}

func Test_CreateLLM(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	cfg := &llmfactory.ProviderConfig{
		Name:            "azure",
		Token:           "key",
		DefaultModel:    "gpt-4o",
		AvailableModels: []string{"gpt-4o", "gpt-4o-mini"},
		OpenAI: llmfactory.OpenAIConfig{
			BaseURL:    "https://example.openai.azure.com",
			APIVersion: "2024-10-21",
		},
	}
	model, err := llmfactory.CreateLLM(cfg, "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", model.GetName())
	assert.Equal(t, llms.ProviderAzure, model.GetProviderType())

	retries := 0
	cfg.OpenAI = llmfactory.OpenAIConfig{APIType: "open_ai", MaxRetries: &retries}
	model, err = llmfactory.CreateLLM(cfg)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", model.GetName())
	assert.Equal(t, llms.ProviderOpenAI, model.GetProviderType())

	cfg.OpenAI = llmfactory.OpenAIConfig{APIType: "ANTHROPIC"}
	cfg.DefaultModel = "claude-sonnet-4-5"
	model, err = llmfactory.CreateLLM(cfg)
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderAnthropic, model.GetProviderType())

	cfg.Token = ""
	_, err = llmfactory.CreateLLM(cfg)
	assert.Error(t, err)

	cfg.OpenAI = llmfactory.OpenAIConfig{APIType: "GOOGLEAI"}
	_, err = llmfactory.CreateLLM(cfg)
	assert.EqualError(t, err, "unsupported provider type: GOOGLEAI")

	cfg.OpenAI = llmfactory.OpenAIConfig{APIType: "AZURE"}
	_, err = llmfactory.CreateLLM(cfg)
	assert.Error(t, err, "azure requires an endpoint")
}

func Test_ConcurrentAccess(t *testing.T) {
	useFake(t)

	cfg, err := llmfactory.LoadConfig("testdata/llm.yaml")
	require.NoError(t, err)
	f := llmfactory.New(cfg)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			model, err := f.ModelByType("AZURE")
			assert.NoError(t, err)
			assert.NotNil(t, model)
		}()
	}
	wg.Wait()
}
