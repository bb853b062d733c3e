package llms

import (
	"context"
)

//go:generate mockgen -source=llms.go -destination=../../mocks/mockllms/llm_mock.gen.go -package mockllms

// ProviderType is the type of provider.
type ProviderType string

const (
	// ProviderAnthropic is the type of provider.
	ProviderAnthropic ProviderType = "ANTHROPIC"
	// ProviderAzure is the type of provider.
	ProviderAzure ProviderType = "AZURE"
	// ProviderOpenAI is the type of provider.
	ProviderOpenAI ProviderType = "OPENAI"
)

// Model is the request/response contract of a chat model.
type Model interface {
	// GetName returns the model or deployment name.
	GetName() string
	// GetProviderType returns the type of provider.
	GetProviderType() ProviderType
	// GenerateContent asks the model to generate the next message
	// for the given message history.
	GenerateContent(ctx context.Context, messages []Message, options ...CallOption) (*ContentResponse, error)
}

// Capability is a bitmask indicating supported features of an LLM provider.
type Capability uint64

const (
	// CapabilityText is basic text or chat generation
	CapabilityText Capability = 1 << iota
	// CapabilityFunctionCalling is function/tool calling
	CapabilityFunctionCalling
	// CapabilityMultiToolCalling allows several tool calls in one response
	CapabilityMultiToolCalling
	// CapabilitySystemPrompt is system prompt support
	CapabilitySystemPrompt
)

var providerCapabilities = map[ProviderType]Capability{
	ProviderOpenAI: CapabilityText |
		CapabilityFunctionCalling |
		CapabilityMultiToolCalling |
		CapabilitySystemPrompt,

	ProviderAzure: CapabilityText |
		CapabilityFunctionCalling |
		CapabilityMultiToolCalling |
		CapabilitySystemPrompt,

	ProviderAnthropic: CapabilityText |
		CapabilityFunctionCalling |
		CapabilityMultiToolCalling |
		CapabilitySystemPrompt,
}

// ProviderCapabilities returns the capabilities of the provider.
func ProviderCapabilities(pt ProviderType) Capability {
	return providerCapabilities[pt]
}

// Supports returns true if the provider supports all of cap.
func (p ProviderType) Supports(cap Capability) bool {
	return ProviderCapabilities(p)&cap == cap
}
