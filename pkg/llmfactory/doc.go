// Package llmfactory creates chat models from provider configuration.
// AZURE and OPENAI are served by the OpenAI SDK, ANTHROPIC by the Anthropic SDK.
package llmfactory
