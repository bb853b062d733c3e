package anthropic

import (
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// TokenEnvVarName is the environment variable with the API key
	TokenEnvVarName = "ANTHROPIC_API_KEY" //nolint:gosec
	// DefaultBaseURL is the Anthropic API endpoint
	DefaultBaseURL = "https://api.anthropic.com"
)

type options struct {
	token      string
	model      string
	baseURL    string
	httpClient option.HTTPClient
	maxRetries int

	// If supplied, the 'anthropic-beta' header will be added to the request with the given value.
	betaHeader string
}

// Option is a functional option for the Anthropic client.
type Option func(*options)

// WithToken passes the Anthropic API token to the client. If not set, the token
// is read from the ANTHROPIC_API_KEY environment variable.
func WithToken(token string) Option {
	return func(opts *options) {
		opts.token = token
	}
}

// WithModel passes the Anthropic model to the client.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithBaseURL passes the Anthropic base URL to the client.
// If not set, DefaultBaseURL is used.
func WithBaseURL(baseURL string) Option {
	return func(opts *options) {
		opts.baseURL = baseURL
	}
}

// WithHTTPClient allows setting a custom HTTP client.
func WithHTTPClient(client option.HTTPClient) Option {
	return func(opts *options) {
		opts.httpClient = client
	}
}

// WithMaxRetries sets the number of retries of a failed request.
func WithMaxRetries(n int) Option {
	return func(opts *options) {
		opts.maxRetries = n
	}
}

// WithAnthropicBetaHeader adds the Anthropic Beta header to support extended options.
func WithAnthropicBetaHeader(value string) Option {
	return func(opts *options) {
		opts.betaHeader = value
	}
}
