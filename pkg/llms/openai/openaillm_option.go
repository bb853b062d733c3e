package openai

import (
	"net/http"

	"github.com/effective-security/sqlagent/pkg/llms"
)

const (
	// DefaultAPIVersion is the Azure OpenAI API version used when none is configured
	DefaultAPIVersion = "2024-10-21"
	// DefaultMaxRetries is the number of SDK retries of a failed request
	DefaultMaxRetries = 2
)

type options struct {
	token      string
	model      string
	baseURL    string
	provider   llms.ProviderType
	httpClient *http.Client
	apiVersion string
	maxRetries int
}

// Option is a functional option for the OpenAI client.
type Option func(*options)

// WithToken passes the API key to the client.
func WithToken(token string) Option {
	return func(opts *options) {
		opts.token = token
	}
}

// WithModel passes the model to the client.
// For Azure this is the deployment name.
func WithModel(model string) Option {
	return func(opts *options) {
		opts.model = model
	}
}

// WithBaseURL passes the base url to the client.
// For Azure this is the resource endpoint, e.g. https://{resource}.openai.azure.com
func WithBaseURL(baseURL string) Option {
	return func(opts *options) {
		opts.baseURL = baseURL
	}
}

// WithProvider passes the provider type to the client. If not set, the default value
// is llms.ProviderOpenAI.
func WithProvider(provider llms.ProviderType) Option {
	return func(opts *options) {
		opts.provider = provider
	}
}

// WithAPIVersion passes the Azure api version to the client. If not set, the default value
// is DefaultAPIVersion.
func WithAPIVersion(apiVersion string) Option {
	return func(opts *options) {
		opts.apiVersion = apiVersion
	}
}

// WithHTTPClient allows setting a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
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
