// Package llms defines the message model exchanged with chat models
// and the Model contract implemented by the provider adapters.
package llms
