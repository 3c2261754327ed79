// Package llm defines the port for language-model providers.
package llm

import "context"

// CallOptions are the per-call generation parameters.
type CallOptions struct {
	Temperature *float64
	MaxTokens   int
	// JSONMode asks the provider for a JSON object response where supported.
	JSONMode bool
	// System is an optional system instruction.
	System string
}

// Provider sends one prompt to a model and returns the raw text reply.
type Provider interface {
	Call(ctx context.Context, prompt, model string, opts CallOptions) (string, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, prompt, model string, opts CallOptions) (string, error)

// Call implements Provider.
func (f ProviderFunc) Call(ctx context.Context, prompt, model string, opts CallOptions) (string, error) {
	return f(ctx, prompt, model, opts)
}
