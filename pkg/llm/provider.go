// Package llm defines the provider-agnostic chat contract used by the
// engine, plus a guard that throttles and circuit-breaks any provider.
package llm

import "context"

// Message is a chat turn in provider-agnostic form.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Option sets an optional generation parameter.
type Option func(*Options)

// Options are per-call generation parameters.
type Options struct {
	Temperature float64
	// TemperatureSet distinguishes an explicit zero from no preference.
	TemperatureSet bool
	MaxTokens      int
	Model          string // overrides the provider default
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
		o.TemperatureSet = true
	}
}

// WithMaxTokens caps the generated length.
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(o *Options) { o.Model = model }
}

// Apply folds opts over defaults.
func Apply(defaults Options, opts ...Option) Options {
	for _, o := range opts {
		o(&defaults)
	}
	return defaults
}

// Provider is any LLM backend.
type Provider interface {
	// Chat sends a conversation and returns the reply.
	Chat(ctx context.Context, history []Message, opts ...Option) (string, error)
	// Generate sends a single user prompt.
	Generate(ctx context.Context, prompt string, opts ...Option) (string, error)
}
