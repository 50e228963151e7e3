// Package llm provides the minimal chat-model contract used by every
// simulated agent, plus adapters for the supported providers.
//
// The interface is intentionally small: agents render a prompt, hand a
// message list to Complete and read back a single message. Provider-specific
// features stay behind the adapters.
package llm

import (
	"context"

	"github.com/patienthub/patienthub-go/agent"
)

// LLM is the minimal interface for agent-LLM interaction.
//
// Example:
//
//	model := NewOpenAILLM(OpenAIConfig{APIKey: "sk-...", Model: "gpt-4o"})
//	messages := []*agent.Message{
//	    agent.NewMessage("system", "You are a client in a therapy session."),
//	    agent.NewMessage("user", "How was your week?"),
//	}
//	response, err := model.Complete(ctx, messages, WithTemperature(0.7))
type LLM interface {
	// Complete generates a single completion from the model.
	//
	// The response message has role "assistant". Adapters report token
	// counts under Metadata["usage"] as a Usage value and the model name
	// under Metadata["model"].
	Complete(ctx context.Context, messages []*agent.Message, opts ...CallOption) (*agent.Message, error)

	// Model returns the model identifier for this LLM instance.
	Model() string
}

// Usage is the token accounting attached to every completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageFrom extracts the usage reported by an adapter, if any.
func UsageFrom(msg *agent.Message) (Usage, bool) {
	if msg == nil || msg.Metadata == nil {
		return Usage{}, false
	}
	u, ok := msg.Metadata["usage"].(Usage)
	return u, ok
}

// CallOptions holds per-call options.
type CallOptions struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64

	// JSONMode asks the provider to emit a single JSON object. Providers
	// without a native switch ignore it; callers still parse the reply.
	JSONMode bool

	// Extra carries provider-specific options.
	Extra map[string]interface{}
}

// CallOption is a functional option for configuring LLM calls.
type CallOption func(*CallOptions)

// WithTemperature sets the sampling temperature (typically 0.0-2.0).
func WithTemperature(temperature float64) CallOption {
	return func(opts *CallOptions) {
		opts.Temperature = &temperature
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int) CallOption {
	return func(opts *CallOptions) {
		opts.MaxTokens = &maxTokens
	}
}

// WithTopP sets the nucleus sampling parameter.
func WithTopP(topP float64) CallOption {
	return func(opts *CallOptions) {
		opts.TopP = &topP
	}
}

// WithJSONMode requests a JSON object response.
func WithJSONMode() CallOption {
	return func(opts *CallOptions) {
		opts.JSONMode = true
	}
}

// WithExtra adds a provider-specific option.
func WithExtra(key string, value interface{}) CallOption {
	return func(opts *CallOptions) {
		if opts.Extra == nil {
			opts.Extra = make(map[string]interface{})
		}
		opts.Extra[key] = value
	}
}

// BuildCallOptions creates CallOptions from functional options.
func BuildCallOptions(opts ...CallOption) *CallOptions {
	options := &CallOptions{
		Extra: make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Defaults returns options that apply the given base settings before the
// caller's own options, so per-call options win.
func Defaults(base []CallOption, opts ...CallOption) []CallOption {
	out := make([]CallOption, 0, len(base)+len(opts))
	out = append(out, base...)
	return append(out, opts...)
}

// chatRole maps transcript roles onto the three chat-model roles.
func chatRole(role string) string {
	switch role {
	case agent.RoleSystem, agent.RoleModerator:
		return agent.RoleSystem
	case agent.RoleUser:
		return agent.RoleUser
	default:
		return agent.RoleAssistant
	}
}
