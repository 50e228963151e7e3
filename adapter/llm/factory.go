package llm

import (
	"context"
	"fmt"

	"github.com/patienthub/patienthub-go/agent"
)

// Provider names accepted by New.
const (
	ProviderOpenAI    = "openai"
	ProviderLab       = "lab"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderBedrock   = "bedrock"
	ProviderOllama    = "ollama"
	ProviderMock      = "mock"
)

// Config selects and configures a provider.
type Config struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`

	// Bedrock only.
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`

	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`
	MaxRetries  int      `yaml:"max_retries"`
}

// New builds the adapter named by cfg.Provider. Temperature and max tokens
// from the config become per-call defaults.
//
// Example:
//
//	model, err := llm.New(ctx, llm.Config{Provider: llm.ProviderAnthropic, Model: "claude-3-5-haiku-latest"})
//	if err != nil {
//	    return err
//	}
//	model = middleware.Retry(model, middleware.DefaultRetryConfig())
func New(ctx context.Context, cfg Config) (LLM, error) {
	var model LLM
	switch cfg.Provider {
	case ProviderOpenAI, ProviderLab, "":
		model = NewOpenAILLM(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	case ProviderAnthropic:
		model = NewAnthropicLLM(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case ProviderGemini:
		g, err := NewGeminiLLM(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		model = g
	case ProviderBedrock:
		b, err := NewBedrockLLM(ctx, BedrockConfig{
			ModelID:     cfg.Model,
			Region:      cfg.Region,
			Profile:     cfg.Profile,
			EndpointURL: cfg.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		model = b
	case ProviderOllama:
		model = NewOllamaLLM(cfg.Model, cfg.BaseURL)
	case ProviderMock:
		model = NewMockLLM().WithFallback("I'm not sure what to say.")
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	var defaults []CallOption
	if cfg.Temperature != nil {
		defaults = append(defaults, WithTemperature(*cfg.Temperature))
	}
	if cfg.MaxTokens > 0 {
		defaults = append(defaults, WithMaxTokens(cfg.MaxTokens))
	}
	if len(defaults) == 0 {
		return model, nil
	}
	return &configured{LLM: model, defaults: defaults}, nil
}

// configured applies default call options ahead of the caller's.
type configured struct {
	LLM
	defaults []CallOption
}

func (c *configured) Complete(ctx context.Context, messages []*agent.Message, opts ...CallOption) (*agent.Message, error) {
	return c.LLM.Complete(ctx, messages, Defaults(c.defaults, opts...)...)
}
