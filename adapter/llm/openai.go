package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/patienthub/patienthub-go/agent"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible chat endpoint.
//
// BaseURL points the client at any server speaking the OpenAI chat API
// (vLLM, LM Studio, a lab gateway). Empty means api.openai.com.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAILLM is an adapter for OpenAI-compatible chat models, backed by the
// go-openai SDK.
type OpenAILLM struct {
	client *openai.Client
	model  string
}

// NewOpenAILLM creates a new OpenAI LLM adapter.
//
// Parameters:
//   - cfg.APIKey: OpenAI API key, or the key of the compatible server
//   - cfg.Model: Model identifier (e.g., "gpt-4o", "gpt-4o-mini"). Defaults to "gpt-4o"
//   - cfg.BaseURL: Optional endpoint of an OpenAI-compatible server
//
// Example:
//
//	model := NewOpenAILLM(OpenAIConfig{APIKey: "sk-...", Model: "gpt-4o-mini"})
//	lab := NewOpenAILLM(OpenAIConfig{Model: "qwen2.5-72b", BaseURL: "http://gpu01:8000/v1"})
func NewOpenAILLM(cfg OpenAIConfig) *OpenAILLM {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAILLM{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

// Model returns the model identifier.
func (o *OpenAILLM) Model() string {
	return o.model
}

// Complete generates a completion from an OpenAI chat model.
//
// Parameters:
//   - ctx: Context for cancellation and deadlines
//   - messages: Prompt as a system message followed by the conversation
//   - opts: Options like temperature, max tokens and JSON mode
//
// Returns:
//   - Response message with role "assistant" and metadata including:
//   - model: Model that served the request
//   - usage: Token counts as a Usage value
//   - finish_reason: Why generation stopped
//
// Example:
//
//	messages := []*agent.Message{
//	    agent.NewMessage(agent.RoleSystem, "You are Alex, a client in counseling."),
//	    agent.NewMessage(agent.RoleUser, "Therapist: How was your week?"),
//	}
//	response, err := model.Complete(ctx, messages, WithTemperature(0.7))
//	if err != nil {
//	    return err
//	}
//	fmt.Println(response.Content)
func (o *OpenAILLM) Complete(ctx context.Context, messages []*agent.Message, opts ...CallOption) (*agent.Message, error) {
	options := BuildCallOptions(opts...)

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: o.convertMessages(messages),
	}
	if options.Temperature != nil {
		req.Temperature = float32(*options.Temperature)
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	if options.TopP != nil {
		req.TopP = float32(*options.TopP)
	}
	if options.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if fp, ok := options.Extra["frequency_penalty"].(float64); ok {
		req.FrequencyPenalty = float32(fp)
	}
	if pp, ok := options.Extra["presence_penalty"].(float64); ok {
		req.PresencePenalty = float32(pp)
	}
	if stop, ok := options.Extra["stop"].([]string); ok {
		req.Stop = stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	response := agent.NewMessage(agent.RoleAssistant, resp.Choices[0].Message.Content)
	response.Metadata["model"] = resp.Model
	response.Metadata["usage"] = Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	response.Metadata["finish_reason"] = string(resp.Choices[0].FinishReason)
	return response, nil
}

func (o *OpenAILLM) convertMessages(messages []*agent.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    chatRole(msg.Role),
			Content: msg.Content,
		})
	}
	return out
}
