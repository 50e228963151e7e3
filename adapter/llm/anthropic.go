package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patienthub/patienthub-go/agent"
)

const anthropicVersion = "2023-06-01"

// AnthropicLLM is an adapter for Claude models over the Messages API.
type AnthropicLLM struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicLLM creates a new Anthropic adapter.
//
// Parameters:
//   - apiKey: Anthropic API key
//   - model: Model identifier (e.g., "claude-3-5-sonnet-latest"). Defaults to "claude-3-5-haiku-latest"
//   - baseURL: Messages API root. Empty means the public API
//
// Example:
//
//	model := NewAnthropicLLM(os.Getenv("ANTHROPIC_API_KEY"), "claude-3-5-sonnet-latest", "")
func NewAnthropicLLM(apiKey, model, baseURL string) *AnthropicLLM {
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicLLM{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Model returns the model identifier.
func (a *AnthropicLLM) Model() string {
	return a.model
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	TopP        *float64           `json:"top_p,omitempty"`
	System      string             `json:"system,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	ID         string `json:"id"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete generates a completion. System messages are sent as the
// top-level system prompt; the metadata carries model, usage and
// stop_reason.
func (a *AnthropicLLM) Complete(ctx context.Context, messages []*agent.Message, opts ...CallOption) (*agent.Message, error) {
	options := BuildCallOptions(opts...)

	converted, system := a.convertMessages(messages)
	if options.JSONMode {
		system = strings.TrimSpace(system + "\n\nRespond with a single JSON object and nothing else.")
	}

	req := anthropicRequest{
		Model:       a.model,
		Messages:    converted,
		MaxTokens:   4096,
		System:      system,
		Temperature: options.Temperature,
		TopP:        options.TopP,
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("anthropic api error (%d): %s", resp.StatusCode, string(raw))
	}

	var parsed anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var content strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	response := agent.NewMessage(agent.RoleAssistant, content.String())
	response.Metadata["model"] = parsed.Model
	response.Metadata["usage"] = Usage{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
		TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
	}
	response.Metadata["stop_reason"] = parsed.StopReason
	return response, nil
}

// convertMessages splits system prompts out of the history. The Messages
// API rejects a conversation that does not start with a user turn, so a
// history made only of system prompts becomes a single user turn.
func (a *AnthropicLLM) convertMessages(messages []*agent.Message) ([]anthropicMessage, string) {
	var system []string
	out := make([]anthropicMessage, 0, len(messages))
	for _, msg := range messages {
		role := chatRole(msg.Role)
		if role == agent.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		out = append(out, anthropicMessage{Role: role, Content: msg.Content})
	}
	if len(out) == 0 && len(system) > 0 {
		return []anthropicMessage{{Role: agent.RoleUser, Content: strings.Join(system, "\n\n")}}, ""
	}
	return out, strings.Join(system, "\n\n")
}
