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

// OllamaLLM is an adapter for models served by a local Ollama daemon.
type OllamaLLM struct {
	model   string
	baseURL string
	client  *http.Client
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

// NewOllamaLLM creates a new Ollama adapter.
//
// Parameters:
//   - model: Model tag pulled into the Ollama server (e.g., "llama3.1:8b")
//   - baseURL: Server address. Empty means http://localhost:11434
//
// Example:
//
//	model := NewOllamaLLM("qwen2.5:14b", "")
func NewOllamaLLM(model, baseURL string) *OllamaLLM {
	if model == "" {
		model = "llama3.1"
	}
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaLLM{
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

// Model returns the model identifier.
func (o *OllamaLLM) Model() string {
	return o.model
}

// Complete generates a completion.
func (o *OllamaLLM) Complete(ctx context.Context, messages []*agent.Message, opts ...CallOption) (*agent.Message, error) {
	options := BuildCallOptions(opts...)

	reqBody := ollamaChatRequest{
		Model:    o.model,
		Messages: make([]ollamaMessage, len(messages)),
	}
	for i, msg := range messages {
		reqBody.Messages[i] = ollamaMessage{Role: chatRole(msg.Role), Content: msg.Content}
	}
	if options.JSONMode {
		reqBody.Format = "json"
	}
	if options.Temperature != nil || options.MaxTokens != nil || options.TopP != nil {
		reqBody.Options = &ollamaOptions{}
		if options.Temperature != nil {
			reqBody.Options.Temperature = *options.Temperature
		}
		if options.TopP != nil {
			reqBody.Options.TopP = *options.TopP
		}
		if options.MaxTokens != nil {
			reqBody.Options.NumPredict = *options.MaxTokens
		}
	}

	reqJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama api error (%d): %s", resp.StatusCode, string(body))
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	response := agent.NewMessage(agent.RoleAssistant, parsed.Message.Content)
	response.Metadata["model"] = parsed.Model
	response.Metadata["usage"] = Usage{
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
		TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
	}
	return response, nil
}
