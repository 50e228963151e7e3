package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/patienthub/patienthub-go/agent"
	"google.golang.org/api/option"
)

// GeminiLLM is an adapter for Google's Gemini models.
type GeminiLLM struct {
	client *genai.Client
	model  string
}

// NewGeminiLLM creates a new Gemini adapter.
func NewGeminiLLM(ctx context.Context, apiKey, model string) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key required: set GEMINI_API_KEY or llm.api_key")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiLLM{client: client, model: model}, nil
}

// Model returns the model identifier.
func (g *GeminiLLM) Model() string {
	return g.model
}

// Complete generates a completion.
func (g *GeminiLLM) Complete(ctx context.Context, messages []*agent.Message, opts ...CallOption) (*agent.Message, error) {
	if len(messages) == 0 {
		return nil, errors.New("gemini: no messages")
	}
	options := BuildCallOptions(opts...)

	model := g.client.GenerativeModel(g.model)
	g.configureModel(model, options)

	history, system, last := g.convertMessages(messages)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	session := model.StartChat()
	session.History = history

	resp, err := session.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return nil, fmt.Errorf("gemini api error: %w", err)
	}

	response := agent.NewMessage(agent.RoleAssistant, g.extractContent(resp))
	response.Metadata["model"] = g.model
	if resp.UsageMetadata != nil {
		response.Metadata["usage"] = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != 0 {
		response.Metadata["finish_reason"] = resp.Candidates[0].FinishReason.String()
	}
	return response, nil
}

// convertMessages maps the history onto Gemini chat contents. System
// prompts become the system instruction; the final non-system message is
// sent as the new turn. A system-only history is sent as one user turn.
func (g *GeminiLLM) convertMessages(messages []*agent.Message) ([]*genai.Content, string, string) {
	var system []string
	var turns []*agent.Message
	for _, msg := range messages {
		if chatRole(msg.Role) == agent.RoleSystem {
			system = append(system, msg.Content)
			continue
		}
		turns = append(turns, msg)
	}
	if len(turns) == 0 {
		return nil, "", strings.Join(system, "\n\n")
	}

	history := make([]*genai.Content, 0, len(turns)-1)
	for _, msg := range turns[:len(turns)-1] {
		role := "model"
		if chatRole(msg.Role) == agent.RoleUser {
			role = "user"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return history, strings.Join(system, "\n\n"), turns[len(turns)-1].Content
}

func (g *GeminiLLM) configureModel(model *genai.GenerativeModel, options *CallOptions) {
	if options.Temperature != nil {
		temp := float32(*options.Temperature)
		model.Temperature = &temp
	}
	if options.MaxTokens != nil {
		maxTokens := int32(*options.MaxTokens)
		model.MaxOutputTokens = &maxTokens
	}
	if options.TopP != nil {
		topP := float32(*options.TopP)
		model.TopP = &topP
	}
	if options.JSONMode {
		model.ResponseMIMEType = "application/json"
	}
}

func (g *GeminiLLM) extractContent(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return ""
	}
	var content strings.Builder
	for _, part := range candidate.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			content.WriteString(string(txt))
		}
	}
	return content.String()
}

// Close releases the underlying client.
func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
