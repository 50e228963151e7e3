package therapists

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/observability"
	"github.com/patienthub/patienthub-go/prompts"
)

// Display names of the prompt-driven therapists.
const (
	DefaultName = "Therapist"
	CBTName     = "CBT Therapist"
)

// Basic is a prompt-driven therapist with optional chain-of-thought.
type Basic struct {
	mu sync.Mutex

	name    string
	model   llm.LLM
	prompts *prompts.Library
	useCoT  bool
	metrics *observability.Metrics
	logger  *slog.Logger

	client    string
	history   *agent.History
	reasoning string
}

var _ agent.Therapist = (*Basic)(nil)

// BasicConfig configures a Basic therapist.
type BasicConfig struct {
	Name       string
	Model      llm.LLM
	Prompts    *prompts.Library
	UseCoT     bool
	MaxHistory int
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// cotResponse is the chain-of-thought reply shape.
type cotResponse struct {
	Reasoning string `json:"reasoning"`
	Content   string `json:"content"`
}

// NewBasic creates a basic therapist.
func NewBasic(config BasicConfig) (*Basic, error) {
	if config.Model == nil {
		return nil, fmt.Errorf("llm is required")
	}
	if config.Prompts == nil || !config.Prompts.Has("system") {
		return nil, fmt.Errorf("therapist prompts need a %q template: %w", "system", prompts.ErrUnknownTemplate)
	}
	if config.Name == "" {
		config.Name = DefaultName
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	t := &Basic{
		name:    config.Name,
		model:   config.Model,
		prompts: config.Prompts,
		useCoT:  config.UseCoT,
		metrics: config.Metrics,
		logger:  config.Logger,
		history: agent.NewHistory(""),
	}
	t.history.MaxMessages = config.MaxHistory
	if err := t.buildSystemPrompt(); err != nil {
		return nil, err
	}
	return t, nil
}

func newBasicFromConfig(cfg Config, deps Deps) (agent.Therapist, error) {
	lib, err := loadPrompts(cfg, "therapist/basic")
	if err != nil {
		return nil, err
	}
	return NewBasic(BasicConfig{
		Name:       cfg.Name,
		Model:      deps.LLM,
		Prompts:    lib,
		UseCoT:     cfg.UseCoT,
		MaxHistory: cfg.MaxHistory,
		Metrics:    deps.Metrics,
		Logger:     deps.logger(),
	})
}

// newCBTFromConfig builds a Basic therapist that follows a structured CBT
// session.
func newCBTFromConfig(cfg Config, deps Deps) (agent.Therapist, error) {
	lib, err := loadPrompts(cfg, "therapist/cbt")
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = CBTName
	}
	return NewBasic(BasicConfig{
		Name:       name,
		Model:      deps.LLM,
		Prompts:    lib,
		UseCoT:     cfg.UseCoT,
		MaxHistory: cfg.MaxHistory,
		Metrics:    deps.Metrics,
		Logger:     deps.logger(),
	})
}

func (t *Basic) buildSystemPrompt() error {
	data := map[string]interface{}{"client": t.client}
	prompt, err := t.prompts.Render("system", data)
	if err != nil {
		return err
	}
	if t.useCoT && t.prompts.Has("cot") {
		cot, err := t.prompts.Render("cot", data)
		if err != nil {
			return err
		}
		prompt += "\n\n" + cot
	}
	t.history.SetSystem(prompt)
	return nil
}

// Name returns the therapist's display name.
func (t *Basic) Name() string {
	return t.name
}

// SetClient rebuilds the system prompt with the client's name.
func (t *Basic) SetClient(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.client = name
	if err := t.buildSystemPrompt(); err != nil {
		t.logger.Warn("failed to rebuild system prompt", "error", err)
	}
}

// Respond replies to the client's latest message. With chain-of-thought
// enabled, the reasoning goes to the turn metadata and only the content is
// said; an unparsable reply is used verbatim.
func (t *Basic) Respond(ctx context.Context, msg string) (*agent.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.history.Add(agent.RoleUser, msg)

	var opts []llm.CallOption
	if t.useCoT {
		opts = append(opts, llm.WithJSONMode())
	}
	resp, err := t.model.Complete(ctx, t.history.Messages(), opts...)
	if err != nil {
		t.history.RemoveLast()
		return nil, fmt.Errorf("therapist %s: %w", t.name, err)
	}

	content := strings.TrimSpace(resp.Content)
	reasoning := ""
	if t.useCoT {
		var cot cotResponse
		if err := llm.ParseJSON(resp.Content, &cot); err == nil && strings.TrimSpace(cot.Content) != "" {
			content = strings.TrimSpace(cot.Content)
			reasoning = cot.Reasoning
		} else {
			t.logger.WarnContext(ctx, "chain-of-thought reply unparsable, using raw text", "therapist", t.name)
		}
	}
	t.history.Add(agent.RoleAssistant, content)
	t.reasoning = reasoning

	out := agent.NewMessage(agent.RoleTherapist, content)
	if reasoning != "" {
		out.WithMetadata("reasoning", reasoning)
	}
	t.metrics.RecordTurn(ctx, agent.RoleTherapist)
	return out, nil
}

// Reset clears the conversation and forgets the client.
func (t *Basic) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.client = ""
	t.reasoning = ""
	t.history.Clear()
	if err := t.buildSystemPrompt(); err != nil {
		t.logger.Warn("failed to rebuild system prompt", "error", err)
	}
}
