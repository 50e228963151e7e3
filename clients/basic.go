package clients

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/observability"
	"github.com/patienthub/patienthub-go/persona"
	"github.com/patienthub/patienthub-go/prompts"
)

// Basic is a persona-prompted client. With state tracking enabled it asks
// the model for an updated MentalState after every turn and feeds the
// state back into its system prompt.
type Basic struct {
	mu sync.Mutex

	agentType  string
	profile    persona.Profile
	model      llm.LLM
	prompts    *prompts.Library
	extra      map[string]interface{}
	trackState bool
	metrics    *observability.Metrics
	logger     *slog.Logger

	therapist string
	state     persona.MentalState
	history   *agent.History
	turns     int
}

var _ agent.Client = (*Basic)(nil)

// BasicConfig configures a Basic client.
type BasicConfig struct {
	// AgentType is reported by Introspect. Defaults to TypeBasic.
	AgentType string
	Profile persona.Profile
	Model   llm.LLM
	Prompts *prompts.Library
	// Extra is merged into the data of the system prompt.
	Extra      map[string]interface{}
	TrackState bool
	MaxHistory int
	Metrics    *observability.Metrics
	Logger     *slog.Logger
}

// NewBasic creates a basic client.
func NewBasic(config BasicConfig) (*Basic, error) {
	if config.Model == nil {
		return nil, fmt.Errorf("llm is required")
	}
	if config.Prompts == nil || !config.Prompts.Has("system") {
		return nil, fmt.Errorf("basic client prompts need a %q template: %w", "system", prompts.ErrUnknownTemplate)
	}
	if config.TrackState && !config.Prompts.Has("mental_state") {
		return nil, fmt.Errorf("state tracking needs a %q template: %w", "mental_state", prompts.ErrUnknownTemplate)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.AgentType == "" {
		config.AgentType = TypeBasic
	}

	c := &Basic{
		agentType:  config.AgentType,
		profile:    config.Profile,
		model:      config.Model,
		prompts:    config.Prompts,
		extra:      config.Extra,
		trackState: config.TrackState,
		metrics:    config.Metrics,
		logger:     config.Logger,
		state:      persona.NewMentalState(),
		history:    agent.NewHistory(""),
	}
	c.history.MaxMessages = config.MaxHistory
	if err := c.buildSystemPrompt(); err != nil {
		return nil, err
	}
	return c, nil
}

func newBasicFromConfig(cfg Config, deps Deps) (agent.Client, error) {
	profile, err := loadProfile(cfg, deps)
	if err != nil {
		return nil, err
	}
	lib, err := loadPrompts(cfg, "client/basic")
	if err != nil {
		return nil, err
	}
	return NewBasic(BasicConfig{
		Profile:    profile,
		Model:      deps.LLM,
		Prompts:    lib,
		TrackState: cfg.TrackState,
		MaxHistory: cfg.MaxHistory,
		Metrics:    deps.Metrics,
		Logger:     deps.logger(),
	})
}

func (c *Basic) buildSystemPrompt() error {
	data := map[string]interface{}{
		"name":      c.profile.Name,
		"profile":   c.profile.Text(),
		"therapist": c.therapist,
	}
	for k, v := range c.extra {
		data[k] = v
	}
	if c.trackState {
		data["state"] = c.state.Map()
	}
	prompt, err := c.prompts.Render("system", data)
	if err != nil {
		return err
	}
	c.history.SetSystem(prompt)
	return nil
}

// Name returns the character name.
func (c *Basic) Name() string {
	return c.profile.Name
}

// SetTherapist rebuilds the system prompt with the therapist's name.
func (c *Basic) SetTherapist(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.therapist = name
	if err := c.buildSystemPrompt(); err != nil {
		c.logger.Warn("failed to rebuild system prompt", "error", err)
	}
}

// Respond replies to the therapist message.
func (c *Basic) Respond(ctx context.Context, msg string) (*agent.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history.Add(agent.RoleUser, msg)
	resp, err := c.model.Complete(ctx, c.history.Messages())
	if err != nil {
		c.history.RemoveLast()
		return nil, fmt.Errorf("client %s: %w", c.profile.Name, err)
	}
	content := strings.TrimSpace(resp.Content)
	c.history.Add(agent.RoleAssistant, content)
	c.turns++

	out := agent.NewMessage(agent.RoleClient, content)
	if c.trackState {
		c.updateState(ctx, msg, content)
		out.WithMetadata("mental_state", c.state.Map())
		if err := c.buildSystemPrompt(); err != nil {
			c.logger.WarnContext(ctx, "failed to rebuild system prompt", "error", err)
		}
	}
	c.metrics.RecordTurn(ctx, agent.RoleClient)
	return out, nil
}

// updateState asks the model for the new mental state. A failed update
// keeps the previous state.
func (c *Basic) updateState(ctx context.Context, therapistMsg, reply string) {
	prompt, err := c.prompts.Render("mental_state", map[string]interface{}{
		"name":              c.profile.Name,
		"profile":           c.profile.Text(),
		"state":             c.state.Map(),
		"therapist_message": therapistMsg,
		"client_response":   reply,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to render mental state prompt", "error", err)
		return
	}

	next := c.state
	if _, err := llm.CompleteJSON(ctx, c.model, []*agent.Message{agent.NewMessage(agent.RoleSystem, prompt)}, &next); err != nil {
		c.logger.WarnContext(ctx, "mental state update failed, keeping previous state", "client", c.profile.Name, "error", err)
		return
	}
	next.Clamp()
	c.state = next
}

// MentalState returns the current state.
func (c *Basic) MentalState() persona.MentalState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Profile returns the character record.
func (c *Basic) Profile() map[string]interface{} {
	return c.profile.Fields
}

// Introspect reports the turn count and, when tracked, the mental state.
func (c *Basic) Introspect() *agent.IntrospectionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := map[string]interface{}{
		"turns":       c.turns,
		"track_state": c.trackState,
		"history_len": c.history.Len(),
	}
	if c.trackState {
		state["mental_state"] = c.state.Map()
	}
	return agent.NewIntrospectionResult(c.profile.Name, c.agentType, state)
}

// Reset clears the conversation and the mental state.
func (c *Basic) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history.Clear()
	c.therapist = ""
	c.state = persona.NewMentalState()
	c.turns = 0
	if err := c.buildSystemPrompt(); err != nil {
		c.logger.Warn("failed to rebuild system prompt", "error", err)
	}
}
