package clients

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/observability"
	"github.com/patienthub/patienthub-go/persona"
	"github.com/patienthub/patienthub-go/prompts"
	"github.com/patienthub/patienthub-go/store"
)

// SimPatient is a motivational interviewing patient driven by a cognitive
// model. Every reply is generated from a single prompt holding the persona,
// the current scores and the session so far; the scores are then updated
// from the latest exchange.
//
// A SimPatient can continue from a saved session. The scores are restored
// from that transcript and an event from the week between the sessions is
// generated before the first reply.
type SimPatient struct {
	mu sync.Mutex

	profile persona.Profile
	model   llm.LLM
	prompts *prompts.Library
	rng     *rand.Rand
	metrics *observability.Metrics
	logger  *slog.Logger

	initial  persona.CognitiveModel
	previous *store.Transcript

	therapist  string
	cognitive  persona.CognitiveModel
	reasoning  string
	pastText   string
	event      string
	needsEvent bool
	messages   []*agent.Message
	turns      int
}

var _ agent.Client = (*SimPatient)(nil)

// SimPatientConfig configures a SimPatient.
type SimPatientConfig struct {
	Profile persona.Profile
	Model   llm.LLM
	Prompts *prompts.Library

	// Previous is the session to continue from. Its client state supplies
	// the starting scores when present.
	Previous *store.Transcript

	Rand    *rand.Rand
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

var simPatientTemplates = []string{"cognitive_model", "response", "update_internal_state", "between_session_event"}

// NewSimPatient creates a SimPatient. The starting scores come from the
// previous session, then the profile's "cognitive_model" field, and are
// drawn at random otherwise.
func NewSimPatient(config SimPatientConfig) (*SimPatient, error) {
	if config.Model == nil {
		return nil, fmt.Errorf("llm is required")
	}
	if config.Prompts == nil {
		return nil, fmt.Errorf("simPatient client needs prompts: %w", prompts.ErrUnknownTemplate)
	}
	for _, name := range simPatientTemplates {
		if !config.Prompts.Has(name) {
			return nil, fmt.Errorf("simPatient client prompts need a %q template: %w", name, prompts.ErrUnknownTemplate)
		}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	c := &SimPatient{
		profile:  config.Profile,
		model:    config.Model,
		prompts:  config.Prompts,
		rng:      config.Rand,
		metrics:  config.Metrics,
		logger:   config.Logger,
		previous: config.Previous,
	}
	c.initial = c.startingModel()
	c.reset()
	return c, nil
}

func newSimPatientFromConfig(cfg Config, deps Deps) (agent.Client, error) {
	profile, err := loadProfile(cfg, deps)
	if err != nil {
		return nil, err
	}
	lib, err := loadPrompts(cfg, "client/simpatient")
	if err != nil {
		return nil, err
	}

	var previous *store.Transcript
	if cfg.ContinueLastSession {
		if previous, err = loadPreviousSession(cfg.PrevSessionPath); err != nil {
			deps.logger().Warn("cannot continue previous session, starting fresh", "path", cfg.PrevSessionPath, "error", err)
			previous = nil
		}
	}
	return NewSimPatient(SimPatientConfig{
		Profile:  profile,
		Model:    deps.LLM,
		Prompts:  lib,
		Previous: previous,
		Rand:     deps.Rand,
		Metrics:  deps.Metrics,
		Logger:   deps.logger(),
	})
}

// loadPreviousSession reads the last transcript in a saved session file.
func loadPreviousSession(path string) (*store.Transcript, error) {
	if path == "" {
		return nil, fmt.Errorf("prev_session_path is required to continue a session")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ts, err := store.DecodeTranscripts(data)
	if err != nil {
		return nil, err
	}
	if len(ts) == 0 {
		return nil, fmt.Errorf("%s holds no sessions", path)
	}
	return ts[len(ts)-1], nil
}

func (c *SimPatient) startingModel() persona.CognitiveModel {
	if c.previous != nil {
		if state, ok := c.previous.ClientState["cognitive_model"].(map[string]interface{}); ok {
			if cm, ok := persona.CognitiveModelFromMap(state); ok {
				return cm
			}
		}
	}
	if fields, ok := c.profile.Fields["cognitive_model"].(map[string]interface{}); ok {
		if cm, ok := persona.CognitiveModelFromMap(fields); ok {
			return cm
		}
	}
	return persona.RandomCognitiveModel(c.rng)
}

func (c *SimPatient) reset() {
	c.cognitive = c.initial
	c.reasoning = ""
	c.messages = nil
	c.turns = 0
	c.event = ""
	c.pastText = ""
	c.needsEvent = false
	if c.previous != nil {
		c.pastText = sessionText(c.previous.Messages, "Counselor", "Patient")
		c.needsEvent = c.pastText != ""
	}
}

// personaText is the profile's "persona" object when it has one, the whole
// profile otherwise.
func (c *SimPatient) personaText() string {
	if p, ok := c.profile.Fields["persona"].(map[string]interface{}); ok {
		return persona.FromMap(p).Text()
	}
	return c.profile.Text()
}

func (c *SimPatient) cognitiveText() (string, error) {
	return c.prompts.Render("cognitive_model", c.cognitive.Map())
}

// sessionText renders messages as "Speaker: content" lines.
func sessionText(msgs []*agent.Message, therapist, client string) string {
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case agent.RoleTherapist, agent.RoleUser:
			fmt.Fprintf(&b, "%s: %s\n", therapist, m.Content)
		case agent.RoleClient, agent.RoleAssistant:
			fmt.Fprintf(&b, "%s: %s\n", client, m.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Name returns the character name.
func (c *SimPatient) Name() string {
	return c.profile.Name
}

// SetTherapist records the therapist's name.
func (c *SimPatient) SetTherapist(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.therapist = name
}

// Respond replies to the therapist message and updates the cognitive model.
func (c *SimPatient) Respond(ctx context.Context, msg string) (*agent.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.needsEvent {
		c.generateEvent(ctx)
	}
	cognitive, err := c.cognitiveText()
	if err != nil {
		return nil, err
	}

	c.messages = append(c.messages, agent.NewMessage(agent.RoleUser, msg))
	prompt, err := c.prompts.Render("response", map[string]interface{}{
		"name":                    c.profile.Name,
		"therapist":               c.therapist,
		"persona":                 c.personaText(),
		"cognitive_model":         cognitive,
		"past_session_history":    c.pastText,
		"between_session_event":   c.event,
		"current_session_history": sessionText(c.messages, "Therapist", "Client"),
		"counselor_input":         msg,
	})
	if err != nil {
		c.messages = c.messages[:len(c.messages)-1]
		return nil, err
	}
	resp, err := c.model.Complete(ctx, []*agent.Message{agent.NewMessage(agent.RoleSystem, prompt)})
	if err != nil {
		c.messages = c.messages[:len(c.messages)-1]
		return nil, fmt.Errorf("client %s: %w", c.profile.Name, err)
	}
	content := strings.TrimSpace(resp.Content)
	c.messages = append(c.messages, agent.NewMessage(agent.RoleAssistant, content))
	c.turns++

	c.updateInternalState(ctx, cognitive, msg, content)

	out := agent.NewMessage(agent.RoleClient, content)
	out.WithMetadata("cognitive_model", c.cognitive.Map())
	c.metrics.RecordTurn(ctx, agent.RoleClient)
	return out, nil
}

// simPatientUpdate is the reply shape of the state update prompt.
type simPatientUpdate struct {
	persona.CognitiveModel
	Reasoning string `json:"reasoning"`
}

// updateInternalState asks the model for new scores. A failed update keeps
// the previous scores.
func (c *SimPatient) updateInternalState(ctx context.Context, cognitive, therapistMsg, reply string) {
	prompt, err := c.prompts.Render("update_internal_state", map[string]interface{}{
		"cognitive_model":  cognitive,
		"session_history":  sessionText(c.messages[:len(c.messages)-2], "Counselor", "Patient"),
		"counselor_input":  therapistMsg,
		"patient_response": reply,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to render state update prompt", "error", err)
		return
	}

	next := simPatientUpdate{CognitiveModel: c.cognitive}
	if _, err := llm.CompleteJSON(ctx, c.model, []*agent.Message{agent.NewMessage(agent.RoleSystem, prompt)}, &next); err != nil {
		c.logger.WarnContext(ctx, "cognitive model update failed, keeping previous scores", "client", c.profile.Name, "error", err)
		return
	}
	next.Clamp()
	c.logger.DebugContext(ctx, "cognitive model updated", "client", c.profile.Name, "from", c.cognitive.String(), "to", next.CognitiveModel.String())
	c.cognitive = next.CognitiveModel
	c.reasoning = next.Reasoning
}

// generateEvent writes the between-session event. A failure leaves the
// event empty; the session goes on without it.
func (c *SimPatient) generateEvent(ctx context.Context) {
	c.needsEvent = false
	cognitive, err := c.cognitiveText()
	if err != nil {
		c.logger.WarnContext(ctx, "failed to render cognitive model", "error", err)
		return
	}
	prompt, err := c.prompts.Render("between_session_event", map[string]interface{}{
		"persona":         c.personaText(),
		"cognitive_model": cognitive,
		"session_history": c.pastText,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to render between-session event prompt", "error", err)
		return
	}
	resp, err := c.model.Complete(ctx, []*agent.Message{agent.NewMessage(agent.RoleSystem, prompt)})
	if err != nil {
		c.logger.WarnContext(ctx, "between-session event failed", "client", c.profile.Name, "error", err)
		return
	}
	c.event = strings.TrimSpace(resp.Content)
}

// CognitiveModel returns the current scores.
func (c *SimPatient) CognitiveModel() persona.CognitiveModel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cognitive
}

// Profile returns the character record.
func (c *SimPatient) Profile() map[string]interface{} {
	return c.profile.Fields
}

// Introspect reports the scores and, when continuing, the between-session
// event. The "cognitive_model" entry is what a later session restores.
func (c *SimPatient) Introspect() *agent.IntrospectionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := map[string]interface{}{
		"turns":           c.turns,
		"cognitive_model": c.cognitive.Map(),
	}
	if c.reasoning != "" {
		state["reasoning"] = c.reasoning
	}
	if c.event != "" {
		state["between_session_event"] = c.event
	}
	if c.previous != nil {
		state["previous_session"] = c.previous.ID
	}
	return agent.NewIntrospectionResult(c.profile.Name, TypeSimPatient, state)
}

// Reset restores the starting scores and clears the session.
func (c *SimPatient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.therapist = ""
	c.reset()
}
