package clients

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/critique"
	"github.com/patienthub/patienthub-go/observability"
	"github.com/patienthub/patienthub-go/persona"
	"github.com/patienthub/patienthub-go/principles"
)

// RoleplayDoh is a client whose every reply goes through the principle
// critique pipeline.
type RoleplayDoh struct {
	mu sync.Mutex

	profile  persona.Profile
	pipeline *critique.Pipeline
	trace    *critique.JSONLTrace
	metrics  *observability.Metrics
	logger   *slog.Logger

	therapist string
	history   []string
	turns     int
	revisions int
	fallbacks int
	last      *critique.Result
}

var _ agent.Client = (*RoleplayDoh)(nil)

// NewRoleplayDoh wraps an existing pipeline.
func NewRoleplayDoh(profile persona.Profile, pipeline *critique.Pipeline, metrics *observability.Metrics, logger *slog.Logger) *RoleplayDoh {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleplayDoh{profile: profile, pipeline: pipeline, metrics: metrics, logger: logger}
}

func newRoleplayDohFromConfig(cfg Config, deps Deps) (agent.Client, error) {
	profile, err := loadProfile(cfg, deps)
	if err != nil {
		return nil, err
	}
	lib, err := loadPrompts(cfg, "client/roleplaydoh")
	if err != nil {
		return nil, err
	}

	set := principles.New(nil, nil)
	if cfg.Principles != "" {
		if set, err = principles.Load(cfg.Principles); err != nil {
			return nil, err
		}
	}

	var trace *critique.JSONLTrace
	var sink critique.TraceSink
	if cfg.TracePath != "" {
		if trace, err = critique.OpenJSONLTrace(cfg.TracePath); err != nil {
			return nil, err
		}
		sink = trace
	}

	pipeline, err := critique.NewPipeline(critique.Config{
		ResponseModel: deps.LLM,
		QuestionModel: deps.QuestionLLM,
		RevisionModel: deps.RevisionLLM,
		Prompts:       lib,
		Principles:    set,
		Mode:          critique.SelectionMode(cfg.PrincipleMode),
		PrincipleIDs:  cfg.PrincipleIDs,
		Rand:          deps.Rand,
		Trace:         sink,
		Metrics:       deps.Metrics,
		Logger:        deps.logger(),
	})
	if err != nil {
		if trace != nil {
			trace.Close()
		}
		return nil, err
	}
	pipeline.UpdateContext(map[string]interface{}{"client": profile.Name})

	c := NewRoleplayDoh(profile, pipeline, deps.Metrics, deps.logger())
	c.trace = trace
	return c, nil
}

// Name returns the character name.
func (c *RoleplayDoh) Name() string {
	return c.profile.Name
}

// SetTherapist records the therapist's name and tags the critique trace.
func (c *RoleplayDoh) SetTherapist(name string) {
	c.mu.Lock()
	c.therapist = name
	c.mu.Unlock()
	c.pipeline.UpdateContext(map[string]interface{}{"therapist": name})
}

// Respond drafts, critiques and possibly revises the reply.
func (c *RoleplayDoh) Respond(ctx context.Context, msg string) (*agent.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.therapist != "" {
		msg = strings.TrimPrefix(msg, c.therapist+": ")
	}
	in := critique.Input{
		Persona:          c.profile.Text(),
		History:          append([]string(nil), c.history...),
		TherapistMessage: msg,
	}
	c.pipeline.UpdateContext(map[string]interface{}{"turn": c.turns + 1})

	res, err := c.pipeline.Run(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("client %s: %w", c.profile.Name, err)
	}

	c.history = append(c.history, "Therapist: "+msg, "Client: "+res.Final)
	c.turns++
	c.last = res
	if res.Revised {
		c.revisions++
	}
	if res.Fallback {
		c.fallbacks++
	}

	out := agent.NewMessage(agent.RoleClient, res.Final).
		WithMetadata("revised", res.Revised).
		WithMetadata("principle", res.Checklist.PrincipleID)
	if res.Fallback {
		out.WithMetadata("fallback", true)
	}
	if res.Assessment != nil {
		out.WithMetadata("answers", res.Assessment.Answers)
	}
	if res.Revised {
		out.WithMetadata("draft", res.Draft)
	}
	c.metrics.RecordTurn(ctx, agent.RoleClient)
	return out, nil
}

// History returns the "Speaker: text" lines seen so far.
func (c *RoleplayDoh) History() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.history...)
}

// Profile returns the character record.
func (c *RoleplayDoh) Profile() map[string]interface{} {
	return c.profile.Fields
}

// Introspect reports revision statistics and the last checklist.
func (c *RoleplayDoh) Introspect() *agent.IntrospectionResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := map[string]interface{}{
		"turns":     c.turns,
		"revisions": c.revisions,
		"fallbacks": c.fallbacks,
	}
	if c.last != nil {
		state["last_principle"] = c.last.Checklist.PrincipleID
		state["last_questions"] = c.last.Checklist.All()
	}
	return agent.NewIntrospectionResult(c.profile.Name, TypeRoleplayDoh, state)
}

// Reset forgets the conversation.
func (c *RoleplayDoh) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = nil
	c.therapist = ""
	c.turns = 0
	c.revisions = 0
	c.fallbacks = 0
	c.last = nil
}

// Close flushes the critique trace file, if any.
func (c *RoleplayDoh) Close() error {
	if c.trace == nil {
		return nil
	}
	return c.trace.Close()
}
