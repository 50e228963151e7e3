// Package critique implements principle-based self-critique of simulated
// client responses.
//
// Each turn runs four steps:
//  1. Draft: the response model writes a reply from the persona and history.
//  2. Select: one principle (or a bundle) is chosen from the principle set.
//  3. Checklist: the question model rewrites the principle as yes/no questions.
//  4. Assess: the revision model answers the questions against the draft and
//     proposes a rewrite.
//
// The rewrite replaces the draft only when some answer starts with "no" and
// the rewrite is non-empty. Failures after the draft never lose the turn:
// a broken checklist falls back to DefaultQuestion, a broken assessment
// keeps the draft.
package critique

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/observability"
	"github.com/patienthub/patienthub-go/principles"
	"github.com/patienthub/patienthub-go/prompts"
)

// Prompt template names the pipeline renders.
const (
	PromptResponse   = "response"
	PromptQuestion   = "question"
	PromptAssessment = "assessment"
)

const noHistory = "No previous conversation."

// Config configures a Pipeline.
type Config struct {
	// ResponseModel writes drafts. Required.
	ResponseModel llm.LLM
	// QuestionModel writes checklists. Defaults to ResponseModel.
	QuestionModel llm.LLM
	// RevisionModel assesses and revises. Defaults to ResponseModel.
	RevisionModel llm.LLM

	Prompts    *prompts.Library
	Principles *principles.Set

	Mode         SelectionMode
	PrincipleIDs []string // bundle mode only
	Rand         *rand.Rand

	Trace   TraceSink
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// Pipeline runs the draft, checklist and assess stages for one client.
type Pipeline struct {
	response llm.LLM
	question llm.LLM
	revision llm.LLM

	prompts    *prompts.Library
	principles *principles.Set
	mode       SelectionMode
	ids        []string

	rngMu sync.Mutex
	rng   *rand.Rand

	trace   TraceSink
	metrics *observability.Metrics
	logger  *slog.Logger

	ctxMu   sync.RWMutex
	context map[string]interface{}
}

// NewPipeline validates config and applies defaults.
func NewPipeline(config Config) (*Pipeline, error) {
	if config.ResponseModel == nil {
		return nil, fmt.Errorf("response model is required")
	}
	if config.Prompts == nil {
		return nil, fmt.Errorf("prompt library is required")
	}
	for _, name := range []string{PromptResponse, PromptQuestion, PromptAssessment} {
		if !config.Prompts.Has(name) {
			return nil, fmt.Errorf("prompt library lacks %q: %w", name, prompts.ErrUnknownTemplate)
		}
	}
	if config.Principles == nil {
		config.Principles = principles.New(nil, nil)
	}
	switch config.Mode {
	case "":
		config.Mode = SelectRandom
	case SelectRandom, SelectBundle:
	default:
		return nil, fmt.Errorf("unknown principle selection mode %q", config.Mode)
	}
	if config.QuestionModel == nil {
		config.QuestionModel = config.ResponseModel
	}
	if config.RevisionModel == nil {
		config.RevisionModel = config.ResponseModel
	}
	if config.Rand == nil {
		config.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Pipeline{
		response:   config.ResponseModel,
		question:   config.QuestionModel,
		revision:   config.RevisionModel,
		prompts:    config.Prompts,
		principles: config.Principles,
		mode:       config.Mode,
		ids:        config.PrincipleIDs,
		rng:        config.Rand,
		trace:      config.Trace,
		metrics:    config.Metrics,
		logger:     config.Logger,
		context:    map[string]interface{}{},
	}, nil
}

// UpdateContext merges key/value pairs into the context attached to every
// trace entry. Nil values are ignored.
func (p *Pipeline) UpdateContext(kv map[string]interface{}) {
	p.ctxMu.Lock()
	defer p.ctxMu.Unlock()
	for k, v := range kv {
		if v != nil {
			p.context[k] = v
		}
	}
}

// Run produces the final client response for one turn.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, "critique.run",
		attribute.Int("critique.history", len(in.History)))
	var runErr error
	defer func() { observability.EndSpan(span, runErr) }()

	draft, err := p.Draft(ctx, in)
	if err != nil {
		runErr = err
		return nil, err
	}

	result := &Result{Draft: draft, Final: draft}

	principle := p.Select()
	checklist := p.Checklist(ctx, principle, in.TherapistMessage, draft)
	result.Checklist = checklist
	fallbackStage := ""
	if checklist.Defaulted {
		fallbackStage = string(StageChecklist)
	}

	assessment, err := p.Assess(ctx, checklist.All(), in, draft)
	if err != nil {
		result.Fallback = true
		fallbackStage = string(StageAssess)
		p.logger.WarnContext(ctx, "assessment failed, keeping draft", "error", err)
	} else {
		result.Assessment = assessment
		if assessment.HasViolation() && assessment.Response != "" {
			result.Final = assessment.Response
			result.Revised = true
		}
	}

	span.SetAttributes(
		attribute.String("critique.principle", checklist.PrincipleID),
		attribute.Int("critique.questions", len(checklist.All())),
		attribute.Bool("critique.revised", result.Revised),
		attribute.Bool("critique.fallback", result.Fallback),
	)
	p.metrics.RecordCritique(ctx, result.Revised, fallbackStage)
	p.logger.DebugContext(ctx, "critique finished",
		"principle", checklist.PrincipleID,
		"questions", len(checklist.All()),
		"revised", result.Revised,
		"fallback", result.Fallback)
	return result, nil
}

// Draft asks the response model for an initial reply. There is no fallback
// for a failed draft.
func (p *Pipeline) Draft(ctx context.Context, in Input) (string, error) {
	history := append(append([]string(nil), in.History...), "Therapist: "+in.TherapistMessage)
	inputs := map[string]interface{}{
		"profile":      in.Persona,
		"conv_history": strings.Join(history, "\n"),
	}
	prompt, err := p.prompts.Render(PromptResponse, inputs)
	if err != nil {
		return "", err
	}

	resp, err := p.response.Complete(ctx, []*agent.Message{agent.NewMessage(agent.RoleSystem, prompt)})
	if err != nil {
		p.record(ctx, StageDraft, p.response, inputs, nil, err)
		return "", fmt.Errorf("draft generation failed: %w", err)
	}
	draft := strings.TrimSpace(resp.Content)
	p.record(ctx, StageDraft, p.response, inputs, draft, nil)
	return draft, nil
}

// Select chooses the principle for this turn.
func (p *Pipeline) Select() principles.Principle {
	if p.mode == SelectBundle {
		return p.principles.Bundle(p.ids...)
	}
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.principles.Pick(p.rng)
}

// Checklist turns principle into yes/no questions. Any failure yields the
// single DefaultQuestion.
func (p *Pipeline) Checklist(ctx context.Context, principle principles.Principle, therapistMessage, draft string) Checklist {
	checklist := Checklist{PrincipleID: principle.Group, Principle: principle.Guidelines}

	criteria := strings.Join(principle.Guidelines, "\n")
	if p.mode == SelectBundle {
		payload, _ := json.MarshalIndent(map[string][]string{principle.Group: principle.Guidelines}, "", "  ")
		criteria = string(payload)
	}
	inputs := map[string]interface{}{
		"criteria":          criteria,
		"therapist_message": therapistMessage,
		"client_response":   draft,
	}

	var parsed Checklist
	prompt, err := p.prompts.Render(PromptQuestion, inputs)
	if err == nil {
		var resp *agent.Message
		resp, err = p.question.Complete(ctx, []*agent.Message{agent.NewMessage(agent.RoleSystem, prompt)}, llm.WithJSONMode())
		if err == nil {
			parsed, err = parseChecklist(resp.Content)
		}
	}

	checklist.Questions = parsed.Questions
	checklist.ExtraQuestions = parsed.ExtraQuestions
	checklist.Justification = parsed.Justification
	if len(checklist.All()) == 0 {
		checklist.Questions = []string{DefaultQuestion}
		checklist.ExtraQuestions = nil
		checklist.Defaulted = true
		if err != nil {
			p.logger.WarnContext(ctx, "checklist generation failed, using default question", "error", err)
		}
	}
	p.record(ctx, StageChecklist, p.question, inputs, checklist, err)
	return checklist
}

// Assess answers the questions against draft and proposes a revision.
func (p *Pipeline) Assess(ctx context.Context, questions []string, in Input, draft string) (*Assessment, error) {
	if len(questions) == 0 {
		questions = []string{DefaultQuestion}
	}
	lines := make([]string, len(questions))
	for i, q := range questions {
		lines[i] = fmt.Sprintf("%d. %s", i+1, q)
	}
	history := strings.Join(in.History, "\n")
	if history == "" {
		history = noHistory
	}
	inputs := map[string]interface{}{
		"criteria":             strings.Join(lines, "\n"),
		"profile":              in.Persona,
		"conversation_history": history,
		"therapist_message":    in.TherapistMessage,
		"client_response":      draft,
	}

	prompt, err := p.prompts.Render(PromptAssessment, inputs)
	if err != nil {
		return nil, err
	}
	resp, err := p.revision.Complete(ctx, []*agent.Message{agent.NewMessage(agent.RoleSystem, prompt)}, llm.WithJSONMode())
	if err != nil {
		p.record(ctx, StageAssess, p.revision, inputs, nil, err)
		return nil, fmt.Errorf("assessment failed: %w", err)
	}
	assessment, err := parseAssessment(resp.Content)
	if err != nil {
		p.record(ctx, StageAssess, p.revision, inputs, map[string]interface{}{"raw": resp.Content}, err)
		return nil, fmt.Errorf("assessment unparsable: %w", err)
	}
	p.record(ctx, StageAssess, p.revision, inputs, assessment, nil)
	return &assessment, nil
}

func (p *Pipeline) record(ctx context.Context, stage Stage, model llm.LLM, inputs map[string]interface{}, output interface{}, stageErr error) {
	if p.trace == nil {
		return
	}
	p.ctxMu.RLock()
	snapshot := make(map[string]interface{}, len(p.context))
	for k, v := range p.context {
		snapshot[k] = v
	}
	p.ctxMu.RUnlock()

	entry := TraceEntry{
		Timestamp: time.Now().UTC(),
		Stage:     stage,
		Model:     model.Model(),
		Context:   snapshot,
		Inputs:    inputs,
		Output:    output,
	}
	if stageErr != nil {
		entry.Error = stageErr.Error()
	}
	if err := p.trace.Record(ctx, entry); err != nil {
		p.logger.WarnContext(ctx, "failed to record critique trace", "stage", stage, "error", err)
	}
}
