package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/observability"
	"github.com/patienthub/patienthub-go/prompts"
	"github.com/patienthub/patienthub-go/store"
)

// Granularities.
const (
	GranularitySession = "session"
	GranularityTurn    = "turn"
)

// SessionKey is the rating key used at session granularity.
const SessionKey = "session"

// Score bounds.
const (
	MinScore = 1
	MaxScore = 10
)

// Config configures a RatingEvaluator.
type Config struct {
	// Target is the role being rated, "client" or "therapist".
	Target      string   `yaml:"target"`
	Dimensions  []string `yaml:"dimensions"`
	Granularity string   `yaml:"granularity"`
	Lang        string   `yaml:"lang"`
	PromptPath  string   `yaml:"prompt_path"`
	// Parallel bounds concurrent rating calls at turn granularity.
	Parallel int `yaml:"parallel"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Target == "" {
		c.Target = agent.RoleClient
	}
	c.Target = strings.ToLower(c.Target)
	if len(c.Dimensions) == 0 {
		c.Dimensions = []string{Consistency.Name}
	}
	if c.Granularity == "" {
		c.Granularity = GranularitySession
	}
	if c.Lang == "" {
		c.Lang = prompts.DefaultLang
	}
	if c.Parallel <= 0 {
		c.Parallel = 1
	}
	return c
}

// AspectRating is the score for one aspect.
type AspectRating struct {
	Score    int    `json:"score"`
	Comments string `json:"comments"`
}

// Rating is the rater's answer for one dimension. It marshals flat, with
// one key per aspect plus "overall_score".
type Rating struct {
	Aspects      map[string]AspectRating
	OverallScore int
}

// MarshalJSON implements json.Marshaler.
func (r Rating) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Aspects)+1)
	for name, a := range r.Aspects {
		out[name] = a
	}
	out["overall_score"] = r.OverallScore
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Rating) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Aspects = make(map[string]AspectRating, len(raw))
	for key, value := range raw {
		if key == "overall_score" {
			var score float64
			if err := json.Unmarshal(value, &score); err != nil {
				return fmt.Errorf("overall_score: %w", err)
			}
			r.OverallScore = int(math.Round(score))
			continue
		}
		var a struct {
			Score    float64 `json:"score"`
			Comments string  `json:"comments"`
		}
		if err := json.Unmarshal(value, &a); err != nil {
			continue
		}
		r.Aspects[key] = AspectRating{Score: int(math.Round(a.Score)), Comments: a.Comments}
	}
	return nil
}

// normalize checks the rating covers d and clamps scores to the 1-10 range.
// A missing overall score becomes the rounded mean of the aspects.
func (r *Rating) normalize(d Dimension) error {
	var missing []string
	sum := 0
	for _, a := range d.Aspects {
		ar, ok := r.Aspects[a.Name]
		if !ok {
			missing = append(missing, a.Name)
			continue
		}
		ar.Score = clampScore(ar.Score)
		r.Aspects[a.Name] = ar
		sum += ar.Score
	}
	if len(missing) > 0 {
		return fmt.Errorf("rating for %s is missing aspects %v", d.Name, missing)
	}
	if r.OverallScore == 0 {
		r.OverallScore = int(math.Round(float64(sum) / float64(len(d.Aspects))))
	}
	r.OverallScore = clampScore(r.OverallScore)
	return nil
}

func clampScore(s int) int {
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// Result holds the ratings of one transcript, keyed by dimension and then
// by SessionKey or "turn_<index>".
type Result struct {
	SessionID   string                        `json:"session_id,omitempty"`
	Target      string                        `json:"target"`
	Granularity string                        `json:"granularity"`
	Ratings     map[string]map[string]*Rating `json:"ratings"`
}

// RatingEvaluator asks a chat model to rate a transcript on a set of
// dimensions.
type RatingEvaluator struct {
	model      llm.LLM
	cfg        Config
	dimensions []Dimension
	prompts    *prompts.Library
	logger     *slog.Logger
}

// NewRatingEvaluator creates an evaluator. A nil logger uses slog.Default.
func NewRatingEvaluator(model llm.LLM, cfg Config, logger *slog.Logger) (*RatingEvaluator, error) {
	if model == nil {
		return nil, errors.New("rating evaluator requires an LLM")
	}
	cfg = cfg.WithDefaults()
	switch cfg.Granularity {
	case GranularitySession, GranularityTurn:
	default:
		return nil, fmt.Errorf("unknown granularity %q", cfg.Granularity)
	}
	dims, err := GetDimensions(cfg.Dimensions)
	if err != nil {
		return nil, err
	}
	lib, err := prompts.LoadOrDefault(cfg.PromptPath, "evaluator/rating", cfg.Lang)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RatingEvaluator{model: model, cfg: cfg, dimensions: dims, prompts: lib, logger: logger}, nil
}

// Evaluate rates t on every configured dimension.
func (e *RatingEvaluator) Evaluate(ctx context.Context, t *store.Transcript) (*Result, error) {
	ctx, span := observability.StartSpan(ctx, "evaluation.rate",
		attribute.String("session.id", t.ID),
		attribute.String("evaluation.granularity", e.cfg.Granularity),
	)
	result := &Result{
		SessionID:   t.ID,
		Target:      e.cfg.Target,
		Granularity: e.cfg.Granularity,
		Ratings:     make(map[string]map[string]*Rating, len(e.dimensions)),
	}

	var err error
	for _, d := range e.dimensions {
		var ratings map[string]*Rating
		if e.cfg.Granularity == GranularitySession {
			ratings, err = e.rateSession(ctx, d, t)
		} else {
			ratings, err = e.rateTurns(ctx, d, t)
		}
		if err != nil {
			break
		}
		result.Ratings[d.Name] = ratings
	}
	observability.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	e.logger.InfoContext(ctx, "transcript rated", "session_id", t.ID, "dimensions", len(e.dimensions))
	return result, nil
}

func (e *RatingEvaluator) rateSession(ctx context.Context, d Dimension, t *store.Transcript) (map[string]*Rating, error) {
	system, err := e.systemPrompt(t, t.Messages)
	if err != nil {
		return nil, err
	}
	user, err := e.prompts.Render("session", map[string]interface{}{
		"dimension": d.Prompt(),
		"format":    d.Format(),
	})
	if err != nil {
		return nil, err
	}
	r, err := e.rate(ctx, d, system, user)
	if err != nil {
		return nil, err
	}
	return map[string]*Rating{SessionKey: r}, nil
}

func (e *RatingEvaluator) rateTurns(ctx context.Context, d Dimension, t *store.Transcript) (map[string]*Rating, error) {
	var (
		mu  sync.Mutex
		out = make(map[string]*Rating)
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallel)

	for i, msg := range t.Messages {
		if !strings.EqualFold(msg.Role, e.cfg.Target) {
			continue
		}
		g.Go(func() error {
			system, err := e.systemPrompt(t, t.Messages[:i])
			if err != nil {
				return err
			}
			user, err := e.prompts.Render("turn", map[string]interface{}{
				"role":      roleLabel(msg.Role),
				"content":   msg.Content,
				"dimension": d.Prompt(),
				"format":    d.Format(),
			})
			if err != nil {
				return err
			}
			r, err := e.rate(ctx, d, system, user)
			if err != nil {
				return fmt.Errorf("turn %d: %w", i, err)
			}
			mu.Lock()
			out[fmt.Sprintf("turn_%d", i)] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *RatingEvaluator) rate(ctx context.Context, d Dimension, system, user string) (*Rating, error) {
	messages := []*agent.Message{
		agent.NewMessage(agent.RoleSystem, system),
		agent.NewMessage(agent.RoleUser, user),
	}
	var r Rating
	if _, err := llm.CompleteJSON(ctx, e.model, messages, &r); err != nil {
		return nil, fmt.Errorf("rate %s: %w", d.Name, err)
	}
	if err := r.normalize(d); err != nil {
		return nil, err
	}
	return &r, nil
}

func (e *RatingEvaluator) systemPrompt(t *store.Transcript, history []*agent.Message) (string, error) {
	profile, err := json.MarshalIndent(t.Profile, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode profile: %w", err)
	}
	return e.prompts.Render("system", map[string]interface{}{
		"target":       e.cfg.Target,
		"profile":      string(profile),
		"conv_history": FormatHistory(history),
	})
}

// FormatHistory renders messages as "Role: content" lines.
func FormatHistory(messages []*agent.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, roleLabel(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

func roleLabel(role string) string {
	if role == "" {
		return role
	}
	return strings.ToUpper(role[:1]) + role[1:]
}

// TurnKeys returns the rating keys of a dimension in transcript order.
func TurnKeys(ratings map[string]*Rating) []string {
	keys := make([]string, 0, len(ratings))
	for k := range ratings {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		var a, b int
		fmt.Sscanf(keys[i], "turn_%d", &a)
		fmt.Sscanf(keys[j], "turn_%d", &b)
		if a != b {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}
