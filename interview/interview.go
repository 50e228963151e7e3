// Package interview asks a client a fixed list of survey questions outside
// of a therapy session.
//
// An interview pairs a Survey, which hands out questions in order, with any
// agent.Client. The client sees each question as "Interviewer: <question>"
// and its answers are collected into a Result:
//
//	survey, _ := interview.LoadSurvey("data/surveys/default.json")
//	res, err := interview.Run(ctx, client, survey, interview.Config{NumQuestions: 5}, interview.Options{})
package interview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/observability"
)

// DefaultNumQuestions bounds an interview when Config leaves it unset.
const DefaultNumQuestions = 5

// Speaker prefixes every question sent to the client.
const Speaker = "Interviewer"

// ErrNoQuestions is returned by Next once the survey is exhausted.
var ErrNoQuestions = errors.New("no more questions")

// DefaultQuestions are asked when no survey file is configured.
var DefaultQuestions = []string{
	"How would you describe the main problem that brought you to therapy?",
	"How have you been feeling over the past two weeks?",
	"What have you already tried to cope with it?",
	"Who in your life do you turn to when things get hard?",
	"What would you like to be different a few months from now?",
}

// Survey hands out questions in order. It is safe for concurrent use.
type Survey struct {
	mu        sync.Mutex
	questions []string
	next      int
}

// NewSurvey creates a survey. Blank questions are dropped.
func NewSurvey(questions []string) *Survey {
	s := &Survey{}
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			s.questions = append(s.questions, q)
		}
	}
	return s
}

// LoadSurvey reads a JSON array of questions, or an object with a
// "questions" array.
func LoadSurvey(path string) (*Survey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read survey %s: %w", path, err)
	}
	var questions []string
	if err := json.Unmarshal(data, &questions); err != nil {
		var doc struct {
			Questions []string `json:"questions"`
		}
		if err2 := json.Unmarshal(data, &doc); err2 != nil {
			return nil, fmt.Errorf("failed to parse survey %s: %w", path, err)
		}
		questions = doc.Questions
	}
	s := NewSurvey(questions)
	if s.Len() == 0 {
		return nil, fmt.Errorf("survey %s holds no questions", path)
	}
	return s, nil
}

// Next returns the next question, or ErrNoQuestions.
func (s *Survey) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.questions) {
		return "", ErrNoQuestions
	}
	q := s.questions[s.next]
	s.next++
	return q, nil
}

// Len returns the number of questions.
func (s *Survey) Len() int {
	return len(s.questions)
}

// Reset starts the survey over.
func (s *Survey) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
}

// Config bounds an interview.
type Config struct {
	NumQuestions  int    `yaml:"num_questions"`
	QuestionsPath string `yaml:"questions_path"`
	// Output is the JSON file the result is written to. Empty skips saving.
	Output string `yaml:"output"`
}

// Exchange is one question and the client's answer.
type Exchange struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Result is the record of one interview.
type Result struct {
	ID        string     `json:"interview_id"`
	Client    string     `json:"client"`
	Exchanges []Exchange `json:"exchanges"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
}

// Questions returns the questions asked, in order.
func (r *Result) Questions() []string {
	out := make([]string, len(r.Exchanges))
	for i, e := range r.Exchanges {
		out[i] = e.Question
	}
	return out
}

// Answers returns the client's answers, in order.
func (r *Result) Answers() []string {
	out := make([]string, len(r.Exchanges))
	for i, e := range r.Exchanges {
		out[i] = e.Answer
	}
	return out
}

// Options are the optional collaborators of Run.
type Options struct {
	Logger *slog.Logger
	// OnExchange is called after every answer.
	OnExchange func(i int, e Exchange)
}

// Run asks up to cfg.NumQuestions questions, stopping early when the survey
// runs out. The partial result is returned with any client error, and is
// saved to cfg.Output when set.
func Run(ctx context.Context, client agent.Client, survey *Survey, cfg Config, opt Options) (*Result, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if cfg.NumQuestions <= 0 {
		cfg.NumQuestions = DefaultNumQuestions
	}

	res := &Result{ID: uuid.NewString(), Client: client.Name(), Exchanges: []Exchange{}, StartedAt: time.Now().UTC()}
	ctx, span := observability.StartSpan(ctx, "interview.run",
		attribute.String("interview.id", res.ID),
		attribute.String("interview.client", res.Client),
		attribute.Int("interview.num_questions", cfg.NumQuestions),
	)
	logger := opt.Logger.With("interview_id", res.ID)
	logger.InfoContext(ctx, "interview started", "client", res.Client, "num_questions", cfg.NumQuestions)

	client.SetTherapist(Speaker)
	runErr := ask(ctx, client, survey, cfg.NumQuestions, res, opt.OnExchange)
	res.EndedAt = time.Now().UTC()

	var saveErr error
	if cfg.Output != "" {
		saveErr = Save(cfg.Output, res)
	}
	err := errors.Join(runErr, saveErr)
	span.SetAttributes(attribute.Int("interview.answers", len(res.Exchanges)))
	observability.EndSpan(span, err)

	logger.InfoContext(ctx, "interview ended", "answers", len(res.Exchanges))
	if err != nil {
		return res, fmt.Errorf("interview %s: %w", res.ID, err)
	}
	return res, nil
}

func ask(ctx context.Context, client agent.Client, survey *Survey, n int, res *Result, onExchange func(int, Exchange)) error {
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		q, err := survey.Next()
		if errors.Is(err, ErrNoQuestions) {
			return nil
		}
		answer, err := client.Respond(ctx, Speaker+": "+q)
		if err != nil {
			return err
		}
		e := Exchange{Question: q, Answer: answer.Content}
		res.Exchanges = append(res.Exchanges, e)
		if onExchange != nil {
			onExchange(i, e)
		}
	}
	return nil
}

// Save writes r as indented JSON, creating parent directories.
func Save(path string, r *Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save interview: %w", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("save interview: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save interview: %w", err)
	}
	return nil
}
