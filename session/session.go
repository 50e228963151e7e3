// Package session runs therapy sessions between a therapist and a client.
//
// A session alternates therapist and client turns. The therapist speaks
// first, answering the moderator's opening line; every later message an
// agent receives is the other agent's reply prefixed with its name. The
// session ends when the therapist says END, end or exit, when the turn
// limit or token budget is reached, or when the context is canceled. The
// transcript is saved in every case, and agents that implement io.Closer
// are closed once the session ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/budget"
	"github.com/patienthub/patienthub-go/observability"
	"github.com/patienthub/patienthub-go/store"
)

// Defaults.
const (
	DefaultMaxTurns      = 30
	DefaultReminderTurns = 5
)

// StartMessage opens every session.
const StartMessage = "[Moderator] You may start the session now."

// EndReason says why a session stopped.
type EndReason string

// End reasons.
const (
	EndReasonMaxTurns       EndReason = "max_turns"
	EndReasonTherapistEnded EndReason = "therapist_ended"
	EndReasonBudget         EndReason = "budget"
	EndReasonCanceled       EndReason = "canceled"
	EndReasonError          EndReason = "error"
)

var endSignals = map[string]bool{"END": true, "end": true, "exit": true}

// IsEndSignal reports whether a therapist message ends the session.
func IsEndSignal(content string) bool {
	return endSignals[strings.TrimSpace(content)]
}

// Reminder is the moderator note appended when few turns are left.
func Reminder(turnsLeft int) string {
	return fmt.Sprintf("[Moderator] You have %d turns left in the session. Try to wrap up the conversation.", turnsLeft)
}

// Config bounds a session.
type Config struct {
	MaxTurns int `yaml:"max_turns"`
	// ReminderTurnNum is how many turns before the end the moderator starts
	// reminding the therapist to wrap up. Zero means DefaultReminderTurns;
	// a negative value disables reminders.
	ReminderTurnNum int `yaml:"reminder_turn_num"`
	// TokenBudget stops the session once the tracker has seen this many
	// tokens. Zero means unlimited.
	TokenBudget int `yaml:"token_budget"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	switch {
	case c.ReminderTurnNum == 0:
		c.ReminderTurnNum = DefaultReminderTurns
	case c.ReminderTurnNum < 0:
		c.ReminderTurnNum = -1
	}
	return c
}

// Event is emitted for every spoken message and every reminder.
type Event struct {
	SessionID string
	Turn      int
	MaxTurns  int
	Speaker   string
	Message   *agent.Message
}

// TurnFunc observes session events. It is called synchronously.
type TurnFunc func(ctx context.Context, ev Event)

// Options are the optional collaborators of a session.
type Options struct {
	// ID defaults to a random UUID.
	ID      string
	Storage store.Storage
	Tracker *budget.Tracker
	Metrics *observability.Metrics
	Logger  *slog.Logger
	OnTurn  TurnFunc
}

// Session is one therapist-client conversation. A session runs once.
type Session struct {
	id        string
	cfg       Config
	client    agent.Client
	therapist agent.Therapist

	storage store.Storage
	tracker *budget.Tracker
	metrics *observability.Metrics
	logger  *slog.Logger
	onTurn  TurnFunc

	messages []*agent.Message
	turns    int
}

// New creates a session.
func New(cfg Config, client agent.Client, therapist agent.Therapist, opts Options) (*Session, error) {
	if client == nil || therapist == nil {
		return nil, fmt.Errorf("session needs a client and a therapist")
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		id:        opts.ID,
		cfg:       cfg.WithDefaults(),
		client:    client,
		therapist: therapist,
		storage:   opts.Storage,
		tracker:   opts.Tracker,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With("session_id", opts.ID),
		onTurn:    opts.OnTurn,
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Turns returns the number of completed client turns.
func (s *Session) Turns() int {
	return s.turns
}

// Run plays the session to its end and saves the transcript. The
// transcript is returned even when the session stopped on an error.
func (s *Session) Run(ctx context.Context) (*store.Transcript, error) {
	ctx, span := observability.StartSpan(ctx, "session.run",
		attribute.String("session.id", s.id),
		attribute.String("session.client", s.client.Name()),
		attribute.String("session.therapist", s.therapist.Name()),
		attribute.Int("session.max_turns", s.cfg.MaxTurns),
	)

	started := time.Now().UTC()
	s.logger.InfoContext(ctx, "session started",
		"client", s.client.Name(), "therapist", s.therapist.Name(), "max_turns", s.cfg.MaxTurns)

	reason, runErr := s.loop(ctx)
	s.closeAgents()

	transcript := s.transcript(reason, started)
	saveErr := s.save(ctx, transcript)

	span.SetAttributes(
		attribute.Int("session.turns", s.turns),
		attribute.String("session.end_reason", string(reason)),
	)
	err := runErr
	if err == nil {
		err = saveErr
	}
	observability.EndSpan(span, err)
	s.metrics.RecordSession(ctx, string(reason), s.turns)

	s.logger.InfoContext(ctx, "session ended", "turns", s.turns, "end_reason", reason)
	if runErr != nil {
		return transcript, fmt.Errorf("session %s: %w", s.id, errors.Join(runErr, saveErr))
	}
	if saveErr != nil {
		return transcript, fmt.Errorf("session %s: %w", s.id, saveErr)
	}
	return transcript, nil
}

func (s *Session) loop(ctx context.Context) (EndReason, error) {
	s.therapist.SetClient(s.client.Name())
	s.client.SetTherapist(s.therapist.Name())

	msg := StartMessage
	for {
		if err := ctx.Err(); err != nil {
			return EndReasonCanceled, err
		}

		therapistMsg, err := s.therapist.Respond(ctx, msg)
		if err != nil {
			return failReason(ctx), err
		}
		if IsEndSignal(therapistMsg.Content) {
			return EndReasonTherapistEnded, nil
		}
		s.record(ctx, s.therapist.Name(), therapistMsg)

		clientMsg, err := s.client.Respond(ctx, s.therapist.Name()+": "+therapistMsg.Content)
		if err != nil {
			return failReason(ctx), err
		}
		s.turns++
		s.record(ctx, s.client.Name(), clientMsg)
		msg = s.client.Name() + ": " + clientMsg.Content

		if s.turns >= s.cfg.MaxTurns {
			return EndReasonMaxTurns, nil
		}
		if s.tracker.Exceeded(s.cfg.TokenBudget) {
			s.logger.WarnContext(ctx, "token budget exhausted", "budget", s.cfg.TokenBudget, "used", s.tracker.Total().TotalTokens)
			return EndReasonBudget, nil
		}
		if left := s.cfg.MaxTurns - s.turns; s.cfg.ReminderTurnNum > 0 && left <= s.cfg.ReminderTurnNum {
			reminder := Reminder(left)
			msg += "\n" + reminder
			s.emit(ctx, "Moderator", agent.NewMessage(agent.RoleModerator, reminder))
		}
	}
}

func (s *Session) closeAgents() {
	for _, a := range []interface{}{s.client, s.therapist} {
		if c, ok := a.(io.Closer); ok {
			if err := c.Close(); err != nil {
				s.logger.Warn("failed to close agent", "error", err)
			}
		}
	}
}

func failReason(ctx context.Context) EndReason {
	if ctx.Err() != nil {
		return EndReasonCanceled
	}
	return EndReasonError
}

func (s *Session) record(ctx context.Context, speaker string, msg *agent.Message) {
	s.messages = append(s.messages, msg)
	s.emit(ctx, speaker, msg)
}

func (s *Session) emit(ctx context.Context, speaker string, msg *agent.Message) {
	if s.onTurn == nil {
		return
	}
	turn := s.turns
	if msg.Role == agent.RoleTherapist {
		turn++
	}
	s.onTurn(ctx, Event{SessionID: s.id, Turn: turn, MaxTurns: s.cfg.MaxTurns, Speaker: speaker, Message: msg})
}

func (s *Session) transcript(reason EndReason, started time.Time) *store.Transcript {
	t := &store.Transcript{
		ID:        s.id,
		Profile:   s.client.Profile(),
		Messages:  s.messages,
		NumTurns:  s.turns,
		EndReason: string(reason),
		Client:    s.client.Name(),
		Therapist: s.therapist.Name(),
		StartedAt: started,
		EndedAt:   time.Now().UTC(),
	}
	if t.Messages == nil {
		t.Messages = []*agent.Message{}
	}
	if intro := s.client.Introspect(); intro != nil {
		t.ClientState = intro.InternalState
	}
	if s.tracker != nil {
		summary := s.tracker.Summary()
		t.Usage = &summary
	}
	return t
}

// save persists t even if ctx was canceled.
func (s *Session) save(ctx context.Context, t *store.Transcript) error {
	if s.storage == nil {
		return nil
	}
	if err := s.storage.Save(context.WithoutCancel(ctx), t); err != nil {
		s.logger.ErrorContext(ctx, "failed to save transcript", "error", err)
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}
