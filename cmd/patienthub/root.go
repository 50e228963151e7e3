package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/patienthub/patienthub-go/adapter/llm"
	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/budget"
	"github.com/patienthub/patienthub-go/clients"
	"github.com/patienthub/patienthub-go/config"
	"github.com/patienthub/patienthub-go/middleware"
	"github.com/patienthub/patienthub-go/observability"
	"github.com/patienthub/patienthub-go/persona"
	"github.com/patienthub/patienthub-go/store"
	"github.com/patienthub/patienthub-go/therapists"
)

// app carries the loaded configuration and shared collaborators of one
// command invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	shutdown []func(context.Context) error
}

type rootFlags struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	a := &app{}

	root := &cobra.Command{
		Use:   "patienthub",
		Short: "Simulate and evaluate therapy sessions with LLM agents",
		Long: `patienthub runs multi-turn counseling sessions between a simulated
client and a therapist. Clients can revise their replies against expert
principles before answering; sessions end on the therapist's END, the
turn limit or the token budget, and every transcript is saved.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Context(), flags)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.Context())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "config file (default: search ./patienthub.yaml, ./config.yaml, ~/.config/patienthub)")
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the config")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&flags.logFormat, "log-format", "", "log format: text or json")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "shorthand for --log-level=debug")

	root.AddCommand(
		newSimulateCmd(a),
		newChatCmd(a),
		newEvaluateCmd(a),
		newServeCmd(a),
		newPrinciplesCmd(a),
		newInterviewCmd(a),
	)
	return root
}

func (a *app) init(ctx context.Context, flags rootFlags) error {
	if err := config.LoadDotEnv(flags.envFile); err != nil {
		return err
	}
	path, err := config.FindConfig(flags.configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if flags.logLevel != "" {
		cfg.Observability.Logging.Level = flags.logLevel
	}
	if flags.verbose {
		cfg.Observability.Logging.Level = "debug"
	}
	if flags.logFormat != "" {
		cfg.Observability.Logging.Format = flags.logFormat
	}
	a.cfg = cfg

	if a.logger, err = observability.ConfigureLogging(nil, cfg.Observability.Logging); err != nil {
		return err
	}
	if path != "" {
		a.logger.Debug("loaded config", "path", path)
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Observability.Tracing)
	if err != nil {
		return err
	}
	a.shutdown = append(a.shutdown, shutdownTracing)

	if cfg.Observability.Metrics {
		provider, err := observability.InitMetrics(ctx, cfg.Observability.Tracing.ServiceName)
		if err != nil {
			return err
		}
		a.shutdown = append(a.shutdown, provider.Shutdown)
		if a.metrics, err = observability.NewMetrics(nil); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	var errs []error
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		errs = append(errs, a.shutdown[i](ctx))
	}
	return errors.Join(errs...)
}

// model builds the chat model for role. Completions are bounded by the
// configured timeout, retried, traced and, when tracker is set, counted.
func (a *app) model(ctx context.Context, role string, override *llm.Config, tracker *budget.Tracker) (llm.LLM, error) {
	mc := a.cfg.ModelFor(override)
	base, err := llm.New(ctx, mc)
	if err != nil {
		return nil, fmt.Errorf("%s model: %w", role, err)
	}

	m := base
	if a.cfg.LLM.Timeout > 0 {
		m = middleware.Timeout(m, a.cfg.LLM.Timeout)
	}
	if mc.MaxRetries > 0 {
		retry := middleware.DefaultRetryConfig()
		retry.MaxAttempts = mc.MaxRetries + 1
		if a.cfg.LLM.RetryDelay > 0 {
			retry.InitialBackoff = a.cfg.LLM.RetryDelay
		}
		m = middleware.Retry(m, retry)
	}
	m = observability.TraceLLM(m, role, a.metrics)
	if tracker != nil {
		m = budget.Track(m, tracker, role)
	}
	a.logger.Debug("model ready", "role", role, "provider", mc.Provider, "model", m.Model())
	return m, nil
}

// clientDeps carries per-session inputs to newClient.
type clientDeps struct {
	tracker *budget.Tracker
	profile *persona.Profile
	in      io.Reader
	out     io.Writer
}

func (a *app) newClient(ctx context.Context, d clientDeps) (agent.Client, error) {
	cc := a.cfg.Client
	deps := clients.Deps{
		Profile: d.profile,
		Input:   d.in,
		Output:  d.out,
		Metrics: a.metrics,
		Logger:  a.logger,
	}
	if cc.AgentType != clients.TypeUser {
		var err error
		if deps.LLM, err = a.model(ctx, "client", cc.LLM, d.tracker); err != nil {
			return nil, err
		}
		if cc.QuestionLLM != nil {
			if deps.QuestionLLM, err = a.model(ctx, "question", cc.QuestionLLM, d.tracker); err != nil {
				return nil, err
			}
		}
		if cc.RevisionLLM != nil {
			if deps.RevisionLLM, err = a.model(ctx, "revision", cc.RevisionLLM, d.tracker); err != nil {
				return nil, err
			}
		}
	}
	return clients.New(cc.Config, deps)
}

func (a *app) newTherapist(ctx context.Context, tracker *budget.Tracker, in io.Reader, out io.Writer) (agent.Therapist, error) {
	tc := a.cfg.Therapist
	deps := therapists.Deps{Input: in, Output: out, Metrics: a.metrics, Logger: a.logger}
	if tc.AgentType == therapists.TypeBasic || tc.AgentType == therapists.TypeCBT {
		var err error
		if deps.LLM, err = a.model(ctx, "therapist", tc.LLM, tracker); err != nil {
			return nil, err
		}
	}
	return therapists.New(tc.Config, deps)
}

func (a *app) openStorage(ctx context.Context) (store.Storage, error) {
	sc := a.cfg.Storage
	s, err := store.Open(ctx, sc.URL, store.Options{TTL: sc.TTL, KeyPrefix: sc.KeyPrefix})
	if err != nil {
		return nil, fmt.Errorf("open storage %q: %w", sc.URL, err)
	}
	return s, nil
}

// closeAgent releases agents that hold files, such as a critique trace.
func closeAgent(v interface{}, logger *slog.Logger) {
	if c, ok := v.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close agent", "error", err)
		}
	}
}
