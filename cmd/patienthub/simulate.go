package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/patienthub/patienthub-go/budget"
	"github.com/patienthub/patienthub-go/persona"
	"github.com/patienthub/patienthub-go/session"
	"github.com/patienthub/patienthub-go/store"
)

type simulateFlags struct {
	count     int
	parallel  int
	maxTurns  int
	dataIdx   int
	output    string
	quiet     bool
	noColor   bool
	maxTokens int
}

func newSimulateCmd(a *app) *cobra.Command {
	var flags simulateFlags
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run one or more simulated sessions",
		Long: `Runs sessions between the configured client and therapist and saves
each transcript. With --count above one, session i plays the profile at
data_idx+i, wrapping around the profile file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			applySimulateFlags(cmd, a, flags)
			return runSimulate(cmd.Context(), a, flags)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&flags.count, "count", "n", 0, "number of sessions (default from config)")
	f.IntVarP(&flags.parallel, "parallel", "p", 0, "sessions run at once (default from config)")
	f.IntVar(&flags.maxTurns, "max-turns", 0, "turn limit per session")
	f.IntVar(&flags.dataIdx, "data-idx", 0, "index of the first client profile")
	f.IntVar(&flags.maxTokens, "token-budget", 0, "stop a session after this many tokens")
	f.StringVarP(&flags.output, "output", "o", "", "storage path or URL for transcripts")
	f.BoolVarP(&flags.quiet, "quiet", "q", false, "do not print the conversation")
	f.BoolVar(&flags.noColor, "no-color", false, "print without ANSI colors")
	return cmd
}

func applySimulateFlags(cmd *cobra.Command, a *app, flags simulateFlags) {
	f := cmd.Flags()
	if f.Changed("count") {
		a.cfg.Session.Count = flags.count
	}
	if f.Changed("parallel") {
		a.cfg.Session.Parallel = flags.parallel
	}
	if f.Changed("max-turns") {
		a.cfg.Session.MaxTurns = flags.maxTurns
	}
	if f.Changed("data-idx") {
		a.cfg.Client.DataIdx = flags.dataIdx
	}
	if f.Changed("token-budget") {
		a.cfg.Session.TokenBudget = flags.maxTokens
	}
	if flags.output != "" {
		a.cfg.Storage.URL = flags.output
	}
}

func runSimulate(ctx context.Context, a *app, flags simulateFlags) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	storage, err := a.openStorage(ctx)
	if err != nil {
		return err
	}
	defer storage.Close()

	var profiles []persona.Profile
	if a.cfg.Client.DataPath != "" {
		if profiles, err = persona.LoadProfiles(a.cfg.Client.DataPath); err != nil {
			return err
		}
	}

	var onTurn session.TurnFunc
	if !flags.quiet {
		onTurn = session.NewPrinter(os.Stdout, !flags.noColor)
	}

	sc := a.cfg.Session
	factory := func(ctx context.Context, i int) (*session.Session, error) {
		tracker := budget.NewTracker(nil)
		deps := clientDeps{tracker: tracker, in: os.Stdin, out: os.Stdout}
		if len(profiles) > 0 {
			p := profiles[(a.cfg.Client.DataIdx+i)%len(profiles)]
			deps.profile = &p
		}
		client, err := a.newClient(ctx, deps)
		if err != nil {
			return nil, err
		}
		therapist, err := a.newTherapist(ctx, tracker, os.Stdin, os.Stdout)
		if err != nil {
			closeAgent(client, a.logger)
			return nil, err
		}
		return session.New(sc.Config, client, therapist, session.Options{
			Storage: storage,
			Tracker: tracker,
			Metrics: a.metrics,
			Logger:  a.logger,
			OnTurn:  onTurn,
		})
	}

	results, err := session.RunBatch(ctx, sc.Count, sc.Parallel, factory)
	printBatchSummary(results)
	return err
}

func printBatchSummary(results []*store.Transcript) {
	if len(results) <= 1 {
		for _, t := range results {
			fmt.Fprintf(os.Stderr, "session %s ended (%s) after %d turns\n", t.ID, t.EndReason, t.NumTurns)
		}
		return
	}
	var tokens int
	var cost float64
	for _, t := range results {
		if t.Usage != nil {
			tokens += t.Usage.TotalTokens
			cost += t.Usage.Cost
		}
		fmt.Fprintf(os.Stderr, "%s  %-16s turns=%-3d end=%s\n", t.ID, t.Client, t.NumTurns, t.EndReason)
	}
	fmt.Fprintf(os.Stderr, "%d sessions, %d tokens, $%.4f\n", len(results), tokens, cost)
}
