package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/patienthub/patienthub-go/evaluation"
	"github.com/patienthub/patienthub-go/store"
)

type evaluateFlags struct {
	input       string
	sessionIDs  []string
	granularity string
	target      string
	dimensions  []string
	output      string
	baseline    string
}

// evaluationReport is written by the evaluate command.
type evaluationReport struct {
	Results    []*evaluation.Result    `json:"results"`
	Summary    []evaluation.Stat       `json:"summary"`
	Comparison []evaluation.Comparison `json:"comparison,omitempty"`
}

func newEvaluateCmd(a *app) *cobra.Command {
	var flags evaluateFlags
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Rate saved transcripts with an LLM judge",
		Long: `Rates transcripts on the configured dimensions. Transcripts come from a
JSON file (--input, one object or an array) or from the configured storage
(--session, repeatable; the latest session when neither is given).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ec := &a.cfg.Evaluator
			f := cmd.Flags()
			if f.Changed("granularity") {
				ec.Granularity = flags.granularity
			}
			if f.Changed("target") {
				ec.Target = flags.target
			}
			if f.Changed("dimension") {
				ec.Dimensions = flags.dimensions
			}
			if flags.output != "" {
				ec.Output = flags.output
			}
			return runEvaluate(cmd.Context(), a, flags)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.input, "input", "i", "", "transcript JSON file")
	f.StringArrayVar(&flags.sessionIDs, "session", nil, "session id in the configured storage")
	f.StringVar(&flags.granularity, "granularity", "", "session or turn")
	f.StringVar(&flags.target, "target", "", "role to rate: client or therapist")
	f.StringArrayVar(&flags.dimensions, "dimension", nil, "dimension to rate (repeatable)")
	f.StringVarP(&flags.output, "output", "o", "", "write the report here instead of stdout")
	f.StringVar(&flags.baseline, "baseline", "", "earlier report to compare the new scores against")
	return cmd
}

func runEvaluate(ctx context.Context, a *app, flags evaluateFlags) error {
	transcripts, err := loadTranscripts(ctx, a, flags)
	if err != nil {
		return err
	}

	ec := a.cfg.Evaluator
	model, err := a.model(ctx, "evaluator", ec.LLM, nil)
	if err != nil {
		return err
	}
	evaluator, err := evaluation.NewRatingEvaluator(model, ec.Config, a.logger)
	if err != nil {
		return err
	}

	report := evaluationReport{}
	for _, t := range transcripts {
		res, err := evaluator.Evaluate(ctx, t)
		if err != nil {
			return fmt.Errorf("evaluate session %s: %w", t.ID, err)
		}
		report.Results = append(report.Results, res)
	}
	report.Summary = evaluation.Summarize(report.Results...)
	if flags.baseline != "" {
		var base evaluationReport
		if err := readJSON(flags.baseline, &base); err != nil {
			return fmt.Errorf("read baseline: %w", err)
		}
		report.Comparison = evaluation.Compare(base.Results, report.Results, 0)
	}

	var w io.Writer = os.Stdout
	if ec.Output != "" {
		file, err := os.Create(ec.Output)
		if err != nil {
			return err
		}
		defer file.Close()
		w = file
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}

	for _, s := range report.Summary {
		fmt.Fprintf(os.Stderr, "%-12s %-16s n=%-3d mean=%.2f sd=%.2f\n", s.Dimension, s.Aspect, s.N, s.Mean, s.StdDev)
	}
	for _, c := range report.Comparison {
		mark := ""
		if c.Regressed() {
			mark = "  REGRESSED (" + string(c.Severity) + ")"
		}
		fmt.Fprintf(os.Stderr, "%-12s %-16s %.2f -> %.2f (%+.1f%%, p=%.3f)%s\n",
			c.Dimension, c.Aspect, c.BaselineMean, c.CandidateMean, c.ChangePercent, c.PValue, mark)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func loadTranscripts(ctx context.Context, a *app, flags evaluateFlags) ([]*store.Transcript, error) {
	if flags.input != "" {
		data, err := os.ReadFile(flags.input)
		if err != nil {
			return nil, err
		}
		ts, err := store.DecodeTranscripts(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", flags.input, err)
		}
		if len(ts) == 0 {
			return nil, fmt.Errorf("%s holds no transcripts", flags.input)
		}
		return ts, nil
	}

	storage, err := a.openStorage(ctx)
	if err != nil {
		return nil, err
	}
	defer storage.Close()

	if len(flags.sessionIDs) == 0 {
		latest, err := storage.List(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(latest) == 0 {
			return nil, fmt.Errorf("no saved sessions in %s", a.cfg.Storage.URL)
		}
		return latest, nil
	}

	ts := make([]*store.Transcript, 0, len(flags.sessionIDs))
	for _, id := range flags.sessionIDs {
		t, err := storage.Load(ctx, strings.TrimSpace(id))
		if err != nil {
			return nil, err
		}
		ts = append(ts, t)
	}
	return ts, nil
}
