package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/patienthub/patienthub-go/budget"
	"github.com/patienthub/patienthub-go/interview"
)

func newInterviewCmd(a *app) *cobra.Command {
	var (
		questions string
		num       int
		output    string
	)
	cmd := &cobra.Command{
		Use:   "interview",
		Short: "Ask the simulated client a list of survey questions",
		Long: `Interviews the configured client outside a therapy session. Questions
come from --questions (a JSON array, or an object with a "questions" array)
or a built-in intake survey, and are asked one at a time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ic := a.cfg.Interview
			if questions != "" {
				ic.QuestionsPath = questions
			}
			if num > 0 {
				ic.NumQuestions = num
			}
			if output != "" {
				ic.Output = output
			}

			survey := interview.NewSurvey(interview.DefaultQuestions)
			if ic.QuestionsPath != "" {
				var err error
				if survey, err = interview.LoadSurvey(ic.QuestionsPath); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			client, err := a.newClient(ctx, clientDeps{tracker: budget.NewTracker(nil), in: os.Stdin, out: os.Stdout})
			if err != nil {
				return err
			}
			defer closeAgent(client, a.logger)

			w := cmd.OutOrStdout()
			res, err := interview.Run(ctx, client, survey, ic, interview.Options{
				Logger: a.logger,
				OnExchange: func(i int, e interview.Exchange) {
					fmt.Fprintf(w, "[%d] %s: %s\n    %s: %s\n", i+1, interview.Speaker, e.Question, client.Name(), e.Answer)
				},
			})
			if err != nil {
				return err
			}
			if ic.Output != "" {
				fmt.Fprintf(os.Stderr, "interview %s saved to %s (%d answers)\n", res.ID, ic.Output, len(res.Exchanges))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&questions, "questions", "q", "", "survey JSON file (default from config, else built-in)")
	f.IntVarP(&num, "num-questions", "n", 0, "number of questions to ask")
	f.StringVarP(&output, "output", "o", "", "write the interview JSON here")
	return cmd
}
