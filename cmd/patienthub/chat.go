package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/patienthub/patienthub-go/budget"
	"github.com/patienthub/patienthub-go/clients"
	"github.com/patienthub/patienthub-go/session"
	"github.com/patienthub/patienthub-go/therapists"
)

func newChatCmd(a *app) *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a simulated agent in the terminal",
		Long: `Starts one session with you in the terminal. By default you are the
therapist and the configured client answers; type END to finish. With
--as client you play the client against the configured therapist.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch as {
			case "therapist":
				a.cfg.Therapist.AgentType = therapists.TypeUser
			case "client":
				a.cfg.Client.AgentType = clients.TypeUser
			default:
				return fmt.Errorf("--as must be therapist or client, got %q", as)
			}

			ctx := cmd.Context()
			storage, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer storage.Close()

			tracker := budget.NewTracker(nil)
			client, err := a.newClient(ctx, clientDeps{tracker: tracker, in: os.Stdin, out: os.Stdout})
			if err != nil {
				return err
			}
			therapist, err := a.newTherapist(ctx, tracker, os.Stdin, os.Stdout)
			if err != nil {
				closeAgent(client, a.logger)
				return err
			}

			s, err := session.New(a.cfg.Session.Config, client, therapist, session.Options{
				Storage: storage,
				Tracker: tracker,
				Metrics: a.metrics,
				Logger:  a.logger,
				OnTurn:  session.NewPrinter(os.Stdout, true),
			})
			if err != nil {
				return err
			}
			t, err := s.Run(ctx)
			if t != nil {
				fmt.Fprintf(os.Stderr, "session %s saved (%s, %d turns)\n", t.ID, t.EndReason, t.NumTurns)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&as, "as", "therapist", "your role: therapist or client")
	return cmd
}
