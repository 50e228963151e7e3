package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/patienthub/patienthub-go/agent"
	"github.com/patienthub/patienthub-go/budget"
	"github.com/patienthub/patienthub-go/clients"
	"github.com/patienthub/patienthub-go/safety"
	"github.com/patienthub/patienthub-go/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve live chat sessions over a websocket",
		Long: `Starts the HTTP server. Each websocket connection on /ws gets a fresh
simulated client; the connected user is the therapist.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			if a.cfg.Client.AgentType == clients.TypeUser {
				a.cfg.Client.AgentType = clients.TypeRoleplayDoh
			}

			ctx := cmd.Context()
			storage, err := a.openStorage(ctx)
			if err != nil {
				return err
			}
			defer storage.Close()

			srv, err := server.New(server.Options{
				Session: a.cfg.Session.Config,
				NewClient: func(ctx context.Context, tracker *budget.Tracker) (agent.Client, error) {
					return a.newClient(ctx, clientDeps{tracker: tracker})
				},
				Storage:        storage,
				Metrics:        a.metrics,
				Guard:          safety.NewGuard(a.cfg.Server.Guard),
				ServeMetrics:   a.cfg.Observability.Metrics,
				AllowedOrigins: a.cfg.Server.AllowedOrigins,
				Logger:         a.logger,
			})
			if err != nil {
				return err
			}
			return srv.ListenAndServe(ctx, a.cfg.Server.Addr, a.cfg.Server.ReadHeaderTimeout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}
