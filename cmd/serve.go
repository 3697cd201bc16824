package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/research-agent/internal/investigate"
	"github.com/sells-group/research-agent/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and event stream",
	Long:  "Serves criteria, entities and investigations over HTTP. Tool approvals are answered through POST /api/approvals when --pause-between-searches is set, and progress streams on /api/events.",
	RunE: func(cmd *cobra.Command, args []string) error {
		investigateFlags.apply()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		gate := investigate.NewGate()
		env, err := initAgent(ctx, "serve", gate, logProgress)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := server.New(server.Config{
			Port:           port,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}, env.Runner, env.Store, gate, env.Bus)
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	addAgentFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}
