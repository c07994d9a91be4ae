package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/novella/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the novella server",
	Long: `Start the novella HTTP server.

The server runs analysis jobs in the background and exposes them over a
JSON API. Saved progress, the LLM call log and finished reports live in the
home directory. Changes to the config file apply to jobs started afterwards.

Examples:
  novella serve                    # Start on the configured port (default 8080)
  novella serve --port 3000        # Start on custom port
  novella serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := loadEnvironment()
		if err != nil {
			return err
		}
		defer env.Close()

		conf := env.config.Get()
		host, port := conf.Server.Host, conf.Server.Port
		if cmd.Flags().Changed("host") {
			host = serveHost
		}
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		env.config.WatchConfig()
		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			Home:          env.home,
			ConfigManager: env.config,
			Logger:        env.logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
