package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/everydev1618/pmc/config"
)

var watchConfig bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server, workers and scheduler",
	Long: `Starts the HTTP server (WhatsApp webhook, health check, admin API), the
message workers, the maintenance jobs and, when a token is configured, the
Telegram poller. Stops gracefully on SIGINT or SIGTERM.

With --watch the config file is watched and the whole stack restarts with
the new settings when it changes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !watchConfig {
			return serveOnce(cmd.Context(), cfg)
		}
		return serveWatching(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVarP(&watchConfig, "watch", "w", false, "restart on config file changes")
}

func serveOnce(ctx context.Context, c *config.Config) error {
	a, err := buildApp(ctx, c, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.server.Run(ctx)
}

func serveWatching(ctx context.Context) error {
	current := cfg
	for {
		runCtx, cancel := context.WithCancel(ctx)
		next := make(chan *config.Config, 1)
		watched := make(chan struct{})
		go func() {
			defer close(watched)
			err := loader.Watch(runCtx, func(c *config.Config, err error) {
				if err != nil {
					logger.Error("config reload rejected", "error", err)
					return
				}
				select {
				case next <- c:
				default:
				}
				cancel()
			})
			if err != nil {
				logger.Warn("config watch disabled", "error", err)
			}
		}()

		err := serveOnce(runCtx, current)
		cancel()
		<-watched

		if ctx.Err() != nil {
			return nil
		}
		select {
		case c := <-next:
			if err := applyLogLevel(c); err != nil {
				logger.Error("config reload rejected", "error", err)
				return err
			}
			current = c
			logger.Info("config changed, restarting")
		default:
			return err
		}
	}
}
