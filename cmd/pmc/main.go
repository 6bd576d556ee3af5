// Command pmc runs the parking availability assistant.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/everydev1618/pmc/config"
	"github.com/everydev1618/pmc/internal/logging"
)

var version = "dev"

var (
	cfgFile string

	loader   *config.Loader
	cfg      *config.Config
	logLevel = new(slog.LevelVar)
	logger   = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:   "pmc",
	Short: "WhatsApp assistant for parking lot availability",
	Long: `pmc answers drivers and parking lot managers over WhatsApp (and optionally
Telegram). Drivers look up lots, subscribe to availability alerts and report
free spots; managers keep their lot's availability current.

Settings come from pmc.yaml (or --config) and PMC_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		loader = config.NewLoader(cfgFile)
		var err error
		if cfg, err = loader.Load(); err != nil {
			return err
		}
		if err := applyLogLevel(cfg); err != nil {
			return err
		}
		logger = logging.New(os.Stderr, cfg.Dev(), logLevel)
		slog.SetDefault(logger)
		if f := loader.File(); f != "" {
			logger.Debug("config loaded", "file", f)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pmc %s\n", version)
	},
}

func applyLogLevel(c *config.Config) error {
	lvl, err := logging.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	logLevel.Set(lvl)
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./pmc.yaml)")
	rootCmd.AddCommand(serveCmd, syncIndexCmd, initIndexesCmd, seedCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
