// Package cmd defines the urlhealth command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlhealth/internal/config"
	"github.com/JakeFAU/urlhealth/internal/logging"
)

// rootOptions carries what PersistentPreRunE resolves for the subcommands.
type rootOptions struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{logger: zap.NewNop()}
	cmd := &cobra.Command{
		Use:   "urlhealth",
		Short: "Bulk URL health checks with streamed results.",
		Long: `urlhealth probes batches of (id, url) records with HEAD requests and
reports each result, together with running batch totals, as soon as it is known.

Run "urlhealth serve" for the HTTP service or "urlhealth check" to probe a
CSV or JSON file from the command line.`,
		SilenceUsage: true,

		// Config and logging are resolved once here so every subcommand sees
		// the same settings.
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			if _, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Debugf)); err != nil {
				logger.Warn("set GOMAXPROCS failed", zap.Error(err))
			}
			opts.cfg = cfg
			opts.logger = logger
			return nil
		},

		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			// Syncing stderr fails on some platforms; nothing useful to do about it.
			_ = opts.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML, TOML or JSON)")
	cmd.AddCommand(newServeCmd(opts), newCheckCmd(opts))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "urlhealth:", err)
		os.Exit(1)
	}
}
