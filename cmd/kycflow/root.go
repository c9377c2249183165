package main

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"kycflow/internal/platform/config"
	"kycflow/internal/platform/logger"
	"kycflow/pkg/requestcontext"
)

// rootOptions holds what every command needs before it runs.
type rootOptions struct {
	cfg    config.Server
	logger *slog.Logger

	logLevel  string
	logFormat string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "kycflow",
		Short:         "Identity verification workflows and decisioning",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = opts.logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = opts.logFormat
			}
			opts.cfg = cfg
			opts.logger = logger.New(cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(opts.logger)
			cmd.SetContext(requestcontext.WithInvocationID(cmd.Context(), uuid.NewString()))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "log format (json|text)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newStartCommand(opts))
	cmd.AddCommand(newRunActionCommand(opts))

	return cmd
}
