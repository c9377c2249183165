package main

import (
	"github.com/spf13/cobra"

	"kycflow/internal/platform/postgres"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := postgres.Open(cmd.Context(), opts.cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			opts.logger.InfoContext(cmd.Context(), "schema applied")
			return nil
		},
	}
}
