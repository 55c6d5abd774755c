package main

import (
	"neonetworker/internal/database"
	"neonetworker/internal/logging"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closer, err := opts.load()
			if err != nil {
				return err
			}
			defer closeQuietly(closer)

			db, err := database.Open(cfg.Database, logging.Component(logger, "database"))
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			logger.Info().Str("dialect", db.Dialect()).Msg("schema migrated")
			return nil
		},
	}
}
