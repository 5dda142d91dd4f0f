package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, logger, b, cleanup, err := bootstrap(ctx, *configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := b.store.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate %s: %w", cfg.Store, err)
			}
			logger.InfoContext(ctx, "migrations applied", "store", cfg.Store)
			return nil
		},
	}
}
