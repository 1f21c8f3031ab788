package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-rate-engine/internal/repo"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the rule, rate and job tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context(), "migrate")
			if err != nil {
				return err
			}
			defer rt.close(context.Background())

			if err := repo.AutoMigrate(rt.db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", rt.cfg.DB.Driver)
			return nil
		},
	}
}
