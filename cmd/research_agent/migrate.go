package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/elijah-diekmann-ai/serendipity-deep-research/internal/db"
)

var migratePruneCache bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Applies the schema to DATABASE_URL. Every statement is idempotent, so the command is
safe to re-run. With --prune-cache, expired provider_cache rows are deleted afterwards.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migratePruneCache, "prune-cache", false, "Delete expired provider cache entries")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")

	if migratePruneCache {
		n, err := database.PruneCache(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d expired cache entries\n", n)
	}
	return nil
}
