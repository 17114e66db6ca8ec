package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bpmanager/bpmanager/pkg/config"
	"github.com/bpmanager/bpmanager/pkg/stores"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), cmd, cfg)
		},
	}
}

func runMigrate(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	store, err := stores.NewSQLiteStore(cfg.Database)
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	version, dirty, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Database %s at schema version %d (dirty: %v)\n", cfg.Database.Path, version, dirty)
	return nil
}
