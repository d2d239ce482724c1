package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/medimorph/medimorph/internal/infrastructure/database/postgres"
)

// newMigrateCommand mounts migrate up, down, and status.
func newMigrateCommand(cliCtx *CLIContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := cliCtx.Config
			if err := postgres.RunMigrations(postgres.DSN(cfg.Database), cfg.Database.MigrationPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := cliCtx.Config
			if err := postgres.RollbackMigration(postgres.DSN(cfg.Database), cfg.Database.MigrationPath, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := cliCtx.Config
			version, dirty, err := postgres.MigrationStatus(postgres.DSN(cfg.Database), cfg.Database.MigrationPath)
			if err != nil {
				return err
			}
			state := "clean"
			if dirty {
				state = "dirty"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (%s)\n", version, state)
			return nil
		},
	})

	return cmd
}
