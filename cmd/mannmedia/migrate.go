package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rvndrmann/mannmediaagency-sub005/internal/migration"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// newMigrateCommand builds the migrate command and its subcommands.
func newMigrateCommand(configPath *string) *cobra.Command {
	var dbType string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
		Example: `  mannmedia migrate up
  mannmedia migrate up --config /etc/mannmedia/config.yaml
  mannmedia migrate down
  mannmedia migrate status
  mannmedia migrate steps -1
  mannmedia migrate force 2`,
	}
	cmd.PersistentFlags().StringVar(&dbType, "db-type", "", "database type: postgres, mysql, sqlite (default: from config)")

	// withCLI opens a migrator, runs fn and closes the migrator.
	withCLI := func(fn func(ctx context.Context, cli *migration.CLI) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if dbType != "" {
				cfg.Database.Driver = dbType
			}

			logger := initLogger(cfg.Log)
			defer func() { _ = logger.Sync() }()

			m, err := migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
			if err != nil {
				return fmt.Errorf("failed to create migrator: %w", err)
			}
			defer m.Close()

			return fn(cmd.Context(), migration.NewCLI(m, cmd.OutOrStdout()))
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE:  withCLI(func(ctx context.Context, cli *migration.CLI) error { return cli.RunUp(ctx) }),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE:  withCLI(func(ctx context.Context, cli *migration.CLI) error { return cli.RunDown(ctx) }),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			Args:  cobra.NoArgs,
			RunE:  withCLI(func(ctx context.Context, cli *migration.CLI) error { return cli.RunStatus(ctx) }),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show current migration version",
			Args:  cobra.NoArgs,
			RunE:  withCLI(func(ctx context.Context, cli *migration.CLI) error { return cli.RunVersion(ctx) }),
		},
		&cobra.Command{
			Use:   "steps <n>",
			Short: "Apply n migrations (negative n rolls back)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q: %w", args[0], err)
				}
				return withCLI(func(ctx context.Context, cli *migration.CLI) error { return cli.RunSteps(ctx, n) })(cmd, args)
			},
		},
		&cobra.Command{
			Use:   "force <version>",
			Short: "Force set migration version (use with caution)",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return withCLI(func(ctx context.Context, cli *migration.CLI) error { return cli.RunForce(ctx, v) })(cmd, args)
			},
		},
	)
	return cmd
}
