package cmd

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/agentd/internal/config"
	"github.com/nextlevelbuilder/agentd/internal/store/pg"
)

// newMigrator builds a migrator over the embedded migration files, so
// the binary carries its own schema.
func newMigrator() (*migrate.Migrate, error) {
	cfg, err := config.Load(config.ResolvePath(cfgFile))
	if err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("AGENTD_POSTGRES_URL is not set (the Postgres mirror is optional; nothing to migrate)")
	}
	src, err := iofs.New(pg.MigrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the optional Postgres mirror schema",
	}
	cmd.AddCommand(migrateUpCmd(), migrateDownCmd(), migrateStatusCmd(), migrateForceCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()
			if err := m.Up(); err != nil && err != migrate.ErrNoChange {
				return fmt.Errorf("migrate up: %w", err)
			}
			v, dirty, _ := m.Version()
			slog.Info("migration complete", "version", v, "dirty", dirty)
			return nil
		},
	}
}

func migrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()
			if err := m.Steps(-1); err != nil && err != migrate.ErrNoChange {
				return fmt.Errorf("migrate down: %w", err)
			}
			v, dirty, _ := m.Version()
			slog.Info("rollback complete", "version", v, "dirty", dirty)
			return nil
		},
	}
}

func migrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show current schema version vs. required",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(cfgFile))
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("AGENTD_POSTGRES_URL is not set")
			}
			db, err := pg.Open(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()
			s, err := pg.CheckSchema(db)
			if err != nil {
				return err
			}
			fmt.Printf("schema: %s (required v%d)\n", s.Describe(), s.RequiredVersion)
			return nil
		},
	}
}

func migrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force <version>",
		Short: "Force the schema version after a failed migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			m, err := newMigrator()
			if err != nil {
				return err
			}
			defer m.Close()
			if err := m.Force(v); err != nil {
				return fmt.Errorf("migrate force: %w", err)
			}
			slog.Info("schema version forced", "version", v)
			return nil
		},
	}
}
