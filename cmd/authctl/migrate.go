package main

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/spf13/cobra"

	"github.com/athalino-bakti/UTS/internal/config"
	"github.com/athalino-bakti/UTS/internal/database"
	"github.com/athalino-bakti/UTS/internal/logger"
)

func newMigrateCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migrations for the user store",
	}
	cmd.PersistentFlags().StringVar(&source, "source", "file://migrations", "migration source URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Run all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New("info", "text")
			log.Info().Msg("running migrations...")

			m, err := getMigrator(source)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback the last migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New("info", "text")
			log.Info().Msg("rolling back last migration...")

			m, err := getMigrator(source)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Steps(-1); err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}

			log.Info().Msg("rollback completed successfully")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := getMigrator(source)
			if err != nil {
				return err
			}
			defer m.Close()

			version, dirty, err := m.Version()
			if errors.Is(err, migrate.ErrNilVersion) {
				fmt.Fprintln(cmd.OutOrStdout(), "No migrations have been applied")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to get version: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Current version: %d\nDirty: %v\n", version, dirty)
			return nil
		},
	})

	return cmd
}

func getMigrator(source string) (*migrate.Migrate, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}

	return m, nil
}
