package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/urfave/cli/v2"

	"github.com/keygate/internal/config"
	"github.com/keygate/internal/database"
)

// MigrateCommand returns the CLI command for applying database migrations.
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			db, dbURL, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := migrateAll(c.Context, db, dbURL); err != nil {
				return err
			}
			fmt.Println("Migrations applied")
			return nil
		},
	}
}

// migrateAll applies the application schema and the job queue's own tables.
func migrateAll(ctx context.Context, db *sql.DB, dbURL string) error {
	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("schema migration: %w", err)
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("job queue migration pool: %w", err)
	}
	defer pool.Close()

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("job queue migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("job queue migration: %w", err)
	}
	return nil
}
