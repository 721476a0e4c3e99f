package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/keygate/internal/api"
	"github.com/keygate/internal/config"
	"github.com/keygate/internal/database"
	"github.com/keygate/internal/jobqueue"
	"github.com/keygate/internal/mailer"
)

// APICommand returns the CLI command for starting the API server.
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the Keygate API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
			&cli.BoolFlag{
				Name:  "no-queue",
				Usage: "Run without the background job queue (no email notices)",
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	check := CheckRequiredConfig()
	if len(check.Missing) > 0 {
		PrintConfigCheck(check)
		return fmt.Errorf("missing required configuration: %v", check.Missing)
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	db, dbURL, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrateAll(c.Context, db, dbURL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	var jobs *jobqueue.JobQueue
	if !c.Bool("no-queue") {
		m := mailer.New(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.User, cfg.SMTP.Pass, cfg.SMTP.From)
		if !m.Configured() {
			log.Warn().Msg("SMTP not configured, email notices will be dropped")
		}
		jobs, err = jobqueue.NewJobQueue(dbURL, db, m, cfg.License.ExpiryNoticeDays)
		if err != nil {
			return fmt.Errorf("failed to create job queue: %w", err)
		}
		if err := jobs.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
	}

	log.Info().Int("port", cfg.Server.Port).Msg("Starting Keygate API server")
	return api.NewServer(cfg, db, jobs).Start()
}

// openDatabase connects using the configured URL, falling back to
// DATABASE_URL resolution from the environment or the nearest .env file.
func openDatabase(cfg *config.Config) (*sql.DB, string, error) {
	dbURL := cfg.Database.URL
	if dbURL == "" {
		var err error
		dbURL, err = database.LoadDatabaseURL()
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve database URL: %w", err)
		}
	}
	db, err := database.Open(dbURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, dbURL, nil
}
