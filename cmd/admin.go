package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/keygate/internal/api/auth"
	"github.com/keygate/internal/config"
	"github.com/keygate/internal/database"
)

// AdminCommand returns the admin user management command.
func AdminCommand() *cli.Command {
	return &cli.Command{
		Name:  "admin",
		Usage: "Manage dashboard users",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a dashboard user",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "User email (login)", Required: true},
					&cli.StringFlag{Name: "name", Usage: "Display name", Required: true},
					&cli.StringFlag{Name: "password", Usage: "Initial password", Required: true},
					&cli.StringFlag{Name: "role", Usage: "Role: admin, manager or viewer", Value: auth.RoleAdmin},
				},
				Action: runAdminCreate,
			},
		},
	}
}

func runAdminCreate(c *cli.Context) error {
	role := c.String("role")
	if !auth.ValidRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	if len(c.String("password")) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	db, _, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(c.Context, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	user, err := auth.NewUserStore(db).Create(c.Context, c.String("email"), c.String("name"), c.String("password"), role)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("Created %s user %s (id %d)\n", user.Role, user.Email, user.ID)
	return nil
}
