package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v2"

	"github.com/okian/stakerank/internal/adapters/repository"
	"github.com/okian/stakerank/internal/adapters/repository/migrations"
)

func main() {
	app := &cli.App{
		Name:  "migrate",
		Usage: "leaderboard database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "dsn",
				EnvVars:  []string{"STAKERANK_POSTGRES_DSN"},
				Usage:    "postgres connection string",
				Required: true,
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "init",
				Usage: "create migration tables",
				Action: withMigrator(func(c *cli.Context, m *migrate.Migrator) error {
					return m.Init(c.Context)
				}),
			},
			{
				Name:  "up",
				Usage: "apply pending migrations",
				Action: withMigrator(func(c *cli.Context, m *migrate.Migrator) error {
					if err := m.Lock(c.Context); err != nil {
						return err
					}
					defer m.Unlock(c.Context) //nolint:errcheck

					group, err := m.Migrate(c.Context)
					if err != nil {
						return err
					}
					if group.IsZero() {
						fmt.Println("no new migrations to run")
					} else {
						fmt.Printf("migrated to %s\n", group)
					}
					return nil
				}),
			},
			{
				Name:  "rollback",
				Usage: "roll back the last migration group",
				Action: withMigrator(func(c *cli.Context, m *migrate.Migrator) error {
					if err := m.Lock(c.Context); err != nil {
						return err
					}
					defer m.Unlock(c.Context) //nolint:errcheck

					group, err := m.Rollback(c.Context)
					if err != nil {
						return err
					}
					if group.IsZero() {
						fmt.Println("no groups to roll back")
					} else {
						fmt.Printf("rolled back %s\n", group)
					}
					return nil
				}),
			},
			{
				Name:  "status",
				Usage: "print migration status",
				Action: withMigrator(func(c *cli.Context, m *migrate.Migrator) error {
					ms, err := m.MigrationsWithStatus(c.Context)
					if err != nil {
						return err
					}
					fmt.Printf("migrations: %s\n", ms)
					fmt.Printf("unapplied:  %s\n", ms.Unapplied())
					fmt.Printf("last group: %s\n", ms.LastGroup())
					return nil
				}),
			},
			{
				Name:      "create",
				Usage:     "create a Go migration",
				ArgsUsage: "<name words...>",
				Action: withMigrator(func(c *cli.Context, m *migrate.Migrator) error {
					name := strings.Join(c.Args().Slice(), "_")
					if name == "" {
						return fmt.Errorf("migration name is required")
					}
					mf, err := m.CreateGoMigration(c.Context, name)
					if err != nil {
						return err
					}
					fmt.Printf("created migration %s (%s)\n", mf.Name, mf.Path)
					return nil
				}),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withMigrator opens the database named by --dsn for the duration of action.
func withMigrator(action func(*cli.Context, *migrate.Migrator) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		store, err := repository.OpenPostgres(c.Context, c.String("dsn"))
		if err != nil {
			return err
		}
		defer store.Close()

		return action(c, migrate.NewMigrator(store.DB(), migrations.Migrations))
	}
}
