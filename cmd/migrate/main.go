package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/titovtima/songsServer/internal/config"
	"github.com/titovtima/songsServer/internal/logging"
	"github.com/titovtima/songsServer/migrations"
)

func main() {
	logging.SetGlobalLogger(logging.New(logging.Config{Level: "info", Format: "text"}))

	app := &cli.Command{
		Name:  "migrate",
		Usage: "Apply or roll back the songs server schema",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "PostgreSQL connection URL, defaults to the server configuration",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply all pending migrations",
				Action: withMigrator(up),
			},
			{
				Name:  "down",
				Usage: "Roll back migrations",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "steps",
						Usage: "Number of migrations to roll back, 0 rolls back everything",
						Value: 1,
					},
				},
				Action: withMigrator(down),
			},
			{
				Name:   "version",
				Usage:  "Print the current schema version",
				Action: withMigrator(version),
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
}

type migrateAction func(ctx context.Context, cmd *cli.Command, m *migrate.Migrate) error

func withMigrator(action migrateAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		dsn := cmd.String("database-url")
		if dsn == "" {
			db, err := config.LoadDatabase()
			if err != nil {
				return err
			}
			dsn = db.URL
		}

		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		driver, err := postgres.WithInstance(db, &postgres.Config{})
		if err != nil {
			return fmt.Errorf("postgres driver: %w", err)
		}
		source, err := iofs.New(migrations.FS, ".")
		if err != nil {
			return fmt.Errorf("migration source: %w", err)
		}
		m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		m.Log = migrateLogger{logger: log.Logger}

		return action(ctx, cmd, m)
	}
}

func up(_ context.Context, _ *cli.Command, m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	log.Info().Msg("migrations applied")
	return nil
}

func down(_ context.Context, cmd *cli.Command, m *migrate.Migrate) error {
	var err error
	if steps := cmd.Int("steps"); steps > 0 {
		err = m.Steps(-int(steps))
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("roll back migrations: %w", err)
	}
	log.Info().Msg("migrations rolled back")
	return nil
}

func version(_ context.Context, _ *cli.Command, m *migrate.Migrate) error {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Info().Msg("no migrations applied")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read version: %w", err)
	}
	log.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
	return nil
}

// migrateLogger adapts zerolog to migrate.Logger.
type migrateLogger struct {
	logger zerolog.Logger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Info().Msgf(format, v...)
}

func (l migrateLogger) Verbose() bool {
	return false
}
