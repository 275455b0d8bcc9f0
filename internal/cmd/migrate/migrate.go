package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/lightloop/chat-service/internal/config"
	registrymigrate "github.com/lightloop/chat-service/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	_ "github.com/lightloop/chat-service/internal/plugin/store/gormstore"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-url",
				Sources: cli.EnvVars("LIGHTLOOP_DB_URL"),
				Usage:   "Database connection URL",
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("LIGHTLOOP_DB_KIND"),
				Usage:   "Store backend (sqlite|postgres)",
				Value:   "sqlite",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			if cmd.String("db-url") != "" {
				cfg.DBURL = cmd.String("db-url")
			}
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.DatastoreMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
