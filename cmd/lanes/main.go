package main

import (
	"context"
	"fmt"
	"os"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/lanes/internal/clock"
	"github.com/smallbiznis/lanes/internal/config"
	"github.com/smallbiznis/lanes/internal/migration"
	"github.com/smallbiznis/lanes/internal/observability"
	"github.com/smallbiznis/lanes/internal/scheduler"
	"github.com/smallbiznis/lanes/internal/server"
	"github.com/smallbiznis/lanes/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "lanes",
		Short:   "Tournament registration and ledger service",
		Version: Version,
		RunE:    runServe,
	}
	root.AddCommand(serveCmd(), migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the webhook replay job",
		RunE:  runServe,
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := fx.New(infrastructure(), fx.WithLogger(fxLogger))
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			return app.Stop(context.Background())
		},
	}
}

func runServe(*cobra.Command, []string) error {
	app := fx.New(
		infrastructure(),
		clock.Module,

		// Domains and the HTTP surface
		server.Module,

		// Background jobs
		scheduler.Module,

		fx.WithLogger(fxLogger),
	)
	app.Run()
	return app.Err()
}

// infrastructure opens the database and brings the schema up to date.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
	)
}

func fxLogger(log *zap.Logger) fxevent.Logger {
	return &fxevent.ZapLogger{Logger: log.Named("fx")}
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
