package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/assessor/internal/config"
	"github.com/rpattn/assessor/internal/db"
)

func newMigrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch g.cfg.Driver {
			case config.DriverPostgres:
				conn, err := db.NewConnection(cmd.Context(), g.cfg.Database)
				if err != nil {
					return err
				}
				defer conn.Close()
				if err := db.RunMigrations(conn.Pool); err != nil {
					return err
				}
			case config.DriverSQLite:
				sqlDB, err := db.OpenSQLite(cmd.Context(), g.cfg.SQLite.Path)
				if err != nil {
					return err
				}
				defer sqlDB.Close()
				if err := db.RunSQLiteMigrations(sqlDB); err != nil {
					return err
				}
			default:
				return fmt.Errorf("driver %q has no migrations", g.cfg.Driver)
			}
			g.logger.WithField("driver", g.cfg.Driver).Info("migrations applied")
			return nil
		},
	}
}
