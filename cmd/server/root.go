package main

import (
	"encoding/json"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rpattn/assessor/internal/config"
	"github.com/rpattn/assessor/internal/logging"
)

// globals are resolved once in the root pre-run and shared by subcommands.
type globals struct {
	configDir string
	logLevel  string

	cfg    config.Config
	logger *logrus.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	cmd := &cobra.Command{
		Use:           "assessor",
		Short:         "Year-versioned assessment records with copy-on-write edits",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(g.configDir)
			if err != nil {
				return err
			}
			if g.logLevel != "" {
				cfg.Log.Level = g.logLevel
			}
			g.cfg = cfg
			g.logger = logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
			if cfg.File != "" {
				g.logger.WithField("file", cfg.File).Debug("loaded config file")
			} else {
				g.logger.Debug("no config.yaml found, using defaults and env vars")
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&g.configDir, "config-dir", ".", "Directory containing config.yaml")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Override log.level")

	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newMigrateCmd(g))
	cmd.AddCommand(newRecalcCmd(g))
	cmd.AddCommand(newLockCmd(g))
	cmd.AddCommand(newUnlockCmd(g))
	return cmd
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
