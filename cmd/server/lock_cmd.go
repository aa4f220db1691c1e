package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rpattn/assessor/internal/domain"
)

type yearFlags struct {
	municipalityID string
	year           int
}

func (f *yearFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.municipalityID, "municipality", "", "Municipality UUID (required)")
	cmd.Flags().IntVar(&f.year, "year", 0, "Assessment year (required)")
	_ = cmd.MarkFlagRequired("municipality")
	_ = cmd.MarkFlagRequired("year")
}

func (f *yearFlags) parse() (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(f.municipalityID))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --municipality: %w", err)
	}
	if f.year <= 0 {
		return uuid.Nil, fmt.Errorf("--year must be positive")
	}
	return id, nil
}

func newLockCmd(g *globals) *cobra.Command {
	var (
		flags    yearFlags
		lockedBy string
		reason   string
	)
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Lock a municipality year against edits",
		RunE: func(cmd *cobra.Command, args []string) error {
			mid, err := flags.parse()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			lock, err := a.service.LockYear(cmd.Context(), domain.YearLock{
				MunicipalityID: mid,
				Year:           flags.year,
				LockedBy:       lockedBy,
				Reason:         reason,
			})
			if err != nil {
				return err
			}
			return writeJSON(lock)
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&lockedBy, "by", "cli", "Who locks the year")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the year is locked")
	return cmd
}

func newUnlockCmd(g *globals) *cobra.Command {
	var flags yearFlags
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Reopen a locked municipality year",
		RunE: func(cmd *cobra.Command, args []string) error {
			mid, err := flags.parse()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.service.UnlockYear(cmd.Context(), mid, flags.year); err != nil {
				return err
			}
			g.logger.WithField("municipality_id", mid).WithField("year", flags.year).Info("year unlocked")
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}
