package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rpattn/assessor/internal/assessment"
	"github.com/rpattn/assessor/internal/jobs"
	"github.com/rpattn/assessor/internal/logging"
	"github.com/rpattn/assessor/internal/recalc"
)

type recalcOutput struct {
	Command    string        `json:"command"`
	DurationMS int64         `json:"duration_ms"`
	Result     recalc.Result `json:"result"`
}

func newRecalcCmd(g *globals) *cobra.Command {
	var (
		municipalityID string
		year           int
		keys           []string
		actorID        string
	)

	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Recalculate land values for a municipality year in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			mid, err := uuid.Parse(strings.TrimSpace(municipalityID))
			if err != nil {
				return fmt.Errorf("invalid --municipality: %w", err)
			}
			if year <= 0 {
				return fmt.Errorf("--year must be positive")
			}

			a, err := newApp(cmd.Context(), g.cfg, g.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			log := logging.Component(g.logger, "recalc").WithFields(logrus.Fields{"municipality_id": mid, "year": year})
			start := time.Now()
			result, err := a.service.RecalculateLand(cmd.Context(), assessment.LandRecalculation{
				MunicipalityID: mid,
				Year:           year,
				Keys:           keys,
				ActorID:        actorID,
			}, func(_ context.Context, p jobs.Progress) {
				log.WithFields(logrus.Fields{"processed": p.TotalProcessed, "total": p.Total, "errors": p.Errors}).Info("progress")
			})
			if err != nil {
				return err
			}
			return writeJSON(recalcOutput{
				Command:    "recalc",
				DurationMS: time.Since(start).Milliseconds(),
				Result:     result,
			})
		},
	}

	cmd.Flags().StringVar(&municipalityID, "municipality", "", "Municipality UUID (required)")
	cmd.Flags().IntVar(&year, "year", 0, "Assessment year (required)")
	cmd.Flags().StringSliceVar(&keys, "keys", nil, "Limit to these parcel keys")
	cmd.Flags().StringVar(&actorID, "actor", "cli", "Actor recorded on recalculated records")
	_ = cmd.MarkFlagRequired("municipality")
	_ = cmd.MarkFlagRequired("year")
	return cmd
}
