package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"aicaptcha/internal/features"
	"aicaptcha/internal/models"
	"aicaptcha/internal/repository"
)

type recordLister interface {
	Get(ctx context.Context, id string) (*models.InteractionRecord, error)
	List(ctx context.Context, limit int) ([]models.InteractionRecord, error)
}

type featureLine struct {
	InteractionID string          `json:"interaction_id"`
	Label         *float64        `json:"label"`
	Device        string          `json:"device"`
	Features      features.Vector `json:"features"`
}

// NewFeaturesCmd creates the 'features' command.
func NewFeaturesCmd(configPath *string) *cobra.Command {
	var (
		id     string
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "features",
		Short: "Print the extracted features of stored interactions",
		Long: `Re-extract the feature vector of stored interactions from their raw
telemetry and print it. Records are listed newest first.`,
		Example: `  # Every record
  aicaptcha features

  # One record as JSON
  aicaptcha features --id 6f1c... --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			db, repo, err := openStore(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			return printFeatures(cmd.Context(), cmd.OutOrStdout(), repo, id, limit, asJSON)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Only this interaction")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of records (0 = all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output one JSON document per line")
	return cmd
}

func printFeatures(ctx context.Context, w io.Writer, src recordLister, id string, limit int, asJSON bool) error {
	var records []models.InteractionRecord
	if id != "" {
		rec, err := src.Get(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("interaction %s not found", id)
		}
		if err != nil {
			return err
		}
		records = append(records, *rec)
	} else {
		var err error
		if records, err = src.List(ctx, limit); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(w)
	for _, rec := range records {
		in, err := models.DecodeInteractions(rec.InteractionData)
		if err != nil {
			fmt.Fprintf(w, "Interaction ID: %s: unreadable interaction data: %v\n", rec.InteractionID, err)
			continue
		}
		v := features.Extract(models.InteractionSession{
			Interactions:  in,
			Duration:      rec.Duration,
			Viewport:      rec.Viewport,
			LoadTimestamp: rec.LoadTimestamp,
		})

		if asJSON {
			if err := enc.Encode(featureLine{
				InteractionID: rec.InteractionID,
				Label:         rec.Label,
				Device:        rec.UserAgent.Device,
				Features:      v,
			}); err != nil {
				return err
			}
			continue
		}

		fmt.Fprintf(w, "Interaction ID: %s\n", rec.InteractionID)
		for i, value := range v.Slice() {
			fmt.Fprintf(w, "  %-24s %g\n", features.Names[i], value)
		}
	}
	return nil
}
