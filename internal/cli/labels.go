package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"aicaptcha/internal/models"
)

type labelCounter interface {
	LabelCounts(ctx context.Context) ([]models.LabelCount, int, error)
}

// NewLabelsCmd creates the 'labels' command.
func NewLabelsCmd(configPath *string) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "labels",
		Short: "Print the label histogram of the interaction store",
		Args:  cobra.NoArgs,
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

			return printLabels(cmd.Context(), cmd.OutOrStdout(), repo, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func printLabels(ctx context.Context, w io.Writer, src labelCounter, asJSON bool) error {
	counts, unlabeled, err := src.LabelCounts(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		return json.NewEncoder(w).Encode(map[string]interface{}{
			"labels":    counts,
			"unlabeled": unlabeled,
		})
	}

	if len(counts) == 0 {
		fmt.Fprintln(w, "No labeled interactions.")
	}
	for _, c := range counts {
		fmt.Fprintf(w, "Label: %g, Count: %d\n", c.Label, c.Count)
	}
	fmt.Fprintf(w, "Unlabeled: %d\n", unlabeled)
	return nil
}
