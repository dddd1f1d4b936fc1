package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"aicaptcha/internal/retrain"
)

// NewRetrainCmd creates the 'retrain' command.
func NewRetrainCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "retrain",
		Short: "Retrain the classifier once and write the model artifact",
		Long: `Run the configured trainer on every labeled interaction and write the
resulting artifact to classifier.artifact_path. A running service picks the
new model up on its next restart; use POST /api/retrain to retrain a running
service in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			artifact, err := a.retrainer.RetrainNow(cmd.Context())
			if errors.Is(err, retrain.ErrNoTrainer) {
				return fmt.Errorf("retrain.trainer.type is %q: %w", cfg.Retrain.Trainer.Type, err)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Model %s written to %s (%d layers, %d device families)\n",
				artifact.Version, cfg.Classifier.ArtifactPath, len(artifact.Layers), len(artifact.DeviceFamilies))
			return nil
		},
	}
}
