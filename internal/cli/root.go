// Package cli implements the aicaptcha command line: the HTTP service and the
// maintenance commands that work directly on the interaction store.
package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"aicaptcha/internal/config"
)

// NewRootCmd creates the root command with every sub-command attached.
func NewRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "aicaptcha",
		Short: "Behavioural CAPTCHA service",
		Long: `aicaptcha scores client interaction telemetry (mouse, keyboard, scroll,
touch, form and click events) with a classifier and issues an RS256 signed
attestation of the score. Labeled interactions are stored and periodically
used to retrain the classifier, which is hot-swapped without a restart.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the configuration file")

	cmd.AddCommand(
		NewServeCmd(&configPath),
		NewLabelsCmd(&configPath),
		NewFeaturesCmd(&configPath),
		NewRetrainCmd(&configPath),
		NewKeygenCmd(&configPath),
	)
	return cmd
}

// setup loads the configuration and builds the logger for a command.
func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
