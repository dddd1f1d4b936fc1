package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"aicaptcha/internal/signing"
)

// NewKeygenCmd creates the 'keygen' command.
func NewKeygenCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Create the signing key pair if absent and print the public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			authority, err := signing.LoadOrGenerate(cfg.Signing.KeyDir, cfg.Signing.KeyBits, logger)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), authority.PublicKeyPEM())
			return nil
		},
	}
}
