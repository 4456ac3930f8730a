package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Lobbi-Docs/secretops/internal/config"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

func NewRotateCommand(cfg *config.Config) *cobra.Command {
	var (
		valueFlag    string
		stdinValue   bool
		expireOld    bool
	)

	cmd := &cobra.Command{
		Use:   "rotate <name>",
		Short: "Rotate a secret to a new value",
		Long: `Replace a secret's value while preserving its scope and tags. The
previous version stays readable by explicit version number; with
--expire-old it is marked expired and hidden from normal reads.

Examples:
  secretops rotate api-key --value new-s3cret
  openssl rand -hex 32 | secretops rotate signing-key --stdin --expire-old`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			value, err := readSecretValue(valueFlag, stdinValue)
			if err != nil {
				return err
			}

			ctx := context.Background()
			resolver, err := buildResolver(ctx, cfg)
			if err != nil {
				return err
			}
			defer resolver.Close()

			meta, err := resolver.Rotate(ctx, name, &provider.RotateOptions{
				NewValue:         value,
				ExpireOldVersion: expireOld,
			})
			if err != nil {
				return err
			}

			cfg.Logger.Info("Rotated %s to version %d in provider %q",
				meta.Name, meta.Version, meta.Provider)
			return nil
		},
	}

	cmd.Flags().StringVar(&valueFlag, "value", "", "New secret value")
	cmd.Flags().BoolVar(&stdinValue, "stdin", false, "Read the new value from stdin")
	cmd.Flags().BoolVar(&expireOld, "expire-old", false, "Expire the superseded version")

	return cmd
}
