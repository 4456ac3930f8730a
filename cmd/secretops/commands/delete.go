package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lobbi-Docs/secretops/internal/config"
)

func NewDeleteCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret from the writer provider",
		Long: `Delete a secret and all of its versions from the designated writer
provider. Deleting an absent secret is not an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			ctx := context.Background()
			resolver, err := buildResolver(ctx, cfg)
			if err != nil {
				return err
			}
			defer resolver.Close()

			deleted, err := resolver.Delete(ctx, name)
			if err != nil {
				return err
			}

			if deleted {
				cfg.Logger.Info("Deleted %s from provider %q", name, resolver.Writer().Name())
			} else {
				fmt.Printf("Secret %q was not present\n", name)
			}
			return nil
		},
	}

	return cmd
}
