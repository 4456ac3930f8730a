package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Lobbi-Docs/secretops/internal/config"
	dserrors "github.com/Lobbi-Docs/secretops/internal/errors"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

func NewGetCommand(cfg *config.Config) *cobra.Command {
	var (
		version    int
		required   bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "get <name>",
		Short: "Get a single secret value",
		Long: `Retrieve and display a single secret value.

The secret is resolved through the provider chain in priority order. By
default only the raw value is printed, making it suitable for scripting.

Examples:
  # Get the current value
  secretops get database-url

  # Get a specific version
  secretops get database-url --version 2

  # Get value with metadata in JSON format
  secretops get api-key --json

  # Use in scripts
  export DB_URL=$(secretops get database-url)`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			ctx := context.Background()
			resolver, err := buildResolver(ctx, cfg)
			if err != nil {
				return err
			}
			defer resolver.Close()

			value, err := resolver.Get(ctx, name, &provider.GetOptions{
				Version:  version,
				Required: required,
			})
			if err != nil {
				return err
			}
			if value == nil {
				return dserrors.UserError{
					Message:    fmt.Sprintf("Secret '%s' not found in any provider", name),
					Suggestion: "Use 'secretops list' to see available secrets",
				}
			}

			if jsonOutput {
				out := struct {
					provider.SecretMetadata
					Value string `json:"value"`
				}{value.SecretMetadata, value.Value}
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(out)
			}

			fmt.Println(value.Value)
			return nil
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "Specific version to read (0 = current)")
	cmd.Flags().BoolVar(&required, "required", false, "Fail when the secret is absent or expired")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output value with metadata as JSON")

	return cmd
}
