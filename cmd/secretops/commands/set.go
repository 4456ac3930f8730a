package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lobbi-Docs/secretops/internal/config"
	dserrors "github.com/Lobbi-Docs/secretops/internal/errors"
	"github.com/Lobbi-Docs/secretops/internal/logging"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

func NewSetCommand(cfg *config.Config) *cobra.Command {
	var (
		valueFlag   string
		stdinValue  bool
		scope       string
		tags        []string
		expiresIn   time.Duration
		noVersion   bool
	)

	cmd := &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret in the writer provider",
		Long: `Store a secret value through the designated writer provider.

The value comes from --value, or from stdin with --stdin so it never lands
in shell history.

Examples:
  # Store a value with a TTL
  secretops set api-key --value s3cret --expires-in 720h

  # Pipe the value in
  cat token.txt | secretops set deploy-token --stdin --scope ci --tag deploy`,
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

			opts := &provider.SetOptions{
				Scope:     scope,
				Tags:      tags,
				ExpiresIn: expiresIn,
			}
			if noVersion {
				createVersion := false
				opts.CreateVersion = &createVersion
			}

			meta, err := resolver.Set(ctx, name, value, opts)
			if err != nil {
				return err
			}

			cfg.Logger.Info("Stored %s (version %d, value %s) in provider %q",
				meta.Name, meta.Version, logging.Secret(value), meta.Provider)
			return nil
		},
	}

	cmd.Flags().StringVar(&valueFlag, "value", "", "Secret value")
	cmd.Flags().BoolVar(&stdinValue, "stdin", false, "Read the secret value from stdin")
	cmd.Flags().StringVar(&scope, "scope", "", "Scope to attach (default: global)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "Tag to attach (repeatable)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "TTL for the value (e.g. 720h)")
	cmd.Flags().BoolVar(&noVersion, "no-version", false, "Overwrite in place instead of creating a new version")

	return cmd
}

func readSecretValue(valueFlag string, stdinValue bool) (string, error) {
	if stdinValue {
		reader := bufio.NewReader(os.Stdin)
		data, err := reader.ReadString('\n')
		if err != nil && data == "" {
			return "", dserrors.UserError{
				Message:    "Failed to read secret value from stdin",
				Details:    fmt.Sprint(err),
				Suggestion: "Pipe the value in, e.g. 'echo -n value | secretops set name --stdin'",
			}
		}
		return strings.TrimRight(data, "\r\n"), nil
	}
	if valueFlag == "" {
		return "", dserrors.UserError{
			Message:    "Secret value is required",
			Suggestion: "Pass --value <value> or pipe the value with --stdin",
		}
	}
	return valueFlag, nil
}
