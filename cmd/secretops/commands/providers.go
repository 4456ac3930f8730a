package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Lobbi-Docs/secretops/internal/config"
	"github.com/Lobbi-Docs/secretops/internal/providers"
)

func NewProvidersCommand(cfg *config.Config) *cobra.Command {
	var health bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List provider types and configured instances",
		Long: `Display information about secret providers.

Shows built-in provider types, the instances declared in secretops.yaml in
resolution order, and optionally a live health check per instance.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Built-in Provider Types:")
			fmt.Println("=======================")

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "TYPE\tDESCRIPTION\n")
			_, _ = fmt.Fprintf(w, "----\t-----------\n")
			for _, providerType := range providers.Types() {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", providerType, providerDescription(providerType))
			}
			_ = w.Flush()

			if err := cfg.Load(); err != nil {
				return nil
			}

			fmt.Println("\nConfigured Providers:")
			fmt.Println("====================")

			names := cfg.ProviderNames()
			if len(names) == 0 {
				fmt.Println("No providers configured")
				return nil
			}

			var healthByName map[string]bool
			if health {
				ctx := context.Background()
				resolver, err := buildResolver(ctx, cfg)
				if err != nil {
					return err
				}
				defer resolver.Close()
				healthByName = resolver.HealthCheck(ctx)
			}

			w2 := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			if health {
				_, _ = fmt.Fprintf(w2, "NAME\tTYPE\tPRIORITY\tHEALTH\n")
			} else {
				_, _ = fmt.Fprintf(w2, "NAME\tTYPE\tPRIORITY\n")
			}
			for _, name := range names {
				pc, err := cfg.GetProvider(name)
				if err != nil {
					continue
				}
				if health {
					status := "unhealthy"
					if healthByName[name] {
						status = "healthy"
					}
					_, _ = fmt.Fprintf(w2, "%s\t%s\t%d\t%s\n", name, pc.Type, pc.Priority, status)
				} else {
					_, _ = fmt.Fprintf(w2, "%s\t%s\t%d\n", name, pc.Type, pc.Priority)
				}
			}
			return w2.Flush()
		},
	}

	cmd.Flags().BoolVar(&health, "health", false, "Run a health check against each configured provider")

	return cmd
}

func providerDescription(providerType string) string {
	descriptions := map[string]string{
		"local":              "Encrypted file store (AES-256-GCM)",
		"env":                "Read-only environment variables",
		"azure.keyvault":     "Azure Key Vault",
		"aws.secretsmanager": "AWS Secrets Manager",
		"gcp.secretmanager":  "Google Secret Manager",
	}
	if desc, ok := descriptions[providerType]; ok {
		return desc
	}
	return "Custom provider"
}
