package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lobbi-Docs/secretops/internal/config"
	"github.com/Lobbi-Docs/secretops/pkg/provider"
)

func NewListCommand(cfg *config.Config) *cobra.Command {
	var (
		pattern        string
		scope          string
		tags           []string
		includeExpired bool
		jsonOutput     bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List secrets across all providers",
		Long: `List secret metadata merged across the provider chain. When the same
name exists in several providers, the highest-priority entry wins. Values
are never printed.

Examples:
  # All live secrets
  secretops list

  # Filter by glob and scope
  secretops list --pattern 'db-*' --scope production

  # Include expired entries
  secretops list --include-expired`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			resolver, err := buildResolver(ctx, cfg)
			if err != nil {
				return err
			}
			defer resolver.Close()

			entries, err := resolver.List(ctx, &provider.ListOptions{
				Pattern:        pattern,
				Scope:          scope,
				Tags:           tags,
				IncludeExpired: includeExpired,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(entries)
			}

			if len(entries) == 0 {
				fmt.Println("No secrets found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tPROVIDER\tVERSION\tSCOPE\tTAGS\tEXPIRES")
			now := time.Now()
			for _, meta := range entries {
				expires := "-"
				if meta.ExpiresAt != nil {
					expires = meta.ExpiresAt.Format(time.RFC3339)
					if meta.Expired(now) {
						expires += " (expired)"
					}
				}
				tagList := "-"
				if len(meta.Tags) > 0 {
					tagList = strings.Join(meta.Tags, ",")
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					meta.Name, meta.Provider, meta.Version, meta.Scope, tagList, expires)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "Glob pattern to filter names")
	cmd.Flags().StringVar(&scope, "scope", "", "Only secrets in this scope")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "Only secrets carrying this tag (repeatable, all must match)")
	cmd.Flags().BoolVar(&includeExpired, "include-expired", false, "Include expired secrets")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
