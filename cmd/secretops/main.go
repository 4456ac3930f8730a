package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Lobbi-Docs/secretops/cmd/secretops/commands"
	"github.com/Lobbi-Docs/secretops/internal/config"
	"github.com/Lobbi-Docs/secretops/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	// Create config placeholder
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "secretops",
		Short: "Multi-provider secret management",
		Long: `secretops resolves secrets across a prioritized chain of providers:
an encrypted local store, environment variables, and cloud key vaults.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger := logging.New(debug, noColor)

			cfg.Path = configFile
			cfg.Logger = logger
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "secretops.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewGetCommand(cfg),
		commands.NewSetCommand(cfg),
		commands.NewDeleteCommand(cfg),
		commands.NewListCommand(cfg),
		commands.NewRotateCommand(cfg),
		commands.NewProvidersCommand(cfg),
	)

	return rootCmd.Execute()
}
