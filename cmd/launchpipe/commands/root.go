package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "launchpipe",
		Short: "LaunchPipe - Project Assembly and Deployment Pipeline",
		Long: `LaunchPipe assembles per-customer website projects from versioned modules
and drives them through cloud deployment, domain provisioning, and
state reconciliation.

Features:
  - Deterministic module resolution with capability checking
  - Atomic project tree assembly with audit manifests
  - Per-service cloud deployment with bounded status polling
  - Idempotent custom-domain binding and DNS verification
  - Drift-healing reconciliation across disk, database, and cloud`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "launchpipe.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newDomainsCommand())
	rootCmd.AddCommand(newProjectsCommand())
	rootCmd.AddCommand(newReconcileCommand())

	return rootCmd
}
