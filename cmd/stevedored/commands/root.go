package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stevedore-io/stevedore/pkg/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stevedored",
		Short: "Stevedore - on-device container workload manager",
		Long: `Stevedore keeps the containers, images, volumes and networks on this
device converged to a declared workload manifest.

Desired state comes from YAML, CUE or Starlark manifests, read locally or
pulled from an SFTP depot. The agent diffs it against the engine's actual
state, plans the difference as a dependency-ordered DAG, and executes the
plan through the container engine gateway, retrying transient failures
and journalling every lifecycle transition into a local SQLite cache.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),

		// Runtime failures are logged by main; a usage dump on a failed
		// reconcile would bury them.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newPullCommand())

	return rootCmd
}

// loadConfig reads the agent config honouring the persistent flags: an
// empty --config falls back to defaults plus STEVEDORE_* overrides, and
// --verbose forces debug logging.
func loadConfig() (*config.AgentConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	return cfg, nil
}
