package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stevedore-io/stevedore/pkg/config"
	"github.com/stevedore-io/stevedore/pkg/depot"
	"github.com/stevedore-io/stevedore/pkg/manifest"
	"github.com/stevedore-io/stevedore/pkg/telemetry"
)

func newPullCommand() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Fetch the manifest from the depot",
		Long: `Fetch the configured depot manifest over SFTP and write it to a local
file. Without --output the file lands in the first configured manifest
path, so the next reload or daemon start picks it up.`,
		Example: `  # Fetch into the configured manifest path
  stevedored pull

  # Fetch to an explicit file
  stevedored pull --output /tmp/app.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Depot == nil {
				return fmt.Errorf("no depot configured")
			}

			target := output
			if target == "" {
				target = pullTarget(cfg)
			}
			return runPull(cmd.Context(), cfg, target)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "local file to write (default: first manifest path)")

	return cmd
}

// runPull fetches the depot manifest to the target file.
func runPull(ctx context.Context, cfg *config.AgentConfig, target string) error {
	tlog, err := telemetry.NewLogger(cfg.Telemetry.Build().Logging)
	if err != nil {
		return err
	}
	logger := tlog.Zerolog()

	client, err := depot.NewClient(cfg.Depot.ClientConfig(), logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(ctx); err != nil {
		return err
	}

	checksum, err := client.FetchTo(ctx, target)
	if err != nil {
		return err
	}

	fmt.Printf("Fetched %s to %s (sha256 %s)\n", cfg.Depot.RemotePath, target, checksum)
	return nil
}

// pullTarget derives the local file for a depot fetch: the first manifest
// path when it names a manifest file, otherwise the depot file's name
// inside that directory.
func pullTarget(cfg *config.AgentConfig) string {
	base := cfg.Manifest.Paths[0]
	if info, err := os.Stat(base); err == nil && info.IsDir() {
		return filepath.Join(base, filepath.Base(cfg.Depot.RemotePath))
	}
	if _, err := manifest.DetectFormat(base); err == nil {
		return base
	}
	return filepath.Join(base, filepath.Base(cfg.Depot.RemotePath))
}
