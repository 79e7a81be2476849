package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stevedore-io/stevedore/pkg/config"
	"github.com/stevedore-io/stevedore/pkg/depot"
	"github.com/stevedore-io/stevedore/pkg/manifest"
	"github.com/stevedore-io/stevedore/pkg/resource"
	"github.com/stevedore-io/stevedore/pkg/telemetry"
)

func newRunCommand() *cobra.Command {
	var engineName string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reconcile daemon",
		Long: `Run the agent as a long-lived daemon.

The daemon rehydrates tracked state from the engine, loads the manifests,
and converges the device to them. It keeps converging: manifest file
changes re-reconcile after a debounce, the depot is polled for new
manifest versions when configured, and SIGHUP forces a manifest reload.

SIGINT or SIGTERM drains the active run and exits: in-flight operations
finish and are recorded, nothing new starts.`,
		Example: `  # Run with the default config path
  stevedored run

  # Run against an explicit config file
  stevedored run --config /etc/stevedore/config.yaml

  # Run with the in-memory engine, e.g. for a smoke test
  stevedored run --engine fake`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runDaemon(cmd.Context(), cfg, engineName)
		},
	}

	cmd.Flags().StringVar(&engineName, "engine", "fake", `container engine adapter ("fake")`)

	return cmd
}

// runDaemon assembles the agent and blocks until the context is cancelled.
func runDaemon(ctx context.Context, cfg *config.AgentConfig, engineName string) error {
	a, err := buildAgent(ctx, cfg, engineName, true)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx = a.tel.WithContext(ctx)
	logger := a.logger

	if err := a.tel.StartMetricsServer(); err != nil {
		logger.Warn().Err(err).Msg("Metrics server failed to start")
	}

	summary, err := a.rec.Rehydrate(ctx)
	if err != nil {
		return fmt.Errorf("rehydrate state: %w", err)
	}
	logger.Info().
		Int("entries", summary.Entries).
		Int("orphans", summary.Orphans).
		Msg("State rehydrated from engine")

	watcher := manifest.NewWatcher(
		cfg.Manifest.Paths,
		manifest.Format(cfg.Manifest.Format),
		cfg.Manifest.Debounce.Std(),
		func(ctx context.Context, nodes []resource.Node) {
			if err := a.rec.Submit(ctx, nodes); err != nil {
				logger.Error().Err(err).Msg("Snapshot rejected")
			}
		},
		a.tel.Events,
		logger,
	)

	errCh := make(chan error, 3)

	go func() { errCh <- a.rec.Run(ctx) }()

	if cfg.Manifest.Watch {
		go func() { errCh <- watcher.Run(ctx) }()
	} else {
		watcher.Reload(ctx)
	}

	if cfg.Depot != nil {
		client, err := depot.NewClient(cfg.Depot.ClientConfig(), logger)
		if err != nil {
			return fmt.Errorf("configure depot client: %w", err)
		}
		defer client.Close()

		poller := depot.NewPoller(client, cfg.Depot.PollInterval.Std(), depotHandler(a, cfg, logger), logger)
		go func() { errCh <- poller.Run(ctx) }()
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				logger.Info().Msg("SIGHUP received, reloading manifests")
				watcher.Reload(ctx)
			}
		}
	}()

	logger.Info().
		Str("engine", engineName).
		Strs("manifests", cfg.Manifest.Paths).
		Bool("depot", cfg.Depot != nil).
		Msg("Agent running")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down")
			return nil
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			return err
		}
	}
}

// depotHandler parses each new depot manifest version and submits it as a
// desired-state snapshot. A manifest that fails to parse is rejected and
// the previous desired state stays in force, exactly like a broken local
// edit.
func depotHandler(a *agent, cfg *config.AgentConfig, logger zerolog.Logger) depot.Handler {
	format := manifest.Format(cfg.Manifest.Format)
	if format == "" {
		if detected, err := manifest.DetectFormat(cfg.Depot.RemotePath); err == nil {
			format = detected
		} else {
			format = manifest.FormatYAML
		}
	}

	return func(ctx context.Context, data []byte, checksum string) {
		nodes, err := manifest.Parse(data, format)
		if err != nil {
			logger.Error().Err(err).
				Str("checksum", checksum).
				Msg("Depot manifest rejected; keeping previous desired state")
			_ = a.tel.Events.Publish(telemetry.Event{
				Type:    telemetry.EventTypeManifestRejected,
				Source:  "depot",
				Message: "Depot manifest rejected; previous desired state kept",
				Level:   telemetry.EventLevelError,
				Data: map[string]interface{}{
					"checksum": checksum,
					"error":    err.Error(),
				},
			})
			return
		}

		if err := a.rec.Submit(ctx, nodes); err != nil {
			logger.Error().Err(err).
				Str("checksum", checksum).
				Msg("Depot snapshot rejected")
			return
		}
		logger.Info().
			Str("checksum", checksum).
			Int("resources", len(nodes)).
			Msg("Depot manifest submitted")
	}
}
