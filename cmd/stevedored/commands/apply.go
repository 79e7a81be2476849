package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stevedore-io/stevedore/pkg/config"
	"github.com/stevedore-io/stevedore/pkg/engine"
	"github.com/stevedore-io/stevedore/pkg/manifest"
	"github.com/stevedore-io/stevedore/pkg/resource"
)

func newApplyCommand() *cobra.Command {
	var (
		format     string
		engineName string
	)

	cmd := &cobra.Command{
		Use:   "apply [manifest...]",
		Short: "Reconcile manifests once and exit",
		Long: `Load the manifests, converge the device to them in a single reconcile
run, print the per-unit results, and exit. The exit code is non-zero when
any unit fails.

Positional arguments override the manifest paths from the config file.`,
		Example: `  # Apply the configured manifest paths
  stevedored apply

  # Apply one manifest file
  stevedored apply /etc/stevedore/manifests/app.yaml

  # Force the Starlark parser regardless of extension
  stevedored apply workload.gen --format starlark`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			paths := cfg.Manifest.Paths
			if len(args) > 0 {
				paths = args
			}
			manifestFormat := cfg.Manifest.Format
			if format != "" {
				manifestFormat = format
			}

			return runApply(cmd.Context(), cfg, engineName, paths, manifest.Format(manifestFormat))
		},
	}

	cmd.Flags().StringVar(&format, "format", "", `manifest format: "yaml", "cue" or "starlark" (default: by extension)`)
	cmd.Flags().StringVar(&engineName, "engine", "fake", `container engine adapter ("fake")`)

	return cmd
}

// runApply performs the one-shot reconcile: parse, rehydrate, converge,
// report.
func runApply(ctx context.Context, cfg *config.AgentConfig, engineName string, paths []string, format manifest.Format) error {
	nodes, err := manifest.NewParser().LoadAll(paths, format)
	if err != nil {
		return err
	}

	a, err := buildAgent(ctx, cfg, engineName, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx = a.tel.WithContext(ctx)

	if _, err := a.rec.Rehydrate(ctx); err != nil {
		return fmt.Errorf("rehydrate state: %w", err)
	}

	// Resource names for the results table. Removal units reference
	// entries the run may delete, so capture them before converging.
	names := make(map[resource.ID]string, len(nodes))
	for _, n := range nodes {
		names[n.ID] = n.Name
	}
	for _, e := range a.store.List() {
		if _, ok := names[e.ID]; !ok {
			names[e.ID] = e.Name
		}
	}

	result, err := a.rec.ReconcileOnce(ctx, nodes)
	if err != nil {
		return err
	}

	printRunResult(os.Stdout, result, names)
	printOrphans(os.Stdout, a)

	if result.Summary.Failed > 0 {
		return fmt.Errorf("%d of %d units failed", result.Summary.Failed, result.Summary.Total)
	}
	return nil
}

// printRunResult renders the per-unit outcomes and the run summary.
func printRunResult(w io.Writer, result *engine.RunResult, names map[resource.ID]string) {
	if result.Status == engine.RunStatusNoop {
		fmt.Fprintln(w, "Nothing to do: actual state matches desired state.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATION\tKIND\tNAME\tSTATUS\tATTEMPTS\tDURATION\tDETAIL")
	for _, res := range result.Results {
		name := names[res.ResourceID]
		if name == "" {
			name = res.ResourceID.Short()
		}
		detail := ""
		if res.Error != nil {
			detail = res.Error.Message
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			res.Op, res.Kind, name, res.Status, res.Attempts,
			res.Duration.Round(time.Millisecond), detail)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nRun %s: %s (%d total: %d succeeded, %d failed, %d skipped, %d deferred, %d aborted) in %s\n",
		result.ID, result.Status,
		result.Summary.Total, result.Summary.Succeeded, result.Summary.Failed,
		result.Summary.Skipped, result.Summary.Deferred, result.Summary.Aborted,
		result.Duration.Round(time.Millisecond))
}

// printOrphans lists engine objects the run left unclaimed.
func printOrphans(w io.Writer, a *agent) {
	var lines []string
	for _, e := range a.store.List() {
		if e.Orphan {
			lines = append(lines, fmt.Sprintf("  %s %s (binding %s)", e.Kind, e.Name, e.Binding))
		}
	}
	if len(lines) == 0 {
		return
	}
	fmt.Fprintln(w, "\nUnclaimed engine objects:")
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}
