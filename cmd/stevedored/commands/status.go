package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stevedore-io/stevedore/pkg/config"
)

func newStatusCommand() *cobra.Command {
	var (
		live       bool
		engineName string
		runs       int
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tracked resource state",
		Long: `Print the state of every tracked resource from the SQLite state cache.
The cache is written by the daemon as it reconciles, so this works
without a running agent.

With --live the connected engine is enumerated instead, bypassing the
cache. With --runs the most recent reconcile runs are listed.`,
		Example: `  # Tracked resources from the state cache
  stevedored status

  # Live inventory straight from the engine
  stevedored status --live

  # Machine-readable output
  stevedored status --json

  # The five most recent reconcile runs
  stevedored status --runs 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			switch {
			case live:
				return statusLive(cmd.Context(), cfg, engineName)
			case runs > 0:
				return statusRuns(cmd.Context(), cfg, runs)
			default:
				return statusCached(cmd.Context(), cfg)
			}
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "enumerate the engine instead of reading the cache")
	cmd.Flags().StringVar(&engineName, "engine", "fake", `container engine adapter for --live ("fake")`)
	cmd.Flags().IntVar(&runs, "runs", 0, "list the N most recent reconcile runs instead")

	return cmd
}

// statusCached prints tracked resources from the state cache.
func statusCached(ctx context.Context, cfg *config.AgentConfig) error {
	cache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	entries, err := cache.LoadEntries(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(os.Stdout, entries)
	}

	if len(entries) == 0 {
		fmt.Println("No tracked resources.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tSET\tSTATE\tBINDING\tUPDATED")
	for _, e := range entries {
		stateStr := string(e.State)
		if e.Orphan {
			stateStr += " (orphan)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Kind, e.Name, e.Set, stateStr, e.Binding,
			e.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

// statusLive enumerates the engine through the gateway, bypassing the cache.
func statusLive(ctx context.Context, cfg *config.AgentConfig, engineName string) error {
	a, err := buildAgent(ctx, cfg, engineName, false)
	if err != nil {
		return err
	}
	defer a.Close()

	inv, err := a.rec.Inventory(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(os.Stdout, inv)
	}

	fmt.Printf("Engine %s (API %s)\n\n", inv.Engine.EngineVersion, inv.Engine.APIVersion)

	if len(inv.Objects) == 0 {
		fmt.Println("No managed engine objects.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tBINDING\tSTATUS\tORPHAN")
	for _, obj := range inv.Objects {
		orphan := ""
		if obj.Orphan {
			orphan = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			obj.Kind, obj.Name, obj.Binding, obj.Status, orphan)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Printf("\n%d images, %d volumes, %d networks, %d containers (%d running), %d orphans\n",
		inv.Counts.Images, inv.Counts.Volumes, inv.Counts.Networks,
		inv.Counts.Containers, inv.Counts.Running, inv.Counts.Orphans)
	return nil
}

// statusRuns prints the most recent reconcile run summaries.
func statusRuns(ctx context.Context, cfg *config.AgentConfig, limit int) error {
	cache, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer cache.Close()

	records, err := cache.ListRuns(ctx, limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(os.Stdout, records)
	}

	if len(records) == 0 {
		fmt.Println("No recorded reconcile runs.")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTATUS\tTOTAL\tSUCCEEDED\tFAILED\tSKIPPED\tSTARTED\tDURATION")
	for _, r := range records {
		fmt.Fprintf(tw, "%.8s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.Status,
			r.Summary.Total, r.Summary.Succeeded, r.Summary.Failed, r.Summary.Skipped,
			r.StartedAt.Format(time.RFC3339),
			r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return tw.Flush()
}

// printJSON writes indented JSON for --json consumers.
func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
