package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/gateway/fake"
	"github.com/stevedore-io/stevedore/pkg/graph"
	"github.com/stevedore-io/stevedore/pkg/resource"
	"github.com/stevedore-io/stevedore/pkg/state"
)

// Node builders. Ids are plain strings for readability; the engine treats
// them as opaque.

func imageNode(id, ref string) resource.Node {
	return resource.Node{
		ID:   resource.ID(id),
		Kind: resource.KindImage,
		Name: ref,
		Spec: &resource.ImageSpec{Reference: ref},
	}
}

func volumeNode(id, name string) resource.Node {
	return resource.Node{
		ID:   resource.ID(id),
		Kind: resource.KindVolume,
		Name: name,
		Spec: &resource.VolumeSpec{},
	}
}

func networkNode(id, name string) resource.Node {
	return resource.Node{
		ID:   resource.ID(id),
		Kind: resource.KindNetwork,
		Name: name,
		Spec: &resource.NetworkSpec{},
	}
}

func containerNode(id, name, image string, mutate ...func(*resource.ContainerSpec)) resource.Node {
	spec := &resource.ContainerSpec{Image: resource.ID(image)}
	for _, m := range mutate {
		m(spec)
	}
	return resource.Node{
		ID:   resource.ID(id),
		Kind: resource.KindContainer,
		Name: name,
		Spec: spec,
	}
}

// buildDesired inserts nodes in order; dependencies must precede dependents.
func buildDesired(t *testing.T, nodes ...resource.Node) *graph.Graph {
	t.Helper()
	g := graph.New()
	for _, n := range nodes {
		if err := g.Insert(n); err != nil {
			t.Fatalf("Insert(%s): %v", n.ID, err)
		}
	}
	return g
}

func mustFingerprint(t *testing.T, node resource.Node) resource.Fingerprint {
	t.Helper()
	fp, err := node.Fingerprint()
	if err != nil {
		t.Fatalf("Fingerprint(%s): %v", node.ID, err)
	}
	return fp
}

// rig assembles the pipeline around a fake engine for direct component
// tests. Reconciler tests build their own via NewReconciler.
type rig struct {
	engine    *fake.Engine
	store     *state.Store
	differ    *Differ
	planner   *Planner
	executor  *Executor
	scheduler *Scheduler
}

func newRig(t *testing.T, opts Options) *rig {
	t.Helper()
	eng := fake.New()
	store := state.NewStore()
	logger := zerolog.Nop()
	executor := NewExecutor(eng, store, logger, 0)
	return &rig{
		engine:    eng,
		store:     store,
		differ:    NewDiffer(store),
		planner:   NewPlanner(store),
		executor:  executor,
		scheduler: NewScheduler(executor, store, logger, opts),
	}
}

// computeDiff runs the differ with the fake engine's capabilities.
func (r *rig) computeDiff(t *testing.T, desired, previous *graph.Graph) *Diff {
	t.Helper()
	caps, err := r.engine.Capabilities(context.Background())
	if err != nil {
		t.Fatalf("Capabilities: %v", err)
	}
	diff, err := r.differ.ComputeDiff(desired, DiffOptions{
		Previous:     previous,
		Capabilities: caps,
	})
	if err != nil {
		t.Fatalf("ComputeDiff: %v", err)
	}
	return diff
}

// converge runs diff, plan and schedule to completion, priming engine and
// store with the desired graph. Tests then mutate from the converged state.
func (r *rig) converge(t *testing.T, desired, previous *graph.Graph) *RunResult {
	t.Helper()
	diff := r.computeDiff(t, desired, previous)
	plan, err := r.planner.BuildPlan(desired, diff)
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	run, err := r.scheduler.Run(context.Background(), desired, plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if run.Status != RunStatusSucceeded && run.Status != RunStatusNoop {
		t.Fatalf("converge run status = %s: %+v", run.Status, run.Summary)
	}
	return run
}

// deltaFor finds the delta for a resource id, searching removals too.
func deltaFor(t *testing.T, diff *Diff, id resource.ID) Delta {
	t.Helper()
	for _, d := range diff.Deltas {
		if d.ID == id {
			return d
		}
	}
	t.Fatalf("no delta for %s in %+v", id, diff.Deltas)
	return Delta{}
}

// resultFor finds the unit result for a unit id.
func resultFor(t *testing.T, run *RunResult, unitID string) UnitResult {
	t.Helper()
	for _, res := range run.Results {
		if res.UnitID == unitID {
			return res
		}
	}
	t.Fatalf("no result for unit %s", unitID)
	return UnitResult{}
}

// callIndex returns the position of the first journal entry with the given
// prefix, or -1.
func callIndex(calls []string, prefix string) int {
	for i, c := range calls {
		if strings.HasPrefix(c, prefix) {
			return i
		}
	}
	return -1
}
