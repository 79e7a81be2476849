package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/gateway"
	"github.com/stevedore-io/stevedore/pkg/graph"
	"github.com/stevedore-io/stevedore/pkg/resource"
	"github.com/stevedore-io/stevedore/pkg/state"
)

// PolicyGate evaluates admission policies. Snapshots are gated before they
// can become desired state, plans before they execute. A nil gate admits
// everything.
type PolicyGate interface {
	// AdmitSnapshot rejects a desired-state snapshot that violates policy.
	AdmitSnapshot(ctx context.Context, nodes []resource.Node) error

	// AdmitPlan rejects a plan that violates policy.
	AdmitPlan(ctx context.Context, plan *Plan) error
}

// ResourceStatus is a point-in-time view of one tracked resource.
type ResourceStatus struct {
	// ID is the resource id.
	ID resource.ID `json:"id"`

	// Kind is the resource kind.
	Kind resource.Kind `json:"kind"`

	// Name is the resource name.
	Name string `json:"name"`

	// Set is the workload set the resource belongs to.
	Set string `json:"set,omitempty"`

	// State is the recorded lifecycle state.
	State state.Lifecycle `json:"state"`

	// Fingerprint is the spec fingerprint of the converged object.
	Fingerprint resource.Fingerprint `json:"fingerprint,omitempty"`

	// Binding is the engine object the resource resolved to.
	Binding gateway.Binding `json:"binding,omitempty"`

	// Failure describes the last failure, if any.
	Failure *state.Failure `json:"failure,omitempty"`

	// Orphan marks an engine object no desired node claims.
	Orphan bool `json:"orphan,omitempty"`

	// UpdatedAt is when the entry last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Config wires a reconciler's collaborators.
type Config struct {
	// Gateway talks to the container engine. Required.
	Gateway gateway.Gateway

	// Store tracks resource state. Required.
	Store *state.Store

	// Cache optionally enriches rehydration with persisted metadata.
	Cache state.CacheReader

	// Policy gates snapshots and plans. Nil admits everything.
	Policy PolicyGate

	// Logger is the parent logger.
	Logger zerolog.Logger

	// Options tune execution.
	Options Options

	// Orphans selects the orphan handling policy.
	Orphans OrphanPolicy

	// OnRun, when set, receives every finished run result.
	OnRun func(RunResult)
}

// Reconciler owns the convergence loop: it accepts desired-state snapshots,
// diffs them against tracked state, plans, and executes. Snapshots coalesce
// into a latest-wins pending slot; a snapshot arriving mid-run cancels the
// run and supersedes anything queued.
type Reconciler struct {
	gw        gateway.Gateway
	store     *state.Store
	differ    *Differ
	planner   *Planner
	scheduler *Scheduler
	policy    PolicyGate
	rehydr    *state.Rehydrator
	logger    zerolog.Logger
	orphans   OrphanPolicy
	onRun     func(RunResult)

	// runMu serializes reconcile runs.
	runMu sync.Mutex

	mu        sync.Mutex
	live      *graph.Graph
	pending   *graph.Graph
	runCancel context.CancelFunc
	wake      chan struct{}
}

// NewReconciler assembles the engine components around a gateway and store.
func NewReconciler(cfg Config) *Reconciler {
	opts := cfg.Options.withDefaults()
	logger := cfg.Logger.With().Str("component", "reconciler").Logger()

	executor := NewExecutor(cfg.Gateway, cfg.Store, cfg.Logger, opts.StopTimeout)
	orphans := cfg.Orphans
	if orphans == "" {
		orphans = OrphanPolicyReport
	}

	return &Reconciler{
		gw:        cfg.Gateway,
		store:     cfg.Store,
		differ:    NewDiffer(cfg.Store),
		planner:   NewPlanner(cfg.Store),
		scheduler: NewScheduler(executor, cfg.Store, cfg.Logger, opts),
		policy:    cfg.Policy,
		rehydr:    state.NewRehydrator(cfg.Gateway, cfg.Store, cfg.Cache, cfg.Logger),
		logger:    logger,
		orphans:   orphans,
		onRun:     cfg.OnRun,
		live:      graph.New(),
		wake:      make(chan struct{}, 1),
	}
}

// Rehydrate rebuilds the store from the engine's labelled objects. It runs
// once at startup, before the first reconcile.
func (r *Reconciler) Rehydrate(ctx context.Context) (state.Summary, error) {
	return r.rehydr.Rehydrate(ctx)
}

// Submit validates a snapshot, gates it through policy, and queues it for
// the run loop. The snapshot replaces anything already queued, and an
// in-flight run is cancelled so the newest desired state wins. The live
// graph and the engine stay untouched when validation rejects the snapshot.
func (r *Reconciler) Submit(ctx context.Context, nodes []resource.Node) error {
	g, err := r.admit(ctx, nodes)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.pending = g
	cancel := r.runCancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	select {
	case r.wake <- struct{}{}:
	default:
	}

	r.logger.Info().Int("resources", g.Len()).Msg("snapshot accepted")
	return nil
}

// Run is the reconcile loop. It blocks until the context is cancelled,
// waking whenever a snapshot arrives and draining the pending slot.
func (r *Reconciler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.wake:
		}

		for {
			g := r.takePending()
			if g == nil {
				break
			}
			if _, err := r.reconcile(ctx, g); err != nil {
				r.logger.Error().Err(err).Msg("reconcile failed")
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// ReconcileOnce validates and converges a single snapshot synchronously,
// bypassing the pending slot. It is the one-shot apply path.
func (r *Reconciler) ReconcileOnce(ctx context.Context, nodes []resource.Node) (*RunResult, error) {
	g, err := r.admit(ctx, nodes)
	if err != nil {
		return nil, err
	}
	return r.reconcile(ctx, g)
}

// Status returns the tracked state of every resource, sorted by id.
func (r *Reconciler) Status() []ResourceStatus {
	entries := r.store.List()
	out := make([]ResourceStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, ResourceStatus{
			ID:          e.ID,
			Kind:        e.Kind,
			Name:        e.Name,
			Set:         e.Set,
			State:       e.State,
			Fingerprint: e.Fingerprint,
			Binding:     e.Binding,
			Failure:     e.Failure,
			Orphan:      e.Orphan,
			UpdatedAt:   e.UpdatedAt,
		})
	}
	return out
}

// admit validates the snapshot into a graph and gates it through policy.
func (r *Reconciler) admit(ctx context.Context, nodes []resource.Node) (*graph.Graph, error) {
	g, err := buildGraph(nodes)
	if err != nil {
		return nil, err
	}
	if r.policy != nil {
		if err := r.policy.AdmitSnapshot(ctx, nodes); err != nil {
			return nil, NewPermanentError("snapshot rejected by policy", err).
				WithCode(ErrCodePolicyDenied)
		}
	}
	return g, nil
}

// takePending claims the queued snapshot, if any.
func (r *Reconciler) takePending() *graph.Graph {
	r.mu.Lock()
	defer r.mu.Unlock()
	g := r.pending
	r.pending = nil
	return g
}

// reconcile swaps the live graph, diffs, plans, gates, and executes. The
// previous live graph supplies old specs for update-versus-recreate
// decisions.
func (r *Reconciler) reconcile(ctx context.Context, g *graph.Graph) (*RunResult, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	prev := r.live
	r.live = g
	r.runCancel = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.runCancel = nil
		r.mu.Unlock()
	}()

	caps, err := r.gw.Capabilities(runCtx)
	if err != nil {
		return nil, NewTransientError("query engine capabilities", err).
			WithCode(ErrCodeEngineUnavailable)
	}

	diff, err := r.differ.ComputeDiff(g, DiffOptions{
		Previous:     prev,
		Capabilities: caps,
		Orphans:      r.orphans,
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Int("create", diff.Summary.ToCreate).
		Int("update", diff.Summary.ToUpdate).
		Int("recreate", diff.Summary.ToRecreate).
		Int("remove", diff.Summary.ToRemove).
		Int("unchanged", diff.Summary.Unchanged).
		Int("orphans", diff.Summary.Orphans).
		Msg("diff computed")

	plan, err := r.planner.BuildPlan(g, diff)
	if err != nil {
		return nil, err
	}

	if r.policy != nil && !plan.Empty() {
		if err := r.policy.AdmitPlan(runCtx, plan); err != nil {
			return nil, NewPermanentError("plan rejected by policy", err).
				WithCode(ErrCodePolicyDenied)
		}
	}

	result, err := r.scheduler.Run(runCtx, g, plan)
	if err != nil {
		return nil, err
	}
	if r.onRun != nil {
		r.onRun(*result)
	}
	return result, nil
}

// buildGraph validates a snapshot and assembles it into a dependency graph.
// The snapshot must be self-contained: every dependency id resolves inside
// it. Nodes are inserted in dependency order with manifest order breaking
// ties, so graph iteration stays deterministic.
func buildGraph(nodes []resource.Node) (*graph.Graph, error) {
	position := make(map[resource.ID]int, len(nodes))
	for i, node := range nodes {
		if node.ID.IsZero() {
			return nil, NewPermanentError(fmt.Sprintf("resource %q has no id", node.Name), nil).
				WithCode(ErrCodeValidation)
		}
		if _, dup := position[node.ID]; dup {
			return nil, NewPermanentError(fmt.Sprintf("duplicate resource id %s", node.ID), nil).
				WithCode(ErrCodeValidation).
				WithResource(string(node.ID))
		}
		position[node.ID] = i
		if err := node.Validate(); err != nil {
			return nil, NewPermanentError(fmt.Sprintf("invalid %s %q", node.Kind, node.Name), err).
				WithCode(ErrCodeValidation).
				WithResource(string(node.ID))
		}
	}

	for _, node := range nodes {
		var missing []resource.ID
		for _, dep := range node.Dependencies() {
			if _, ok := position[dep]; !ok {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			cause := &graph.DanglingDependencyError{ID: node.ID, Missing: missing}
			return nil, NewPermanentError("snapshot has unresolved dependencies", cause).
				WithCode(ErrCodeDanglingDependency).
				WithResource(string(node.ID))
		}
	}

	order, err := snapshotOrder(nodes, position)
	if err != nil {
		return nil, err
	}

	g := graph.New()
	for _, node := range order {
		if err := g.Insert(node); err != nil {
			return nil, NewPermanentError("insert resource into graph", err).
				WithCode(ErrCodeInternal).
				WithResource(string(node.ID))
		}
	}
	return g, nil
}

// snapshotOrder sorts the snapshot into dependency order via Kahn's
// algorithm, manifest order breaking ties. Incomplete orders mean a cycle;
// the offending path is reported.
func snapshotOrder(nodes []resource.Node, position map[resource.ID]int) ([]resource.Node, error) {
	indegree := make(map[resource.ID]int, len(nodes))
	dependents := make(map[resource.ID][]resource.ID)
	for _, node := range nodes {
		for _, dep := range node.Dependencies() {
			indegree[node.ID]++
			dependents[dep] = append(dependents[dep], node.ID)
		}
	}

	var ready []resource.ID
	for _, node := range nodes {
		if indegree[node.ID] == 0 {
			ready = append(ready, node.ID)
		}
	}

	order := make([]resource.Node, 0, len(nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return position[ready[i]] < position[ready[j]] })
		id := ready[0]
		ready = ready[1:]
		order = append(order, nodes[position[id]])
		for _, dependent := range dependents[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(nodes) {
		cause := &graph.CycleError{Path: snapshotCyclePath(nodes, position, indegree)}
		return nil, NewPermanentError("snapshot has a dependency cycle", cause).
			WithCode(ErrCodeCycle)
	}
	return order, nil
}

// snapshotCyclePath walks the unordered remainder of a snapshot along
// dependency edges until a node repeats, yielding a concrete cycle with the
// entry node repeated at the end.
func snapshotCyclePath(nodes []resource.Node, position map[resource.ID]int, indegree map[resource.ID]int) []resource.ID {
	remaining := make(map[resource.ID]bool)
	var start resource.ID
	for _, node := range nodes {
		if indegree[node.ID] > 0 {
			remaining[node.ID] = true
			if start.IsZero() {
				start = node.ID
			}
		}
	}

	seen := make(map[resource.ID]int)
	var path []resource.ID
	current := start
	for {
		if at, ok := seen[current]; ok {
			return append(path[at:], current)
		}
		seen[current] = len(path)
		path = append(path, current)

		next := resource.ID("")
		for _, dep := range nodes[position[current]].Dependencies() {
			if remaining[dep] {
				next = dep
				break
			}
		}
		if next.IsZero() {
			return path
		}
		current = next
	}
}
