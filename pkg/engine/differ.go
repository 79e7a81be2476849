package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/stevedore-io/stevedore/pkg/gateway"
	"github.com/stevedore-io/stevedore/pkg/graph"
	"github.com/stevedore-io/stevedore/pkg/resource"
	"github.com/stevedore-io/stevedore/pkg/state"
)

// OrphanPolicy controls what the differ does with engine objects that carry
// management labels but are not named by the desired state.
type OrphanPolicy string

const (
	// OrphanPolicyReport surfaces orphans in the diff without removing them.
	OrphanPolicyReport OrphanPolicy = "report"

	// OrphanPolicyRemove schedules orphans for removal.
	OrphanPolicyRemove OrphanPolicy = "remove"
)

// Validate checks that the orphan policy is one of the known values.
func (p OrphanPolicy) Validate() error {
	switch p {
	case OrphanPolicyReport, OrphanPolicyRemove:
		return nil
	default:
		return NewPermanentError(fmt.Sprintf("invalid orphan policy: %s", p), nil).
			WithCode(ErrCodeValidation)
	}
}

// DiffOptions configures a diff computation.
type DiffOptions struct {
	// Previous is the last applied resource graph. It supplies the old
	// specs needed to decide between update and recreate. When nil, such
	// as after a daemon restart, every fingerprint change falls back to
	// recreate.
	Previous *graph.Graph

	// Capabilities describes what the connected engine supports.
	Capabilities gateway.Capabilities

	// Orphans selects the orphan handling policy. Empty defaults to
	// report-only.
	Orphans OrphanPolicy
}

// Differ compares a desired resource graph against the tracked state and
// produces the set of operations needed to converge.
type Differ struct {
	store *state.Store
}

// NewDiffer creates a differ backed by the given state store.
func NewDiffer(store *state.Store) *Differ {
	return &Differ{store: store}
}

// ComputeDiff walks the desired graph in topological order and classifies
// every resource as create, update, recreate, or unchanged. Tracked entries
// absent from the desired graph become removals. Desired nodes are claimed
// in the store as a side effect, so orphans adopted during rehydration stop
// being orphans the first time a manifest names them.
func (d *Differ) ComputeDiff(desired *graph.Graph, opts DiffOptions) (*Diff, error) {
	if desired == nil {
		return nil, NewPermanentError("desired graph is nil", nil).
			WithCode(ErrCodeValidation)
	}
	if opts.Orphans == "" {
		opts.Orphans = OrphanPolicyReport
	}
	if err := opts.Orphans.Validate(); err != nil {
		return nil, err
	}

	order, err := desired.TopologicalOrder()
	if err != nil {
		return nil, NewPermanentError("desired graph is not orderable", err).
			WithCode(ErrCodeCycle)
	}

	diff := &Diff{
		Deltas:     make([]Delta, 0, len(order)),
		ComputedAt: time.Now(),
	}

	// rebuilt tracks resources that will get a new engine object this run.
	// Dependents of a rebuilt resource hold a stale binding and must be
	// rebuilt too; walking in topological order makes the cascade a single
	// pass.
	rebuilt := make(map[resource.ID]bool)

	for _, id := range order {
		node, ok := desired.Node(id)
		if !ok {
			return nil, NewPermanentError(fmt.Sprintf("node %s missing from graph", id), nil).
				WithCode(ErrCodeInternal)
		}

		delta, err := d.classify(node, opts)
		if err != nil {
			return nil, err
		}

		if delta.Op == OperationNoop || delta.Op == OperationUpdate {
			if dep := rebuiltDependency(desired, id, rebuilt); !dep.IsZero() {
				delta.Op = OperationRecreate
				delta.Reason = fmt.Sprintf("dependency %s replaced", dep.Short())
				delta.ChangedFields = nil
			}
		}
		if delta.Op == OperationCreate || delta.Op == OperationRecreate {
			rebuilt[id] = true
		}

		diff.Summary.Total++
		switch delta.Op {
		case OperationNoop:
			diff.Summary.Unchanged++
			continue
		case OperationCreate:
			diff.Summary.ToCreate++
		case OperationUpdate:
			diff.Summary.ToUpdate++
		case OperationRecreate:
			diff.Summary.ToRecreate++
		}
		diff.Deltas = append(diff.Deltas, delta)
	}

	d.appendRemovals(desired, opts, diff)
	return diff, nil
}

// classify decides the operation for a single desired node. It claims the
// node's entry in the store so that name, set, and dependency metadata stay
// current even for unchanged resources.
func (d *Differ) classify(node resource.Node, opts DiffOptions) (Delta, error) {
	fp, err := node.Fingerprint()
	if err != nil {
		return Delta{}, NewPermanentError(fmt.Sprintf("fingerprint %s %s", node.Kind, node.Name), err).
			WithCode(ErrCodeValidation).
			WithResource(string(node.ID))
	}

	entry := d.store.Begin(node)

	delta := Delta{
		ID:      node.ID,
		Kind:    node.Kind,
		Name:    node.Name,
		Binding: entry.Binding,
	}

	switch {
	case entry.State == state.LifecycleMissing, entry.State == state.LifecycleRemoved:
		delta.Op = OperationCreate
		delta.Reason = "not present in engine"
		delta.Binding = ""
		return delta, nil

	case entry.State.IsFailure(), entry.State == state.LifecycleDeferred:
		if entry.Binding.IsZero() {
			delta.Op = OperationCreate
			delta.Reason = fmt.Sprintf("retry after %s", entry.State)
			return delta, nil
		}
		delta.Op = OperationRecreate
		delta.Reason = fmt.Sprintf("replace object left %s", entry.State)
		return delta, nil
	}

	runState := desiredRunState(node)

	if entry.Fingerprint == fp {
		if state.Satisfies(node.Kind, runState, entry.State) {
			delta.Op = OperationNoop
			return delta, nil
		}
		if node.Kind == resource.KindContainer && entry.State.IsSteady() {
			delta.Op = OperationUpdate
			delta.Reason = fmt.Sprintf("run state drifted to %s", entry.State)
			delta.ChangedFields = []string{"run_state"}
			return delta, nil
		}
		delta.Op = OperationRecreate
		delta.Reason = fmt.Sprintf("unhealthy state %s", entry.State)
		return delta, nil
	}

	return d.classifyChanged(node, entry, opts)
}

// classifyChanged handles a node whose spec fingerprint differs from the
// tracked one. With the previous spec available it distinguishes in-place
// updates from recreates; without it the only safe answer is recreate.
func (d *Differ) classifyChanged(node resource.Node, entry state.Entry, opts DiffOptions) (Delta, error) {
	delta := Delta{
		ID:      node.ID,
		Kind:    node.Kind,
		Name:    node.Name,
		Binding: entry.Binding,
	}

	var prev resource.Node
	havePrev := false
	if opts.Previous != nil {
		if p, ok := opts.Previous.Node(node.ID); ok && p.Kind == node.Kind {
			prev, havePrev = p, true
		}
	}

	if !havePrev {
		delta.Op = OperationRecreate
		delta.Reason = "configuration changed"
		return delta, nil
	}

	changed, updatable, err := resource.UpdatableInPlace(prev.Spec, node.Spec)
	if err != nil {
		return Delta{}, NewPermanentError(fmt.Sprintf("diff %s %s", node.Kind, node.Name), err).
			WithCode(ErrCodeValidation).
			WithResource(string(node.ID))
	}
	delta.ChangedFields = changed

	switch {
	case !updatable:
		delta.Op = OperationRecreate
		delta.Reason = fmt.Sprintf("immutable fields changed: %s", joinFields(changed))
	case requiresUpdateSupport(changed) && !opts.Capabilities.SupportsContainerUpdate:
		delta.Op = OperationRecreate
		delta.Reason = "engine does not support in-place container update"
	default:
		delta.Op = OperationUpdate
		delta.Reason = fmt.Sprintf("fields changed: %s", joinFields(changed))
	}
	return delta, nil
}

// appendRemovals turns tracked entries that the desired graph no longer
// names into removal deltas. Orphans follow the configured policy instead.
func (d *Differ) appendRemovals(desired *graph.Graph, opts DiffOptions, diff *Diff) {
	var removals, orphans []Delta

	for _, entry := range d.store.List() {
		if _, ok := desired.Node(entry.ID); ok {
			continue
		}
		if entry.State == state.LifecycleRemoved {
			continue
		}

		delta := Delta{
			ID:      entry.ID,
			Kind:    entry.Kind,
			Name:    entry.Name,
			Op:      OperationRemove,
			Binding: entry.Binding,
		}

		if entry.Orphan {
			delta.Reason = "orphaned engine object"
			diff.Summary.Orphans++
			if opts.Orphans == OrphanPolicyRemove {
				orphans = append(orphans, delta)
			} else {
				diff.Orphans = append(diff.Orphans, delta)
			}
			continue
		}

		delta.Reason = "no longer desired"
		removals = append(removals, delta)
	}

	removals = append(removals, orphans...)
	sort.Slice(removals, func(i, j int) bool { return removals[i].ID < removals[j].ID })
	sort.Slice(diff.Orphans, func(i, j int) bool { return diff.Orphans[i].ID < diff.Orphans[j].ID })

	diff.Summary.Total += len(removals)
	diff.Summary.ToRemove += len(removals)
	diff.Deltas = append(diff.Deltas, removals...)
}

// rebuiltDependency returns the first dependency of id that is being
// rebuilt this run, or the zero id.
func rebuiltDependency(desired *graph.Graph, id resource.ID, rebuilt map[resource.ID]bool) resource.ID {
	for _, dep := range desired.Dependencies(id) {
		if rebuilt[dep] {
			return dep
		}
	}
	return ""
}

// desiredRunState extracts the desired run state for containers. Other kinds
// have no run state and report the zero value.
func desiredRunState(node resource.Node) resource.RunState {
	if spec, ok := node.Spec.(*resource.ContainerSpec); ok {
		return spec.RunState
	}
	return ""
}

// requiresUpdateSupport reports whether any changed field needs the engine's
// container update API. Run state changes only need start and stop, which
// every engine has.
func requiresUpdateSupport(changed []string) bool {
	for _, field := range changed {
		if field == "restart_policy" {
			return true
		}
	}
	return false
}

func joinFields(fields []string) string {
	if len(fields) == 0 {
		return "none"
	}
	out := fields[0]
	for _, f := range fields[1:] {
		out += ", " + f
	}
	return out
}
