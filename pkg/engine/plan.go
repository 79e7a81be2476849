package engine

import (
	"time"

	"github.com/stevedore-io/stevedore/pkg/gateway"
	"github.com/stevedore-io/stevedore/pkg/resource"
)

// Delta is the differ's decision for a single resource.
type Delta struct {
	// ID is the logical resource id.
	ID resource.ID `json:"id"`

	// Kind is the resource kind.
	Kind resource.Kind `json:"kind"`

	// Name is the human-readable resource name.
	Name string `json:"name"`

	// Op is the decided operation.
	Op Operation `json:"op"`

	// Reason explains the decision, e.g. "fingerprint changed" or
	// "no longer desired".
	Reason string `json:"reason,omitempty"`

	// ChangedFields lists the spec fields that differ, for update and
	// recreate decisions.
	ChangedFields []string `json:"changed_fields,omitempty"`

	// Binding is the engine binding for removals of store-only entries.
	Binding gateway.Binding `json:"binding,omitempty"`
}

// DiffSummary provides statistics about a diff.
type DiffSummary struct {
	// Total is the number of resources considered.
	Total int `json:"total"`

	// ToCreate is the number of resources to create.
	ToCreate int `json:"to_create"`

	// ToUpdate is the number of resources to update in place.
	ToUpdate int `json:"to_update"`

	// ToRecreate is the number of resources to remove and create again.
	ToRecreate int `json:"to_recreate"`

	// ToRemove is the number of resources to remove.
	ToRemove int `json:"to_remove"`

	// Unchanged is the number of resources already converged.
	Unchanged int `json:"unchanged"`

	// Orphans is the number of orphaned engine objects surfaced.
	Orphans int `json:"orphans"`
}

// Diff represents the result of comparing desired state with the store.
type Diff struct {
	// Deltas holds one decision per resource, desired resources in
	// topological order followed by removals.
	Deltas []Delta `json:"deltas"`

	// Orphans lists orphaned engine objects surfaced for reporting when
	// orphan policy is report-only.
	Orphans []Delta `json:"orphans,omitempty"`

	// Summary provides statistics about the diff.
	Summary DiffSummary `json:"summary"`

	// ComputedAt is when the diff was computed.
	ComputedAt time.Time `json:"computed_at"`
}

// Empty reports whether the diff contains no mutating operation.
func (d *Diff) Empty() bool {
	for _, delta := range d.Deltas {
		if delta.Op.IsMutating() {
			return false
		}
	}
	return true
}

// PlanUnit is one engine operation in the execution DAG. Recreate
// decisions become two units, the remove strictly before the create.
type PlanUnit struct {
	// ID is the unit identifier, "<op>:<resource id>".
	ID string `json:"id"`

	// ResourceID is the resource this unit operates on.
	ResourceID resource.ID `json:"resource_id"`

	// Kind is the resource kind.
	Kind resource.Kind `json:"kind"`

	// Name is the human-readable resource name.
	Name string `json:"name"`

	// Op is the operation: create, update or remove.
	Op Operation `json:"op"`

	// Reason explains why the unit exists.
	Reason string `json:"reason,omitempty"`

	// ChangedFields lists the fields an update applies.
	ChangedFields []string `json:"changed_fields,omitempty"`

	// DependsOn lists unit ids that must succeed before this unit runs.
	DependsOn []string `json:"depends_on,omitempty"`

	// Binding is the engine binding for removals of objects whose
	// resource is no longer in the desired graph.
	Binding gateway.Binding `json:"binding,omitempty"`
}

// NewUnitID builds the stable unit id for an operation on a resource.
func NewUnitID(op Operation, id resource.ID) string {
	return string(op) + ":" + string(id)
}

// PlanSummary provides statistics about a plan.
type PlanSummary struct {
	// Total is the total number of plan units.
	Total int `json:"total"`

	// Creates is the number of create units.
	Creates int `json:"creates"`

	// Updates is the number of update units.
	Updates int `json:"updates"`

	// Removes is the number of remove units.
	Removes int `json:"removes"`
}

// Plan represents a complete ordered execution plan.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// CreatedAt is when the plan was built.
	CreatedAt time.Time `json:"created_at"`

	// Units are all plan units, creates in topological order, removes in
	// reverse topological order.
	Units []*PlanUnit `json:"units"`

	// Summary provides statistics about the plan.
	Summary PlanSummary `json:"summary"`
}

// Empty reports whether the plan has no units.
func (p *Plan) Empty() bool {
	return p == nil || len(p.Units) == 0
}

// Unit returns the unit with the given id, or nil.
func (p *Plan) Unit(id string) *PlanUnit {
	for _, u := range p.Units {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// UnitResult represents the outcome of executing a plan unit.
type UnitResult struct {
	// UnitID is the plan unit this result belongs to.
	UnitID string `json:"unit_id"`

	// ResourceID is the resource the unit operated on.
	ResourceID resource.ID `json:"resource_id"`

	// Kind is the resource kind.
	Kind resource.Kind `json:"kind"`

	// Op is the operation the unit performed.
	Op Operation `json:"op"`

	// Status is the terminal unit status.
	Status UnitStatus `json:"status"`

	// Attempts is the number of attempts made.
	Attempts int `json:"attempts"`

	// StartedAt is when execution started; zero for units never started.
	StartedAt time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the unit reached its terminal status.
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Duration is the total execution time.
	Duration time.Duration `json:"duration"`

	// Error is the classified error for failed units.
	Error *EngineError `json:"error,omitempty"`
}

// RunSummary provides statistics about a run.
type RunSummary struct {
	// Total is the total number of plan units.
	Total int `json:"total"`

	// Succeeded is the number of units that succeeded.
	Succeeded int `json:"succeeded"`

	// Failed is the number of units that failed.
	Failed int `json:"failed"`

	// Skipped is the number of units skipped because a dependency failed.
	Skipped int `json:"skipped"`

	// Deferred is the number of removals blocked by live references.
	Deferred int `json:"deferred"`

	// Aborted is the number of units never started due to cancellation.
	Aborted int `json:"aborted"`
}

// RunResult represents one execution of a plan.
type RunResult struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`

	// PlanID is the plan that was executed.
	PlanID string `json:"plan_id"`

	// Status is the overall run status.
	Status RunStatus `json:"status"`

	// Cancelled reports whether the run context was cancelled mid-flight.
	Cancelled bool `json:"cancelled,omitempty"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// Summary provides statistics about the run.
	Summary RunSummary `json:"summary"`

	// Results holds per-unit outcomes in plan order.
	Results []UnitResult `json:"results"`
}

// finalStatus derives the run status from the summary. Callers set
// cancelled separately.
func (s RunSummary) finalStatus(cancelled bool) RunStatus {
	switch {
	case cancelled:
		return RunStatusCancelled
	case s.Total == 0:
		return RunStatusNoop
	case s.Failed == 0 && s.Skipped == 0 && s.Deferred == 0 && s.Aborted == 0:
		return RunStatusSucceeded
	case s.Succeeded == 0 && s.Failed > 0:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}
