package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/stevedore-io/stevedore/pkg/graph"
	"github.com/stevedore-io/stevedore/pkg/resource"
	"github.com/stevedore-io/stevedore/pkg/state"
)

// Planner turns a computed diff into an executable plan: one unit per
// operation, wired with the dependency edges the scheduler must honor.
type Planner struct {
	store *state.Store
}

// NewPlanner creates a planner backed by the given state store. The store
// supplies the recorded dependency metadata that orders removals.
func NewPlanner(store *state.Store) *Planner {
	return &Planner{store: store}
}

// BuildPlan expands a diff into plan units. Recreates become a remove unit
// followed by a create unit. Creates and updates depend on the units of
// their graph dependencies; removes depend on the remove units of their
// tracked dependents, so teardown runs leaf first.
func (p *Planner) BuildPlan(desired *graph.Graph, diff *Diff) (*Plan, error) {
	if desired == nil || diff == nil {
		return nil, NewPermanentError("planner needs a graph and a diff", nil).
			WithCode(ErrCodeValidation)
	}

	plan := &Plan{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
	}
	if diff.Empty() {
		return plan, nil
	}

	byResource := make(map[resource.ID]map[Operation]*PlanUnit)
	add := func(op Operation, delta Delta) *PlanUnit {
		unit := &PlanUnit{
			ID:         NewUnitID(op, delta.ID),
			ResourceID: delta.ID,
			Kind:       delta.Kind,
			Name:       delta.Name,
			Op:         op,
			Reason:     delta.Reason,
		}
		if byResource[delta.ID] == nil {
			byResource[delta.ID] = make(map[Operation]*PlanUnit)
		}
		byResource[delta.ID][op] = unit
		plan.Units = append(plan.Units, unit)
		return unit
	}

	for _, delta := range diff.Deltas {
		switch delta.Op {
		case OperationCreate:
			unit := add(OperationCreate, delta)
			unit.ChangedFields = delta.ChangedFields
			plan.Summary.Creates++

		case OperationUpdate:
			unit := add(OperationUpdate, delta)
			unit.ChangedFields = delta.ChangedFields
			unit.Binding = delta.Binding
			plan.Summary.Updates++

		case OperationRemove:
			unit := add(OperationRemove, delta)
			unit.Binding = delta.Binding
			plan.Summary.Removes++

		case OperationRecreate:
			remove := add(OperationRemove, delta)
			remove.Binding = delta.Binding
			create := add(OperationCreate, delta)
			create.ChangedFields = delta.ChangedFields
			create.DependsOn = append(create.DependsOn, remove.ID)
			plan.Summary.Removes++
			plan.Summary.Creates++

		default:
			return nil, NewPermanentError(fmt.Sprintf("unplannable operation %s for %s", delta.Op, delta.ID), nil).
				WithCode(ErrCodeInternal)
		}
	}
	plan.Summary.Total = len(plan.Units)

	p.wireDependencies(desired, plan, byResource)
	return plan, nil
}

// wireDependencies adds the ordering edges between plan units. Forward edges
// come from the desired graph, teardown edges from the dependency metadata
// recorded in the store.
func (p *Planner) wireDependencies(desired *graph.Graph, plan *Plan, byResource map[resource.ID]map[Operation]*PlanUnit) {
	dependents := p.trackedDependents()

	for _, unit := range plan.Units {
		switch unit.Op {
		case OperationCreate, OperationUpdate:
			for _, dep := range desired.Dependencies(unit.ResourceID) {
				ops, ok := byResource[dep]
				if !ok {
					continue
				}
				if prereq, ok := ops[OperationCreate]; ok {
					unit.DependsOn = append(unit.DependsOn, prereq.ID)
				} else if prereq, ok := ops[OperationUpdate]; ok {
					unit.DependsOn = append(unit.DependsOn, prereq.ID)
				}
			}

		case OperationRemove:
			for _, dependent := range dependents[unit.ResourceID] {
				if ops, ok := byResource[dependent]; ok {
					if prereq, ok := ops[OperationRemove]; ok {
						unit.DependsOn = append(unit.DependsOn, prereq.ID)
					}
				}
			}
		}

		sort.Strings(unit.DependsOn)
		unit.DependsOn = dedupe(unit.DependsOn)
	}
}

// trackedDependents inverts the dependency lists recorded in the store,
// mapping each resource to the ids that depend on it.
func (p *Planner) trackedDependents() map[resource.ID][]resource.ID {
	dependents := make(map[resource.ID][]resource.ID)
	for _, entry := range p.store.List() {
		for _, dep := range entry.Dependencies {
			dependents[dep] = append(dependents[dep], entry.ID)
		}
	}
	return dependents
}

// dedupe removes adjacent duplicates from a sorted slice.
func dedupe(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
