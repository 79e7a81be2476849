// Package status egresses resource lifecycle changes and reconcile run
// outcomes to the device operator's sinks: the log stream, the telemetry
// event bus, or both. Reporters are wired as state-store observers, so
// every recorded transition produces exactly one update, in transition
// order per resource.
package status

import (
	"context"
	"time"

	"github.com/stevedore-io/stevedore/pkg/engine"
	"github.com/stevedore-io/stevedore/pkg/gateway"
	"github.com/stevedore-io/stevedore/pkg/resource"
	"github.com/stevedore-io/stevedore/pkg/state"
)

// Update describes one resource state change ready for egress.
type Update struct {
	// ResourceID is the logical resource id.
	ResourceID resource.ID `json:"resource_id"`

	// Kind is the resource kind.
	Kind resource.Kind `json:"kind"`

	// Name is the human-readable resource name.
	Name string `json:"name"`

	// State is the lifecycle state after the change.
	State state.Lifecycle `json:"state"`

	// Reason explains the change, e.g. a failure message or the plan
	// operation that drove it.
	Reason string `json:"reason,omitempty"`

	// Attempts is the attempt count at the time of the change.
	Attempts int `json:"attempts,omitempty"`

	// Binding is the engine binding after the change.
	Binding gateway.Binding `json:"binding,omitempty"`

	// Orphan marks an engine object no desired node has claimed.
	Orphan bool `json:"orphan,omitempty"`

	// At is when the change was recorded.
	At time.Time `json:"at"`
}

// RunUpdate describes one completed reconcile run.
type RunUpdate struct {
	// RunID is the run's unique identifier.
	RunID string `json:"run_id"`

	// PlanID is the plan the run executed.
	PlanID string `json:"plan_id"`

	// Status is the overall run status.
	Status engine.RunStatus `json:"status"`

	// Counts summarizes per-unit outcomes.
	Counts engine.RunSummary `json:"counts"`

	// Cancelled reports whether the run was superseded or shut down.
	Cancelled bool `json:"cancelled,omitempty"`

	// At is when the run finished.
	At time.Time `json:"at"`
}

// Reporter egresses updates to one sink. Reporters must not block: they
// run synchronously on the reconcile path.
type Reporter interface {
	// ReportResource egresses one resource state change.
	ReportResource(ctx context.Context, u Update)

	// ReportRun egresses one completed reconcile run.
	ReportRun(ctx context.Context, u RunUpdate)
}

// FromTransition converts a recorded store transition into an update.
func FromTransition(tr state.Transition) Update {
	return Update{
		ResourceID: tr.ID,
		Kind:       tr.Kind,
		Name:       tr.Name,
		State:      tr.To,
		Reason:     tr.Reason,
		Attempts:   tr.Attempts,
		Binding:    tr.Binding,
		At:         tr.At,
	}
}

// FromEntry converts a store entry into an update. Used to report state
// that predates any transition, such as entries adopted at rehydration.
func FromEntry(e state.Entry) Update {
	u := Update{
		ResourceID: e.ID,
		Kind:       e.Kind,
		Name:       e.Name,
		State:      e.State,
		Binding:    e.Binding,
		Orphan:     e.Orphan,
		At:         e.UpdatedAt,
	}
	if e.Failure != nil {
		u.Reason = e.Failure.Reason
		u.Attempts = e.Failure.Attempts
	}
	return u
}

// FromRunResult converts an engine run result into a run update.
func FromRunResult(res *engine.RunResult) RunUpdate {
	return RunUpdate{
		RunID:     res.ID,
		PlanID:    res.PlanID,
		Status:    res.Status,
		Counts:    res.Summary,
		Cancelled: res.Cancelled,
		At:        res.CompletedAt,
	}
}

// Observer adapts a reporter into a state-store observer.
func Observer(r Reporter) state.Observer {
	return func(tr state.Transition) {
		r.ReportResource(context.Background(), FromTransition(tr))
	}
}
