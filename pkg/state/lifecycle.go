package state

import (
	"encoding/json"
	"fmt"

	"github.com/stevedore-io/stevedore/pkg/resource"
)

// Lifecycle represents the last-known lifecycle state of a resource.
type Lifecycle string

const (
	// LifecycleMissing indicates no engine object exists yet.
	LifecycleMissing Lifecycle = "missing"

	// LifecycleCreating indicates a create or pull is in flight.
	LifecycleCreating Lifecycle = "creating"

	// LifecycleCreated indicates the engine object exists. Terminal ready
	// state for images, volumes and networks; containers continue to
	// starting when desired running.
	LifecycleCreated Lifecycle = "created"

	// LifecycleStarting indicates a container start is in flight.
	LifecycleStarting Lifecycle = "starting"

	// LifecycleRunning indicates the container is running.
	LifecycleRunning Lifecycle = "running"

	// LifecycleStopping indicates a container stop is in flight.
	LifecycleStopping Lifecycle = "stopping"

	// LifecycleStopped indicates the container exists but is not running.
	LifecycleStopped Lifecycle = "stopped"

	// LifecycleRemoving indicates a remove is in flight.
	LifecycleRemoving Lifecycle = "removing"

	// LifecycleRemoved indicates the engine confirmed removal.
	LifecycleRemoved Lifecycle = "removed"

	// LifecycleFailed indicates the last operation failed permanently.
	LifecycleFailed Lifecycle = "failed"

	// LifecycleSkipped indicates the resource was not attempted because a
	// dependency failed.
	LifecycleSkipped Lifecycle = "skipped"

	// LifecycleDeferred indicates removal was blocked by engine-side
	// references and will be retried on the next reconcile.
	LifecycleDeferred Lifecycle = "deferred"
)

// AllLifecycles returns every valid lifecycle state.
func AllLifecycles() []Lifecycle {
	return []Lifecycle{
		LifecycleMissing, LifecycleCreating, LifecycleCreated,
		LifecycleStarting, LifecycleRunning, LifecycleStopping,
		LifecycleStopped, LifecycleRemoving, LifecycleRemoved,
		LifecycleFailed, LifecycleSkipped, LifecycleDeferred,
	}
}

// Validate checks if the lifecycle state is valid.
func (l Lifecycle) Validate() error {
	switch l {
	case LifecycleMissing, LifecycleCreating, LifecycleCreated,
		LifecycleStarting, LifecycleRunning, LifecycleStopping,
		LifecycleStopped, LifecycleRemoving, LifecycleRemoved,
		LifecycleFailed, LifecycleSkipped, LifecycleDeferred:
		return nil
	default:
		return fmt.Errorf("invalid lifecycle state: %s", l)
	}
}

// IsTransitional returns true while an engine operation is in flight.
func (l Lifecycle) IsTransitional() bool {
	return l == LifecycleCreating || l == LifecycleStarting ||
		l == LifecycleStopping || l == LifecycleRemoving
}

// IsSteady returns true for healthy resting states.
func (l Lifecycle) IsSteady() bool {
	return l == LifecycleCreated || l == LifecycleRunning || l == LifecycleStopped
}

// IsFailure returns true for failed and skipped.
func (l Lifecycle) IsFailure() bool {
	return l == LifecycleFailed || l == LifecycleSkipped
}

// IsTerminal returns true if no further transition happens without a new
// plan.
func (l Lifecycle) IsTerminal() bool {
	return l == LifecycleRemoved || l.IsFailure()
}

// String returns the string representation.
func (l Lifecycle) String() string { return string(l) }

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (l Lifecycle) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(l))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (l *Lifecycle) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*l = Lifecycle(str)
	return l.Validate()
}

// transitions lists the legal next states per state, beyond the rules that
// any state may fail or skip and self-transitions re-record in place.
var transitions = map[Lifecycle][]Lifecycle{
	LifecycleMissing:  {LifecycleCreating, LifecycleRemoved},
	LifecycleCreating: {LifecycleCreated},
	LifecycleCreated:  {LifecycleStarting, LifecycleRemoving},
	LifecycleStarting: {LifecycleRunning},
	LifecycleRunning:  {LifecycleStopping},
	LifecycleStopping: {LifecycleStopped},
	LifecycleStopped:  {LifecycleStarting, LifecycleRemoving},
	LifecycleRemoving: {LifecycleRemoved, LifecycleDeferred},
	LifecycleRemoved:  {LifecycleCreating},
	LifecycleFailed:   {LifecycleCreating, LifecycleRemoving},
	LifecycleSkipped:  {LifecycleCreating, LifecycleRemoving},
	LifecycleDeferred: {LifecycleRemoving},
}

// CanTransition reports whether from may legally move to to. Any state may
// move to failed or skipped, and re-recording the same state is always
// legal.
func CanTransition(from, to Lifecycle) bool {
	if from == to {
		return true
	}
	if to == LifecycleFailed || to == LifecycleSkipped {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ReadyState returns the lifecycle state a resource must reach before its
// dependents may begin. Containers desired stopped are ready once created.
func ReadyState(kind resource.Kind, runState resource.RunState) Lifecycle {
	if kind == resource.KindContainer && runState != resource.RunStateStopped {
		return LifecycleRunning
	}
	return LifecycleCreated
}

// Satisfies reports whether an observed state meets the desired run state
// for a kind. A container desired stopped is satisfied by stopped or
// created; everything else requires exactly its ready state.
func Satisfies(kind resource.Kind, runState resource.RunState, observed Lifecycle) bool {
	if kind == resource.KindContainer && runState == resource.RunStateStopped {
		return observed == LifecycleStopped || observed == LifecycleCreated
	}
	return observed == ReadyState(kind, runState)
}
