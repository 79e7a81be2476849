// Package state tracks the last-known lifecycle state of every managed
// resource: its lifecycle position, the fingerprint of the spec it was
// built from, and the engine binding. The store is held in memory,
// mirrored to an optional cache by an observer, and reconstructible purely
// from gateway enumeration after a restart.
package state

import (
	"time"

	"github.com/stevedore-io/stevedore/pkg/gateway"
	"github.com/stevedore-io/stevedore/pkg/resource"
)

// Failure records why and how often a resource's last operation failed.
type Failure struct {
	// Reason is a human-readable failure description.
	Reason string `json:"reason"`

	// Attempts is the number of attempts made, retries included.
	Attempts int `json:"attempts"`

	// LastAt is when the last attempt failed.
	LastAt time.Time `json:"last_at"`
}

// Entry is the stored record for one resource.
type Entry struct {
	// ID is the logical resource id.
	ID resource.ID `json:"id"`

	// Kind is the resource kind.
	Kind resource.Kind `json:"kind"`

	// Name is the human-readable resource name.
	Name string `json:"name"`

	// Set is the workload set the resource belongs to.
	Set string `json:"set,omitempty"`

	// State is the last-known lifecycle state.
	State Lifecycle `json:"state"`

	// Fingerprint is the fingerprint of the spec the engine object was
	// built from. Set together with the transition that made it true.
	Fingerprint resource.Fingerprint `json:"fingerprint,omitempty"`

	// Binding is the engine-assigned identifier once created.
	Binding gateway.Binding `json:"binding,omitempty"`

	// Dependencies are the resource ids this entry depended on when it was
	// built. Used to order teardown of no-longer-desired resources.
	Dependencies []resource.ID `json:"dependencies,omitempty"`

	// Failure holds details of the last failure, nil when healthy.
	Failure *Failure `json:"failure,omitempty"`

	// Orphan marks an engine object observed at rehydration that no
	// desired node has claimed.
	Orphan bool `json:"orphan,omitempty"`

	// UpdatedAt is when the entry last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition is emitted to observers on every recorded state change.
type Transition struct {
	// ID is the logical resource id.
	ID resource.ID `json:"id"`

	// Kind is the resource kind.
	Kind resource.Kind `json:"kind"`

	// Name is the human-readable resource name.
	Name string `json:"name"`

	// From is the state before the transition.
	From Lifecycle `json:"from"`

	// To is the state after the transition.
	To Lifecycle `json:"to"`

	// Reason explains the transition, e.g. a failure message or the plan
	// operation that drove it.
	Reason string `json:"reason,omitempty"`

	// Attempts is the attempt count at the time of the transition.
	Attempts int `json:"attempts,omitempty"`

	// Binding is the engine binding after the transition.
	Binding gateway.Binding `json:"binding,omitempty"`

	// At is when the transition was recorded.
	At time.Time `json:"at"`
}

// Observer receives transitions synchronously, in per-resource order.
type Observer func(Transition)
