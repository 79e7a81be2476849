package stores

import (
	"context"
	"time"

	"github.com/stevedore-io/stevedore/pkg/engine"
	"github.com/stevedore-io/stevedore/pkg/resource"
	"github.com/stevedore-io/stevedore/pkg/state"
)

// RunRecord is one persisted reconcile run summary.
type RunRecord struct {
	// ID is the run id.
	ID string `json:"id"`

	// PlanID is the plan the run executed.
	PlanID string `json:"plan_id"`

	// Status is the terminal run status.
	Status engine.RunStatus `json:"status"`

	// Cancelled reports whether the run was cancelled mid-flight.
	Cancelled bool `json:"cancelled,omitempty"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished.
	CompletedAt time.Time `json:"completed_at"`

	// Summary counts per-unit outcomes.
	Summary engine.RunSummary `json:"summary"`
}

// StateCache defines the persistence surface the agent writes through. The
// cache is advisory: every consumer must function with it absent, and
// rehydration treats the engine's answer as authoritative over anything
// read back from here.
type StateCache interface {
	// SaveEntry upserts the current entry for a resource.
	SaveEntry(ctx context.Context, entry state.Entry) error

	// DeleteEntry removes the entry for an id. Deleting an absent id is
	// not an error.
	DeleteEntry(ctx context.Context, id resource.ID) error

	// LoadEntries returns every cached entry, sorted by id.
	LoadEntries(ctx context.Context) ([]state.Entry, error)

	// AppendTransition appends one transition to the journal.
	AppendTransition(ctx context.Context, tr state.Transition) error

	// ListTransitions returns the journal for a resource, newest first.
	ListTransitions(ctx context.Context, id resource.ID, limit int) ([]state.Transition, error)

	// SaveRun upserts a reconcile run summary.
	SaveRun(ctx context.Context, result *engine.RunResult) error

	// ListRuns returns persisted run summaries, newest first.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// Close releases the underlying storage.
	Close() error
}
