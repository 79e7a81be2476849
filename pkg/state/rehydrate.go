package state

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/gateway"
	"github.com/stevedore-io/stevedore/pkg/resource"
)

// orphanSet names the synthetic workload set used to derive stable ids for
// unlabelled engine objects.
const orphanSet = "orphans"

// CacheReader is the slice of the persistent cache that rehydration
// consults. The cache only enriches entries; the gateway answer wins every
// conflict.
type CacheReader interface {
	LoadEntries(ctx context.Context) ([]Entry, error)
}

// Summary reports what rehydration found.
type Summary struct {
	// Entries is the number of labelled engine objects adopted.
	Entries int `json:"entries"`

	// Orphans is the number of unlabelled objects flagged.
	Orphans int `json:"orphans"`
}

// Rehydrator rebuilds the store from the engine's actual state after a
// process restart. Every adopted entry starts orphan-flagged; submitting
// desired state claims matching ids, and whatever stays unclaimed is
// surfaced as an orphan instead of silently reused.
type Rehydrator struct {
	gateway gateway.Gateway
	store   *Store
	cache   CacheReader
	logger  zerolog.Logger
}

// NewRehydrator wires a rehydrator. cache may be nil.
func NewRehydrator(gw gateway.Gateway, store *Store, cache CacheReader, logger zerolog.Logger) *Rehydrator {
	return &Rehydrator{gateway: gw, store: store, cache: cache, logger: logger}
}

// Rehydrate enumerates the engine and populates the store. It fails only
// when the engine cannot be enumerated; a broken cache degrades to
// gateway-only entries.
func (r *Rehydrator) Rehydrate(ctx context.Context) (Summary, error) {
	objs, err := r.gateway.ListManaged(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("enumerate engine objects: %w", err)
	}

	cached := make(map[resource.ID]Entry)
	if r.cache != nil {
		entries, err := r.cache.LoadEntries(ctx)
		if err != nil {
			r.logger.Warn().Err(err).Msg("State cache unreadable, rehydrating from engine only")
		} else {
			for _, e := range entries {
				cached[e.ID] = e
			}
		}
	}

	var summary Summary
	for _, obj := range objs {
		entry := r.entryFor(obj, cached)
		r.store.Adopt(entry)
		if obj.ResourceID.IsZero() {
			summary.Orphans++
			r.logger.Info().
				Str("kind", string(obj.Kind)).
				Str("name", obj.Name).
				Str("binding", string(obj.Binding)).
				Msg("Unlabelled engine object flagged as orphan")
		} else {
			summary.Entries++
		}
	}

	r.logger.Info().
		Int("entries", summary.Entries).
		Int("orphans", summary.Orphans).
		Msg("State store rehydrated from engine")
	return summary, nil
}

// entryFor maps one engine object to a store entry. Labelled objects keep
// their logical id and fingerprint; unlabelled ones get a stable synthetic
// id derived from their binding. Cached entries contribute only what the
// engine cannot report: dependency sets and failure history.
func (r *Rehydrator) entryFor(obj gateway.ActualObject, cached map[resource.ID]Entry) Entry {
	id := obj.ResourceID
	if id.IsZero() {
		id = resource.DeterministicID(orphanSet, obj.Kind, string(obj.Binding))
	}

	entry := Entry{
		ID:          id,
		Kind:        obj.Kind,
		Name:        obj.Name,
		Set:         obj.Labels[gateway.LabelWorkloadSet],
		State:       observedLifecycle(obj),
		Fingerprint: obj.Fingerprint,
		Binding:     obj.Binding,
		Orphan:      true,
	}
	if prev, ok := cached[id]; ok {
		entry.Dependencies = prev.Dependencies
		entry.Failure = prev.Failure
		if entry.Set == "" {
			entry.Set = prev.Set
		}
	}
	return entry
}

// observedLifecycle maps an engine object's reported state to a lifecycle
// state.
func observedLifecycle(obj gateway.ActualObject) Lifecycle {
	if obj.Kind == resource.KindContainer {
		if obj.Running {
			return LifecycleRunning
		}
		return LifecycleStopped
	}
	return LifecycleCreated
}
