package state

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/stevedore-io/stevedore/pkg/gateway"
	"github.com/stevedore-io/stevedore/pkg/resource"
)

var (
	// ErrEntryNotFound is returned when a transition targets an unknown id.
	ErrEntryNotFound = errors.New("state entry not found")

	// ErrIllegalTransition is returned when a transition violates the
	// lifecycle table.
	ErrIllegalTransition = errors.New("illegal lifecycle transition")
)

// Store holds the entry for every managed resource. Reads are lock-free on
// the sharded map; writes are serialized so a transition's state,
// fingerprint and binding change atomically. Observers are notified
// synchronously after each recorded transition.
type Store struct {
	entries cmap.ConcurrentMap[string, Entry]

	writeMu sync.Mutex

	obsMu     sync.RWMutex
	observers []Observer

	// now is swappable for tests.
	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: cmap.New[Entry](),
		now:     time.Now,
	}
}

// Get returns the entry for an id.
func (s *Store) Get(id resource.ID) (Entry, bool) {
	return s.entries.Get(string(id))
}

// Len returns the number of entries.
func (s *Store) Len() int {
	return s.entries.Count()
}

// List returns all entries sorted by id.
func (s *Store) List() []Entry {
	items := s.entries.Items()
	out := make([]Entry, 0, len(items))
	for _, e := range items {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe registers an observer for future transitions. Observers run
// synchronously in registration order.
func (s *Store) Subscribe(obs Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, obs)
}

// notify fans a transition out to all observers.
func (s *Store) notify(tr Transition) {
	s.obsMu.RLock()
	observers := s.observers
	s.obsMu.RUnlock()
	for _, obs := range observers {
		obs(tr)
	}
}

// Begin ensures an entry exists for a desired node before a run touches
// it. A new entry starts at missing. An existing entry keeps its state,
// binding and fingerprint but adopts the node's name, set and dependency
// list, and sheds any orphan flag now that the id is desired again.
func (s *Store) Begin(node resource.Node) Entry {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	entry, ok := s.entries.Get(string(node.ID))
	if !ok {
		entry = Entry{
			ID:    node.ID,
			Kind:  node.Kind,
			State: LifecycleMissing,
		}
	}
	entry.Name = node.Name
	entry.Set = node.Set
	entry.Dependencies = node.Dependencies()
	entry.Orphan = false
	entry.UpdatedAt = s.now()
	s.entries.Set(string(node.ID), entry)
	return entry
}

// MarkOrphan inserts an entry for an engine object no desired node has
// claimed. Existing entries for the same id are left untouched.
func (s *Store) MarkOrphan(entry Entry) Entry {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if existing, ok := s.entries.Get(string(entry.ID)); ok {
		return existing
	}
	entry.Orphan = true
	entry.UpdatedAt = s.now()
	s.entries.Set(string(entry.ID), entry)
	return entry
}

// Adopt inserts a rehydrated entry as-is, replacing any previous entry for
// the id.
func (s *Store) Adopt(entry Entry) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	entry.UpdatedAt = s.now()
	s.entries.Set(string(entry.ID), entry)
}

// Delete removes an entry after the engine confirmed removal.
func (s *Store) Delete(id resource.ID) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.entries.Remove(string(id))
}

// TransitionOption adjusts what a transition records.
type TransitionOption func(*transitionParams)

type transitionParams struct {
	reason       string
	binding      *gateway.Binding
	fingerprint  *resource.Fingerprint
	dependencies []resource.ID
	failure      bool
	failureNote  bool
	clearFailure bool
}

// WithReason attaches a human-readable reason to the transition.
func WithReason(reason string) TransitionOption {
	return func(p *transitionParams) { p.reason = reason }
}

// WithBinding records the engine binding together with the transition.
func WithBinding(b gateway.Binding) TransitionOption {
	return func(p *transitionParams) { p.binding = &b }
}

// WithFingerprint records the spec fingerprint together with the
// transition.
func WithFingerprint(fp resource.Fingerprint) TransitionOption {
	return func(p *transitionParams) { p.fingerprint = &fp }
}

// WithDependencies records the dependency ids the resource was built with.
func WithDependencies(deps []resource.ID) TransitionOption {
	return func(p *transitionParams) { p.dependencies = deps }
}

// WithFailure increments the attempt counter and records the failure
// reason on the entry.
func WithFailure(reason string) TransitionOption {
	return func(p *transitionParams) {
		p.failure = true
		p.reason = reason
	}
}

// WithFailureReason records a failure reason without counting an attempt,
// used when a resource is skipped before its operation ever ran.
func WithFailureReason(reason string) TransitionOption {
	return func(p *transitionParams) {
		p.failureNote = true
		p.reason = reason
	}
}

// WithFailureCleared drops the entry's failure record, used when an
// operation succeeds after earlier attempts failed.
func WithFailureCleared() TransitionOption {
	return func(p *transitionParams) { p.clearFailure = true }
}

// RecordTransition moves an entry to a new lifecycle state. The state,
// fingerprint and binding change in one atomic write; observers see the
// resulting transition after it is applied. Unknown ids return
// ErrEntryNotFound and violations of the lifecycle table return
// ErrIllegalTransition.
func (s *Store) RecordTransition(id resource.ID, to Lifecycle, opts ...TransitionOption) (Transition, error) {
	var p transitionParams
	for _, opt := range opts {
		opt(&p)
	}

	s.writeMu.Lock()
	entry, ok := s.entries.Get(string(id))
	if !ok {
		s.writeMu.Unlock()
		return Transition{}, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	from := entry.State
	if !CanTransition(from, to) {
		s.writeMu.Unlock()
		return Transition{}, fmt.Errorf("%w: %s: %s -> %s", ErrIllegalTransition, id, from, to)
	}

	now := s.now()
	entry.State = to
	if p.binding != nil {
		entry.Binding = *p.binding
	}
	if p.fingerprint != nil {
		entry.Fingerprint = *p.fingerprint
	}
	if p.dependencies != nil {
		entry.Dependencies = p.dependencies
	}
	if p.failure {
		attempts := 1
		if entry.Failure != nil {
			attempts = entry.Failure.Attempts + 1
		}
		entry.Failure = &Failure{Reason: p.reason, Attempts: attempts, LastAt: now}
	} else if p.failureNote {
		attempts := 0
		if entry.Failure != nil {
			attempts = entry.Failure.Attempts
		}
		entry.Failure = &Failure{Reason: p.reason, Attempts: attempts, LastAt: now}
	} else if p.clearFailure {
		entry.Failure = nil
	}
	entry.UpdatedAt = now
	s.entries.Set(string(id), entry)
	s.writeMu.Unlock()

	tr := Transition{
		ID:      entry.ID,
		Kind:    entry.Kind,
		Name:    entry.Name,
		From:    from,
		To:      to,
		Reason:  p.reason,
		Binding: entry.Binding,
		At:      now,
	}
	if entry.Failure != nil {
		tr.Attempts = entry.Failure.Attempts
	}
	s.notify(tr)
	return tr, nil
}
