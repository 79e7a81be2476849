package state

import (
	"testing"

	"github.com/stevedore-io/stevedore/pkg/resource"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Lifecycle
		to   Lifecycle
		want bool
	}{
		{"create begins", LifecycleMissing, LifecycleCreating, true},
		{"create completes", LifecycleCreating, LifecycleCreated, true},
		{"start begins", LifecycleCreated, LifecycleStarting, true},
		{"start completes", LifecycleStarting, LifecycleRunning, true},
		{"stop path", LifecycleRunning, LifecycleStopping, true},
		{"stop completes", LifecycleStopping, LifecycleStopped, true},
		{"restart from stopped", LifecycleStopped, LifecycleStarting, true},
		{"remove from created", LifecycleCreated, LifecycleRemoving, true},
		{"remove completes", LifecycleRemoving, LifecycleRemoved, true},
		{"removal deferred", LifecycleRemoving, LifecycleDeferred, true},
		{"deferred retried", LifecycleDeferred, LifecycleRemoving, true},
		{"recreate after removal", LifecycleRemoved, LifecycleCreating, true},
		{"retry after failure", LifecycleFailed, LifecycleCreating, true},
		{"cleanup after failure", LifecycleFailed, LifecycleRemoving, true},
		{"anything may fail", LifecycleStarting, LifecycleFailed, true},
		{"anything may skip", LifecycleMissing, LifecycleSkipped, true},
		{"self transition re-records", LifecycleRunning, LifecycleRunning, true},
		{"absent object removal", LifecycleMissing, LifecycleRemoved, true},
		{"no running without starting", LifecycleCreated, LifecycleRunning, false},
		{"no removal of running", LifecycleRunning, LifecycleRemoving, false},
		{"no create from created", LifecycleCreated, LifecycleCreating, false},
		{"no stop of stopped", LifecycleStopped, LifecycleStopping, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestLifecycleValidate(t *testing.T) {
	for _, l := range AllLifecycles() {
		if err := l.Validate(); err != nil {
			t.Errorf("Validate(%s): %v", l, err)
		}
	}
	if err := Lifecycle("exploded").Validate(); err == nil {
		t.Error("Validate(exploded) = nil, want error")
	}
}

func TestLifecyclePredicates(t *testing.T) {
	if !LifecycleCreating.IsTransitional() || LifecycleCreated.IsTransitional() {
		t.Error("IsTransitional misclassified creating/created")
	}
	if !LifecycleRunning.IsSteady() || LifecycleRemoving.IsSteady() {
		t.Error("IsSteady misclassified running/removing")
	}
	if !LifecycleSkipped.IsFailure() || LifecycleStopped.IsFailure() {
		t.Error("IsFailure misclassified skipped/stopped")
	}
	if !LifecycleRemoved.IsTerminal() || LifecycleDeferred.IsTerminal() {
		t.Error("IsTerminal misclassified removed/deferred")
	}
}

func TestReadyState(t *testing.T) {
	if got := ReadyState(resource.KindImage, ""); got != LifecycleCreated {
		t.Errorf("ReadyState(image) = %s, want created", got)
	}
	if got := ReadyState(resource.KindContainer, resource.RunStateRunning); got != LifecycleRunning {
		t.Errorf("ReadyState(container running) = %s, want running", got)
	}
	if got := ReadyState(resource.KindContainer, ""); got != LifecycleRunning {
		t.Errorf("ReadyState(container default) = %s, want running", got)
	}
	if got := ReadyState(resource.KindContainer, resource.RunStateStopped); got != LifecycleCreated {
		t.Errorf("ReadyState(container stopped) = %s, want created", got)
	}
}

func TestSatisfies(t *testing.T) {
	tests := []struct {
		name     string
		kind     resource.Kind
		runState resource.RunState
		observed Lifecycle
		want     bool
	}{
		{"volume created", resource.KindVolume, "", LifecycleCreated, true},
		{"volume still missing", resource.KindVolume, "", LifecycleMissing, false},
		{"running container", resource.KindContainer, resource.RunStateRunning, LifecycleRunning, true},
		{"container not yet running", resource.KindContainer, resource.RunStateRunning, LifecycleCreated, false},
		{"stopped container as stopped", resource.KindContainer, resource.RunStateStopped, LifecycleStopped, true},
		{"stopped container as created", resource.KindContainer, resource.RunStateStopped, LifecycleCreated, true},
		{"stopped container still running", resource.KindContainer, resource.RunStateStopped, LifecycleRunning, false},
		{"failed never satisfies", resource.KindContainer, resource.RunStateRunning, LifecycleFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Satisfies(tt.kind, tt.runState, tt.observed); got != tt.want {
				t.Errorf("Satisfies(%s, %s, %s) = %v, want %v", tt.kind, tt.runState, tt.observed, got, tt.want)
			}
		})
	}
}
