package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/gateway"
	"github.com/stevedore-io/stevedore/pkg/graph"
	"github.com/stevedore-io/stevedore/pkg/resource"
	"github.com/stevedore-io/stevedore/pkg/state"
)

// Executor applies a single plan unit to the engine through the gateway,
// recording lifecycle transitions in the state store around every call.
// Retries, backoff, and ordering are the scheduler's concern; the executor
// performs exactly one attempt.
type Executor struct {
	gateway gateway.Gateway
	store   *state.Store
	logger  zerolog.Logger

	// stopTimeout bounds the graceful stop before a container removal.
	stopTimeout time.Duration
}

// NewExecutor creates an executor bound to a gateway and state store.
func NewExecutor(gw gateway.Gateway, store *state.Store, logger zerolog.Logger, stopTimeout time.Duration) *Executor {
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	return &Executor{
		gateway:     gw,
		store:       store,
		logger:      logger.With().Str("component", "executor").Logger(),
		stopTimeout: stopTimeout,
	}
}

// Execute performs one attempt of the given unit. The desired graph supplies
// specs for creates and updates; removals work from tracked state alone.
// Returned errors are always *EngineError so the scheduler can classify.
func (e *Executor) Execute(ctx context.Context, desired *graph.Graph, unit *PlanUnit) error {
	switch unit.Op {
	case OperationCreate:
		return e.executeCreate(ctx, desired, unit)
	case OperationUpdate:
		return e.executeUpdate(ctx, desired, unit)
	case OperationRemove:
		return e.executeRemove(ctx, unit)
	default:
		return NewPermanentError(fmt.Sprintf("unexecutable operation %s", unit.Op), nil).
			WithCode(ErrCodeInternal).
			WithResource(string(unit.ResourceID))
	}
}

// executeCreate pulls an image or creates a volume, network, or container,
// then starts containers whose desired run state is running. A name conflict
// with a matching fingerprint adopts the existing object instead of failing.
func (e *Executor) executeCreate(ctx context.Context, desired *graph.Graph, unit *PlanUnit) error {
	node, ok := desired.Node(unit.ResourceID)
	if !ok {
		return NewPermanentError(fmt.Sprintf("resource %s not in desired graph", unit.ResourceID.Short()), nil).
			WithCode(ErrCodeInternal).
			WithResource(string(unit.ResourceID))
	}
	fp, err := node.Fingerprint()
	if err != nil {
		return NewPermanentError("fingerprint desired spec", err).
			WithCode(ErrCodeValidation).
			WithResource(string(unit.ResourceID))
	}

	// The remove half of a recreate drops the entry, so re-establish it
	// before recording the create transition.
	e.store.Begin(node)
	if _, err := e.store.RecordTransition(node.ID, state.LifecycleCreating, state.WithReason(unit.Reason)); err != nil {
		return e.internalTransition(node.ID, err)
	}

	binding, err := e.createObject(ctx, node, fp)
	if err != nil {
		if existing, ok := gateway.AsAlreadyExists(err); ok && existing.Fingerprint == fp {
			e.logger.Debug().
				Str("resource_id", node.ID.Short()).
				Str("binding", string(existing.Binding)).
				Msg("adopting existing object with matching fingerprint")
			binding = existing.Binding
		} else {
			return e.fail(ctx, node.ID, unit.Op, err)
		}
	}

	_, err = e.store.RecordTransition(node.ID, state.LifecycleCreated,
		state.WithBinding(binding),
		state.WithFingerprint(fp),
		state.WithFailureCleared())
	if err != nil {
		return e.internalTransition(node.ID, err)
	}

	if node.Kind == resource.KindContainer && state.ReadyState(node.Kind, desiredRunState(node)) == state.LifecycleRunning {
		return e.startContainer(ctx, node.ID, binding, unit.Op)
	}
	return nil
}

// createObject dispatches the kind-specific create call and returns the
// binding of the new engine object.
func (e *Executor) createObject(ctx context.Context, node resource.Node, fp resource.Fingerprint) (gateway.Binding, error) {
	switch spec := node.Spec.(type) {
	case *resource.ImageSpec:
		return e.gateway.PullImage(ctx, gateway.ImagePullRequest{
			Reference: spec.Reference,
			Auth:      spec.Auth,
			Labels:    gateway.ManagedLabels(node, fp, nil),
		})

	case *resource.VolumeSpec:
		return e.gateway.CreateVolume(ctx, gateway.VolumeCreateRequest{
			Name:    node.Name,
			Driver:  spec.Driver,
			Options: spec.Options,
			Labels:  gateway.ManagedLabels(node, fp, spec.Labels),
		})

	case *resource.NetworkSpec:
		return e.gateway.CreateNetwork(ctx, gateway.NetworkCreateRequest{
			Name:       node.Name,
			Driver:     spec.Driver,
			Internal:   spec.Internal,
			EnableIPv6: spec.EnableIPv6,
			Options:    spec.Options,
			Labels:     gateway.ManagedLabels(node, fp, spec.Labels),
		})

	case *resource.ContainerSpec:
		req, err := e.containerCreateRequest(node, spec, fp)
		if err != nil {
			return "", err
		}
		return e.gateway.CreateContainer(ctx, req)

	default:
		return "", NewPermanentError(fmt.Sprintf("unknown spec type for kind %s", node.Kind), nil).
			WithCode(ErrCodeInternal).
			WithResource(string(node.ID))
	}
}

// containerCreateRequest resolves the container's dependency ids into the
// engine bindings recorded in the store. Every referenced image, volume, and
// network must already be created; the scheduler's ordering guarantees that.
func (e *Executor) containerCreateRequest(node resource.Node, spec *resource.ContainerSpec, fp resource.Fingerprint) (gateway.ContainerCreateRequest, error) {
	image, err := e.resolveBinding(spec.Image, "image")
	if err != nil {
		return gateway.ContainerCreateRequest{}, err
	}

	mounts := make([]gateway.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		source, err := e.resolveBinding(m.Volume, "volume")
		if err != nil {
			return gateway.ContainerCreateRequest{}, err
		}
		mounts = append(mounts, gateway.Mount{
			Source:   source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	networks := make([]gateway.Binding, 0, len(spec.Networks))
	for _, id := range spec.Networks {
		binding, err := e.resolveBinding(id, "network")
		if err != nil {
			return gateway.ContainerCreateRequest{}, err
		}
		networks = append(networks, binding)
	}

	ports := make([]gateway.Port, 0, len(spec.Ports))
	for _, p := range spec.Ports {
		ports = append(ports, gateway.Port{
			HostIP:        p.HostIP,
			HostPort:      p.HostPort,
			ContainerPort: p.ContainerPort,
			Protocol:      p.Protocol,
		})
	}

	return gateway.ContainerCreateRequest{
		Name:          node.Name,
		Image:         image,
		Command:       spec.Command,
		Env:           spec.Env,
		Hostname:      spec.Hostname,
		RestartPolicy: restartPolicyName(spec.RestartPolicy),
		Privileged:    spec.Privileged,
		NetworkMode:   spec.NetworkMode,
		Networks:      networks,
		Mounts:        mounts,
		Binds:         spec.Binds,
		Ports:         ports,
		ExtraHosts:    spec.ExtraHosts,
		CapAdd:        spec.CapAdd,
		CapDrop:       spec.CapDrop,
		MemoryLimit:   spec.MemoryLimit,
		CPUQuota:      spec.CPUQuota,
		Labels:        gateway.ManagedLabels(node, fp, spec.Labels),
	}, nil
}

// resolveBinding looks up the engine binding a dependency resolved to.
func (e *Executor) resolveBinding(id resource.ID, what string) (gateway.Binding, error) {
	entry, ok := e.store.Get(id)
	if !ok || entry.Binding.IsZero() {
		return "", NewPermanentError(fmt.Sprintf("%s %s has no engine binding", what, id.Short()), nil).
			WithCode(ErrCodeDependencyFailed).
			WithResource(string(id))
	}
	return entry.Binding, nil
}

// executeUpdate applies in-place changes to a live container: a restart
// policy change through the engine's update API, a run state change through
// start or stop. The tracked fingerprint is bumped once all changes landed.
func (e *Executor) executeUpdate(ctx context.Context, desired *graph.Graph, unit *PlanUnit) error {
	node, ok := desired.Node(unit.ResourceID)
	if !ok {
		return NewPermanentError(fmt.Sprintf("resource %s not in desired graph", unit.ResourceID.Short()), nil).
			WithCode(ErrCodeInternal).
			WithResource(string(unit.ResourceID))
	}
	spec, ok := node.Spec.(*resource.ContainerSpec)
	if !ok {
		return NewPermanentError(fmt.Sprintf("%s resources cannot be updated in place", node.Kind), nil).
			WithCode(ErrCodeUnsupported).
			WithResource(string(node.ID))
	}
	entry, ok := e.store.Get(node.ID)
	if !ok || entry.Binding.IsZero() {
		return NewPermanentError("no engine binding to update", nil).
			WithCode(ErrCodeInternal).
			WithResource(string(node.ID))
	}
	fp, err := node.Fingerprint()
	if err != nil {
		return NewPermanentError("fingerprint desired spec", err).
			WithCode(ErrCodeValidation).
			WithResource(string(node.ID))
	}

	changed := make(map[string]bool, len(unit.ChangedFields))
	for _, f := range unit.ChangedFields {
		changed[f] = true
	}

	if changed["restart_policy"] {
		policy := restartPolicyName(spec.RestartPolicy)
		err := e.gateway.UpdateContainer(ctx, entry.Binding, gateway.ContainerUpdateRequest{
			RestartPolicy: &policy,
		})
		if err != nil {
			return e.fail(ctx, node.ID, unit.Op, err)
		}
	}

	if changed["run_state"] {
		if err := e.reconcileRunState(ctx, node, entry, unit.Op); err != nil {
			return err
		}
	}

	entry, _ = e.store.Get(node.ID)
	_, err = e.store.RecordTransition(node.ID, entry.State,
		state.WithFingerprint(fp),
		state.WithFailureCleared())
	if err != nil {
		return e.internalTransition(node.ID, err)
	}
	return nil
}

// reconcileRunState starts or stops a container so its lifecycle matches the
// desired run state.
func (e *Executor) reconcileRunState(ctx context.Context, node resource.Node, entry state.Entry, op Operation) error {
	desired := state.ReadyState(node.Kind, desiredRunState(node))
	switch {
	case desired == state.LifecycleRunning && entry.State != state.LifecycleRunning:
		return e.startContainer(ctx, node.ID, entry.Binding, op)

	case desired == state.LifecycleCreated && entry.State == state.LifecycleRunning:
		return e.stopContainer(ctx, node.ID, entry.Binding, op)
	}
	return nil
}

// startContainer runs the starting and running transitions around the
// gateway start call.
func (e *Executor) startContainer(ctx context.Context, id resource.ID, binding gateway.Binding, op Operation) error {
	if _, err := e.store.RecordTransition(id, state.LifecycleStarting); err != nil {
		return e.internalTransition(id, err)
	}
	if err := e.gateway.StartContainer(ctx, binding); err != nil {
		return e.fail(ctx, id, op, err)
	}
	if _, err := e.store.RecordTransition(id, state.LifecycleRunning, state.WithFailureCleared()); err != nil {
		return e.internalTransition(id, err)
	}
	return nil
}

// stopContainer runs the stopping and stopped transitions around the
// gateway stop call.
func (e *Executor) stopContainer(ctx context.Context, id resource.ID, binding gateway.Binding, op Operation) error {
	if _, err := e.store.RecordTransition(id, state.LifecycleStopping); err != nil {
		return e.internalTransition(id, err)
	}
	if err := e.gateway.StopContainer(ctx, binding, e.stopTimeout); err != nil && !gateway.IsNotFound(err) {
		return e.fail(ctx, id, op, err)
	}
	if _, err := e.store.RecordTransition(id, state.LifecycleStopped); err != nil {
		return e.internalTransition(id, err)
	}
	return nil
}

// executeRemove deletes the engine object tracked for the unit's resource.
// Running containers are stopped first. A removal refused because other
// objects still reference the target parks the entry in deferred instead of
// failing it; an object that is already gone counts as success.
func (e *Executor) executeRemove(ctx context.Context, unit *PlanUnit) error {
	entry, ok := e.store.Get(unit.ResourceID)
	if !ok {
		return nil
	}

	if entry.Binding.IsZero() {
		return e.finishRemoval(entry)
	}

	if entry.Kind == resource.KindContainer && entry.State == state.LifecycleRunning {
		if err := e.stopContainer(ctx, entry.ID, entry.Binding, unit.Op); err != nil {
			return err
		}
		entry, _ = e.store.Get(entry.ID)
	}

	if !state.CanTransition(entry.State, state.LifecycleRemoving) {
		// Entries stuck in a transitional state from an interrupted run
		// are forced through failed, which every state may enter.
		_, err := e.store.RecordTransition(entry.ID, state.LifecycleFailed,
			state.WithFailure("interrupted before removal"))
		if err != nil {
			return e.internalTransition(entry.ID, err)
		}
	}
	if _, err := e.store.RecordTransition(entry.ID, state.LifecycleRemoving, state.WithReason(unit.Reason)); err != nil {
		return e.internalTransition(entry.ID, err)
	}

	err := e.removeObject(ctx, entry)
	switch {
	case err == nil, gateway.IsNotFound(err):
		entry, _ = e.store.Get(entry.ID)
		return e.finishRemoval(entry)

	case gateway.IsInUse(err):
		_, terr := e.store.RecordTransition(entry.ID, state.LifecycleDeferred,
			state.WithReason("engine object still in use"))
		if terr != nil {
			return e.internalTransition(entry.ID, terr)
		}
		return classify(unit.Op, entry.ID, err)

	default:
		return e.fail(ctx, entry.ID, unit.Op, err)
	}
}

// removeObject dispatches the kind-specific removal call.
func (e *Executor) removeObject(ctx context.Context, entry state.Entry) error {
	switch entry.Kind {
	case resource.KindImage:
		return e.gateway.RemoveImage(ctx, entry.Binding)
	case resource.KindVolume:
		return e.gateway.RemoveVolume(ctx, entry.Binding)
	case resource.KindNetwork:
		return e.gateway.RemoveNetwork(ctx, entry.Binding)
	case resource.KindContainer:
		return e.gateway.RemoveContainer(ctx, entry.Binding)
	default:
		return NewPermanentError(fmt.Sprintf("unknown kind %s", entry.Kind), nil).
			WithCode(ErrCodeInternal).
			WithResource(string(entry.ID))
	}
}

// finishRemoval records the terminal removed transition and drops the entry
// from the store.
func (e *Executor) finishRemoval(entry state.Entry) error {
	to := state.LifecycleRemoved
	if !state.CanTransition(entry.State, to) {
		// Absent object with no removal in flight: force through failed
		// so bookkeeping still reaches removed.
		if _, err := e.store.RecordTransition(entry.ID, state.LifecycleFailed,
			state.WithFailure("no engine object to remove")); err != nil {
			return e.internalTransition(entry.ID, err)
		}
		if _, err := e.store.RecordTransition(entry.ID, state.LifecycleRemoving); err != nil {
			return e.internalTransition(entry.ID, err)
		}
	}
	if _, err := e.store.RecordTransition(entry.ID, to); err != nil {
		return e.internalTransition(entry.ID, err)
	}
	e.store.Delete(entry.ID)
	return nil
}

// fail records a failed transition for the resource and returns the
// classified error. Context cancellation skips the failure record so an
// aborted attempt does not count against the retry budget.
func (e *Executor) fail(ctx context.Context, id resource.ID, op Operation, err error) error {
	classified := classify(op, id, err)
	if ctx.Err() == nil || errors.Is(err, context.DeadlineExceeded) {
		if _, terr := e.store.RecordTransition(id, state.LifecycleFailed,
			state.WithFailure(classified.Message)); terr != nil {
			e.logger.Warn().Err(terr).Str("resource_id", id.Short()).Msg("failure transition rejected")
		}
	}
	return classified
}

// internalTransition wraps an unexpected store transition rejection. These
// indicate a planning bug, not an engine condition, and are never retried.
func (e *Executor) internalTransition(id resource.ID, err error) error {
	return NewPermanentError("record lifecycle transition", err).
		WithCode(ErrCodeInternal).
		WithResource(string(id))
}

// classify maps a gateway error to the engine's error taxonomy. Engine
// errors pass through untouched so injected classifications survive.
func classify(op Operation, id resource.ID, err error) *EngineError {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		if engErr.Resource == "" {
			engErr = engErr.WithResource(string(id))
		}
		if engErr.Operation == "" {
			engErr = engErr.WithOperation(string(op))
		}
		return engErr
	}

	var wrap *EngineError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		wrap = NewTransientError("operation timed out", err).WithCode(ErrCodeTimeout)
	case errors.Is(err, context.Canceled):
		wrap = NewTransientError("operation aborted", err).WithCode(ErrCodeAborted)
	case gateway.IsUnavailable(err):
		wrap = NewTransientError("engine unavailable", err).WithCode(ErrCodeEngineUnavailable)
	case gateway.IsInUse(err):
		wrap = NewConflictError("engine object still in use", err).WithCode(ErrCodeInUse)
	case gateway.IsNotFound(err):
		wrap = NewPermanentError("engine object not found", err).WithCode(ErrCodeNotFound)
	default:
		if existing, ok := gateway.AsAlreadyExists(err); ok {
			wrap = NewConflictError(fmt.Sprintf("object already exists as %s with different configuration", existing.Binding), err).
				WithCode(ErrCodeAlreadyExists)
		} else {
			wrap = NewPermanentError(err.Error(), err)
		}
	}
	return wrap.WithResource(string(id)).WithOperation(string(op))
}

// restartPolicyName normalizes the restart policy for the engine, applying
// the default.
func restartPolicyName(p resource.RestartPolicy) string {
	if p == "" {
		return string(resource.RestartNo)
	}
	return string(p)
}
