// Package fake provides an in-memory container engine implementing the
// full gateway contract. It backs tests and the daemon's --engine=fake
// mode: bindings are stable synthetic ids, creates collide on duplicate
// names, and removal honours engine-side reference counting so a volume or
// network in use by a container reports ErrInUse.
//
// Tests can inject faults per operation with FailNext, slow calls down
// with SetLatency, and assert on the recorded call journal.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stevedore-io/stevedore/pkg/gateway"
	"github.com/stevedore-io/stevedore/pkg/resource"
)

// object is one engine-side object of any kind.
type object struct {
	kind    resource.Kind
	binding gateway.Binding
	name    string
	labels  map[string]string

	// container fields
	running       bool
	restartPolicy string
	image         gateway.Binding
	volumes       []gateway.Binding
	networks      []gateway.Binding
}

// Engine is an in-memory gateway.Gateway.
type Engine struct {
	mu          sync.Mutex
	objects     map[gateway.Binding]*object
	names       map[string]gateway.Binding
	seq         int
	calls       []string
	failures    map[string][]error
	latency     map[string]time.Duration
	unavailable bool
	caps        gateway.Capabilities
}

// New creates an empty engine.
func New() *Engine {
	return &Engine{
		objects:  make(map[gateway.Binding]*object),
		names:    make(map[string]gateway.Binding),
		failures: make(map[string][]error),
		latency:  make(map[string]time.Duration),
		caps: gateway.Capabilities{
			EngineVersion:           "fake-1.0",
			APIVersion:              "1.0",
			SupportsContainerUpdate: true,
		},
	}
}

// FailNext queues an error for the next call of the named operation.
// Multiple queued errors are consumed in order.
func (e *Engine) FailNext(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[op] = append(e.failures[op], err)
}

// SetLatency delays every call of the named operation.
func (e *Engine) SetLatency(op string, d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latency[op] = d
}

// SetUnavailable makes every call fail with ErrUnavailable until reset.
func (e *Engine) SetUnavailable(down bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unavailable = down
}

// SetContainerUpdateSupport toggles the UpdateContainer capability.
func (e *Engine) SetContainerUpdateSupport(ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.caps.SupportsContainerUpdate = ok
}

// Calls returns the recorded call journal, one "op detail" entry per call.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallCount returns how many times the named operation was invoked.
func (e *Engine) CallCount(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if len(c) >= len(op) && c[:len(op)] == op {
			n++
		}
	}
	return n
}

// ResetCalls clears the call journal.
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

// Seed inserts an object directly, bypassing the create path. Rehydration
// tests use it to shape pre-existing engine state. A zero binding gets a
// synthetic one assigned.
func (e *Engine) Seed(obj gateway.ActualObject) gateway.Binding {
	e.mu.Lock()
	defer e.mu.Unlock()
	binding := obj.Binding
	if binding.IsZero() {
		binding = e.nextBinding(obj.Kind)
	}
	o := &object{
		kind:    obj.Kind,
		binding: binding,
		name:    obj.Name,
		labels:  copyLabels(obj.Labels),
		running: obj.Running,
	}
	e.objects[binding] = o
	e.names[nameKey(obj.Kind, obj.Name)] = binding
	return binding
}

// begin runs the shared per-call bookkeeping: availability check, injected
// latency, journal entry, queued failure. Callers hold no lock.
func (e *Engine) begin(ctx context.Context, op, detail string) error {
	e.mu.Lock()
	down := e.unavailable
	delay := e.latency[op]
	e.calls = append(e.calls, op+" "+detail)
	var injected error
	if queue := e.failures[op]; len(queue) > 0 {
		injected = queue[0]
		e.failures[op] = queue[1:]
	}
	e.mu.Unlock()

	if down {
		return gateway.ErrUnavailable
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if injected != nil {
		return injected
	}
	return ctx.Err()
}

func (e *Engine) nextBinding(kind resource.Kind) gateway.Binding {
	e.seq++
	prefix := map[resource.Kind]string{
		resource.KindImage:     "img",
		resource.KindVolume:    "vol",
		resource.KindNetwork:   "net",
		resource.KindContainer: "ctr",
	}[kind]
	return gateway.Binding(fmt.Sprintf("%s-%06d", prefix, e.seq))
}

func nameKey(kind resource.Kind, name string) string {
	return string(kind) + "/" + name
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// insertLocked handles the shared duplicate-name check and insertion.
// Caller holds the lock.
func (e *Engine) insertLocked(kind resource.Kind, name string, labels map[string]string) (*object, error) {
	key := nameKey(kind, name)
	if existing, ok := e.names[key]; ok {
		obj := e.objects[existing]
		return nil, &gateway.AlreadyExistsError{
			Binding:     existing,
			Fingerprint: gateway.FingerprintFromLabels(obj.labels),
		}
	}
	o := &object{
		kind:    kind,
		binding: e.nextBinding(kind),
		name:    name,
		labels:  copyLabels(labels),
	}
	e.objects[o.binding] = o
	e.names[key] = o.binding
	return o, nil
}

// PullImage fetches an image. Pulling a reference that is already present
// reports AlreadyExistsError carrying the existing binding.
func (e *Engine) PullImage(ctx context.Context, req gateway.ImagePullRequest) (gateway.Binding, error) {
	if err := e.begin(ctx, "PullImage", req.Reference); err != nil {
		return "", err
	}
	if req.Reference == "" {
		return "", fmt.Errorf("image reference is empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, err := e.insertLocked(resource.KindImage, req.Reference, req.Labels)
	if err != nil {
		return "", err
	}
	return obj.binding, nil
}

// RemoveImage deletes an image, refusing with ErrInUse while containers
// run from it.
func (e *Engine) RemoveImage(ctx context.Context, binding gateway.Binding) error {
	if err := e.begin(ctx, "RemoveImage", string(binding)); err != nil {
		return err
	}
	return e.remove(resource.KindImage, binding)
}

// CreateVolume creates a named volume.
func (e *Engine) CreateVolume(ctx context.Context, req gateway.VolumeCreateRequest) (gateway.Binding, error) {
	if err := e.begin(ctx, "CreateVolume", req.Name); err != nil {
		return "", err
	}
	if req.Name == "" {
		return "", fmt.Errorf("volume name is empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, err := e.insertLocked(resource.KindVolume, req.Name, req.Labels)
	if err != nil {
		return "", err
	}
	return obj.binding, nil
}

// RemoveVolume deletes a volume, refusing with ErrInUse while containers
// mount it.
func (e *Engine) RemoveVolume(ctx context.Context, binding gateway.Binding) error {
	if err := e.begin(ctx, "RemoveVolume", string(binding)); err != nil {
		return err
	}
	return e.remove(resource.KindVolume, binding)
}

// CreateNetwork creates a network.
func (e *Engine) CreateNetwork(ctx context.Context, req gateway.NetworkCreateRequest) (gateway.Binding, error) {
	if err := e.begin(ctx, "CreateNetwork", req.Name); err != nil {
		return "", err
	}
	if req.Name == "" {
		return "", fmt.Errorf("network name is empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, err := e.insertLocked(resource.KindNetwork, req.Name, req.Labels)
	if err != nil {
		return "", err
	}
	return obj.binding, nil
}

// RemoveNetwork deletes a network, refusing with ErrInUse while containers
// attach it.
func (e *Engine) RemoveNetwork(ctx context.Context, binding gateway.Binding) error {
	if err := e.begin(ctx, "RemoveNetwork", string(binding)); err != nil {
		return err
	}
	return e.remove(resource.KindNetwork, binding)
}

// CreateContainer creates a container without starting it. Every
// referenced image, volume and network binding must exist.
func (e *Engine) CreateContainer(ctx context.Context, req gateway.ContainerCreateRequest) (gateway.Binding, error) {
	if err := e.begin(ctx, "CreateContainer", req.Name); err != nil {
		return "", err
	}
	if req.Name == "" {
		return "", fmt.Errorf("container name is empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.objects[req.Image]; !ok {
		return "", fmt.Errorf("no such image %s", req.Image)
	}
	for _, m := range req.Mounts {
		if _, ok := e.objects[m.Source]; !ok {
			return "", fmt.Errorf("no such volume %s", m.Source)
		}
	}
	for _, n := range req.Networks {
		if _, ok := e.objects[n]; !ok {
			return "", fmt.Errorf("no such network %s", n)
		}
	}

	obj, err := e.insertLocked(resource.KindContainer, req.Name, req.Labels)
	if err != nil {
		return "", err
	}
	obj.image = req.Image
	obj.restartPolicy = req.RestartPolicy
	for _, m := range req.Mounts {
		obj.volumes = append(obj.volumes, m.Source)
	}
	obj.networks = append(obj.networks, req.Networks...)
	return obj.binding, nil
}

// StartContainer starts a container. Starting a running container is a
// no-op.
func (e *Engine) StartContainer(ctx context.Context, binding gateway.Binding) error {
	if err := e.begin(ctx, "StartContainer", string(binding)); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[binding]
	if !ok || obj.kind != resource.KindContainer {
		return gateway.ErrNotFound
	}
	obj.running = true
	return nil
}

// StopContainer stops a container. Stopping a stopped container is a
// no-op.
func (e *Engine) StopContainer(ctx context.Context, binding gateway.Binding, timeout time.Duration) error {
	if err := e.begin(ctx, "StopContainer", string(binding)); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[binding]
	if !ok || obj.kind != resource.KindContainer {
		return gateway.ErrNotFound
	}
	obj.running = false
	return nil
}

// UpdateContainer applies live attribute changes.
func (e *Engine) UpdateContainer(ctx context.Context, binding gateway.Binding, req gateway.ContainerUpdateRequest) error {
	if err := e.begin(ctx, "UpdateContainer", string(binding)); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.caps.SupportsContainerUpdate {
		return fmt.Errorf("engine does not support container update")
	}
	obj, ok := e.objects[binding]
	if !ok || obj.kind != resource.KindContainer {
		return gateway.ErrNotFound
	}
	if req.RestartPolicy != nil {
		obj.restartPolicy = *req.RestartPolicy
	}
	return nil
}

// RemoveContainer deletes a container. Removing a running container is
// refused.
func (e *Engine) RemoveContainer(ctx context.Context, binding gateway.Binding) error {
	if err := e.begin(ctx, "RemoveContainer", string(binding)); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[binding]
	if !ok || obj.kind != resource.KindContainer {
		return gateway.ErrNotFound
	}
	if obj.running {
		return fmt.Errorf("container %s is running", obj.name)
	}
	delete(e.names, nameKey(obj.kind, obj.name))
	delete(e.objects, binding)
	return nil
}

// remove deletes a non-container object after the reference check.
func (e *Engine) remove(kind resource.Kind, binding gateway.Binding) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[binding]
	if !ok || obj.kind != kind {
		return gateway.ErrNotFound
	}
	for _, other := range e.objects {
		if other.kind != resource.KindContainer {
			continue
		}
		if other.image == binding {
			return fmt.Errorf("%s used by container %s: %w", obj.name, other.name, gateway.ErrInUse)
		}
		for _, v := range other.volumes {
			if v == binding {
				return fmt.Errorf("%s mounted by container %s: %w", obj.name, other.name, gateway.ErrInUse)
			}
		}
		for _, n := range other.networks {
			if n == binding {
				return fmt.Errorf("%s attached to container %s: %w", obj.name, other.name, gateway.ErrInUse)
			}
		}
	}
	delete(e.names, nameKey(obj.kind, obj.name))
	delete(e.objects, binding)
	return nil
}

// Inspect reports the current state of one object.
func (e *Engine) Inspect(ctx context.Context, kind resource.Kind, binding gateway.Binding) (gateway.ActualObject, error) {
	if err := e.begin(ctx, "Inspect", string(binding)); err != nil {
		return gateway.ActualObject{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	obj, ok := e.objects[binding]
	if !ok || obj.kind != kind {
		return gateway.ActualObject{}, gateway.ErrNotFound
	}
	return e.actual(obj), nil
}

// ListManaged enumerates every object the engine holds, with labels.
func (e *Engine) ListManaged(ctx context.Context) ([]gateway.ActualObject, error) {
	if err := e.begin(ctx, "ListManaged", ""); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]gateway.ActualObject, 0, len(e.objects))
	for _, obj := range e.objects {
		out = append(out, e.actual(obj))
	}
	return out, nil
}

// Capabilities reports the fake engine's feature set.
func (e *Engine) Capabilities(ctx context.Context) (gateway.Capabilities, error) {
	if err := e.begin(ctx, "Capabilities", ""); err != nil {
		return gateway.Capabilities{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.caps, nil
}

// Ping verifies the engine is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.begin(ctx, "Ping", "")
}

// actual converts an object to its reported form. Caller holds the lock.
func (e *Engine) actual(obj *object) gateway.ActualObject {
	status := "created"
	switch obj.kind {
	case resource.KindImage:
		status = "present"
	case resource.KindContainer:
		if obj.running {
			status = "running"
		} else {
			status = "exited"
		}
	}
	return gateway.ActualObject{
		Kind:        obj.kind,
		Binding:     obj.binding,
		Name:        obj.name,
		ResourceID:  gateway.ResourceIDFromLabels(obj.labels),
		Fingerprint: gateway.FingerprintFromLabels(obj.labels),
		Status:      status,
		Running:     obj.running,
		Labels:      copyLabels(obj.labels),
	}
}
