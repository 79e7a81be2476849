// Package gateway defines the contract between the reconciler and the
// container engine. The engine is reached only through the Gateway
// interface; the repo ships an in-memory implementation in gateway/fake,
// and concrete engine adapters satisfy the same interface out of tree.
//
// Every operation is safely retriable: create reports a collision through
// AlreadyExistsError so the caller can adopt an equivalent object, and
// remove of an absent object reports ErrNotFound so the caller can treat
// it as already done.
package gateway

import (
	"context"
	"time"

	"github.com/stevedore-io/stevedore/pkg/resource"
)

// Binding is the engine-assigned identifier of an engine object: an image
// id, volume name, network id, or container id. It is the only handle the
// core holds on an engine-native object.
type Binding string

// IsZero reports whether the binding is unset.
func (b Binding) IsZero() bool { return b == "" }

// ImagePullRequest asks the engine to fetch an image.
type ImagePullRequest struct {
	// Reference is the image reference, e.g. "docker.io/library/nginx:1.27".
	Reference string `json:"reference"`

	// Auth carries registry credentials when the reference is private.
	Auth *resource.RegistryAuth `json:"auth,omitempty"`

	// Labels are the management labels to associate with the image.
	Labels map[string]string `json:"labels,omitempty"`
}

// VolumeCreateRequest asks the engine to create a named volume.
type VolumeCreateRequest struct {
	// Name is the engine-side volume name.
	Name string `json:"name"`

	// Driver is the volume driver, e.g. "local".
	Driver string `json:"driver"`

	// Options are driver-specific options.
	Options map[string]string `json:"options,omitempty"`

	// Labels are the management labels plus any user labels.
	Labels map[string]string `json:"labels,omitempty"`
}

// NetworkCreateRequest asks the engine to create a network.
type NetworkCreateRequest struct {
	// Name is the engine-side network name.
	Name string `json:"name"`

	// Driver is the network driver, e.g. "bridge".
	Driver string `json:"driver"`

	// Internal restricts external access to the network.
	Internal bool `json:"internal,omitempty"`

	// EnableIPv6 enables IPv6 on the network.
	EnableIPv6 bool `json:"enable_ipv6,omitempty"`

	// Options are driver-specific options.
	Options map[string]string `json:"options,omitempty"`

	// Labels are the management labels plus any user labels.
	Labels map[string]string `json:"labels,omitempty"`
}

// Mount attaches a created volume inside a container.
type Mount struct {
	// Source is the binding of the volume to mount.
	Source Binding `json:"source"`

	// Target is the absolute path inside the container.
	Target string `json:"target"`

	// ReadOnly mounts the volume read-only.
	ReadOnly bool `json:"read_only,omitempty"`
}

// Port publishes a container port on the host.
type Port struct {
	// HostIP is the host interface to bind, empty for all.
	HostIP string `json:"host_ip,omitempty"`

	// HostPort is the host port, zero for engine-assigned.
	HostPort uint16 `json:"host_port,omitempty"`

	// ContainerPort is the port inside the container.
	ContainerPort uint16 `json:"container_port"`

	// Protocol is "tcp" or "udp".
	Protocol string `json:"protocol"`
}

// ContainerCreateRequest asks the engine to create a container. Dependency
// references are already resolved to engine bindings by the caller.
type ContainerCreateRequest struct {
	// Name is the engine-side container name.
	Name string `json:"name"`

	// Image is the binding of the pulled image to run.
	Image Binding `json:"image"`

	// Command overrides the image entrypoint arguments.
	Command []string `json:"command,omitempty"`

	// Env holds environment entries in "KEY=value" form.
	Env []string `json:"env,omitempty"`

	// Hostname sets the container hostname.
	Hostname string `json:"hostname,omitempty"`

	// RestartPolicy is the engine restart policy name.
	RestartPolicy string `json:"restart_policy,omitempty"`

	// Privileged grants extended privileges.
	Privileged bool `json:"privileged,omitempty"`

	// NetworkMode selects a non-managed network mode, e.g. "host".
	NetworkMode string `json:"network_mode,omitempty"`

	// Networks are bindings of managed networks to attach.
	Networks []Binding `json:"networks,omitempty"`

	// Mounts are managed volume mounts.
	Mounts []Mount `json:"mounts,omitempty"`

	// Binds are raw host bind mounts in "host:container[:opts]" form.
	Binds []string `json:"binds,omitempty"`

	// Ports are published ports.
	Ports []Port `json:"ports,omitempty"`

	// ExtraHosts adds /etc/hosts entries in "host:ip" form.
	ExtraHosts []string `json:"extra_hosts,omitempty"`

	// CapAdd lists kernel capabilities to add.
	CapAdd []string `json:"cap_add,omitempty"`

	// CapDrop lists kernel capabilities to drop.
	CapDrop []string `json:"cap_drop,omitempty"`

	// MemoryLimit caps container memory in bytes, zero for unlimited.
	MemoryLimit int64 `json:"memory_limit,omitempty"`

	// CPUQuota caps CPU in microseconds per period, zero for unlimited.
	CPUQuota int64 `json:"cpu_quota,omitempty"`

	// Labels are the management labels plus any user labels.
	Labels map[string]string `json:"labels,omitempty"`
}

// ContainerUpdateRequest changes live-updatable container attributes. Nil
// fields are left untouched.
type ContainerUpdateRequest struct {
	// RestartPolicy replaces the restart policy when set.
	RestartPolicy *string `json:"restart_policy,omitempty"`
}

// ActualObject is one engine object as reported by Inspect or ListManaged.
type ActualObject struct {
	// Kind is the resource kind the object maps to.
	Kind resource.Kind `json:"kind"`

	// Binding is the engine-assigned identifier.
	Binding Binding `json:"binding"`

	// Name is the engine-side object name.
	Name string `json:"name"`

	// ResourceID is the logical id read from the management label, empty
	// when the object is unlabelled.
	ResourceID resource.ID `json:"resource_id,omitempty"`

	// Fingerprint is the spec fingerprint read from the management label.
	Fingerprint resource.Fingerprint `json:"fingerprint,omitempty"`

	// Status is the engine's own status string, e.g. "running", "exited".
	Status string `json:"status,omitempty"`

	// Running reports whether a container is currently running.
	Running bool `json:"running,omitempty"`

	// Labels are all labels on the object.
	Labels map[string]string `json:"labels,omitempty"`
}

// Capabilities describes what the connected engine supports.
type Capabilities struct {
	// EngineVersion is the engine's reported version.
	EngineVersion string `json:"engine_version"`

	// APIVersion is the engine API version in use.
	APIVersion string `json:"api_version"`

	// SupportsContainerUpdate reports whether UpdateContainer works; when
	// false, attribute changes fall back to recreate.
	SupportsContainerUpdate bool `json:"supports_container_update"`
}

// Gateway is the closed, kind-specific capability set of the container
// engine. All calls honour context cancellation and deadlines.
type Gateway interface {
	// PullImage fetches an image and returns its binding.
	PullImage(ctx context.Context, req ImagePullRequest) (Binding, error)

	// RemoveImage deletes an image. ErrInUse while containers use it.
	RemoveImage(ctx context.Context, binding Binding) error

	// CreateVolume creates a volume and returns its binding.
	CreateVolume(ctx context.Context, req VolumeCreateRequest) (Binding, error)

	// RemoveVolume deletes a volume. ErrInUse while containers mount it.
	RemoveVolume(ctx context.Context, binding Binding) error

	// CreateNetwork creates a network and returns its binding.
	CreateNetwork(ctx context.Context, req NetworkCreateRequest) (Binding, error)

	// RemoveNetwork deletes a network. ErrInUse while containers attach it.
	RemoveNetwork(ctx context.Context, binding Binding) error

	// CreateContainer creates a container without starting it.
	CreateContainer(ctx context.Context, req ContainerCreateRequest) (Binding, error)

	// StartContainer starts a created or stopped container.
	StartContainer(ctx context.Context, binding Binding) error

	// StopContainer stops a running container, waiting up to timeout for
	// graceful shutdown before the engine kills it.
	StopContainer(ctx context.Context, binding Binding, timeout time.Duration) error

	// UpdateContainer applies live-updatable attribute changes.
	UpdateContainer(ctx context.Context, binding Binding, req ContainerUpdateRequest) error

	// RemoveContainer deletes a stopped container.
	RemoveContainer(ctx context.Context, binding Binding) error

	// Inspect reports the current state of one object, or ErrNotFound.
	Inspect(ctx context.Context, kind resource.Kind, binding Binding) (ActualObject, error)

	// ListManaged enumerates engine objects relevant to management: all
	// labelled objects plus unlabelled ones matching managed name patterns.
	// This is the sole source for state rehydration after restart.
	ListManaged(ctx context.Context) ([]ActualObject, error)

	// Capabilities reports engine version and feature support.
	Capabilities(ctx context.Context) (Capabilities, error)

	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error
}
