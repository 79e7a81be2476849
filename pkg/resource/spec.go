package resource

import (
	"encoding/json"
	"fmt"
)

// RestartPolicy controls how the engine restarts a container after exit.
type RestartPolicy string

const (
	// RestartNo disables automatic restarts.
	RestartNo RestartPolicy = "no"

	// RestartAlways restarts the container regardless of exit status.
	RestartAlways RestartPolicy = "always"

	// RestartOnFailure restarts the container only on non-zero exit.
	RestartOnFailure RestartPolicy = "on-failure"

	// RestartUnlessStopped restarts unless the container was stopped explicitly.
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// Validate checks if the restart policy is valid.
func (p RestartPolicy) Validate() error {
	switch p {
	case RestartNo, RestartAlways, RestartOnFailure, RestartUnlessStopped:
		return nil
	default:
		return fmt.Errorf("invalid restart policy: %s", p)
	}
}

// RunState is the desired run state of a container. It is an in-place
// mutable field: flipping it maps to engine start/stop, never to recreate.
type RunState string

const (
	// RunStateRunning means the container should be created and started.
	RunStateRunning RunState = "running"

	// RunStateStopped means the container should exist but stay stopped.
	RunStateStopped RunState = "stopped"
)

// Validate checks if the run state is valid.
func (s RunState) Validate() error {
	switch s {
	case RunStateRunning, RunStateStopped:
		return nil
	default:
		return fmt.Errorf("invalid run state: %s", s)
	}
}

// Spec is the desired configuration of a resource of one kind.
type Spec interface {
	// Kind returns the resource kind this spec configures.
	Kind() Kind

	// Fingerprint hashes the canonical form of the spec.
	Fingerprint() (Fingerprint, error)

	// normalized returns a defaults-applied copy used for fingerprinting
	// and field diffs.
	normalized() Spec
}

// RegistryAuth carries optional registry credentials for an image pull.
type RegistryAuth struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// ImageSpec describes a container image to pull.
type ImageSpec struct {
	// Reference is the full image reference (registry/repo:tag or @digest).
	Reference string `json:"reference" yaml:"reference" validate:"required"`

	// Auth holds optional registry credentials.
	Auth *RegistryAuth `json:"auth,omitempty" yaml:"auth,omitempty"`
}

// Kind returns KindImage.
func (s *ImageSpec) Kind() Kind { return KindImage }

// VolumeSpec describes a named volume.
type VolumeSpec struct {
	// Driver is the volume driver. Defaults to "local".
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`

	// Options are driver-specific creation options.
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`

	// Labels are user labels applied to the volume.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Kind returns KindVolume.
func (s *VolumeSpec) Kind() Kind { return KindVolume }

// NetworkSpec describes a container network.
type NetworkSpec struct {
	// Driver is the network driver. Defaults to "bridge".
	Driver string `json:"driver,omitempty" yaml:"driver,omitempty"`

	// Internal restricts the network from external connectivity.
	Internal bool `json:"internal,omitempty" yaml:"internal,omitempty"`

	// EnableIPv6 enables IPv6 on the network.
	EnableIPv6 bool `json:"enable_ipv6,omitempty" yaml:"enable_ipv6,omitempty"`

	// Options are driver-specific options.
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`

	// Labels are user labels applied to the network.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// Kind returns KindNetwork.
func (s *NetworkSpec) Kind() Kind { return KindNetwork }

// Mount attaches a managed volume to a container path.
type Mount struct {
	// Volume is the id of the volume resource to mount.
	Volume ID `json:"volume" yaml:"volume" validate:"required"`

	// Target is the absolute path inside the container.
	Target string `json:"target" yaml:"target" validate:"required,startswith=/"`

	// ReadOnly mounts the volume read-only.
	ReadOnly bool `json:"read_only,omitempty" yaml:"read_only,omitempty"`
}

// PortBinding publishes a container port on the host.
type PortBinding struct {
	// HostIP is the host interface to bind. Empty binds all interfaces.
	HostIP string `json:"host_ip,omitempty" yaml:"host_ip,omitempty"`

	// HostPort is the host port. Zero requests an ephemeral port.
	HostPort uint16 `json:"host_port,omitempty" yaml:"host_port,omitempty"`

	// ContainerPort is the port inside the container.
	ContainerPort uint16 `json:"container_port" yaml:"container_port" validate:"required,min=1"`

	// Protocol is "tcp" or "udp". Defaults to "tcp".
	Protocol string `json:"protocol,omitempty" yaml:"protocol,omitempty" validate:"omitempty,oneof=tcp udp"`
}

// ContainerSpec describes a container instance. Dependency fields (Image,
// Mounts, Networks, DependsOn) reference other resources by id; the
// dependency graph is derived from them.
type ContainerSpec struct {
	// Image is the id of the image resource this container runs.
	Image ID `json:"image" yaml:"image" validate:"required"`

	// Command overrides the image command.
	Command []string `json:"command,omitempty" yaml:"command,omitempty"`

	// Env is the environment in KEY=value form.
	Env []string `json:"env,omitempty" yaml:"env,omitempty"`

	// Hostname sets the container hostname.
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty"`

	// RestartPolicy controls engine-side restarts. Defaults to "no".
	// Mutable in place.
	RestartPolicy RestartPolicy `json:"restart_policy,omitempty" yaml:"restart_policy,omitempty"`

	// RunState is the desired run state. Defaults to "running".
	// Mutable in place.
	RunState RunState `json:"run_state,omitempty" yaml:"run_state,omitempty"`

	// Privileged grants extended privileges to the container.
	Privileged bool `json:"privileged,omitempty" yaml:"privileged,omitempty"`

	// NetworkMode sets the container network mode (e.g. "bridge", "host").
	NetworkMode string `json:"network_mode,omitempty" yaml:"network_mode,omitempty"`

	// Networks lists managed networks to attach, by resource id.
	Networks []ID `json:"networks,omitempty" yaml:"networks,omitempty"`

	// Mounts lists managed volume mounts.
	Mounts []Mount `json:"mounts,omitempty" yaml:"mounts,omitempty" validate:"dive"`

	// Binds lists raw host bind mounts in "host:container[:opts]" form.
	Binds []string `json:"binds,omitempty" yaml:"binds,omitempty"`

	// Ports lists published ports.
	Ports []PortBinding `json:"ports,omitempty" yaml:"ports,omitempty" validate:"dive"`

	// ExtraHosts adds /etc/hosts entries in "host:ip" form.
	ExtraHosts []string `json:"extra_hosts,omitempty" yaml:"extra_hosts,omitempty"`

	// CapAdd lists kernel capabilities to add.
	CapAdd []string `json:"cap_add,omitempty" yaml:"cap_add,omitempty"`

	// CapDrop lists kernel capabilities to drop.
	CapDrop []string `json:"cap_drop,omitempty" yaml:"cap_drop,omitempty"`

	// MemoryLimit caps container memory in bytes. Zero means unlimited.
	MemoryLimit int64 `json:"memory_limit,omitempty" yaml:"memory_limit,omitempty" validate:"min=0"`

	// CPUQuota caps CPU in microseconds per scheduler period. Zero means
	// unlimited.
	CPUQuota int64 `json:"cpu_quota,omitempty" yaml:"cpu_quota,omitempty" validate:"min=0"`

	// Labels are user labels applied to the container.
	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`

	// DependsOn lists other containers that must be running first.
	DependsOn []ID `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Kind returns KindContainer.
func (s *ContainerSpec) Kind() Kind { return KindContainer }

// Node is a resource in the dependency graph: an id, its kind, a
// human-readable name, the workload set it belongs to, and the desired
// spec. Set is grouping metadata and does not contribute to the
// fingerprint.
type Node struct {
	ID   ID     `json:"id"`
	Kind Kind   `json:"kind"`
	Name string `json:"name"`
	Set  string `json:"set,omitempty"`
	Spec Spec   `json:"spec"`
}

// Dependencies derives the resource ids this node depends on. Only
// containers have dependencies: the image, mounted volumes, attached
// networks, and explicit depends_on containers. The result is deduplicated
// in first-occurrence order.
func (n Node) Dependencies() []ID {
	spec, ok := n.Spec.(*ContainerSpec)
	if !ok {
		return nil
	}

	var deps []ID
	seen := make(map[ID]bool)
	add := func(id ID) {
		if id.IsZero() || seen[id] {
			return
		}
		seen[id] = true
		deps = append(deps, id)
	}

	add(spec.Image)
	for _, m := range spec.Mounts {
		add(m.Volume)
	}
	for _, net := range spec.Networks {
		add(net)
	}
	for _, dep := range spec.DependsOn {
		add(dep)
	}
	return deps
}

// Fingerprint hashes the node's spec.
func (n Node) Fingerprint() (Fingerprint, error) {
	if n.Spec == nil {
		return "", fmt.Errorf("resource %s has no spec", n.ID)
	}
	return n.Spec.Fingerprint()
}

// nodeJSON is the wire form of a Node with a raw spec payload.
type nodeJSON struct {
	ID   ID              `json:"id"`
	Kind Kind            `json:"kind"`
	Name string          `json:"name"`
	Set  string          `json:"set,omitempty"`
	Spec json.RawMessage `json:"spec"`
}

// UnmarshalJSON decodes a node, selecting the concrete spec type by kind.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw nodeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := raw.Kind.Validate(); err != nil {
		return err
	}

	var spec Spec
	switch raw.Kind {
	case KindImage:
		spec = &ImageSpec{}
	case KindVolume:
		spec = &VolumeSpec{}
	case KindNetwork:
		spec = &NetworkSpec{}
	case KindContainer:
		spec = &ContainerSpec{}
	}
	if len(raw.Spec) > 0 {
		if err := json.Unmarshal(raw.Spec, spec); err != nil {
			return fmt.Errorf("decode %s spec: %w", raw.Kind, err)
		}
	}

	n.ID = raw.ID
	n.Kind = raw.Kind
	n.Name = raw.Name
	n.Set = raw.Set
	n.Spec = spec
	return nil
}
