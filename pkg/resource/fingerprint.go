package resource

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint is the SHA-256 digest of a spec's canonical JSON encoding,
// as lowercase hex. Equal logical specs hash identically: defaults are
// applied before hashing, empty collections are omitted, and map keys are
// sorted by the encoder.
type Fingerprint string

// String returns the fingerprint as a string.
func (f Fingerprint) String() string {
	return string(f)
}

// IsZero returns true if the fingerprint is unset.
func (f Fingerprint) IsZero() bool {
	return f == ""
}

// Short returns a truncated digest for log output.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}

// fingerprintOf hashes the canonical JSON encoding of a normalized spec.
func fingerprintOf(spec Spec) (Fingerprint, error) {
	data, err := json.Marshal(spec.normalized())
	if err != nil {
		return "", fmt.Errorf("encode %s spec: %w", spec.Kind(), err)
	}
	sum := sha256.Sum256(data)
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}

// Fingerprint hashes the canonical form of the image spec.
func (s *ImageSpec) Fingerprint() (Fingerprint, error) { return fingerprintOf(s) }

// Fingerprint hashes the canonical form of the volume spec.
func (s *VolumeSpec) Fingerprint() (Fingerprint, error) { return fingerprintOf(s) }

// Fingerprint hashes the canonical form of the network spec.
func (s *NetworkSpec) Fingerprint() (Fingerprint, error) { return fingerprintOf(s) }

// Fingerprint hashes the canonical form of the container spec.
func (s *ContainerSpec) Fingerprint() (Fingerprint, error) { return fingerprintOf(s) }

func (s *ImageSpec) normalized() Spec {
	c := *s
	return &c
}

func (s *VolumeSpec) normalized() Spec {
	c := *s
	if c.Driver == "" {
		c.Driver = "local"
	}
	if len(c.Options) == 0 {
		c.Options = nil
	}
	if len(c.Labels) == 0 {
		c.Labels = nil
	}
	return &c
}

func (s *NetworkSpec) normalized() Spec {
	c := *s
	if c.Driver == "" {
		c.Driver = "bridge"
	}
	if len(c.Options) == 0 {
		c.Options = nil
	}
	if len(c.Labels) == 0 {
		c.Labels = nil
	}
	return &c
}

func (s *ContainerSpec) normalized() Spec {
	c := *s
	if c.RestartPolicy == "" {
		c.RestartPolicy = RestartNo
	}
	if c.RunState == "" {
		c.RunState = RunStateRunning
	}
	if len(c.Ports) > 0 {
		// Copy before defaulting so the caller's slice is untouched.
		ports := make([]PortBinding, len(c.Ports))
		copy(ports, c.Ports)
		for i := range ports {
			if ports[i].Protocol == "" {
				ports[i].Protocol = "tcp"
			}
		}
		c.Ports = ports
	}
	if len(c.Labels) == 0 {
		c.Labels = nil
	}
	return &c
}
