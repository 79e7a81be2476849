package resource

import (
	"encoding/json"
	"fmt"
)

// Kind identifies one of the managed resource kinds. The set is closed:
// per-kind dispatch happens through exhaustive switches and operation
// tables, never through runtime registration.
type Kind string

const (
	// KindImage is a container image pulled from a registry.
	KindImage Kind = "image"

	// KindVolume is a named data volume.
	KindVolume Kind = "volume"

	// KindNetwork is a container network.
	KindNetwork Kind = "network"

	// KindContainer is a container instance.
	KindContainer Kind = "container"
)

// AllKinds returns every managed kind in creation-precedence order.
func AllKinds() []Kind {
	return []Kind{KindImage, KindVolume, KindNetwork, KindContainer}
}

// Validate checks if the kind is one of the managed kinds.
func (k Kind) Validate() error {
	switch k {
	case KindImage, KindVolume, KindNetwork, KindContainer:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// String returns the kind as a string.
func (k Kind) String() string {
	return string(k)
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(k))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*k = Kind(str)
	return k.Validate()
}
