package resource

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is the stable identifier of a managed resource. IDs are UUID strings;
// they are either random (ad-hoc resources) or derived deterministically
// from the workload set, kind, and name so that the same manifest always
// produces the same ids.
type ID string

// idNamespace is the fixed UUID namespace for deterministic resource ids.
var idNamespace = uuid.MustParse("8c7e2af4-52b1-4b6a-9c67-6d1df9d6f1ce")

// NewID returns a new random resource id.
func NewID() ID {
	return ID(uuid.NewString())
}

// DeterministicID derives a stable id from the workload set, kind, and
// resource name. The same inputs always produce the same id.
func DeterministicID(set string, kind Kind, name string) ID {
	seed := set + "/" + string(kind) + "/" + name
	return ID(uuid.NewSHA1(idNamespace, []byte(seed)).String())
}

// ParseID validates and normalizes an id string.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid resource id %q: %w", s, err)
	}
	return ID(u.String()), nil
}

// String returns the id as a string.
func (id ID) String() string {
	return string(id)
}

// IsZero returns true if the id is unset.
func (id ID) IsZero() bool {
	return id == ""
}

// Short returns a truncated form of the id for log output.
func (id ID) Short() string {
	if len(id) <= 8 {
		return string(id)
	}
	return string(id[:8])
}
