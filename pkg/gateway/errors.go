package gateway

import (
	"errors"
	"fmt"

	"github.com/stevedore-io/stevedore/pkg/resource"
)

var (
	// ErrNotFound is returned by Inspect and the remove operations when the
	// object does not exist. Removal of an absent object counts as done.
	ErrNotFound = errors.New("object not found")

	// ErrInUse is returned by the remove operations while other engine
	// objects still reference the target. It signals deferral, not failure.
	ErrInUse = errors.New("object in use")

	// ErrUnavailable is returned when the engine cannot be reached.
	ErrUnavailable = errors.New("engine unavailable")
)

// AlreadyExistsError is returned by the create operations when an object
// with the same name already exists. The caller compares Fingerprint
// against the request: a match means the object can be adopted as-is.
type AlreadyExistsError struct {
	// Binding identifies the existing object.
	Binding Binding

	// Fingerprint is the existing object's fingerprint label, empty when
	// the object is unlabelled.
	Fingerprint resource.Fingerprint
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("object already exists as %s", e.Binding)
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInUse reports whether err is ErrInUse.
func IsInUse(err error) bool { return errors.Is(err, ErrInUse) }

// IsUnavailable reports whether err is ErrUnavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// IsAlreadyExists reports whether err carries an AlreadyExistsError.
func IsAlreadyExists(err error) bool {
	var target *AlreadyExistsError
	return errors.As(err, &target)
}

// AsAlreadyExists extracts an AlreadyExistsError from err's chain.
func AsAlreadyExists(err error) (*AlreadyExistsError, bool) {
	var target *AlreadyExistsError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
