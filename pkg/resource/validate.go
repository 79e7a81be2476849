package resource

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SpecError reports an invalid resource spec. It is permanent: a spec that
// fails validation is rejected at ingestion and never reaches the engine.
type SpecError struct {
	// ID is the resource id, if known.
	ID ID `json:"id,omitempty"`

	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// Field is the offending spec field, if the failure is field-scoped.
	Field string `json:"field,omitempty"`

	// Reason describes the failure.
	Reason string `json:"reason"`
}

// Error implements the error interface.
func (e *SpecError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s spec %s: field %s: %s", e.Kind, e.ID, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s spec %s: %s", e.Kind, e.ID, e.Reason)
}

// specValidator validates spec struct tags. Shared across the package;
// validator.Validate is safe for concurrent use.
var specValidator = validator.New()

// Validate checks the node's identity and spec. All field failures are
// collected and joined; each is a *SpecError.
func (n Node) Validate() error {
	if n.ID.IsZero() {
		return &SpecError{Kind: n.Kind, Field: "id", Reason: "resource id is required"}
	}
	if err := n.Kind.Validate(); err != nil {
		return &SpecError{ID: n.ID, Kind: n.Kind, Field: "kind", Reason: err.Error()}
	}
	if n.Spec == nil {
		return &SpecError{ID: n.ID, Kind: n.Kind, Reason: "spec is required"}
	}
	if n.Spec.Kind() != n.Kind {
		return &SpecError{
			ID:     n.ID,
			Kind:   n.Kind,
			Reason: fmt.Sprintf("spec is for kind %s", n.Spec.Kind()),
		}
	}

	var errs []error
	if err := specValidator.Struct(n.Spec); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = append(errs, &SpecError{
					ID:     n.ID,
					Kind:   n.Kind,
					Field:  fieldPath(fe),
					Reason: fmt.Sprintf("failed %q constraint", fe.Tag()),
				})
			}
		} else {
			errs = append(errs, &SpecError{ID: n.ID, Kind: n.Kind, Reason: err.Error()})
		}
	}

	errs = append(errs, n.validateCrossField()...)
	return errors.Join(errs...)
}

// validateCrossField applies the rules struct tags cannot express.
func (n Node) validateCrossField() []error {
	var errs []error
	fail := func(field, reason string) {
		errs = append(errs, &SpecError{ID: n.ID, Kind: n.Kind, Field: field, Reason: reason})
	}

	switch spec := n.Spec.(type) {
	case *ImageSpec:
		if strings.ContainsAny(spec.Reference, " \t") {
			fail("reference", "image reference must not contain whitespace")
		}

	case *ContainerSpec:
		if spec.RestartPolicy != "" {
			if err := spec.RestartPolicy.Validate(); err != nil {
				fail("restart_policy", err.Error())
			}
		}
		if spec.RunState != "" {
			if err := spec.RunState.Validate(); err != nil {
				fail("run_state", err.Error())
			}
		}
		targets := make(map[string]bool)
		for _, m := range spec.Mounts {
			if targets[m.Target] {
				fail("mounts", fmt.Sprintf("duplicate mount target %s", m.Target))
			}
			targets[m.Target] = true
		}
		if spec.NetworkMode == "host" && len(spec.Networks) > 0 {
			fail("networks", "host network mode excludes attached networks")
		}
		for _, b := range spec.Binds {
			if parts := strings.Split(b, ":"); len(parts) < 2 {
				fail("binds", fmt.Sprintf("bind %q must be host:container[:opts]", b))
			}
		}
		for _, id := range spec.DependsOn {
			if id == n.ID {
				fail("depends_on", "container cannot depend on itself")
			}
		}
	}
	return errs
}

// fieldPath renders a validator namespace as a spec field path, dropping
// the struct type prefix.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return strings.ToLower(ns[i+1:])
	}
	return strings.ToLower(fe.Field())
}
