package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stevedore-io/stevedore/pkg/resource"
)

// CycleError reports a dependency cycle. Path holds the nodes along the
// cycle with the entry node repeated at the end, so a self-dependency has
// path [a, a].
type CycleError struct {
	Path []resource.ID
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = id.String()
	}
	return fmt.Sprintf("dependency cycle: %s", strings.Join(parts, " -> "))
}

// AsCycleError extracts a CycleError from an error chain.
func AsCycleError(err error) (*CycleError, bool) {
	var ce *CycleError
	ok := errors.As(err, &ce)
	return ce, ok
}

// DanglingDependencyError reports dependencies that resolve to no node in
// the graph or the inserted batch.
type DanglingDependencyError struct {
	ID      resource.ID
	Missing []resource.ID
}

// Error implements the error interface.
func (e *DanglingDependencyError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, id := range e.Missing {
		parts[i] = id.String()
	}
	return fmt.Sprintf("resource %s depends on unknown resources: %s",
		e.ID, strings.Join(parts, ", "))
}

// DependentsExistError reports a removal refused because other nodes still
// depend on the target.
type DependentsExistError struct {
	ID         resource.ID
	Dependents []resource.ID
}

// Error implements the error interface.
func (e *DependentsExistError) Error() string {
	parts := make([]string, len(e.Dependents))
	for i, id := range e.Dependents {
		parts[i] = id.String()
	}
	return fmt.Sprintf("resource %s still has dependents: %s",
		e.ID, strings.Join(parts, ", "))
}

// NotFoundError reports an operation on a node the graph does not hold.
type NotFoundError struct {
	ID resource.ID
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource %s not in graph", e.ID)
}
