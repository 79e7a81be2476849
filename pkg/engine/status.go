package engine

import (
	"encoding/json"
	"fmt"
)

// Operation represents what the differ decided for a resource.
type Operation string

const (
	// OperationCreate indicates a new engine object must be created.
	OperationCreate Operation = "create"

	// OperationUpdate indicates a live object's mutable attributes change
	// in place.
	OperationUpdate Operation = "update"

	// OperationRemove indicates the engine object must be removed.
	OperationRemove Operation = "remove"

	// OperationRecreate indicates remove-then-create because an immutable
	// attribute changed or the object is unhealthy.
	OperationRecreate Operation = "recreate"

	// OperationNoop indicates the resource already matches desired state.
	OperationNoop Operation = "noop"
)

// IsDestructive returns true if the operation removes an engine object.
func (o Operation) IsDestructive() bool {
	return o == OperationRemove || o == OperationRecreate
}

// IsMutating returns true if the operation changes engine state.
func (o Operation) IsMutating() bool {
	return o != OperationNoop
}

// Validate checks if the operation is valid.
func (o Operation) Validate() error {
	switch o {
	case OperationCreate, OperationUpdate, OperationRemove,
		OperationRecreate, OperationNoop:
		return nil
	default:
		return fmt.Errorf("invalid operation: %s", o)
	}
}

// UnitStatus represents the execution status of a plan unit.
type UnitStatus string

const (
	// UnitStatusPending indicates the unit is waiting on dependencies.
	UnitStatusPending UnitStatus = "pending"

	// UnitStatusRunning indicates the unit is currently executing.
	UnitStatusRunning UnitStatus = "running"

	// UnitStatusSucceeded indicates the unit completed successfully.
	UnitStatusSucceeded UnitStatus = "succeeded"

	// UnitStatusFailed indicates the unit failed after exhausting retries.
	UnitStatusFailed UnitStatus = "failed"

	// UnitStatusSkipped indicates the unit was not attempted because a
	// dependency failed.
	UnitStatusSkipped UnitStatus = "skipped"

	// UnitStatusDeferred indicates a removal was blocked by live
	// references and left for the next reconcile.
	UnitStatusDeferred UnitStatus = "deferred"

	// UnitStatusAborted indicates the run was cancelled before the unit
	// started.
	UnitStatusAborted UnitStatus = "aborted"
)

// IsTerminal returns true if the unit status represents a final state.
func (s UnitStatus) IsTerminal() bool {
	return s == UnitStatusSucceeded || s == UnitStatusFailed ||
		s == UnitStatusSkipped || s == UnitStatusDeferred || s == UnitStatusAborted
}

// Validate checks if the unit status is valid.
func (s UnitStatus) Validate() error {
	switch s {
	case UnitStatusPending, UnitStatusRunning, UnitStatusSucceeded,
		UnitStatusFailed, UnitStatusSkipped, UnitStatusDeferred, UnitStatusAborted:
		return nil
	default:
		return fmt.Errorf("invalid unit status: %s", s)
	}
}

// RunStatus represents the overall status of a reconcile run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every unit succeeded.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates some units failed, skipped or deferred
	// while others succeeded.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed indicates every attempted unit failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was superseded or shut down
	// before completing.
	RunStatusCancelled RunStatus = "cancelled"

	// RunStatusNoop indicates the plan was empty: actual state already
	// matched desired state.
	RunStatusNoop RunStatus = "noop"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s != RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusPartial,
		RunStatusFailed, RunStatusCancelled, RunStatusNoop:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (o Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(o))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*o = Operation(str)
	return o.Validate()
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s UnitStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *UnitStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = UnitStatus(str)
	return s.Validate()
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}
