package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/stevedore-io/stevedore/pkg/resource"
)

// Severity ranks a violation.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block admission.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that block admission.
	SeverityError Severity = "error"

	// SeverityCritical is for findings that block admission and need
	// immediate attention.
	SeverityCritical Severity = "critical"
)

// Validate checks that the severity is a known value.
func (s Severity) Validate() error {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid severity: %s", s)
	}
}

// Blocks reports whether violations at this severity reject admission.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one admission rule with its Rego source.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description,omitempty"`

	// Rego contains the Rego source. Rules contribute violations through
	// a `deny` set in the module's package.
	Rego string `json:"rego"`

	// Severity is the default severity for violations; a rule result can
	// override it per violation.
	Severity Severity `json:"severity"`

	// Enabled indicates whether the policy participates in evaluation.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is a single finding from one policy rule.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// Resource identifies the offending resource when the rule names one.
	Resource resource.ID `json:"resource,omitempty"`

	// Message is a human-readable description of the finding.
	Message string `json:"message"`

	// Severity is the finding's severity.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating all enabled policies against one
// input document.
type Result struct {
	// Allowed reports whether the input passed admission. Warnings never
	// clear it; blocking violations do.
	Allowed bool `json:"allowed"`

	// Violations lists the findings that block admission.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists the findings that pass through to status and logs.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// ViolationError rejects an admission with the blocking findings attached.
type ViolationError struct {
	// Violations holds the blocking findings, at least one.
	Violations []Violation
}

// Error renders every blocking finding with the policy that produced it.
func (e *ViolationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("policy %s: %s", v.Policy, v.Message))
	}
	return strings.Join(parts, "; ")
}
