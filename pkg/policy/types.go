package policy

import (
	"time"

	"github.com/rhusiev/everyonetagger/pkg/descriptor"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but does not block a build.
	SeverityWarning Severity = "warning"

	// SeverityError blocks validation and builds.
	SeverityError Severity = "error"
)

// Blocking reports whether violations of this severity deny the unit.
func (s Severity) Blocking() bool {
	return s == SeverityError
}

// Policy is a Rego module whose deny set is evaluated against a unit.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from; empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Field is the descriptor field at fault, e.g. "env.TOKEN".
	Field string `json:"field,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	if v.Field != "" {
		return v.Policy + ": " + v.Field + ": " + v.Message
	}
	return v.Policy + ": " + v.Message
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that don't block.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as `input`.
type Input struct {
	// Unit is the descriptor being evaluated.
	Unit *descriptor.Unit `json:"unit"`

	// Context provides additional evaluation context.
	Context Context `json:"context"`
}

// Context describes the operation a unit is evaluated for.
type Context struct {
	// Operation is "validate" or "build".
	Operation string `json:"operation"`

	// Descriptor is the path of the descriptor file.
	Descriptor string `json:"descriptor,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}
