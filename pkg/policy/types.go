package policy

import (
	"time"

	"github.com/bpmanager/bpmanager/pkg/profile"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// blocking reports whether a violation of this severity rejects the input.
func (s Severity) blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a Rego policy checked against policy attribute objects.
type Policy struct {
	// Name is the unique identifier for the policy.
	Name string `json:"name"`

	// Description provides human-readable information about the policy.
	Description string `json:"description"`

	// Rego is the policy source. It must define a deny set in its package.
	Rego string `json:"rego"`

	// Severity is used for violations that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates whether the policy is evaluated.
	Enabled bool `json:"enabled"`

	// Tags for categorizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata, such as its source file.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is a single deny result.
type Violation struct {
	// Policy is the name of the policy that produced the violation.
	Policy string `json:"policy"`

	// Input is the namespaced policy input that was rejected, if any.
	Input string `json:"input,omitempty"`

	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	// Allowed is false if any violation is blocking.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that could not be evaluated.
	Warnings []string `json:"warnings,omitempty"`

	// Evaluated lists the names of the policies that ran.
	Evaluated []string `json:"evaluated"`

	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Denied returns the names of the policies with blocking violations.
func (r *Result) Denied() map[string]bool {
	denied := make(map[string]bool)
	for _, v := range r.Violations {
		if v.Severity.blocking() {
			denied[v.Policy] = true
		}
	}
	return denied
}

// Input is the document policies are evaluated against.
type Input struct {
	Object  ObjectRef             `json:"object"`
	Inputs  []profile.PolicyInput `json:"inputs"`
	Context Context               `json:"context"`
}

// ObjectRef identifies the object a PAO is attached to.
type ObjectRef struct {
	ID        string `json:"id"`
	Component string `json:"component"`
	Type      string `json:"type"`
}

// Context carries deployment settings visible to policies.
type Context struct {
	Operation      string    `json:"operation"`
	AllowedRegions []string  `json:"allowed_regions"`
	Timestamp      time.Time `json:"timestamp"`
}

// Config configures policy evaluation.
type Config struct {
	// Paths lists .rego/.json files or directories loaded next to the
	// built-in policies.
	Paths []string `mapstructure:"paths" yaml:"paths"`

	// Watch reloads Paths when they change.
	Watch bool `mapstructure:"watch" yaml:"watch"`

	// AllowedRegions restricts terra:region-constraint values. Empty allows
	// any region.
	AllowedRegions []string `mapstructure:"allowed_regions" yaml:"allowed_regions"`
}

// PolicyBundle represents a collection of policies distributed together.
type PolicyBundle struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Policies    []Policy `json:"policies"`
}
