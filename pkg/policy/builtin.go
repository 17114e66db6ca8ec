package policy

import (
	"time"
)

// Terra policy names understood by the built-in policies.
const (
	TerraNamespace         = "terra"
	RegionConstraintPolicy = "region-constraint"
	GroupConstraintPolicy  = "group-constraint"
	ProtectedDataPolicy    = "protected-data"
)

// PAO attribute keys read by the built-in policies.
const (
	RegionNameKey = "region-name"
	GroupKey      = "group"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		inputFormatPolicy(),
		duplicateInputsPolicy(),
		regionConstraintPolicy(),
		groupConstraintPolicy(),
		knownTerraPoliciesPolicy(),
	}
}

func builtin(name, description string, severity Severity, tags []string, source string) Policy {
	now := time.Now()
	return Policy{
		Name:        name,
		Description: description,
		Severity:    severity,
		Enabled:     true,
		Tags:        tags,
		Metadata:    map[string]interface{}{"source": "builtin"},
		CreatedAt:   now,
		UpdatedAt:   now,
		Rego:        source,
	}
}

// inputFormatPolicy rejects malformed policy names.
func inputFormatPolicy() Policy {
	return builtin("input-format",
		"Policy namespaces and names are lowercase alphanumerics and hyphens",
		SeverityError, []string{"format"}, `package bpm.policies.format

import rego.v1

deny contains violation if {
	some pi in input.inputs
	not regex.match("^[a-z0-9][a-z0-9-]*$", pi.namespace)
	violation := {
		"message": sprintf("policy namespace '%s' is invalid", [pi.namespace]),
		"severity": "error",
		"input": sprintf("%s:%s", [pi.namespace, pi.name]),
	}
}

deny contains violation if {
	some pi in input.inputs
	not regex.match("^[a-z0-9][a-z0-9-]*$", pi.name)
	violation := {
		"message": sprintf("policy name '%s' is invalid", [pi.name]),
		"severity": "error",
		"input": sprintf("%s:%s", [pi.namespace, pi.name]),
	}
}
`)
}

// duplicateInputsPolicy rejects a policy attached twice.
func duplicateInputsPolicy() Policy {
	return builtin("duplicate-inputs",
		"A policy may be attached to an object only once",
		SeverityError, []string{"format"}, `package bpm.policies.duplicates

import rego.v1

deny contains violation if {
	some i, j
	a := input.inputs[i]
	b := input.inputs[j]
	i < j
	a.namespace == b.namespace
	a.name == b.name
	violation := {
		"message": sprintf("policy %s:%s is listed more than once", [a.namespace, a.name]),
		"severity": "error",
		"input": sprintf("%s:%s", [a.namespace, a.name]),
	}
}
`)
}

// regionConstraintPolicy requires region names and, when the deployment
// restricts regions, that every region is allowed.
func regionConstraintPolicy() Policy {
	return builtin("region-constraint",
		"terra:region-constraint names allowed regions only",
		SeverityError, []string{"terra", "region"}, `package bpm.policies.region

import rego.v1

is_region_constraint(pi) if {
	pi.namespace == "terra"
	pi.name == "region-constraint"
}

regions(pi) := [kv.value | some kv in object.get(pi, "additionalData", []); kv.key == "region-name"]

allowed(region) if {
	some a in input.context.allowed_regions
	a == region
}

deny contains violation if {
	some pi in input.inputs
	is_region_constraint(pi)
	count(regions(pi)) == 0
	violation := {
		"message": "terra:region-constraint requires at least one region-name",
		"severity": "error",
		"input": "terra:region-constraint",
	}
}

deny contains violation if {
	count(input.context.allowed_regions) > 0
	some pi in input.inputs
	is_region_constraint(pi)
	some region in regions(pi)
	not allowed(region)
	violation := {
		"message": sprintf("region '%s' is not allowed", [region]),
		"severity": "error",
		"input": "terra:region-constraint",
	}
}
`)
}

// groupConstraintPolicy requires a group for terra:group-constraint.
func groupConstraintPolicy() Policy {
	return builtin("group-constraint",
		"terra:group-constraint names at least one group",
		SeverityError, []string{"terra", "group"}, `package bpm.policies.group

import rego.v1

deny contains violation if {
	some pi in input.inputs
	pi.namespace == "terra"
	pi.name == "group-constraint"
	groups := [kv.value | some kv in object.get(pi, "additionalData", []); kv.key == "group"; kv.value != ""]
	count(groups) == 0
	violation := {
		"message": "terra:group-constraint requires a group",
		"severity": "error",
		"input": "terra:group-constraint",
	}
}
`)
}

// knownTerraPoliciesPolicy warns about terra policies this service does not
// recognize. It never blocks.
func knownTerraPoliciesPolicy() Policy {
	return builtin("known-terra-policies",
		"Warns about unrecognized terra policies",
		SeverityWarning, []string{"terra"}, `package bpm.policies.known

import rego.v1

known := {"region-constraint", "group-constraint", "protected-data"}

deny contains violation if {
	some pi in input.inputs
	pi.namespace == "terra"
	not known[pi.name]
	violation := {
		"message": sprintf("terra policy '%s' is not recognized", [pi.name]),
		"severity": "warning",
		"input": sprintf("terra:%s", [pi.name]),
	}
}
`)
}
