package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/profile"
)

func newTestEngine(t *testing.T, regions ...string) *Engine {
	t.Helper()

	eng, err := NewEngine(Config{AllowedRegions: regions}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func terra(name string, data ...profile.PolicyPair) profile.PolicyInput {
	return profile.PolicyInput{Namespace: TerraNamespace, Name: name, AdditionalData: data}
}

func region(name string) profile.PolicyPair {
	return profile.PolicyPair{Key: RegionNameKey, Value: name}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{
		"duplicate-inputs",
		"group-constraint",
		"input-format",
		"known-terra-policies",
		"region-constraint",
	}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("Policy %d: expected %s, got %s", i, name, policies[i].Name)
		}
	}
}

func TestEvaluate_BuiltinPolicies(t *testing.T) {
	tests := []struct {
		name           string
		regions        []string
		inputs         []profile.PolicyInput
		allowed        bool
		wantViolations []string
	}{
		{
			name:    "no inputs",
			allowed: true,
		},
		{
			name:    "region without restriction",
			inputs:  []profile.PolicyInput{terra(RegionConstraintPolicy, region("anywhere"))},
			allowed: true,
		},
		{
			name:    "allowed region",
			regions: []string{"us-central1", "us-east1"},
			inputs:  []profile.PolicyInput{terra(RegionConstraintPolicy, region("us-east1"))},
			allowed: true,
		},
		{
			name:           "disallowed region",
			regions:        []string{"us-central1"},
			inputs:         []profile.PolicyInput{terra(RegionConstraintPolicy, region("us-central1"), region("europe-west1"))},
			allowed:        false,
			wantViolations: []string{"region 'europe-west1' is not allowed"},
		},
		{
			name:           "region constraint without regions",
			inputs:         []profile.PolicyInput{terra(RegionConstraintPolicy)},
			allowed:        false,
			wantViolations: []string{"terra:region-constraint requires at least one region-name"},
		},
		{
			name:    "group constraint",
			inputs:  []profile.PolicyInput{terra(GroupConstraintPolicy, profile.PolicyPair{Key: GroupKey, Value: "admins"})},
			allowed: true,
		},
		{
			name:           "group constraint without group",
			inputs:         []profile.PolicyInput{terra(GroupConstraintPolicy, profile.PolicyPair{Key: GroupKey})},
			allowed:        false,
			wantViolations: []string{"terra:group-constraint requires a group"},
		},
		{
			name: "duplicate inputs",
			inputs: []profile.PolicyInput{
				terra(ProtectedDataPolicy),
				terra(ProtectedDataPolicy),
			},
			allowed:        false,
			wantViolations: []string{"policy terra:protected-data is listed more than once"},
		},
		{
			name:           "malformed name",
			inputs:         []profile.PolicyInput{{Namespace: "Terra", Name: "x"}},
			allowed:        false,
			wantViolations: []string{"policy namespace 'Terra' is invalid"},
		},
		{
			name:           "unknown terra policy only warns",
			inputs:         []profile.PolicyInput{terra("speed-limit")},
			allowed:        true,
			wantViolations: []string{"terra policy 'speed-limit' is not recognized"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, tt.regions...)

			result, err := eng.Evaluate(context.Background(), &Input{
				Object: ObjectRef{ID: "profile-1"},
				Inputs: tt.inputs,
			})
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if len(result.Warnings) != 0 {
				t.Fatalf("Unexpected evaluation warnings: %v", result.Warnings)
			}
			if result.Allowed != tt.allowed {
				t.Errorf("Expected allowed=%v, got %v (violations %+v)", tt.allowed, result.Allowed, result.Violations)
			}
			if len(result.Violations) != len(tt.wantViolations) {
				t.Fatalf("Expected %d violations, got %+v", len(tt.wantViolations), result.Violations)
			}
			for i, msg := range tt.wantViolations {
				if result.Violations[i].Message != msg {
					t.Errorf("Violation %d: expected %q, got %q", i, msg, result.Violations[i].Message)
				}
			}
		})
	}
}

func TestEvaluate_ViolationFields(t *testing.T) {
	eng := newTestEngine(t, "us-central1")

	result, err := eng.Evaluate(context.Background(), &Input{
		Inputs: []profile.PolicyInput{terra(RegionConstraintPolicy, region("mars-1"))},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if len(result.Violations) != 1 {
		t.Fatalf("Expected 1 violation, got %d", len(result.Violations))
	}
	v := result.Violations[0]
	if v.Policy != "region-constraint" || v.Input != "terra:region-constraint" || v.Severity != SeverityError {
		t.Errorf("Unexpected violation: %+v", v)
	}
	if !result.Denied()["region-constraint"] {
		t.Error("Expected region-constraint to be denied")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	input := func() *Input {
		return &Input{Inputs: []profile.PolicyInput{terra(RegionConstraintPolicy)}}
	}

	if err := eng.DisablePolicy("region-constraint"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	result, err := eng.Evaluate(ctx, input())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Error("Disabled policy should not block")
	}
	for _, name := range result.Evaluated {
		if name == "region-constraint" {
			t.Error("Disabled policy should not be evaluated")
		}
	}

	if err := eng.EnablePolicy("region-constraint"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	result, err = eng.Evaluate(ctx, input())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("Enabled policy should block")
	}

	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestApply(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{
		Name:     "no-protected-data",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package custom.protected

import rego.v1

deny contains msg if {
	some pi in input.inputs
	pi.name == "protected-data"
	msg := "protected data is not supported"
}
`,
	}
	if err := eng.Apply(ctx, []Policy{custom}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	result, err := eng.Evaluate(ctx, &Input{Inputs: []profile.PolicyInput{terra(ProtectedDataPolicy)}})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("Custom policy should block")
	}
	if result.Violations[0].Policy != "no-protected-data" || result.Violations[0].Severity != SeverityError {
		t.Errorf("Unexpected violation: %+v", result.Violations[0])
	}

	broken := Policy{Name: "broken", Enabled: true, Rego: "package broken\n\ndeny contains"}
	if err := eng.Apply(ctx, []Policy{broken}); err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("broken"); err == nil {
		t.Error("Broken policy should not be stored")
	}

	if err := eng.ReloadPolicies(ctx, nil); err != nil {
		t.Fatalf("ReloadPolicies failed: %v", err)
	}
	if _, err := eng.GetPolicy("no-protected-data"); err == nil {
		t.Error("Reload should drop custom policies")
	}
	if len(eng.ListPolicies()) != len(GetBuiltinPolicies()) {
		t.Error("Reload should keep built-in policies")
	}
}

func TestEvaluate_EvaluationErrorIsWarning(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	conflicting := Policy{
		Name:    "conflict",
		Enabled: true,
		Rego: `package custom.conflict

import rego.v1

deny = "a" if input.object.id != ""

deny = "b" if input.object.id != ""
`,
	}
	if err := eng.Apply(ctx, []Policy{conflicting}); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	result, err := eng.Evaluate(ctx, &Input{Object: ObjectRef{ID: "p"}})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Error("Evaluation errors should not block")
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "conflict") {
		t.Errorf("Expected one warning for the conflicting policy, got %v", result.Warnings)
	}
}
