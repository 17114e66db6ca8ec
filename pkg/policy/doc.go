// Package policy checks and stores the policy attribute objects (PAOs)
// attached to billing profiles, using Open Policy Agent.
//
// Every policy is a Rego module whose package defines a deny set. The
// engine compiles the deny query once per policy and evaluates it against
// an Input document:
//
//	{
//	  "object":  {"id": "...", "component": "BPM", "type": "billing-profile"},
//	  "inputs":  [{"namespace": "terra", "name": "region-constraint",
//	               "additionalData": [{"key": "region-name", "value": "us-east1"}]}],
//	  "context": {"operation": "create", "allowed_regions": ["us-east1"]}
//	}
//
// A deny member is either a message string or an object with message,
// severity and input fields. Error and critical violations reject the PAO;
// warnings are logged.
//
// # Usage
//
//	eng, err := policy.NewEngine(policy.Config{AllowedRegions: regions}, logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, paths); err != nil {
//	    return err
//	}
//	svc := policy.NewService(eng, store, metrics, events, logger)
//	err = svc.CreatePao(ctx, profileID, inputs) // errors.Is(err, profile.ErrPolicyViolation)
//
// Custom policies are loaded from .rego files (named after the file),
// .json policy definitions and .bundle.json bundles. Engine.Watch reloads
// them with fsnotify when they change.
package policy
