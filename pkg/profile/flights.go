package profile

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/job"
)

// Registered flight types.
const (
	CreateProfileFlight = "CreateProfileFlight"
	UpdateProfileFlight = "UpdateProfileFlight"
	DeleteProfileFlight = "DeleteProfileFlight"
)

// Flight map keys. KeyProfile and KeyPolicies are used both as input
// snapshots and as working entries.
const (
	KeyProfile      = "profile"
	KeyProfileID    = "profileId"
	KeyPolicies     = "policies"
	KeyOrganization = "organization"
)

// Dependencies are the collaborators the lifecycle steps call.
type Dependencies struct {
	Store     ProfileStore
	Authz     AuthorizationClient
	Policies  PolicyService
	Verifiers map[CloudPlatform]CloudAccessVerifier
	Logger    zerolog.Logger
}

func (d Dependencies) validate() error {
	switch {
	case d.Store == nil:
		return fmt.Errorf("profile store is required")
	case d.Authz == nil:
		return fmt.Errorf("authorization client is required")
	case d.Policies == nil:
		return fmt.Errorf("policy service is required")
	}
	return nil
}

func (d Dependencies) verifier(platform CloudPlatform) (CloudAccessVerifier, error) {
	v, ok := d.Verifiers[platform]
	if !ok || v == nil {
		return nil, fmt.Errorf("no access verifier for cloud platform %s", platform)
	}
	return v, nil
}

// RegisterFlights registers the create, update and delete flights.
func RegisterFlights(registry *engine.Registry, deps Dependencies) error {
	if err := deps.validate(); err != nil {
		return err
	}

	flights := map[string]engine.Factory{
		CreateProfileFlight: func(input engine.FlightMap) ([]engine.Step, error) { return createSteps(deps, input) },
		UpdateProfileFlight: func(input engine.FlightMap) ([]engine.Step, error) { return updateSteps(deps, input) },
		DeleteProfileFlight: func(input engine.FlightMap) ([]engine.Step, error) { return deleteSteps(deps, input) },
	}
	for name, factory := range flights {
		if err := registry.Register(name, factory); err != nil {
			return err
		}
	}
	return nil
}

// createSteps builds [GetProfile, CreateProfile, Verify<platform>,
// CreateProfileAuthz, CreateProfilePolicies?, LinkBillingProfileToMrg?].
func createSteps(deps Dependencies, input engine.FlightMap) ([]engine.Step, error) {
	var p BillingProfile
	if err := mustGet(input, job.KeyRequest, &p); err != nil {
		return nil, err
	}
	platform, err := platformOf(input)
	if err != nil {
		return nil, err
	}
	verifier, err := deps.verifier(platform)
	if err != nil {
		return nil, err
	}

	steps := []engine.Step{
		&getProfileStep{store: deps.Store},
		&createProfileStep{store: deps.Store},
		&verifyAccessStep{name: verifyStepName(platform), verifier: verifier, fatalCode: inaccessibleCode(platform)},
		&createProfileAuthzStep{authz: deps.Authz},
	}

	var policies PolicyInputs
	if ok, err := input.Get(KeyPolicies, &policies); err != nil {
		return nil, fmt.Errorf("invalid %s parameter: %w", KeyPolicies, err)
	} else if ok && !policies.IsEmpty() {
		steps = append(steps, &createProfilePoliciesStep{policies: deps.Policies})
	}

	if platform == CloudPlatformAzure {
		steps = append(steps, &linkMrgStep{authz: deps.Authz})
	}
	return steps, nil
}

// updateSteps includes the authorization and verification steps only for
// the fields the request changes.
func updateSteps(deps Dependencies, input engine.FlightMap) ([]engine.Step, error) {
	var req UpdateRequest
	if err := mustGet(input, job.KeyRequest, &req); err != nil {
		return nil, err
	}
	if input.GetString(KeyProfileID) == "" {
		return nil, fmt.Errorf("missing %s parameter", KeyProfileID)
	}
	var snapshot BillingProfile
	if err := mustGet(input, KeyProfile, &snapshot); err != nil {
		return nil, err
	}

	var steps []engine.Step
	if req.Description != nil {
		steps = append(steps, &verifyAuthorizationStep{
			name:   "VerifyProfileMetadataUpdateAuthorization",
			authz:  deps.Authz,
			action: ActionUpdateMetadata,
		})
	}
	if req.BillingAccountID != nil {
		if snapshot.CloudPlatform != CloudPlatformGCP {
			return nil, fmt.Errorf("billing account update on a %s profile", snapshot.CloudPlatform)
		}
		verifier, err := deps.verifier(CloudPlatformGCP)
		if err != nil {
			return nil, err
		}
		steps = append(steps,
			&verifyAuthorizationStep{
				name:   "VerifyAccountUpdateAuthorization",
				authz:  deps.Authz,
				action: ActionUpdateBillingAccount,
			},
			&verifyBillingAccountUpdateStep{verifier: verifier},
		)
	}

	return append(steps,
		&updateProfileStep{store: deps.Store},
		&setUpdateResponseStep{store: deps.Store},
	), nil
}

// deleteSteps ends with DeleteProfileAuthz, which cannot be undone.
func deleteSteps(deps Dependencies, input engine.FlightMap) ([]engine.Step, error) {
	var snapshot BillingProfile
	if err := mustGet(input, KeyProfile, &snapshot); err != nil {
		return nil, err
	}
	platform, err := platformOf(input)
	if err != nil {
		return nil, err
	}

	steps := []engine.Step{&deleteProfileStep{store: deps.Store}}
	if platform == CloudPlatformAzure {
		steps = append(steps, &unlinkMrgStep{authz: deps.Authz})
	}
	return append(steps,
		&deleteProfilePoliciesStep{policies: deps.Policies},
		&deleteProfileAuthzStep{authz: deps.Authz},
	), nil
}

func mustGet(m engine.FlightMap, key string, out any) error {
	ok, err := m.Get(key, out)
	if err != nil {
		return fmt.Errorf("invalid %s parameter: %w", key, err)
	}
	if !ok {
		return fmt.Errorf("missing %s parameter", key)
	}
	return nil
}

func platformOf(input engine.FlightMap) (CloudPlatform, error) {
	return ParseCloudPlatform(input.GetString(job.KeyCloudPlatform))
}

func verifyStepName(platform CloudPlatform) string {
	if platform == CloudPlatformAzure {
		return "VerifyManagedApplicationAccess"
	}
	return "VerifyBillingAccountAccess"
}

func inaccessibleCode(platform CloudPlatform) string {
	if platform == CloudPlatformAzure {
		return ErrCodeInaccessibleApplicationDeployment
	}
	return ErrCodeInaccessibleBillingAccount
}
