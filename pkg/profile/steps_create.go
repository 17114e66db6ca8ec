package profile

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/job"
)

// getProfileStep fails the flight if the requested id is taken.
type getProfileStep struct {
	store ProfileStore
}

func (s *getProfileStep) Name() string { return "GetProfile" }

func (s *getProfileStep) Do(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	var p BillingProfile
	if err := mustGet(fc.Input, job.KeyRequest, &p); err != nil {
		return inputError(err)
	}

	_, err := s.store.GetProfile(ctx, p.ID)
	switch {
	case err == nil:
		return engine.Fatal(engine.NewFatalError(fmt.Sprintf("billing profile %s already exists", p.ID), nil).
			WithCode(ErrCodeDuplicateProfile))
	case errors.Is(err, ErrProfileNotFound):
		return engine.Success()
	default:
		return engine.Retry(err)
	}
}

func (s *getProfileStep) Undo(context.Context, *engine.FlightContext) engine.StepResult {
	return engine.Success()
}

// createProfileStep inserts the profile record and seeds the response.
type createProfileStep struct {
	store ProfileStore
}

func (s *createProfileStep) Name() string { return "CreateProfile" }

func (s *createProfileStep) Do(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	var p BillingProfile
	if err := mustGet(fc.Input, job.KeyRequest, &p); err != nil {
		return inputError(err)
	}
	user, err := userOf(fc)
	if err != nil {
		return inputError(err)
	}

	created, err := s.store.CreateProfile(ctx, &p, user.Email)
	if errors.Is(err, ErrProfileExists) {
		// The id was free when the flight started, so the row is ours from
		// an earlier attempt.
		created, err = s.store.GetProfile(ctx, p.ID)
	}
	if err != nil {
		return engine.Retry(err)
	}

	var org Organization
	if _, err := fc.Input.Get(KeyOrganization, &org); err != nil {
		return inputError(err)
	}
	if err := fc.Working.Put(KeyProfile, created); err != nil {
		return engine.Fatal(err)
	}
	if err := putResponse(fc, &Description{Profile: created, Organization: &org}, http.StatusCreated); err != nil {
		return engine.Fatal(err)
	}

	fc.Logger.Info().Str("profile_id", created.ID).Msg("Created billing profile record")
	return engine.Success()
}

func (s *createProfileStep) Undo(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	var p BillingProfile
	if err := mustGet(fc.Input, job.KeyRequest, &p); err != nil {
		return inputError(err)
	}
	user, err := userOf(fc)
	if err != nil {
		return inputError(err)
	}

	deleted, err := s.store.DeleteProfile(ctx, p.ID, user.Email)
	if err != nil {
		return engine.Retry(err)
	}
	fc.Logger.Info().Str("profile_id", p.ID).Bool("deleted", deleted).Msg("Removed billing profile record")
	return engine.Success()
}

// verifyAccessStep checks that the caller can use the profile's cloud
// account. It has no side effects to undo.
type verifyAccessStep struct {
	name      string
	verifier  CloudAccessVerifier
	fatalCode string
}

func (s *verifyAccessStep) Name() string { return s.name }

func (s *verifyAccessStep) Do(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	var p BillingProfile
	if err := mustGet(fc.Working, KeyProfile, &p); err != nil {
		return inputError(err)
	}
	user, err := userOf(fc)
	if err != nil {
		return inputError(err)
	}

	if err := s.verifier.VerifyAccess(ctx, user, &p); err != nil {
		return retryOrFatal(err, s.fatalCode, fmt.Sprintf("caller cannot use the %s account of profile %s", p.CloudPlatform, p.ID))
	}
	return engine.Success()
}

func (s *verifyAccessStep) Undo(context.Context, *engine.FlightContext) engine.StepResult {
	return engine.Success()
}

// createProfileAuthzStep creates the spend-profile resource owned by the caller.
type createProfileAuthzStep struct {
	authz AuthorizationClient
}

func (s *createProfileAuthzStep) Name() string { return "CreateProfileAuthz" }

func (s *createProfileAuthzStep) Do(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	profileID, user, err := requestTarget(fc)
	if err != nil {
		return inputError(err)
	}
	if err := s.authz.CreateProfileResource(ctx, user, profileID); err != nil {
		return retryOrFatal(err, ErrCodeForbidden, "caller cannot create the profile resource")
	}
	return engine.Success()
}

func (s *createProfileAuthzStep) Undo(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	profileID, user, err := requestTarget(fc)
	if err != nil {
		return inputError(err)
	}
	if err := s.authz.DeleteProfileResource(ctx, user, profileID); err != nil && !errors.Is(err, ErrNotFound) {
		return engine.Retry(err)
	}
	return engine.Success()
}

// createProfilePoliciesStep attaches the requested policies to the profile.
type createProfilePoliciesStep struct {
	policies PolicyService
}

func (s *createProfilePoliciesStep) Name() string { return "CreateProfilePolicies" }

func (s *createProfilePoliciesStep) Do(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	var inputs PolicyInputs
	if err := mustGet(fc.Input, KeyPolicies, &inputs); err != nil {
		return inputError(err)
	}
	profileID, _, err := requestTarget(fc)
	if err != nil {
		return inputError(err)
	}

	err = s.policies.CreatePao(ctx, profileID, inputs)
	switch {
	case err == nil, errors.Is(err, ErrDuplicatePao):
	case errors.Is(err, ErrPolicyViolation):
		return engine.Fatal(engine.NewFatalError("policies rejected", err).WithCode(ErrCodePolicyViolation))
	default:
		return engine.Retry(err)
	}

	if err := fc.Working.Put(KeyPolicies, inputs); err != nil {
		return engine.Fatal(err)
	}

	var desc Description
	if err := mustGet(fc.Working, job.KeyResponse, &desc); err != nil {
		return inputError(err)
	}
	desc.Policies = &inputs
	if err := putResponse(fc, &desc, http.StatusCreated); err != nil {
		return engine.Fatal(err)
	}
	return engine.Success()
}

func (s *createProfilePoliciesStep) Undo(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	profileID, _, err := requestTarget(fc)
	if err != nil {
		return inputError(err)
	}
	if err := s.policies.DeletePao(ctx, profileID); err != nil && !errors.Is(err, ErrPaoNotFound) {
		return engine.Retry(err)
	}
	return engine.Success()
}

// linkMrgStep registers the Azure managed resource group under the
// profile. It is the last create step and has nothing to undo.
type linkMrgStep struct {
	authz AuthorizationClient
}

func (s *linkMrgStep) Name() string { return "LinkBillingProfileToMrg" }

func (s *linkMrgStep) Do(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	var p BillingProfile
	if err := mustGet(fc.Working, KeyProfile, &p); err != nil {
		return inputError(err)
	}
	user, err := userOf(fc)
	if err != nil {
		return inputError(err)
	}

	if err := s.authz.LinkManagedResourceGroup(ctx, user, &p); err != nil {
		return engine.Fatal(engine.NewFatalError(
			fmt.Sprintf("failed to link managed resource group %s", p.ManagedResourceGroupID()), err).
			WithCode(ErrCodeLinkFailed))
	}
	return engine.Success()
}

func (s *linkMrgStep) Undo(context.Context, *engine.FlightContext) engine.StepResult {
	return engine.Success()
}
