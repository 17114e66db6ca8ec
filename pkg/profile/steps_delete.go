package profile

import (
	"context"
	"errors"

	"github.com/bpmanager/bpmanager/pkg/engine"
)

// deleteProfileStep removes the profile record. Undo restores the snapshot
// taken when the flight was submitted.
type deleteProfileStep struct {
	store ProfileStore
}

func (s *deleteProfileStep) Name() string { return "DeleteProfile" }

func (s *deleteProfileStep) Do(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	profileID, user, err := requestTarget(fc)
	if err != nil {
		return inputError(err)
	}

	deleted, err := s.store.DeleteProfile(ctx, profileID, user.Email)
	if err != nil {
		return engine.Retry(err)
	}
	fc.Logger.Info().Str("profile_id", profileID).Bool("deleted", deleted).Msg("Deleted billing profile record")
	return engine.Success()
}

func (s *deleteProfileStep) Undo(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	var snapshot BillingProfile
	if err := mustGet(fc.Input, KeyProfile, &snapshot); err != nil {
		return inputError(err)
	}
	if err := s.store.RestoreProfile(ctx, &snapshot); err != nil {
		return engine.Retry(err)
	}
	return engine.Success()
}

// unlinkMrgStep removes the Azure managed resource group link.
type unlinkMrgStep struct {
	authz AuthorizationClient
}

func (s *unlinkMrgStep) Name() string { return "UnlinkBillingProfileFromMrg" }

func (s *unlinkMrgStep) Do(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	profileID, user, err := requestTarget(fc)
	if err != nil {
		return inputError(err)
	}
	if err := s.authz.UnlinkManagedResourceGroup(ctx, user, profileID); err != nil && !errors.Is(err, ErrNotFound) {
		return engine.Retry(err)
	}
	return engine.Success()
}

func (s *unlinkMrgStep) Undo(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	var snapshot BillingProfile
	if err := mustGet(fc.Input, KeyProfile, &snapshot); err != nil {
		return inputError(err)
	}
	user, err := userOf(fc)
	if err != nil {
		return inputError(err)
	}
	if err := s.authz.LinkManagedResourceGroup(ctx, user, &snapshot); err != nil {
		return engine.Retry(err)
	}
	return engine.Success()
}

// deleteProfilePoliciesStep removes the profile's PAO. Undo re-creates it
// from the snapshot submitted with the flight.
type deleteProfilePoliciesStep struct {
	policies PolicyService
}

func (s *deleteProfilePoliciesStep) Name() string { return "DeleteProfilePolicies" }

func (s *deleteProfilePoliciesStep) Do(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	profileID, _, err := requestTarget(fc)
	if err != nil {
		return inputError(err)
	}
	if err := s.policies.DeletePao(ctx, profileID); err != nil && !errors.Is(err, ErrPaoNotFound) {
		return engine.Retry(err)
	}
	return engine.Success()
}

func (s *deleteProfilePoliciesStep) Undo(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	profileID, _, err := requestTarget(fc)
	if err != nil {
		return inputError(err)
	}

	var inputs PolicyInputs
	ok, err := fc.Input.Get(KeyPolicies, &inputs)
	if err != nil {
		return inputError(err)
	}
	if !ok {
		return engine.Success()
	}

	err = s.policies.CreatePao(ctx, profileID, inputs)
	if err != nil && !errors.Is(err, ErrDuplicatePao) {
		return engine.Retry(err)
	}
	return engine.Success()
}

// deleteProfileAuthzStep removes the spend-profile resource. The resource
// and its role grants cannot be recreated, so this is the final delete step
// and undo does nothing.
type deleteProfileAuthzStep struct {
	authz AuthorizationClient
}

func (s *deleteProfileAuthzStep) Name() string { return "DeleteProfileAuthz" }

func (s *deleteProfileAuthzStep) Do(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	profileID, user, err := requestTarget(fc)
	if err != nil {
		return inputError(err)
	}
	if err := s.authz.DeleteProfileResource(ctx, user, profileID); err != nil && !errors.Is(err, ErrNotFound) {
		return engine.Retry(err)
	}
	return engine.Success()
}

func (s *deleteProfileAuthzStep) Undo(context.Context, *engine.FlightContext) engine.StepResult {
	return engine.Success()
}
