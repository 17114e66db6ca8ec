package profile

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/job"
)

// verifyAuthorizationStep fails the flight unless the caller holds action
// on the profile.
type verifyAuthorizationStep struct {
	name   string
	authz  AuthorizationClient
	action string
}

func (s *verifyAuthorizationStep) Name() string { return s.name }

func (s *verifyAuthorizationStep) Do(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	profileID, user, err := requestTarget(fc)
	if err != nil {
		return inputError(err)
	}

	allowed, err := s.authz.CheckPermission(ctx, user, profileID, s.action)
	if err != nil {
		return retryOrFatal(err, ErrCodeForbidden, fmt.Sprintf("caller may not %s profile %s", s.action, profileID))
	}
	if !allowed {
		return engine.Fatal(engine.NewFatalError(fmt.Sprintf("caller may not %s profile %s", s.action, profileID), ErrAccessDenied).
			WithCode(ErrCodeForbidden).
			WithDetail("action", s.action))
	}
	return engine.Success()
}

func (s *verifyAuthorizationStep) Undo(context.Context, *engine.FlightContext) engine.StepResult {
	return engine.Success()
}

// verifyBillingAccountUpdateStep checks that the caller can use the new
// billing account.
type verifyBillingAccountUpdateStep struct {
	verifier CloudAccessVerifier
}

func (s *verifyBillingAccountUpdateStep) Name() string { return "VerifyUserBillingAccountAccess" }

func (s *verifyBillingAccountUpdateStep) Do(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	var req UpdateRequest
	if err := mustGet(fc.Input, job.KeyRequest, &req); err != nil {
		return inputError(err)
	}
	var target BillingProfile
	if err := mustGet(fc.Input, KeyProfile, &target); err != nil {
		return inputError(err)
	}
	user, err := userOf(fc)
	if err != nil {
		return inputError(err)
	}
	if req.BillingAccountID == nil {
		return engine.Success()
	}

	target.BillingAccountID = *req.BillingAccountID
	if err := s.verifier.VerifyAccess(ctx, user, &target); err != nil {
		return retryOrFatal(err, ErrCodeInaccessibleBillingAccount,
			fmt.Sprintf("caller cannot use billing account %s", target.BillingAccountID))
	}
	return engine.Success()
}

func (s *verifyBillingAccountUpdateStep) Undo(context.Context, *engine.FlightContext) engine.StepResult {
	return engine.Success()
}

// updateProfileStep applies the request. Undo writes back the values the
// profile had when the flight was submitted.
type updateProfileStep struct {
	store ProfileStore
}

func (s *updateProfileStep) Name() string { return "UpdateProfile" }

func (s *updateProfileStep) Do(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	var req UpdateRequest
	if err := mustGet(fc.Input, job.KeyRequest, &req); err != nil {
		return inputError(err)
	}
	profileID, user, err := requestTarget(fc)
	if err != nil {
		return inputError(err)
	}

	if _, err := s.store.UpdateProfile(ctx, profileID, req, user.Email); err != nil {
		return notFoundOrRetry(err, profileID)
	}
	return engine.Success()
}

func (s *updateProfileStep) Undo(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	var req UpdateRequest
	if err := mustGet(fc.Input, job.KeyRequest, &req); err != nil {
		return inputError(err)
	}
	var snapshot BillingProfile
	if err := mustGet(fc.Input, KeyProfile, &snapshot); err != nil {
		return inputError(err)
	}
	profileID, user, err := requestTarget(fc)
	if err != nil {
		return inputError(err)
	}

	var restore UpdateRequest
	if req.Description != nil {
		restore.Description = &snapshot.Description
	}
	if req.BillingAccountID != nil {
		restore.BillingAccountID = &snapshot.BillingAccountID
	}

	_, err = s.store.UpdateProfile(ctx, profileID, restore, user.Email)
	if err != nil && !errors.Is(err, ErrProfileNotFound) {
		return engine.Retry(err)
	}
	return engine.Success()
}

// setUpdateResponseStep returns the updated profile to the caller.
type setUpdateResponseStep struct {
	store ProfileStore
}

func (s *setUpdateResponseStep) Name() string { return "SetResponse" }

func (s *setUpdateResponseStep) Do(ctx context.Context, fc *engine.FlightContext) engine.StepResult {
	profileID, _, err := requestTarget(fc)
	if err != nil {
		return inputError(err)
	}

	p, err := s.store.GetProfile(ctx, profileID)
	if err != nil {
		return notFoundOrRetry(err, profileID)
	}
	if err := putResponse(fc, p, http.StatusOK); err != nil {
		return engine.Fatal(err)
	}
	return engine.Success()
}

func (s *setUpdateResponseStep) Undo(context.Context, *engine.FlightContext) engine.StepResult {
	return engine.Success()
}

func notFoundOrRetry(err error, profileID string) engine.StepResult {
	if errors.Is(err, ErrProfileNotFound) {
		return engine.Fatal(engine.NewFatalError(fmt.Sprintf("billing profile %s not found", profileID), err).
			WithCode(ErrCodeProfileNotFound))
	}
	return engine.Retry(err)
}
