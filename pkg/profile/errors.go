package profile

import (
	"errors"

	"github.com/bpmanager/bpmanager/pkg/engine"
)

// Collaborator outcomes. Stores and clients return these, possibly wrapped.
var (
	ErrProfileNotFound = errors.New("billing profile not found")
	ErrProfileExists   = errors.New("billing profile already exists")
	ErrPaoNotFound     = errors.New("policy attribute object not found")
	ErrDuplicatePao    = errors.New("policy attribute object already exists")
	ErrPolicyViolation = errors.New("policy violation")
	ErrAccessDenied    = errors.New("access denied")
	ErrNotFound        = errors.New("resource not found")
)

// Flight error codes.
const (
	ErrCodeDuplicateProfile                  = "DUPLICATE_PROFILE"
	ErrCodeProfileNotFound                   = "PROFILE_NOT_FOUND"
	ErrCodeInaccessibleBillingAccount        = "INACCESSIBLE_BILLING_ACCOUNT"
	ErrCodeInaccessibleApplicationDeployment = "INACCESSIBLE_APPLICATION_DEPLOYMENT"
	ErrCodeMissingRequiredProviders          = "MISSING_REQUIRED_PROVIDERS"
	ErrCodeForbidden                         = "FORBIDDEN"
	ErrCodePolicyViolation                   = "POLICY_VIOLATION"
	ErrCodeMissingRequiredFields             = "MISSING_REQUIRED_FIELDS"
	ErrCodeInvalidField                      = "INVALID_FIELD"
	ErrCodeLinkFailed                        = "MRG_LINK_FAILED"
)

// Sentinels matched by code with errors.Is. They keep matching after a
// flight's error has been persisted and reloaded.
var (
	ErrDuplicateProfile                  = engine.Sentinel(engine.ErrorKindFatal, ErrCodeDuplicateProfile, "billing profile already exists")
	ErrProfileNotFoundFatal              = engine.Sentinel(engine.ErrorKindFatal, ErrCodeProfileNotFound, "billing profile not found")
	ErrInaccessibleBillingAccount        = engine.Sentinel(engine.ErrorKindFatal, ErrCodeInaccessibleBillingAccount, "billing account is not accessible")
	ErrInaccessibleApplicationDeployment = engine.Sentinel(engine.ErrorKindFatal, ErrCodeInaccessibleApplicationDeployment, "application deployment is not accessible")
	ErrMissingRequiredProviders          = engine.Sentinel(engine.ErrorKindFatal, ErrCodeMissingRequiredProviders, "required resource providers are not registered")
	ErrForbidden                         = engine.Sentinel(engine.ErrorKindFatal, ErrCodeForbidden, "caller is not authorized")
	ErrPolicyViolationFatal              = engine.Sentinel(engine.ErrorKindFatal, ErrCodePolicyViolation, "policy violation")
	ErrMissingRequiredFields             = engine.Sentinel(engine.ErrorKindValidation, ErrCodeMissingRequiredFields, "missing required fields")
)

// retryOrFatal returns FATAL for access-denied errors and RETRY otherwise.
// fatalCode is attached to access-denied errors that carry no code.
func retryOrFatal(err error, fatalCode, message string) engine.StepResult {
	if !errors.Is(err, ErrAccessDenied) {
		return engine.Retry(err)
	}
	var fe *engine.FlightError
	if errors.As(err, &fe) && fe.Code != "" {
		return engine.Fatal(err)
	}
	return engine.Fatal(engine.NewFatalError(message, err).WithCode(fatalCode))
}
