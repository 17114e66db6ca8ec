package profile

import (
	"context"
)

// AuthorizationClient manages spend-profile resources in the authorization
// service.
type AuthorizationClient interface {
	// CreateProfileResource creates the resource owned by user. An existing
	// resource is not an error.
	CreateProfileResource(ctx context.Context, user AuthenticatedUser, profileID string) error

	// DeleteProfileResource deletes the resource. A missing resource returns
	// an error matching ErrNotFound.
	DeleteProfileResource(ctx context.Context, user AuthenticatedUser, profileID string) error

	// CheckPermission reports whether user may perform action on the profile.
	CheckPermission(ctx context.Context, user AuthenticatedUser, profileID, action string) (bool, error)

	// HasAnyAction reports whether user holds any action on the profile.
	HasAnyAction(ctx context.Context, user AuthenticatedUser, profileID string) (bool, error)

	// ListProfileIDs returns the profiles user can see.
	ListProfileIDs(ctx context.Context, user AuthenticatedUser) ([]string, error)

	// LinkManagedResourceGroup registers an Azure managed resource group
	// under the profile.
	LinkManagedResourceGroup(ctx context.Context, user AuthenticatedUser, p *BillingProfile) error

	// UnlinkManagedResourceGroup removes the link. A missing link is not an
	// error.
	UnlinkManagedResourceGroup(ctx context.Context, user AuthenticatedUser, profileID string) error
}

// CloudAccessVerifier checks that a caller can use the cloud account behind
// a profile. Errors matching ErrAccessDenied are permanent; any other error
// is treated as transient.
type CloudAccessVerifier interface {
	VerifyAccess(ctx context.Context, user AuthenticatedUser, p *BillingProfile) error
}

// ProfileStore persists billing profiles and their change log.
type ProfileStore interface {
	// CreateProfile inserts p and a CREATE change log row. It returns
	// ErrProfileExists if the id is taken.
	CreateProfile(ctx context.Context, p *BillingProfile, changeBy string) (*BillingProfile, error)

	// GetProfile returns ErrProfileNotFound if the profile does not exist.
	GetProfile(ctx context.Context, id string) (*BillingProfile, error)

	// UpdateProfile applies the non-nil fields of req and writes an UPDATE
	// change log row. It returns ErrProfileNotFound if the profile does not
	// exist.
	UpdateProfile(ctx context.Context, id string, req UpdateRequest, changeBy string) (*BillingProfile, error)

	// DeleteProfile removes the profile and writes a DELETE change log row.
	// It reports whether a row was removed.
	DeleteProfile(ctx context.Context, id string, changeBy string) (bool, error)

	// RestoreProfile re-inserts a previously deleted profile as it was.
	RestoreProfile(ctx context.Context, p *BillingProfile) error

	// ListProfiles returns the given profiles ordered by creation time.
	ListProfiles(ctx context.Context, ids []string, offset, limit int) ([]*BillingProfile, error)

	// ListChanges returns the change log of a profile, oldest first.
	ListChanges(ctx context.Context, profileID string, offset, limit int) ([]*ChangeLogEntry, error)
}

// PolicyService manages the policy attribute objects of profiles.
type PolicyService interface {
	// CreatePao attaches inputs to objectID. It returns ErrDuplicatePao if
	// the object already has one and an error matching ErrPolicyViolation
	// if the inputs are rejected.
	CreatePao(ctx context.Context, objectID string, inputs PolicyInputs) error

	// GetPao returns ErrPaoNotFound if the object has none.
	GetPao(ctx context.Context, objectID string) (*Pao, error)

	// DeletePao removes the object's PAO. A missing PAO is not an error.
	DeletePao(ctx context.Context, objectID string) error

	// ListPaos returns the PAOs of the given objects.
	ListPaos(ctx context.Context, objectIDs []string) ([]*Pao, error)
}
