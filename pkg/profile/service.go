package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/job"
	"github.com/bpmanager/bpmanager/pkg/telemetry"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// EnterpriseSubscriptions lists the Azure subscriptions whose profiles
	// belong to an enterprise organization.
	EnterpriseSubscriptions []string `mapstructure:"subscriptions" yaml:"subscriptions"`
}

// CreateRequest describes a new billing profile and its policies.
type CreateRequest struct {
	BillingProfile `yaml:",inline"`

	Policies *PolicyInputs `json:"policies,omitempty" yaml:"policies,omitempty"`

	// JobID optionally names the flight, making a retried request
	// detectable as a duplicate.
	JobID string `json:"jobId,omitempty" yaml:"jobId,omitempty"`
}

// Service runs billing profile lifecycle operations as flights and serves
// reads directly from the collaborators.
type Service struct {
	jobs       *job.Service
	store      ProfileStore
	authz      AuthorizationClient
	policies   PolicyService
	metrics    *telemetry.Metrics
	enterprise map[string]struct{}
	logger     zerolog.Logger
}

// NewService creates a profile service. metrics may be nil.
func NewService(jobs *job.Service, deps Dependencies, cfg ServiceConfig, metrics *telemetry.Metrics) *Service {
	enterprise := make(map[string]struct{}, len(cfg.EnterpriseSubscriptions))
	for _, sub := range cfg.EnterpriseSubscriptions {
		enterprise[sub] = struct{}{}
	}
	return &Service{
		jobs:       jobs,
		store:      deps.Store,
		authz:      deps.Authz,
		policies:   deps.Policies,
		metrics:    metrics,
		enterprise: enterprise,
		logger:     deps.Logger.With().Str("component", "profile-service").Logger(),
	}
}

// CreateProfile runs the create flight and returns the new profile.
func (s *Service) CreateProfile(ctx context.Context, user AuthenticatedUser, req CreateRequest) (*Description, error) {
	p := req.BillingProfile
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := ValidateProfile(&p); err != nil {
		return nil, err
	}

	start := time.Now()
	b := s.jobs.NewJob().
		FlightType(CreateProfileFlight).
		JobID(req.JobID).
		Description(fmt.Sprintf("Create %s billing profile %s", p.CloudPlatform, p.ID)).
		Request(p).
		UserRequest(user).
		AddParameter(KeyProfileID, p.ID).
		AddParameter(job.KeyCloudPlatform, p.CloudPlatform).
		AddParameter(KeyOrganization, s.organization(&p))
	if !req.Policies.IsEmpty() {
		b.AddParameter(KeyPolicies, req.Policies)
	}

	var desc Description
	if err := b.SubmitAndWait(ctx, &desc); err != nil {
		s.logger.Warn().Err(err).Str("profile_id", p.ID).Msg("Billing profile creation failed")
		return nil, err
	}

	s.metrics.RecordProfileCreated(string(p.CloudPlatform), time.Since(start))
	s.logger.Info().
		Str("profile_id", p.ID).
		Str("cloud_platform", string(p.CloudPlatform)).
		Str("created_by", user.Email).
		Msg("Billing profile created")
	return &desc, nil
}

// UpdateProfile runs the update flight and returns the updated profile.
func (s *Service) UpdateProfile(ctx context.Context, user AuthenticatedUser, profileID string, req UpdateRequest) (*BillingProfile, error) {
	current, err := s.getProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if err := ValidateUpdate(current, req); err != nil {
		return nil, err
	}

	var updated BillingProfile
	err = s.jobs.NewJob().
		FlightType(UpdateProfileFlight).
		Description(fmt.Sprintf("Update billing profile %s", profileID)).
		Request(req).
		UserRequest(user).
		AddParameter(KeyProfileID, profileID).
		AddParameter(KeyProfile, current).
		AddParameter(job.KeyCloudPlatform, current.CloudPlatform).
		SubmitAndWait(ctx, &updated)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("profile_id", profileID).Str("updated_by", user.Email).Msg("Billing profile updated")
	return &updated, nil
}

// DeleteProfile checks the caller may delete the profile, then runs the
// delete flight.
func (s *Service) DeleteProfile(ctx context.Context, user AuthenticatedUser, profileID string) error {
	current, err := s.getProfile(ctx, profileID)
	if err != nil {
		return err
	}
	if err := s.require(ctx, user, profileID, ActionDelete); err != nil {
		return err
	}

	b := s.jobs.NewJob().
		FlightType(DeleteProfileFlight).
		Description(fmt.Sprintf("Delete billing profile %s", profileID)).
		UserRequest(user).
		AddParameter(KeyProfileID, profileID).
		AddParameter(KeyProfile, current).
		AddParameter(job.KeyCloudPlatform, current.CloudPlatform)

	// Undo of the policy step restores from this snapshot.
	pao, err := s.policies.GetPao(ctx, profileID)
	switch {
	case err == nil:
		b.AddParameter(KeyPolicies, pao.Attributes)
	case !errors.Is(err, ErrPaoNotFound):
		return fmt.Errorf("failed to get policies of profile %s: %w", profileID, err)
	}

	err = b.SubmitAndWait(ctx, nil)
	if err != nil {
		return err
	}

	s.metrics.RecordProfileDeleted(string(current.CloudPlatform))
	s.logger.Info().Str("profile_id", profileID).Str("deleted_by", user.Email).Msg("Billing profile deleted")
	return nil
}

// GetProfile returns a profile the caller holds any action on.
func (s *Service) GetProfile(ctx context.Context, user AuthenticatedUser, profileID string) (*Description, error) {
	if err := s.requireAny(ctx, user, profileID); err != nil {
		return nil, err
	}
	p, err := s.getProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}

	desc := &Description{Profile: p, Organization: s.organization(p)}
	pao, err := s.policies.GetPao(ctx, profileID)
	switch {
	case err == nil:
		desc.Policies = &pao.Attributes
	case !errors.Is(err, ErrPaoNotFound):
		return nil, fmt.Errorf("failed to get policies of profile %s: %w", profileID, err)
	}
	return desc, nil
}

// ListProfiles returns the profiles visible to the caller, oldest first.
func (s *Service) ListProfiles(ctx context.Context, user AuthenticatedUser, offset, limit int) ([]*Description, error) {
	if offset < 0 || limit < 0 {
		return nil, engine.NewValidationError("offset and limit must not be negative", nil).WithCode(ErrCodeInvalidField)
	}

	ids, err := s.authz.ListProfileIDs(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list visible profiles: %w", err)
	}
	if len(ids) == 0 {
		return []*Description{}, nil
	}

	profiles, err := s.store.ListProfiles(ctx, ids, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	pageIDs := make([]string, 0, len(profiles))
	for _, p := range profiles {
		pageIDs = append(pageIDs, p.ID)
	}
	paos, err := s.policies.ListPaos(ctx, pageIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	byObject := make(map[string]*Pao, len(paos))
	for _, pao := range paos {
		byObject[pao.ObjectID] = pao
	}

	out := make([]*Description, 0, len(profiles))
	for _, p := range profiles {
		desc := &Description{Profile: p, Organization: s.organization(p)}
		if pao, ok := byObject[p.ID]; ok {
			desc.Policies = &pao.Attributes
		}
		out = append(out, desc)
	}
	return out, nil
}

// ListChanges returns the change log of a profile the caller can see.
func (s *Service) ListChanges(ctx context.Context, user AuthenticatedUser, profileID string, offset, limit int) ([]*ChangeLogEntry, error) {
	if err := s.requireAny(ctx, user, profileID); err != nil {
		return nil, err
	}
	return s.store.ListChanges(ctx, profileID, offset, limit)
}

func (s *Service) getProfile(ctx context.Context, profileID string) (*BillingProfile, error) {
	p, err := s.store.GetProfile(ctx, profileID)
	if errors.Is(err, ErrProfileNotFound) {
		return nil, engine.NewFatalError(fmt.Sprintf("billing profile %s not found", profileID), err).
			WithCode(ErrCodeProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile %s: %w", profileID, err)
	}
	return p, nil
}

func (s *Service) require(ctx context.Context, user AuthenticatedUser, profileID, action string) error {
	allowed, err := s.authz.CheckPermission(ctx, user, profileID, action)
	if err != nil {
		return fmt.Errorf("failed to check %s permission: %w", action, err)
	}
	if !allowed {
		return forbidden(profileID)
	}
	return nil
}

func (s *Service) requireAny(ctx context.Context, user AuthenticatedUser, profileID string) error {
	allowed, err := s.authz.HasAnyAction(ctx, user, profileID)
	if err != nil {
		return fmt.Errorf("failed to check access to profile %s: %w", profileID, err)
	}
	if !allowed {
		return forbidden(profileID)
	}
	return nil
}

func forbidden(profileID string) error {
	return engine.NewFatalError(fmt.Sprintf("caller is not authorized on profile %s", profileID), ErrAccessDenied).
		WithCode(ErrCodeForbidden)
}

// organization reports whether the profile's subscription belongs to an
// enterprise. GCP profiles never do.
func (s *Service) organization(p *BillingProfile) *Organization {
	_, ok := s.enterprise[p.SubscriptionID]
	return &Organization{Enterprise: ok && p.CloudPlatform == CloudPlatformAzure}
}
