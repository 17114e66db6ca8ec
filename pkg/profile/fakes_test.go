package profile_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bpmanager/bpmanager/pkg/profile"
	"github.com/bpmanager/bpmanager/pkg/stores"
)

// recordingStore logs the profile writes and lookups the steps perform.
type recordingStore struct {
	*stores.SQLiteStore

	mu    sync.Mutex
	calls []string
}

func (s *recordingStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *recordingStore) log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingStore) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *recordingStore) GetProfile(ctx context.Context, id string) (*profile.BillingProfile, error) {
	s.record("GetProfile")
	return s.SQLiteStore.GetProfile(ctx, id)
}

func (s *recordingStore) CreateProfile(ctx context.Context, p *profile.BillingProfile, changeBy string) (*profile.BillingProfile, error) {
	s.record("CreateProfile")
	return s.SQLiteStore.CreateProfile(ctx, p, changeBy)
}

func (s *recordingStore) DeleteProfile(ctx context.Context, id, changeBy string) (bool, error) {
	s.record("DeleteProfile")
	return s.SQLiteStore.DeleteProfile(ctx, id, changeBy)
}

// fakeAuthz is an in-memory authorization service.
type fakeAuthz struct {
	mu        sync.Mutex
	resources map[string]string
	links     map[string]string
	denied    map[string]bool
	deleteErr error
	creates   int
}

func newFakeAuthz() *fakeAuthz {
	return &fakeAuthz{
		resources: make(map[string]string),
		links:     make(map[string]string),
		denied:    make(map[string]bool),
	}
}

func (a *fakeAuthz) CreateProfileResource(_ context.Context, user profile.AuthenticatedUser, profileID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.creates++
	a.resources[profileID] = user.Email
	return nil
}

func (a *fakeAuthz) DeleteProfileResource(_ context.Context, _ profile.AuthenticatedUser, profileID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deleteErr != nil {
		return a.deleteErr
	}
	if _, ok := a.resources[profileID]; !ok {
		return fmt.Errorf("%w: spend-profile %s", profile.ErrNotFound, profileID)
	}
	delete(a.resources, profileID)
	return nil
}

func (a *fakeAuthz) CheckPermission(_ context.Context, _ profile.AuthenticatedUser, _, action string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.denied[action], nil
}

func (a *fakeAuthz) HasAnyAction(_ context.Context, _ profile.AuthenticatedUser, profileID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.resources[profileID]
	return ok, nil
}

func (a *fakeAuthz) ListProfileIDs(context.Context, profile.AuthenticatedUser) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.resources))
	for id := range a.resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *fakeAuthz) LinkManagedResourceGroup(_ context.Context, _ profile.AuthenticatedUser, p *profile.BillingProfile) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.links[p.ID] = p.ManagedResourceGroupID()
	return nil
}

func (a *fakeAuthz) UnlinkManagedResourceGroup(_ context.Context, _ profile.AuthenticatedUser, profileID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.links, profileID)
	return nil
}

func (a *fakeAuthz) hasResource(profileID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.resources[profileID]
	return ok
}

func (a *fakeAuthz) removeResource(profileID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.resources, profileID)
}

func (a *fakeAuthz) link(profileID string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	mrg, ok := a.links[profileID]
	return mrg, ok
}

func (a *fakeAuthz) set(fn func(a *fakeAuthz)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a)
}

// fakeVerifier returns a configured error.
type fakeVerifier struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (v *fakeVerifier) VerifyAccess(context.Context, profile.AuthenticatedUser, *profile.BillingProfile) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.err
}

func (v *fakeVerifier) fail(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
}

func (v *fakeVerifier) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// fakePolicies is an in-memory policy service.
type fakePolicies struct {
	mu   sync.Mutex
	paos map[string]*profile.Pao
}

func newFakePolicies() *fakePolicies {
	return &fakePolicies{paos: make(map[string]*profile.Pao)}
}

func (p *fakePolicies) CreatePao(_ context.Context, objectID string, inputs profile.PolicyInputs) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.paos[objectID]; ok {
		return profile.ErrDuplicatePao
	}
	for _, in := range inputs.Inputs {
		if in.Name == "forbidden" {
			return fmt.Errorf("%w: %s", profile.ErrPolicyViolation, in.Key())
		}
	}
	p.paos[objectID] = &profile.Pao{
		ObjectID:   objectID,
		Component:  profile.PaoComponent,
		ObjectType: profile.PaoObjectType,
		Attributes: inputs,
	}
	return nil
}

func (p *fakePolicies) GetPao(_ context.Context, objectID string) (*profile.Pao, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pao, ok := p.paos[objectID]
	if !ok {
		return nil, profile.ErrPaoNotFound
	}
	cp := *pao
	return &cp, nil
}

func (p *fakePolicies) DeletePao(_ context.Context, objectID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.paos, objectID)
	return nil
}

func (p *fakePolicies) ListPaos(_ context.Context, objectIDs []string) ([]*profile.Pao, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*profile.Pao
	for _, id := range objectIDs {
		if pao, ok := p.paos[id]; ok {
			cp := *pao
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (p *fakePolicies) has(objectID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.paos[objectID]
	return ok
}
