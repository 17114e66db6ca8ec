package sam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/clients/rest"
	"github.com/bpmanager/bpmanager/pkg/profile"
)

// fakeSam serves the spend-profile endpoints from memory.
type fakeSam struct {
	mu        sync.Mutex
	resources map[string]string
	actions   map[string][]string
	links     map[string]mrgRequest
}

func newFakeSam() *fakeSam {
	return &fakeSam{
		resources: make(map[string]string),
		actions:   make(map[string][]string),
		links:     make(map[string]mrgRequest),
	}
}

func (f *fakeSam) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer user-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	path := r.URL.Path
	switch {
	case path == resourcesPath && r.Method == http.MethodPost:
		var req createResourceRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if _, ok := f.resources[req.ResourceID]; ok {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.resources[req.ResourceID] = req.Policies["owner"].MemberEmails[0]
		f.actions[req.ResourceID] = []string{profile.ActionDelete, profile.ActionUpdateMetadata}
		w.WriteHeader(http.StatusNoContent)

	case path == resourcesPath && r.Method == http.MethodGet:
		out := []map[string]string{}
		for id := range f.resources {
			out = append(out, map[string]string{"resourceId": id})
		}
		_ = json.NewEncoder(w).Encode(out)

	case strings.HasPrefix(path, resourcesPath+"/"):
		parts := strings.Split(strings.TrimPrefix(path, resourcesPath+"/"), "/")
		id := parts[0]
		if _, ok := f.resources[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message": "resource not found"}`))
			return
		}
		switch {
		case len(parts) == 1 && r.Method == http.MethodDelete:
			delete(f.resources, id)
			w.WriteHeader(http.StatusNoContent)
		case len(parts) == 2 && parts[1] == "actions":
			_ = json.NewEncoder(w).Encode(f.actions[id])
		case len(parts) == 3 && parts[1] == "action":
			allowed := false
			for _, a := range f.actions[id] {
				allowed = allowed || a == parts[2]
			}
			_ = json.NewEncoder(w).Encode(allowed)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}

	case strings.HasPrefix(path, "/api/azure/v1/billingProfile/"):
		id := strings.Split(strings.TrimPrefix(path, "/api/azure/v1/billingProfile/"), "/")[0]
		switch r.Method {
		case http.MethodPost:
			var req mrgRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.links[id] = req
			w.WriteHeader(http.StatusNoContent)
		case http.MethodDelete:
			if _, ok := f.links[id]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(f.links, id)
			w.WriteHeader(http.StatusNoContent)
		}

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func setupTestClient(t *testing.T) (*Client, *fakeSam) {
	t.Helper()

	fake := newFakeSam()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(rest.Config{BaseURL: srv.URL}, zerolog.Nop()), fake
}

var testUser = profile.AuthenticatedUser{SubjectID: "sub-1", Email: "owner@example.com", Token: "user-token"}

func TestProfileResourceLifecycle(t *testing.T) {
	c, fake := setupTestClient(t)
	ctx := context.Background()

	if err := c.CreateProfileResource(ctx, testUser, "p-1"); err != nil {
		t.Fatalf("CreateProfileResource failed: %v", err)
	}
	if err := c.CreateProfileResource(ctx, testUser, "p-1"); err != nil {
		t.Fatalf("Creating an existing resource should succeed, got %v", err)
	}
	if fake.resources["p-1"] != testUser.Email {
		t.Errorf("Expected owner %s, got %q", testUser.Email, fake.resources["p-1"])
	}

	ids, err := c.ListProfileIDs(ctx, testUser)
	if err != nil {
		t.Fatalf("ListProfileIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "p-1" {
		t.Errorf("Unexpected ids %v", ids)
	}

	tests := []struct {
		action string
		want   bool
	}{
		{profile.ActionDelete, true},
		{profile.ActionUpdateBillingAccount, false},
	}
	for _, tt := range tests {
		got, err := c.CheckPermission(ctx, testUser, "p-1", tt.action)
		if err != nil {
			t.Fatalf("CheckPermission(%s) failed: %v", tt.action, err)
		}
		if got != tt.want {
			t.Errorf("CheckPermission(%s) = %v, want %v", tt.action, got, tt.want)
		}
	}

	visible, err := c.HasAnyAction(ctx, testUser, "p-1")
	if err != nil || !visible {
		t.Errorf("HasAnyAction = %v, %v; want true", visible, err)
	}

	if err := c.DeleteProfileResource(ctx, testUser, "p-1"); err != nil {
		t.Fatalf("DeleteProfileResource failed: %v", err)
	}
	err = c.DeleteProfileResource(ctx, testUser, "p-1")
	if !errors.Is(err, profile.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for a missing resource, got %v", err)
	}

	visible, err = c.HasAnyAction(ctx, testUser, "p-1")
	if err != nil || visible {
		t.Errorf("HasAnyAction on a missing resource = %v, %v; want false", visible, err)
	}
}

func TestManagedResourceGroupLink(t *testing.T) {
	c, fake := setupTestClient(t)
	ctx := context.Background()

	p := &profile.BillingProfile{
		ID:                "p-1",
		CloudPlatform:     profile.CloudPlatformAzure,
		TenantID:          "tenant",
		SubscriptionID:    "sub",
		ResourceGroupName: "mrg-1",
	}
	if err := c.LinkManagedResourceGroup(ctx, testUser, p); err != nil {
		t.Fatalf("LinkManagedResourceGroup failed: %v", err)
	}
	if fake.links["p-1"].ManagedResourceGroupName != "mrg-1" || fake.links["p-1"].TenantID != "tenant" {
		t.Errorf("Unexpected link %+v", fake.links["p-1"])
	}

	if err := c.UnlinkManagedResourceGroup(ctx, testUser, "p-1"); err != nil {
		t.Fatalf("UnlinkManagedResourceGroup failed: %v", err)
	}
	if err := c.UnlinkManagedResourceGroup(ctx, testUser, "p-1"); err != nil {
		t.Fatalf("Unlinking a missing link should succeed, got %v", err)
	}
}

func TestUnauthorizedIsAccessDenied(t *testing.T) {
	c, _ := setupTestClient(t)

	err := c.CreateProfileResource(context.Background(), profile.AuthenticatedUser{Email: "x@example.com", Token: "wrong"}, "p-1")
	if !errors.Is(err, profile.ErrAccessDenied) {
		t.Fatalf("Expected ErrAccessDenied, got %v", err)
	}
	if rest.StatusCode(err) != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rest.StatusCode(err))
	}
}
