package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/profile"
)

const applicationsBody = `{
  "value": [
    {
      "name": "terra-app",
      "plan": {"product": "terra-prod", "publisher": "broad"},
      "properties": {
        "managedResourceGroupId": "/subscriptions/sub-1/resourceGroups/mrg-terra",
        "parameters": {"authorizedTerraUser": {"value": "other@example.com, Owner@Example.com"}}
      }
    },
    {
      "name": "other-offer",
      "plan": {"product": "not-terra", "publisher": "broad"},
      "properties": {
        "managedResourceGroupId": "/subscriptions/sub-1/resourceGroups/mrg-other",
        "parameters": {"authorizedTerraUser": {"value": "owner@example.com"}}
      }
    },
    {
      "name": "no-plan",
      "properties": {"managedResourceGroupId": "/subscriptions/sub-1/resourceGroups/mrg-noplan"}
    }
  ]
}`

const providersBody = `{
  "value": [
    {"namespace": "Microsoft.Compute", "registrationState": "Registered"},
    {"namespace": "Microsoft.Storage", "registrationState": "Registering"},
    {"namespace": "Microsoft.Batch", "registrationState": "NotRegistered"}
  ]
}`

func setupTestVerifier(t *testing.T, required ...string) (*AppVerifier, *int32) {
	t.Helper()

	var providerCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer user-token" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error": {"code": "AuthorizationFailed", "message": "denied"}}`))
			return
		}
		switch {
		case r.URL.Path == "/subscriptions/sub-1/providers/Microsoft.Solutions/applications":
			if r.URL.Query().Get("api-version") != applicationsAPIVersion {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(applicationsBody))
		case r.URL.Path == "/subscriptions/sub-1/providers":
			atomic.AddInt32(&providerCalls, 1)
			_, _ = w.Write([]byte(providersBody))
		case strings.HasPrefix(r.URL.Path, "/subscriptions/flaky/"):
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	v := NewAppVerifier(Config{
		ManagementBaseURL: srv.URL,
		RequiredProviders: required,
		Offers: []Offer{
			{Name: "terra-prod", Publisher: "broad", AuthorizedUserKey: "authorizedTerraUser"},
		},
	}, zerolog.Nop())
	return v, &providerCalls
}

func azureProfile(subscription, mrg string) *profile.BillingProfile {
	return &profile.BillingProfile{
		ID:                        "p-1",
		CloudPlatform:             profile.CloudPlatformAzure,
		TenantID:                  "tenant-1",
		SubscriptionID:            subscription,
		ResourceGroupName:         mrg,
		ApplicationDeploymentName: "terra-app",
	}
}

var owner = profile.AuthenticatedUser{Email: "owner@example.com", Token: "user-token"}

func TestVerifyAccess(t *testing.T) {
	tests := []struct {
		name     string
		user     profile.AuthenticatedUser
		profile  *profile.BillingProfile
		required []string
		code     string
		denied   bool
	}{
		{name: "authorized deployment", user: owner, profile: azureProfile("sub-1", "mrg-terra"), required: []string{"Microsoft.Compute", "microsoft.storage"}},
		{name: "deployment of another offer", user: owner, profile: azureProfile("sub-1", "mrg-other"), code: profile.ErrCodeInaccessibleApplicationDeployment, denied: true},
		{name: "deployment without plan", user: owner, profile: azureProfile("sub-1", "mrg-noplan"), code: profile.ErrCodeInaccessibleApplicationDeployment, denied: true},
		{name: "user not authorized", user: profile.AuthenticatedUser{Email: "stranger@example.com", Token: "user-token"}, profile: azureProfile("sub-1", "mrg-terra"), code: profile.ErrCodeInaccessibleApplicationDeployment, denied: true},
		{name: "subscription forbidden", user: profile.AuthenticatedUser{Email: "owner@example.com", Token: "other"}, profile: azureProfile("sub-1", "mrg-terra"), code: profile.ErrCodeInaccessibleApplicationDeployment, denied: true},
		{name: "subscription not found", user: owner, profile: azureProfile("sub-404", "mrg-terra"), code: profile.ErrCodeInaccessibleApplicationDeployment, denied: true},
		{name: "missing providers", user: owner, profile: azureProfile("sub-1", "mrg-terra"), required: []string{"Microsoft.Compute", "Microsoft.Batch"}, code: profile.ErrCodeMissingRequiredProviders, denied: true},
		{name: "transient failure", user: owner, profile: azureProfile("flaky", "mrg-terra")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, _ := setupTestVerifier(t, tt.required...)
			err := v.VerifyAccess(context.Background(), tt.user, tt.profile)

			if tt.code == "" && !tt.denied {
				if tt.name == "transient failure" {
					if err == nil || errors.Is(err, profile.ErrAccessDenied) {
						t.Fatalf("Expected a transient error, got %v", err)
					}
					return
				}
				if err != nil {
					t.Fatalf("Expected access, got %v", err)
				}
				return
			}

			if !errors.Is(err, profile.ErrAccessDenied) {
				t.Fatalf("Expected ErrAccessDenied, got %v", err)
			}
			if got := engine.CodeOf(err); got != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, got)
			}
		})
	}
}

func TestVerifyAccess_MissingProvidersDetail(t *testing.T) {
	v, _ := setupTestVerifier(t, "Microsoft.Batch", "Microsoft.Compute", "Microsoft.Aks")

	err := v.VerifyAccess(context.Background(), owner, azureProfile("sub-1", "mrg-terra"))

	var fe *engine.FlightError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected *engine.FlightError, got %v", err)
	}
	if got := fmt.Sprint(fe.Details["providers"]); got != "[Microsoft.Aks Microsoft.Batch]" {
		t.Errorf("Unexpected missing providers %s", got)
	}
}

func TestVerifyAccess_CachesProviders(t *testing.T) {
	v, calls := setupTestVerifier(t, "Microsoft.Compute")

	for i := 0; i < 3; i++ {
		if err := v.VerifyAccess(context.Background(), owner, azureProfile("sub-1", "mrg-terra")); err != nil {
			t.Fatalf("VerifyAccess %d failed: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Errorf("Expected one provider lookup, got %d", n)
	}
}
