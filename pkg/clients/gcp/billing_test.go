package gcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/clients/rest"
	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/profile"
)

func TestVerifyAccess(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req testPermissionsRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		switch r.Header.Get("Authorization") {
		case "Bearer granted":
			_ = json.NewEncoder(w).Encode(req)
		case "Bearer none":
			_, _ = w.Write([]byte(`{}`))
		case "Bearer forbidden":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	v := NewBillingVerifier(rest.Config{BaseURL: srv.URL}, zerolog.Nop())
	p := &profile.BillingProfile{ID: "p-1", CloudPlatform: profile.CloudPlatformGCP, BillingAccountID: "billingAccounts/ABC-123"}

	tests := []struct {
		name   string
		token  string
		denied bool
		ok     bool
	}{
		{name: "permission granted", token: "granted", ok: true},
		{name: "permission missing", token: "none", denied: true},
		{name: "forbidden", token: "forbidden", denied: true},
		{name: "unavailable", token: "flaky"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.VerifyAccess(context.Background(), profile.AuthenticatedUser{Email: "u@example.com", Token: tt.token}, p)
			if tt.ok {
				if err != nil {
					t.Fatalf("Expected access, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected error")
			}
			if errors.Is(err, profile.ErrAccessDenied) != tt.denied {
				t.Errorf("errors.Is(ErrAccessDenied) = %v, want %v (%v)", !tt.denied, tt.denied, err)
			}
			if tt.denied && engine.CodeOf(err) != profile.ErrCodeInaccessibleBillingAccount {
				t.Errorf("Expected code %s, got %s", profile.ErrCodeInaccessibleBillingAccount, engine.CodeOf(err))
			}
		})
	}

	if gotPath != "/v1/billingAccounts/ABC-123:testIamPermissions" {
		t.Errorf("Unexpected request path %s", gotPath)
	}
}
