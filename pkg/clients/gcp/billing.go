// Package gcp verifies that a caller can attach projects to a GCP billing
// account.
package gcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/clients/rest"
	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/profile"
)

// BillingPermission is required on the billing account of a GCP profile.
const BillingPermission = "billing.resourceAssociations.create"

// DefaultBaseURL is the Cloud Billing API.
const DefaultBaseURL = "https://cloudbilling.googleapis.com"

// BillingVerifier checks billing account IAM with the caller's token.
type BillingVerifier struct {
	rest   *rest.Client
	logger zerolog.Logger
}

var _ profile.CloudAccessVerifier = (*BillingVerifier)(nil)

// NewBillingVerifier creates a verifier. An empty cfg.BaseURL uses
// DefaultBaseURL.
func NewBillingVerifier(cfg rest.Config, logger zerolog.Logger, opts ...rest.Option) *BillingVerifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &BillingVerifier{
		rest:   rest.New("gcp_billing", cfg, logger, opts...),
		logger: logger.With().Str("component", "gcp-billing-verifier").Logger(),
	}
}

type testPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

// VerifyAccess returns an ErrInaccessibleBillingAccount-coded error that
// matches profile.ErrAccessDenied when the caller lacks BillingPermission.
// Other failures are returned as transient.
func (v *BillingVerifier) VerifyAccess(ctx context.Context, user profile.AuthenticatedUser, p *profile.BillingProfile) error {
	account := strings.TrimPrefix(p.BillingAccountID, "billingAccounts/")
	if account == "" {
		return inaccessible(p.BillingAccountID, errors.New("no billing account"))
	}

	resp, err := v.rest.Do(ctx, rest.Request{
		Operation: "test_iam_permissions",
		Method:    http.MethodPost,
		Path:      "/v1/billingAccounts/" + url.PathEscape(account) + ":testIamPermissions",
		Token:     user.Token,
		Body:      testPermissionsRequest{Permissions: []string{BillingPermission}},
	})
	switch {
	case errors.Is(err, profile.ErrAccessDenied), errors.Is(err, profile.ErrNotFound):
		return inaccessible(account, err)
	case err != nil:
		return err
	}

	for _, granted := range resp.JSON().Get("permissions").Array() {
		if granted.String() == BillingPermission {
			v.logger.Debug().Str("billing_account", account).Str("user", user.Email).Msg("Billing account access verified")
			return nil
		}
	}
	return inaccessible(account, nil)
}

func inaccessible(account string, cause error) error {
	err := profile.ErrAccessDenied
	if cause != nil {
		err = fmt.Errorf("%w: %w", profile.ErrAccessDenied, cause)
	}
	return engine.NewFatalError(
		fmt.Sprintf("caller lacks %s on billing account %s", BillingPermission, account), err).
		WithCode(profile.ErrCodeInaccessibleBillingAccount)
}
