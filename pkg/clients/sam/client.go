// Package sam implements profile.AuthorizationClient against the Sam
// authorization service.
package sam

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/clients/rest"
	"github.com/bpmanager/bpmanager/pkg/profile"
)

const resourcesPath = "/api/resources/v2/" + profile.ResourceTypeProfile

// Client calls Sam on behalf of the requesting user.
type Client struct {
	rest   *rest.Client
	logger zerolog.Logger
}

var _ profile.AuthorizationClient = (*Client)(nil)

// New creates a Sam client.
func New(cfg rest.Config, logger zerolog.Logger, opts ...rest.Option) *Client {
	return &Client{
		rest:   rest.New("sam", cfg, logger, opts...),
		logger: logger.With().Str("component", "sam-client").Logger(),
	}
}

type accessPolicy struct {
	MemberEmails []string `json:"memberEmails"`
	Roles        []string `json:"roles"`
	Actions      []string `json:"actions"`
}

type createResourceRequest struct {
	ResourceID string                  `json:"resourceId"`
	Policies   map[string]accessPolicy `json:"policies"`
	AuthDomain []string                `json:"authDomain"`
}

// CreateProfileResource creates the spend-profile resource with the caller
// as owner and an empty user policy.
func (c *Client) CreateProfileResource(ctx context.Context, user profile.AuthenticatedUser, profileID string) error {
	_, err := c.rest.Do(ctx, rest.Request{
		Operation: "create_resource",
		Method:    http.MethodPost,
		Path:      resourcesPath,
		Token:     user.Token,
		Body: createResourceRequest{
			ResourceID: profileID,
			Policies: map[string]accessPolicy{
				"owner": {MemberEmails: []string{user.Email}, Roles: []string{"owner"}, Actions: []string{}},
				"user":  {MemberEmails: []string{}, Roles: []string{"user"}, Actions: []string{}},
			},
			AuthDomain: []string{},
		},
	})
	if errors.Is(err, rest.ErrConflict) {
		c.logger.Debug().Str("profile_id", profileID).Msg("Spend-profile resource already exists")
		return nil
	}
	return err
}

// DeleteProfileResource deletes the spend-profile resource. A 404 is
// returned as an error matching profile.ErrNotFound.
func (c *Client) DeleteProfileResource(ctx context.Context, user profile.AuthenticatedUser, profileID string) error {
	_, err := c.rest.Do(ctx, rest.Request{
		Operation: "delete_resource",
		Method:    http.MethodDelete,
		Path:      resourcesPath + "/" + url.PathEscape(profileID),
		Token:     user.Token,
	})
	return err
}

// CheckPermission reports whether the caller may perform action.
func (c *Client) CheckPermission(ctx context.Context, user profile.AuthenticatedUser, profileID, action string) (bool, error) {
	resp, err := c.rest.Do(ctx, rest.Request{
		Operation: "check_action",
		Method:    http.MethodGet,
		Path:      fmt.Sprintf("%s/%s/action/%s", resourcesPath, url.PathEscape(profileID), url.PathEscape(action)),
		Token:     user.Token,
	})
	if errors.Is(err, profile.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.JSON().Bool(), nil
}

// HasAnyAction reports whether the caller holds any action on the profile.
func (c *Client) HasAnyAction(ctx context.Context, user profile.AuthenticatedUser, profileID string) (bool, error) {
	resp, err := c.rest.Do(ctx, rest.Request{
		Operation: "list_actions",
		Method:    http.MethodGet,
		Path:      fmt.Sprintf("%s/%s/actions", resourcesPath, url.PathEscape(profileID)),
		Token:     user.Token,
	})
	if errors.Is(err, profile.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(resp.JSON().Array()) > 0, nil
}

// ListProfileIDs returns the spend-profile resources visible to the caller.
func (c *Client) ListProfileIDs(ctx context.Context, user profile.AuthenticatedUser) ([]string, error) {
	resp, err := c.rest.Do(ctx, rest.Request{
		Operation: "list_resources",
		Method:    http.MethodGet,
		Path:      resourcesPath,
		Token:     user.Token,
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	ids := []string{}
	for _, r := range resp.JSON().Get("#.resourceId").Array() {
		if id := r.String(); id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type mrgRequest struct {
	TenantID                 string `json:"tenantId"`
	SubscriptionID           string `json:"subscriptionId"`
	ManagedResourceGroupName string `json:"managedResourceGroupName"`
}

func mrgPath(profileID string) string {
	return "/api/azure/v1/billingProfile/" + url.PathEscape(profileID) + "/managedResourceGroup"
}

// LinkManagedResourceGroup registers the profile's managed resource group.
// An existing link is not an error.
func (c *Client) LinkManagedResourceGroup(ctx context.Context, user profile.AuthenticatedUser, p *profile.BillingProfile) error {
	_, err := c.rest.Do(ctx, rest.Request{
		Operation: "link_mrg",
		Method:    http.MethodPost,
		Path:      mrgPath(p.ID),
		Token:     user.Token,
		Body: mrgRequest{
			TenantID:                 p.TenantID,
			SubscriptionID:           p.SubscriptionID,
			ManagedResourceGroupName: p.ManagedResourceGroupID(),
		},
	})
	if errors.Is(err, rest.ErrConflict) {
		return nil
	}
	return err
}

// UnlinkManagedResourceGroup removes the link. A missing link is not an
// error.
func (c *Client) UnlinkManagedResourceGroup(ctx context.Context, user profile.AuthenticatedUser, profileID string) error {
	_, err := c.rest.Do(ctx, rest.Request{
		Operation: "unlink_mrg",
		Method:    http.MethodDelete,
		Path:      mrgPath(profileID),
		Token:     user.Token,
	})
	if errors.Is(err, profile.ErrNotFound) {
		return nil
	}
	return err
}
