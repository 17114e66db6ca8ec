// Package azure verifies that a caller is authorized on a Terra managed
// application deployment and that its subscription has the resource
// providers Terra needs.
package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/bpmanager/bpmanager/pkg/clients/rest"
	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/profile"
)

const (
	// DefaultBaseURL is the Azure Resource Manager endpoint.
	DefaultBaseURL = "https://management.azure.com"

	applicationsAPIVersion = "2019-07-01"
	providersAPIVersion    = "2021-04-01"
)

// Offer is a marketplace offer whose deployments are Terra applications.
type Offer struct {
	Name      string `mapstructure:"name" yaml:"name" validate:"required"`
	Publisher string `mapstructure:"publisher" yaml:"publisher" validate:"required"`

	// AuthorizedUserKey is the deployment parameter holding the
	// comma-separated emails of authorized users.
	AuthorizedUserKey string `mapstructure:"authorized_user_key" yaml:"authorized_user_key" validate:"required"`
}

// Config configures an AppVerifier.
type Config struct {
	ManagementBaseURL string        `mapstructure:"management_base_url" yaml:"management_base_url" validate:"omitempty,url"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit         float64       `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`

	RequiredProviders []string      `mapstructure:"required_providers" yaml:"required_providers"`
	Offers            []Offer       `mapstructure:"offers" yaml:"offers" validate:"dive"`
	ProviderCacheTTL  time.Duration `mapstructure:"provider_cache_ttl" yaml:"provider_cache_ttl"`
}

// AppVerifier implements profile.CloudAccessVerifier for Azure profiles.
type AppVerifier struct {
	rest      *rest.Client
	offers    []Offer
	required  []string
	providers *cache.Cache
	logger    zerolog.Logger
}

var _ profile.CloudAccessVerifier = (*AppVerifier)(nil)

// NewAppVerifier creates a verifier. Provider lists are cached per
// subscription for cfg.ProviderCacheTTL, five minutes by default.
func NewAppVerifier(cfg Config, logger zerolog.Logger, opts ...rest.Option) *AppVerifier {
	base := cfg.ManagementBaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	ttl := cfg.ProviderCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &AppVerifier{
		rest:      rest.New("azure", rest.Config{BaseURL: base, Timeout: cfg.Timeout, RateLimit: cfg.RateLimit}, logger, opts...),
		offers:    cfg.Offers,
		required:  cfg.RequiredProviders,
		providers: cache.New(ttl, 2*ttl),
		logger:    logger.With().Str("component", "azure-verifier").Logger(),
	}
}

// VerifyAccess checks that exactly one Terra application in the profile's
// subscription manages the profile's resource group and lists the caller as
// an authorized user, then that every required provider is registered.
func (v *AppVerifier) VerifyAccess(ctx context.Context, user profile.AuthenticatedUser, p *profile.BillingProfile) error {
	apps, err := v.rest.Do(ctx, rest.Request{
		Operation: "list_applications",
		Method:    http.MethodGet,
		Path:      "/subscriptions/" + url.PathEscape(p.SubscriptionID) + "/providers/Microsoft.Solutions/applications",
		Query:     map[string]string{"api-version": applicationsAPIVersion},
		Token:     user.Token,
	})
	switch {
	case errors.Is(err, profile.ErrAccessDenied), errors.Is(err, profile.ErrNotFound):
		return inaccessible(user, p, err)
	case err != nil:
		return err
	}

	matches := 0
	for _, app := range apps.JSON().Get("value").Array() {
		if v.authorized(app, user) && lastSegment(app.Get("properties.managedResourceGroupId").String()) == p.ManagedResourceGroupID() {
			matches++
		}
	}
	if matches != 1 {
		v.logger.Debug().
			Str("subscription_id", p.SubscriptionID).
			Str("mrg", p.ManagedResourceGroupID()).
			Int("matches", matches).
			Msg("No single authorized application deployment")
		return inaccessible(user, p, nil)
	}

	return v.checkProviders(ctx, user, p)
}

// authorized reports whether app is a deployment of a known offer that lists
// user among its authorized users.
func (v *AppVerifier) authorized(app gjson.Result, user profile.AuthenticatedUser) bool {
	product := app.Get("plan.product").String()
	publisher := app.Get("plan.publisher").String()

	for _, offer := range v.offers {
		if offer.Name != product || offer.Publisher != publisher {
			continue
		}
		users := app.Get("properties.parameters." + gjson.Escape(offer.AuthorizedUserKey) + ".value").String()
		for _, u := range strings.Split(users, ",") {
			if strings.EqualFold(strings.TrimSpace(u), user.Email) {
				return true
			}
		}
		return false
	}
	return false
}

func (v *AppVerifier) checkProviders(ctx context.Context, user profile.AuthenticatedUser, p *profile.BillingProfile) error {
	if len(v.required) == 0 {
		return nil
	}

	registered, err := v.registeredProviders(ctx, user, p)
	if err != nil {
		return err
	}

	var missing []string
	for _, ns := range v.required {
		if !registered[strings.ToLower(ns)] {
			missing = append(missing, ns)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)

	return engine.NewFatalError(
		fmt.Sprintf("subscription %s is missing required providers: %s", p.SubscriptionID, strings.Join(missing, ", ")),
		profile.ErrAccessDenied).
		WithCode(profile.ErrCodeMissingRequiredProviders).
		WithDetail("providers", missing)
}

// registeredProviders returns the lowercased namespaces in the Registered or
// Registering state.
func (v *AppVerifier) registeredProviders(ctx context.Context, user profile.AuthenticatedUser, p *profile.BillingProfile) (map[string]bool, error) {
	key := p.TenantID + "/" + p.SubscriptionID
	if cached, ok := v.providers.Get(key); ok {
		return cached.(map[string]bool), nil
	}

	resp, err := v.rest.Do(ctx, rest.Request{
		Operation: "list_providers",
		Method:    http.MethodGet,
		Path:      "/subscriptions/" + url.PathEscape(p.SubscriptionID) + "/providers",
		Query:     map[string]string{"api-version": providersAPIVersion},
		Token:     user.Token,
	})
	if errors.Is(err, profile.ErrAccessDenied) {
		return nil, inaccessible(user, p, err)
	}
	if err != nil {
		return nil, err
	}

	registered := make(map[string]bool)
	for _, provider := range resp.JSON().Get("value").Array() {
		switch provider.Get("registrationState").String() {
		case "Registered", "Registering":
			registered[strings.ToLower(provider.Get("namespace").String())] = true
		}
	}
	v.providers.Set(key, registered, cache.DefaultExpiration)
	return registered, nil
}

func lastSegment(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func inaccessible(user profile.AuthenticatedUser, p *profile.BillingProfile, cause error) error {
	err := profile.ErrAccessDenied
	if cause != nil {
		err = fmt.Errorf("%w: %w", profile.ErrAccessDenied, cause)
	}
	return engine.NewFatalError(
		fmt.Sprintf("the user [%s] needs access to deployed application [%s] to perform the requested operation",
			user.Email, p.ManagedResourceGroupID()), err).
		WithCode(profile.ErrCodeInaccessibleApplicationDeployment)
}
