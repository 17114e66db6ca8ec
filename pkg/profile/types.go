package profile

import (
	"fmt"
	"strings"
	"time"
)

// CloudPlatform identifies the cloud a billing profile pays for.
type CloudPlatform string

const (
	CloudPlatformGCP   CloudPlatform = "GCP"
	CloudPlatformAzure CloudPlatform = "AZURE"
)

// ParseCloudPlatform parses a platform name case-insensitively.
func ParseCloudPlatform(s string) (CloudPlatform, error) {
	switch CloudPlatform(strings.ToUpper(strings.TrimSpace(s))) {
	case CloudPlatformGCP:
		return CloudPlatformGCP, nil
	case CloudPlatformAzure:
		return CloudPlatformAzure, nil
	default:
		return "", fmt.Errorf("unknown cloud platform: %q", s)
	}
}

// BillingProfile is a persisted billing profile.
type BillingProfile struct {
	ID            string        `json:"id" yaml:"id" validate:"required,max=64,profileid"`
	DisplayName   string        `json:"displayName" yaml:"displayName" validate:"required,max=511"`
	Description   string        `json:"description,omitempty" yaml:"description,omitempty" validate:"max=2047"`
	Biller        string        `json:"biller" yaml:"biller" validate:"required"`
	CloudPlatform CloudPlatform `json:"cloudPlatform" yaml:"cloudPlatform" validate:"required,oneof=GCP AZURE"`

	// GCP
	BillingAccountID string `json:"billingAccountId,omitempty" yaml:"billingAccountId,omitempty" validate:"required_if=CloudPlatform GCP"`

	// Azure
	TenantID                  string `json:"tenantId,omitempty" yaml:"tenantId,omitempty" validate:"required_if=CloudPlatform AZURE"`
	SubscriptionID            string `json:"subscriptionId,omitempty" yaml:"subscriptionId,omitempty" validate:"required_if=CloudPlatform AZURE"`
	ResourceGroupName         string `json:"resourceGroupName,omitempty" yaml:"resourceGroupName,omitempty" validate:"required_if=CloudPlatform AZURE"`
	ApplicationDeploymentName string `json:"applicationDeploymentName,omitempty" yaml:"applicationDeploymentName,omitempty" validate:"required_if=CloudPlatform AZURE"`

	CreatedTime  time.Time `json:"createdDate" yaml:"-"`
	LastModified time.Time `json:"lastModified" yaml:"-"`
	CreatedBy    string    `json:"createdBy" yaml:"-"`
}

// ManagedResourceGroupID returns the Azure managed resource group backing
// the profile's application deployment.
func (p *BillingProfile) ManagedResourceGroupID() string {
	return p.ResourceGroupName
}

// Organization describes the organization a profile belongs to.
type Organization struct {
	Enterprise bool `json:"enterprise"`
}

// PolicyPair is a key/value attribute of a policy input.
type PolicyPair struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

// PolicyInput is a single named policy, e.g. terra:region-constraint.
type PolicyInput struct {
	Namespace      string       `json:"namespace" yaml:"namespace"`
	Name           string       `json:"name" yaml:"name"`
	AdditionalData []PolicyPair `json:"additionalData,omitempty" yaml:"additionalData,omitempty"`
}

// Key returns the namespaced policy name.
func (p PolicyInput) Key() string {
	return p.Namespace + ":" + p.Name
}

// PolicyInputs is the set of policies attached to a profile.
type PolicyInputs struct {
	Inputs []PolicyInput `json:"inputs" yaml:"inputs"`
}

// IsEmpty reports whether no policies are set.
func (p *PolicyInputs) IsEmpty() bool {
	return p == nil || len(p.Inputs) == 0
}

// Pao is a policy attribute object: the policies attached to one object.
type Pao struct {
	ObjectID   string       `json:"objectId"`
	Component  string       `json:"component"`
	ObjectType string       `json:"objectType"`
	Attributes PolicyInputs `json:"attributes"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Policy attribute object ownership for billing profiles.
const (
	PaoComponent  = "BPM"
	PaoObjectType = "billing-profile"
)

// Description is a billing profile with its policies and organization, as
// returned to callers.
type Description struct {
	Profile      *BillingProfile `json:"profile"`
	Policies     *PolicyInputs   `json:"policies,omitempty"`
	Organization *Organization   `json:"organization,omitempty"`
}

// ChangeType classifies a change log entry.
type ChangeType string

const (
	ChangeTypeCreate ChangeType = "CREATE"
	ChangeTypeUpdate ChangeType = "UPDATE"
	ChangeTypeDelete ChangeType = "DELETE"
)

// ChangeLogEntry records one modification of a billing profile.
type ChangeLogEntry struct {
	ID         string         `json:"id"`
	ProfileID  string         `json:"profileId"`
	ChangeType ChangeType     `json:"changeType"`
	ChangeBy   string         `json:"changeBy"`
	ChangeDate time.Time      `json:"changeDate"`
	Changes    map[string]any `json:"changes,omitempty"`
}

// UpdateRequest carries the mutable fields of a profile. Nil fields are
// left unchanged.
type UpdateRequest struct {
	Description      *string `json:"description,omitempty" yaml:"description,omitempty" validate:"omitempty,max=2047"`
	BillingAccountID *string `json:"billingAccountId,omitempty" yaml:"billingAccountId,omitempty" validate:"omitempty,min=1"`
}

// IsEmpty reports whether the request changes nothing.
func (r *UpdateRequest) IsEmpty() bool {
	return r.Description == nil && r.BillingAccountID == nil
}

// AuthenticatedUser identifies the caller of a lifecycle operation.
type AuthenticatedUser struct {
	SubjectID string `json:"subjectId"`
	Email     string `json:"email"`
	Token     string `json:"token,omitempty"`
}

// Subject returns the caller's subject id.
func (u AuthenticatedUser) Subject() string {
	return u.SubjectID
}

// Authorization actions on a spend-profile resource.
const (
	ActionCreate               = "create"
	ActionDelete               = "delete"
	ActionUpdateBillingAccount = "update_billing_account"
	ActionUpdateMetadata       = "update_metadata"
	ActionLink                 = "link"
)

// ResourceTypeProfile is the authorization resource type of a billing profile.
const ResourceTypeProfile = "spend-profile"
