package profile

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bpmanager/bpmanager/pkg/engine"
)

// profileValidate is shared by every request check in this package.
var profileValidate *validator.Validate

var profileIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

func init() {
	profileValidate = validator.New()

	// Report fields by their JSON names.
	profileValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	// Profile ids appear in authorization resource paths.
	_ = profileValidate.RegisterValidation("profileid", func(fl validator.FieldLevel) bool {
		return profileIDPattern.MatchString(fl.Field().String())
	})
}

// ValidateProfile checks a profile before it is created.
func ValidateProfile(p *BillingProfile) error {
	if p == nil {
		return engine.NewValidationError("billing profile is required", nil).WithCode(ErrCodeMissingRequiredFields)
	}
	if err := profileValidate.Struct(p); err != nil {
		return validationError(err)
	}
	return nil
}

// ValidateUpdate checks an update request against the profile it modifies.
func ValidateUpdate(current *BillingProfile, req UpdateRequest) error {
	if req.IsEmpty() {
		return engine.NewValidationError("update request changes nothing", nil).WithCode(ErrCodeMissingRequiredFields)
	}
	if err := profileValidate.Struct(req); err != nil {
		return validationError(err)
	}
	if req.BillingAccountID != nil && current.CloudPlatform != CloudPlatformGCP {
		return engine.NewValidationError(
			fmt.Sprintf("billing account cannot be set on a %s profile", current.CloudPlatform), nil).
			WithCode(ErrCodeInvalidField).
			WithDetail("fields", []string{"billingAccountId"})
	}
	return nil
}

// validationError converts validator output into a coded validation error.
// Missing fields take precedence over malformed ones.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return engine.NewValidationError("invalid request", err).WithCode(ErrCodeInvalidField)
	}

	var missing, invalid []string
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required", "required_if":
			missing = append(missing, fe.Field())
		default:
			invalid = append(invalid, fe.Field())
		}
	}
	sort.Strings(missing)
	sort.Strings(invalid)

	if len(missing) > 0 {
		return engine.NewValidationError("missing required fields: "+strings.Join(missing, ", "), err).
			WithCode(ErrCodeMissingRequiredFields).
			WithDetail("fields", missing)
	}
	return engine.NewValidationError("invalid fields: "+strings.Join(invalid, ", "), err).
		WithCode(ErrCodeInvalidField).
		WithDetail("fields", invalid)
}
