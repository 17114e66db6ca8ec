package job

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/telemetry"
)

// Input parameter keys written by the builder.
const (
	KeyDescription  = "description"
	KeyRequest      = "request"
	KeyAuthUserInfo = "authUserInfo"
	KeySubjectID    = "subjectId"

	// KeyCloudPlatform is set by callers whose flights branch on platform.
	KeyCloudPlatform = "cloudPlatform"

	KeyResponse   = engine.ResponseKey
	KeyStatusCode = engine.StatusCodeKey
)

// User is the authenticated caller of a job.
type User interface {
	Subject() string
}

// Builder describes a job before it is submitted. Errors are sticky: the
// first invalid call is reported by Submit or SubmitAndWait.
type Builder struct {
	service     *Service
	flightType  string
	jobID       string
	description string
	request     any
	user        User
	params      engine.FlightMap
	err         error
}

// FlightType sets the registered flight type to run.
func (b *Builder) FlightType(flightType string) *Builder {
	b.flightType = flightType
	return b
}

// JobID sets a caller-supplied job id. A whitespace-only id is rejected.
func (b *Builder) JobID(jobID string) *Builder {
	if jobID != "" && strings.TrimSpace(jobID) == "" {
		b.fail(engine.NewValidationError("job id cannot be whitespace-only", nil).WithCode(ErrCodeInvalidJobID))
		return b
	}
	b.jobID = jobID
	return b
}

// Description sets a human-readable description of the job.
func (b *Builder) Description(description string) *Builder {
	b.description = description
	return b
}

// Request sets the request payload, stored under KeyRequest.
func (b *Builder) Request(request any) *Builder {
	b.request = request
	return b
}

// UserRequest sets the authenticated caller, stored under KeyAuthUserInfo
// and KeySubjectID.
func (b *Builder) UserRequest(user User) *Builder {
	b.user = user
	return b
}

// AddParameter sets an input parameter. Setting the same key twice keeps
// the last value.
func (b *Builder) AddParameter(key string, value any) *Builder {
	if strings.TrimSpace(key) == "" {
		b.fail(engine.NewValidationError("parameter name cannot be blank", nil).WithCode(ErrCodeInvalidJobParameter))
		return b
	}
	if err := b.params.Put(key, value); err != nil {
		b.fail(engine.NewValidationError(fmt.Sprintf("parameter %s cannot be encoded", key), err).WithCode(ErrCodeInvalidJobParameter))
	}
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Submit submits the job and returns its id without waiting.
func (b *Builder) Submit(ctx context.Context) (string, error) {
	rec, err := b.build(ctx)
	if err != nil {
		return "", err
	}
	if err := b.service.submit(ctx, rec); err != nil {
		return "", err
	}
	return rec.JobID, nil
}

// SubmitAndWait submits the job and blocks until it finishes. On success the
// flight's response is decoded into out, which may be nil. On failure the
// error that failed the flight is returned.
func (b *Builder) SubmitAndWait(ctx context.Context, out any) error {
	rec, err := b.build(ctx)
	if err != nil {
		return err
	}
	if err := b.service.submit(ctx, rec); err != nil {
		return err
	}
	return b.service.waitForResult(ctx, rec.JobID, out)
}

// build validates the builder and finalizes the input parameters.
func (b *Builder) build(ctx context.Context) (*engine.FlightRecord, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.flightType == "" {
		return nil, engine.NewValidationError("missing flight type", nil).WithCode(ErrCodeMissingRequiredField)
	}
	if b.jobID == "" {
		b.jobID = uuid.NewString()
	}

	b.AddParameter(engine.SubmissionSpanContextKey, telemetry.InjectTraceContext(ctx))

	// Parameters added explicitly take precedence.
	if b.description != "" && !b.params.Has(KeyDescription) {
		b.AddParameter(KeyDescription, b.description)
	}
	if b.request != nil && !b.params.Has(KeyRequest) {
		b.AddParameter(KeyRequest, b.request)
	}
	if b.user != nil && !b.params.Has(KeyAuthUserInfo) {
		b.AddParameter(KeyAuthUserInfo, b.user)
		b.AddParameter(KeySubjectID, b.user.Subject())
	}
	if b.err != nil {
		return nil, b.err
	}

	return &engine.FlightRecord{
		JobID:       b.jobID,
		FlightType:  b.flightType,
		Description: b.params.GetString(KeyDescription),
		SubmittedBy: b.params.GetString(KeySubjectID),
		Input:       b.params,
	}, nil
}
