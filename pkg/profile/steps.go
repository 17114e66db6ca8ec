package profile

import (
	"fmt"

	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/job"
)

func userOf(fc *engine.FlightContext) (AuthenticatedUser, error) {
	var user AuthenticatedUser
	if err := mustGet(fc.Input, job.KeyAuthUserInfo, &user); err != nil {
		return user, err
	}
	return user, nil
}

// requestTarget returns the id of the profile a flight operates on and the
// calling user.
func requestTarget(fc *engine.FlightContext) (string, AuthenticatedUser, error) {
	user, err := userOf(fc)
	if err != nil {
		return "", user, err
	}
	profileID := fc.Input.GetString(KeyProfileID)
	if profileID == "" {
		return "", user, fmt.Errorf("missing %s parameter", KeyProfileID)
	}
	return profileID, user, nil
}

// inputError fails a step whose flight parameters cannot be read. Retrying
// would not change the input.
func inputError(err error) engine.StepResult {
	return engine.Fatal(engine.NewFatalError("invalid flight parameters", err))
}

func putResponse(fc *engine.FlightContext, response any, statusCode int) error {
	if err := fc.Working.Put(job.KeyResponse, response); err != nil {
		return err
	}
	return fc.Working.Put(job.KeyStatusCode, statusCode)
}
