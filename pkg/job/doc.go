// Package job is the caller-facing facade over the flight engine.
//
// A job is a flight submitted through a Builder. The builder collects the
// flight type, an optional caller-supplied job id, the request payload and
// the authenticated user, then persists the flight and hands it to the
// executor:
//
//	var created profile.BillingProfile
//	err := jobs.NewJob().
//		FlightType("CreateProfileFlight").
//		JobID(id).
//		Request(req).
//		UserRequest(user).
//		SubmitAndWait(ctx, &created)
//
// Submit returns as soon as the flight is queued. Results of finished jobs
// are read back with RetrieveJobResult; failures surface the error that
// failed the flight, matched with errors.Is against the domain sentinels.
package job
