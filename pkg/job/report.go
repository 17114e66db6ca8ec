package job

import (
	"time"

	"github.com/bpmanager/bpmanager/pkg/engine"
)

// Report summarizes a job for listings and status queries.
type Report struct {
	JobID       string              `json:"job_id" yaml:"job_id"`
	FlightType  string              `json:"flight_type" yaml:"flight_type"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	SubmittedBy string              `json:"submitted_by,omitempty" yaml:"submitted_by,omitempty"`
	Status      engine.FlightStatus `json:"status" yaml:"status"`
	StatusCode  int                 `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	Attempts    int                 `json:"attempts" yaml:"attempts"`
	Error       string              `json:"error,omitempty" yaml:"error,omitempty"`
	UndoErrors  []string            `json:"undo_errors,omitempty" yaml:"undo_errors,omitempty"`
	Submitted   time.Time           `json:"submitted" yaml:"submitted"`
	Completed   *time.Time          `json:"completed,omitempty" yaml:"completed,omitempty"`
	Duration    time.Duration       `json:"duration" yaml:"duration"`
}

func newReport(rec *engine.FlightRecord) *Report {
	r := &Report{
		JobID:       rec.JobID,
		FlightType:  rec.FlightType,
		Description: rec.Description,
		SubmittedBy: rec.SubmittedBy,
		Status:      rec.Status,
		StatusCode:  rec.StatusCode,
		Attempts:    rec.Attempts,
		Submitted:   rec.CreatedAt,
		Completed:   rec.CompletedAt,
		Duration:    rec.Duration(),
	}
	if rec.LastError != nil {
		r.Error = rec.LastError.Err().Error()
	}
	for i := range rec.UndoErrors {
		r.UndoErrors = append(r.UndoErrors, rec.UndoErrors[i].Err().Error())
	}
	return r
}

// Filter narrows EnumerateJobs.
type Filter struct {
	Statuses    []engine.FlightStatus
	FlightType  string
	SubmittedBy string
}

func (f Filter) flightFilter() engine.FlightFilter {
	return engine.FlightFilter{
		Statuses:    f.Statuses,
		FlightType:  f.FlightType,
		SubmittedBy: f.SubmittedBy,
	}
}
