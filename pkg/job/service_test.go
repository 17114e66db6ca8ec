package job_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/job"
	"github.com/bpmanager/bpmanager/pkg/stores"
)

var errWidgetMissing = engine.Sentinel(engine.ErrorKindFatal, "WIDGET_MISSING", "widget missing")

type testUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (u testUser) Subject() string { return u.ID }

type echoRequest struct {
	Name string `json:"name"`
}

type echoResponse struct {
	Greeting string `json:"greeting"`
	Subject  string `json:"subject"`
}

// echoStep copies the request into the response.
type echoStep struct{}

func (echoStep) Do(_ context.Context, fc *engine.FlightContext) engine.StepResult {
	var req echoRequest
	if _, err := fc.Input.Get(job.KeyRequest, &req); err != nil {
		return engine.Fatal(err)
	}
	resp := echoResponse{Greeting: "hello " + req.Name, Subject: fc.Input.GetString(job.KeySubjectID)}
	if err := fc.Working.Put(job.KeyResponse, resp); err != nil {
		return engine.Fatal(err)
	}
	if err := fc.Working.Put(job.KeyStatusCode, 201); err != nil {
		return engine.Fatal(err)
	}
	return engine.Success()
}

func (echoStep) Undo(context.Context, *engine.FlightContext) engine.StepResult {
	return engine.Success()
}

type failStep struct{}

func (failStep) Do(context.Context, *engine.FlightContext) engine.StepResult {
	return engine.Fatal(errWidgetMissing)
}

func (failStep) Undo(context.Context, *engine.FlightContext) engine.StepResult {
	return engine.Success()
}

// gateStep blocks until its gate is closed.
type gateStep struct {
	gate <-chan struct{}
}

func (s gateStep) Do(ctx context.Context, _ *engine.FlightContext) engine.StepResult {
	select {
	case <-s.gate:
		return engine.Success()
	case <-ctx.Done():
		return engine.Retry(ctx.Err())
	}
}

func (gateStep) Undo(context.Context, *engine.FlightContext) engine.StepResult {
	return engine.Success()
}

type testEnv struct {
	jobs  *job.Service
	store *stores.SQLiteStore
	gate  chan struct{}
}

func setupTestStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	t.Cleanup(func() { store.Close() })
	return store
}

func setupTestService(t *testing.T, cfg job.Config) *testEnv {
	t.Helper()

	store := setupTestStore(t)
	gate := make(chan struct{})
	var closeGate sync.Once

	registry := engine.NewRegistry()
	registry.MustRegister("EchoFlight", func(engine.FlightMap) ([]engine.Step, error) {
		return []engine.Step{echoStep{}}, nil
	})
	registry.MustRegister("FailFlight", func(engine.FlightMap) ([]engine.Step, error) {
		return []engine.Step{echoStep{}, failStep{}}, nil
	})
	registry.MustRegister("GateFlight", func(engine.FlightMap) ([]engine.Step, error) {
		return []engine.Step{gateStep{gate: gate}}, nil
	})

	queue := engine.NewChannelQueue(16)
	executor := engine.NewExecutor(store, registry, queue, engine.ExecutorConfig{
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
		Retry:        engine.RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond},
		Logger:       zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := executor.Start(ctx); err != nil {
		t.Fatalf("Failed to start executor: %v", err)
	}
	t.Cleanup(func() {
		closeGate.Do(func() { close(gate) })
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = executor.Stop(stopCtx)
		cancel()
		queue.Close()
	})

	return &testEnv{
		jobs:  job.NewService(executor, nil, cfg, zerolog.Nop()),
		store: store,
		gate:  gate,
	}
}

func TestSubmitAndWait_Success(t *testing.T) {
	env := setupTestService(t, job.Config{WaitTimeout: 5 * time.Second})
	ctx := context.Background()

	var resp echoResponse
	err := env.jobs.NewJob().
		FlightType("EchoFlight").
		JobID("job-echo").
		Description("say hello").
		Request(echoRequest{Name: "world"}).
		UserRequest(testUser{ID: "subject-1", Email: "user@example.com"}).
		SubmitAndWait(ctx, &resp)
	if err != nil {
		t.Fatalf("SubmitAndWait failed: %v", err)
	}
	if resp.Greeting != "hello world" {
		t.Errorf("Expected greeting 'hello world', got %q", resp.Greeting)
	}
	if resp.Subject != "subject-1" {
		t.Errorf("Expected subject 'subject-1', got %q", resp.Subject)
	}

	result, err := env.jobs.RetrieveJobResult(ctx, "job-echo")
	if err != nil {
		t.Fatalf("RetrieveJobResult failed: %v", err)
	}
	if result.Status != engine.StatusSucceeded {
		t.Errorf("Expected status SUCCEEDED, got %s", result.Status)
	}
	if result.StatusCode != 201 {
		t.Errorf("Expected status code 201, got %d", result.StatusCode)
	}

	report, err := env.jobs.RetrieveJob(ctx, "job-echo")
	if err != nil {
		t.Fatalf("RetrieveJob failed: %v", err)
	}
	if report.Description != "say hello" {
		t.Errorf("Expected description 'say hello', got %q", report.Description)
	}
	if report.SubmittedBy != "subject-1" {
		t.Errorf("Expected submitted_by 'subject-1', got %q", report.SubmittedBy)
	}
	if report.Completed == nil {
		t.Error("Expected completion time to be set")
	}
}

func TestSubmitAndWait_Failure(t *testing.T) {
	env := setupTestService(t, job.Config{WaitTimeout: 5 * time.Second})
	ctx := context.Background()

	err := env.jobs.NewJob().
		FlightType("FailFlight").
		JobID("job-fail").
		Request(echoRequest{Name: "world"}).
		SubmitAndWait(ctx, nil)
	if err == nil {
		t.Fatal("Expected flight failure")
	}
	if !errors.Is(err, errWidgetMissing) {
		t.Errorf("Expected WIDGET_MISSING, got %v", err)
	}

	result, err := env.jobs.RetrieveJobResult(ctx, "job-fail")
	if err != nil {
		t.Fatalf("RetrieveJobResult failed: %v", err)
	}
	if result.Status != engine.StatusFailed {
		t.Errorf("Expected status FAILED, got %s", result.Status)
	}
	if !errors.Is(result.Err, errWidgetMissing) {
		t.Errorf("Expected result error WIDGET_MISSING, got %v", result.Err)
	}

	report, err := env.jobs.RetrieveJob(ctx, "job-fail")
	if err != nil {
		t.Fatalf("RetrieveJob failed: %v", err)
	}
	if report.Error == "" {
		t.Error("Expected report to carry the failure")
	}
}

func TestSubmit_Validation(t *testing.T) {
	env := setupTestService(t, job.Config{})
	ctx := context.Background()

	tests := []struct {
		name    string
		builder func() *job.Builder
		wantErr error
	}{
		{
			name:    "missing flight type",
			builder: func() *job.Builder { return env.jobs.NewJob() },
			wantErr: job.ErrMissingRequiredField,
		},
		{
			name:    "whitespace job id",
			builder: func() *job.Builder { return env.jobs.NewJob().FlightType("EchoFlight").JobID("   ") },
			wantErr: job.ErrInvalidJobID,
		},
		{
			name: "blank parameter name",
			builder: func() *job.Builder {
				return env.jobs.NewJob().FlightType("EchoFlight").AddParameter(" ", "x")
			},
			wantErr: job.ErrInvalidJobParameter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder().Submit(ctx)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if !engine.IsValidation(err) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}
}

func TestSubmit_DuplicateJobID(t *testing.T) {
	env := setupTestService(t, job.Config{WaitTimeout: 5 * time.Second})
	ctx := context.Background()

	build := func() *job.Builder {
		return env.jobs.NewJob().FlightType("EchoFlight").JobID("job-dup").Request(echoRequest{Name: "a"})
	}
	if err := build().SubmitAndWait(ctx, nil); err != nil {
		t.Fatalf("First submit failed: %v", err)
	}

	_, err := build().Submit(ctx)
	if engine.CodeOf(err) != engine.ErrCodeDuplicateJob {
		t.Errorf("Expected DUPLICATE_JOB, got %v", err)
	}
}

func TestSubmit_GeneratesJobID(t *testing.T) {
	env := setupTestService(t, job.Config{})

	jobID, err := env.jobs.NewJob().FlightType("EchoFlight").Request(echoRequest{Name: "a"}).Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if jobID == "" {
		t.Error("Expected a generated job id")
	}
}

func TestSubmitAndWait_Timeout(t *testing.T) {
	env := setupTestService(t, job.Config{WaitTimeout: 50 * time.Millisecond})
	ctx := context.Background()

	err := env.jobs.NewJob().FlightType("GateFlight").JobID("job-gate").SubmitAndWait(ctx, nil)
	if !errors.Is(err, job.ErrJobTimeout) {
		t.Fatalf("Expected ErrJobTimeout, got %v", err)
	}

	_, err = env.jobs.RetrieveJobResult(ctx, "job-gate")
	if !errors.Is(err, job.ErrJobNotComplete) {
		t.Errorf("Expected ErrJobNotComplete, got %v", err)
	}
}

func TestRetrieveJobResult_NotFound(t *testing.T) {
	env := setupTestService(t, job.Config{})

	_, err := env.jobs.RetrieveJobResult(context.Background(), "missing")
	if !errors.Is(err, job.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}

	_, err = env.jobs.RetrieveJob(context.Background(), "missing")
	if !errors.Is(err, job.ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}
}

func TestEnumerateJobsAndCleanup(t *testing.T) {
	env := setupTestService(t, job.Config{WaitTimeout: 5 * time.Second})
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2"} {
		err := env.jobs.NewJob().
			FlightType("EchoFlight").
			JobID(id).
			Request(echoRequest{Name: id}).
			UserRequest(testUser{ID: "subject-1"}).
			SubmitAndWait(ctx, nil)
		if err != nil {
			t.Fatalf("SubmitAndWait %s failed: %v", id, err)
		}
	}
	if err := env.jobs.NewJob().FlightType("FailFlight").JobID("job-3").SubmitAndWait(ctx, nil); err == nil {
		t.Fatal("Expected job-3 to fail")
	}

	all, err := env.jobs.EnumerateJobs(ctx, 0, 0, job.Filter{})
	if err != nil {
		t.Fatalf("EnumerateJobs failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 jobs, got %d", len(all))
	}

	mine, err := env.jobs.EnumerateJobs(ctx, 0, 0, job.Filter{SubmittedBy: "subject-1"})
	if err != nil {
		t.Fatalf("EnumerateJobs failed: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("Expected 2 jobs for subject-1, got %d", len(mine))
	}

	failed, err := env.jobs.EnumerateJobs(ctx, 0, 0, job.Filter{Statuses: []engine.FlightStatus{engine.StatusFailed}})
	if err != nil {
		t.Fatalf("EnumerateJobs failed: %v", err)
	}
	if len(failed) != 1 || failed[0].JobID != "job-3" {
		t.Errorf("Expected only job-3 to be failed, got %+v", failed)
	}

	page, err := env.jobs.EnumerateJobs(ctx, 1, 1, job.Filter{})
	if err != nil {
		t.Fatalf("EnumerateJobs failed: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("Expected a page of 1, got %d", len(page))
	}

	if _, err := env.jobs.EnumerateJobs(ctx, -1, 0, job.Filter{}); !engine.IsValidation(err) {
		t.Errorf("Expected validation error for negative offset, got %v", err)
	}

	// Nothing is old enough yet.
	n, err := env.jobs.Cleanup(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 jobs cleaned up, got %d", n)
	}

	n, err = env.jobs.Cleanup(ctx, 0)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 jobs cleaned up, got %d", n)
	}
}
