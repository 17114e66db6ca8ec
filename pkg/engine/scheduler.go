package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/telemetry"
)

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// Workers is the number of concurrent flight drivers.
	Workers int

	// InstanceID identifies this executor as the owner of the flights it
	// drives. It must survive restarts; the default is the hostname.
	InstanceID string

	// OwnerLease is how long a flight owned by another instance may go
	// without a write before this executor reclaims it. It is raised to
	// at least twice StepTimeout plus the retry MaxInterval.
	OwnerLease time.Duration

	// StepTimeout bounds a single Do or Undo invocation.
	StepTimeout time.Duration

	// PollInterval is how often waiters re-read the store.
	PollInterval time.Duration

	// Retry is the default retry policy for steps reporting RETRY.
	Retry RetryPolicy

	// FailureCacheTTL is how long the in-memory failure cause of a flight is kept.
	FailureCacheTTL time.Duration

	Logger  zerolog.Logger
	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer
	Events  *telemetry.EventPublisher
}

// DefaultExecutorConfig returns a configuration suitable for a single process.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Workers:         4,
		StepTimeout:     2 * time.Minute,
		PollInterval:    500 * time.Millisecond,
		Retry:           DefaultRetryPolicy(),
		FailureCacheTTL: 30 * time.Minute,
		OwnerLease:      10 * time.Minute,
		Logger:          zerolog.Nop(),
	}
}

// Executor drives flights on a pool of workers. Each flight is driven by at
// most one worker at a time within a process; across processes the record
// version guards against concurrent drivers.
type Executor struct {
	cfg      ExecutorConfig
	store    FlightStore
	registry *Registry
	queue    Queue
	logger   zerolog.Logger

	// failures keeps the original error objects of failed flights so
	// in-process waiters can see the exact cause.
	failures *cache.Cache

	mu      sync.Mutex
	active  map[string]struct{}
	waiters map[string][]chan *FlightRecord

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started bool
}

// NewExecutor creates a new executor.
func NewExecutor(store FlightStore, registry *Registry, queue Queue, cfg ExecutorConfig) *Executor {
	def := DefaultExecutorConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = def.StepTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.FailureCacheTTL <= 0 {
		cfg.FailureCacheTTL = def.FailureCacheTTL
	}
	cfg.Retry = cfg.Retry.withDefaults()
	if cfg.OwnerLease <= 0 {
		cfg.OwnerLease = def.OwnerLease
	}
	if floor := 2 * (cfg.StepTimeout + cfg.Retry.MaxInterval); cfg.OwnerLease < floor {
		cfg.OwnerLease = floor
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = defaultInstanceID()
	}

	return &Executor{
		cfg:      cfg,
		store:    store,
		registry: registry,
		queue:    queue,
		logger:   cfg.Logger.With().Str("component", "executor").Str("instance", cfg.InstanceID).Logger(),
		failures: cache.New(cfg.FailureCacheTTL, 2*cfg.FailureCacheTTL),
		active:   make(map[string]struct{}),
		waiters:  make(map[string][]chan *FlightRecord),
	}
}

// defaultInstanceID is the hostname, so a restarted process on the same
// host resumes the flights it owned.
func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "bpm-local"
	}
	return host
}

// InstanceID returns the owner id this executor writes to flight records.
func (e *Executor) InstanceID() string {
	return e.cfg.InstanceID
}

// Registry returns the flight registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Store returns the flight store.
func (e *Executor) Store() FlightStore {
	return e.store
}

// Start launches the worker pool. Workers run until Stop is called or ctx is
// cancelled.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("executor already started")
	}

	workerCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.started = true

	for i := 0; i < e.cfg.Workers; i++ {
		e.wg.Add(1)
		go e.worker(workerCtx, i)
	}

	e.logger.Info().Int("workers", e.cfg.Workers).Msg("Executor started")
	return nil
}

// Stop signals the workers to stop and waits for them. A flight interrupted
// by Stop keeps its persisted state and is resumed by Recover.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info().Msg("Executor stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor shutdown timeout: %w", ctx.Err())
	}
}

// worker is a goroutine that drives flights pulled from the queue.
func (e *Executor) worker(ctx context.Context, id int) {
	defer e.wg.Done()

	logger := e.logger.With().Int("worker", id).Logger()

	for {
		jobID, err := e.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			logger.Error().Err(err).Msg("Failed to dequeue flight")
			select {
			case <-time.After(e.cfg.PollInterval):
			case <-ctx.Done():
				return
			}
			continue
		}

		e.updateQueueDepth(ctx)

		if !e.acquire(jobID) {
			logger.Debug().Str("job_id", jobID).Msg("Flight already active in this process")
			continue
		}

		err = e.drive(ctx, jobID)
		e.release(jobID)
		if err == nil {
			continue
		}
		logger.Error().Err(err).Str("job_id", jobID).Msg("Flight drive abandoned")
		if retryableDrive(err) && ctx.Err() == nil {
			e.requeueLater(ctx, jobID, e.cfg.Retry.InitialInterval)
		}
	}
}

// retryableDrive reports whether a drive that failed with err should be
// attempted again. The record still names this instance as owner.
func retryableDrive(err error) bool {
	return !errors.Is(err, errAbandoned) &&
		!errors.Is(err, ErrFlightNotFound) &&
		!errors.Is(err, ErrVersionConflict)
}

// requeueLater puts jobID back on the queue after delay.
func (e *Executor) requeueLater(ctx context.Context, jobID string, delay time.Duration) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if err := e.queue.Enqueue(ctx, jobID); err != nil && ctx.Err() == nil {
			e.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to re-queue flight")
		}
	}()
}

// claimable reports whether this executor may drive rec: it owns it, nobody
// does, or the owner has not written it within the lease.
func (e *Executor) claimable(rec *FlightRecord, now time.Time) bool {
	if rec.Owner == "" || rec.Owner == e.cfg.InstanceID {
		return true
	}
	return now.Sub(rec.UpdatedAt) > e.cfg.OwnerLease
}

func (e *Executor) acquire(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[jobID]; ok {
		return false
	}
	e.active[jobID] = struct{}{}
	return true
}

func (e *Executor) release(jobID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, jobID)
}

func (e *Executor) updateQueueDepth(ctx context.Context) {
	if e.cfg.Metrics == nil {
		return
	}
	if n, err := e.queue.Len(ctx); err == nil {
		e.cfg.Metrics.SetQueueDepth(n)
	}
}

// Submit persists a new flight in the QUEUED state and enqueues it. The
// flight type must be registered and its factory must accept the input.
func (e *Executor) Submit(ctx context.Context, rec *FlightRecord) error {
	if rec == nil {
		return NewValidationError("flight record is nil", nil)
	}
	if rec.JobID == "" {
		return NewValidationError("job id is required", nil)
	}
	if _, err := e.registry.Build(rec.FlightType, rec.Input); err != nil {
		var fe *FlightError
		if errors.As(err, &fe) {
			return err
		}
		return NewValidationError(fmt.Sprintf("failed to build flight %s", rec.FlightType), err).
			WithCode(ErrCodeFlightBuild).WithJob(rec.JobID)
	}

	now := time.Now().UTC()
	if rec.Input == nil {
		rec.Input = NewFlightMap()
	}
	if rec.Working == nil {
		rec.Working = NewFlightMap()
	}
	rec.Status = StatusQueued
	rec.Direction = DirectionDo
	rec.Cursor = 0
	rec.Version = 0
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := e.store.CreateFlight(ctx, rec); err != nil {
		if errors.Is(err, ErrFlightExists) {
			return NewValidationError(fmt.Sprintf("job id already exists: %s", rec.JobID), err).
				WithCode(ErrCodeDuplicateJob).WithJob(rec.JobID)
		}
		return fmt.Errorf("failed to save flight: %w", err)
	}

	e.cfg.Metrics.RecordFlightSubmitted(rec.FlightType)
	e.publish(e.cfg.Events.PublishFlightSubmitted(rec.JobID, rec.FlightType, rec.SubmittedBy))
	e.logger.Info().
		Str("job_id", rec.JobID).
		Str("flight_type", rec.FlightType).
		Str("submitted_by", rec.SubmittedBy).
		Msg("Flight submitted")

	if err := e.queue.Enqueue(ctx, rec.JobID); err != nil {
		return fmt.Errorf("failed to enqueue flight: %w", err)
	}
	e.updateQueueDepth(ctx)
	return nil
}

// Recover re-queues every non-terminal flight owned by this instance, by
// nobody, or by an instance whose lease has expired. It returns the number
// of flights queued.
func (e *Executor) Recover(ctx context.Context) (int, error) {
	recs, err := e.store.ListFlights(ctx, FlightFilter{Statuses: ActiveStatuses()}, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list active flights: %w", err)
	}

	queued := 0
	now := time.Now().UTC()
	for _, rec := range recs {
		if !e.claimable(rec, now) {
			e.logger.Debug().
				Str("job_id", rec.JobID).
				Str("owner", rec.Owner).
				Msg("Skipping flight owned by another instance")
			continue
		}
		if err := e.queue.Enqueue(ctx, rec.JobID); err != nil {
			return queued, fmt.Errorf("failed to enqueue flight %s: %w", rec.JobID, err)
		}
		queued++
	}

	e.logger.Info().Int("flights", queued).Msg("Recovered flights")
	return queued, nil
}

// Wait blocks until the flight reaches a terminal state and returns its
// final record.
func (e *Executor) Wait(ctx context.Context, jobID string) (*FlightRecord, error) {
	ch := e.subscribe(jobID)
	defer e.unsubscribe(jobID, ch)

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rec, err := e.store.GetFlight(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if rec.Status.IsTerminal() {
			return rec, nil
		}

		select {
		case final := <-ch:
			return final, nil
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// FailureCause returns the original error that failed a flight, or nil if
// this process did not drive it or the cause has expired.
func (e *Executor) FailureCause(jobID string) error {
	v, ok := e.failures.Get(jobID)
	if !ok {
		return nil
	}
	err, _ := v.(error)
	return err
}

func (e *Executor) subscribe(jobID string) chan *FlightRecord {
	ch := make(chan *FlightRecord, 1)
	e.mu.Lock()
	e.waiters[jobID] = append(e.waiters[jobID], ch)
	e.mu.Unlock()
	return ch
}

func (e *Executor) unsubscribe(jobID string, ch chan *FlightRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.waiters[jobID]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(e.waiters, jobID)
	} else {
		e.waiters[jobID] = list
	}
}

func (e *Executor) notify(rec *FlightRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ch := range e.waiters[rec.JobID] {
		select {
		case ch <- rec:
		default:
		}
	}
}

// publish logs event publication failures without failing the flight.
func (e *Executor) publish(err error) {
	if err != nil {
		e.logger.Debug().Err(err).Msg("Failed to publish event")
	}
}
