package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bpmanager/bpmanager/pkg/clients/azure"
	"github.com/bpmanager/bpmanager/pkg/clients/gcp"
	"github.com/bpmanager/bpmanager/pkg/clients/rest"
	"github.com/bpmanager/bpmanager/pkg/clients/sam"
	"github.com/bpmanager/bpmanager/pkg/config"
	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/job"
	"github.com/bpmanager/bpmanager/pkg/policy"
	"github.com/bpmanager/bpmanager/pkg/profile"
	"github.com/bpmanager/bpmanager/pkg/queue"
	"github.com/bpmanager/bpmanager/pkg/stores"
	"github.com/bpmanager/bpmanager/pkg/telemetry"
)

// app holds the wired services for one command invocation.
type app struct {
	cfg       *config.Config
	logger    zerolog.Logger
	telemetry *telemetry.Telemetry

	store    *stores.SQLiteStore
	queue    engine.Queue
	executor *engine.Executor
	jobs     *job.Service

	policyEngine *policy.Engine
	policies     *policy.Service
	profiles     *profile.Service
}

// newApp opens the store, runs migrations and wires the services. The
// executor is not started.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger.Zerolog()

	a := &app{cfg: cfg, logger: logger, telemetry: tel}

	store, err := stores.NewSQLiteStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	a.store = store

	if err := store.Migrate(ctx); err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	if err := a.wire(ctx); err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	tel := a.telemetry

	q, err := newQueue(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	a.queue = q

	a.policyEngine, err = policy.NewEngine(cfg.Policy, a.logger)
	if err != nil {
		return err
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := a.policyEngine.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return fmt.Errorf("failed to load policies: %w", err)
		}
	}
	a.policies = policy.NewService(a.policyEngine, a.store, tel.Metrics, tel.Events, a.logger)

	clientOpts := []rest.Option{rest.WithTelemetry(tel.Tracer, tel.Metrics)}
	deps := profile.Dependencies{
		Store:    a.store,
		Authz:    sam.New(cfg.Sam, a.logger, clientOpts...),
		Policies: a.policies,
		Verifiers: map[profile.CloudPlatform]profile.CloudAccessVerifier{
			profile.CloudPlatformGCP:   gcp.NewBillingVerifier(cfg.GCP.Rest(), a.logger, clientOpts...),
			profile.CloudPlatformAzure: azure.NewAppVerifier(cfg.Azure, a.logger, clientOpts...),
		},
		Logger: a.logger,
	}

	registry := engine.NewRegistry()
	if err := profile.RegisterFlights(registry, deps); err != nil {
		return fmt.Errorf("failed to register flights: %w", err)
	}

	execCfg := cfg.Engine.Executor()
	execCfg.Logger = a.logger
	execCfg.Metrics = tel.Metrics
	execCfg.Tracer = tel.Tracer
	execCfg.Events = tel.Events
	a.executor = engine.NewExecutor(a.store, registry, a.queue, execCfg)

	a.jobs = job.NewService(a.executor, tel.Tracer, cfg.Engine.Jobs(), a.logger)
	a.profiles = profile.NewService(a.jobs, deps, cfg.Enterprise, tel.Metrics)
	return nil
}

func newQueue(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (engine.Queue, error) {
	switch cfg.Queue.Backend {
	case config.QueueBackendRedis:
		return queue.NewRedisQueue(ctx, cfg.Queue.Redis, logger)
	default:
		return engine.NewChannelQueue(cfg.Engine.QueueSize), nil
	}
}

// start runs the executor for commands that submit flights.
func (a *app) start(ctx context.Context) error {
	return a.executor.Start(ctx)
}

// close stops the executor if running and releases everything newApp opened.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.executor != nil {
		if err := a.executor.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
