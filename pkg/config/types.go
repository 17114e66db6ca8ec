package config

import (
	"time"

	"github.com/bpmanager/bpmanager/pkg/clients/azure"
	"github.com/bpmanager/bpmanager/pkg/clients/gcp"
	"github.com/bpmanager/bpmanager/pkg/clients/rest"
	"github.com/bpmanager/bpmanager/pkg/engine"
	"github.com/bpmanager/bpmanager/pkg/job"
	"github.com/bpmanager/bpmanager/pkg/policy"
	"github.com/bpmanager/bpmanager/pkg/profile"
	"github.com/bpmanager/bpmanager/pkg/queue"
	"github.com/bpmanager/bpmanager/pkg/stores"
	"github.com/bpmanager/bpmanager/pkg/telemetry"
)

// Queue backends.
const (
	QueueBackendMemory = "memory"
	QueueBackendRedis  = "redis"
)

// Config is the complete bpm configuration.
type Config struct {
	// Database configures the SQLite store holding flights, profiles and PAOs.
	Database stores.Config `mapstructure:"database" yaml:"database"`

	// Engine configures the flight executor.
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`

	// Queue selects where queued job ids live.
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`

	// Sam configures the authorization service client.
	Sam rest.Config `mapstructure:"sam" yaml:"sam"`

	GCP   GCPConfig    `mapstructure:"gcp" yaml:"gcp"`
	Azure azure.Config `mapstructure:"azure" yaml:"azure"`

	// Enterprise lists the subscriptions whose profiles belong to an
	// enterprise organization.
	Enterprise profile.ServiceConfig `mapstructure:"enterprise" yaml:"enterprise"`

	Policy    policy.Config    `mapstructure:"policy" yaml:"policy"`
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry"`
}

// EngineConfig configures the flight executor and the job facade.
type EngineConfig struct {
	Workers    int    `mapstructure:"workers" yaml:"workers" validate:"gte=1"`
	QueueSize  int    `mapstructure:"queue_size" yaml:"queue_size" validate:"gte=1"`
	InstanceID string `mapstructure:"instance_id" yaml:"instance_id"`

	StepTimeout     time.Duration `mapstructure:"step_timeout" yaml:"step_timeout" validate:"gte=0"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gte=0"`
	WaitTimeout     time.Duration `mapstructure:"wait_timeout" yaml:"wait_timeout" validate:"gte=0"`
	FailureCacheTTL time.Duration `mapstructure:"failure_cache_ttl" yaml:"failure_cache_ttl" validate:"gte=0"`
	OwnerLease      time.Duration `mapstructure:"owner_lease" yaml:"owner_lease" validate:"gte=0"`

	Retry engine.RetryPolicy `mapstructure:",squash" yaml:",inline"`
}

// Executor converts the section into an executor configuration. The caller
// attaches logger and telemetry.
func (c EngineConfig) Executor() engine.ExecutorConfig {
	cfg := engine.DefaultExecutorConfig()
	cfg.Workers = c.Workers
	cfg.InstanceID = c.InstanceID
	if c.StepTimeout > 0 {
		cfg.StepTimeout = c.StepTimeout
	}
	if c.PollInterval > 0 {
		cfg.PollInterval = c.PollInterval
	}
	if c.FailureCacheTTL > 0 {
		cfg.FailureCacheTTL = c.FailureCacheTTL
	}
	if c.OwnerLease > 0 {
		cfg.OwnerLease = c.OwnerLease
	}
	cfg.Retry = c.Retry
	return cfg
}

// Jobs returns the job facade configuration.
func (c EngineConfig) Jobs() job.Config {
	return job.Config{WaitTimeout: c.WaitTimeout}
}

// QueueConfig selects the work queue backend.
type QueueConfig struct {
	Backend string       `mapstructure:"backend" yaml:"backend" validate:"oneof=memory redis"`
	Redis   queue.Config `mapstructure:"redis" yaml:"redis"`
}

// GCPConfig configures the Cloud Billing client.
type GCPConfig struct {
	BillingBaseURL string        `mapstructure:"billing_base_url" yaml:"billing_base_url" validate:"omitempty,url"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
}

// Rest returns the client configuration for the billing verifier.
func (c GCPConfig) Rest() rest.Config {
	return rest.Config{BaseURL: c.BillingBaseURL, Timeout: c.Timeout, RateLimit: c.RateLimit}
}

// Default returns the configuration used when no file or environment
// override is given.
func Default() *Config {
	exec := engine.DefaultExecutorConfig()
	return &Config{
		Database: stores.Config{
			Path:            "bpm.db",
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: time.Hour,
		},
		Engine: EngineConfig{
			Workers:         exec.Workers,
			QueueSize:       100,
			StepTimeout:     exec.StepTimeout,
			PollInterval:    exec.PollInterval,
			WaitTimeout:     5 * time.Minute,
			FailureCacheTTL: exec.FailureCacheTTL,
			OwnerLease:      exec.OwnerLease,
			Retry:           engine.DefaultRetryPolicy(),
		},
		Queue: QueueConfig{
			Backend: QueueBackendMemory,
			Redis: queue.Config{
				Addr:         "localhost:6379",
				Key:          queue.DefaultKey,
				BlockTimeout: time.Second,
			},
		},
		Sam: rest.Config{
			BaseURL:   "http://localhost:8080",
			Timeout:   rest.DefaultTimeout,
			RateLimit: 50,
			Burst:     10,
		},
		GCP: GCPConfig{
			BillingBaseURL: gcp.DefaultBaseURL,
			Timeout:        rest.DefaultTimeout,
		},
		Azure: azure.Config{
			ManagementBaseURL: azure.DefaultBaseURL,
			Timeout:           rest.DefaultTimeout,
			RequiredProviders: []string{"Microsoft.Compute", "Microsoft.Storage", "Microsoft.Network"},
			Offers: []azure.Offer{
				{Name: "terra-prod", Publisher: "thebroadinstituteinc1615909626976", AuthorizedUserKey: "authorizedTerraUser"},
			},
			ProviderCacheTTL: 5 * time.Minute,
		},
		Enterprise: profile.ServiceConfig{EnterpriseSubscriptions: []string{}},
		Policy: policy.Config{
			Paths:          []string{},
			AllowedRegions: []string{},
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}
