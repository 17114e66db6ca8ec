package telemetry

import (
	"fmt"
	"slices"
	"time"
)

// Config is the telemetry section of the bpm configuration.
type Config struct {
	ServiceName    string `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string `mapstructure:"service_version" yaml:"service_version"`
	Environment    string `mapstructure:"environment" yaml:"environment"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Events  EventsConfig  `mapstructure:"events" yaml:"events"`
}

// LoggingConfig selects the level, format and destination of the log.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error, fatal.
	Level string `mapstructure:"level" yaml:"level"`

	// Format is console or json.
	Format string `mapstructure:"format" yaml:"format"`

	// Output is stdout, stderr or a file path.
	Output string `mapstructure:"output" yaml:"output"`

	// Caller adds file:line to every entry.
	Caller bool `mapstructure:"caller" yaml:"caller"`

	// SampleEvery keeps one entry in N when greater than 1. Flight drives
	// log every step attempt, so busy instances can thin the log.
	SampleEvery int `mapstructure:"sample_every" yaml:"sample_every"`
}

// TracingConfig controls span export. Trace context propagation into
// flight parameters works even when tracing is disabled.
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Exporter is otlp, stdout or none.
	Exporter string `mapstructure:"exporter" yaml:"exporter"`

	// Endpoint is the OTLP gRPC collector, e.g. localhost:4317.
	Endpoint string            `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure bool              `mapstructure:"insecure" yaml:"insecure"`
	Headers  map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`

	SamplingRate  float64       `mapstructure:"sampling_rate" yaml:"sampling_rate"`
	BatchSize     int           `mapstructure:"batch_size" yaml:"batch_size"`
	ExportTimeout time.Duration `mapstructure:"export_timeout" yaml:"export_timeout"`
}

// MetricsConfig controls the Prometheus listener shared with /status.
type MetricsConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address"`
	Path          string `mapstructure:"path" yaml:"path"`
	Namespace     string `mapstructure:"namespace" yaml:"namespace"`

	// DurationBuckets are the histogram buckets, in seconds, for step,
	// flight and client call durations.
	DurationBuckets []float64 `mapstructure:"duration_buckets" yaml:"duration_buckets,omitempty"`
}

// EventsConfig controls the in-process flight event bus.
type EventsConfig struct {
	Enabled     bool `mapstructure:"enabled" yaml:"enabled"`
	EnableAsync bool `mapstructure:"enable_async" yaml:"enable_async"`
	BufferSize  int  `mapstructure:"buffer_size" yaml:"buffer_size"`
}

var (
	logLevels    = []string{"trace", "debug", "info", "warn", "error", "fatal"}
	logFormats   = []string{"console", "json"}
	traceExports = []string{"otlp", "stdout", "none"}
)

// DefaultConfig returns the settings used when the config file is silent:
// console logs on stderr, metrics on :9090, tracing off.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "bpm",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			Insecure:      true,
			SamplingRate:  1.0,
			BatchSize:     512,
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			ListenAddress:   ":9090",
			Path:            "/metrics",
			Namespace:       "bpm",
			DurationBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		},
		Events: EventsConfig{
			Enabled:     true,
			EnableAsync: true,
			BufferSize:  1000,
		},
	}
}

// ProductionConfig is DefaultConfig with JSON logs and sampled OTLP export.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Insecure = false
	cfg.Tracing.SamplingRate = 0.1
	return cfg
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.ServiceName == "":
		return fmt.Errorf("service name is required")
	case c.ServiceVersion == "":
		return fmt.Errorf("service version is required")
	case !slices.Contains(logLevels, c.Logging.Level):
		return fmt.Errorf("invalid log level %q (want one of %v)", c.Logging.Level, logLevels)
	case !slices.Contains(logFormats, c.Logging.Format):
		return fmt.Errorf("invalid log format %q (want one of %v)", c.Logging.Format, logFormats)
	case c.Tracing.Enabled && !slices.Contains(traceExports, c.Tracing.Exporter):
		return fmt.Errorf("invalid trace exporter %q (want one of %v)", c.Tracing.Exporter, traceExports)
	case c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1:
		return fmt.Errorf("trace sampling rate must be within [0, 1], got %g", c.Tracing.SamplingRate)
	case c.Metrics.Enabled && c.Metrics.ListenAddress == "":
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	case c.Events.Enabled && c.Events.BufferSize <= 0:
		return fmt.Errorf("event buffer size must be positive, got %d", c.Events.BufferSize)
	}
	return nil
}
