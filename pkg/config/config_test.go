package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bpmanager/bpmanager/pkg/engine"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bpm.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	def := Default()
	if cfg.Database.Path != def.Database.Path {
		t.Errorf("Expected database path %s, got %s", def.Database.Path, cfg.Database.Path)
	}
	if cfg.Engine.Workers != def.Engine.Workers {
		t.Errorf("Expected %d workers, got %d", def.Engine.Workers, cfg.Engine.Workers)
	}
	if cfg.Engine.Retry != engine.DefaultRetryPolicy() {
		t.Errorf("Expected default retry policy, got %+v", cfg.Engine.Retry)
	}
	if cfg.Engine.StepTimeout != def.Engine.StepTimeout {
		t.Errorf("Expected step timeout %v, got %v", def.Engine.StepTimeout, cfg.Engine.StepTimeout)
	}
	if cfg.Queue.Backend != QueueBackendMemory {
		t.Errorf("Expected memory queue, got %s", cfg.Queue.Backend)
	}
	if len(cfg.Azure.Offers) != 1 || cfg.Azure.Offers[0].AuthorizedUserKey != "authorizedTerraUser" {
		t.Errorf("Unexpected azure offers %+v", cfg.Azure.Offers)
	}
	if cfg.Telemetry.Logging.Level != "info" {
		t.Errorf("Expected info log level, got %s", cfg.Telemetry.Logging.Level)
	}
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/other.db
engine:
  workers: 8
  max_attempts: 3
  initial_interval: 250ms
  wait_timeout: 1m
  owner_lease: 15m
queue:
  backend: redis
  redis:
    addr: redis:6379
    key: custom
policy:
  paths: [/etc/bpm/policies]
  watch: true
  allowed_regions: [us-central1]
enterprise:
  subscriptions: [sub-1, sub-2]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Path != "/tmp/other.db" {
		t.Errorf("Expected overridden path, got %s", cfg.Database.Path)
	}
	if cfg.Engine.Workers != 8 || cfg.Engine.Retry.MaxAttempts != 3 {
		t.Errorf("Unexpected engine section %+v", cfg.Engine)
	}
	if cfg.Engine.Retry.InitialInterval != 250*time.Millisecond {
		t.Errorf("Expected 250ms initial interval, got %v", cfg.Engine.Retry.InitialInterval)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Engine.Retry.Multiplier != engine.DefaultRetryPolicy().Multiplier {
		t.Errorf("Expected default multiplier, got %v", cfg.Engine.Retry.Multiplier)
	}
	if cfg.Queue.Backend != QueueBackendRedis || cfg.Queue.Redis.Key != "custom" {
		t.Errorf("Unexpected queue section %+v", cfg.Queue)
	}
	if !cfg.Policy.Watch || len(cfg.Policy.Paths) != 1 || cfg.Policy.AllowedRegions[0] != "us-central1" {
		t.Errorf("Unexpected policy section %+v", cfg.Policy)
	}
	if len(cfg.Enterprise.EnterpriseSubscriptions) != 2 {
		t.Errorf("Unexpected enterprise subscriptions %v", cfg.Enterprise.EnterpriseSubscriptions)
	}

	exec := cfg.Engine.Executor()
	if exec.Workers != 8 || exec.Retry.MaxAttempts != 3 {
		t.Errorf("Executor config not derived from section: %+v", exec)
	}
	if exec.OwnerLease != 15*time.Minute {
		t.Errorf("Expected 15m owner lease, got %v", exec.OwnerLease)
	}
	if exec.InstanceID != "" {
		t.Errorf("Expected instance id left to the executor default, got %q", exec.InstanceID)
	}
	if cfg.Engine.Jobs().WaitTimeout != time.Minute {
		t.Errorf("Expected 1m wait timeout, got %v", cfg.Engine.Jobs().WaitTimeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BPM_ENGINE_WORKERS", "16")
	t.Setenv("BPM_ENGINE_STEP_TIMEOUT", "45s")
	t.Setenv("BPM_TELEMETRY_LOGGING_LEVEL", "debug")

	path := writeConfig(t, "engine:\n  workers: 2\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Engine.Workers != 16 {
		t.Errorf("Expected environment to win over file, got %d workers", cfg.Engine.Workers)
	}
	if cfg.Engine.StepTimeout != 45*time.Second {
		t.Errorf("Expected 45s step timeout, got %v", cfg.Engine.StepTimeout)
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("Expected debug log level, got %s", cfg.Telemetry.Logging.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "zero workers", content: "engine:\n  workers: 0\n", want: "Workers"},
		{name: "unknown queue backend", content: "queue:\n  backend: kafka\n", want: "Backend"},
		{name: "redis without address", content: "queue:\n  backend: redis\n  redis:\n    addr: \"\"\n", want: "queue.redis.addr"},
		{name: "bad sam url", content: "sam:\n  base_url: not a url\n", want: "BaseURL"},
		{name: "offer without key", content: "azure:\n  offers:\n    - name: x\n      publisher: y\n", want: "AuthorizedUserKey"},
		{name: "bad log level", content: "telemetry:\n  logging:\n    level: loud\n", want: "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Expected error for a missing config file")
	}
}

func TestYAML_MasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Queue.Redis.Password = "hunter2"

	out, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML failed: %v", err)
	}
	if strings.Contains(string(out), "hunter2") {
		t.Error("Rendered configuration leaks the redis password")
	}
	if cfg.Queue.Redis.Password != "hunter2" {
		t.Error("YAML must not modify the configuration")
	}

	var back map[string]any
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatalf("Rendered configuration is not YAML: %v", err)
	}
	eng, ok := back["engine"].(map[string]any)
	if !ok || eng["max_attempts"] != 5 {
		t.Errorf("Expected retry policy inlined into engine, got %v", back["engine"])
	}
}
