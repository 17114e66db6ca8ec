// Package config loads the bpm configuration.
//
// Values come from three layers, later layers winning:
//
//   - the built-in defaults returned by Default
//   - an optional YAML file passed with --config
//   - environment variables prefixed with BPM_, with dots in the key path
//     replaced by underscores (BPM_ENGINE_WORKERS, BPM_QUEUE_BACKEND,
//     BPM_TELEMETRY_LOGGING_LEVEL)
//
// A minimal file:
//
//	database:
//	  path: /var/lib/bpm/bpm.db
//	engine:
//	  workers: 8
//	  max_attempts: 3
//	queue:
//	  backend: redis
//	  redis:
//	    addr: redis:6379
//	sam:
//	  base_url: https://sam.example.org
//	policy:
//	  paths: [/etc/bpm/policies]
//	  watch: true
//	  allowed_regions: [us-central1, us-east1]
//
// The loaded Config is validated with struct tags and a few cross-section
// rules. Config.YAML renders the effective configuration for "bpm config
// show".
package config
