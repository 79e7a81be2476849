// Package config loads and validates the Stevedore agent configuration.
//
// # Overview
//
// The agent configuration covers the agent itself: where state lives, where
// manifests come from, how the reconcile engine is tuned, and how telemetry
// behaves. Workload manifests are a separate concern handled by the manifest
// package.
//
// Configuration is assembled from three layers, each overriding the one
// before it:
//
//  1. Default() - built-in defaults suitable for a device agent
//  2. the YAML config file, when one is given
//  3. STEVEDORE_* environment variables
//
// The file is parsed strictly: unknown keys are rejected so typos fail at
// startup instead of being silently ignored. The merged result is validated
// with struct tags before it is returned.
//
// # Usage Example
//
//	cfg, err := config.Load("/etc/stevedore/config.yaml")
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Config load failed")
//	}
//
//	opts := cfg.Engine.Options()
//	tel := cfg.Telemetry.Build()
//
// # Configuration File
//
// A complete config file:
//
//	data_dir: /var/lib/stevedore
//	manifest:
//	  paths:
//	    - /var/lib/stevedore/manifests
//	  watch: true
//	  debounce: 500ms
//	depot:
//	  host: depot.example.com
//	  user: stevedore
//	  auth_method: key
//	  private_key_path: /etc/stevedore/id_ed25519
//	  known_hosts_path: /etc/stevedore/known_hosts
//	  strict_host_key_checking: true
//	  remote_path: /srv/manifests
//	  poll_interval: 5m
//	engine:
//	  max_parallel: 4
//	  retry_max: 3
//	  retry_backoff: 500ms
//	  op_timeout: 5m
//	  stop_timeout: 30s
//	policy:
//	  enabled: true
//	  paths:
//	    - /etc/stevedore/policies
//	orphans: report
//	telemetry:
//	  log_level: info
//	  log_format: json
//	  metrics:
//	    enabled: true
//	    listen_address: ":9090"
//
// Durations are written in time.ParseDuration form ("500ms", "5m").
//
// # Environment Overrides
//
// Scalar settings can be overridden without a file, which suits fleet
// provisioning where a base image ships defaults and the bootstrap injects
// per-device values:
//
//	STEVEDORE_DATA_DIR            data_dir
//	STEVEDORE_MANIFEST_PATH       manifest.paths (comma-separated)
//	STEVEDORE_MANIFEST_WATCH      manifest.watch
//	STEVEDORE_DEPOT_HOST          depot.host
//	STEVEDORE_DEPOT_PORT          depot.port
//	STEVEDORE_DEPOT_USER          depot.user
//	STEVEDORE_DEPOT_PASSWORD      depot.password (implies auth_method: password)
//	STEVEDORE_DEPOT_REMOTE_PATH   depot.remote_path
//	STEVEDORE_ENGINE_MAX_PARALLEL engine.max_parallel
//	STEVEDORE_POLICY_ENABLED      policy.enabled
//	STEVEDORE_ORPHANS             orphans
//	STEVEDORE_LOG_LEVEL           telemetry.log_level
//	STEVEDORE_LOG_FORMAT          telemetry.log_format
//	STEVEDORE_METRICS_ADDRESS     telemetry.metrics.listen_address
//	STEVEDORE_TRACING_ENDPOINT    telemetry.tracing.endpoint (enables tracing)
//
// # Conversions
//
// Sections convert into the domain types the rest of the agent consumes:
// EngineConfig.Options yields engine.Options, DepotConfig.ClientConfig
// yields depot.Config, and TelemetryConfig.Build overlays the curated knobs
// on telemetry.DefaultConfig.
package config
