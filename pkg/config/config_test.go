package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stevedore-io/stevedore/pkg/depot"
	"github.com/stevedore-io/stevedore/pkg/engine"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.DataDir != "/var/lib/stevedore" {
		t.Errorf("expected data dir /var/lib/stevedore, got %s", cfg.DataDir)
	}
	if len(cfg.Manifest.Paths) != 1 || cfg.Manifest.Paths[0] != "/var/lib/stevedore/manifests" {
		t.Errorf("unexpected manifest paths: %v", cfg.Manifest.Paths)
	}
	if !cfg.Manifest.Watch {
		t.Error("expected watch enabled by default")
	}
	if cfg.Manifest.Debounce.Std() != 500*time.Millisecond {
		t.Errorf("expected 500ms debounce, got %v", cfg.Manifest.Debounce.Std())
	}
	if cfg.Depot != nil {
		t.Error("expected no depot by default")
	}
	if cfg.Engine.MaxParallel != 4 || cfg.Engine.RetryMax != 3 {
		t.Errorf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if cfg.Policy.Enabled {
		t.Error("expected policy disabled by default")
	}
	if cfg.Orphans != "report" {
		t.Errorf("expected orphans report, got %s", cfg.Orphans)
	}
	if cfg.Telemetry.LogLevel != "info" || cfg.Telemetry.LogFormat != "console" {
		t.Errorf("unexpected telemetry defaults: %+v", cfg.Telemetry)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfigFile(t, `
data_dir: /tmp/stevedore-test
manifest:
  paths:
    - /tmp/manifests/app.yaml
  watch: false
  debounce: 2s
engine:
  max_parallel: 8
  retry_max: 1
  retry_backoff: 1s
  op_timeout: 10m
  stop_timeout: 1m
orphans: remove
telemetry:
  log_level: debug
  log_format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.DataDir != "/tmp/stevedore-test" {
		t.Errorf("expected data dir /tmp/stevedore-test, got %s", cfg.DataDir)
	}
	if cfg.Manifest.Watch {
		t.Error("expected watch disabled")
	}
	if cfg.Manifest.Debounce.Std() != 2*time.Second {
		t.Errorf("expected 2s debounce, got %v", cfg.Manifest.Debounce.Std())
	}
	if cfg.Engine.MaxParallel != 8 {
		t.Errorf("expected max parallel 8, got %d", cfg.Engine.MaxParallel)
	}
	if cfg.Engine.OpTimeout.Std() != 10*time.Minute {
		t.Errorf("expected 10m op timeout, got %v", cfg.Engine.OpTimeout.Std())
	}
	if cfg.Orphans != "remove" {
		t.Errorf("expected orphans remove, got %s", cfg.Orphans)
	}
	if cfg.Telemetry.LogLevel != "debug" {
		t.Errorf("expected debug log level, got %s", cfg.Telemetry.LogLevel)
	}

	// Sections absent from the file keep their defaults.
	if cfg.Policy.Enabled {
		t.Error("expected policy to keep its default")
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("expected metrics to keep their default")
	}
}

func TestLoadDepotSection(t *testing.T) {
	path := writeConfigFile(t, `
data_dir: /tmp/stevedore-test
manifest:
  paths: [/tmp/manifests]
depot:
  host: depot.example.com
  user: stevedore
  auth_method: password
  password: hunter2
  remote_path: /srv/manifests
  poll_interval: 5m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Depot == nil {
		t.Fatal("expected depot section")
	}
	if cfg.Depot.Port != 22 {
		t.Errorf("expected port default 22, got %d", cfg.Depot.Port)
	}
	if cfg.Depot.ConnectTimeout.Std() != 30*time.Second {
		t.Errorf("expected 30s connect timeout default, got %v", cfg.Depot.ConnectTimeout.Std())
	}
	if cfg.Depot.PollInterval.Std() != 5*time.Minute {
		t.Errorf("expected 5m poll interval, got %v", cfg.Depot.PollInterval.Std())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/stevedore.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := writeConfigFile(t, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("empty file should load defaults: %v", err)
	}
	if cfg.DataDir != "/var/lib/stevedore" {
		t.Errorf("expected default data dir, got %s", cfg.DataDir)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfigFile(t, `
data_dir: /tmp/stevedore-test
manifest:
  paths: [/tmp/manifests]
datadir: /oops
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected unknown field error, got: %v", err)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeConfigFile(t, `
data_dir: /tmp/stevedore-test
manifest:
  paths: [/tmp/manifests]
  debounce: banana
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("expected duration error, got: %v", err)
	}
}

func TestLoadValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "bad orphans value",
			content: `
data_dir: /tmp/t
manifest:
  paths: [/tmp/m]
orphans: destroy
`,
		},
		{
			name: "empty manifest paths",
			content: `
data_dir: /tmp/t
manifest:
  paths: []
`,
		},
		{
			name: "bad log level",
			content: `
data_dir: /tmp/t
manifest:
  paths: [/tmp/m]
telemetry:
  log_level: verbose
  log_format: console
`,
		},
		{
			name: "bad manifest format",
			content: `
data_dir: /tmp/t
manifest:
  paths: [/tmp/m]
  format: toml
`,
		},
		{
			name: "depot without host",
			content: `
data_dir: /tmp/t
manifest:
  paths: [/tmp/m]
depot:
  user: stevedore
  remote_path: /srv/manifests
`,
		},
		{
			name: "zero max parallel",
			content: `
data_dir: /tmp/t
manifest:
  paths: [/tmp/m]
engine:
  max_parallel: 0
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STEVEDORE_DATA_DIR", "/tmp/env-data")
	t.Setenv("STEVEDORE_MANIFEST_PATH", "/tmp/a.yaml, /tmp/b.yaml")
	t.Setenv("STEVEDORE_MANIFEST_WATCH", "false")
	t.Setenv("STEVEDORE_ENGINE_MAX_PARALLEL", "2")
	t.Setenv("STEVEDORE_ORPHANS", "remove")
	t.Setenv("STEVEDORE_LOG_LEVEL", "warn")
	t.Setenv("STEVEDORE_METRICS_ADDRESS", ":9100")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.DataDir != "/tmp/env-data" {
		t.Errorf("expected env data dir, got %s", cfg.DataDir)
	}
	if len(cfg.Manifest.Paths) != 2 || cfg.Manifest.Paths[1] != "/tmp/b.yaml" {
		t.Errorf("unexpected manifest paths: %v", cfg.Manifest.Paths)
	}
	if cfg.Manifest.Watch {
		t.Error("expected watch disabled via env")
	}
	if cfg.Engine.MaxParallel != 2 {
		t.Errorf("expected max parallel 2, got %d", cfg.Engine.MaxParallel)
	}
	if cfg.Orphans != "remove" {
		t.Errorf("expected orphans remove, got %s", cfg.Orphans)
	}
	if cfg.Telemetry.LogLevel != "warn" {
		t.Errorf("expected warn log level, got %s", cfg.Telemetry.LogLevel)
	}
	if cfg.Telemetry.Metrics.ListenAddress != ":9100" {
		t.Errorf("expected :9100 metrics address, got %s", cfg.Telemetry.Metrics.ListenAddress)
	}
}

func TestEnvConfiguresDepot(t *testing.T) {
	t.Setenv("STEVEDORE_DEPOT_HOST", "depot.example.com")
	t.Setenv("STEVEDORE_DEPOT_USER", "stevedore")
	t.Setenv("STEVEDORE_DEPOT_PASSWORD", "hunter2")
	t.Setenv("STEVEDORE_DEPOT_REMOTE_PATH", "/srv/manifests")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Depot == nil {
		t.Fatal("expected depot configured from environment")
	}
	if cfg.Depot.Host != "depot.example.com" {
		t.Errorf("unexpected depot host: %s", cfg.Depot.Host)
	}
	if cfg.Depot.AuthMethod != "password" {
		t.Errorf("expected password auth implied, got %s", cfg.Depot.AuthMethod)
	}
	if cfg.Depot.Port != 22 {
		t.Errorf("expected port default 22, got %d", cfg.Depot.Port)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
data_dir: /tmp/from-file
manifest:
  paths: [/tmp/manifests]
`)
	t.Setenv("STEVEDORE_DATA_DIR", "/tmp/from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.DataDir != "/tmp/from-env" {
		t.Errorf("expected env to win over file, got %s", cfg.DataDir)
	}
}

func TestEnvInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad int", "STEVEDORE_ENGINE_MAX_PARALLEL", "many"},
		{"bad bool", "STEVEDORE_MANIFEST_WATCH", "yep"},
		{"bad port", "STEVEDORE_DEPOT_PORT", "twenty-two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(""); err == nil {
				t.Error("expected error for invalid env value")
			}
		})
	}
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"500ms", 500 * time.Millisecond, false},
		{"5m", 5 * time.Minute, false},
		{"1h30m", 90 * time.Minute, false},
		{"0s", 0, false},
		{"banana", 0, true},
		{"500", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var out struct {
				D Duration `yaml:"d"`
			}
			err := yaml.Unmarshal([]byte("d: "+tt.input), &out)
			if tt.wantErr {
				if err == nil {
					t.Error("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.D.Std() != tt.want {
				t.Errorf("expected %v, got %v", tt.want, out.D.Std())
			}
		})
	}
}

func TestEngineOptions(t *testing.T) {
	ec := EngineConfig{
		MaxParallel:  6,
		RetryMax:     2,
		RetryBackoff: Duration(time.Second),
		OpTimeout:    Duration(time.Minute),
		StopTimeout:  Duration(10 * time.Second),
	}

	want := engine.Options{
		MaxParallel:  6,
		RetryMax:     2,
		RetryBackoff: time.Second,
		OpTimeout:    time.Minute,
		StopTimeout:  10 * time.Second,
	}
	if got := ec.Options(); got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestDepotClientConfig(t *testing.T) {
	dc := DepotConfig{
		Host:                  "depot.example.com",
		Port:                  2222,
		User:                  "stevedore",
		AuthMethod:            "key",
		PrivateKeyPath:        "/etc/stevedore/id_ed25519",
		KnownHostsPath:        "/etc/stevedore/known_hosts",
		StrictHostKeyChecking: true,
		RemotePath:            "/srv/manifests",
		ConnectTimeout:        Duration(10 * time.Second),
	}

	want := depot.Config{
		Host:                  "depot.example.com",
		Port:                  2222,
		User:                  "stevedore",
		AuthMethod:            depot.AuthMethodKey,
		PrivateKeyPath:        "/etc/stevedore/id_ed25519",
		KnownHostsPath:        "/etc/stevedore/known_hosts",
		StrictHostKeyChecking: true,
		RemotePath:            "/srv/manifests",
		ConnectTimeout:        10 * time.Second,
	}
	if got := dc.ClientConfig(); got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestTelemetryBuild(t *testing.T) {
	tc := TelemetryConfig{
		LogLevel:  "debug",
		LogFormat: "json",
		Metrics:   MetricsConfig{Enabled: true},
		Tracing:   TracingConfig{Enabled: true, Endpoint: "collector:4317"},
	}

	built := tc.Build()
	if built.Logging.Level != "debug" || built.Logging.Format != "json" {
		t.Errorf("unexpected logging config: %+v", built.Logging)
	}
	if !built.Metrics.Enabled {
		t.Error("expected metrics enabled")
	}
	if built.Metrics.ListenAddress != ":9090" {
		t.Errorf("expected default listen address kept, got %s", built.Metrics.ListenAddress)
	}
	if !built.Tracing.Enabled || built.Tracing.Exporter != "otlp" {
		t.Errorf("expected otlp tracing, got %+v", built.Tracing)
	}
	if built.Tracing.Endpoint != "collector:4317" {
		t.Errorf("unexpected tracing endpoint: %s", built.Tracing.Endpoint)
	}
}

func TestOrphanPolicy(t *testing.T) {
	cfg := Default()
	if cfg.OrphanPolicy() != engine.OrphanPolicyReport {
		t.Errorf("expected report policy, got %s", cfg.OrphanPolicy())
	}
	cfg.Orphans = "remove"
	if cfg.OrphanPolicy() != engine.OrphanPolicyRemove {
		t.Errorf("expected remove policy, got %s", cfg.OrphanPolicy())
	}
}

func TestStatePath(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/tmp/stevedore"
	if got := cfg.StatePath(); got != filepath.Join("/tmp/stevedore", "state.db") {
		t.Errorf("unexpected state path: %s", got)
	}
}
