package config

import (
	"fmt"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stevedore-io/stevedore/pkg/depot"
	"github.com/stevedore-io/stevedore/pkg/engine"
	"github.com/stevedore-io/stevedore/pkg/telemetry"
)

// Duration wraps time.Duration so YAML values can be written in
// time.ParseDuration form ("500ms", "5m", "1h30m").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.ParseDuration form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// AgentConfig is the agent's own configuration, as opposed to the workload
// manifests it reconciles. It is loaded from a YAML file and overridden by
// STEVEDORE_* environment variables.
type AgentConfig struct {
	// DataDir is the directory for agent-local state, including the
	// SQLite state cache.
	DataDir string `yaml:"data_dir" validate:"required"`

	// Manifest configures how desired state is read from disk.
	Manifest ManifestConfig `yaml:"manifest"`

	// Depot configures the remote manifest depot. Nil disables depot
	// polling entirely.
	Depot *DepotConfig `yaml:"depot,omitempty"`

	// Engine tunes plan execution.
	Engine EngineConfig `yaml:"engine"`

	// Policy configures admission policy evaluation.
	Policy PolicyConfig `yaml:"policy"`

	// Orphans selects what happens to engine objects the agent manages
	// but no manifest claims: "report" or "remove".
	Orphans string `yaml:"orphans" validate:"oneof=report remove"`

	// Telemetry exposes the agent-facing logging, metrics and tracing
	// knobs.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ManifestConfig configures desired-state ingestion.
type ManifestConfig struct {
	// Paths lists manifest files or directories to load, in order.
	Paths []string `yaml:"paths" validate:"required,min=1"`

	// Format forces a parser regardless of file extension: "yaml",
	// "cue" or "starlark". Empty infers from the extension.
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=yaml cue starlark"`

	// Watch re-reconciles when manifest files change on disk.
	Watch bool `yaml:"watch"`

	// Debounce coalesces bursts of file events into a single reconcile.
	Debounce Duration `yaml:"debounce"`
}

// DepotConfig configures the SFTP depot manifests are pulled from.
type DepotConfig struct {
	// Host is the depot hostname or IP address.
	Host string `yaml:"host" validate:"required"`

	// Port is the SSH port. Zero defaults to 22.
	Port int `yaml:"port" validate:"min=0,max=65535"`

	// User is the SSH username.
	User string `yaml:"user" validate:"required"`

	// AuthMethod selects SSH authentication: "password" or "key".
	// Empty defaults to "key".
	AuthMethod string `yaml:"auth_method,omitempty" validate:"omitempty,oneof=password key"`

	// Password for password authentication.
	Password string `yaml:"password,omitempty"`

	// PrivateKeyPath is the path to the private key file.
	PrivateKeyPath string `yaml:"private_key_path,omitempty"`

	// PrivateKeyPassphrase decrypts an encrypted private key.
	PrivateKeyPassphrase string `yaml:"private_key_passphrase,omitempty"`

	// KnownHostsPath is the known_hosts file used to verify the depot's
	// host key.
	KnownHostsPath string `yaml:"known_hosts_path,omitempty"`

	// StrictHostKeyChecking rejects hosts whose key is not present in
	// KnownHostsPath. Requires KnownHostsPath to be set.
	StrictHostKeyChecking bool `yaml:"strict_host_key_checking"`

	// RemotePath is the manifest file on the depot.
	RemotePath string `yaml:"remote_path" validate:"required"`

	// ConnectTimeout bounds connection establishment. Zero defaults to
	// 30 seconds.
	ConnectTimeout Duration `yaml:"connect_timeout"`

	// PollInterval is how often the depot is polled for new manifests.
	// Zero fetches once at startup and never polls.
	PollInterval Duration `yaml:"poll_interval"`
}

// ClientConfig converts the depot section into a depot client
// configuration.
func (c *DepotConfig) ClientConfig() depot.Config {
	return depot.Config{
		Host:                  c.Host,
		Port:                  c.Port,
		User:                  c.User,
		AuthMethod:            depot.AuthMethod(c.AuthMethod),
		Password:              c.Password,
		PrivateKeyPath:        c.PrivateKeyPath,
		PrivateKeyPassphrase:  c.PrivateKeyPassphrase,
		KnownHostsPath:        c.KnownHostsPath,
		StrictHostKeyChecking: c.StrictHostKeyChecking,
		RemotePath:            c.RemotePath,
		ConnectTimeout:        c.ConnectTimeout.Std(),
	}
}

// EngineConfig tunes the reconcile scheduler.
type EngineConfig struct {
	// MaxParallel is the number of units executed concurrently.
	MaxParallel int `yaml:"max_parallel" validate:"min=1"`

	// RetryMax is the number of retries after a failed operation.
	RetryMax int `yaml:"retry_max" validate:"min=0"`

	// RetryBackoff is the base backoff between retries; it doubles per
	// attempt.
	RetryBackoff Duration `yaml:"retry_backoff"`

	// OpTimeout bounds a single engine operation.
	OpTimeout Duration `yaml:"op_timeout"`

	// StopTimeout is the grace period a container gets to stop before
	// it is killed.
	StopTimeout Duration `yaml:"stop_timeout"`
}

// Options converts the engine section into scheduler options.
func (c EngineConfig) Options() engine.Options {
	return engine.Options{
		MaxParallel:  c.MaxParallel,
		RetryMax:     c.RetryMax,
		RetryBackoff: c.RetryBackoff.Std(),
		OpTimeout:    c.OpTimeout.Std(),
		StopTimeout:  c.StopTimeout.Std(),
	}
}

// PolicyConfig configures admission policy evaluation.
type PolicyConfig struct {
	// Enabled turns policy evaluation on. The built-in policies apply
	// even when Paths is empty.
	Enabled bool `yaml:"enabled"`

	// Paths lists directories or files of .rego and .json policies
	// loaded in addition to the built-ins.
	Paths []string `yaml:"paths,omitempty"`
}

// TelemetryConfig is the curated subset of telemetry settings exposed in
// the agent config file. Everything else keeps its library default.
type TelemetryConfig struct {
	// LogLevel is the minimum log level: trace, debug, info, warn or
	// error.
	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn error"`

	// LogFormat is "json" or "console".
	LogFormat string `yaml:"log_format" validate:"oneof=json console"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures OTLP trace export.
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	// Enabled serves /metrics when true.
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the metrics listen address, e.g. ":9090".
	ListenAddress string `yaml:"listen_address,omitempty"`
}

// TracingConfig configures trace export.
type TracingConfig struct {
	// Enabled turns tracing on.
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint, e.g. "collector:4317".
	Endpoint string `yaml:"endpoint,omitempty"`
}

// Build produces the full telemetry configuration by overlaying the
// curated knobs on the library defaults.
func (c TelemetryConfig) Build() *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.Logging.Level = c.LogLevel
	tc.Logging.Format = c.LogFormat
	tc.Metrics.Enabled = c.Metrics.Enabled
	if c.Metrics.ListenAddress != "" {
		tc.Metrics.ListenAddress = c.Metrics.ListenAddress
	}
	tc.Tracing.Enabled = c.Tracing.Enabled
	if c.Tracing.Endpoint != "" {
		tc.Tracing.Exporter = "otlp"
		tc.Tracing.Endpoint = c.Tracing.Endpoint
	}
	return tc
}

// OrphanPolicy returns the engine orphan policy selected by the config.
func (c *AgentConfig) OrphanPolicy() engine.OrphanPolicy {
	return engine.OrphanPolicy(c.Orphans)
}

// StatePath returns the SQLite state cache location under DataDir.
func (c *AgentConfig) StatePath() string {
	return filepath.Join(c.DataDir, "state.db")
}

// Default returns the agent configuration used when no file and no
// environment overrides are present.
func Default() *AgentConfig {
	return &AgentConfig{
		DataDir: "/var/lib/stevedore",
		Manifest: ManifestConfig{
			Paths:    []string{"/var/lib/stevedore/manifests"},
			Watch:    true,
			Debounce: Duration(500 * time.Millisecond),
		},
		Engine: EngineConfig{
			MaxParallel:  4,
			RetryMax:     3,
			RetryBackoff: Duration(500 * time.Millisecond),
			OpTimeout:    Duration(5 * time.Minute),
			StopTimeout:  Duration(30 * time.Second),
		},
		Policy:  PolicyConfig{Enabled: false},
		Orphans: "report",
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "console",
			Metrics: MetricsConfig{
				Enabled:       true,
				ListenAddress: ":9090",
			},
		},
	}
}
