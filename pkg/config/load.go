package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var agentValidator = validator.New()

// Load builds the agent configuration from three layers: Default, the
// YAML file at path, and STEVEDORE_* environment variables, each
// overriding the previous. An empty path skips the file layer. Unknown
// keys in the file are rejected.
func Load(path string) (*AgentConfig, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *AgentConfig) Validate() error {
	if err := agentValidator.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// normalize fills depot defaults that only apply when a depot section is
// present.
func (c *AgentConfig) normalize() {
	if c.Depot == nil {
		return
	}
	if c.Depot.Port == 0 {
		c.Depot.Port = 22
	}
	if c.Depot.AuthMethod == "" {
		c.Depot.AuthMethod = "key"
	}
	if c.Depot.ConnectTimeout == 0 {
		c.Depot.ConnectTimeout = Duration(30 * time.Second)
	}
}

// applyEnv overlays STEVEDORE_* environment variables on the config.
// Only scalar fields have overrides; list-valued settings take
// comma-separated values.
func applyEnv(cfg *AgentConfig) error {
	if v, ok := os.LookupEnv("STEVEDORE_DATA_DIR"); ok {
		cfg.DataDir = v
	}
	if v, ok := os.LookupEnv("STEVEDORE_MANIFEST_PATH"); ok {
		cfg.Manifest.Paths = splitList(v)
	}
	if v, ok := os.LookupEnv("STEVEDORE_MANIFEST_WATCH"); ok {
		b, err := parseEnvBool("STEVEDORE_MANIFEST_WATCH", v)
		if err != nil {
			return err
		}
		cfg.Manifest.Watch = b
	}
	if v, ok := os.LookupEnv("STEVEDORE_DEPOT_HOST"); ok {
		cfg.ensureDepot().Host = v
	}
	if v, ok := os.LookupEnv("STEVEDORE_DEPOT_PORT"); ok {
		p, err := parseEnvInt("STEVEDORE_DEPOT_PORT", v)
		if err != nil {
			return err
		}
		cfg.ensureDepot().Port = p
	}
	if v, ok := os.LookupEnv("STEVEDORE_DEPOT_USER"); ok {
		cfg.ensureDepot().User = v
	}
	if v, ok := os.LookupEnv("STEVEDORE_DEPOT_PASSWORD"); ok {
		d := cfg.ensureDepot()
		d.Password = v
		d.AuthMethod = "password"
	}
	if v, ok := os.LookupEnv("STEVEDORE_DEPOT_REMOTE_PATH"); ok {
		cfg.ensureDepot().RemotePath = v
	}
	if v, ok := os.LookupEnv("STEVEDORE_ENGINE_MAX_PARALLEL"); ok {
		p, err := parseEnvInt("STEVEDORE_ENGINE_MAX_PARALLEL", v)
		if err != nil {
			return err
		}
		cfg.Engine.MaxParallel = p
	}
	if v, ok := os.LookupEnv("STEVEDORE_POLICY_ENABLED"); ok {
		b, err := parseEnvBool("STEVEDORE_POLICY_ENABLED", v)
		if err != nil {
			return err
		}
		cfg.Policy.Enabled = b
	}
	if v, ok := os.LookupEnv("STEVEDORE_ORPHANS"); ok {
		cfg.Orphans = v
	}
	if v, ok := os.LookupEnv("STEVEDORE_LOG_LEVEL"); ok {
		cfg.Telemetry.LogLevel = v
	}
	if v, ok := os.LookupEnv("STEVEDORE_LOG_FORMAT"); ok {
		cfg.Telemetry.LogFormat = v
	}
	if v, ok := os.LookupEnv("STEVEDORE_METRICS_ADDRESS"); ok {
		cfg.Telemetry.Metrics.ListenAddress = v
	}
	if v, ok := os.LookupEnv("STEVEDORE_TRACING_ENDPOINT"); ok {
		cfg.Telemetry.Tracing.Enabled = true
		cfg.Telemetry.Tracing.Endpoint = v
	}
	return nil
}

// ensureDepot allocates the depot section so environment variables can
// configure a depot without a config file.
func (c *AgentConfig) ensureDepot() *DepotConfig {
	if c.Depot == nil {
		c.Depot = &DepotConfig{}
	}
	return c.Depot
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseEnvBool(name, v string) (bool, error) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", name, v, err)
	}
	return b, nil
}

func parseEnvInt(name, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", name, v, err)
	}
	return n, nil
}
