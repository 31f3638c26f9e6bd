// Package config loads runnerd configuration in three layers: built-in
// defaults, an optional YAML file, then RUNNERD_* environment overrides.
// Later layers win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wolfram-laube/backoffice/internal/fleet"
	"github.com/wolfram-laube/backoffice/internal/observability"
)

// Duration unmarshals YAML scalars like "5m" or "90s"; a bare integer is
// taken as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts back to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RunnerConfig declares one runner of the fleet.
type RunnerConfig struct {
	RunnerKey     string   `yaml:"runner_key"`
	DisplayName   string   `yaml:"display_name"`
	Tags          []string `yaml:"tags"`
	Capabilities  []string `yaml:"capabilities"`
	CostPerMinute float64  `yaml:"cost_per_minute"`
	ExecutorClass string   `yaml:"executor_class"`
}

// BanditConfig selects and seeds the learning strategy.
type BanditConfig struct {
	Algorithm string `yaml:"algorithm"`
	Seed      int64  `yaml:"seed"`
}

// StateConfig selects the persistence backend for arm statistics.
type StateConfig struct {
	Backend  string `yaml:"backend"` // memory, file, object, postgres
	FilePath string `yaml:"file_path"`

	ObjectEndpoint  string `yaml:"object_endpoint"`
	ObjectAccessKey string `yaml:"object_access_key"`
	ObjectSecretKey string `yaml:"object_secret_key"`
	ObjectUseSSL    bool   `yaml:"object_use_ssl"`
	ObjectBucket    string `yaml:"object_bucket"`
	ObjectKey       string `yaml:"object_key"`

	PostgresDSN string `yaml:"postgres_dsn"`
}

// LifecycleConfig controls on-demand capacity management.
type LifecycleConfig struct {
	IdleDelay   Duration `yaml:"idle_delay"`
	TickPeriod  Duration `yaml:"tick_period"`
	CloudDriver string   `yaml:"cloud_driver"` // noop or exec
	StartCmd    []string `yaml:"start_cmd"`
	StopCmd     []string `yaml:"stop_cmd"`
	ManagedKeys []string `yaml:"managed_runners"`
}

// FleetConfig configures the availability prober.
type FleetConfig struct {
	BaseURL string            `yaml:"base_url"`
	Token   string            `yaml:"token"`
	Timeout Duration          `yaml:"timeout"`
	Runners []fleet.RunnerRef `yaml:"runners"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	WebhookSecret   string   `yaml:"webhook_secret"`
	AllowOrigins    []string `yaml:"allow_origins"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Config is the full runnerd configuration.
type Config struct {
	Server       ServerConfig                `yaml:"server"`
	Log          observability.LogConfig     `yaml:"log"`
	Metrics      observability.MetricsConfig `yaml:"metrics"`
	Tracing      observability.TracingConfig `yaml:"tracing"`
	Runners      []RunnerConfig              `yaml:"runners"`
	TagMappings  map[string][]string         `yaml:"tag_mappings"`
	Implications map[string][]string         `yaml:"implications"`
	Bandit       BanditConfig                `yaml:"bandit"`
	State        StateConfig                 `yaml:"state"`
	Lifecycle    LifecycleConfig             `yaml:"lifecycle"`
	Fleet        FleetConfig                 `yaml:"fleet"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8090",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Log: observability.LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: observability.MetricsConfig{Enabled: true},
		Bandit:  BanditConfig{Algorithm: "ucb1"},
		State:   StateConfig{Backend: "memory"},
		Lifecycle: LifecycleConfig{
			IdleDelay:   Duration(5 * time.Minute),
			TickPeriod:  Duration(15 * time.Second),
			CloudDriver: "noop",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty; a missing file at an explicit path is an error) and
// environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot be acted on.
func (c Config) Validate() error {
	switch c.State.Backend {
	case "", "memory":
	case "file":
		if c.State.FilePath == "" {
			return fmt.Errorf("state backend %q requires file_path", c.State.Backend)
		}
	case "object":
		if c.State.ObjectEndpoint == "" || c.State.ObjectBucket == "" {
			return fmt.Errorf("state backend %q requires object_endpoint and object_bucket", c.State.Backend)
		}
	case "postgres":
		if c.State.PostgresDSN == "" {
			return fmt.Errorf("state backend %q requires postgres_dsn", c.State.Backend)
		}
	default:
		return fmt.Errorf("unknown state backend %q", c.State.Backend)
	}
	switch c.Lifecycle.CloudDriver {
	case "", "noop":
	case "exec":
		if len(c.Lifecycle.StartCmd) == 0 || len(c.Lifecycle.StopCmd) == 0 {
			return fmt.Errorf("cloud driver %q requires start_cmd and stop_cmd", c.Lifecycle.CloudDriver)
		}
	default:
		return fmt.Errorf("unknown cloud driver %q", c.Lifecycle.CloudDriver)
	}
	for _, r := range c.Runners {
		if strings.TrimSpace(r.RunnerKey) == "" {
			return fmt.Errorf("runner with empty runner_key in config")
		}
		if r.CostPerMinute < 0 {
			return fmt.Errorf("runner %q has negative cost_per_minute", r.RunnerKey)
		}
	}
	return nil
}

// applyEnv maps RUNNERD_* variables onto the config. Only scalar knobs are
// overridable from the environment; structured sections come from the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RUNNERD_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RUNNERD_WEBHOOK_SECRET"); v != "" {
		cfg.Server.WebhookSecret = v
	}
	if v := os.Getenv("RUNNERD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RUNNERD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("RUNNERD_BANDIT_ALGORITHM"); v != "" {
		cfg.Bandit.Algorithm = v
	}
	if v := os.Getenv("RUNNERD_STATE_BACKEND"); v != "" {
		cfg.State.Backend = v
	}
	if v := os.Getenv("RUNNERD_STATE_FILE"); v != "" {
		cfg.State.FilePath = v
	}
	if v := os.Getenv("RUNNERD_POSTGRES_DSN"); v != "" {
		cfg.State.PostgresDSN = v
	}
	if v := os.Getenv("RUNNERD_OBJECT_ENDPOINT"); v != "" {
		cfg.State.ObjectEndpoint = v
	}
	if v := os.Getenv("RUNNERD_OBJECT_ACCESS_KEY"); v != "" {
		cfg.State.ObjectAccessKey = v
	}
	if v := os.Getenv("RUNNERD_OBJECT_SECRET_KEY"); v != "" {
		cfg.State.ObjectSecretKey = v
	}
	if v := os.Getenv("RUNNERD_OBJECT_BUCKET"); v != "" {
		cfg.State.ObjectBucket = v
	}
	if v := os.Getenv("RUNNERD_FLEET_URL"); v != "" {
		cfg.Fleet.BaseURL = v
	}
	if v := os.Getenv("RUNNERD_FLEET_TOKEN"); v != "" {
		cfg.Fleet.Token = v
	}
	if v := os.Getenv("RUNNERD_IDLE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Lifecycle.IdleDelay = Duration(d)
		}
	}
	if v := os.Getenv("RUNNERD_METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v := os.Getenv("RUNNERD_TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing.Enabled = b
		}
	}
}
