// Package config loads tapwatch configuration from a YAML file with
// environment variable overrides.
//
// Resolution order, later wins:
//  1. built-in defaults
//  2. config file ({XDG_CONFIG_HOME|~/.config}/tapwatch/config.yaml)
//  3. TAPWATCH_* environment variables
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "5s" and "1h" parse.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Target is one tracked application.
type Target struct {
	// Package is the platform package identifier, e.g. "com.instagram.android".
	Package string `yaml:"package"`
	// Name is the human-readable app name reported in telemetry.
	Name string `yaml:"name"`
}

// ServerConfig addresses the backend collector.
type ServerConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// TrackingConfig tunes the foreground monitor and classifier.
type TrackingConfig struct {
	Targets []Target `yaml:"targets"`
	// InterventionTargets is the subset of packages that trigger the
	// forced-delay overlay. Cooldown is independent of session logic.
	InterventionTargets  []string `yaml:"intervention_targets"`
	PollInterval         Duration `yaml:"poll_interval"`
	TapValidityWindow    Duration `yaml:"tap_validity_window"`
	TapCooldown          Duration `yaml:"tap_cooldown"`
	InterventionCooldown Duration `yaml:"intervention_cooldown"`
}

// SyncConfig tunes batching, retry, and offline replay.
type SyncConfig struct {
	BatchInterval  Duration `yaml:"batch_interval"`
	ChunkSize      int      `yaml:"chunk_size"`
	ItemRetries    int      `yaml:"item_retries"`
	RetryDelay     Duration `yaml:"retry_delay"`
	ReplayInterval Duration `yaml:"replay_interval"`
	ReplayMax      int      `yaml:"replay_max"`
	// MinBattery gates offline replay: below this battery percentage the
	// replay cycle is skipped silently.
	MinBattery int `yaml:"min_battery"`
	// MaxQueueRows bounds the offline queue; oldest rows are evicted first.
	MaxQueueRows int `yaml:"max_queue_rows"`
}

// SummaryConfig schedules the daily summary.
type SummaryConfig struct {
	// Hour is the local hour (0-23) at which the daily summary is sent.
	Hour int `yaml:"hour"`
}

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Tracking TrackingConfig `yaml:"tracking"`
	Sync     SyncConfig     `yaml:"sync"`
	Summary  SummaryConfig  `yaml:"summary"`
	// SpoolPath is the foreground-observation spool written by the platform
	// glue (cmd/tapwatch-feed). Defaults to {state_dir}/foreground.log.
	SpoolPath string `yaml:"spool_path"`
	// StateDir holds the queue database, spool offset, and PID file.
	StateDir string `yaml:"state_dir"`
	// DeviceID overrides the generated device identifier (mainly for tests
	// and study provisioning).
	DeviceID string `yaml:"device_id"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:8080",
			Timeout: Duration(30 * time.Second),
		},
		Tracking: TrackingConfig{
			Targets: []Target{
				{Package: "com.instagram.android", Name: "Instagram"},
				{Package: "com.facebook.katana", Name: "Facebook"},
				{Package: "com.google.android.youtube", Name: "YouTube"},
			},
			InterventionTargets:  []string{"com.instagram.android"},
			PollInterval:         Duration(1 * time.Second),
			TapValidityWindow:    Duration(5 * time.Second),
			TapCooldown:          Duration(3 * time.Second),
			InterventionCooldown: Duration(15 * time.Second),
		},
		Sync: SyncConfig{
			BatchInterval:  Duration(1 * time.Hour),
			ChunkSize:      10,
			ItemRetries:    3,
			RetryDelay:     Duration(5 * time.Second),
			ReplayInterval: Duration(60 * time.Second),
			ReplayMax:      100,
			MinBattery:     20,
			MaxQueueRows:   10_000,
		},
		Summary: SummaryConfig{Hour: 4},
	}
}

// Dir returns the tapwatch config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/tapwatch if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "tapwatch"), nil
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config file at path, merges it over defaults, applies
// environment overrides, and normalizes the result. A missing file is not an
// error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies TAPWATCH_* environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("TAPWATCH_SERVER_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("TAPWATCH_STATE_DIR"); v != "" {
		c.StateDir = v
	}
	if v := os.Getenv("TAPWATCH_DEVICE_ID"); v != "" {
		c.DeviceID = v
	}
	if v := os.Getenv("TAPWATCH_SPOOL"); v != "" {
		c.SpoolPath = v
	}
}

// normalize fills derived paths and clamps tunables to sane ranges.
func (c *Config) normalize() error {
	if c.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("config: resolve home directory: %w", err)
		}
		c.StateDir = filepath.Join(home, ".tapwatch")
	}
	if c.SpoolPath == "" {
		c.SpoolPath = filepath.Join(c.StateDir, "foreground.log")
	}

	// The poll interval trades detection latency against battery drain;
	// anything outside 1s-10s is a misconfiguration.
	if c.Tracking.PollInterval < Duration(time.Second) {
		c.Tracking.PollInterval = Duration(time.Second)
	}
	if c.Tracking.PollInterval > Duration(10*time.Second) {
		c.Tracking.PollInterval = Duration(10 * time.Second)
	}

	if c.Sync.ChunkSize < 1 {
		c.Sync.ChunkSize = 10
	}
	if c.Sync.ItemRetries < 1 {
		c.Sync.ItemRetries = 1
	}
	if c.Sync.ReplayMax < 1 {
		c.Sync.ReplayMax = 100
	}
	if c.Summary.Hour < 0 || c.Summary.Hour > 23 {
		c.Summary.Hour = 4
	}

	return nil
}

// EnsureStateDir creates the state directory if needed and returns it.
func (c *Config) EnsureStateDir() (string, error) {
	if err := os.MkdirAll(c.StateDir, 0o755); err != nil {
		return "", fmt.Errorf("config: create state dir %s: %w", c.StateDir, err)
	}
	return c.StateDir, nil
}

// QueuePath returns the offline queue database path.
func (c *Config) QueuePath() string {
	return filepath.Join(c.StateDir, "tapwatch.db")
}

// PIDPath returns the agent PID file path.
func (c *Config) PIDPath() string {
	return filepath.Join(c.StateDir, "agent.pid")
}

// TargetNames returns a package -> app name lookup for tracked targets.
func (c *Config) TargetNames() map[string]string {
	m := make(map[string]string, len(c.Tracking.Targets))
	for _, t := range c.Tracking.Targets {
		if t.Package == "" {
			continue
		}
		name := t.Name
		if name == "" {
			name = t.Package
		}
		m[t.Package] = name
	}
	return m
}

// InterventionSet returns the intervention-target packages as a set.
func (c *Config) InterventionSet() map[string]bool {
	m := make(map[string]bool, len(c.Tracking.InterventionTargets))
	for _, p := range c.Tracking.InterventionTargets {
		m[p] = true
	}
	return m
}
