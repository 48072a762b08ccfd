package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Tracking.TapValidityWindow.Std() != 5*time.Second {
		t.Errorf("TapValidityWindow = %v, want 5s", cfg.Tracking.TapValidityWindow.Std())
	}
	if cfg.Sync.ChunkSize != 10 {
		t.Errorf("ChunkSize = %d, want 10", cfg.Sync.ChunkSize)
	}
	if cfg.Summary.Hour != 4 {
		t.Errorf("Summary.Hour = %d, want 4", cfg.Summary.Hour)
	}
	if cfg.StateDir == "" || cfg.SpoolPath == "" {
		t.Errorf("derived paths not filled: state=%q spool=%q", cfg.StateDir, cfg.SpoolPath)
	}
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
server:
  base_url: http://collector.example:9090
  timeout: 10s
tracking:
  targets:
    - package: com.tiktok.android
      name: TikTok
  intervention_targets: [com.tiktok.android]
  poll_interval: 2s
  tap_validity_window: 5s
  tap_cooldown: 3s
  intervention_cooldown: 15s
sync:
  batch_interval: 30m
  chunk_size: 25
  item_retries: 2
  retry_delay: 1s
summary:
  hour: 3
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.BaseURL != "http://collector.example:9090" {
		t.Errorf("BaseURL = %s", cfg.Server.BaseURL)
	}
	if cfg.Sync.BatchInterval.Std() != 30*time.Minute {
		t.Errorf("BatchInterval = %v, want 30m", cfg.Sync.BatchInterval.Std())
	}
	if cfg.Sync.ChunkSize != 25 {
		t.Errorf("ChunkSize = %d, want 25", cfg.Sync.ChunkSize)
	}
	names := cfg.TargetNames()
	if names["com.tiktok.android"] != "TikTok" {
		t.Errorf("TargetNames = %v", names)
	}
	if !cfg.InterventionSet()["com.tiktok.android"] {
		t.Errorf("InterventionSet missing com.tiktok.android")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("tracking:\n  poll_interval: fast\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() should fail on unparseable duration")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TAPWATCH_SERVER_URL", "http://override.example:8081")
	t.Setenv("TAPWATCH_DEVICE_ID", "pilot-device-07")
	t.Setenv("TAPWATCH_STATE_DIR", t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Server.BaseURL != "http://override.example:8081" {
		t.Errorf("BaseURL = %s, env override not applied", cfg.Server.BaseURL)
	}
	if cfg.DeviceID != "pilot-device-07" {
		t.Errorf("DeviceID = %s, env override not applied", cfg.DeviceID)
	}
}

func TestNormalize_ClampsPollInterval(t *testing.T) {
	cases := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"too fast", 100 * time.Millisecond, time.Second},
		{"too slow", time.Minute, 10 * time.Second},
		{"in range", 3 * time.Second, 3 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.StateDir = t.TempDir()
			cfg.Tracking.PollInterval = Duration(tc.in)
			if err := cfg.normalize(); err != nil {
				t.Fatalf("normalize() failed: %v", err)
			}
			if cfg.Tracking.PollInterval.Std() != tc.want {
				t.Errorf("PollInterval = %v, want %v", cfg.Tracking.PollInterval.Std(), tc.want)
			}
		})
	}
}

func TestQueueAndPIDPaths(t *testing.T) {
	cfg := Default()
	cfg.StateDir = "/var/lib/tapwatch"
	if got := cfg.QueuePath(); got != "/var/lib/tapwatch/tapwatch.db" {
		t.Errorf("QueuePath() = %s", got)
	}
	if got := cfg.PIDPath(); got != "/var/lib/tapwatch/agent.pid" {
		t.Errorf("PIDPath() = %s", got)
	}
}
