package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/tapwatch/internal/config"
	"github.com/blackwell-systems/tapwatch/internal/device"
	"github.com/blackwell-systems/tapwatch/internal/offline"
	"github.com/blackwell-systems/tapwatch/internal/syncer"
)

// openQueue opens the offline queue under the state directory, creating the
// directory if needed.
func openQueue(cfg *config.Config) (*offline.Queue, error) {
	if _, err := cfg.EnsureStateDir(); err != nil {
		return nil, err
	}
	q, err := offline.Open(cfg.QueuePath())
	if err != nil {
		return nil, fmt.Errorf("open offline queue: %w", err)
	}
	q.SetMaxRows(cfg.Sync.MaxQueueRows)
	return q, nil
}

// resolveDeviceID returns the configured device ID, or the persistent
// generated one from the queue's meta table.
func resolveDeviceID(cfg *config.Config, q *offline.Queue) (string, error) {
	if cfg.DeviceID != "" {
		return cfg.DeviceID, nil
	}
	id, err := q.DeviceID()
	if err != nil {
		return "", fmt.Errorf("resolve device id: %w", err)
	}
	return id, nil
}

// newEngine assembles the sync engine from config.
func newEngine(cfg *config.Config, q *offline.Queue, log zerolog.Logger) (*syncer.Engine, *syncer.Client, error) {
	deviceID, err := resolveDeviceID(cfg, q)
	if err != nil {
		return nil, nil, err
	}

	client := syncer.NewClient(cfg.Server.BaseURL, deviceID, cfg.Server.Timeout.Std())
	probe := device.NewSystemProbe(cfg.Server.BaseURL)
	engine := syncer.NewEngine(client, q, probe,
		cfg.Sync.ChunkSize, cfg.Sync.ItemRetries, cfg.Sync.RetryDelay.Std(), log)
	return engine, client, nil
}

// writePIDFile records the current process ID for status checks.
func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// removePIDFile deletes the PID file, ignoring a missing one.
func removePIDFile(path string) {
	_ = os.Remove(path)
}

// agentPID reads the PID file and reports the recorded process if it is
// still alive. Returns (0, false) for a missing file, a stale file, or a
// dead process.
func agentPID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	// Signal 0 probes for existence without touching the process.
	if err := syscall.Kill(pid, 0); err != nil {
		return 0, false
	}
	return pid, true
}
