// Package device reads battery and connectivity state for device-status
// telemetry and for gating offline replay.
package device

import (
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Status is a point-in-time device health reading.
type Status struct {
	BatteryLevel       int
	IsCharging         bool
	ConnectionType     string // "wifi" or "none"
	ConnectionStrength string // "strong" or "none"
}

// Probe reports device health. The sync engine checks NetworkAvailable
// before any delivery attempt; the replay loop additionally checks battery.
type Probe interface {
	Snapshot() Status
	NetworkAvailable() bool
}

// SystemProbe reads battery state from the power-supply sysfs tree and
// checks connectivity with a TCP dial against the collector host. On hosts
// without a battery (or a non-Linux filesystem layout) the battery reads
// fall back to full-and-charging, which keeps replay gating permissive.
type SystemProbe struct {
	// PowerSupplyRoot is the sysfs directory scanned for BAT* supplies.
	PowerSupplyRoot string
	// ProbeAddr is the host:port dialed to check reachability.
	ProbeAddr string
	// DialTimeout bounds the reachability dial.
	DialTimeout time.Duration
}

// NewSystemProbe builds a probe that checks reachability against the
// collector's base URL.
func NewSystemProbe(baseURL string) *SystemProbe {
	return &SystemProbe{
		PowerSupplyRoot: "/sys/class/power_supply",
		ProbeAddr:       probeAddrFromURL(baseURL),
		DialTimeout:     2 * time.Second,
	}
}

// probeAddrFromURL extracts host:port from a collector URL, defaulting the
// port from the scheme.
func probeAddrFromURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	return host
}

// Snapshot implements Probe.
func (p *SystemProbe) Snapshot() Status {
	level, charging := p.readBattery()

	st := Status{
		BatteryLevel:       level,
		IsCharging:         charging,
		ConnectionType:     "none",
		ConnectionStrength: "none",
	}
	if p.NetworkAvailable() {
		st.ConnectionType = "wifi"
		st.ConnectionStrength = "strong"
	}
	return st
}

// NetworkAvailable implements Probe. No probe address means connectivity
// cannot be checked; report available and let the HTTP call fail normally.
func (p *SystemProbe) NetworkAvailable() bool {
	if p.ProbeAddr == "" {
		return true
	}
	conn, err := net.DialTimeout("tcp", p.ProbeAddr, p.DialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// readBattery scans PowerSupplyRoot for the first BAT* supply and reads its
// capacity and charging status. Missing or unreadable files fall back to
// (100, true).
func (p *SystemProbe) readBattery() (level int, charging bool) {
	level, charging = 100, true

	entries, err := os.ReadDir(p.PowerSupplyRoot)
	if err != nil {
		return level, charging
	}

	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "BAT") {
			continue
		}
		dir := filepath.Join(p.PowerSupplyRoot, entry.Name())

		if data, err := os.ReadFile(filepath.Join(dir, "capacity")); err == nil {
			if v, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && v >= 0 && v <= 100 {
				level = v
			}
		}
		if data, err := os.ReadFile(filepath.Join(dir, "status")); err == nil {
			s := strings.TrimSpace(string(data))
			charging = s == "Charging" || s == "Full"
		}
		break
	}
	return level, charging
}
