// Package event defines the telemetry event union shared by the buffer,
// the sync engine, and the offline queue.
//
// Every event carries an eventType discriminator on the wire so the
// collector can route it without inspecting the payload shape. Timestamps
// are RFC 3339 with the device's UTC offset preserved; the collector
// relies on embedded timestamps rather than delivery order.
package event

import "time"

// Type is the wire discriminator for a telemetry event.
type Type string

const (
	TypeAppSession   Type = "app_session"
	TypeAppTap       Type = "app_tap"
	TypeIntervention Type = "intervention"
	TypeDeviceStatus Type = "device_status"
	TypeDailySummary Type = "daily_summary"
)

// Event is the tagged union of telemetry payloads. The concrete types are
// AppSession, AppTap, Intervention, DeviceStatus, and DailySummary; the
// codec in this package matches on them exhaustively.
type Event interface {
	EventType() Type
}

// AppSession records one consciously opened usage session of a tracked app.
// SessionEnd is always >= SessionStart; sessions for the same package never
// overlap (enforced by the classifier).
type AppSession struct {
	AppName      string    `json:"appName"`
	PackageName  string    `json:"packageName"`
	SessionStart time.Time `json:"sessionStart"`
	SessionEnd   time.Time `json:"sessionEnd"`
}

func (AppSession) EventType() Type { return TypeAppSession }

// AppTap records a conscious tap on a tracked app's launcher icon. Taps are
// time-sensitive signals for the conscious-open heuristic and are sent
// immediately rather than batched.
type AppTap struct {
	Timestamp   time.Time `json:"timestamp"`
	AppName     string    `json:"appName"`
	PackageName string    `json:"packageName"`
}

func (AppTap) EventType() Type { return TypeAppTap }

// Intervention records one forced-delay overlay shown before a tracked app
// became usable, including how the user dismissed it.
type Intervention struct {
	InterventionStart time.Time `json:"interventionStart"`
	InterventionEnd   time.Time `json:"interventionEnd"`
	AppName           string    `json:"appName"`
	InterventionType  string    `json:"interventionType"`
	VideoDuration     *int      `json:"videoDuration,omitempty"`
	RequiredWatchTime *int      `json:"requiredWatchTime,omitempty"`
	ButtonClicked     string    `json:"buttonClicked"`
}

func (Intervention) EventType() Type { return TypeIntervention }

// DeviceStatus is a point-in-time device health snapshot, captured once per
// sync cycle.
type DeviceStatus struct {
	BatteryLevel       int       `json:"batteryLevel"`
	IsCharging         bool      `json:"isCharging"`
	ConnectionType     string    `json:"connectionType"`
	ConnectionStrength string    `json:"connectionStrength"`
	AppVersion         string    `json:"appVersion"`
	LastBatchSent      time.Time `json:"lastBatchSent"`
}

func (DeviceStatus) EventType() Type { return TypeDeviceStatus }

// AppStats aggregates one app's activity for a daily summary.
type AppStats struct {
	Minutes            int `json:"minutes"`
	Sessions           int `json:"sessions"`
	TotalTaps          int `json:"totalTaps"`
	TotalDelays        int `json:"totalDelays"`
	TotalAbandonments  int `json:"totalAbandonments"`
	TotalInterruptions int `json:"totalInterruptions"`
}

// DailySummary rolls up one calendar day of tracked activity per app.
// Date is a plain YYYY-MM-DD string in the device's local zone.
type DailySummary struct {
	Date            string              `json:"date"`
	TotalScreenTime int                 `json:"totalScreenTime"`
	AppTotals       map[string]AppStats `json:"appTotals"`
}

func (DailySummary) EventType() Type { return TypeDailySummary }
