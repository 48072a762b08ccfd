package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/tapwatch/internal/config"
	"github.com/blackwell-systems/tapwatch/internal/device"
	"github.com/blackwell-systems/tapwatch/internal/event"
	"github.com/blackwell-systems/tapwatch/internal/monitor"
	"github.com/blackwell-systems/tapwatch/internal/syncer"
)

type fakeSyncer struct {
	mu      sync.Mutex
	singles []event.Event
	batches [][]event.Event
	replays int
}

func (f *fakeSyncer) SendOne(_ context.Context, ev event.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.singles = append(f.singles, ev)
	return true
}

func (f *fakeSyncer) SendBatch(_ context.Context, events []event.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, events)
	return true
}

func (f *fakeSyncer) Replay(context.Context, int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replays++
	return 0, nil
}

func (f *fakeSyncer) singleEvents() []event.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]event.Event(nil), f.singles...)
}

func (f *fakeSyncer) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeProbe struct {
	network bool
	status  device.Status
}

func (f *fakeProbe) Snapshot() device.Status { return f.status }
func (f *fakeProbe) NetworkAvailable() bool  { return f.network }

type fakeMeta struct{ last time.Time }

func (f fakeMeta) LastBatchSent() (time.Time, error) { return f.last, nil }

// emptyOracle never observes a foreground app, keeping the poll loop quiet.
type emptyOracle struct{}

func (emptyOracle) Query(time.Duration) (string, time.Time, bool) {
	return "", time.Time{}, false
}

func newTestAgent(t *testing.T, engine Syncer, probe device.Probe) *Agent {
	t.Helper()
	cfg := config.Default()
	mon := monitor.New(emptyOracle{}, nil, time.Second, zerolog.Nop())
	return New(cfg, mon, engine, probe, fakeMeta{}, zerolog.Nop())
}

func TestStartIsExclusive(t *testing.T) {
	fs := &fakeSyncer{}
	a := newTestAgent(t, fs, &fakeProbe{network: true, status: device.Status{BatteryLevel: 80}})

	if err := a.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := a.Start(); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() = %v, want ErrAlreadyRunning", err)
	}

	a.Stop()
	if a.Running() {
		t.Error("Running() = true after Stop")
	}

	// A stopped agent can start again.
	if err := a.Start(); err != nil {
		t.Errorf("restart failed: %v", err)
	}
	a.Stop()
}

func TestStopWithoutStartIsNoop(t *testing.T) {
	a := newTestAgent(t, &fakeSyncer{}, &fakeProbe{})
	a.Stop()
}

func TestTapsAreSentImmediately(t *testing.T) {
	fs := &fakeSyncer{}
	a := newTestAgent(t, fs, &fakeProbe{network: true, status: device.Status{BatteryLevel: 80}})

	if err := a.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	defer a.Stop()

	at := time.Now()
	a.RecordTap("Instagram", "com.instagram.android", at)

	deadline := time.After(2 * time.Second)
	for {
		for _, ev := range fs.singleEvents() {
			if tap, ok := ev.(event.AppTap); ok {
				if tap.PackageName != "com.instagram.android" || !tap.Timestamp.Equal(at) {
					t.Errorf("tap = %+v", tap)
				}
				return
			}
		}
		select {
		case <-deadline:
			t.Fatal("tap never reached the sync engine")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestSessionsRideTheBatch(t *testing.T) {
	fs := &fakeSyncer{}
	a := newTestAgent(t, fs, &fakeProbe{network: true, status: device.Status{BatteryLevel: 80}})

	start := time.Now().Add(-time.Minute)
	a.RecordSession("Instagram", "com.instagram.android", start, time.Now())

	if got := a.PendingCounts().Sessions; got != 1 {
		t.Errorf("pending sessions = %d, want 1", got)
	}
	if len(fs.singleEvents()) != 0 {
		t.Error("session was sent immediately, want buffered")
	}
}

func TestFlushBatchIncludesDeviceStatus(t *testing.T) {
	fs := &fakeSyncer{}
	last := time.Now().Add(-time.Hour).Truncate(time.Second)
	probe := &fakeProbe{network: true, status: device.Status{
		BatteryLevel:       64,
		IsCharging:         true,
		ConnectionType:     "wifi",
		ConnectionStrength: "strong",
	}}

	cfg := config.Default()
	mon := monitor.New(emptyOracle{}, nil, time.Second, zerolog.Nop())
	a := New(cfg, mon, fs, probe, fakeMeta{last: last}, zerolog.Nop())

	a.RecordSession("Instagram", "com.instagram.android", time.Now().Add(-time.Minute), time.Now())

	if !a.FlushBatch(context.Background()) {
		t.Fatal("FlushBatch() = false")
	}
	if fs.batchCount() != 1 {
		t.Fatalf("batches = %d, want 1", fs.batchCount())
	}

	var status *event.DeviceStatus
	var sessions int
	for _, ev := range fs.batches[0] {
		switch v := ev.(type) {
		case event.DeviceStatus:
			status = &v
		case event.AppSession:
			sessions++
		}
	}
	if sessions != 1 {
		t.Errorf("sessions in batch = %d, want 1", sessions)
	}
	if status == nil {
		t.Fatal("batch carries no device status")
	}
	if status.BatteryLevel != 64 || !status.IsCharging {
		t.Errorf("status = %+v", status)
	}
	if status.AppVersion != syncer.Version {
		t.Errorf("AppVersion = %s, want %s", status.AppVersion, syncer.Version)
	}
	if !status.LastBatchSent.Equal(last) {
		t.Errorf("LastBatchSent = %v, want %v", status.LastBatchSent, last)
	}

	if a.PendingCounts().Total() != 0 {
		t.Error("buffer not drained after flush")
	}
}

func TestReplayGating(t *testing.T) {
	cases := []struct {
		name    string
		network bool
		status  device.Status
		want    bool
	}{
		{"online, healthy battery", true, device.Status{BatteryLevel: 50}, true},
		{"online, battery at floor", true, device.Status{BatteryLevel: 20}, false},
		{"online, low battery but charging", true, device.Status{BatteryLevel: 5, IsCharging: true}, true},
		{"offline", false, device.Status{BatteryLevel: 100}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAgent(t, &fakeSyncer{}, &fakeProbe{network: tc.network, status: tc.status})
			if got := a.replayAllowed(); got != tc.want {
				t.Errorf("replayAllowed() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestInterventionLifecycle(t *testing.T) {
	fs := &fakeSyncer{}
	a := newTestAgent(t, fs, &fakeProbe{network: true, status: device.Status{BatteryLevel: 80}})

	a.Show("com.instagram.android")
	if !a.Showing() {
		t.Fatal("Showing() = false after Show")
	}

	// A second Show while the overlay is up must not open another record.
	a.Show("com.instagram.android")

	a.EndIntervention(InterventionOutcome{ButtonClicked: "Close app", VideoDurationSec: 30})
	if a.Showing() {
		t.Error("Showing() = true after EndIntervention")
	}

	// The intervention goes out through the immediate path; it sits in the
	// send channel until the sender runs, so inspect the buffer via drain.
	a.drainSendCh()
	events := a.store.DrainAll()
	var ivs []event.Intervention
	for _, ev := range events {
		if iv, ok := ev.(event.Intervention); ok {
			ivs = append(ivs, iv)
		}
	}
	if len(ivs) != 1 {
		t.Fatalf("interventions = %d, want 1", len(ivs))
	}
	iv := ivs[0]
	if iv.AppName != "Instagram" || iv.InterventionType != "delay" || iv.ButtonClicked != "Close app" {
		t.Errorf("intervention = %+v", iv)
	}
	if iv.InterventionEnd.Before(iv.InterventionStart) {
		t.Errorf("intervention ends before it starts: %+v", iv)
	}
	if iv.VideoDuration == nil || *iv.VideoDuration != 30 {
		t.Errorf("VideoDuration = %v, want 30", iv.VideoDuration)
	}
	if iv.RequiredWatchTime == nil || *iv.RequiredWatchTime != 10 {
		t.Errorf("RequiredWatchTime = %v, want 10", iv.RequiredWatchTime)
	}
}

func TestInterventionWatchTimeDefaults(t *testing.T) {
	a := newTestAgent(t, &fakeSyncer{}, &fakeProbe{network: true, status: device.Status{BatteryLevel: 80}})

	// An outcome without watch-time data still reports the required watch
	// time; the video duration stays unset rather than reporting zero.
	a.Show("com.instagram.android")
	a.EndIntervention(InterventionOutcome{ButtonClicked: "Continue"})

	a.drainSendCh()
	events := a.store.DrainAll()
	var ivs []event.Intervention
	for _, ev := range events {
		if iv, ok := ev.(event.Intervention); ok {
			ivs = append(ivs, iv)
		}
	}
	if len(ivs) != 1 {
		t.Fatalf("interventions = %d, want 1", len(ivs))
	}
	iv := ivs[0]
	if iv.RequiredWatchTime == nil || *iv.RequiredWatchTime != 10 {
		t.Errorf("RequiredWatchTime = %v, want 10", iv.RequiredWatchTime)
	}
	if iv.VideoDuration != nil {
		t.Errorf("VideoDuration = %v, want unset", *iv.VideoDuration)
	}
}

func TestEndInterventionWithoutShowIsNoop(t *testing.T) {
	a := newTestAgent(t, &fakeSyncer{}, &fakeProbe{})
	a.EndIntervention(InterventionOutcome{ButtonClicked: "Continue"})
	a.drainSendCh()
	if got := a.store.PeekCounts().Interventions; got != 0 {
		t.Errorf("interventions = %d, want 0", got)
	}
}

func TestNextSummaryTime(t *testing.T) {
	loc := time.UTC
	cases := []struct {
		name string
		now  time.Time
		hour int
		want time.Time
	}{
		{
			"before the hour, same day",
			time.Date(2026, 3, 14, 2, 30, 0, 0, loc), 4,
			time.Date(2026, 3, 14, 4, 0, 0, 0, loc),
		},
		{
			"after the hour, next day",
			time.Date(2026, 3, 14, 5, 0, 0, 0, loc), 4,
			time.Date(2026, 3, 15, 4, 0, 0, 0, loc),
		},
		{
			"exactly at the hour, next day",
			time.Date(2026, 3, 14, 4, 0, 0, 0, loc), 4,
			time.Date(2026, 3, 15, 4, 0, 0, 0, loc),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := nextSummaryTime(tc.now, tc.hour); !got.Equal(tc.want) {
				t.Errorf("nextSummaryTime() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEmitSummary(t *testing.T) {
	fs := &fakeSyncer{}
	a := newTestAgent(t, fs, &fakeProbe{network: true, status: device.Status{BatteryLevel: 80}})
	a.nowFn = func() time.Time {
		return time.Date(2026, 3, 15, 4, 0, 0, 0, time.UTC)
	}

	a.RecordTap("Instagram", "com.instagram.android", time.Now())
	a.RecordSession("Instagram", "com.instagram.android",
		time.Now().Add(-10*time.Minute), time.Now())

	a.emitSummary(context.Background())

	var got *event.DailySummary
	for _, ev := range fs.singleEvents() {
		if s, ok := ev.(event.DailySummary); ok {
			got = &s
		}
	}
	if got == nil {
		t.Fatal("no summary sent")
	}
	if got.Date != "2026-03-14" {
		t.Errorf("Date = %s, want the day that ended", got.Date)
	}
	ig := got.AppTotals["Instagram"]
	if ig.TotalTaps != 1 || ig.Sessions != 1 {
		t.Errorf("Instagram totals = %+v", ig)
	}

	// A second emit with no new activity sends nothing.
	before := len(fs.singleEvents())
	a.emitSummary(context.Background())
	if len(fs.singleEvents()) != before {
		t.Error("summary re-sent with empty accumulator")
	}
}
