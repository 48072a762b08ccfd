// Package agent wires the monitor, classifier, buffer, and sync engine into
// the long-running tapwatch daemon.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/tapwatch/internal/buffer"
	"github.com/blackwell-systems/tapwatch/internal/classifier"
	"github.com/blackwell-systems/tapwatch/internal/config"
	"github.com/blackwell-systems/tapwatch/internal/device"
	"github.com/blackwell-systems/tapwatch/internal/event"
	"github.com/blackwell-systems/tapwatch/internal/monitor"
	"github.com/blackwell-systems/tapwatch/internal/summary"
	"github.com/blackwell-systems/tapwatch/internal/syncer"
)

// ErrAlreadyRunning is returned by Start when the agent is active.
var ErrAlreadyRunning = errors.New("agent: already running")

const (
	// sendQueueDepth bounds the immediate-send channel. Overflow spills to
	// the hourly batch instead of blocking the poll loop.
	sendQueueDepth = 64

	// interventionTimeout force-closes an overlay whose outcome was never
	// reported, so the intervention gate cannot wedge shut.
	interventionTimeout = 2 * time.Minute

	// defaultInterventionType matches the overlay the platform glue shows.
	defaultInterventionType = "delay"

	// defaultRequiredWatchSec is how long the overlay must be watched before
	// the skip button unlocks.
	defaultRequiredWatchSec = 10
)

// InterventionOutcome describes how an overlay was dismissed, as reported by
// the platform glue.
type InterventionOutcome struct {
	// ButtonClicked is the dismissal button, e.g. "Continue" or "Close app".
	// Empty when the outcome was never reported (force-close).
	ButtonClicked string
	// VideoDurationSec is the length of the delay video that was played.
	VideoDurationSec int
	// RequiredWatchSec overrides the default minimum watch time.
	RequiredWatchSec int
}

// Syncer is the slice of the sync engine the agent drives.
type Syncer interface {
	SendOne(ctx context.Context, ev event.Event) bool
	SendBatch(ctx context.Context, events []event.Event) bool
	Replay(ctx context.Context, max int) (int, error)
}

// BatchMeta reads sync bookkeeping persisted by the offline queue.
type BatchMeta interface {
	LastBatchSent() (time.Time, error)
}

// openIntervention tracks an overlay between Show and EndIntervention.
type openIntervention struct {
	appName string
	start   time.Time
	timer   *time.Timer
}

// Agent runs the telemetry pipeline: poll loop feeding the classifier,
// immediate sends for time-sensitive events, hourly batch flushes, a daily
// summary, and periodic offline replay.
type Agent struct {
	cfg     *config.Config
	monitor *monitor.Monitor
	engine  Syncer
	probe   device.Probe
	meta    BatchMeta
	store   *buffer.Store
	acc     *summary.Accumulator
	cls     *classifier.Classifier
	log     zerolog.Logger

	sendCh chan event.Event

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	open    *openIntervention

	nowFn func() time.Time
}

// New assembles an agent from its collaborators. The classifier is built
// internally; the agent itself is its Recorder and Intervenor.
func New(cfg *config.Config, mon *monitor.Monitor, engine Syncer, probe device.Probe, meta BatchMeta, log zerolog.Logger) *Agent {
	a := &Agent{
		cfg:     cfg,
		monitor: mon,
		engine:  engine,
		probe:   probe,
		meta:    meta,
		store:   buffer.New(),
		acc:     summary.NewAccumulator(),
		log:     log.With().Str("component", "agent").Logger(),
		sendCh:  make(chan event.Event, sendQueueDepth),
		nowFn:   time.Now,
	}
	a.cls = classifier.New(classifier.Config{
		Targets:              cfg.TargetNames(),
		InterventionTargets:  cfg.InterventionSet(),
		TapValidity:          cfg.Tracking.TapValidityWindow.Std(),
		TapCooldown:          cfg.Tracking.TapCooldown.Std(),
		InterventionCooldown: cfg.Tracking.InterventionCooldown.Std(),
	}, a, a, log)
	return a
}

// Start launches the agent's loops. Returns ErrAlreadyRunning if active.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.running = true

	a.wg.Add(4)
	go a.pollLoop(ctx)
	go a.sendLoop(ctx)
	go a.batchLoop(ctx)
	go a.replayLoop(ctx)

	a.wg.Add(1)
	go a.summaryLoop(ctx)

	a.log.Info().
		Str("server", a.cfg.Server.BaseURL).
		Int("targets", len(a.cfg.Tracking.Targets)).
		Msg("agent started")
	return nil
}

// Stop halts all loops, closes any open session, and flushes buffered events
// in a final batch. Safe to call when not running.
func (a *Agent) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	cancel := a.cancel
	a.mu.Unlock()

	cancel()
	a.wg.Wait()

	a.cls.Flush(a.nowFn())

	// Best-effort final flush; undelivered events land in the offline
	// queue and survive the restart.
	ctx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	a.drainSendCh()
	a.FlushBatch(ctx)

	a.log.Info().Msg("agent stopped")
}

// Running reports whether the agent loops are active.
func (a *Agent) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// PendingCounts reports buffered, not-yet-flushed events.
func (a *Agent) PendingCounts() buffer.Counts {
	return a.store.PeekCounts()
}

// pollLoop drives the monitor; every observation flows into the classifier.
func (a *Agent) pollLoop(ctx context.Context) {
	defer a.wg.Done()
	a.monitor.Run(ctx, a.cls.Observe)
}

// sendLoop delivers immediate events one at a time so a slow collector never
// blocks classification.
func (a *Agent) sendLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.sendCh:
			a.engine.SendOne(ctx, ev)
		}
	}
}

// batchLoop flushes the buffer on the batch interval.
func (a *Agent) batchLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.Sync.BatchInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.FlushBatch(ctx)
		}
	}
}

// replayLoop periodically re-attempts queued offline events, gated on
// connectivity and battery so replay never worsens a low-battery situation.
func (a *Agent) replayLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.Sync.ReplayInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.replayAllowed() {
				continue
			}
			n, err := a.engine.Replay(ctx, a.cfg.Sync.ReplayMax)
			if err != nil {
				a.log.Warn().Err(err).Msg("offline replay failed")
			} else if n > 0 {
				a.log.Info().Int("delivered", n).Msg("replayed queued events")
			}
		}
	}
}

// replayAllowed gates replay on network reachability and battery. Charging
// bypasses the battery floor.
func (a *Agent) replayAllowed() bool {
	if !a.probe.NetworkAvailable() {
		return false
	}
	st := a.probe.Snapshot()
	return st.IsCharging || st.BatteryLevel > a.cfg.Sync.MinBattery
}

// summaryLoop sends the daily summary at the configured local hour.
func (a *Agent) summaryLoop(ctx context.Context) {
	defer a.wg.Done()

	for {
		now := a.nowFn()
		timer := time.NewTimer(nextSummaryTime(now, a.cfg.Summary.Hour).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			a.emitSummary(ctx)
		}
	}
}

// nextSummaryTime returns the next occurrence of hour:00 local time strictly
// after now.
func nextSummaryTime(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// emitSummary builds and sends the summary for the day that just ended, then
// resets the accumulator. SendOne queues offline on failure, so the totals
// are never lost by resetting.
func (a *Agent) emitSummary(ctx context.Context) {
	if a.acc.Empty() {
		return
	}
	day := a.nowFn().AddDate(0, 0, -1)
	s := a.acc.Build(day)
	a.acc.Reset()
	a.engine.SendOne(ctx, s)
	a.log.Info().Str("date", s.Date).Int("apps", len(s.AppTotals)).Msg("daily summary sent")
}

// FlushBatch snapshots device status, drains the buffer, and sends everything
// as a chunked batch. Undelivered events are queued offline by the engine.
func (a *Agent) FlushBatch(ctx context.Context) bool {
	lastBatch, err := a.meta.LastBatchSent()
	if err != nil {
		a.log.Warn().Err(err).Msg("could not read last batch time")
	}
	st := a.probe.Snapshot()
	a.store.Record(event.DeviceStatus{
		BatteryLevel:       st.BatteryLevel,
		IsCharging:         st.IsCharging,
		ConnectionType:     st.ConnectionType,
		ConnectionStrength: st.ConnectionStrength,
		AppVersion:         syncer.Version,
		LastBatchSent:      lastBatch,
	})

	events := a.store.DrainAll()
	ok := a.engine.SendBatch(ctx, events)
	a.log.Debug().Int("events", len(events)).Bool("delivered", ok).Msg("batch flushed")
	return ok
}

// sendImmediate hands an event to the sender goroutine. If the channel is
// full the event spills to the batch buffer instead of blocking the caller.
func (a *Agent) sendImmediate(ev event.Event) {
	select {
	case a.sendCh <- ev:
	default:
		a.log.Warn().Str("event_type", string(ev.EventType())).
			Msg("send queue full, deferring to batch")
		a.store.Record(ev)
	}
}

// drainSendCh moves anything still waiting for immediate delivery into the
// batch buffer, used at shutdown before the final flush.
func (a *Agent) drainSendCh() {
	for {
		select {
		case ev := <-a.sendCh:
			a.store.Record(ev)
		default:
			return
		}
	}
}

// RecordTap implements classifier.Recorder. Taps are time-sensitive and go
// out immediately.
func (a *Agent) RecordTap(appName, packageName string, at time.Time) {
	a.acc.AddTap(appName)
	a.sendImmediate(event.AppTap{
		Timestamp:   at,
		AppName:     appName,
		PackageName: packageName,
	})
}

// RecordSession implements classifier.Recorder. Sessions ride the hourly
// batch.
func (a *Agent) RecordSession(appName, packageName string, start, end time.Time) {
	a.acc.AddSession(appName, end.Sub(start))
	a.store.Record(event.AppSession{
		AppName:      appName,
		PackageName:  packageName,
		SessionStart: start,
		SessionEnd:   end,
	})
}

// NoteTap forwards an externally observed tap to the classifier.
func (a *Agent) NoteTap(packageName string, at time.Time) {
	a.cls.NoteTap(packageName, at)
}

// Showing implements classifier.Intervenor.
func (a *Agent) Showing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open != nil
}

// Show implements classifier.Intervenor: it opens the intervention record.
// The platform glue reports the outcome through EndIntervention; an overlay
// that never reports back is force-closed after a timeout.
func (a *Agent) Show(packageName string) {
	appName := a.cfg.TargetNames()[packageName]
	now := a.nowFn()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.open != nil {
		return
	}
	a.open = &openIntervention{
		appName: appName,
		start:   now,
		timer: time.AfterFunc(interventionTimeout, func() {
			a.log.Warn().Str("app", appName).Msg("intervention outcome never reported, force-closing")
			a.EndIntervention(InterventionOutcome{})
		}),
	}
	a.log.Info().Str("app", appName).Msg("intervention triggered")
}

// EndIntervention closes the open overlay with the reported outcome and
// sends the intervention event immediately. No-op when nothing is open.
func (a *Agent) EndIntervention(outcome InterventionOutcome) {
	a.mu.Lock()
	open := a.open
	a.open = nil
	a.mu.Unlock()
	if open == nil {
		return
	}
	open.timer.Stop()

	required := outcome.RequiredWatchSec
	if required <= 0 {
		required = defaultRequiredWatchSec
	}
	iv := event.Intervention{
		InterventionStart: open.start,
		InterventionEnd:   a.nowFn(),
		AppName:           open.appName,
		InterventionType:  defaultInterventionType,
		RequiredWatchTime: &required,
		ButtonClicked:     outcome.ButtonClicked,
	}
	if outcome.VideoDurationSec > 0 {
		d := outcome.VideoDurationSec
		iv.VideoDuration = &d
	}
	a.acc.AddIntervention(iv)
	a.sendImmediate(iv)
}
