// Package classifier turns raw foreground observations into conscious-open
// sessions, tap telemetry, and intervention triggers.
//
// The core business rule: a foreground transition into a tracked app counts
// as a session only when a tap for that app was recorded within the tap
// validity window BEFORE the transition. Transitions without a preceding tap
// (app resumed from background, launched by another app) record no session.
//
// The classifier is driven by a single sequential poll loop, so transitions
// for one package are strictly ordered and no internal locking is needed.
package classifier

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/tapwatch/internal/monitor"
)

// Default timing rules.
const (
	// DefaultTapValidity is how long after a tap a foreground confirmation
	// still opens a session.
	DefaultTapValidity = 5 * time.Second
	// DefaultTapCooldown is the minimum spacing between tap recordings for
	// the same package, suppressing duplicate transitions.
	DefaultTapCooldown = 3 * time.Second
	// DefaultInterventionCooldown is the minimum spacing between overlay
	// triggers, independent of session logic.
	DefaultInterventionCooldown = 15 * time.Second
)

// Recorder receives classified telemetry.
type Recorder interface {
	RecordTap(appName, packageName string, at time.Time)
	RecordSession(appName, packageName string, start, end time.Time)
}

// Intervenor shows the forced-delay overlay. Showing reports whether an
// overlay is currently on screen; Show is only called when it is not and the
// cooldown has elapsed.
type Intervenor interface {
	Showing() bool
	Show(packageName string)
}

// Config carries the classifier's tracked-app sets and timing rules.
type Config struct {
	// Targets maps tracked package names to human-readable app names.
	Targets map[string]string
	// InterventionTargets is the subset of packages that trigger overlays.
	InterventionTargets map[string]bool

	TapValidity          time.Duration
	TapCooldown          time.Duration
	InterventionCooldown time.Duration
}

// Classifier is the per-package tap/session state machine.
type Classifier struct {
	cfg        Config
	recorder   Recorder
	intervenor Intervenor
	log        zerolog.Logger

	// nowFn is swapped in tests.
	nowFn func() time.Time

	lastForeground string

	// recentTaps holds at most one live tap per package; a newer tap
	// overwrites an older one.
	recentTaps map[string]time.Time
	// lastTapRecorded enforces the tap cooldown.
	lastTapRecorded map[string]time.Time

	// At most one session is open at a time: the foreground is singular.
	activePkg   string
	activeStart time.Time

	lastInterventionAt time.Time
}

// New creates a classifier. Zero timing values take the defaults.
func New(cfg Config, recorder Recorder, intervenor Intervenor, log zerolog.Logger) *Classifier {
	if cfg.TapValidity <= 0 {
		cfg.TapValidity = DefaultTapValidity
	}
	if cfg.TapCooldown <= 0 {
		cfg.TapCooldown = DefaultTapCooldown
	}
	if cfg.InterventionCooldown <= 0 {
		cfg.InterventionCooldown = DefaultInterventionCooldown
	}
	return &Classifier{
		cfg:             cfg,
		recorder:        recorder,
		intervenor:      intervenor,
		log:             log.With().Str("component", "classifier").Logger(),
		nowFn:           time.Now,
		recentTaps:      make(map[string]time.Time),
		lastTapRecorded: make(map[string]time.Time),
	}
}

// NoteTap records an externally observed tap (e.g. reported by the launcher
// integration) so a subsequent foreground confirmation opens a session.
// Subject to the same per-package cooldown as monitor-derived taps.
func (c *Classifier) NoteTap(packageName string, at time.Time) {
	name, tracked := c.cfg.Targets[packageName]
	if !tracked {
		return
	}
	c.recordTap(name, packageName, at)
}

// Observe processes one foreground observation. Must be called from a single
// goroutine (the monitor loop).
func (c *Classifier) Observe(ev monitor.ForegroundEvent) {
	pkg := ev.PackageName
	now := ev.ObservedAt
	if now.IsZero() {
		now = c.nowFn()
	}

	transition := pkg != c.lastForeground

	if transition {
		c.handleTransition(pkg, now)
	}

	c.maybeIntervene(pkg, now)
	c.purgeExpiredTaps(now)
	c.lastForeground = pkg
}

// handleTransition runs the session state machine for a foreground change.
func (c *Classifier) handleTransition(pkg string, now time.Time) {
	name, tracked := c.cfg.Targets[pkg]

	// Leaving the active session's app closes the session no matter what
	// comes next. Even sub-second sessions are recorded.
	if c.activePkg != "" && pkg != c.activePkg {
		c.closeSession(now)
	}

	if !tracked {
		return
	}

	// A pre-existing valid tap promotes this transition to a conscious
	// open. The check runs before the new tap below: the transition must
	// not vouch for itself.
	if tapAt, ok := c.recentTaps[pkg]; ok && now.Sub(tapAt) <= c.cfg.TapValidity {
		delete(c.recentTaps, pkg)
		c.activePkg = pkg
		c.activeStart = now
		c.log.Debug().Str("package", pkg).Time("start", now).Msg("conscious session opened")
	} else {
		c.log.Debug().Str("package", pkg).Msg("foreground without recent tap, no session")
	}

	// The transition into a tracked app is itself the tap signal for a
	// possible conscious re-open within the validity window.
	c.recordTap(name, pkg, now)
}

// recordTap registers a tap unless the per-package cooldown suppresses it.
func (c *Classifier) recordTap(appName, pkg string, now time.Time) {
	if last, ok := c.lastTapRecorded[pkg]; ok && now.Sub(last) < c.cfg.TapCooldown {
		return
	}
	c.recentTaps[pkg] = now
	c.lastTapRecorded[pkg] = now
	c.recorder.RecordTap(appName, pkg, now)
}

// closeSession finalizes the open session, if any.
func (c *Classifier) closeSession(now time.Time) {
	if c.activePkg == "" {
		return
	}
	end := now
	if end.Before(c.activeStart) {
		end = c.activeStart
	}
	name := c.cfg.Targets[c.activePkg]
	c.recorder.RecordSession(name, c.activePkg, c.activeStart, end)
	c.log.Debug().Str("package", c.activePkg).
		Dur("duration", end.Sub(c.activeStart)).Msg("session closed")

	c.activePkg = ""
	c.activeStart = time.Time{}
}

// maybeIntervene triggers the overlay for intervention targets, gated on the
// overlay not already showing and the intervention cooldown. Orthogonal to
// tap/session state.
func (c *Classifier) maybeIntervene(pkg string, now time.Time) {
	if c.intervenor == nil || !c.cfg.InterventionTargets[pkg] {
		return
	}
	if c.intervenor.Showing() {
		return
	}
	if !c.lastInterventionAt.IsZero() && now.Sub(c.lastInterventionAt) < c.cfg.InterventionCooldown {
		return
	}
	c.lastInterventionAt = now
	c.intervenor.Show(pkg)
}

// purgeExpiredTaps is the cleanup pass removing taps older than the
// validity window (Tapped -> Idle timeout).
func (c *Classifier) purgeExpiredTaps(now time.Time) {
	for pkg, at := range c.recentTaps {
		if now.Sub(at) > c.cfg.TapValidity {
			delete(c.recentTaps, pkg)
		}
	}
}

// Flush closes any open session, used at shutdown so an in-progress session
// is not silently lost.
func (c *Classifier) Flush(now time.Time) {
	c.closeSession(now)
}
