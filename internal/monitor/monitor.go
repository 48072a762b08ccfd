// Package monitor observes which application is in the foreground.
//
// The underlying platform facility is modeled as an Oracle: an opaque query
// returning the package most recently brought to the foreground within a
// trailing window. The Monitor polls the oracle on a fixed interval and
// forwards transitions to a sink (the classifier). Oracle readings are
// noisy: transient empty results are debounced with a widened fallback
// query rather than treated as the user leaving the app.
package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Trailing query windows. The short window is the normal read; the wide
// window is the fallback when the short read comes back empty but an app was
// recently on screen.
const (
	shortWindow = 5 * time.Second
	wideWindow  = 10 * time.Second

	// staleLimit bounds how old a wide-window reading may be before the
	// previous app is no longer assumed active.
	staleLimit = 3 * time.Second
)

// ForegroundEvent is one observation of the current foreground app.
type ForegroundEvent struct {
	PackageName string
	ObservedAt  time.Time
}

// Oracle answers "what package was most recently foregrounded within this
// trailing window". Implementations must tolerate having no answer.
type Oracle interface {
	Query(window time.Duration) (pkg string, lastSeen time.Time, ok bool)
}

// ScreenOracle reports whether the device screen is interactive. While the
// screen is off, polling is skipped entirely.
type ScreenOracle interface {
	ScreenOn() bool
}

// AlwaysOn is the default ScreenOracle for platforms without a screen-state
// source.
type AlwaysOn struct{}

func (AlwaysOn) ScreenOn() bool { return true }

// Monitor polls the oracle on a fixed interval.
type Monitor struct {
	oracle   Oracle
	screen   ScreenOracle
	interval time.Duration
	log      zerolog.Logger

	lastPkg string
	nowFn   func() time.Time
}

// New creates a Monitor. A nil screen oracle defaults to AlwaysOn.
func New(oracle Oracle, screen ScreenOracle, interval time.Duration, log zerolog.Logger) *Monitor {
	if screen == nil {
		screen = AlwaysOn{}
	}
	return &Monitor{
		oracle:   oracle,
		screen:   screen,
		interval: interval,
		log:      log.With().Str("component", "monitor").Logger(),
		nowFn:    time.Now,
	}
}

// Poll performs one oracle read. It returns the current foreground package,
// or ok=false when the oracle has no usable answer; absence means "no
// change", never an error.
func (m *Monitor) Poll() (ForegroundEvent, bool) {
	now := m.nowFn()

	pkg, _, ok := m.oracle.Query(shortWindow)
	if ok && pkg != "" {
		m.lastPkg = pkg
		return ForegroundEvent{PackageName: pkg, ObservedAt: now}, true
	}

	// Empty short read but a previous app was on screen: the oracle
	// sometimes returns nothing for an app that is still active. Confirm
	// with a wider window before concluding anything changed.
	if m.lastPkg != "" {
		pkg, lastSeen, ok := m.oracle.Query(wideWindow)
		if ok && pkg == m.lastPkg && now.Sub(lastSeen) < staleLimit {
			return ForegroundEvent{PackageName: pkg, ObservedAt: now}, true
		}
	}

	return ForegroundEvent{}, false
}

// Run polls until ctx is cancelled, delivering each observation to sink.
// Transitions for a given package are strictly ordered because this loop is
// the only caller of sink.
func (m *Monitor) Run(ctx context.Context, sink func(ForegroundEvent)) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", m.interval).Msg("foreground monitoring started")

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("foreground monitoring stopped")
			return
		case <-ticker.C:
			if !m.screen.ScreenOn() {
				continue
			}
			if ev, ok := m.Poll(); ok {
				sink(ev)
			}
		}
	}
}
