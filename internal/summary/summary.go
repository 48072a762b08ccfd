// Package summary accumulates per-app daily usage totals.
package summary

import (
	"sort"
	"sync"
	"time"

	"github.com/blackwell-systems/tapwatch/internal/event"
)

// Intervention type and outcome strings as they appear on the wire.
const (
	typeDelay        = "delay"
	typeInterruption = "interruption"
	buttonCloseApp   = "Close app"
)

// DateLayout is the wire format of a summary's Date field.
const DateLayout = "2006-01-02"

type appTotals struct {
	screenTime    time.Duration
	sessions      int
	taps          int
	delays        int
	abandonments  int
	interruptions int
}

// Accumulator aggregates taps, sessions, and intervention outcomes per app
// across one reporting day. It is safe for concurrent use; the classifier
// loop and the intervention lifecycle feed it independently.
type Accumulator struct {
	mu   sync.Mutex
	apps map[string]*appTotals
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{apps: make(map[string]*appTotals)}
}

func (a *Accumulator) totals(appName string) *appTotals {
	t, ok := a.apps[appName]
	if !ok {
		t = &appTotals{}
		a.apps[appName] = t
	}
	return t
}

// AddTap counts one recorded tap for the app.
func (a *Accumulator) AddTap(appName string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totals(appName).taps++
}

// AddSession counts one conscious session and its screen time.
func (a *Accumulator) AddSession(appName string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.totals(appName)
	t.sessions++
	t.screenTime += duration
}

// AddIntervention counts a completed intervention by its type and outcome.
func (a *Accumulator) AddIntervention(iv event.Intervention) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.totals(iv.AppName)
	switch iv.InterventionType {
	case typeDelay:
		t.delays++
	case typeInterruption:
		t.interruptions++
	}
	if iv.ButtonClicked == buttonCloseApp {
		t.abandonments++
	}
}

// Build renders the accumulated totals as a daily summary for the given day.
// The accumulator keeps its state; pair with Reset after a successful send.
func (a *Accumulator) Build(day time.Time) event.DailySummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := event.DailySummary{
		Date:      day.Format(DateLayout),
		AppTotals: make(map[string]event.AppStats, len(a.apps)),
	}
	for app, t := range a.apps {
		minutes := int(t.screenTime.Round(time.Minute) / time.Minute)
		s.AppTotals[app] = event.AppStats{
			Minutes:            minutes,
			Sessions:           t.sessions,
			TotalTaps:          t.taps,
			TotalDelays:        t.delays,
			TotalAbandonments:  t.abandonments,
			TotalInterruptions: t.interruptions,
		}
		s.TotalScreenTime += minutes
	}
	return s
}

// Empty reports whether nothing has been accumulated.
func (a *Accumulator) Empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.apps) == 0
}

// Apps returns the accumulated app names, sorted, mainly for status output.
func (a *Accumulator) Apps() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.apps))
	for app := range a.apps {
		names = append(names, app)
	}
	sort.Strings(names)
	return names
}

// Reset clears all totals, starting the next reporting day.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.apps = make(map[string]*appTotals)
}
