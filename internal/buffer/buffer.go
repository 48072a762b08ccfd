// Package buffer holds telemetry events in memory between recording and
// transmission.
//
// The store is a producer/consumer seam: recorder calls arrive concurrently
// from the classifier poll loop and intervention callbacks, while DrainAll is
// called only by the sync loop. Contents are not persisted; events lost here
// on process death are an accepted tradeoff for ephemeral telemetry; anything
// that must survive a restart lives in the offline queue instead.
package buffer

import (
	"sync"

	"github.com/blackwell-systems/tapwatch/internal/event"
)

// Counts reports how many events of each kind are waiting in the store.
type Counts struct {
	Sessions       int
	Taps           int
	Interventions  int
	DeviceStatuses int
	Summaries      int
}

// Total returns the number of buffered events across all kinds.
func (c Counts) Total() int {
	return c.Sessions + c.Taps + c.Interventions + c.DeviceStatuses + c.Summaries
}

// Store is a thread-safe in-memory buffer of pending telemetry events,
// grouped by event kind. The mutex guards only map/slice mutation and is
// never held across I/O.
type Store struct {
	mu            sync.Mutex
	sessions      []event.AppSession
	taps          []event.AppTap
	interventions []event.Intervention
	statuses      []event.DeviceStatus
	summaries     []event.DailySummary
}

// New creates an empty event store.
func New() *Store {
	return &Store{}
}

// Record adds an event to the store. Pointer events are stored by value.
// Unknown event types are ignored; the codec is the single place that fails
// loudly on them.
func (s *Store) Record(e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch v := e.(type) {
	case event.AppSession:
		s.sessions = append(s.sessions, v)
	case *event.AppSession:
		s.sessions = append(s.sessions, *v)
	case event.AppTap:
		s.taps = append(s.taps, v)
	case *event.AppTap:
		s.taps = append(s.taps, *v)
	case event.Intervention:
		s.interventions = append(s.interventions, v)
	case *event.Intervention:
		s.interventions = append(s.interventions, *v)
	case event.DeviceStatus:
		s.statuses = append(s.statuses, v)
	case *event.DeviceStatus:
		s.statuses = append(s.statuses, *v)
	case event.DailySummary:
		s.summaries = append(s.summaries, v)
	case *event.DailySummary:
		s.summaries = append(s.summaries, *v)
	}
}

// DrainAll atomically removes and returns every buffered event. A concurrent
// Record lands either wholly in the returned slice or wholly in the store for
// the next drain; never both, never neither.
func (s *Store) DrainAll() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]event.Event, 0,
		len(s.sessions)+len(s.taps)+len(s.interventions)+len(s.statuses)+len(s.summaries))
	for _, e := range s.sessions {
		out = append(out, e)
	}
	for _, e := range s.taps {
		out = append(out, e)
	}
	for _, e := range s.interventions {
		out = append(out, e)
	}
	for _, e := range s.statuses {
		out = append(out, e)
	}
	for _, e := range s.summaries {
		out = append(out, e)
	}

	s.sessions = nil
	s.taps = nil
	s.interventions = nil
	s.statuses = nil
	s.summaries = nil

	return out
}

// PeekCounts returns per-kind counts without draining.
func (s *Store) PeekCounts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Counts{
		Sessions:       len(s.sessions),
		Taps:           len(s.taps),
		Interventions:  len(s.interventions),
		DeviceStatuses: len(s.statuses),
		Summaries:      len(s.summaries),
	}
}
