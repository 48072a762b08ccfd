package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/blackwell-systems/tapwatch/internal/device"
	"github.com/blackwell-systems/tapwatch/internal/event"
	"github.com/blackwell-systems/tapwatch/internal/offline"
)

// replayItemGap spaces out replay requests so a large backlog does not
// hammer the collector in a burst.
const replayItemGap = 500 * time.Millisecond

// Engine implements the delivery policy: chunked batch sends, per-item
// fallback with bounded retry, and offline queuing for anything still
// undelivered. Delivery is at-least-once; duplicates across replay attempts
// are accepted rather than risking data loss.
type Engine struct {
	client      *Client
	queue       *offline.Queue
	probe       device.Probe
	chunkSize   int
	itemRetries int
	retryDelay  time.Duration
	log         zerolog.Logger
}

// NewEngine creates a sync engine. itemRetries is the total number of
// per-item delivery attempts (not additional retries).
func NewEngine(client *Client, queue *offline.Queue, probe device.Probe, chunkSize, itemRetries int, retryDelay time.Duration, log zerolog.Logger) *Engine {
	if chunkSize < 1 {
		chunkSize = 10
	}
	if itemRetries < 1 {
		itemRetries = 1
	}
	return &Engine{
		client:      client,
		queue:       queue,
		probe:       probe,
		chunkSize:   chunkSize,
		itemRetries: itemRetries,
		retryDelay:  retryDelay,
		log:         log.With().Str("component", "syncer").Logger(),
	}
}

// Health checks the collector.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	return e.client.Health(ctx)
}

// SendOne delivers a single event immediately, queuing it offline on
// failure. Returns true only when the collector acknowledged it.
// Non-serializable events are dropped with a log line; the single case of
// intentional data loss.
func (e *Engine) SendOne(ctx context.Context, ev event.Event) bool {
	if !e.probe.NetworkAvailable() {
		e.enqueue(ev)
		return false
	}

	err := e.client.SendEvent(ctx, ev)
	if err == nil {
		return true
	}
	e.logSendFailure(ev.EventType(), err)
	e.enqueue(ev)
	return false
}

// SendBatch delivers events in chunks. Each failed chunk falls back to
// per-item delivery with bounded retry; items still undelivered afterwards
// go to the offline queue. Returns true only if every chunk either
// batch-succeeded or fully recovered item-by-item.
func (e *Engine) SendBatch(ctx context.Context, events []event.Event) bool {
	if len(events) == 0 {
		return true
	}

	if !e.probe.NetworkAvailable() {
		e.log.Debug().Int("events", len(events)).Msg("network unavailable, queuing batch offline")
		for _, ev := range events {
			e.enqueue(ev)
		}
		return false
	}

	// Marshal up front: a malformed event must not poison its chunk, and
	// queuing it offline would fail the same way. Drop it here.
	type wireEvent struct {
		ev      event.Event
		payload json.RawMessage
	}
	wire := make([]wireEvent, 0, len(events))
	for _, ev := range events {
		payload, err := event.Marshal(ev)
		if err != nil {
			e.log.Error().Err(err).Str("event_type", string(ev.EventType())).
				Msg("dropping unserializable event")
			continue
		}
		wire = append(wire, wireEvent{ev: ev, payload: payload})
	}

	ok := true
	for start := 0; start < len(wire); start += e.chunkSize {
		end := start + e.chunkSize
		if end > len(wire) {
			end = len(wire)
		}
		chunk := wire[start:end]

		payloads := make([]json.RawMessage, len(chunk))
		for i, w := range chunk {
			payloads[i] = w.payload
		}

		if err := e.client.SendBatch(ctx, payloads); err == nil {
			continue
		} else {
			e.log.Warn().Err(err).Int("chunk_size", len(chunk)).
				Msg("batch chunk failed, falling back to per-item delivery")
		}

		// Per-item fallback isolates poison events from the rest of
		// the chunk.
		for _, w := range chunk {
			if !e.sendWithRetry(ctx, w.ev) {
				ok = false
			}
		}
	}

	if ok {
		if err := e.queue.SetLastBatchSent(time.Now()); err != nil {
			e.log.Warn().Err(err).Msg("could not record last batch time")
		}
	}
	return ok
}

// sendWithRetry attempts per-item delivery with a fixed delay between
// attempts, then queues the event offline. Returns true on delivery.
func (e *Engine) sendWithRetry(ctx context.Context, ev event.Event) bool {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.retryDelay), uint64(e.itemRetries-1)),
		ctx,
	)

	err := backoff.Retry(func() error {
		return e.client.SendEvent(ctx, ev)
	}, policy)
	if err == nil {
		return true
	}

	e.logSendFailure(ev.EventType(), err)
	e.enqueue(ev)
	return false
}

// Replay drains up to max events from the offline queue and re-attempts
// delivery, removing rows only after acknowledgement. Failed items stay
// queued for the next cycle. Returns the number of events delivered.
func (e *Engine) Replay(ctx context.Context, max int) (int, error) {
	items, dropped, err := e.queue.Drain(max)
	if err != nil {
		return 0, err
	}
	if dropped > 0 {
		e.log.Warn().Int("dropped", dropped).Msg("discarded undecodable queued events")
	}
	if len(items) == 0 {
		return 0, nil
	}

	var delivered []int64
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			break
		}
		if err := e.client.SendEvent(ctx, item.Event); err != nil {
			e.logSendFailure(item.Event.EventType(), err)
			continue
		}
		delivered = append(delivered, item.ID)

		if i < len(items)-1 {
			select {
			case <-time.After(replayItemGap):
			case <-ctx.Done():
			}
		}
	}

	if err := e.queue.Remove(delivered); err != nil {
		// Rows stay queued; the next replay re-sends them. At-least-once.
		return len(delivered), err
	}
	return len(delivered), nil
}

// enqueue persists an event to the offline queue, logging eviction and the
// drop of unserializable events.
func (e *Engine) enqueue(ev event.Event) {
	evicted, err := e.queue.Enqueue(ev)
	if err != nil {
		e.log.Error().Err(err).Str("event_type", string(ev.EventType())).
			Msg("could not queue event offline")
		return
	}
	if evicted > 0 {
		e.log.Warn().Int("evicted", evicted).Msg("offline queue over capacity, evicted oldest events")
	}
}

// logSendFailure logs rejections distinctly from transport failures so
// operators can tell schema problems from flaky networks.
func (e *Engine) logSendFailure(t event.Type, err error) {
	if errors.Is(err, ErrRejected) {
		e.log.Warn().Err(err).Str("event_type", string(t)).Msg("server rejected event, queuing offline")
		return
	}
	e.log.Debug().Err(err).Str("event_type", string(t)).Msg("transient send failure")
}
