package offline

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/blackwell-systems/tapwatch/internal/event"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func sampleTap(app string) event.AppTap {
	return event.AppTap{
		Timestamp:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		AppName:     app,
		PackageName: "com." + app,
	}
}

func TestEnqueueSizeDrainRemove(t *testing.T) {
	q := newTestQueue(t)

	for i := 0; i < 5; i++ {
		if _, err := q.Enqueue(sampleTap("instagram")); err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
	}

	n, err := q.Size()
	if err != nil {
		t.Fatalf("Size() failed: %v", err)
	}
	if n != 5 {
		t.Errorf("Size() = %d, want 5", n)
	}

	items, dropped, err := q.Drain(3)
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}
	if len(items) != 3 {
		t.Fatalf("Drain(3) returned %d items, want 3", len(items))
	}

	// Drain does not remove rows; replay deletes only after delivery.
	if n, _ := q.Size(); n != 5 {
		t.Errorf("Size() after Drain = %d, want 5", n)
	}

	ids := []int64{items[0].ID, items[1].ID, items[2].ID}
	if err := q.Remove(ids); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if n, _ := q.Size(); n != 2 {
		t.Errorf("Size() after Remove = %d, want 2", n)
	}
}

func TestDrain_OldestFirst(t *testing.T) {
	q := newTestQueue(t)

	if _, err := q.Enqueue(sampleTap("first")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if _, err := q.Enqueue(sampleTap("second")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	items, _, err := q.Drain(10)
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("Drain() returned %d items, want 2", len(items))
	}
	if tap := items[0].Event.(event.AppTap); tap.AppName != "first" {
		t.Errorf("first drained item = %s, want first", tap.AppName)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	q, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if _, err := q.Enqueue(sampleTap("instagram")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	deviceID, err := q.DeviceID()
	if err != nil {
		t.Fatalf("DeviceID() failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	q2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer q2.Close()

	if n, _ := q2.Size(); n != 1 {
		t.Errorf("Size() after reopen = %d, want 1", n)
	}
	id2, err := q2.DeviceID()
	if err != nil {
		t.Fatalf("DeviceID() after reopen failed: %v", err)
	}
	if id2 != deviceID {
		t.Errorf("device ID changed across reopen: %s != %s", id2, deviceID)
	}
}

func TestEvictionOldestFirst(t *testing.T) {
	q := newTestQueue(t)
	q.SetMaxRows(3)

	var evictedTotal int
	for i := 0; i < 5; i++ {
		evicted, err := q.Enqueue(sampleTap("instagram"))
		if err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
		evictedTotal += evicted
	}

	if evictedTotal != 2 {
		t.Errorf("evicted %d rows, want 2", evictedTotal)
	}
	if n, _ := q.Size(); n != 3 {
		t.Errorf("Size() = %d, want cap of 3", n)
	}
}

func TestClear(t *testing.T) {
	q := newTestQueue(t)
	if _, err := q.Enqueue(sampleTap("instagram")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	if err := q.Clear(); err != nil {
		t.Fatalf("Clear() failed: %v", err)
	}
	if n, _ := q.Size(); n != 0 {
		t.Errorf("Size() after Clear = %d, want 0", n)
	}
}

func TestDrain_DropsMalformedPayloads(t *testing.T) {
	q := newTestQueue(t)

	if _, err := q.Enqueue(sampleTap("instagram")); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	// Simulate a row written by an incompatible build.
	if _, err := q.db.Exec(
		`INSERT INTO pending_events (event_type, payload, queued_at) VALUES (?, ?, ?)`,
		"app_tap", `{"eventType":"no_such_type"}`, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		t.Fatalf("raw insert failed: %v", err)
	}

	items, dropped, err := q.Drain(10)
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}
	if len(items) != 1 {
		t.Errorf("Drain() returned %d items, want 1", len(items))
	}
	// The malformed row must be gone for good.
	if n, _ := q.Size(); n != 1 {
		t.Errorf("Size() = %d, want 1 after malformed row removal", n)
	}
}

func TestEnqueue_UnknownTypeReturnsErrEncode(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(bogusEvent{})
	if err == nil {
		t.Fatal("Enqueue(bogus) should fail")
	}
	if !errors.Is(err, ErrEncode) {
		t.Errorf("error = %v, want errors.Is(err, ErrEncode)", err)
	}
	if n, _ := q.Size(); n != 0 {
		t.Errorf("Size() = %d, want 0; bogus event must not be stored", n)
	}
}

type bogusEvent struct{}

func (bogusEvent) EventType() event.Type { return "bogus" }

func TestLastBatchSentRoundTrip(t *testing.T) {
	q := newTestQueue(t)

	got, err := q.LastBatchSent()
	if err != nil {
		t.Fatalf("LastBatchSent() failed: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("LastBatchSent() = %v, want zero before first batch", got)
	}

	at := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	if err := q.SetLastBatchSent(at); err != nil {
		t.Fatalf("SetLastBatchSent() failed: %v", err)
	}

	got, err = q.LastBatchSent()
	if err != nil {
		t.Fatalf("LastBatchSent() failed: %v", err)
	}
	if !got.Equal(at) {
		t.Errorf("LastBatchSent() = %v, want %v", got, at)
	}
}
