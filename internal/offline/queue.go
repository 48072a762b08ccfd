// Package offline provides the durable overflow queue for telemetry events
// that could not be delivered.
//
// Events are stored one row per event in SQLite so they survive process
// restarts. Replay is opportunistic and at-least-once: a row is deleted only
// after the collector acknowledged the event, so a crash between send and
// delete re-delivers on the next cycle rather than losing data.
package offline

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/blackwell-systems/tapwatch/internal/event"
)

// DefaultMaxRows bounds queue growth under sustained connectivity loss.
// When the cap is exceeded the oldest rows are evicted first: recent behavior
// is worth more to the study than stale backlog.
const DefaultMaxRows = 10_000

// ErrEncode marks an event that could not be serialized. Encoding failures
// are permanent; the event is dropped, not queued.
var ErrEncode = errors.New("offline: event not encodable")

const schema = `
CREATE TABLE IF NOT EXISTS pending_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type TEXT NOT NULL,
    payload TEXT NOT NULL,
    queued_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pending_type ON pending_events(event_type);
`

const (
	metaDeviceID      = "device_id"
	metaLastBatchSent = "last_batch_sent"
)

// Item is a queued event with its row ID, needed to remove the row after a
// successful replay.
type Item struct {
	ID    int64
	Event event.Event
}

// Queue is a SQLite-backed durable event queue.
type Queue struct {
	db      *sql.DB
	maxRows int
}

// Open opens (creating if necessary) the queue database at path.
// Use ":memory:" for tests.
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("offline: open database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("offline: enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("offline: create schema: %w", err)
	}

	return &Queue{db: db, maxRows: DefaultMaxRows}, nil
}

// SetMaxRows overrides the queue growth bound. Values < 1 are ignored.
func (q *Queue) SetMaxRows(n int) {
	if n >= 1 {
		q.maxRows = n
	}
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	if q.db != nil {
		return q.db.Close()
	}
	return nil
}

// Enqueue persists an event for later replay. It returns the number of old
// rows evicted to stay within the growth bound (0 in the normal case).
// A non-encodable event returns ErrEncode and is not stored.
func (q *Queue) Enqueue(e event.Event) (evicted int, err error) {
	payload, err := event.Marshal(e)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	_, err = q.db.Exec(
		`INSERT INTO pending_events (event_type, payload, queued_at) VALUES (?, ?, ?)`,
		string(e.EventType()), string(payload), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("offline: insert event: %w", err)
	}

	return q.evictOverflow()
}

// evictOverflow deletes oldest-first rows beyond maxRows.
func (q *Queue) evictOverflow() (int, error) {
	size, err := q.Size()
	if err != nil {
		return 0, err
	}
	overflow := size - q.maxRows
	if overflow <= 0 {
		return 0, nil
	}

	res, err := q.db.Exec(
		`DELETE FROM pending_events WHERE id IN
		   (SELECT id FROM pending_events ORDER BY id ASC LIMIT ?)`,
		overflow,
	)
	if err != nil {
		return 0, fmt.Errorf("offline: evict overflow: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Size returns the number of queued events.
func (q *Queue) Size() (int, error) {
	var n int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM pending_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("offline: count events: %w", err)
	}
	return n, nil
}

// Drain returns up to max queued events, oldest first, without removing them.
// Rows whose payload no longer decodes (e.g. written by an incompatible
// older build) are deleted and counted in dropped; they cannot be retried
// productively.
func (q *Queue) Drain(max int) (items []Item, dropped int, err error) {
	if max <= 0 {
		return nil, 0, nil
	}

	rows, err := q.db.Query(
		`SELECT id, payload FROM pending_events ORDER BY id ASC LIMIT ?`, max,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("offline: select events: %w", err)
	}
	defer rows.Close()

	var badIDs []int64
	for rows.Next() {
		var (
			id      int64
			payload string
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, 0, fmt.Errorf("offline: scan row: %w", err)
		}

		e, err := event.Unmarshal([]byte(payload))
		if err != nil {
			badIDs = append(badIDs, id)
			continue
		}
		items = append(items, Item{ID: id, Event: e})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("offline: iterate rows: %w", err)
	}

	if len(badIDs) > 0 {
		if err := q.Remove(badIDs); err != nil {
			return items, 0, err
		}
	}

	return items, len(badIDs), nil
}

// Remove deletes the given rows, called after their events were delivered.
func (q *Queue) Remove(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("offline: begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`DELETE FROM pending_events WHERE id = ?`)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("offline: prepare delete: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("offline: delete row %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("offline: commit delete: %w", err)
	}
	return nil
}

// Clear removes every queued event.
func (q *Queue) Clear() error {
	if _, err := q.db.Exec(`DELETE FROM pending_events`); err != nil {
		return fmt.Errorf("offline: clear queue: %w", err)
	}
	return nil
}

// DeviceID returns the stable device identifier, generating and persisting
// one on first use.
func (q *Queue) DeviceID() (string, error) {
	var id string
	err := q.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaDeviceID).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("offline: read device id: %w", err)
	}

	id = uuid.NewString()
	if _, err := q.db.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)`, metaDeviceID, id,
	); err != nil {
		return "", fmt.Errorf("offline: store device id: %w", err)
	}
	return id, nil
}

// LastBatchSent returns when the last batch was delivered, or the zero time
// if no batch has been sent yet.
func (q *Queue) LastBatchSent() (time.Time, error) {
	var v string
	err := q.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaLastBatchSent).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("offline: read last batch sent: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("offline: parse last batch sent %q: %w", v, err)
	}
	return t, nil
}

// SetLastBatchSent records a successful batch delivery time.
func (q *Queue) SetLastBatchSent(t time.Time) error {
	_, err := q.db.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaLastBatchSent, t.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("offline: store last batch sent: %w", err)
	}
	return nil
}
