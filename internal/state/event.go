// internal/state/event.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/breathlab/internal/types"
)

const maxEventLine = 4 * 1024 * 1024

// EventStore is an append-only session log stored as JSON lines in
// sessions/<sessionID>/events.jsonl. Sequence numbers start at 1 and are
// cached per session after the first scan.
type EventStore struct {
	root string

	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
	seqs  map[types.SessionID]int64
}

// NewEventStore creates a new file-backed EventStore rooted at the given directory.
func NewEventStore(root string) *EventStore {
	return &EventStore{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
		seqs:  make(map[types.SessionID]int64),
	}
}

// lockSession locks the per-session mutex and returns its unlock func.
func (e *EventStore) lockSession(sessionID types.SessionID) func() {
	e.mu.Lock()
	lock, ok := e.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[sessionID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (e *EventStore) eventsPath(sessionID types.SessionID) string {
	return filepath.Join(e.root, "sessions", string(sessionID), "events.jsonl")
}

// scan calls fn with every raw line of the session log. A missing log has
// no lines. Caller holds the session lock.
func (e *EventStore) scan(sessionID types.SessionID, fn func(line []byte) error) error {
	f, err := os.Open(e.eventsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()
	return scanLines(f, fn)
}

func scanLines(r io.Reader, fn func(line []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	for scanner.Scan() {
		if err := fn(scanner.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan events file: %w", err)
	}
	return nil
}

// lastSeq returns the highest sequence number written. Caller holds the
// session lock.
func (e *EventStore) lastSeq(sessionID types.SessionID) (int64, error) {
	e.mu.Lock()
	seq, ok := e.seqs[sessionID]
	e.mu.Unlock()
	if ok {
		return seq, nil
	}

	var n int64
	if err := e.scan(sessionID, func([]byte) error { n++; return nil }); err != nil {
		return 0, err
	}
	e.mu.Lock()
	e.seqs[sessionID] = n
	e.mu.Unlock()
	return n, nil
}

// Append writes the event with the next sequence number, filling in a
// missing ID and timestamp.
func (e *EventStore) Append(_ context.Context, event *types.Event) error {
	unlock := e.lockSession(event.SessionID)
	defer unlock()

	path := e.eventsPath(event.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	last, err := e.lastSeq(event.SessionID)
	if err != nil {
		return err
	}
	event.Seq = last + 1
	if event.ID == "" {
		event.ID = types.NewEventID()
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	e.mu.Lock()
	e.seqs[event.SessionID] = event.Seq
	e.mu.Unlock()
	return nil
}

// Tail returns the last limit events of the session, oldest first. A
// non-positive limit returns every event.
func (e *EventStore) Tail(_ context.Context, sessionID types.SessionID, limit int) ([]*types.Event, error) {
	unlock := e.lockSession(sessionID)
	defer unlock()

	var events []*types.Event
	err := e.scan(sessionID, func(line []byte) error {
		var event types.Event
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, &event)
		if limit > 0 && len(events) > 2*limit {
			// keep the working set bounded on long logs
			events = append(events[:0], events[len(events)-limit:]...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// Since returns the events with a sequence number greater than after, for
// observers polling a live session.
func (e *EventStore) Since(_ context.Context, sessionID types.SessionID, after int64) ([]*types.Event, error) {
	unlock := e.lockSession(sessionID)
	defer unlock()

	var events []*types.Event
	var seq int64
	err := e.scan(sessionID, func(line []byte) error {
		seq++
		if seq <= after {
			return nil
		}
		var event types.Event
		if err := json.Unmarshal(line, &event); err != nil {
			return fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, &event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// Count returns the number of events of the session.
func (e *EventStore) Count(_ context.Context, sessionID types.SessionID) (int64, error) {
	unlock := e.lockSession(sessionID)
	defer unlock()

	return e.lastSeq(sessionID)
}
