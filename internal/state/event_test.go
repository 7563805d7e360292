// internal/state/event_test.go
package state

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/user/breathlab/internal/types"
)

func TestEventStore(t *testing.T) {
	dir := t.TempDir()
	store := NewEventStore(dir)
	ctx := context.Background()

	sessionID := types.NewSessionID()

	// Test append
	event1 := &types.Event{
		ID:        types.NewEventID(),
		SessionID: sessionID,
		Seq:       0, // Will be auto-assigned
		Type:      "presentation",
		Source:    "engine",
		At:        time.Now(),
		Payload:   json.RawMessage(`{"stimulus":"animalface_panda"}`),
	}

	if err := store.Append(ctx, event1); err != nil {
		t.Fatal(err)
	}

	// Test tail
	events, err := store.Tail(ctx, sessionID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
	if events[0].Seq != 1 {
		t.Errorf("expected seq 1, got %d", events[0].Seq)
	}

	// Test count
	count, err := store.Count(ctx, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}
}

func TestEventStoreSequenceAcrossStores(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	sessionID := types.NewSessionID()

	first := NewEventStore(dir)
	for i := 0; i < 3; i++ {
		if err := first.Append(ctx, &types.Event{SessionID: sessionID, Type: "response"}); err != nil {
			t.Fatal(err)
		}
	}

	// a fresh store resumes numbering from the file
	second := NewEventStore(dir)
	ev := &types.Event{SessionID: sessionID, Type: "state"}
	if err := second.Append(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if ev.Seq != 4 {
		t.Errorf("expected seq 4, got %d", ev.Seq)
	}
	if ev.ID == "" || ev.At.IsZero() {
		t.Error("expected ID and At to be filled in")
	}

	tail, err := second.Tail(ctx, sessionID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].Seq != 3 || tail[1].Seq != 4 {
		t.Errorf("unexpected tail: %+v", tail)
	}

	all, err := second.Tail(ctx, sessionID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 events, got %d", len(all))
	}
}

func TestEventStoreMissingSession(t *testing.T) {
	store := NewEventStore(t.TempDir())
	events, err := store.Tail(context.Background(), types.NewSessionID(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestEventStoreSince(t *testing.T) {
	store := NewEventStore(t.TempDir())
	ctx := context.Background()
	sessionID := types.NewSessionID()

	for _, typ := range []string{"state", "presentation", "response", "finished"} {
		if err := store.Append(ctx, &types.Event{SessionID: sessionID, Type: typ}); err != nil {
			t.Fatal(err)
		}
	}

	events, err := store.Since(ctx, sessionID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Type != "response" || events[1].Seq != 4 {
		t.Errorf("unexpected events after seq 2: %+v", events)
	}

	events, err = store.Since(ctx, sessionID, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("expected nothing after the last seq, got %d", len(events))
	}

	count, err := store.Count(ctx, sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 4 {
		t.Errorf("expected count 4, got %d", count)
	}
}

func TestEventStoreTailLongLog(t *testing.T) {
	store := NewEventStore(t.TempDir())
	ctx := context.Background()
	sessionID := types.NewSessionID()

	for i := 0; i < 25; i++ {
		if err := store.Append(ctx, &types.Event{SessionID: sessionID, Type: "response"}); err != nil {
			t.Fatal(err)
		}
	}
	events, err := store.Tail(ctx, sessionID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 || events[0].Seq != 23 || events[2].Seq != 25 {
		t.Errorf("unexpected tail: first=%d len=%d", events[0].Seq, len(events))
	}
}
