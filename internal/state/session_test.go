// internal/state/session_test.go
package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/breathlab/internal/types"
)

func TestSessionStore(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	// Test create
	key := types.NewSessionKey("alice", "normal")
	id, err := store.Create(ctx, &types.SessionIndex{SessionKey: key, Participant: "alice", Level: "normal"})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Error("expected non-empty session ID")
	}

	// Test get
	session, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if session.SessionKey != key {
		t.Errorf("expected key %s, got %s", key, session.SessionKey)
	}
	if session.Status != types.StatusActive {
		t.Errorf("expected status active, got %s", session.Status)
	}

	// Test update
	session.Status = types.StatusFinished
	session.LastEventSeq = 42
	if err := store.Update(ctx, session); err != nil {
		t.Fatal(err)
	}
	reloaded, err := store.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != types.StatusFinished || reloaded.LastEventSeq != 42 {
		t.Errorf("update not persisted: %+v", reloaded)
	}
	if reloaded.UpdatedAt.Before(reloaded.CreatedAt) {
		t.Error("expected UpdatedAt not before CreatedAt")
	}
}

func TestSessionStoreList(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	for _, level := range []string{"easy", "normal", "hard"} {
		if _, err := store.Create(ctx, &types.SessionIndex{Level: level}); err != nil {
			t.Fatal(err)
		}
	}

	sessions, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for i := 1; i < len(sessions); i++ {
		if sessions[i].CreatedAt.Before(sessions[i-1].CreatedAt) {
			t.Error("expected sessions ordered by creation time")
		}
	}
}

func TestSessionStoreNotFound(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Update(ctx, &types.SessionIndex{SessionID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionStoreDuplicateID(t *testing.T) {
	store := NewSessionStore(t.TempDir())
	ctx := context.Background()

	if _, err := store.Create(ctx, &types.SessionIndex{SessionID: "fixed"}); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Create(ctx, &types.SessionIndex{SessionID: "fixed"}); err == nil {
		t.Error("expected error for duplicate session id")
	}
}

func TestSessionStoreDelete(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	ctx := context.Background()

	id, err := store.Create(ctx, &types.SessionIndex{Participant: "ada"})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, id); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sessions", string(id))); !os.IsNotExist(err) {
		t.Error("expected session directory to be removed")
	}
	if err := store.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
	if err := store.Delete(ctx, "../escape"); err == nil {
		t.Error("expected error for a path-like session id")
	}
}
