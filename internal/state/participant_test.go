// internal/state/participant_test.go
package state

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestParticipantStore(t *testing.T) {
	store := NewParticipantStore(filepath.Join(t.TempDir(), "participants.json"))

	list, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	if err := store.Add(&Participant{Name: "Alice", Age: 29, Gender: "female"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(&Participant{Name: "bob", Age: 31}); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(&Participant{Name: "alice"}); err == nil {
		t.Error("expected duplicate name error")
	}

	p, err := store.Get("ALICE")
	if err != nil {
		t.Fatal(err)
	}
	if p.Age != 29 || p.CreatedAt.IsZero() {
		t.Errorf("unexpected participant: %+v", p)
	}

	if err := store.RecordLevel("alice", "hard"); err != nil {
		t.Fatal(err)
	}
	p, _ = store.Get("alice")
	if p.LevelTried != "hard" {
		t.Errorf("expected level_tried hard, got %q", p.LevelTried)
	}

	if err := store.Remove("bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get("bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Remove("bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestParticipantValidation(t *testing.T) {
	store := NewParticipantStore(filepath.Join(t.TempDir(), "participants.json"))
	if err := store.Add(&Participant{Name: "  "}); err == nil {
		t.Error("expected error for blank name")
	}
	if err := store.Add(&Participant{Name: "x", Age: -1}); err == nil {
		t.Error("expected error for negative age")
	}
}
