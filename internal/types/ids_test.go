// internal/types/ids_test.go
package types

import (
	"strings"
	"testing"
)

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	if id == "" {
		t.Error("expected non-empty SessionID")
	}
	if len(string(id)) != 36 {
		t.Errorf("expected UUID format, got %s", id)
	}
}

func TestParseSessionID(t *testing.T) {
	id := NewSessionID()
	got, err := ParseSessionID(strings.ToUpper(string(id)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != id {
		t.Errorf("expected %s, got %s", id, got)
	}

	for _, bad := range []string{"", "..", "../config", "sess-9"} {
		if _, err := ParseSessionID(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestNewPresentationIDUnique(t *testing.T) {
	a := NewPresentationID()
	b := NewPresentationID()
	if a == b {
		t.Errorf("expected distinct presentation ids, got %s twice", a)
	}
}

func TestSessionKeyFormat(t *testing.T) {
	key := NewSessionKey("alice", "normal", "1")
	expected := SessionKey("alice:normal:1")
	if key != expected {
		t.Errorf("expected %s, got %s", expected, key)
	}
}
