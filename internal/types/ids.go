// internal/types/ids.go
package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type SessionKey string
type SessionID string
type EventID string
type PresentationID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

// ParseSessionID accepts any UUID form and returns it in canonical form.
func ParseSessionID(s string) (SessionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid session ID %q: %w", s, err)
	}
	return SessionID(u.String()), nil
}

func NewEventID() EventID {
	return EventID(uuid.New().String())
}

// NewPresentationID returns a fresh id for one stimulus presentation. Two
// presentations of the same stimulus never share an id.
func NewPresentationID() PresentationID {
	return PresentationID(uuid.New().String())
}

func NewSessionKey(parts ...string) SessionKey {
	return SessionKey(strings.Join(parts, ":"))
}
