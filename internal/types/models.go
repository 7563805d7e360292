// internal/types/models.go
package types

import (
	"encoding/json"
	"time"
)

// Session statuses stored in the session index.
const (
	StatusActive   = "active"
	StatusFinished = "finished"
	StatusAborted  = "aborted"
)

type Event struct {
	ID        EventID         `json:"id"`
	SessionID SessionID       `json:"session_id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

type SessionIndex struct {
	SessionID    SessionID  `json:"session_id"`
	SessionKey   SessionKey `json:"session_key"`
	Participant  string     `json:"participant"`
	Level        string     `json:"level"`
	Trial        bool       `json:"trial"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastEventSeq int64      `json:"last_event_seq"`
}
