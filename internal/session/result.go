package session

import (
	"time"

	"github.com/user/breathlab/internal/fusion"
	"github.com/user/breathlab/internal/nback"
	"github.com/user/breathlab/internal/types"
)

// Info identifies a session when it opens.
type Info struct {
	SessionID   types.SessionID `json:"session_id"`
	Participant string          `json:"participant,omitempty"`
	Level       nback.Level     `json:"level"`
	Trial       bool            `json:"trial"`
	StartedAt   time.Time       `json:"started_at"`
}

// Result is the complete record of one finished session.
type Result struct {
	SessionID     types.SessionID   `json:"session_id"`
	Participant   string            `json:"participant,omitempty"`
	Level         nback.Level       `json:"level"`
	Trial         bool              `json:"trial"`
	Status        string            `json:"status"`
	StartedAt     time.Time         `json:"started_at"`
	EndedAt       time.Time         `json:"ended_at"`
	Responses     []nback.Response  `json:"responses"`
	CollectedData []fusion.Record   `json:"collected_data"`
	SerialData    fusion.SerialData `json:"serial_data"`
	CorrectRate   *float64          `json:"correct_rate"`
	Warnings      []string          `json:"warnings,omitempty"`
}

// Info returns the identifying part of the result.
func (r *Result) Info() Info {
	return Info{
		SessionID:   r.SessionID,
		Participant: r.Participant,
		Level:       r.Level,
		Trial:       r.Trial,
		StartedAt:   r.StartedAt,
	}
}

// Snapshot is a live view of the runner for observers.
type Snapshot struct {
	Active      bool            `json:"active"`
	SessionID   types.SessionID `json:"session_id,omitempty"`
	Participant string          `json:"participant,omitempty"`
	Engine      *nback.Snapshot `json:"engine,omitempty"`
	Sensors     map[string]bool `json:"sensors,omitempty"`
	Fusion      *FusionSummary  `json:"fusion,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
}

// FusionSummary condenses the fusion buffers.
type FusionSummary struct {
	Recording    bool     `json:"recording"`
	Records      int      `json:"records"`
	PupilSamples int      `json:"pupil_samples"`
	RateSamples  int      `json:"rate_samples"`
	Pupil        *float64 `json:"pupil_size,omitempty"`
}

// PresentationEvent is the payload of a presentation notification.
type PresentationEvent struct {
	Stimulus     string               `json:"stimulus"`
	Presentation types.PresentationID `json:"presentation_id"`
	Scored       bool                 `json:"scored"`
}

// StateEvent is the payload of a state notification.
type StateEvent struct {
	From nback.State `json:"from"`
	To   nback.State `json:"to"`
}
