package nback

import (
	"time"

	"github.com/user/breathlab/internal/types"
)

// Outcome is the scored correctness of a response.
type Outcome string

const (
	Correct   Outcome = "correct"
	Incorrect Outcome = "incorrect"
)

// ReactionKind records what the subject did during the response window.
type ReactionKind string

const (
	PressedSpace ReactionKind = "pressed_space"
	DoNothing    ReactionKind = "do_nothing"
)

// Reaction carries the reaction time in seconds when the subject responded.
type Reaction struct {
	Kind         ReactionKind `json:"kind"`
	ReactionTime float64      `json:"reaction_time,omitempty"`
}

// Response is one scored stimulus. It is never modified after creation.
type Response struct {
	Outcome      Outcome              `json:"outcome"`
	Selected     bool                 `json:"selected"`
	Reaction     Reaction             `json:"reaction"`
	Stimulus     string               `json:"stimulus"`
	Presentation types.PresentationID `json:"presentation_id"`
	At           time.Time            `json:"at"`
}

// CorrectRate returns the percentage of correct responses, or false when
// there is nothing to rate.
func CorrectRate(responses []Response) (float64, bool) {
	if len(responses) == 0 {
		return 0, false
	}
	correct := 0
	for _, r := range responses {
		if r.Outcome == Correct {
			correct++
		}
	}
	return float64(correct) * 100 / float64(len(responses)), true
}
