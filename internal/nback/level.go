package nback

import (
	"fmt"
	"strings"
)

// Level selects the back-distance of a session.
type Level int

const (
	Easy   Level = 1
	Normal Level = 2
	Hard   Level = 3
)

// Levels lists every level in increasing difficulty.
var Levels = []Level{Easy, Normal, Hard}

// N returns the back-distance.
func (l Level) N() int { return int(l) }

// Capacity is the number of stimuli the stack must hold to compare the
// newest against the one shown N presentations earlier.
func (l Level) Capacity() int { return int(l) + 1 }

func (l Level) String() string {
	switch l {
	case Easy:
		return "easy"
	case Normal:
		return "normal"
	case Hard:
		return "hard"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps a level name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return Easy, nil
	case "normal":
		return Normal, nil
	case "hard":
		return Hard, nil
	}
	return 0, fmt.Errorf("unknown level: %q", s)
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
