package sensor

import (
	"strconv"
	"strings"
	"time"
)

// Kind tags a decoded sensor line.
type Kind string

const (
	KindData    Kind = "data"
	KindMessage Kind = "message"
	KindError   Kind = "error"
)

// Event is one decoded line of sensor output.
type Event struct {
	Source string    `json:"source"`
	Kind   Kind      `json:"kind"`
	Value  float64   `json:"value,omitempty"`
	Text   string    `json:"text,omitempty"`
	At     time.Time `json:"at"`
}

// DefaultKnownMessages are informational keywords of the eye-tracker helper.
var DefaultKnownMessages = []string{"connected"}

// Decoder applies the line grammar: number | known keyword | anything else
// is a protocol error.
type Decoder struct {
	known []string
}

// NewDecoder creates a decoder recognizing the given informational keywords.
// Matching is case-insensitive.
func NewDecoder(known []string) *Decoder {
	d := &Decoder{known: make([]string, 0, len(known))}
	for _, k := range known {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			d.known = append(d.known, k)
		}
	}
	return d
}

// Decode classifies a single line. Only the line terminator is stripped;
// "nan" and "inf" decode as data.
func (d *Decoder) Decode(line string) Event {
	text := strings.TrimSuffix(line, "\n")
	text = strings.TrimSuffix(text, "\r")

	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return Event{Kind: KindData, Value: v}
	}
	lower := strings.ToLower(text)
	for _, k := range d.known {
		if strings.Contains(lower, k) {
			return Event{Kind: KindMessage, Text: text}
		}
	}
	return Event{Kind: KindError, Text: text}
}
