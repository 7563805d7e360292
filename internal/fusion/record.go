package fusion

import (
	"encoding/json"
	"fmt"
)

// State marks whether a record may still be backfilled.
type State int

const (
	Pending State = iota
	Finalized
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Finalized:
		return "finalized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "pending":
		*s = Pending
	case "finalized":
		*s = Finalized
	default:
		return fmt.Errorf("unknown record state %q", string(b))
	}
	return nil
}

// Record is one fused sample. A nil RespiratoryRate means no estimate was
// available when the record was appended.
type Record struct {
	PupilSize       float64 `json:"pupil_size"`
	RespiratoryRate *uint8  `json:"respiratory_rate"`
	State           State   `json:"state"`
}

// SerialData holds the raw arrival-ordered audit trails.
type SerialData struct {
	PupilSizes       []float64 `json:"pupil_sizes"`
	RespiratoryRates []uint8   `json:"respiratory_rates"`
}

// Empty reports whether neither trail has any sample.
func (s SerialData) Empty() bool {
	return len(s.PupilSizes) == 0 && len(s.RespiratoryRates) == 0
}

// MarshalJSON writes empty trails as [] rather than null.
func (s SerialData) MarshalJSON() ([]byte, error) {
	type alias SerialData
	a := alias(s)
	if a.PupilSizes == nil {
		a.PupilSizes = []float64{}
	}
	if a.RespiratoryRates == nil {
		a.RespiratoryRates = []uint8{}
	}
	return json.Marshal(a)
}

func newRecord(pupil float64, rate *uint8) Record {
	r := Record{PupilSize: pupil, State: Pending}
	if rate != nil {
		v := *rate
		r.RespiratoryRate = &v
		r.State = Finalized
	}
	return r
}
