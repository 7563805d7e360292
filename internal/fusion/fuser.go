// Package fusion merges pupil samples and respiration-rate estimates into a
// gap-filled sequence of records.
//
// A rate event appends a record carrying the latest pupil sample. When no
// rate is available the record stays pending and the next rate backfills it
// in place, keeping the pupil size it was created with.
package fusion

import (
	"math"

	"github.com/user/breathlab/internal/metrics"
)

// Op names what a rate event did to the buffer.
type Op string

const (
	OpAppended   Op = "appended"
	OpBackfilled Op = "backfilled"
	OpDiscarded  Op = "discarded"
	OpUnchanged  Op = "unchanged"
	OpIgnored    Op = "ignored"
)

// Fuser holds the fusion buffers. It is not safe for concurrent use; Loop
// serializes access.
type Fuser struct {
	recording bool
	pupil     float64
	hasPupil  bool

	records []Record
	serial  SerialData
}

func NewFuser() *Fuser { return &Fuser{} }

// SetRecording toggles persistence of records and audit trails.
func (f *Fuser) SetRecording(on bool) { f.recording = on }

func (f *Fuser) Recording() bool { return f.recording }

// ObservePupil updates the pupil register. Non-finite samples are counted
// and dropped.
func (f *Fuser) ObservePupil(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		metrics.IncFusion("invalid")
		return
	}
	f.pupil = v
	f.hasPupil = true
	if f.recording {
		f.serial.PupilSizes = append(f.serial.PupilSizes, v)
	}
}

// ObserveRate applies one respiration-rate event.
func (f *Fuser) ObserveRate(rate *uint8) Op {
	if !f.recording {
		return OpIgnored
	}
	if rate != nil {
		f.serial.RespiratoryRates = append(f.serial.RespiratoryRates, *rate)
	}
	if !f.hasPupil {
		metrics.IncFusion(string(OpDiscarded))
		return OpDiscarded
	}

	n := len(f.records)
	if n > 0 && f.records[n-1].State == Pending {
		f.records[n-1] = newRecord(f.records[n-1].PupilSize, rate)
		if rate == nil {
			return OpUnchanged
		}
		metrics.IncFusion(string(OpBackfilled))
		return OpBackfilled
	}

	f.records = append(f.records, newRecord(f.pupil, rate))
	metrics.IncFusion(string(OpAppended))
	return OpAppended
}

// Pupil returns the latest finite pupil sample.
func (f *Fuser) Pupil() (float64, bool) { return f.pupil, f.hasPupil }

// Records returns a copy of the fused records.
func (f *Fuser) Records() []Record {
	out := make([]Record, len(f.records))
	for i, r := range f.records {
		out[i] = newRecord(r.PupilSize, r.RespiratoryRate)
	}
	return out
}

// Serial returns a copy of the audit trails.
func (f *Fuser) Serial() SerialData {
	return SerialData{
		PupilSizes:       append([]float64(nil), f.serial.PupilSizes...),
		RespiratoryRates: append([]uint8(nil), f.serial.RespiratoryRates...),
	}
}

// Reset clears buffers and the pupil register. Recording is left unchanged.
func (f *Fuser) Reset() {
	f.records = nil
	f.serial = SerialData{}
	f.pupil = 0
	f.hasPupil = false
}
