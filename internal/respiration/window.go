// Package respiration turns a breathing-amplitude stream into sparse
// respiration-rate estimates.
package respiration

import (
	"fmt"
	"math"
)

// Estimator derives breaths per minute from a window of amplitude samples.
// ok is false when the window carries no usable estimate.
type Estimator interface {
	Estimate(samples []float64, sampleRate float64) (bpm float64, ok bool)
}

// WindowConfig sizes the sliding analysis window.
type WindowConfig struct {
	SampleRate    float64 // amplitude samples per second
	WindowSeconds float64
	EstimateEvery int // samples between estimates once the window is full
}

// DefaultWindowConfig matches a 10 Hz amplitude producer.
func DefaultWindowConfig() WindowConfig {
	return WindowConfig{SampleRate: 10, WindowSeconds: 30, EstimateEvery: 10}
}

// Window buffers amplitudes and periodically asks the estimator for a rate.
type Window struct {
	est        Estimator
	sampleRate float64
	size       int
	every      int

	buf    []float64
	since  int
	primed bool
}

// NewWindow validates cfg. A nil estimator uses CrossingEstimator.
func NewWindow(cfg WindowConfig, est Estimator) (*Window, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %v", cfg.SampleRate)
	}
	if cfg.WindowSeconds <= 0 {
		return nil, fmt.Errorf("window seconds must be positive, got %v", cfg.WindowSeconds)
	}
	size := int(math.Round(cfg.SampleRate * cfg.WindowSeconds))
	if size < 2 {
		return nil, fmt.Errorf("window holds %d samples, need at least 2", size)
	}
	every := cfg.EstimateEvery
	if every <= 0 {
		every = 1
	}
	if est == nil {
		est = CrossingEstimator{}
	}
	return &Window{
		est:        est,
		sampleRate: cfg.SampleRate,
		size:       size,
		every:      every,
		buf:        make([]float64, 0, size),
	}, nil
}

// Add consumes one amplitude sample and returns a new rate estimate, or nil
// when no estimate is due. Non-finite samples are dropped.
func (w *Window) Add(amplitude float64) *uint8 {
	if math.IsNaN(amplitude) || math.IsInf(amplitude, 0) {
		return nil
	}
	if len(w.buf) == w.size {
		copy(w.buf, w.buf[1:])
		w.buf = w.buf[:w.size-1]
	}
	w.buf = append(w.buf, amplitude)
	if len(w.buf) < w.size {
		return nil
	}

	if w.primed {
		w.since++
		if w.since < w.every {
			return nil
		}
	}
	w.primed = true
	w.since = 0

	bpm, ok := w.est.Estimate(w.buf, w.sampleRate)
	if !ok || math.IsNaN(bpm) {
		return nil
	}
	rate := uint8(math.Round(math.Max(0, math.Min(255, bpm))))
	return &rate
}

// Reset discards buffered samples.
func (w *Window) Reset() {
	w.buf = w.buf[:0]
	w.since = 0
	w.primed = false
}

// Len reports buffered samples.
func (w *Window) Len() int { return len(w.buf) }

// CrossingEstimator counts rising crossings of the window mean with a
// hysteresis band expressed as a fraction of the half peak-to-peak range.
type CrossingEstimator struct {
	Hysteresis float64
}

func (c CrossingEstimator) Estimate(samples []float64, sampleRate float64) (float64, bool) {
	if len(samples) < 2 || sampleRate <= 0 {
		return 0, false
	}
	lo, hi, sum := samples[0], samples[0], 0.0
	for _, s := range samples {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
		sum += s
	}
	if hi == lo {
		return 0, true
	}
	h := c.Hysteresis
	if h <= 0 {
		h = 0.1
	}
	mean := sum / float64(len(samples))
	band := h * (hi - lo) / 2

	const (
		unknown = iota
		below
		above
	)
	state, rising := unknown, 0
	for _, s := range samples {
		switch {
		case s > mean+band:
			if state == below {
				rising++
			}
			state = above
		case s < mean-band:
			state = below
		}
	}
	seconds := float64(len(samples)) / sampleRate
	return float64(rising) * 60 / seconds, true
}
