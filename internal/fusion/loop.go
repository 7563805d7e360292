package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrLoopStopped is returned when the loop is not accepting work.
var ErrLoopStopped = errors.New("fusion loop stopped")

// DefaultQueueSize bounds the number of pending inputs.
const DefaultQueueSize = 1024

// Snapshot is a consistent copy of the fusion state.
type Snapshot struct {
	Records   []Record   `json:"collected_data"`
	Serial    SerialData `json:"serial_data"`
	Recording bool       `json:"recording"`
	Pupil     *float64   `json:"pupil_size,omitempty"`
}

type opKind int

const (
	opPupil opKind = iota
	opRate
	opRecording
	opSnapshot
	opReset
)

type op struct {
	kind  opKind
	value float64
	rate  *uint8
	on    bool
	reply chan Snapshot
}

// Loop owns a Fuser on a single goroutine. Inputs are applied in the order
// they were enqueued.
type Loop struct {
	fuser *Fuser
	lane  chan op
	// OnOp, when set, observes the outcome of every rate event on the loop
	// goroutine.
	OnOp func(Op)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLoop creates a loop with a lane of the given size.
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Loop{
		fuser: NewFuser(),
		lane:  make(chan op, size),
	}
}

// Start launches the loop goroutine. Must be called before enqueueing.
func (l *Loop) Start(ctx context.Context) {
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go l.run()
}

// Stop cancels the loop and waits for it to exit. Inputs still queued are
// dropped.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		select {
		case o := <-l.lane:
			l.apply(o)
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *Loop) apply(o op) {
	switch o.kind {
	case opPupil:
		l.fuser.ObservePupil(o.value)
	case opRate:
		res := l.fuser.ObserveRate(o.rate)
		if l.OnOp != nil {
			l.OnOp(res)
		}
	case opRecording:
		l.fuser.SetRecording(o.on)
	case opReset:
		l.fuser.Reset()
	case opSnapshot:
		o.reply <- l.snapshot()
	}
}

func (l *Loop) snapshot() Snapshot {
	s := Snapshot{
		Records:   l.fuser.Records(),
		Serial:    l.fuser.Serial(),
		Recording: l.fuser.Recording(),
	}
	if v, ok := l.fuser.Pupil(); ok {
		s.Pupil = &v
	}
	return s
}

// Pupil enqueues a pupil sample without blocking.
func (l *Loop) Pupil(v float64) error {
	return l.offer(op{kind: opPupil, value: v})
}

// Rate enqueues a respiration-rate event without blocking. A nil rate means
// no estimate.
func (l *Loop) Rate(rate *uint8) error {
	var r *uint8
	if rate != nil {
		v := *rate
		r = &v
	}
	return l.offer(op{kind: opRate, rate: r})
}

func (l *Loop) offer(o op) error {
	if l.ctx == nil || l.ctx.Err() != nil {
		return ErrLoopStopped
	}
	select {
	case l.lane <- o:
		return nil
	default:
		slog.Warn("fusion queue full, sample dropped", "kind", o.kind)
		return fmt.Errorf("fusion queue full")
	}
}

// SetRecording switches recording on or off after all earlier inputs.
func (l *Loop) SetRecording(ctx context.Context, on bool) error {
	return l.send(ctx, op{kind: opRecording, on: on})
}

// Reset clears the buffers after all earlier inputs.
func (l *Loop) Reset(ctx context.Context) error {
	return l.send(ctx, op{kind: opReset})
}

// Snapshot returns the state after every earlier input has been applied.
func (l *Loop) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if err := l.send(ctx, op{kind: opSnapshot, reply: reply}); err != nil {
		return Snapshot{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-l.ctx.Done():
		return Snapshot{}, ErrLoopStopped
	}
}

func (l *Loop) send(ctx context.Context, o op) error {
	if l.ctx == nil || l.ctx.Err() != nil {
		return ErrLoopStopped
	}
	select {
	case l.lane <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.ctx.Done():
		return ErrLoopStopped
	}
}
