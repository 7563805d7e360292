// Package session runs n-back sessions: it drives the engine from the
// session clock and the response-window ticker, feeds sensor output through
// respiration estimation into stream fusion, fans notifications out to
// listeners and hands the finished Result to a Sink.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/user/breathlab/internal/fusion"
	"github.com/user/breathlab/internal/metrics"
	"github.com/user/breathlab/internal/nback"
	"github.com/user/breathlab/internal/notify"
	"github.com/user/breathlab/internal/respiration"
	"github.com/user/breathlab/internal/scheduler"
	"github.com/user/breathlab/internal/sensor"
	"github.com/user/breathlab/internal/types"
)

var (
	// ErrNoPhysiologicalData is recorded as a warning when a recorded
	// session ends without any pupil or respiration sample.
	ErrNoPhysiologicalData = errors.New("no physiological data collected")

	ErrSessionActive = errors.New("a session is already running")
	ErrNoSession     = errors.New("no active session")
)

// DefaultWindowTick is the response-window resolution.
const DefaultWindowTick = 10 * time.Millisecond

// Sensor is a startable line-oriented sensor source. *sensor.Bridge
// implements it.
type Sensor interface {
	Name() string
	Start(ctx context.Context) error
	Stop()
	Running() bool
	Done() <-chan struct{}
}

// SensorFactory builds a sensor that reports decoded lines to h.
type SensorFactory func(cfg sensor.Config, h sensor.Handler) Sensor

func bridgeFactory(cfg sensor.Config, h sensor.Handler) Sensor {
	return sensor.NewBridge(cfg, h)
}

// Sink persists sessions. Open runs before the engine starts; Close receives
// the final result.
type Sink interface {
	Open(ctx context.Context, info Info) error
	Close(ctx context.Context, res *Result) error
}

// Options configures a Runner.
type Options struct {
	Participant string
	Engine      nback.Config
	EngineOpts  []nback.Option

	Eye    sensor.Config
	Breath sensor.Config
	Window respiration.WindowConfig
	// Estimator defaults to respiration.CrossingEstimator.
	Estimator respiration.Estimator
	NewSensor SensorFactory

	// WindowTick is the response-window ticker period. A negative value
	// disables the ticker; the window then only moves through Elapse.
	WindowTick time.Duration
}

// Runner owns at most one live session at a time.
type Runner struct {
	opts     Options
	clock    scheduler.Clock
	notifier *notify.Registry
	sink     Sink
	slot     *semaphore.Weighted

	mu  sync.Mutex
	cur *run
}

// New creates a Runner. notifier and sink may be nil.
func New(clock scheduler.Clock, notifier *notify.Registry, sink Sink, opts Options) *Runner {
	if opts.NewSensor == nil {
		opts.NewSensor = bridgeFactory
	}
	if opts.WindowTick == 0 {
		opts.WindowTick = DefaultWindowTick
	}
	if opts.Window == (respiration.WindowConfig{}) {
		opts.Window = respiration.DefaultWindowConfig()
	}
	if opts.Engine.Stimuli == nil {
		opts.Engine = nback.DefaultConfig()
	}
	if opts.Eye.Name == "" {
		opts.Eye.Name = "eye"
	}
	if opts.Breath.Name == "" {
		opts.Breath.Name = "breath"
	}
	if notifier == nil {
		notifier = notify.NewRegistry(0)
	}
	return &Runner{
		opts:     opts,
		clock:    clock,
		notifier: notifier,
		sink:     sink,
		slot:     semaphore.NewWeighted(1),
	}
}

// Notifier returns the registry observers subscribe to.
func (r *Runner) Notifier() *notify.Registry { return r.notifier }

// StartSession starts a scored session at the given level with the
// runner's engine config.
func (r *Runner) StartSession(ctx context.Context, level nback.Level) (types.SessionID, error) {
	return r.Start(ctx, level, r.opts.Engine)
}

// Start starts a session with an explicit engine config. Cancelling ctx
// aborts the session.
func (r *Runner) Start(ctx context.Context, level nback.Level, cfg nback.Config) (types.SessionID, error) {
	if !r.slot.TryAcquire(1) {
		return "", ErrSessionActive
	}
	rn, err := r.open(ctx, level, cfg)
	if err != nil {
		r.slot.Release(1)
		return "", err
	}
	return rn.id, nil
}

func (r *Runner) open(ctx context.Context, level nback.Level, cfg nback.Config) (*run, error) {
	engine, err := nback.NewEngine(level, cfg, r.opts.EngineOpts...)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	window, err := respiration.NewWindow(r.opts.Window, r.opts.Estimator)
	if err != nil {
		return nil, fmt.Errorf("respiration window: %w", err)
	}

	rn := &run{
		runner: r,
		id:     types.NewSessionID(),
		engine: engine,
		window: window,
		fusion: fusion.NewLoop(fusion.DefaultQueueSize),
		info: Info{
			Participant: r.opts.Participant,
			Level:       level,
			Trial:       cfg.Trial,
			StartedAt:   time.Now(),
		},
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
		lastState: nback.StateIdle,
	}
	rn.info.SessionID = rn.id
	rn.eye = r.opts.NewSensor(r.opts.Eye, rn.onEye)
	rn.breath = r.opts.NewSensor(r.opts.Breath, rn.onBreath)

	if r.sink != nil {
		if err := r.sink.Open(ctx, rn.info); err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	rn.cancel = cancel
	rn.fusion.OnOp = func(op fusion.Op) {
		if op == fusion.OpDiscarded {
			slog.Debug("rate discarded, no pupil sample yet", "session_id", rn.id)
		}
	}
	rn.fusion.Start(context.Background())

	r.mu.Lock()
	r.cur = rn
	r.mu.Unlock()

	metrics.SessionStarted()
	slog.Info("session started", "session_id", rn.id, "level", level, "trial", cfg.Trial, "participant", rn.info.Participant)

	rn.mu.Lock()
	rn.engine.Start()
	rn.publishLocked(rn.observe(nil))

	g, gctx := errgroup.WithContext(runCtx)
	for _, s := range []Sensor{rn.eye, rn.breath} {
		if err := s.Start(runCtx); err != nil {
			rn.warn(fmt.Sprintf("%s sensor not started: %v", s.Name(), err))
			continue
		}
		g.Go(func() error {
			select {
			case <-s.Done():
				if gctx.Err() == nil {
					rn.warn(fmt.Sprintf("%s sensor stopped", s.Name()))
				}
			case <-gctx.Done():
			}
			return nil
		})
	}

	cancelTick, err := r.clock.Every("@every 1s", rn.tick)
	if err != nil {
		rn.cancelTick = func() {}
		rn.warn(fmt.Sprintf("session clock: %v", err))
		rn.abort()
	} else {
		rn.cancelTick = cancelTick
	}

	if r.opts.WindowTick > 0 {
		g.Go(func() error {
			rn.windowLoop(gctx, r.opts.WindowTick)
			return nil
		})
	}

	go rn.supervise(runCtx, g)
	return rn, nil
}

func (r *Runner) current() (*run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return nil, ErrNoSession
	}
	select {
	case <-r.cur.stopped:
		return nil, ErrNoSession
	default:
	}
	return r.cur, nil
}

// RespondNow scores the subject's "respond" signal against the current
// stimulus. ok is false when the press was ignored.
func (r *Runner) RespondNow() (resp nback.Response, ok bool, err error) {
	rn, err := r.current()
	if err != nil {
		return nback.Response{}, false, err
	}
	rn.mu.Lock()
	resp, ok = rn.engine.Respond()
	var scored *nback.Response
	if ok {
		scored = &resp
	}
	rn.publishLocked(rn.observe(scored))
	return resp, ok, nil
}

// Tick advances the session countdown by one second.
func (r *Runner) Tick() error {
	rn, err := r.current()
	if err != nil {
		return err
	}
	rn.tick()
	return nil
}

// Elapse advances the response window by d.
func (r *Runner) Elapse(d time.Duration) error {
	rn, err := r.current()
	if err != nil {
		return err
	}
	rn.elapse(d)
	return nil
}

// Abort stops the live session early.
func (r *Runner) Abort() error {
	rn, err := r.current()
	if err != nil {
		return err
	}
	rn.abort()
	return nil
}

// Done returns a channel closed when the most recent session has been
// finalized, or nil when none was started.
func (r *Runner) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cur == nil {
		return nil
	}
	return r.cur.done
}

// Wait blocks until the most recent session is finalized and returns its
// result. The error is the sink's Close error, if any.
func (r *Runner) Wait(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	rn := r.cur
	r.mu.Unlock()
	if rn == nil {
		return nil, ErrNoSession
	}
	select {
	case <-rn.done:
		return rn.result, rn.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot describes the live session, or the last one when none is active.
func (r *Runner) Snapshot(ctx context.Context) Snapshot {
	r.mu.Lock()
	rn := r.cur
	r.mu.Unlock()
	if rn == nil {
		return Snapshot{}
	}

	rn.mu.Lock()
	es := rn.engine.Snapshot()
	snap := Snapshot{
		SessionID:   rn.id,
		Participant: rn.info.Participant,
		Engine:      &es,
		Warnings:    append([]string(nil), rn.warnings...),
	}
	rn.mu.Unlock()

	select {
	case <-rn.done:
		return snap
	default:
	}
	snap.Active = es.State != nback.StateStop
	snap.Sensors = map[string]bool{
		rn.eye.Name():    rn.eye.Running(),
		rn.breath.Name(): rn.breath.Running(),
	}

	fctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	if fs, err := rn.fusion.Snapshot(fctx); err == nil {
		snap.Fusion = &FusionSummary{
			Recording:    fs.Recording,
			Records:      len(fs.Records),
			PupilSamples: len(fs.Serial.PupilSizes),
			RateSamples:  len(fs.Serial.RespiratoryRates),
			Pupil:        fs.Pupil,
		}
	}
	return snap
}

// emit runs listeners in order. Callers go through run.publishLocked.
func (r *Runner) emit(ns []notify.Notification) {
	for _, n := range ns {
		if err := r.notifier.Notify(n); err != nil {
			slog.Warn("notification listener failed", "kind", n.Kind, "session_id", n.SessionID, "error", err)
		}
	}
}
