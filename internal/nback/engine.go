// Package nback implements the n-back stimulus schedule, its match rule and
// the per-session timing state machine. It performs no I/O; callers drive it
// with Start, Respond, Elapse, Tick and Abort and serialize those calls.
package nback

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/user/breathlab/internal/types"
)

// State is the lifecycle of one session.
type State string

const (
	StateIdle    State = "idle"
	StateStart   State = "start"
	StateRunning State = "running"
	StateStop    State = "stop"
)

// DefaultStimuli are the animal face images of the reference study.
var DefaultStimuli = []string{
	"animalface_cheetah",
	"animalface_duck",
	"animalface_niwatori",
	"animalface_panda",
	"animalface_tora",
	"animalface_uma",
	"animalface_usagi",
	"animalface_zou",
}

// Config holds the per-deployment constants of the engine.
type Config struct {
	Stimuli []string

	// MinUnmatched is the run length of non-matches below which the next
	// stimulus deliberately avoids a match.
	MinUnmatched int

	// MaxUnmatched is the run length at which the next stimulus is forced
	// to match. Between the two thresholds stimuli are drawn uniformly.
	MaxUnmatched int

	ResponseWindow time.Duration
	SessionSeconds int

	// WarmupSeconds is added to the session countdown so the sensors have
	// aligned before the first scored second.
	WarmupSeconds int

	// Trial sessions are scored but never recorded.
	Trial bool
}

// DefaultConfig returns the thresholds and timings of the reference setup.
func DefaultConfig() Config {
	return Config{
		Stimuli:        append([]string(nil), DefaultStimuli...),
		MinUnmatched:   5,
		MaxUnmatched:   7,
		ResponseWindow: 3 * time.Second,
		SessionSeconds: 300,
		WarmupSeconds:  1,
	}
}

// Validate checks that the config can drive a session.
func (c Config) Validate() error {
	distinct := make(map[string]struct{}, len(c.Stimuli))
	for _, s := range c.Stimuli {
		if s == "" {
			return errors.New("stimulus ids must not be empty")
		}
		distinct[s] = struct{}{}
	}
	if len(distinct) < 2 {
		return fmt.Errorf("need at least 2 distinct stimuli, got %d", len(distinct))
	}
	if c.MinUnmatched < 0 || c.MaxUnmatched < c.MinUnmatched {
		return fmt.Errorf("invalid unmatched thresholds: min=%d max=%d", c.MinUnmatched, c.MaxUnmatched)
	}
	if c.ResponseWindow <= 0 {
		return fmt.Errorf("response window must be positive, got %s", c.ResponseWindow)
	}
	if c.SessionSeconds <= 0 {
		return fmt.Errorf("session seconds must be positive, got %d", c.SessionSeconds)
	}
	if c.WarmupSeconds < 0 {
		return fmt.Errorf("warmup seconds must not be negative, got %d", c.WarmupSeconds)
	}
	return nil
}

// Engine is the state machine of a single session. A finished engine is not
// reused; the next session gets a new one.
type Engine struct {
	cfg   Config
	level Level
	stack *Stack

	state        State
	unmatched    int
	sessionLeft  int
	windowLeft   time.Duration
	presentation types.PresentationID

	responses []Response

	rng *rand.Rand
	now func() time.Time
}

// Option configures optional engine behavior.
type Option func(*Engine)

// WithRand replaces the random source used for stimulus selection.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// WithClock replaces the wall clock used to stamp responses.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an idle engine for one session at the given level.
func NewEngine(level Level, cfg Config, opts ...Option) (*Engine, error) {
	if level.Capacity() < 2 {
		return nil, fmt.Errorf("invalid level: %d", int(level))
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	e := &Engine{
		cfg:   cfg,
		level: level,
		stack: NewStack(level),
		state: StateIdle,
		rng:   rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start arms the session and presents the first stimulus.
func (e *Engine) Start() {
	if e.state != StateIdle {
		panic(fmt.Sprintf("nback: Start called in state %s", e.state))
	}
	e.state = StateStart
	e.sessionLeft = e.cfg.SessionSeconds + e.cfg.WarmupSeconds
	e.advance()
}

// Respond scores an explicit subject action against the current stimulus and
// moves to the next one. Presses while the stack is still filling, or after
// the session stopped, are not scored and return false.
func (e *Engine) Respond() (Response, bool) {
	e.mustBeStarted("Respond")
	if e.state != StateRunning {
		return Response{}, false
	}

	reaction := e.cfg.ResponseWindow - e.windowLeft
	outcome := Incorrect
	if e.stack.Matched() {
		outcome = Correct
	}
	r := e.record(outcome, true, Reaction{Kind: PressedSpace, ReactionTime: reaction.Seconds()})
	e.advance()
	return r, true
}

// Elapse consumes d from the response window. When the window runs out the
// current stimulus is scored as a non-response and the next one is shown.
// The returned bool reports whether a Response was produced.
func (e *Engine) Elapse(d time.Duration) (Response, bool) {
	e.mustBeStarted("Elapse")
	if e.state == StateStop {
		return Response{}, false
	}
	e.windowLeft -= d
	if e.windowLeft > 0 {
		return Response{}, false
	}
	return e.expire()
}

func (e *Engine) expire() (Response, bool) {
	if !e.stack.AtCapacity() {
		e.advance()
		return Response{}, false
	}
	// Holding back on a non-match is the correct behavior.
	outcome := Correct
	if e.stack.Matched() {
		outcome = Incorrect
	}
	r := e.record(outcome, false, Reaction{Kind: DoNothing})
	e.advance()
	return r, true
}

// Tick decrements the session countdown by one second while running and
// reports true on the tick that ends the session.
func (e *Engine) Tick() bool {
	if e.state != StateRunning {
		return false
	}
	e.sessionLeft--
	if e.sessionLeft <= 0 {
		e.sessionLeft = 0
		e.stop()
		return true
	}
	return false
}

// Abort stops the session early. Calling it again has no effect.
func (e *Engine) Abort() {
	e.stop()
}

// stop ends the session and clears the stack; the response log is kept.
func (e *Engine) stop() {
	e.state = StateStop
	e.stack.Reset()
}

func (e *Engine) advance() {
	wasFull := e.stack.AtCapacity()
	e.stack.Push(e.pick())

	if wasFull && e.state == StateRunning {
		if e.stack.Matched() {
			e.unmatched = 0
		} else {
			e.unmatched++
		}
	}
	if !wasFull && e.stack.AtCapacity() && e.state == StateStart {
		e.state = StateRunning
	}

	e.windowLeft = e.cfg.ResponseWindow
	e.presentation = types.NewPresentationID()
}

// pick chooses the next stimulus. While filling, any stimulus goes. Once
// full, a short run of non-matches avoids the next bottom, a medium run
// draws freely and a long run forces a match.
func (e *Engine) pick() string {
	if !e.stack.AtCapacity() {
		return e.random(e.cfg.Stimuli)
	}
	next, _ := e.stack.NextBottom()
	switch {
	case e.unmatched < e.cfg.MinUnmatched:
		candidates := make([]string, 0, len(e.cfg.Stimuli))
		for _, s := range e.cfg.Stimuli {
			if s != next {
				candidates = append(candidates, s)
			}
		}
		return e.random(candidates)
	case e.unmatched < e.cfg.MaxUnmatched:
		return e.random(e.cfg.Stimuli)
	default:
		return next
	}
}

func (e *Engine) random(from []string) string {
	return from[e.rng.IntN(len(from))]
}

func (e *Engine) record(outcome Outcome, selected bool, reaction Reaction) Response {
	stimulus, _ := e.stack.Peek()
	r := Response{
		Outcome:      outcome,
		Selected:     selected,
		Reaction:     reaction,
		Stimulus:     stimulus,
		Presentation: e.presentation,
		At:           e.now(),
	}
	e.responses = append(e.responses, r)
	return r
}

func (e *Engine) mustBeStarted(op string) {
	if e.state == StateIdle {
		panic(fmt.Sprintf("nback: %s called before Start", op))
	}
}

func (e *Engine) Level() Level   { return e.level }
func (e *Engine) State() State   { return e.state }
func (e *Engine) Trial() bool    { return e.cfg.Trial }
func (e *Engine) Unmatched() int { return e.unmatched }

// SessionSecondsLeft is the remaining session countdown.
func (e *Engine) SessionSecondsLeft() int { return e.sessionLeft }

// ResponseWindowLeft is the remaining time to respond to the current stimulus.
func (e *Engine) ResponseWindowLeft() time.Duration { return e.windowLeft }

// Current returns the stimulus on screen and its presentation id.
func (e *Engine) Current() (string, types.PresentationID, bool) {
	s, ok := e.stack.Peek()
	return s, e.presentation, ok
}

// Matched reports whether the current stimulus matches the one N back.
func (e *Engine) Matched() bool { return e.stack.Matched() }

// Recording reports whether physiological data should be kept: the session
// is running and is not a trial.
func (e *Engine) Recording() bool {
	return e.state == StateRunning && !e.cfg.Trial
}

// Responses returns a copy of the response log.
func (e *Engine) Responses() []Response {
	out := make([]Response, len(e.responses))
	copy(out, e.responses)
	return out
}

// Snapshot is a serializable view of the engine.
type Snapshot struct {
	Level              Level                `json:"level"`
	State              State                `json:"state"`
	Trial              bool                 `json:"trial"`
	Stimulus           string               `json:"stimulus,omitempty"`
	Presentation       types.PresentationID `json:"presentation_id,omitempty"`
	SessionSecondsLeft int                  `json:"session_seconds_left"`
	ResponseWindowLeft float64              `json:"response_window_left"`
	Unmatched          int                  `json:"unmatched"`
	Responses          int                  `json:"responses"`
}

// Snapshot captures the current engine state.
func (e *Engine) Snapshot() Snapshot {
	stimulus, _ := e.stack.Peek()
	return Snapshot{
		Level:              e.level,
		State:              e.state,
		Trial:              e.cfg.Trial,
		Stimulus:           stimulus,
		Presentation:       e.presentation,
		SessionSecondsLeft: e.sessionLeft,
		ResponseWindowLeft: e.windowLeft.Seconds(),
		Unmatched:          e.unmatched,
		Responses:          len(e.responses),
	}
}
