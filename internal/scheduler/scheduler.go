// Package scheduler provides the periodic clock that drives session
// countdowns.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Clock registers periodic callbacks. The returned cancel func removes the
// entry and is safe to call more than once.
type Clock interface {
	Every(spec string, fn func()) (cancel func(), err error)
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors like
// "@every 1s".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler is a cron-backed Clock.
type Scheduler struct {
	cron *cron.Cron
}

// New creates a stopped scheduler.
func New() *Scheduler {
	return &Scheduler{cron: cron.New(cron.WithParser(cronParser))}
}

// Start starts the cron ticker.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop stops the ticker and waits for running callbacks to return.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

// Every registers fn under the given schedule.
func (s *Scheduler) Every(spec string, fn func()) (func(), error) {
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	slog.Debug("scheduled entry", "schedule", spec, "entry", int(id))

	var once sync.Once
	return func() {
		once.Do(func() {
			s.cron.Remove(id)
			slog.Debug("removed entry", "entry", int(id))
		})
	}, nil
}

// Entries reports the number of registered entries.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// Manual is a Clock fired explicitly with Fire. Used for replay and tests.
type Manual struct {
	mu      sync.Mutex
	next    int
	entries map[int]func()
}

func NewManual() *Manual { return &Manual{entries: make(map[int]func())} }

// Every validates spec the same way Scheduler does and registers fn.
func (m *Manual) Every(spec string, fn func()) (func(), error) {
	if _, err := cronParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	m.mu.Lock()
	id := m.next
	m.next++
	m.entries[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.entries, id)
		m.mu.Unlock()
	}, nil
}

// Fire invokes every registered callback once, in registration order.
func (m *Manual) Fire() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.entries))
	for id := 0; id < m.next; id++ {
		if fn, ok := m.entries[id]; ok {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Len reports registered callbacks.
func (m *Manual) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
