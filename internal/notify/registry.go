// internal/notify/registry.go
package notify

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/user/breathlab/internal/types"
)

// Notification kinds emitted by the session runner.
const (
	KindState         = "state"
	KindPresentation  = "presentation"
	KindResponse      = "response"
	KindWarning       = "warning"
	KindSensorMessage = "sensor_message"
	KindSensorError   = "sensor_error"
	KindFinished      = "finished"
)

// DefaultMaxListeners bounds a registry created with a non-positive cap.
const DefaultMaxListeners = 16

// ErrFull is returned when the registry has no room for another listener.
var ErrFull = errors.New("listener registry full")

// Notification is one observable session occurrence.
type Notification struct {
	Kind      string          `json:"kind"`
	SessionID types.SessionID `json:"session_id"`
	At        time.Time       `json:"at"`
	Payload   any             `json:"payload,omitempty"`
}

// Listener receives notifications whose kind starts with its prefix.
type Listener func(Notification) error

type entry struct {
	name   string
	prefix string
	fn     Listener
}

// Registry fans notifications out to a bounded, ordered set of listeners.
type Registry struct {
	mu      sync.RWMutex
	max     int
	entries []entry
}

// NewRegistry creates an empty registry holding at most max listeners.
func NewRegistry(max int) *Registry {
	if max <= 0 {
		max = DefaultMaxListeners
	}
	return &Registry{max: max}
}

// Register adds a listener for kinds starting with prefix; an empty prefix
// matches everything. Registering an existing name replaces it in place.
func (r *Registry) Register(name, prefix string, fn Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].name == name {
			r.entries[i] = entry{name: name, prefix: prefix, fn: fn}
			return nil
		}
	}
	if len(r.entries) >= r.max {
		return fmt.Errorf("register %q: %w", name, ErrFull)
	}
	r.entries = append(r.entries, entry{name: name, prefix: prefix, fn: fn})
	return nil
}

// Unregister removes a listener by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].name == name {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return
		}
	}
}

// Len reports registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Notify calls every matching listener in registration order. Listener
// errors are collected and do not stop delivery to the rest.
func (r *Registry) Notify(n Notification) error {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	r.mu.RLock()
	matched := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		if strings.HasPrefix(n.Kind, e.prefix) {
			matched = append(matched, e)
		}
	}
	r.mu.RUnlock()

	var errs []error
	for _, e := range matched {
		if err := e.fn(n); err != nil {
			errs = append(errs, fmt.Errorf("listener %s: %w", e.name, err))
		}
	}
	return errors.Join(errs...)
}
