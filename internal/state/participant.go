// internal/state/participant.go
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Participant is a study subject.
type Participant struct {
	Name       string    `json:"name"`
	Age        int       `json:"age,omitempty"`
	Gender     string    `json:"gender,omitempty"`
	LevelTried string    `json:"level_tried,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ParticipantStore is a JSON-file-backed store for participants.
type ParticipantStore struct {
	path string
	mu   sync.RWMutex
}

// NewParticipantStore creates a new file-backed ParticipantStore at the given file path.
func NewParticipantStore(path string) *ParticipantStore {
	return &ParticipantStore{path: path}
}

// Path returns the file path used by this store.
func (s *ParticipantStore) Path() string {
	return s.path
}

// List returns all participants. Returns an empty slice if the file doesn't exist.
func (s *ParticipantStore) List() ([]*Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participants, err := s.load()
	if err != nil {
		return nil, err
	}
	if participants == nil {
		return []*Participant{}, nil
	}
	return participants, nil
}

// Get finds a participant by name, ignoring case.
func (s *ParticipantStore) Get(name string) (*Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	participants, err := s.load()
	if err != nil {
		return nil, err
	}

	for _, p := range participants {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("participant %s: %w", name, ErrNotFound)
}

// Add appends a participant. Returns an error if the name is taken.
func (s *ParticipantStore) Add(p *Participant) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("participant name is required")
	}
	if p.Age < 0 {
		return fmt.Errorf("participant age must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	participants, err := s.load()
	if err != nil {
		return err
	}

	for _, existing := range participants {
		if strings.EqualFold(existing.Name, p.Name) {
			return fmt.Errorf("participant already exists: %s", p.Name)
		}
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	participants = append(participants, p)
	return writeJSON(s.path, participants)
}

// Remove deletes a participant by name.
func (s *ParticipantStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	participants, err := s.load()
	if err != nil {
		return err
	}

	for i, p := range participants {
		if strings.EqualFold(p.Name, name) {
			participants = append(participants[:i], participants[i+1:]...)
			return writeJSON(s.path, participants)
		}
	}
	return fmt.Errorf("participant %s: %w", name, ErrNotFound)
}

// RecordLevel notes the most recent level a participant ran.
func (s *ParticipantStore) RecordLevel(name, level string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	participants, err := s.load()
	if err != nil {
		return err
	}

	for _, p := range participants {
		if strings.EqualFold(p.Name, name) {
			p.LevelTried = level
			return writeJSON(s.path, participants)
		}
	}
	return fmt.Errorf("participant %s: %w", name, ErrNotFound)
}

// load reads the JSON file and returns the participant list. Returns nil if the file doesn't exist.
func (s *ParticipantStore) load() ([]*Participant, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read participants file: %w", err)
	}

	var participants []*Participant
	if err := json.Unmarshal(data, &participants); err != nil {
		return nil, fmt.Errorf("unmarshal participants: %w", err)
	}
	return participants, nil
}
