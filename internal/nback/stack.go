package nback

// Stack keeps the most recent stimuli of a session, newest last. It never
// holds more than the level's capacity; the oldest entry is evicted first.
type Stack struct {
	items    []string
	capacity int
}

// NewStack creates an empty stack sized for the given level.
func NewStack(level Level) *Stack {
	return &Stack{
		items:    make([]string, 0, level.Capacity()+1),
		capacity: level.Capacity(),
	}
}

// Push appends id and evicts from the bottom while over capacity.
func (s *Stack) Push(id string) {
	s.items = append(s.items, id)
	for len(s.items) > s.capacity {
		s.items = s.items[1:]
	}
}

// Peek returns the most recently pushed stimulus.
func (s *Stack) Peek() (string, bool) {
	if len(s.items) == 0 {
		return "", false
	}
	return s.items[len(s.items)-1], true
}

// Bottom returns the oldest stimulus still retained.
func (s *Stack) Bottom() (string, bool) {
	if len(s.items) == 0 {
		return "", false
	}
	return s.items[0], true
}

// NextBottom returns the stimulus that becomes Bottom after one more push.
// Pushing it forces a match.
func (s *Stack) NextBottom() (string, bool) {
	if len(s.items) == 0 {
		return "", false
	}
	if s.AtCapacity() {
		if len(s.items) < 2 {
			return "", false
		}
		return s.items[1], true
	}
	return s.items[0], true
}

func (s *Stack) AtCapacity() bool {
	return len(s.items) == s.capacity
}

// Matched reports whether the newest stimulus equals the one N back.
func (s *Stack) Matched() bool {
	if !s.AtCapacity() {
		return false
	}
	return s.items[0] == s.items[len(s.items)-1]
}

func (s *Stack) Len() int      { return len(s.items) }
func (s *Stack) Capacity() int { return s.capacity }

// Items returns a copy of the stack contents, oldest first.
func (s *Stack) Items() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

// Reset empties the stack between sessions.
func (s *Stack) Reset() {
	s.items = s.items[:0]
}
