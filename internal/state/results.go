// internal/state/results.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/breathlab/internal/types"
)

// ResultStore keeps one result document per session at
// sessions/<sessionID>/result.json.
type ResultStore struct {
	root string
}

// NewResultStore creates a new file-backed ResultStore rooted at the given directory.
func NewResultStore(root string) *ResultStore {
	return &ResultStore{root: root}
}

// Path returns where the result of a session is stored.
func (r *ResultStore) Path(sessionID types.SessionID) string {
	return filepath.Join(r.root, "sessions", string(sessionID), "result.json")
}

// Put writes the result durably, replacing any earlier one.
func (r *ResultStore) Put(_ context.Context, sessionID types.SessionID, result any) error {
	if sessionID == "" {
		return fmt.Errorf("put result: empty session id")
	}
	return writeJSON(r.Path(sessionID), result)
}

// Get decodes the stored result into the given value.
func (r *ResultStore) Get(_ context.Context, sessionID types.SessionID, into any) error {
	data, err := os.ReadFile(r.Path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("result for session %s: %w", sessionID, ErrNotFound)
		}
		return fmt.Errorf("read result: %w", err)
	}
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("unmarshal result: %w", err)
	}
	return nil
}
