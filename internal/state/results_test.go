// internal/state/results_test.go
package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/breathlab/internal/types"
)

type fakeResult struct {
	Level       string   `json:"level"`
	CorrectRate *float64 `json:"correct_rate"`
}

func TestResultStorePutGet(t *testing.T) {
	dir := t.TempDir()
	store := NewResultStore(dir)
	ctx := context.Background()
	id := types.NewSessionID()

	rate := 87.5
	if err := store.Put(ctx, id, fakeResult{Level: "hard", CorrectRate: &rate}); err != nil {
		t.Fatal(err)
	}

	var got fakeResult
	if err := store.Get(ctx, id, &got); err != nil {
		t.Fatal(err)
	}
	if got.Level != "hard" || got.CorrectRate == nil || *got.CorrectRate != 87.5 {
		t.Errorf("unexpected result: %+v", got)
	}

	// overwrite leaves no pending files behind
	if err := store.Put(ctx, id, fakeResult{Level: "easy"}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Dir(store.Path(id)))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "result.json" {
		t.Errorf("unexpected files: %v", entries)
	}
}

func TestResultStoreMissing(t *testing.T) {
	store := NewResultStore(t.TempDir())
	var got fakeResult
	err := store.Get(context.Background(), types.NewSessionID(), &got)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.Put(context.Background(), "", got); err == nil {
		t.Error("expected error for empty session id")
	}
}
