package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/breathlab/internal/archive"
	"github.com/user/breathlab/internal/nback"
	"github.com/user/breathlab/internal/notify"
	"github.com/user/breathlab/internal/protocol"
	"github.com/user/breathlab/internal/session"
	"github.com/user/breathlab/internal/state"
	"github.com/user/breathlab/internal/types"
)

func TestSelectBlocks(t *testing.T) {
	proto := protocol.Default()

	blocks, err := selectBlocks(proto, runFlags{})
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 4 {
		t.Fatalf("expected trial plus 3 levels, got %d blocks", len(blocks))
	}
	if !blocks[0].Config.Trial {
		t.Error("first block should be the trial")
	}

	blocks, err = selectBlocks(proto, runFlags{noTrial: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 3 || blocks[0].Level != nback.Easy {
		t.Errorf("unexpected blocks without trial: %+v", blocks)
	}

	blocks, err = selectBlocks(proto, runFlags{level: "hard"})
	if err != nil {
		t.Fatal(err)
	}
	if len(blocks) != 1 || blocks[0].Level != nback.Hard || blocks[0].Config.Trial {
		t.Errorf("unexpected single-level block: %+v", blocks)
	}

	if _, err := selectBlocks(proto, runFlags{level: "extreme"}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestConsoleListener(t *testing.T) {
	var buf bytes.Buffer
	listen := consoleListener(&buf)

	notes := []notify.Notification{
		{Kind: notify.KindPresentation, Payload: session.PresentationEvent{Stimulus: "animalface_panda"}},
		{Kind: notify.KindResponse, Payload: nback.Response{
			Outcome:  nback.Correct,
			Reaction: nback.Reaction{Kind: nback.PressedSpace, ReactionTime: 1.2},
		}},
		{Kind: notify.KindResponse, Payload: nback.Response{
			Outcome:  nback.Incorrect,
			Reaction: nback.Reaction{Kind: nback.DoNothing},
		}},
		{Kind: notify.KindWarning, Payload: "eye sensor stopped"},
	}
	for _, n := range notes {
		if err := listen(n); err != nil {
			t.Fatal(err)
		}
	}

	out := buf.String()
	for _, want := range []string{
		"stimulus animalface_panda",
		"correct (pressed after 1.20s)",
		"incorrect (no press)",
		"warning: eye sensor stopped",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRebuildArchive(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	sessions := state.NewSessionStore(dir)
	results := state.NewResultStore(dir)

	finished, err := sessions.Create(ctx, &types.SessionIndex{Participant: "ada", Level: "easy"})
	if err != nil {
		t.Fatal(err)
	}
	idx, err := sessions.Get(ctx, finished)
	if err != nil {
		t.Fatal(err)
	}
	idx.Status = types.StatusFinished
	if err := sessions.Update(ctx, idx); err != nil {
		t.Fatal(err)
	}
	rate := 50.0
	if err := results.Put(ctx, finished, &session.Result{
		SessionID:   finished,
		Participant: "ada",
		Level:       nback.Easy,
		Status:      types.StatusFinished,
		CorrectRate: &rate,
	}); err != nil {
		t.Fatal(err)
	}

	// still running, must be skipped
	if _, err := sessions.Create(ctx, &types.SessionIndex{Participant: "ada", Level: "hard"}); err != nil {
		t.Fatal(err)
	}

	arc, err := archive.Open(ctx, filepath.Join(dir, "archive.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer arc.Close()

	n, err := rebuildArchive(ctx, arc, sessions, results)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 imported session, got %d", n)
	}
	count, err := arc.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 archived session, got %d", count)
	}
}
