package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/breathlab/internal/fusion"
	"github.com/user/breathlab/internal/nback"
	"github.com/user/breathlab/internal/session"
	"github.com/user/breathlab/internal/types"
)

func openTemp(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(context.Background(), filepath.Join(t.TempDir(), "archive", "breathlab.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func u8(v uint8) *uint8 { return &v }

func result(participant string, level nback.Level, trial bool, rate float64, reaction float64) *session.Result {
	now := time.Now()
	return &session.Result{
		SessionID:   types.NewSessionID(),
		Participant: participant,
		Level:       level,
		Trial:       trial,
		Status:      types.StatusFinished,
		StartedAt:   now.Add(-time.Minute),
		EndedAt:     now,
		Responses: []nback.Response{
			{Outcome: nback.Correct, Selected: true, Reaction: nback.Reaction{Kind: nback.PressedSpace, ReactionTime: reaction}, Stimulus: "a", Presentation: types.NewPresentationID(), At: now},
			{Outcome: nback.Correct, Reaction: nback.Reaction{Kind: nback.DoNothing}, Stimulus: "b", Presentation: types.NewPresentationID(), At: now},
		},
		CollectedData: []fusion.Record{
			{PupilSize: 3.0, RespiratoryRate: u8(12), State: fusion.Finalized},
			{PupilSize: 4.0, RespiratoryRate: u8(16), State: fusion.Finalized},
			{PupilSize: 5.0, State: fusion.Pending},
		},
		CorrectRate: &rate,
	}
}

func TestInsertAndStats(t *testing.T) {
	a := openTemp(t)
	ctx := context.Background()

	require.NoError(t, a.Insert(ctx, result("alice", nback.Easy, false, 80, 0.5)))
	require.NoError(t, a.Insert(ctx, result("bob", nback.Easy, false, 60, 1.5)))
	require.NoError(t, a.Insert(ctx, result("alice", nback.Hard, false, 40, 2.0)))
	require.NoError(t, a.Insert(ctx, result("alice", nback.Normal, true, 100, 0.1)))

	n, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	stats, err := a.Stats(ctx, "")
	require.NoError(t, err)
	require.Len(t, stats, 2)

	easy := stats[0]
	assert.Equal(t, nback.Easy, easy.Level)
	assert.Equal(t, 2, easy.Sessions)
	require.NotNil(t, easy.CorrectRate)
	assert.InDelta(t, 70, *easy.CorrectRate, 1e-9)
	require.NotNil(t, easy.ReactionTime)
	assert.InDelta(t, 1.0, *easy.ReactionTime, 1e-9)
	require.NotNil(t, easy.PupilSize)
	assert.InDelta(t, 4.0, *easy.PupilSize, 1e-9)
	require.NotNil(t, easy.RespiratoryRate)
	assert.InDelta(t, 14.0, *easy.RespiratoryRate, 1e-9)

	assert.Equal(t, nback.Hard, stats[1].Level)

	alice, err := a.Stats(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, alice, 2)
	assert.Equal(t, 1, alice[0].Sessions)
	assert.InDelta(t, 80, *alice[0].CorrectRate, 1e-9)
}

func TestInsertReplacesSession(t *testing.T) {
	a := openTemp(t)
	ctx := context.Background()

	res := result("alice", nback.Normal, false, 50, 1.0)
	require.NoError(t, a.Insert(ctx, res))
	res.CollectedData = res.CollectedData[:1]
	require.NoError(t, a.Insert(ctx, res))

	n, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := a.Stats(ctx, "")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.InDelta(t, 3.0, *stats[0].PupilSize, 1e-9)
}

func TestStatsWithoutRates(t *testing.T) {
	a := openTemp(t)
	ctx := context.Background()

	res := result("carol", nback.Hard, false, 0, 0)
	res.CorrectRate = nil
	res.Responses = nil
	res.CollectedData = nil
	require.NoError(t, a.Insert(ctx, res))

	stats, err := a.Stats(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats[0].Sessions)
	assert.Nil(t, stats[0].CorrectRate)
	assert.Nil(t, stats[0].ReactionTime)
	assert.Nil(t, stats[0].PupilSize)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breathlab.db")
	ctx := context.Background()

	a, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, a.Insert(ctx, result("dave", nback.Easy, false, 90, 0.7)))
	require.NoError(t, a.Close())

	a, err = Open(ctx, path)
	require.NoError(t, err)
	defer a.Close()
	n, err := a.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
