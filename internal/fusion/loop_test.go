package fusion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestLoopPreservesArrivalOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	loop := NewLoop(64)
	loop.Start(context.Background())
	defer loop.Stop()

	ctx := context.Background()
	require.NoError(t, loop.SetRecording(ctx, true))
	require.NoError(t, loop.Pupil(3.0))
	require.NoError(t, loop.Rate(nil))
	require.NoError(t, loop.Pupil(3.5))
	require.NoError(t, loop.Rate(u8(14)))

	snap, err := loop.Snapshot(ctx)
	require.NoError(t, err)

	want := []Record{{PupilSize: 3.0, RespiratoryRate: u8(14), State: Finalized}}
	if diff := cmp.Diff(want, snap.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, snap.Recording)
	require.NotNil(t, snap.Pupil)
	assert.Equal(t, 3.5, *snap.Pupil)
}

func TestLoopConcurrentProducers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	loop := NewLoop(4096)
	loop.Start(context.Background())
	defer loop.Stop()

	ctx := context.Background()
	require.NoError(t, loop.SetRecording(ctx, true))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = loop.Pupil(float64(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = loop.Rate(u8(uint8(i % 30)))
		}
	}()
	wg.Wait()

	snap, err := loop.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Serial.PupilSizes, 500)
	assert.Len(t, snap.Serial.RespiratoryRates, 500)
	for _, r := range snap.Records {
		assert.Equal(t, Finalized, r.State)
	}
}

func TestLoopOnOp(t *testing.T) {
	loop := NewLoop(8)
	var mu sync.Mutex
	var ops []Op
	loop.OnOp = func(o Op) {
		mu.Lock()
		ops = append(ops, o)
		mu.Unlock()
	}
	loop.Start(context.Background())
	defer loop.Stop()

	ctx := context.Background()
	require.NoError(t, loop.SetRecording(ctx, true))
	require.NoError(t, loop.Rate(u8(1)))
	require.NoError(t, loop.Pupil(2.0))
	require.NoError(t, loop.Rate(u8(1)))
	_, err := loop.Snapshot(ctx)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Op{OpDiscarded, OpAppended}, ops)
}

func TestLoopResetAndStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	loop := NewLoop(8)
	loop.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, loop.SetRecording(ctx, true))
	require.NoError(t, loop.Pupil(1.0))
	require.NoError(t, loop.Reset(ctx))
	snap, err := loop.Snapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap.Pupil)
	assert.True(t, snap.Serial.Empty())

	loop.Stop()
	assert.ErrorIs(t, loop.Pupil(1.0), ErrLoopStopped)
	_, err = loop.Snapshot(ctx)
	assert.ErrorIs(t, err, ErrLoopStopped)
}

func TestLoopNotStarted(t *testing.T) {
	loop := NewLoop(1)
	assert.ErrorIs(t, loop.Rate(nil), ErrLoopStopped)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := loop.Snapshot(ctx)
	assert.ErrorIs(t, err, ErrLoopStopped)
}
