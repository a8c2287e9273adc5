package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/seafleet/pivotx/pkg/chunk"
)

func TestTargetWindowIsPreviousFullMinute(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 30, 45, 123, time.UTC)
	w := TargetWindow(now)
	require.Equal(t, time.Date(2025, 6, 1, 12, 29, 0, 0, time.UTC), w.Start)
	require.Equal(t, time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC), w.End)

	// Exactly on the boundary still targets the minute just closed.
	w = TargetWindow(time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC))
	require.Equal(t, time.Date(2025, 6, 1, 12, 29, 0, 0, time.UTC), w.Start)
}

func TestTickDispatchesEachMinuteOnce(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 30, 5, 0, time.UTC))

	var mu sync.Mutex
	var dispatched []chunk.Window
	done := make(chan struct{}, 16)

	s := New(clock, zaptest.NewLogger(t), func(_ context.Context, target chunk.Window) {
		mu.Lock()
		dispatched = append(dispatched, target)
		mu.Unlock()
		done <- struct{}{}
	})

	ctx := context.Background()

	// Several ticks inside one minute dispatch once.
	s.Tick(ctx)
	s.Tick(ctx)
	s.Tick(ctx)
	<-done

	// The next minute dispatches again.
	clock.Advance(time.Minute)
	s.Tick(ctx)
	<-done

	require.NoError(t, s.Stop(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, dispatched, 2)
	require.Equal(t, time.Date(2025, 6, 1, 12, 29, 0, 0, time.UTC), dispatched[0].Start)
	require.Equal(t, time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC), dispatched[1].Start)
}

func TestShouldProcessIsMonotonic(t *testing.T) {
	s := New(clockwork.NewFakeClock(), zaptest.NewLogger(t), func(context.Context, chunk.Window) {})

	m1 := time.Date(2025, 6, 1, 12, 29, 0, 0, time.UTC)
	m2 := m1.Add(time.Minute)

	require.True(t, s.ShouldProcess(m1))
	s.MarkProcessed(m1)
	require.False(t, s.ShouldProcess(m1))
	require.True(t, s.ShouldProcess(m2))

	// Marking an older minute never rewinds the guard.
	s.MarkProcessed(m2)
	s.MarkProcessed(m1)
	require.False(t, s.ShouldProcess(m2))
}

func TestStopWaitsForInflightDispatch(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 30, 5, 0, time.UTC))

	release := make(chan struct{})
	finished := false
	var mu sync.Mutex

	s := New(clock, zaptest.NewLogger(t), func(context.Context, chunk.Window) {
		<-release
		mu.Lock()
		finished = true
		mu.Unlock()
	})

	s.Tick(context.Background())
	close(release)

	require.NoError(t, s.Stop(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	require.True(t, finished)
}

func TestStopTimesOutOnStuckDispatch(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 30, 5, 0, time.UTC))

	block := make(chan struct{})
	s := New(clock, zaptest.NewLogger(t), func(context.Context, chunk.Window) {
		<-block
	})
	t.Cleanup(func() { close(block) })

	s.Tick(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, s.Stop(ctx))
}
