package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/seafleet/pivotx/pkg/chunk"
	"github.com/seafleet/pivotx/pkg/db/watermark"
	"github.com/seafleet/pivotx/pkg/pipeline"
)

type fakeRunner struct {
	mu      sync.Mutex
	ran     []string
	failOn  map[string]error
	chunked map[string]int
}

func (f *fakeRunner) Run(_ context.Context, entityID string, mode watermark.Mode, _ chunk.Window) (pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, entityID)

	res := pipeline.Result{EntityID: entityID, Mode: mode, WideRecords: 10}
	if err, ok := f.failOn[entityID]; ok {
		return res, err
	}
	if n, ok := f.chunked[entityID]; ok {
		res.ChunksFailed = n
	}
	return res, nil
}

func anyWindow(_ context.Context, _ string) (chunk.Window, bool, error) {
	now := time.Now().UTC()
	return chunk.Window{Start: now.Add(-time.Hour), End: now}, true, nil
}

func TestRunDispatchesEveryEntity(t *testing.T) {
	runner := &fakeRunner{}
	o := New(runner, 4, zaptest.NewLogger(t))
	defer o.Stop()

	entities := []string{"ship1", "ship2", "ship3", "ship4", "ship5"}
	summary := o.Run(context.Background(), entities, watermark.ModeBackfill, anyWindow)

	require.Equal(t, 5, summary.Total)
	require.Equal(t, 5, summary.Completed)
	require.Zero(t, summary.Failed)
	require.Equal(t, int64(50), summary.Records)
	require.ElementsMatch(t, entities, runner.ran)
}

func TestRunEntityFailureDoesNotCancelSiblings(t *testing.T) {
	runner := &fakeRunner{failOn: map[string]error{"ship2": errors.New("extract broke")}}
	o := New(runner, 2, zaptest.NewLogger(t))
	defer o.Stop()

	summary := o.Run(context.Background(), []string{"ship1", "ship2", "ship3"}, watermark.ModeBackfill, anyWindow)

	require.Equal(t, 2, summary.Completed)
	require.Equal(t, 1, summary.Failed)
	require.ElementsMatch(t, []string{"ship1", "ship2", "ship3"}, runner.ran)
}

func TestRunCountsChunkFailuresAsEntityFailure(t *testing.T) {
	runner := &fakeRunner{chunked: map[string]int{"ship1": 2}}
	o := New(runner, 2, zaptest.NewLogger(t))
	defer o.Stop()

	summary := o.Run(context.Background(), []string{"ship1"}, watermark.ModeStreaming, anyWindow)
	require.Equal(t, 1, summary.Failed)
	require.Zero(t, summary.Completed)
}

func TestRunSkipsEntitiesWithoutWindow(t *testing.T) {
	runner := &fakeRunner{}
	o := New(runner, 2, zaptest.NewLogger(t))
	defer o.Stop()

	windowFor := func(_ context.Context, entityID string) (chunk.Window, bool, error) {
		if entityID == "idle" {
			return chunk.Window{}, false, nil
		}
		return anyWindow(nil, entityID)
	}

	summary := o.Run(context.Background(), []string{"busy", "idle"}, watermark.ModeStreaming, windowFor)
	require.Equal(t, 1, summary.Completed)
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, []string{"busy"}, runner.ran)
}

func TestRunWindowResolutionErrorCountsAsFailure(t *testing.T) {
	runner := &fakeRunner{}
	o := New(runner, 2, zaptest.NewLogger(t))
	defer o.Stop()

	windowFor := func(_ context.Context, _ string) (chunk.Window, bool, error) {
		return chunk.Window{}, false, errors.New("watermark unreachable")
	}

	summary := o.Run(context.Background(), []string{"ship1"}, watermark.ModeBackfill, windowFor)
	require.Equal(t, 1, summary.Failed)
	require.Empty(t, runner.ran)
}

func TestRunCancelledContextStopsDispatching(t *testing.T) {
	runner := &fakeRunner{}
	o := New(runner, 1, zaptest.NewLogger(t))
	defer o.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary := o.Run(ctx, []string{"ship1", "ship2"}, watermark.ModeBackfill, anyWindow)
	require.Zero(t, summary.Completed)
	require.Empty(t, runner.ran)
}
