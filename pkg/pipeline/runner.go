package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/seafleet/pivotx/pkg/chunk"
	"github.com/seafleet/pivotx/pkg/db/watermark"
	"github.com/seafleet/pivotx/pkg/logging"
	"github.com/seafleet/pivotx/pkg/pivot"
	"github.com/seafleet/pivotx/pkg/router"
)

// ChunkConfig controls how an entity's window is cut into chunks.
type ChunkConfig struct {
	Width    time.Duration
	Floor    time.Duration
	Ceiling  time.Duration
	// RowBudget is the per-chunk narrow-row count above which the adaptive
	// sizer shrinks the next chunk. Zero disables adaptive sizing.
	RowBudget int
	// Lookback bounds how far back a backfill window may start.
	Lookback time.Duration
}

// Result summarizes one entity invocation. Chunk failures are folded in here
// and into the failure log; they never abort the rest of the entity's chunks.
type Result struct {
	EntityID        string
	Mode            watermark.Mode
	ChunksCompleted int
	ChunksSkipped   int
	ChunksFailed    int
	NarrowRecords   int64
	WideRecords     int64
	Elapsed         time.Duration
}

// Failed reports whether any chunk of the run failed.
func (r Result) Failed() bool { return r.ChunksFailed > 0 }

// Runner processes one entity for one window: ensure tables, plan chunks,
// then extract → pivot → write each group → advance watermark per chunk.
// Both the backfill and the streaming mode run through this same unit.
type Runner struct {
	Narrow     NarrowStore
	Wide       WideStore
	Watermarks Watermarks
	Router     *router.Router
	Failures   *FailureLog
	Logger     *zap.Logger
	Chunks     ChunkConfig
}

func (r *Runner) sizer() chunk.Sizer {
	if r.Chunks.RowBudget > 0 {
		return chunk.NewAdaptive(r.Chunks.Width, r.Chunks.Floor, r.Chunks.Ceiling, r.Chunks.RowBudget)
	}
	return chunk.Fixed(r.Chunks.Width)
}

// Run processes every chunk of the window for one entity. Chunk failures are
// logged, exported for reprocessing, and skipped over; the watermark only
// moves past chunks that fully succeeded or were explicitly empty. The
// returned error is non-nil only for setup failure or cancellation.
func (r *Runner) Run(ctx context.Context, entityID string, mode watermark.Mode, w chunk.Window) (Result, error) {
	start := time.Now()
	res := Result{EntityID: entityID, Mode: mode}
	log := logging.ForEntity(r.Logger, entityID, string(mode))

	if w.IsZero() || !w.Start.Before(w.End) {
		log.Debug("Empty window, nothing to process")
		return res, nil
	}

	if err := r.Wide.EnsureTables(ctx, entityID); err != nil {
		return res, err
	}

	log.Info("Processing window",
		zap.Time("start", w.Start),
		zap.Time("end", w.End),
		zap.Duration("chunk_width", r.Chunks.Width),
	)

	planner := chunk.NewPlanner(w, r.sizer())
	for {
		if err := ctx.Err(); err != nil {
			// Stop planning new chunks; everything processed so far is
			// already checkpointed.
			res.Elapsed = time.Since(start)
			return res, err
		}

		cw, ok := planner.Next()
		if !ok {
			break
		}

		if err := r.processChunk(ctx, log, entityID, mode, cw, planner, &res); err != nil {
			res.ChunksFailed++
			log.Error("Chunk failed, continuing with next",
				zap.Time("chunk_start", cw.Start),
				zap.Time("chunk_end", cw.End),
				zap.Error(err),
			)
			if r.Failures != nil {
				r.Failures.Append(entityID, cw)
			}
		}
	}

	res.Elapsed = time.Since(start)
	log.Info("Window processed",
		zap.Int("chunks_completed", res.ChunksCompleted),
		zap.Int("chunks_skipped", res.ChunksSkipped),
		zap.Int("chunks_failed", res.ChunksFailed),
		zap.Int64("narrow_records", res.NarrowRecords),
		zap.Int64("wide_records", res.WideRecords),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res, nil
}

func (r *Runner) processChunk(ctx context.Context, log *zap.Logger, entityID string,
	mode watermark.Mode, cw chunk.Window, planner *chunk.Planner, res *Result) error {

	records, err := r.Narrow.Extract(ctx, entityID, cw)
	if err != nil {
		return err
	}
	planner.Observe(len(records))

	if len(records) == 0 {
		// An empty time range is done: report skipped but advance the
		// watermark so reruns do not re-scan it.
		if err := r.Watermarks.Advance(ctx, entityID, mode, cw.End); err != nil {
			return err
		}
		res.ChunksSkipped++
		log.Debug("Chunk empty, skipped",
			zap.Time("chunk_start", cw.Start), zap.Time("chunk_end", cw.End))
		return nil
	}

	grouped := pivot.Transform(records, r.Router)

	var wideRows int64
	for _, group := range router.Groups() {
		rows := grouped[group]
		if len(rows) == 0 {
			continue
		}
		n, err := r.Wide.Upsert(ctx, group, entityID, rows)
		if err != nil {
			return err
		}
		wideRows += n
	}

	if err := r.Watermarks.Advance(ctx, entityID, mode, cw.End); err != nil {
		return err
	}

	res.ChunksCompleted++
	res.NarrowRecords += int64(len(records))
	res.WideRecords += wideRows
	log.Debug("Chunk completed",
		zap.Time("chunk_start", cw.Start),
		zap.Time("chunk_end", cw.End),
		zap.Int("narrow_records", len(records)),
		zap.Int64("wide_records", wideRows),
	)
	return nil
}

// BackfillWindow derives the window a backfill run should process for an
// entity: resume from the backfill watermark when one exists, otherwise from
// the entity's earliest data (bounded by the lookback horizon), up to the
// requested end clamped at the recorded streaming seed.
func (r *Runner) BackfillWindow(ctx context.Context, entityID string, end time.Time) (chunk.Window, bool, error) {
	end, err := r.Watermarks.ClampToBound(ctx, entityID, end)
	if err != nil {
		return chunk.Window{}, false, err
	}

	dataRange, hasData, err := r.Narrow.DataTimeRange(ctx, entityID, &end)
	if err != nil {
		return chunk.Window{}, false, err
	}
	if !hasData {
		return chunk.Window{}, false, nil
	}

	// The range probe returns the newest actual timestamp; nudge the window
	// end past it so the half-open interval covers that record.
	if dataEnd := dataRange.End.Add(time.Microsecond); dataEnd.Before(end) {
		end = dataEnd
	}

	start := dataRange.Start
	if r.Chunks.Lookback > 0 {
		if horizon := end.Add(-r.Chunks.Lookback); horizon.After(start) {
			start = horizon
		}
	}
	if wm, ok, err := r.Watermarks.Get(ctx, entityID, watermark.ModeBackfill); err != nil {
		return chunk.Window{}, false, err
	} else if ok && wm.After(start) {
		start = wm
	}

	if !start.Before(end) {
		return chunk.Window{}, false, nil
	}
	return chunk.Window{Start: start, End: end}, true, nil
}

// StreamingWindow derives the window a streaming tick should process for an
// entity: from the watermark fallback chain up to the tick's target end.
func (r *Runner) StreamingWindow(ctx context.Context, entityID string, targetEnd time.Time) (chunk.Window, bool, error) {
	start, err := r.Watermarks.StreamingStart(ctx, entityID)
	if err != nil {
		return chunk.Window{}, false, err
	}
	if !start.Before(targetEnd) {
		return chunk.Window{}, false, nil
	}
	return chunk.Window{Start: start, End: targetEnd}, true, nil
}
