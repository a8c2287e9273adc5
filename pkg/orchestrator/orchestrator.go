package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/seafleet/pivotx/pkg/chunk"
	"github.com/seafleet/pivotx/pkg/db/watermark"
	"github.com/seafleet/pivotx/pkg/pipeline"
)

// EntityRunner is the per-entity unit of work the orchestrator dispatches.
// Implemented by the pipeline runner.
type EntityRunner interface {
	Run(ctx context.Context, entityID string, mode watermark.Mode, w chunk.Window) (pipeline.Result, error)
}

// WindowFunc resolves the window one entity should process, or ok=false when
// there is nothing to do for it.
type WindowFunc func(ctx context.Context, entityID string) (chunk.Window, bool, error)

// Summary aggregates one orchestrated run across the fleet.
type Summary struct {
	Mode      watermark.Mode
	Total     int
	Completed int
	Failed    int
	Skipped   int
	Records   int64
	Elapsed   time.Duration
	Results   []pipeline.Result
}

// Orchestrator fans one Pipeline Runner invocation per entity out over a
// bounded worker pool. Entities run concurrently; each entity's chunks stay
// strictly sequential inside its worker, preserving watermark order.
type Orchestrator struct {
	runner EntityRunner
	pool   pond.Pool
	logger *zap.Logger
}

// New returns an orchestrator with a pool of the given worker count.
func New(runner EntityRunner, workers int, logger *zap.Logger) *Orchestrator {
	if workers <= 0 {
		workers = 1
	}
	return &Orchestrator{
		runner: runner,
		pool:   pond.NewPool(workers),
		logger: logger,
	}
}

// Run dispatches every entity and waits for all of them. A single entity's
// failure never cancels its siblings; cancelling ctx stops dispatching new
// entities while running ones finish their current chunk loop and checkpoint.
func (o *Orchestrator) Run(ctx context.Context, entityIDs []string, mode watermark.Mode, windowFor WindowFunc) Summary {
	start := time.Now()
	summary := Summary{Mode: mode, Total: len(entityIDs)}

	var mu sync.Mutex
	group := o.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	for _, entityID := range entityIDs {
		id := entityID
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}

			w, ok, err := windowFor(groupCtx, id)
			if err != nil {
				o.logger.Error("Cannot resolve window for entity",
					zap.String("entity", id),
					zap.String("mode", string(mode)),
					zap.Error(err),
				)
				mu.Lock()
				summary.Failed++
				mu.Unlock()
				return
			}
			if !ok {
				mu.Lock()
				summary.Skipped++
				mu.Unlock()
				return
			}

			res, err := o.runner.Run(groupCtx, id, mode, w)

			mu.Lock()
			defer mu.Unlock()
			summary.Results = append(summary.Results, res)
			summary.Records += res.WideRecords
			if err != nil || res.Failed() {
				summary.Failed++
				if err != nil && !errors.Is(err, context.Canceled) {
					o.logger.Error("Entity run failed",
						zap.String("entity", id),
						zap.String("mode", string(mode)),
						zap.Error(err),
					)
				}
				return
			}
			summary.Completed++
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		o.logger.Warn("Orchestrator group finished with error",
			zap.String("mode", string(mode)), zap.Error(err))
	}

	summary.Elapsed = time.Since(start)
	o.logger.Info("Fleet run finished",
		zap.String("mode", string(mode)),
		zap.Int("total", summary.Total),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int64("records", summary.Records),
		zap.Duration("elapsed", summary.Elapsed),
	)
	return summary
}

// Stop drains the pool. Submitted entities finish; nothing new is accepted.
func (o *Orchestrator) Stop() {
	o.pool.StopAndWait()
}
