package migrator

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/seafleet/pivotx/pkg/chunk"
	"github.com/seafleet/pivotx/pkg/config"
	"github.com/seafleet/pivotx/pkg/db/narrow"
	"github.com/seafleet/pivotx/pkg/db/postgres"
	"github.com/seafleet/pivotx/pkg/db/watermark"
	"github.com/seafleet/pivotx/pkg/db/wide"
	"github.com/seafleet/pivotx/pkg/logging"
	"github.com/seafleet/pivotx/pkg/orchestrator"
	"github.com/seafleet/pivotx/pkg/pipeline"
	"github.com/seafleet/pivotx/pkg/router"
	"github.com/seafleet/pivotx/pkg/scheduler"
)

// stopGrace bounds how long shutdown waits for in-flight streaming dispatches.
const stopGrace = 30 * time.Second

// App wires configuration, the channel router, the database stores and the
// execution layers into one process. Every mode of the binary runs through it.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Clock  clockwork.Clock

	DB         *postgres.Client
	Router     *router.Router
	Narrow     *narrow.Store
	Wide       *wide.Store
	Watermarks *watermark.Store

	Runner       *pipeline.Runner
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler

	Workers int
}

// New builds a fully wired App: config and channel files are validated, the
// connection pool is sized from the fleet, and the watermark table is created
// if absent.
func New(ctx context.Context) (*App, error) {
	logger, err := logging.New()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	rt, err := router.Load(logger, cfg.GroupFiles)
	if err != nil {
		return nil, err
	}

	workers, poolMin, poolMax := orchestrator.Sizing(len(cfg.EntityIDs), orchestrator.Caps{
		MaxWorkers:  cfg.MaxWorkers,
		TableGroups: len(router.Groups()),
	})
	logger.Info("Fleet sized",
		zap.Int("entities", len(cfg.EntityIDs)),
		zap.Int("workers", workers),
		zap.Int32("pool_min", poolMin),
		zap.Int32("pool_max", poolMax),
	)

	db, err := postgres.New(ctx, logger, postgres.PoolConfig{
		MinConns:  poolMin,
		MaxConns:  poolMax,
		Component: "migrator",
	})
	if err != nil {
		return nil, err
	}

	clock := clockwork.NewRealClock()
	narrowStore := narrow.New(db, cfg.Schema, cfg.NarrowTable, logger)
	wideStore := wide.New(db, rt, cfg.Schema, cfg.PageSize, logger)
	wm := watermark.New(db, wideStore, clock, logger,
		cfg.LegacyCutoffFile, cfg.SeedMargin, cfg.Lookback)
	if err := wm.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}

	runner := &pipeline.Runner{
		Narrow:     narrowStore,
		Wide:       wideStore,
		Watermarks: wm,
		Router:     rt,
		Failures:   pipeline.NewFailureLog(cfg.FailureFile, logger),
		Logger:     logger,
		Chunks: pipeline.ChunkConfig{
			Width:     cfg.ChunkWidth,
			Floor:     cfg.ChunkFloor,
			Ceiling:   cfg.ChunkCeiling,
			RowBudget: cfg.RowBudget,
			Lookback:  cfg.Lookback,
		},
	}

	app := &App{
		Config:       cfg,
		Logger:       logger,
		Clock:        clock,
		DB:           db,
		Router:       rt,
		Narrow:       narrowStore,
		Wide:         wideStore,
		Watermarks:   wm,
		Runner:       runner,
		Orchestrator: orchestrator.New(runner, workers, logger),
		Workers:      workers,
	}
	app.Scheduler = scheduler.New(clock, logger, app.dispatchStreaming)
	return app, nil
}

// RunBackfill migrates historical data for the whole fleet up to cutoff, or to
// the database server's current time when cutoff is nil. With dropTables the
// destination tables are recreated from scratch first.
func (a *App) RunBackfill(ctx context.Context, cutoff *time.Time, dropTables bool) (orchestrator.Summary, error) {
	if dropTables {
		for _, entityID := range a.Config.EntityIDs {
			if err := a.Wide.DropTables(ctx, entityID); err != nil {
				return orchestrator.Summary{}, err
			}
			if err := a.Watermarks.Reset(ctx, entityID, watermark.ModeBackfill); err != nil {
				return orchestrator.Summary{}, err
			}
		}
	}

	end, err := a.resolveCutoff(ctx, cutoff)
	if err != nil {
		return orchestrator.Summary{}, err
	}

	a.Logger.Info("Backfill starting",
		zap.Int("entities", len(a.Config.EntityIDs)),
		zap.Time("cutoff", end),
	)
	summary := a.Orchestrator.Run(ctx, a.Config.EntityIDs, watermark.ModeBackfill,
		func(ctx context.Context, entityID string) (chunk.Window, bool, error) {
			return a.Runner.BackfillWindow(ctx, entityID, end)
		})
	return summary, ctx.Err()
}

// RunStreaming starts the minute scheduler and blocks until ctx is cancelled,
// then drains in-flight dispatches within the stop grace period.
func (a *App) RunStreaming(ctx context.Context) error {
	if err := a.Scheduler.Start(ctx, a.Config.CronSpec); err != nil {
		return err
	}
	<-ctx.Done()
	return a.stopStreaming()
}

// RunDualWrite pins the streaming seed for every entity at the database
// server's current time and then streams. Historical data stays untouched
// until a later backfill run, which is bounded at exactly this seed.
func (a *App) RunDualWrite(ctx context.Context) error {
	if err := a.seedFleet(ctx); err != nil {
		return err
	}
	return a.RunStreaming(ctx)
}

// RunFull seeds the streaming boundary, starts streaming, and backfills
// history behind it. The two paths split the timeline at the seed, so no
// range is claimed twice. After the backfill finishes, streaming keeps
// running until ctx is cancelled.
func (a *App) RunFull(ctx context.Context, dropTables bool) (orchestrator.Summary, error) {
	if err := a.seedFleet(ctx); err != nil {
		return orchestrator.Summary{}, err
	}
	if err := a.Scheduler.Start(ctx, a.Config.CronSpec); err != nil {
		return orchestrator.Summary{}, err
	}

	summary, err := a.RunBackfill(ctx, nil, dropTables)
	if err != nil {
		stopErr := a.stopStreaming()
		if stopErr != nil {
			a.Logger.Warn("Streaming stop failed during aborted run", zap.Error(stopErr))
		}
		return summary, err
	}

	a.Logger.Info("Backfill finished, streaming continues until shutdown")
	<-ctx.Done()
	return summary, a.stopStreaming()
}

// RunReprocess re-runs exactly the failed chunks recorded in the CSV at path.
// Chunks run sequentially; chunks that fail again are appended to the
// configured failure file for the next attempt.
func (a *App) RunReprocess(ctx context.Context, path string) (orchestrator.Summary, error) {
	failures, err := pipeline.LoadFailures(path)
	if err != nil {
		return orchestrator.Summary{}, err
	}

	summary := orchestrator.Summary{Mode: watermark.ModeBackfill, Total: len(failures)}
	start := time.Now()

	for _, f := range failures {
		if err := ctx.Err(); err != nil {
			summary.Elapsed = time.Since(start)
			return summary, err
		}

		res, err := a.Runner.Run(ctx, f.EntityID, watermark.ModeBackfill, f.Window)
		summary.Results = append(summary.Results, res)
		summary.Records += res.WideRecords
		if err != nil || res.Failed() {
			summary.Failed++
			continue
		}
		summary.Completed++
	}

	summary.Elapsed = time.Since(start)
	a.Logger.Info("Reprocess finished",
		zap.Int("total", summary.Total),
		zap.Int("completed", summary.Completed),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// Close releases the worker pool and the database pool.
func (a *App) Close() {
	a.Orchestrator.Stop()
	a.DB.Close()
	_ = a.Logger.Sync()
}

// dispatchStreaming processes one target minute across the fleet.
func (a *App) dispatchStreaming(ctx context.Context, target chunk.Window) {
	a.Orchestrator.Run(ctx, a.Config.EntityIDs, watermark.ModeStreaming,
		func(ctx context.Context, entityID string) (chunk.Window, bool, error) {
			return a.Runner.StreamingWindow(ctx, entityID, target.End)
		})
}

// seedFleet records the streaming handover point for every entity at the
// database server's current time. Entities already seeded keep their seed.
func (a *App) seedFleet(ctx context.Context) error {
	now, err := a.DB.ServerNow(ctx)
	if err != nil {
		return err
	}
	for _, entityID := range a.Config.EntityIDs {
		seed, err := a.Watermarks.SeedStreamingAt(ctx, entityID, now)
		if err != nil {
			return err
		}
		a.Logger.Info("Streaming boundary pinned",
			zap.String("entity", entityID), zap.Time("seed", seed))
	}
	return nil
}

func (a *App) resolveCutoff(ctx context.Context, cutoff *time.Time) (time.Time, error) {
	if cutoff != nil {
		return cutoff.UTC(), nil
	}
	return a.DB.ServerNow(ctx)
}

func (a *App) stopStreaming() error {
	stopCtx, cancel := context.WithTimeout(context.Background(), stopGrace)
	defer cancel()
	return a.Scheduler.Stop(stopCtx)
}
