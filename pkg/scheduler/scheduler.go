package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/seafleet/pivotx/pkg/chunk"
)

// DispatchFunc processes one streaming target window across the fleet.
// Invoked asynchronously; the scheduler never waits for it before the next
// guard check.
type DispatchFunc func(ctx context.Context, target chunk.Window)

// Scheduler triggers the streaming pipeline on minute boundaries. The cron
// loop may fire more often than once per minute; the dedupe guard dispatches
// each target minute at most once. The guard is marked after dispatch rather
// than after completion, so a stuck entity cannot wedge the guard forever —
// at worst its window is touched again next tick, which the idempotent
// upsert makes safe.
type Scheduler struct {
	cron     *cron.Cron
	clock    clockwork.Clock
	logger   *zap.Logger
	dispatch DispatchFunc

	mu            sync.Mutex
	lastProcessed time.Time

	inflight sync.WaitGroup
}

// New returns a streaming scheduler. The clock is injectable so tests can
// drive minute boundaries.
func New(clock clockwork.Clock, logger *zap.Logger, dispatch DispatchFunc) *Scheduler {
	return &Scheduler{
		clock:    clock,
		logger:   logger,
		dispatch: dispatch,
	}
}

// Start registers the guard check under the given cron spec (seconds
// resolution) and starts the loop.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	s.cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := s.cron.AddFunc(spec, func() { s.Tick(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("Streaming scheduler started", zap.String("cron_spec", spec))
	return nil
}

// Tick runs one guard check: compute the previous minute, dispatch it if it
// has not been dispatched yet.
func (s *Scheduler) Tick(ctx context.Context) {
	target := TargetWindow(s.clock.Now())
	if !s.ShouldProcess(target.Start) {
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.dispatch(ctx, target)
	}()

	s.MarkProcessed(target.Start)
	s.logger.Debug("Dispatched streaming window",
		zap.Time("target_start", target.Start),
		zap.Time("target_end", target.End),
	)
}

// ShouldProcess reports whether the target minute is still unprocessed.
func (s *Scheduler) ShouldProcess(targetMinute time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProcessed.IsZero() || targetMinute.After(s.lastProcessed)
}

// MarkProcessed records the target minute as dispatched.
func (s *Scheduler) MarkProcessed(targetMinute time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if targetMinute.After(s.lastProcessed) {
		s.lastProcessed = targetMinute
	}
}

// Stop halts the cron loop and waits, bounded by ctx, for in-flight
// dispatches to drain.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Streaming scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Streaming scheduler stop timed out with dispatches in flight")
		return ctx.Err()
	}
}

// TargetWindow returns the minute window a tick at now should process: the
// previous full minute, half-open.
func TargetWindow(now time.Time) chunk.Window {
	minute := now.UTC().Truncate(time.Minute)
	return chunk.Window{
		Start: minute.Add(-time.Minute),
		End:   minute,
	}
}
