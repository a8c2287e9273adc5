package pipeline

import (
	"context"
	"time"

	"github.com/seafleet/pivotx/pkg/chunk"
	"github.com/seafleet/pivotx/pkg/db/watermark"
	"github.com/seafleet/pivotx/pkg/pivot"
	"github.com/seafleet/pivotx/pkg/router"
)

// NarrowStore is the read side of the pipeline.
type NarrowStore interface {
	Extract(ctx context.Context, entityID string, w chunk.Window) ([]pivot.Record, error)
	DataTimeRange(ctx context.Context, entityID string, before *time.Time) (chunk.Window, bool, error)
}

// WideStore is the write side of the pipeline.
type WideStore interface {
	EnsureTables(ctx context.Context, entityID string) error
	Upsert(ctx context.Context, group router.Group, entityID string, rows []pivot.Row) (int64, error)
}

// Watermarks is the cutoff state machine the runner checkpoints through.
type Watermarks interface {
	Get(ctx context.Context, entityID string, mode watermark.Mode) (time.Time, bool, error)
	Advance(ctx context.Context, entityID string, mode watermark.Mode, t time.Time) error
	ClampToBound(ctx context.Context, entityID string, end time.Time) (time.Time, error)
	StreamingStart(ctx context.Context, entityID string) (time.Time, error)
}
