package watermark

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/seafleet/pivotx/pkg/db/postgres"
)

// Mode names a watermark namespace. Backfill and streaming each keep their own
// frontier so the two writers never claim the same time range.
type Mode string

const (
	ModeBackfill  Mode = "backfill"
	ModeStreaming Mode = "streaming"

	// modeBackfillBound records the streaming seed as the upper boundary the
	// backfill path must not cross for an entity.
	modeBackfillBound Mode = "backfill_bound"
)

const table = "migration_watermarks"

// DestLatest is the destination-side probe consulted by the streaming
// fallback chain. Implemented by the wide store.
type DestLatest interface {
	LatestTimestamp(ctx context.Context, entityID string) (time.Time, bool, error)
}

// DB is the database surface the store needs. Satisfied by *postgres.Client.
type DB interface {
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	BeginFunc(ctx context.Context, fn func(pgx.Tx) error) error
}

// Store persists per-(entity, mode) cutoff timestamps. Watermarks are written
// after every successful or skipped chunk, so a crash mid-run loses at most
// one chunk of progress. All writes are monotonic: a regression attempt is a
// no-op.
type Store struct {
	db         DB
	dest       DestLatest
	clock      clockwork.Clock
	logger     *zap.Logger
	legacyFile string
	seedMargin time.Duration
	lookback   time.Duration

	mu sync.Mutex
}

// New returns a watermark store. legacyFile is the pre-namespace single cutoff
// file consulted as a fallback; seedMargin is the safety margin subtracted
// from now when seeding a fresh streaming watermark; lookback bounds the
// default backfill horizon.
func New(db DB, dest DestLatest, clock clockwork.Clock, logger *zap.Logger,
	legacyFile string, seedMargin, lookback time.Duration) *Store {
	return &Store{
		db:         db,
		dest:       dest,
		clock:      clock,
		logger:     logger,
		legacyFile: legacyFile,
		seedMargin: seedMargin,
		lookback:   lookback,
	}
}

// Init creates the watermark table if absent.
func (s *Store) Init(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			entity_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			watermark TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT %s_pk PRIMARY KEY (entity_id, mode)
		)
	`, table, table)
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create watermark table: %w", err)
	}
	return nil
}

// Get returns the watermark for (entity, mode), or ok=false when unset.
func (s *Store) Get(ctx context.Context, entityID string, mode Mode) (time.Time, bool, error) {
	query := fmt.Sprintf("SELECT watermark FROM %s WHERE entity_id = $1 AND mode = $2", table)
	var t time.Time
	err := s.db.QueryRow(ctx, query, entityID, string(mode)).Scan(&t)
	if postgres.IsNoRows(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get watermark %s/%s: %w", entityID, mode, err)
	}
	return t.UTC(), true, nil
}

// Advance moves the watermark forward to t. A t earlier than the stored value
// leaves it untouched; the frontier never moves backwards.
func (s *Store) Advance(ctx context.Context, entityID string, mode Mode, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`
		INSERT INTO %s (entity_id, mode, watermark, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (entity_id, mode) DO UPDATE SET
			watermark = EXCLUDED.watermark,
			updated_at = now()
		WHERE %s.watermark <= EXCLUDED.watermark
	`, table, table)

	if _, err := s.db.Exec(ctx, query, entityID, string(mode), t.UTC()); err != nil {
		return fmt.Errorf("advance watermark %s/%s: %w", entityID, mode, err)
	}
	return nil
}

// Reset deletes the watermark for (entity, mode). The only deletion path.
func (s *Store) Reset(ctx context.Context, entityID string, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf("DELETE FROM %s WHERE entity_id = $1 AND mode = $2", table)
	if _, err := s.db.Exec(ctx, query, entityID, string(mode)); err != nil {
		return fmt.Errorf("reset watermark %s/%s: %w", entityID, mode, err)
	}
	s.logger.Warn("Watermark reset", zap.String("entity", entityID), zap.String("mode", string(mode)))
	return nil
}

// BackfillBound returns the upper boundary the backfill path must not cross
// for an entity, or ok=false when streaming was never seeded.
func (s *Store) BackfillBound(ctx context.Context, entityID string) (time.Time, bool, error) {
	return s.Get(ctx, entityID, modeBackfillBound)
}

// ClampToBound caps a backfill window end at the recorded streaming seed.
func (s *Store) ClampToBound(ctx context.Context, entityID string, end time.Time) (time.Time, error) {
	bound, ok, err := s.BackfillBound(ctx, entityID)
	if err != nil {
		return time.Time{}, err
	}
	if ok && bound.Before(end) {
		return bound, nil
	}
	return end, nil
}

// StreamingStart resolves the timestamp streaming should resume from,
// falling back in order: streaming watermark → legacy single-namespace cutoff
// file → latest timestamp already present in the destination tables → now
// minus the seed margin. When no streaming watermark existed, the resolved
// value is persisted as the streaming seed and simultaneously recorded as the
// backfill bound, in one transaction, so the two modes never both claim the
// same range.
func (s *Store) StreamingStart(ctx context.Context, entityID string) (time.Time, error) {
	if t, ok, err := s.Get(ctx, entityID, ModeStreaming); err != nil {
		return time.Time{}, err
	} else if ok {
		return t, nil
	}

	return s.seed(ctx, entityID, s.resolveSeed(ctx, entityID))
}

// SeedStreamingAt records t as the streaming seed and backfill bound for the
// entity, used by the dual-write mode to pin the handover point at the moment
// the new write path goes live. An already-seeded entity keeps its existing
// seed; the effective seed is returned either way.
func (s *Store) SeedStreamingAt(ctx context.Context, entityID string, t time.Time) (time.Time, error) {
	if existing, ok, err := s.Get(ctx, entityID, ModeStreaming); err != nil {
		return time.Time{}, err
	} else if ok {
		return existing, nil
	}
	return s.seed(ctx, entityID, t.UTC())
}

func (s *Store) seed(ctx context.Context, entityID string, seed time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.BeginFunc(ctx, func(tx pgx.Tx) error {
		// Re-check under the transaction; a concurrent tick may have seeded.
		var existing time.Time
		query := fmt.Sprintf(
			"SELECT watermark FROM %s WHERE entity_id = $1 AND mode = $2 FOR UPDATE", table)
		scanErr := tx.QueryRow(ctx, query, entityID, string(ModeStreaming)).Scan(&existing)
		if scanErr == nil {
			seed = existing.UTC()
			return nil
		}
		if !postgres.IsNoRows(scanErr) {
			return scanErr
		}

		insert := fmt.Sprintf(`
			INSERT INTO %s (entity_id, mode, watermark, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (entity_id, mode) DO NOTHING
		`, table)
		if _, err := tx.Exec(ctx, insert, entityID, string(ModeStreaming), seed); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, insert, entityID, string(modeBackfillBound), seed); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("seed streaming watermark for %s: %w", entityID, err)
	}

	s.logger.Info("Seeded streaming watermark",
		zap.String("entity", entityID),
		zap.Time("seed", seed),
	)
	return seed, nil
}

// resolveSeed walks the non-watermark fallbacks. Failures along the chain
// degrade to the next fallback instead of erroring; seeding must succeed even
// on a cold system.
func (s *Store) resolveSeed(ctx context.Context, entityID string) time.Time {
	if legacy, ok := s.readLegacyCutoff(); ok {
		s.logger.Info("Streaming seed from legacy cutoff file",
			zap.String("entity", entityID), zap.Time("cutoff", legacy))
		return legacy
	}

	if s.dest != nil {
		latest, ok, err := s.dest.LatestTimestamp(ctx, entityID)
		if err != nil {
			s.logger.Warn("Destination latest-timestamp probe failed",
				zap.String("entity", entityID), zap.Error(err))
		} else if ok {
			return latest
		}
	}

	return s.clock.Now().UTC().Add(-s.seedMargin)
}

// DefaultBackfillStart returns the default horizon (now minus the configured
// lookback) used when an entity has neither data-range probe nor watermark.
func (s *Store) DefaultBackfillStart() time.Time {
	return s.clock.Now().UTC().Add(-s.lookback)
}

func (s *Store) readLegacyCutoff() (time.Time, bool) {
	if s.legacyFile == "" {
		return time.Time{}, false
	}
	raw, err := os.ReadFile(s.legacyFile)
	if err != nil {
		return time.Time{}, false
	}
	t, err := ParseCutoff(strings.TrimSpace(string(raw)))
	if err != nil {
		s.logger.Warn("Unparseable legacy cutoff file",
			zap.String("file", s.legacyFile), zap.Error(err))
		return time.Time{}, false
	}
	return t, true
}

// ParseCutoff parses the ISO-8601 variants historically written to the legacy
// cutoff file.
func ParseCutoff(raw string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized cutoff timestamp %q", raw)
}
