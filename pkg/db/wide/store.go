package wide

import (
	"context"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/seafleet/pivotx/pkg/db/postgres"
	"github.com/seafleet/pivotx/pkg/pivot"
	"github.com/seafleet/pivotx/pkg/router"
)

// Store owns the destination wide tables: idempotent DDL, paged upserts, and
// the fallback latest-timestamp probe used by the watermark chain.
type Store struct {
	db       *postgres.Client
	router   *router.Router
	schema   string
	pageSize int
	logger   *zap.Logger

	// ensured tracks entities whose tables were already created this process,
	// so EnsureTables is one map hit on the hot path.
	ensured *xsync.Map[string, struct{}]
}

// New returns a wide-table store writing into the given schema.
func New(db *postgres.Client, rt *router.Router, schema string, pageSize int, logger *zap.Logger) *Store {
	if pageSize <= 0 {
		pageSize = 5000
	}
	return &Store{
		db:       db,
		router:   rt,
		schema:   schema,
		pageSize: pageSize,
		logger:   logger,
		ensured:  xsync.NewMap[string, struct{}](),
	}
}

// EnsureTables creates every group table (and its range index) for an entity
// if absent. CREATE IF NOT EXISTS makes concurrent calls safe no-ops after
// the first.
func (s *Store) EnsureTables(ctx context.Context, entityID string) error {
	if _, done := s.ensured.Load(entityID); done {
		return nil
	}

	for _, group := range router.Groups() {
		table := router.TableName(group, entityID)
		cols := s.router.Columns(group)

		if _, err := s.db.Exec(ctx, BuildCreateTableSQL(s.schema, table, cols)); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
		if _, err := s.db.Exec(ctx, BuildIndexSQL(s.schema, table)); err != nil {
			return fmt.Errorf("create index on %s: %w", table, err)
		}

		s.logger.Debug("Ensured wide table",
			zap.String("table", table),
			zap.Int("columns", len(cols)),
		)
	}

	s.ensured.Store(entityID, struct{}{})
	return nil
}

// DropTables removes every group table for an entity. Only reachable through
// the explicit --drop-tables flag.
func (s *Store) DropTables(ctx context.Context, entityID string) error {
	for _, group := range router.Groups() {
		table := router.TableName(group, entityID)
		if _, err := s.db.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s.%s CASCADE", s.schema, table)); err != nil {
			return fmt.Errorf("drop table %s: %w", table, err)
		}
		s.logger.Warn("Dropped wide table", zap.String("table", table))
	}
	s.ensured.Delete(entityID)
	return nil
}

// Upsert writes a batch of wide rows for one (group, entity) in pages bounded
// by the configured page size and the bind parameter ceiling. A page failure
// aborts the whole batch; retries happen at the chunk level through the
// reprocessing list, never here.
func (s *Store) Upsert(ctx context.Context, group router.Group, entityID string, rows []pivot.Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	table := router.TableName(group, entityID)
	var total int64

	for _, page := range PlanPages(rows, s.pageSize) {
		cols := PageColumns(page)
		query := BuildUpsertSQL(s.schema, table, cols, len(page))
		affected, err := s.db.Exec(ctx, query, UpsertArgs(page, cols)...)
		if err != nil {
			return total, fmt.Errorf("upsert page into %s (%d rows): %w", table, len(page), err)
		}
		total += affected
	}

	return total, nil
}

// LatestTimestamp returns the newest timestamp already present across the
// entity's group tables, or ok=false when no table holds data yet.
func (s *Store) LatestTimestamp(ctx context.Context, entityID string) (time.Time, bool, error) {
	var latest time.Time
	found := false

	for _, group := range router.Groups() {
		table := router.TableName(group, entityID)
		exists, err := s.db.TableExists(ctx, s.schema, table)
		if err != nil {
			return time.Time{}, false, err
		}
		if !exists {
			continue
		}

		var ts *time.Time
		query := fmt.Sprintf("SELECT MAX(%s) FROM %s.%s", timeColumn, s.schema, table)
		if err := s.db.QueryRow(ctx, query).Scan(&ts); err != nil {
			return time.Time{}, false, fmt.Errorf("latest timestamp in %s: %w", table, err)
		}
		if ts != nil && (!found || ts.After(latest)) {
			latest = *ts
			found = true
		}
	}

	return latest, found, nil
}
