package narrow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seafleet/pivotx/pkg/chunk"
	"github.com/seafleet/pivotx/pkg/db/postgres"
	"github.com/seafleet/pivotx/pkg/pivot"
)

// Store reads the shared narrow table. It is read-only: the engine never
// writes to the source.
type Store struct {
	db     *postgres.Client
	schema string
	table  string
	logger *zap.Logger
}

// New returns a narrow-table reader for schema.table.
func New(db *postgres.Client, schema, table string, logger *zap.Logger) *Store {
	return &Store{db: db, schema: schema, table: table, logger: logger}
}

// Extract fetches every narrow record for one entity inside the half-open
// window, ordered by timestamp. The scan is filtered only by entity and time
// range; channel filtering happens in memory afterwards, because a
// multi-thousand-element IN clause degrades the query planner.
func (s *Store) Extract(ctx context.Context, entityID string, w chunk.Window) ([]pivot.Record, error) {
	query := fmt.Sprintf(`
		SELECT channel_id, created_time, value_format, double_v, long_v, str_v, bool_v
		FROM %s.%s
		WHERE entity_id = $1
		AND created_time >= $2
		AND created_time < $3
		ORDER BY created_time
	`, s.schema, s.table)

	rows, err := s.db.Query(ctx, query, entityID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("extract %s [%s, %s): %w",
			entityID, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var records []pivot.Record
	for rows.Next() {
		rec := pivot.Record{EntityID: entityID}
		var format string
		if err := rows.Scan(&rec.ChannelID, &rec.CreatedTime, &format,
			&rec.DoubleV, &rec.LongV, &rec.StrV, &rec.BoolV); err != nil {
			return nil, fmt.Errorf("scan narrow record: %w", err)
		}
		rec.Format = pivot.Format(format)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate narrow records: %w", err)
	}
	return records, nil
}

// DataTimeRange probes the earliest and latest timestamps an entity has in
// the narrow table, optionally bounded by before. Two ORDER BY ... LIMIT 1
// probes ride the (entity, created_time) index; MIN/MAX aggregation over the
// whole partition is far slower.
func (s *Store) DataTimeRange(ctx context.Context, entityID string, before *time.Time) (chunk.Window, bool, error) {
	earliest, ok, err := s.probe(ctx, entityID, before, "ASC")
	if err != nil || !ok {
		return chunk.Window{}, false, err
	}
	latest, ok, err := s.probe(ctx, entityID, before, "DESC")
	if err != nil || !ok {
		return chunk.Window{}, false, err
	}
	return chunk.Window{Start: earliest, End: latest}, true, nil
}

func (s *Store) probe(ctx context.Context, entityID string, before *time.Time, direction string) (time.Time, bool, error) {
	query := fmt.Sprintf("SELECT created_time FROM %s.%s WHERE entity_id = $1", s.schema, s.table)
	args := []any{entityID}
	if before != nil {
		query += " AND created_time < $2"
		args = append(args, *before)
	}
	query += fmt.Sprintf(" ORDER BY created_time %s LIMIT 1", direction)

	var ts time.Time
	err := s.db.QueryRow(ctx, query, args...).Scan(&ts)
	if postgres.IsNoRows(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("probe %s time for %s: %w", direction, entityID, err)
	}
	return ts, true, nil
}
