package wide

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/seafleet/pivotx/pkg/pivot"
)

const timeColumn = "created_time"

// maxBindParams is the extended-protocol ceiling on bind parameters per
// statement; a page binding more than this is rejected by the server before
// execution.
const maxBindParams = 65535

var plainIdent = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// QuoteIdent quotes a column identifier when it contains characters outside
// the safe identifier set. Channel-derived columns normally come out plain
// but nothing stops a membership list from carrying exotic names.
func QuoteIdent(name string) string {
	if plainIdent.MatchString(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// PageColumns returns the sorted union of value columns across a page of rows.
func PageColumns(rows []pivot.Row) []string {
	set := make(map[string]struct{})
	for _, row := range rows {
		for col := range row.Values {
			set[col] = struct{}{}
		}
	}
	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// PlanPages splits a batch into pages of at most pageSize rows, shrinking any
// page whose column union would push the argument vector past the bind
// parameter ceiling. Shrinking a page can only narrow its column union, so a
// shrunk page always fits. Wide groups write shorter pages; the configured
// page size is an upper bound, not a promise.
func PlanPages(rows []pivot.Row, pageSize int) [][]pivot.Row {
	if pageSize <= 0 {
		pageSize = 1
	}
	var pages [][]pivot.Row
	for start := 0; start < len(rows); {
		end := start + pageSize
		if end > len(rows) {
			end = len(rows)
		}
		page := rows[start:end]
		if limit := maxBindParams / (len(PageColumns(page)) + 1); len(page) > limit {
			if limit < 1 {
				limit = 1
			}
			page = page[:limit]
		}
		pages = append(pages, page)
		start += len(page)
	}
	return pages
}

// BuildUpsertSQL builds one parameterized multi-row insert for a page. The
// conflict clause on the timestamp key unconditionally overwrites every value
// column with the incoming value: last writer wins, which is what makes
// overlapping backfill and streaming writes safe without a distributed lock.
func BuildUpsertSQL(schema, table string, cols []string, rowCount int) string {
	quoted := make([]string, 0, len(cols)+1)
	quoted = append(quoted, timeColumn)
	for _, col := range cols {
		quoted = append(quoted, QuoteIdent(col))
	}

	width := len(cols) + 1
	valueRows := make([]string, 0, rowCount)
	for i := 0; i < rowCount; i++ {
		placeholders := make([]string, 0, width)
		for j := 0; j < width; j++ {
			placeholders = append(placeholders, fmt.Sprintf("$%d", i*width+j+1))
		}
		valueRows = append(valueRows, "("+strings.Join(placeholders, ", ")+")")
	}

	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		q := QuoteIdent(col)
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s.%s (%s)\nVALUES %s\n",
		schema, table, strings.Join(quoted, ", "), strings.Join(valueRows, ", "))
	if len(updates) > 0 {
		fmt.Fprintf(&b, "ON CONFLICT (%s) DO UPDATE SET %s", timeColumn, strings.Join(updates, ", "))
	} else {
		fmt.Fprintf(&b, "ON CONFLICT (%s) DO NOTHING", timeColumn)
	}
	return b.String()
}

// UpsertArgs flattens a page into the argument vector matching BuildUpsertSQL.
// A column absent from a row binds NULL, overwriting the destination cell.
func UpsertArgs(rows []pivot.Row, cols []string) []any {
	args := make([]any, 0, len(rows)*(len(cols)+1))
	for _, row := range rows {
		args = append(args, row.CreatedTime)
		for _, col := range cols {
			if v, ok := row.Values[col]; ok && v != nil {
				args = append(args, *v)
			} else {
				args = append(args, nil)
			}
		}
	}
	return args
}

// BuildCreateTableSQL builds the idempotent DDL for one group table: the
// timestamp primary key plus one DOUBLE PRECISION column per group channel.
func BuildCreateTableSQL(schema, table string, cols []string) string {
	defs := make([]string, 0, len(cols)+2)
	defs = append(defs, fmt.Sprintf("    %s TIMESTAMP NOT NULL", timeColumn))
	for _, col := range cols {
		defs = append(defs, fmt.Sprintf("    %s DOUBLE PRECISION", QuoteIdent(col)))
	}
	defs = append(defs, fmt.Sprintf("    CONSTRAINT %s_pk PRIMARY KEY (%s)", table, timeColumn))

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.%s (\n%s\n)", schema, table, strings.Join(defs, ",\n"))
}

// BuildIndexSQL builds the BRIN range index on the timestamp column. BRIN
// keeps the index tiny on append-mostly time-series tables.
func BuildIndexSQL(schema, table string) string {
	return fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s.%s USING BRIN (%s) WITH (pages_per_range = 128)",
		table, timeColumn, schema, table, timeColumn)
}
