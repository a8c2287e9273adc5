package pivot

import (
	"sort"
	"strconv"
	"time"

	"github.com/seafleet/pivotx/pkg/router"
)

// Format discriminates which typed column of a narrow record holds the value.
type Format string

const (
	FormatDecimal Format = "Decimal"
	FormatInteger Format = "Integer"
	FormatString  Format = "String"
	FormatBoolean Format = "Boolean"
)

// Record is one narrow row: (entity, channel, timestamp, typed value).
// Exactly one of the value pointers is non-nil per record; the source system
// enforces that, not this engine.
type Record struct {
	EntityID    string
	ChannelID   string
	CreatedTime time.Time
	Format      Format
	DoubleV     *float64
	LongV       *int64
	StrV        *string
	BoolV       *bool
}

// Row is one wide row keyed by timestamp within a table group. Values maps
// destination column name to value; a nil entry is an explicit NULL that
// still overwrites the destination column on upsert.
type Row struct {
	CreatedTime time.Time
	Values      map[string]*float64
}

// Columns returns the sorted column names present in the row.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r.Values))
	for c := range r.Values {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Transform pivots narrow records into per-group wide rows: group by
// timestamp, resolve each typed value, route columns by table group. Unknown
// channels are dropped, cast failures become NULL, and a timestamp that
// yields no non-null value for a group is dropped from that group's output.
func Transform(records []Record, rt *router.Router) map[router.Group][]Row {
	type cell struct {
		group router.Group
		value *float64
	}
	byTime := make(map[time.Time]map[string]cell)

	for _, rec := range records {
		group, ok := rt.GroupOf(rec.ChannelID)
		if !ok {
			continue
		}
		cells, ok := byTime[rec.CreatedTime]
		if !ok {
			cells = make(map[string]cell)
			byTime[rec.CreatedTime] = cells
		}
		cells[router.ColumnName(rec.ChannelID)] = cell{group: group, value: rec.Value()}
	}

	timestamps := make([]time.Time, 0, len(byTime))
	for ts := range byTime {
		timestamps = append(timestamps, ts)
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })

	out := make(map[router.Group][]Row)
	for _, ts := range timestamps {
		rows := make(map[router.Group]Row)
		nonNull := make(map[router.Group]bool)

		for col, c := range byTime[ts] {
			row, ok := rows[c.group]
			if !ok {
				row = Row{CreatedTime: ts, Values: make(map[string]*float64)}
				rows[c.group] = row
			}
			row.Values[col] = c.value
			if c.value != nil {
				nonNull[c.group] = true
			}
		}

		for group, row := range rows {
			if nonNull[group] {
				out[group] = append(out[group], row)
			}
		}
	}

	return out
}

// Value resolves the record's typed value to the numeric wide value, or nil
// when the value is absent or not representable as a number.
func (r Record) Value() *float64 {
	switch r.Format {
	case FormatDecimal:
		if r.DoubleV == nil {
			return nil
		}
		v := *r.DoubleV
		return &v
	case FormatInteger:
		if r.LongV == nil {
			return nil
		}
		v := float64(*r.LongV)
		return &v
	case FormatBoolean:
		if r.BoolV == nil {
			return nil
		}
		v := 0.0
		if *r.BoolV {
			v = 1.0
		}
		return &v
	case FormatString:
		if r.StrV == nil {
			return nil
		}
		v, err := strconv.ParseFloat(*r.StrV, 64)
		if err != nil {
			return nil
		}
		return &v
	default:
		return nil
	}
}
