package pivot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/seafleet/pivotx/pkg/router"
)

func testRouter(t *testing.T) *router.Router {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	rt, err := router.Load(zaptest.NewLogger(t), map[router.Group]string{
		router.GroupAuxiliary:  write("aux.txt", "AUX/Pump/Pressure\nAUX/Fan/Speed\nAUX/Tank/Level\n"),
		router.GroupEngine:     write("engine.txt", "ME/RPM\nME/Load\nGE/1/Power\n"),
		router.GroupNavigation: write("nav.txt", "NAV/Speed\n"),
	})
	require.NoError(t, err)
	return rt
}

func fp(v float64) *float64 { return &v }
func ip(v int64) *int64     { return &v }
func sp(v string) *string   { return &v }
func bp(v bool) *bool       { return &v }

func rec(channel string, ts time.Time, format Format) Record {
	return Record{EntityID: "ship1", ChannelID: channel, CreatedTime: ts, Format: format}
}

func TestTransformRoutesOneTimestampAcrossGroups(t *testing.T) {
	rt := testRouter(t)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	var records []Record
	for _, ch := range []string{"AUX/Pump/Pressure", "AUX/Fan/Speed", "AUX/Tank/Level"} {
		r := rec(ch, ts, FormatDecimal)
		r.DoubleV = fp(3.5)
		records = append(records, r)
	}
	for _, ch := range []string{"ME/RPM", "ME/Load", "GE/1/Power"} {
		r := rec(ch, ts, FormatInteger)
		r.LongV = ip(7)
		records = append(records, r)
	}

	out := Transform(records, rt)

	require.Len(t, out[router.GroupAuxiliary], 1)
	require.Len(t, out[router.GroupEngine], 1)
	require.Empty(t, out[router.GroupNavigation])

	aux := out[router.GroupAuxiliary][0]
	require.Equal(t, ts, aux.CreatedTime)
	require.Equal(t, []string{"AUX_Fan_Speed", "AUX_Pump_Pressure", "AUX_Tank_Level"}, aux.Columns())
	for _, col := range aux.Columns() {
		require.NotNil(t, aux.Values[col])
		require.Equal(t, 3.5, *aux.Values[col])
	}

	eng := out[router.GroupEngine][0]
	require.Equal(t, 7.0, *eng.Values["ME_RPM"])
	require.Equal(t, 7.0, *eng.Values["GE_1_Power"])
}

func TestTransformDropsUnknownChannels(t *testing.T) {
	rt := testRouter(t)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	known := rec("NAV/Speed", ts, FormatDecimal)
	known.DoubleV = fp(12.4)
	unknown := rec("BOGUS/Channel", ts, FormatDecimal)
	unknown.DoubleV = fp(1.0)

	out := Transform([]Record{known, unknown}, rt)
	require.Len(t, out[router.GroupNavigation], 1)
	require.Len(t, out[router.GroupNavigation][0].Values, 1)
}

func TestTransformCastFailureBecomesNull(t *testing.T) {
	rt := testRouter(t)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	bad := rec("ME/RPM", ts, FormatString)
	bad.StrV = sp("not-a-number")
	good := rec("ME/Load", ts, FormatString)
	good.StrV = sp("88.5")

	out := Transform([]Record{bad, good}, rt)
	require.Len(t, out[router.GroupEngine], 1)

	row := out[router.GroupEngine][0]
	require.Nil(t, row.Values["ME_RPM"])
	require.Equal(t, 88.5, *row.Values["ME_Load"])
}

func TestTransformDropsAllNullRows(t *testing.T) {
	rt := testRouter(t)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	bad := rec("NAV/Speed", ts, FormatString)
	bad.StrV = sp("garbage")

	out := Transform([]Record{bad}, rt)
	require.Empty(t, out[router.GroupNavigation])
}

func TestTransformSortsTimestamps(t *testing.T) {
	rt := testRouter(t)
	t1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Minute)

	later := rec("NAV/Speed", t1, FormatDecimal)
	later.DoubleV = fp(2)
	earlier := rec("NAV/Speed", t0, FormatDecimal)
	earlier.DoubleV = fp(1)

	out := Transform([]Record{later, earlier}, rt)
	rows := out[router.GroupNavigation]
	require.Len(t, rows, 2)
	require.Equal(t, t0, rows[0].CreatedTime)
	require.Equal(t, t1, rows[1].CreatedTime)
}

func TestRecordValueByFormat(t *testing.T) {
	cases := []struct {
		name string
		rec  Record
		want *float64
	}{
		{"decimal", Record{Format: FormatDecimal, DoubleV: fp(1.25)}, fp(1.25)},
		{"integer", Record{Format: FormatInteger, LongV: ip(-3)}, fp(-3)},
		{"bool true", Record{Format: FormatBoolean, BoolV: bp(true)}, fp(1)},
		{"bool false", Record{Format: FormatBoolean, BoolV: bp(false)}, fp(0)},
		{"numeric string", Record{Format: FormatString, StrV: sp("4.5")}, fp(4.5)},
		{"bad string", Record{Format: FormatString, StrV: sp("n/a")}, nil},
		{"missing value", Record{Format: FormatDecimal}, nil},
		{"unknown format", Record{Format: Format("Blob"), StrV: sp("1")}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.rec.Value()
			if tc.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.Equal(t, *tc.want, *got)
		})
	}
}
