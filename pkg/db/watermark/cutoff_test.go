package watermark

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseCutoffAcceptsHistoricalLayouts(t *testing.T) {
	want := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)

	cases := []string{
		"2025-06-01T12:30:45Z",
		"2025-06-01T12:30:45",
		"2025-06-01 12:30:45",
	}
	for _, raw := range cases {
		got, err := ParseCutoff(raw)
		require.NoError(t, err, "input %q", raw)
		require.True(t, want.Equal(got), "input %q parsed to %s", raw, got)
	}
}

func TestParseCutoffKeepsSubsecondPrecision(t *testing.T) {
	got, err := ParseCutoff("2025-06-01T12:30:45.123456")
	require.NoError(t, err)
	require.Equal(t, 123456000, got.Nanosecond())

	got, err = ParseCutoff("2025-06-01T12:30:45.123456789Z")
	require.NoError(t, err)
	require.Equal(t, 123456789, got.Nanosecond())
}

func TestParseCutoffNormalizesToUTC(t *testing.T) {
	got, err := ParseCutoff("2025-06-01T14:30:45+02:00")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC), got)
}

func TestParseCutoffRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "yesterday", "2025/06/01", "1717243845"} {
		_, err := ParseCutoff(raw)
		require.Error(t, err, "input %q", raw)
	}
}
