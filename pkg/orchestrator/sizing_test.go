package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSizingSmallFleetOneWorkerPerEntity(t *testing.T) {
	caps := Caps{MaxWorkers: 16, TableGroups: 3}

	for n := 1; n <= 8; n++ {
		workers, poolMin, poolMax := Sizing(n, caps)
		require.Equal(t, n, workers)
		require.Equal(t, int32(n), poolMin)
		require.Equal(t, int32(n*3), poolMax)
	}
}

func TestSizingMidFleetBacksOff(t *testing.T) {
	caps := Caps{MaxWorkers: 16, TableGroups: 3}

	workers, _, _ := Sizing(12, caps)
	require.Equal(t, 9, workers)

	// 75% would dip under eight; the floor holds.
	workers, _, _ = Sizing(10, caps)
	require.Equal(t, 8, workers)
}

func TestSizingLargeFleetCapped(t *testing.T) {
	workers, poolMin, poolMax := Sizing(40, Caps{MaxWorkers: 16, TableGroups: 3})
	require.Equal(t, 16, workers)
	require.Equal(t, int32(16), poolMin)
	require.Equal(t, int32(48), poolMax)
}

func TestSizingEmptyFleet(t *testing.T) {
	workers, poolMin, poolMax := Sizing(0, Caps{MaxWorkers: 16, TableGroups: 3})
	require.Equal(t, 0, workers)
	require.Equal(t, int32(1), poolMin)
	require.Equal(t, int32(2), poolMax)
}

func TestSizingDefaultsWhenCapsUnset(t *testing.T) {
	workers, poolMin, poolMax := Sizing(20, Caps{})
	require.Equal(t, 16, workers)
	require.Equal(t, int32(16), poolMin)
	require.Equal(t, int32(16), poolMax)
}
