package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEnvDefaults(t *testing.T) {
	require.Equal(t, "fallback", Env("PIVOTX_TEST_UNSET", "fallback"))
	require.Equal(t, 7, EnvInt("PIVOTX_TEST_UNSET", 7))
	require.Equal(t, time.Minute, EnvDuration("PIVOTX_TEST_UNSET", time.Minute))
	require.Nil(t, EnvList("PIVOTX_TEST_UNSET", nil))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PIVOTX_TEST_STR", "value")
	t.Setenv("PIVOTX_TEST_INT", "42")
	t.Setenv("PIVOTX_TEST_DUR", "90s")

	require.Equal(t, "value", Env("PIVOTX_TEST_STR", "fallback"))
	require.Equal(t, 42, EnvInt("PIVOTX_TEST_INT", 7))
	require.Equal(t, 90*time.Second, EnvDuration("PIVOTX_TEST_DUR", time.Minute))
}

func TestEnvRejectsUnparseableValues(t *testing.T) {
	t.Setenv("PIVOTX_TEST_INT", "not-a-number")
	t.Setenv("PIVOTX_TEST_DUR", "-5s")

	require.Equal(t, 7, EnvInt("PIVOTX_TEST_INT", 7))
	require.Equal(t, time.Minute, EnvDuration("PIVOTX_TEST_DUR", time.Minute))
}

func TestEnvListSplitsAndTrims(t *testing.T) {
	t.Setenv("PIVOTX_TEST_LIST", " ship1, ship2 ,,ship3 ")
	require.Equal(t, []string{"ship1", "ship2", "ship3"}, EnvList("PIVOTX_TEST_LIST", nil))
}
