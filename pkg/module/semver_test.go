package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextVersionFromEmpty(t *testing.T) {
	v, err := nextVersion("", StrategyPatch)
	require.NoError(t, err)
	assert.Equal(t, "0.0.1", v)

	v, err = nextVersion("", StrategyMinor)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", v)

	v, err = nextVersion("", StrategyMajor)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", v)
}

func TestNextVersionIncrements(t *testing.T) {
	cases := []struct {
		latest   string
		strategy Strategy
		want     string
	}{
		{"1.2.3", StrategyPatch, "1.2.4"},
		{"1.2.3", StrategyMinor, "1.3.0"},
		{"1.2.3", StrategyMajor, "2.0.0"},
	}
	for _, tc := range cases {
		got, err := nextVersion(tc.latest, tc.strategy)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestNextVersionRejectsUnknownStrategy(t *testing.T) {
	_, err := nextVersion("1.0.0", Strategy("bogus"))
	assert.Error(t, err)
}

func TestCompareSemver(t *testing.T) {
	assert.True(t, compareSemver("1.2.0", "1.1.9") > 0)
	assert.True(t, compareSemver("1.0.0", "1.0.0") == 0)
	assert.True(t, compareSemver("0.9.0", "1.0.0") < 0)
}

func TestValidSemver(t *testing.T) {
	assert.True(t, validSemver("1.2.3"))
	assert.False(t, validSemver("not-a-version"))
}
