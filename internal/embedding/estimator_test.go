package embedding

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicEstimator(t *testing.T) {
	e := HeuristicEstimator{}

	assert.Equal(t, 0, e.Count(""))
	assert.Equal(t, 1, e.Count("abc"))
	assert.Equal(t, 2, e.Count("abcdefgh"))
	assert.Equal(t, 3, e.Count("abcdefghi"))

	assert.Equal(t, "abcdefgh", e.Truncate("abcdefghijkl", 2))
	assert.Equal(t, "short", e.Truncate("short", 10))
}

func TestHeuristicEstimator_TruncateKeepsRunesWhole(t *testing.T) {
	e := HeuristicEstimator{}
	// "é" is two bytes; a 4-byte cut lands inside the second one.
	out := e.Truncate("aéééé", 1)
	assert.Equal(t, "aé", out)
}

func TestNewEstimator(t *testing.T) {
	e, err := NewEstimator("")
	require.NoError(t, err)
	assert.IsType(t, HeuristicEstimator{}, e)

	_, err = NewEstimator("bogus")
	assert.Error(t, err)
}

func TestTiktokenEstimator(t *testing.T) {
	e, err := NewEstimator(EstimatorTiktoken)
	require.NoError(t, err)

	assert.Equal(t, 0, e.Count(""))
	n := e.Count("function login(user) { return check(user); }")
	assert.Greater(t, n, 5)
	assert.Less(t, n, 30)

	long := strings.Repeat("token ", 100)
	cut := e.Truncate(long, 10)
	assert.LessOrEqual(t, e.Count(cut), 10)
	assert.True(t, strings.HasPrefix(long, cut))
}
