package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicSequence(t *testing.T) {
	a := New(1)
	b := New(1)

	for i := 0; i < 1000; i++ {
		require.Equal(t, a.Float64(), b.Float64())
	}
}

func TestFloat64Range(t *testing.T) {
	g := New(42)
	for i := 0; i < 10000; i++ {
		v := g.Float64()
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}

func TestRangeInclusive(t *testing.T) {
	g := New(7)
	seen := map[int]bool{}
	for i := 0; i < 2000; i++ {
		v := g.Range(2, 5)
		require.GreaterOrEqual(t, v, 2)
		require.LessOrEqual(t, v, 5)
		seen[v] = true
	}
	assert.Len(t, seen, 4)
}

func TestStateRoundTrip(t *testing.T) {
	g := New(123)
	for i := 0; i < 50; i++ {
		g.Float64()
	}

	s1 := g.State()
	g2, err := LoadState(s1)
	require.NoError(t, err)
	s2 := g2.State()
	require.Equal(t, s1, s2)

	for i := 0; i < 200; i++ {
		require.Equal(t, g.Float64(), g2.Float64())
	}
}

func TestLoadStateRejectsWrongLength(t *testing.T) {
	_, err := LoadState([]uint64{1, 2, 3})
	require.Error(t, err)
}

func TestMetropolisAlwaysAcceptsNonIncreasing(t *testing.T) {
	g := New(9)
	for i := 0; i < 100; i++ {
		assert.True(t, g.Metropolis(0, 1))
		assert.True(t, g.Metropolis(-1, 1))
	}
}

func TestMetropolisCouplingAcceptsAtCouplingRate(t *testing.T) {
	g := New(9)
	accepted := 0
	trials := 100000
	for i := 0; i < trials; i++ {
		if g.MetropolisCoupling(0, 1, 0.3) {
			accepted++
		}
	}
	rate := float64(accepted) / float64(trials)
	assert.InDelta(t, 0.3, rate, 0.01)
}
