package tables

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRejectsNonPositiveCutoff(t *testing.T) {
	_, err := Build(0, 1, 1, 0)
	require.Error(t, err)
}

func TestEnergyAtOriginIsZero(t *testing.T) {
	tb, err := Build(4, 1.0, 1.0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, tb.Energy(0, 0, 0))
}

func TestEnergyScalesAsInverseDistance(t *testing.T) {
	kappa := 2.0
	tb, err := Build(5, kappa, 1.0, 0)
	require.NoError(t, err)

	assert.InDelta(t, kappa/1.0, tb.Energy(1, 0, 0), 1e-12)
	assert.InDelta(t, kappa/math.Sqrt(2), tb.Energy(1, 1, 0), 1e-12)
	assert.InDelta(t, kappa/2.0, tb.Energy(2, 0, 0), 1e-12)
}

func TestEnergyOutsideCutoffIsZero(t *testing.T) {
	tb, err := Build(3, 1.0, 1.0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, tb.Energy(3, 0, 0))
	assert.Equal(t, 0.0, tb.Energy(0, 5, 0))
}

func TestSelfInteractionMatchesNearestNeighborEnergy(t *testing.T) {
	kappa := 1.5
	tb, err := Build(4, kappa, 1.0, 0)
	require.NoError(t, err)
	assert.InDelta(t, kappa, tb.SelfInteraction(), 1e-12)
}

func TestScreeningDisabledFallsBackToUnscreened(t *testing.T) {
	tb, err := Build(4, 1.0, 1.0, 0)
	require.NoError(t, err)
	assert.False(t, tb.HasScreening())
	assert.Equal(t, tb.Energy(1, 1, 1), tb.ScreenedEnergy(1, 1, 1))
}

func TestScreenedEnergyIsLessThanUnscreened(t *testing.T) {
	tb, err := Build(5, 1.0, 1.0, 0.5)
	require.NoError(t, err)
	require.True(t, tb.HasScreening())

	unscreened, err2 := Build(5, 1.0, 1.0, 0)
	require.NoError(t, err2)

	assert.Less(t, tb.ScreenedEnergy(2, 1, 0), unscreened.Energy(2, 1, 0))
	assert.Greater(t, tb.ScreenedEnergy(2, 1, 0), 0.0)
}

func TestCouplingIsOneAtNearestNeighbor(t *testing.T) {
	tb, err := Build(4, 1.0, 1.0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, tb.Coupling(1, 0, 0), 1e-12)
}

func TestCouplingDecaysForRange2Shell(t *testing.T) {
	tb, err := Build(4, 1.0, 1.0, 0)
	require.NoError(t, err)
	assert.Less(t, tb.Coupling(2, 0, 0), tb.Coupling(1, 0, 0))
	assert.Greater(t, tb.Coupling(2, 0, 0), 0.0)
}

func TestCouplingZeroAtOrigin(t *testing.T) {
	tb, err := Build(4, 1.0, 1.0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, tb.Coupling(0, 0, 0))
}

func TestInRangeBoundary(t *testing.T) {
	tb, err := Build(3, 1.0, 1.0, 0)
	require.NoError(t, err)
	assert.True(t, tb.InRange(2, 2, 2))
	assert.False(t, tb.InRange(3, 0, 0))
}
