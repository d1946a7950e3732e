package potential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langmuirsim/langmuir/internal/lattice"
	"github.com/langmuirsim/langmuir/internal/rng"
	"github.com/langmuirsim/langmuir/internal/tables"
)

func newFixture(t *testing.T, x, y, z int) (*lattice.Grid, *tables.Tables) {
	t.Helper()
	g, err := lattice.New(x, y, z)
	require.NoError(t, err)
	tb, err := tables.Build(3, 1.0, 1.0, 0)
	require.NoError(t, err)
	return g, tb
}

func TestSetLinearAppliesRampAlongX(t *testing.T) {
	g, tb := newFixture(t, 4, 1, 1)
	l := New(g, tb, 0, lattice.Range1)
	l.SetLinear(0, 1, 0)

	left := g.Potential(g.Index(0, 0, 0))
	right := g.Potential(g.Index(3, 0, 0))
	assert.Less(t, left, right)
}

func TestSetLinearAppliesGateSlopeOnZ(t *testing.T) {
	g, tb := newFixture(t, 2, 1, 3)
	l := New(g, tb, 0, lattice.Range1)
	l.SetLinear(0, 0, 1.0)

	bottom := g.Potential(g.Index(0, 0, 0))
	top := g.Potential(g.Index(0, 0, 2))
	assert.Greater(t, top, bottom)
}

func TestSeedTrapsRespectsZeroPercentage(t *testing.T) {
	g, tb := newFixture(t, 5, 5, 1)
	l := New(g, tb, 0, lattice.Range1)
	seeder := rng.New(1)
	l.SeedTraps(seeder, 0, 1.0, 0.1, 0, 0, lattice.Range1)
	assert.Empty(t, l.TrapSites())
}

func TestSeedTrapsReachesTargetFraction(t *testing.T) {
	g, tb := newFixture(t, 10, 10, 1)
	l := New(g, tb, 0, lattice.Range1)
	seeder := rng.New(5)
	l.SeedTraps(seeder, 0.2, 0.5, 0.1, 0, 0, lattice.Range1)

	assert.InDelta(t, 20, len(l.TrapSites()), 1)
	for _, s := range l.TrapSites() {
		assert.Greater(t, g.Potential(s), 0.0)
	}
}

func TestSeedTrapsAppliesGaussianPerturbation(t *testing.T) {
	g, tb := newFixture(t, 10, 10, 1)
	l := New(g, tb, 0, lattice.Range1)
	seeder := rng.New(3)
	l.SeedTraps(seeder, 0.1, 1.0, 0.1, 0.0, 0.05, lattice.Range1)

	require.NotEmpty(t, l.TrapSites())
	same := true
	first := g.Potential(l.TrapSites()[0])
	for _, s := range l.TrapSites() {
		if g.Potential(s) != first {
			same = false
		}
	}
	assert.False(t, same, "gaussian perturbation should make trap depths vary")
}

func TestCoulombEnergySumsOverCharges(t *testing.T) {
	g, tb := newFixture(t, 5, 5, 1)
	l := New(g, tb, 0, lattice.Range1)

	site := g.Index(2, 2, 0)
	charges := []Charge{
		{Site: g.Index(1, 2, 0), Charge: -1},
		{Site: g.Index(3, 2, 0), Charge: -1},
	}
	e := l.CoulombEnergy(site, charges)
	assert.InDelta(t, -2.0, e, 1e-9)
}

func TestCoulombEnergyDefectsScalesByDefectCharge(t *testing.T) {
	g, tb := newFixture(t, 5, 5, 1)
	l := New(g, tb, 0, lattice.Range1)

	site := g.Index(2, 2, 0)
	defects := []int{g.Index(1, 2, 0)}
	e := l.CoulombEnergyDefects(site, defects, 2.0)
	assert.InDelta(t, 2.0, e, 1e-9)
}

func TestDeltaEnergyRejectsIdenticalSites(t *testing.T) {
	g, tb := newFixture(t, 5, 5, 1)
	l := New(g, tb, 0, lattice.Range1)
	_, err := l.DeltaEnergy(3, 3, -1, nil)
	require.Error(t, err)
}

func TestDeltaEnergyAppliesSelfInteractionCorrection(t *testing.T) {
	g, tb := newFixture(t, 5, 5, 1)
	l := New(g, tb, 0, lattice.Range1)

	site := g.Index(2, 2, 0)
	candidate := g.Index(3, 2, 0)
	delta, err := l.DeltaEnergy(site, candidate, -1, nil)
	require.NoError(t, err)
	// With a flat landscape and no other charges, only the self
	// interaction correction at the candidate survives.
	expected := -1.0 * (-l.SelfInteractionCorrection(-1))
	assert.InDelta(t, expected, delta, 1e-9)
}

func TestBindingCorrectionZeroWhenUnconfigured(t *testing.T) {
	g, tb := newFixture(t, 5, 5, 1)
	l := New(g, tb, 0, lattice.Range1)
	require.NoError(t, g.Register(g.Index(3, 2, 0), lattice.TagHole, 1))

	assert.Zero(t, l.BindingCorrection(g.Index(2, 2, 0), -1))
}

func TestBindingCorrectionAppliesForAdjacentOppositeSpecies(t *testing.T) {
	g, tb := newFixture(t, 5, 5, 1)
	l := New(g, tb, 0.25, lattice.Range1)

	site := g.Index(2, 2, 0)
	require.NoError(t, g.Register(g.Index(3, 2, 0), lattice.TagHole, 1))

	assert.InDelta(t, -0.25, l.BindingCorrection(site, -1), 1e-9)
	assert.Zero(t, l.BindingCorrection(g.Index(0, 0, 0), -1), "no neighboring hole at an unrelated site")
}

func TestBindingCorrectionSignsOppositeForHoleView(t *testing.T) {
	g, tb := newFixture(t, 5, 5, 1)
	l := New(g, tb, 0.25, lattice.Range1)

	site := g.Index(2, 2, 0)
	require.NoError(t, g.Register(g.Index(3, 2, 0), lattice.TagElectron, 1))

	assert.InDelta(t, 0.25, l.BindingCorrection(site, 1), 1e-9)
}
