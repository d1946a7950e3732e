package world

import (
	"testing"

	"github.com/mlange-42/ark/ecs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langmuirsim/langmuir/internal/carrier"
	"github.com/langmuirsim/langmuir/internal/params"
)

func defaultTestParams(t *testing.T) *params.Parameters {
	t.Helper()
	p, err := params.Defaults()
	require.NoError(t, err)
	p.Grid.X, p.Grid.Y, p.Grid.Z = 10, 10, 1
	p.Carriers.SeedCharges = true
	return p
}

func TestBuildProducesValidWorld(t *testing.T) {
	p := defaultTestParams(t)
	w, err := Build(p)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, 100, w.Grid.Volume())
	assert.NotEmpty(t, w.Sources)
	assert.NotEmpty(t, w.Drains)
}

func TestBuildRejectsInvalidParameters(t *testing.T) {
	p := defaultTestParams(t)
	p.Grid.X = 0
	_, err := Build(p)
	require.Error(t, err)
}

func TestBuildSeedsElectronPopulation(t *testing.T) {
	p := defaultTestParams(t)
	p.Carriers.ElectronPercentage = 0.1
	w, err := Build(p)
	require.NoError(t, err)
	defer w.Close()

	assert.InDelta(t, 10, w.Carriers.Count(), 1)
}

func TestBuildPlacesDefects(t *testing.T) {
	p := defaultTestParams(t)
	p.Carriers.DefectPercentage = 0.1
	w, err := Build(p)
	require.NoError(t, err)
	defer w.Close()

	assert.InDelta(t, 10, len(w.DefectSites()), 1)
}

func TestCommitMoveKeepsSiteIndexConsistent(t *testing.T) {
	p := defaultTestParams(t)
	p.Carriers.SeedCharges = false
	w, err := Build(p)
	require.NoError(t, err)
	defer w.Close()

	site := w.Grid.Index(0, 0, 0)
	entity, state := w.Carriers.Spawn(carrier.Hole, site)
	require.NoError(t, w.Grid.Register(site, w.Carriers.Get(entity).Species.SiteTag(), state.ID))
	w.entityBySite[site] = entity

	target := w.Grid.Index(1, 0, 0)
	require.NoError(t, w.CommitMove(entity, site, target))

	_, stillAtOld := w.EntityAt(site)
	assert.False(t, stillAtOld)
	gotEntity, ok := w.EntityAt(target)
	require.True(t, ok)
	assert.Equal(t, entity, gotEntity)
}

func TestChargeListExcludesGivenEntity(t *testing.T) {
	p := defaultTestParams(t)
	p.Carriers.SeedCharges = false
	p.Coulomb.Enabled = true
	w, err := Build(p)
	require.NoError(t, err)
	defer w.Close()

	site := w.Grid.Index(2, 2, 0)
	entity, state := w.Carriers.Spawn(carrier.Electron, site)
	require.NoError(t, w.Grid.Register(site, w.Carriers.Get(entity).Species.SiteTag(), state.ID))

	other := w.Grid.Index(4, 4, 0)
	_, otherState := w.Carriers.Spawn(carrier.Hole, other)
	require.NoError(t, w.Grid.Register(other, carrier.Hole.SiteTag(), otherState.ID))

	list := w.ChargeList(entity)
	require.NotEmpty(t, list)
	for _, c := range list {
		assert.NotEqual(t, site, c.Site)
	}
}

func TestChargeListEmptyWhenCoulombDisabled(t *testing.T) {
	p := defaultTestParams(t)
	p.Carriers.SeedCharges = false
	p.Coulomb.Enabled = false
	w, err := Build(p)
	require.NoError(t, err)
	defer w.Close()

	site := w.Grid.Index(2, 2, 0)
	entity, state := w.Carriers.Spawn(carrier.Electron, site)
	require.NoError(t, w.Grid.Register(site, w.Carriers.Get(entity).Species.SiteTag(), state.ID))

	assert.Empty(t, w.ChargeList(ecs.Entity{}))
}

func TestDefectChargesRequiresCoulombEnabledAndChargedDefects(t *testing.T) {
	p := defaultTestParams(t)
	p.Carriers.DefectPercentage = 0.1
	p.Coulomb.ChargedDefects = true

	p.Coulomb.Enabled = false
	w, err := Build(p)
	require.NoError(t, err)
	assert.Empty(t, w.DefectCharges())
	w.Close()

	p.Coulomb.Enabled = true
	w2, err := Build(p)
	require.NoError(t, err)
	defer w2.Close()
	assert.NotEmpty(t, w2.DefectCharges())
}

func TestSolarCellArchetypeGetsRecombinationAndGeneration(t *testing.T) {
	p := defaultTestParams(t)
	p.Simulation.Type = params.SolarCell
	p.Rates.RecombinationRate = 0.5
	p.Rates.GenerationRate = 0.1
	w, err := Build(p)
	require.NoError(t, err)
	defer w.Close()

	assert.NotEmpty(t, w.Recombinations)
	assert.NotEmpty(t, w.ExcitonSources)
}
