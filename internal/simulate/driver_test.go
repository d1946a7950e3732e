package simulate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/langmuirsim/langmuir/internal/carrier"
	"github.com/langmuirsim/langmuir/internal/params"
	"github.com/langmuirsim/langmuir/internal/world"
)

func baseParams(t *testing.T) *params.Parameters {
	t.Helper()
	p, err := params.Defaults()
	require.NoError(t, err)
	p.Grid.X, p.Grid.Y, p.Grid.Z = 10, 10, 1
	p.Carriers.SeedCharges = false
	p.Coulomb.Enabled = false
	return p
}

func buildWorld(t *testing.T, p *params.Parameters) *world.World {
	t.Helper()
	w, err := world.Build(p)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func TestStepWithNoCarriersStillInjectsSources(t *testing.T) {
	p := baseParams(t)
	p.Rates.ESourceL = 1
	p.Rates.HSourceL = 0
	p.Rates.EDrainL = 0
	p.Rates.HDrainL = 0
	p.Rates.ESourceR = 0
	p.Rates.HSourceR = 0
	p.Rates.EDrainR = 0
	p.Rates.HDrainR = 0
	w := buildWorld(t, p)
	require.Equal(t, 0, w.Carriers.Count())

	d := New(w, WithWorkers(1))
	require.NoError(t, d.Step(1))

	assert.Equal(t, int64(1), d.TickCount())
	assert.Greater(t, w.Carriers.Count(), 0)
}

func TestStepAdvancesTickCount(t *testing.T) {
	p := baseParams(t)
	w := buildWorld(t, p)

	d := New(w, WithWorkers(2))
	require.NoError(t, d.Step(5))
	assert.Equal(t, int64(5), d.TickCount())
}

func TestSetTickCountOverridesCounter(t *testing.T) {
	p := baseParams(t)
	w := buildWorld(t, p)

	d := New(w)
	d.SetTickCount(42)
	assert.Equal(t, int64(42), d.TickCount())
	require.NoError(t, d.Step(1))
	assert.Equal(t, int64(43), d.TickCount())
}

func TestStepMovesASingleIsolatedCarrier(t *testing.T) {
	p := baseParams(t)
	p.Rates.ESourceL, p.Rates.HSourceL = 0, 0
	p.Rates.ESourceR, p.Rates.HSourceR = 0, 0
	p.Rates.EDrainL, p.Rates.HDrainL = 0, 0
	p.Rates.EDrainR, p.Rates.HDrainR = 0, 0
	w := buildWorld(t, p)

	site := w.Grid.Index(5, 5, 0)
	_, err := w.SpawnCarrier(carrier.Electron, site)
	require.NoError(t, err)
	require.Equal(t, 1, w.Carriers.Count())

	d := New(w, WithWorkers(1))
	for i := 0; i < 20 && w.Carriers.Count() == 1; i++ {
		require.NoError(t, d.Step(1))
	}

	snap := w.Carriers.Snapshot()
	require.Len(t, snap, 1)
}

func TestStepWithWorkersGreaterThanCarrierCountDoesNotPanic(t *testing.T) {
	p := baseParams(t)
	p.Rates.ESourceL, p.Rates.HSourceL = 0, 0
	p.Rates.ESourceR, p.Rates.HSourceR = 0, 0
	p.Rates.EDrainL, p.Rates.HDrainL = 0, 0
	p.Rates.EDrainR, p.Rates.HDrainR = 0, 0
	w := buildWorld(t, p)

	_, err := w.SpawnCarrier(carrier.Hole, w.Grid.Index(0, 0, 0))
	require.NoError(t, err)

	d := New(w, WithWorkers(64))
	require.NoError(t, d.Step(3))
}

func TestDrainAbsorbsCarrierEventually(t *testing.T) {
	p := baseParams(t)
	p.Grid.X, p.Grid.Y, p.Grid.Z = 4, 4, 1
	p.Rates.ESourceL, p.Rates.HSourceL = 0, 0
	p.Rates.ESourceR, p.Rates.HSourceR = 0, 0
	p.Rates.HDrainL, p.Rates.HDrainR = 0, 0
	p.Rates.EDrainL = 1
	p.Rates.EDrainR = 0
	p.Rates.DrainMode = params.DrainConstant
	w := buildWorld(t, p)

	_, err := w.SpawnCarrier(carrier.Electron, w.Grid.Index(0, 2, 0))
	require.NoError(t, err)

	d := New(w, WithWorkers(1))
	for i := 0; i < 200 && w.Carriers.Count() > 0; i++ {
		require.NoError(t, d.Step(1))
	}

	assert.Equal(t, 0, w.Carriers.Count())
}

func TestSolarCellArchetypeGeneratesAndRecombines(t *testing.T) {
	p := baseParams(t)
	p.Simulation.Type = params.SolarCell
	p.Grid.X, p.Grid.Y, p.Grid.Z = 6, 6, 6
	p.Rates.GenerationRate = 1
	p.Rates.RecombinationRate = 1
	p.Rates.ESourceL, p.Rates.HSourceL = 0, 0
	p.Rates.ESourceR, p.Rates.HSourceR = 0, 0
	p.Rates.EDrainL, p.Rates.HDrainL = 0, 0
	p.Rates.EDrainR, p.Rates.HDrainR = 0, 0
	w := buildWorld(t, p)
	require.NotEmpty(t, w.ExcitonSources)
	require.NotEmpty(t, w.Recombinations)

	d := New(w, WithWorkers(1))
	require.NoError(t, d.Step(3))

	assert.GreaterOrEqual(t, w.Carriers.Count(), 0)
}

func TestCoulombBatchZeroWhenCarrierCoulombDisabled(t *testing.T) {
	p := baseParams(t)
	p.Coulomb.Enabled = false
	w := buildWorld(t, p)

	_, _ = w.Carriers.Spawn(carrier.Electron, w.Grid.Index(2, 2, 0))
	snap := w.Carriers.Snapshot()
	futures := []int{w.Grid.Index(3, 2, 0)}

	d := New(w, WithWorkers(1))
	sums, err := d.coulombBatch(snap, futures)
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, sums[0])
	assert.Equal(t, []float64{0}, sums[1])
}

func TestCoulombBatchNonzeroWhenCarrierCoulombEnabled(t *testing.T) {
	p := baseParams(t)
	p.Coulomb.Enabled = true
	w := buildWorld(t, p)

	_, _ = w.Carriers.Spawn(carrier.Electron, w.Grid.Index(2, 2, 0))
	_, _ = w.Carriers.Spawn(carrier.Hole, w.Grid.Index(1, 2, 0))
	snap := w.Carriers.Snapshot()
	futures := make([]int, len(snap))
	for i, s := range snap {
		futures[i] = s.State.Site
	}

	d := New(w, WithWorkers(1))
	sums, err := d.coulombBatch(snap, futures)
	require.NoError(t, err)
	assert.NotEqual(t, []float64{0, 0}, sums[0])
}

func TestFindCoincidentPairsPairsOppositeSpeciesOnSameSite(t *testing.T) {
	p := baseParams(t)
	w := buildWorld(t, p)

	site := w.Grid.Index(1, 1, 0)
	_, _ = w.Carriers.Spawn(carrier.Electron, site)
	h, _ := w.Carriers.Spawn(carrier.Hole, site)

	d := New(w, WithWorkers(1))
	pairs := d.findCoincidentPairs()
	require.Len(t, pairs, 1)
	assert.Equal(t, site, pairs[0].electronSite)
	assert.Equal(t, site, pairs[0].holeSite)
	assert.Equal(t, h, pairs[0].hole)
}
