package carrier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpeciesCharge(t *testing.T) {
	assert.Equal(t, -1.0, Electron.Charge())
	assert.Equal(t, 1.0, Hole.Charge())
}

func TestSpawnAndGet(t *testing.T) {
	r := NewRegistry()
	e, s := r.Spawn(Electron, 5)
	require.NotNil(t, s)
	assert.Equal(t, 5, s.Site)
	assert.Equal(t, Electron, s.Species)

	got := r.Get(e)
	assert.Equal(t, s.ID, got.ID)
}

func TestCountAndRemove(t *testing.T) {
	r := NewRegistry()
	e1, _ := r.Spawn(Electron, 1)
	_, _ = r.Spawn(Hole, 2)
	assert.Equal(t, 2, r.Count())

	r.Remove(e1)
	assert.Equal(t, 1, r.Count())
}

func TestSnapshotCapturesLiveState(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Spawn(Electron, 1)
	_, _ = r.Spawn(Hole, 2)

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	sites := map[int]bool{}
	for _, s := range snap {
		sites[s.State.Site] = true
	}
	assert.True(t, sites[1])
	assert.True(t, sites[2])
}

func TestApplyFutureAndCommit(t *testing.T) {
	r := NewRegistry()
	e, _ := r.Spawn(Electron, 1)

	r.ApplyFuture(e, 2, 0.5)
	s := r.Get(e)
	assert.Equal(t, 2, s.Future)
	assert.Equal(t, 0.5, s.DeltaEpsilon)

	r.Commit(e, 2)
	s = r.Get(e)
	assert.Equal(t, 2, s.Site)
	assert.Equal(t, int64(1), s.Lifetime)
	assert.Equal(t, 1.0, s.Pathlength)
}

func TestCommitToSameSiteDoesNotIncrementPathlength(t *testing.T) {
	r := NewRegistry()
	e, _ := r.Spawn(Hole, 3)
	r.Commit(e, 3)
	s := r.Get(e)
	assert.Equal(t, 0.0, s.Pathlength)
	assert.Equal(t, int64(1), s.Lifetime)
}

func TestMarkRemoved(t *testing.T) {
	r := NewRegistry()
	e, _ := r.Spawn(Electron, 1)
	r.MarkRemoved(e)
	assert.True(t, r.Get(e).Removed)
}

type fixedRNG struct{ vals []int; i int }

func (f *fixedRNG) Range(lo, hi int) int {
	v := f.vals[f.i%len(f.vals)]
	f.i++
	return lo + v%(hi-lo+1)
}

func TestChooseFutureSkipsSourceNeighbors(t *testing.T) {
	neighbors := []int{10, 11, 12}
	sources := map[int]bool{10: true}
	rng := &fixedRNG{vals: []int{0, 1}}

	site := ChooseFuture(rng, 5, neighbors, func(s int) bool { return sources[s] })
	assert.Equal(t, 11, site)
}

func TestChooseFutureWithNoNeighborsReturnsSite(t *testing.T) {
	rng := &fixedRNG{vals: []int{0}}
	site := ChooseFuture(rng, 7, nil, func(int) bool { return false })
	assert.Equal(t, 7, site)
}

func TestChooseFutureReturnsSiteWhenAllNeighborsExcluded(t *testing.T) {
	neighbors := []int{1, 2}
	rng := &fixedRNG{vals: []int{0, 1, 0, 1}}
	site := ChooseFuture(rng, 9, neighbors, func(int) bool { return true })
	assert.Equal(t, 9, site)
}

func TestValidateSpecies(t *testing.T) {
	require.NoError(t, ValidateSpecies(Electron))
	require.NoError(t, ValidateSpecies(Hole))
	require.Error(t, ValidateSpecies(Species(9)))
}
