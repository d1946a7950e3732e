// Package carrier implements the charge-carrier registry: an ECS-backed
// collection of electrons and holes, plus the pure choose/decide dispatch
// functions the simulation driver calls per carrier, per tick. The ECS
// storage pattern (a single tagged component, individual and bulk
// component mappers, a query filter) is grounded in pthm-soup's
// game/game.go (ecs.Map1/ecs.NewWorld usage); the transport semantics are
// grounded in original_source/chargeagent.cpp's chooseFuture/decideFuture.
package carrier

import (
	"fmt"

	"github.com/mlange-42/ark/ecs"

	"github.com/langmuirsim/langmuir/internal/lattice"
)

// Species distinguishes the two carrier kinds. spec.md §9 calls for a
// tagged sum dispatched on a tag rather than a type hierarchy; State.Species
// is that tag.
type Species uint8

const (
	Electron Species = iota
	Hole
)

// Charge returns the signed elementary-charge multiple for the species
// (-1 for an electron, +1 for a hole).
func (s Species) Charge() float64 {
	if s == Hole {
		return 1
	}
	return -1
}

func (s Species) SiteTag() lattice.SiteTag {
	if s == Hole {
		return lattice.TagHole
	}
	return lattice.TagElectron
}

// State is the single ECS component backing every carrier entity.
type State struct {
	ID           int64
	Species      Species
	Site         int
	Future       int // candidate site chosen by ChooseFuture; == Site if none chosen yet
	Lifetime     int64
	Pathlength   float64 // cumulative hop count, for mobility diagnostics
	DeltaEpsilon float64 // last evaluated Metropolis energy difference
	GPUIndex     int     // index into the GPU batch buffer, valid only mid-tick
	Removed      bool    // set by MarkRemoved; the tick driver does not read it
}

// Registry owns the ECS world and every carrier entity in it.
type Registry struct {
	world  *ecs.World
	states *ecs.Map1[State]
	filter *ecs.Filter1[State]
	nextID int64
}

// NewRegistry creates an empty carrier registry.
func NewRegistry() *Registry {
	world := ecs.NewWorld()
	return &Registry{
		world:  world,
		states: ecs.NewMap1[State](world),
		filter: ecs.NewFilter1[State](world),
	}
}

// Spawn creates a new carrier entity at site and returns its entity handle
// and a pointer to its live state.
func (r *Registry) Spawn(species Species, site int) (ecs.Entity, *State) {
	r.nextID++
	state := State{ID: r.nextID, Species: species, Site: site, Future: site}
	entity := r.states.NewEntity(&state)
	return entity, r.states.Get(entity)
}

// Get returns the live state for entity.
func (r *Registry) Get(e ecs.Entity) *State { return r.states.Get(e) }

// Remove deletes entity from the registry.
func (r *Registry) Remove(e ecs.Entity) { r.states.Remove(e) }

// Count returns the number of live carrier entities.
func (r *Registry) Count() int {
	n := 0
	query := r.filter.Query()
	for query.Next() {
		n++
	}
	return n
}

// Snapshot is a read-only copy of one carrier's state plus its entity
// handle, used to build the parallel choose/decide worklist without
// holding ECS query iterators open across goroutines (ark queries are not
// safe for concurrent use; see pthm-soup's game/parallel.go snapshot
// pattern).
type Snapshot struct {
	Entity ecs.Entity
	State  State
}

// Snapshot captures every live carrier's current state.
func (r *Registry) Snapshot() []Snapshot {
	out := make([]Snapshot, 0, 256)
	query := r.filter.Query()
	for query.Next() {
		e := query.Entity()
		s := query.Get()
		out = append(out, Snapshot{Entity: e, State: *s})
	}
	return out
}

// ApplyFuture writes back the Future/DeltaEpsilon fields computed during
// the choose_future and decide_future phases (spec.md §4.2) for one entity.
func (r *Registry) ApplyFuture(e ecs.Entity, future int, deltaEpsilon float64) {
	s := r.states.Get(e)
	s.Future = future
	s.DeltaEpsilon = deltaEpsilon
}

// Commit moves a carrier from its current site to its accepted future
// site, incrementing lifetime/pathlength bookkeeping (spec.md §4.3's
// serial commit phase). Grid mutation is the caller's responsibility
// (internal/world owns the lattice.Grid); this only updates ECS state.
func (r *Registry) Commit(e ecs.Entity, newSite int) {
	s := r.states.Get(e)
	if newSite != s.Site {
		s.Pathlength++
	}
	s.Site = newSite
	s.Future = newSite
	s.Lifetime++
}

// MarkRemoved flags a carrier as drained/recombined by setting Removed. It
// does not delete the entity; the tick driver removes drained and
// recombined carriers directly through the world instead.
func (r *Registry) MarkRemoved(e ecs.Entity) {
	s := r.states.Get(e)
	s.Removed = true
}

// ChooseRNG is the subset of internal/rng.Generator ChooseFuture needs.
type ChooseRNG interface {
	Range(lo, hi int) int
}

// ChooseFuture selects a uniformly random neighbor of site, skipping any
// neighbor excluded reports true for (original_source/chargeagent.cpp's
// chooseFuture: "select a proposed transport site at random, but ensure
// it is not the source"). Only source agents are excluded this way —
// drains, recombination, and exciton-source sites are valid hop targets
// and must report false from excluded; the caller (internal/simulate)
// resolves which special sites are sources via internal/world's flux
// agent index. It returns site unchanged if every neighbor is excluded
// (degenerate single-neighbor lattices) or there are no neighbors at all.
func ChooseFuture(rng ChooseRNG, site int, neighbors []int, excluded func(site int) bool) int {
	if len(neighbors) == 0 {
		return site
	}
	for tries := 0; tries < len(neighbors)*4; tries++ {
		idx := rng.Range(0, len(neighbors)-1)
		candidate := neighbors[idx]
		if !excluded(candidate) {
			return candidate
		}
	}
	return site
}

// DecideRNG is the subset of internal/rng.Generator DecideFuture needs.
type DecideRNG interface {
	Metropolis(deltaEpsilon, beta float64) bool
}

// DecideFuture applies the ordinary (non-drain, non-source) Metropolis
// acceptance test for a hop with the given energy difference
// (original_source/chargeagent.cpp's decideFuture background-potential
// branch). Drain- and source-site special cases are resolved by the
// caller before this is reached.
func DecideFuture(rng DecideRNG, deltaEpsilon, beta float64) bool {
	return rng.Metropolis(deltaEpsilon, beta)
}

// ValidateSpecies returns an error if species is not a recognized tag.
func ValidateSpecies(s Species) error {
	if s != Electron && s != Hole {
		return fmt.Errorf("carrier: unknown species tag %d", s)
	}
	return nil
}
