// Package world owns every subsystem one simulation run needs — the
// lattice, precomputed tables, potential landscape, carrier registry,
// flux agents, and the GPU/CPU Coulomb backend — and builds them from a
// validated params.Parameters. It is grounded in original_source/world.h
// (a single owning object other components reach through) and
// pthm-soup's game/game.go (one struct assembling every subsystem at
// construction time), but avoids the original's pervasive back-reference
// pattern: subsystems here never hold a pointer back to World (spec.md §9).
package world

import (
	"fmt"

	"github.com/mlange-42/ark/ecs"

	"github.com/langmuirsim/langmuir/internal/carrier"
	"github.com/langmuirsim/langmuir/internal/flux"
	"github.com/langmuirsim/langmuir/internal/gpuoffload"
	"github.com/langmuirsim/langmuir/internal/lattice"
	"github.com/langmuirsim/langmuir/internal/params"
	"github.com/langmuirsim/langmuir/internal/potential"
	"github.com/langmuirsim/langmuir/internal/rng"
	"github.com/langmuirsim/langmuir/internal/tables"
)

const (
	elementaryCharge   = 1.60217646e-19
	boltzmannConstant  = 1.380649e-23
	vacuumPermittivity = 8.854187817e-12
)

// World bundles every subsystem backing one simulation run.
type World struct {
	Params *params.Parameters

	Grid      *lattice.Grid
	Tables    *tables.Tables
	Landscape *potential.Landscape
	Carriers  *carrier.Registry
	RNG       *rng.Generator
	GPU       gpuoffload.Backend

	Sources        []*flux.Agent
	Drains         []*flux.Agent
	Recombinations []*flux.Agent
	ExcitonSources []*flux.Agent

	fluxSiteIndex map[int64]*flux.Agent
	entityBySite  map[int]ecs.Entity
	agentSpecies  map[int64]carrier.Species

	nextFluxID int64
	defects    []int
}

// Build constructs a fully-populated World from validated parameters:
// grid, tables, static potential, traps, defects, the flux agents bound
// to the device archetype named by Simulation.Type, and the initial
// carrier population.
func Build(p *params.Parameters) (*World, error) {
	w, err := newBare(p)
	if err != nil {
		return nil, err
	}

	if err := w.placeDefects(); err != nil {
		return nil, err
	}

	hopRange := lattice.HoppingRange(p.Coulomb.HoppingRange)
	w.Landscape.SeedTraps(w.RNG, p.Carriers.TrapPercentage, p.Carriers.SeedPercentage,
		p.Potentials.TrapPotential, p.Potentials.GaussianAvg, p.Potentials.GaussianStdev, hopRange)

	if err := w.seedCarriers(); err != nil {
		return nil, err
	}

	return w, nil
}

// newBare builds every subsystem that depends only on Params — grid,
// tables, potential landscape (with the linear bias already applied),
// flux agents, and the GPU/CPU backend — but places no defects, traps, or
// carriers. Restore (called by internal/checkpoint) uses this directly to
// rebuild a World from a checkpoint's stored site lists instead of Build's
// random placement; Build itself is newBare plus the three random-fill
// steps.
func newBare(p *params.Parameters) (*World, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("world: invalid parameters: %w", err)
	}

	grid, err := lattice.New(p.Grid.X, p.Grid.Y, p.Grid.Z)
	if err != nil {
		return nil, fmt.Errorf("world: building grid: %w", err)
	}

	generator := rng.New(p.Simulation.RandomSeed)

	beta := p.Beta(elementaryCharge, boltzmannConstant)
	kappa := p.Kappa(elementaryCharge, vacuumPermittivity)
	tbl, err := tables.Build(p.Coulomb.Cutoff, kappa, beta, p.Coulomb.GaussianSigma)
	if err != nil {
		return nil, fmt.Errorf("world: building tables: %w", err)
	}

	landscape := potential.New(grid, tbl, p.Coulomb.ExcitonBinding, lattice.HoppingRange(p.Coulomb.HoppingRange))
	landscape.SetLinear(p.Potentials.VoltageLeft, p.Potentials.VoltageRight, p.Potentials.SlopeZ)

	w := &World{
		Params:        p,
		Grid:          grid,
		Tables:        tbl,
		Landscape:     landscape,
		Carriers:      carrier.NewRegistry(),
		RNG:           generator,
		fluxSiteIndex: make(map[int64]*flux.Agent),
		entityBySite:  make(map[int]ecs.Entity),
		agentSpecies:  make(map[int64]carrier.Species),
	}

	if err := w.buildFluxAgents(); err != nil {
		return nil, err
	}

	if p.GPU.UseOpenCL {
		backend, err := gpuoffload.NewWebGPUBackend(p.GPU.WorkSize)
		if err != nil {
			return nil, fmt.Errorf("world: initializing GPU backend: %w", err)
		}
		w.GPU = backend
	} else {
		w.GPU = gpuoffload.NewCPUBackend()
	}

	return w, nil
}

// Restore builds a bare World from p (grid, tables, potential linear bias,
// flux agents, GPU backend) without any random placement, for
// internal/checkpoint to repopulate from a checkpoint's stored state.
func Restore(p *params.Parameters) (*World, error) {
	return newBare(p)
}

// RestoreDefect registers site as a defect and records it in DefectSites,
// bypassing placeDefects's random search (internal/checkpoint's [Defects]
// section replay).
func (w *World) RestoreDefect(site int) error {
	if err := w.Grid.RegisterDefect(site); err != nil {
		return fmt.Errorf("world: restoring defect: %w", err)
	}
	w.defects = append(w.defects, site)
	return nil
}

// FluxAgents returns every flux agent in the fixed order
// buildFluxAgents constructs them (sources, then drains, then
// recombination, then exciton sources), used by internal/checkpoint to
// pair each agent with its persisted attempt/success counters.
func (w *World) FluxAgents() []*flux.Agent {
	out := make([]*flux.Agent, 0, len(w.Sources)+len(w.Drains)+len(w.Recombinations)+len(w.ExcitonSources))
	out = append(out, w.Sources...)
	out = append(out, w.Drains...)
	out = append(out, w.Recombinations...)
	out = append(out, w.ExcitonSources...)
	return out
}

// Close releases the GPU backend, if any.
func (w *World) Close() {
	if w.GPU != nil {
		w.GPU.Close()
	}
}

func (w *World) placeDefects() error {
	if w.Params.Carriers.DefectPercentage <= 0 {
		return nil
	}
	volume := w.Grid.Volume()
	target := int(float64(volume) * w.Params.Carriers.DefectPercentage)
	for len(w.defects) < target {
		s := w.RNG.Range(0, volume-1)
		if w.Grid.Tag(s) != lattice.TagEmpty {
			continue
		}
		if err := w.Grid.RegisterDefect(s); err != nil {
			return fmt.Errorf("world: placing defect: %w", err)
		}
		w.defects = append(w.defects, s)
	}
	return nil
}

// DefectSites returns every registered defect site.
func (w *World) DefectSites() []int {
	out := make([]int, len(w.defects))
	copy(out, w.defects)
	return out
}

func (w *World) newFluxID() int64 {
	w.nextFluxID++
	return w.nextFluxID
}

// buildFluxAgents wires sources and drains to the ±X faces (electrons
// entering/leaving on one face, holes on the other, per
// original_source/sourceagent.cpp and drainagent.cpp generalized to
// per-face, per-species rates: spec.md §6's e/h source/drain rate keys).
// SolarCell archetypes additionally get a recombination agent and an
// exciton-source agent (spec.md's supplemented solar-cell features).
func (w *World) buildFluxAgents() error {
	r := w.Params.Rates

	type faceRate struct {
		face    lattice.Face
		rate    float64
		species carrier.Species
	}
	sourceSpecs := []faceRate{
		{lattice.FaceNegX, r.ESourceL, carrier.Electron},
		{lattice.FacePosX, r.ESourceR, carrier.Electron},
		{lattice.FaceNegX, r.HSourceL, carrier.Hole},
		{lattice.FacePosX, r.HSourceR, carrier.Hole},
	}
	for _, spec := range sourceSpecs {
		if spec.rate <= 0 {
			continue
		}
		id := w.newFluxID()
		site := w.Grid.RegisterSpecial(id, spec.face)
		a := flux.NewSource(id, site, spec.face, spec.rate, 0)
		if err := a.Validate(); err != nil {
			return err
		}
		w.Sources = append(w.Sources, a)
		w.fluxSiteIndex[id] = a
		w.agentSpecies[id] = spec.species
	}

	drainSpecs := []faceRate{
		{lattice.FaceNegX, r.EDrainL, carrier.Electron},
		{lattice.FacePosX, r.EDrainR, carrier.Electron},
		{lattice.FaceNegX, r.HDrainL, carrier.Hole},
		{lattice.FacePosX, r.HDrainR, carrier.Hole},
	}
	for _, spec := range drainSpecs {
		if spec.rate <= 0 {
			continue
		}
		id := w.newFluxID()
		site := w.Grid.RegisterSpecial(id, spec.face)
		a := flux.NewDrain(id, site, spec.face, spec.rate, r.DrainMode)
		if err := a.Validate(); err != nil {
			return err
		}
		w.Drains = append(w.Drains, a)
		w.fluxSiteIndex[id] = a
		w.agentSpecies[id] = spec.species
	}

	if w.Params.Simulation.Type == params.SolarCell {
		if r.RecombinationRate > 0 {
			a := flux.NewRecombination(w.newFluxID(), r.RecombinationRate)
			w.Recombinations = append(w.Recombinations, a)
		}
		if r.GenerationRate > 0 {
			a := flux.NewExcitonSource(w.newFluxID(), r.GenerationRate)
			w.ExcitonSources = append(w.ExcitonSources, a)
		}
	}

	return nil
}

// seedCarriers places the initial electron/hole population, honoring
// Carriers.SeedCharges and SeedPercentage (spec.md §3's initial
// condition), skipping occupied, defect, and special sites.
func (w *World) seedCarriers() error {
	if !w.Params.Carriers.SeedCharges {
		return nil
	}
	volume := w.Grid.Volume()
	targetElectrons := int(float64(volume) * w.Params.Carriers.ElectronPercentage * w.Params.Carriers.SeedPercentage)
	targetHoles := int(float64(volume) * w.Params.Carriers.HolePercentage * w.Params.Carriers.SeedPercentage)

	if err := w.seedSpecies(carrier.Electron, targetElectrons); err != nil {
		return err
	}
	if err := w.seedSpecies(carrier.Hole, targetHoles); err != nil {
		return err
	}
	return nil
}

func (w *World) seedSpecies(species carrier.Species, count int) error {
	volume := w.Grid.Volume()
	placed := 0
	maxAttempts := count * 1000
	if maxAttempts == 0 {
		return nil
	}
	for attempt := 0; placed < count && attempt < maxAttempts; attempt++ {
		s := w.RNG.Range(0, volume-1)
		if w.Grid.Tag(s) != lattice.TagEmpty {
			continue
		}
		if _, err := w.SpawnCarrier(species, s); err != nil {
			continue
		}
		placed++
	}
	return nil
}

// SpawnCarrier registers a new carrier entity at site on both the ECS
// registry and the grid, keeping the site index in sync. It is the single
// entry point sources, the exciton-source agent, and initial seeding all
// use to place a carrier (spec.md §4.4's injection acceptance paths).
func (w *World) SpawnCarrier(species carrier.Species, site int) (ecs.Entity, error) {
	entity, state := w.Carriers.Spawn(species, site)
	if err := w.Grid.Register(site, species.SiteTag(), state.ID); err != nil {
		w.Carriers.Remove(entity)
		return ecs.Entity{}, fmt.Errorf("world: spawning carrier: %w", err)
	}
	w.entityBySite[site] = entity
	return entity, nil
}

// EntityAt returns the carrier entity occupying site, if any.
func (w *World) EntityAt(site int) (ecs.Entity, bool) {
	e, ok := w.entityBySite[site]
	return e, ok
}

// CommitMove relocates a carrier on both the grid and the ECS registry,
// keeping World's site index in sync (spec.md §4.3's serial commit).
func (w *World) CommitMove(e ecs.Entity, from, to int) error {
	state := w.Carriers.Get(e)
	if err := w.Grid.Move(from, to, state.ID); err != nil {
		return fmt.Errorf("world: committing move: %w", err)
	}
	delete(w.entityBySite, from)
	w.entityBySite[to] = e
	w.Carriers.Commit(e, to)
	return nil
}

// RemoveCarrier vacates site and deletes the carrier entirely (drain
// absorption or recombination annihilation).
func (w *World) RemoveCarrier(e ecs.Entity, site int) error {
	state := w.Carriers.Get(e)
	if err := w.Grid.Unregister(site, state.ID); err != nil {
		return fmt.Errorf("world: removing carrier: %w", err)
	}
	delete(w.entityBySite, site)
	w.Carriers.Remove(e)
	return nil
}

// ChargeList builds the potential.Charge slice for every live carrier,
// used as the Coulomb sum's charge source (spec.md §3). It returns nil
// when Coulomb.Enabled (the coulomb.carriers key) is false, mirroring
// DefectCharges below and original_source/chargeagent.cpp:100's
// interactionCoulomb gate, which wraps the entire carrier-carrier
// contribution. Excluding should be a valid entity (or the zero value)
// to skip one carrier — the carrier whose own hop is being evaluated —
// from the sum.
func (w *World) ChargeList(excluding ecs.Entity) []potential.Charge {
	if !w.Params.Coulomb.Enabled {
		return nil
	}
	snap := w.Carriers.Snapshot()
	out := make([]potential.Charge, 0, len(snap))
	for _, s := range snap {
		if s.Entity == excluding {
			continue
		}
		out = append(out, potential.Charge{Site: s.State.Site, Charge: s.State.Species.Charge()})
	}
	return out
}

// DefectCharges returns the charged-defect site list when Coulomb.Enabled
// and Coulomb.ChargedDefects are both set, or nil otherwise —
// original_source/chargeagent.cpp's chargedDefects branch (line 194) only
// runs inside the outer interactionCoulomb gate (line 100), so a disabled
// coulomb.carriers flag also silences the defect contribution regardless
// of defects_charge.
func (w *World) DefectCharges() []int {
	if !w.Params.Coulomb.Enabled || !w.Params.Coulomb.ChargedDefects {
		return nil
	}
	return w.DefectSites()
}

// CoulombKappa returns the Coulomb scaling constant (spec.md §3) used to
// build Tables, exposed so internal/simulate can feed the same value into
// a GPU batch dispatch without re-deriving the physical constants.
func (w *World) CoulombKappa() float64 {
	return w.Params.Kappa(elementaryCharge, vacuumPermittivity)
}

// SpeciesOf returns the carrier species a source or drain agent injects or
// absorbs, so the tick driver knows what to spawn (sources) or which
// occupant tag to match (drains).
func (w *World) SpeciesOf(agentID int64) (carrier.Species, bool) {
	s, ok := w.agentSpecies[agentID]
	return s, ok
}

// FluxAgentAt returns the source/drain agent registered at site, if any.
func (w *World) FluxAgentAt(site int) (*flux.Agent, bool) {
	for _, a := range w.Sources {
		if a.Site() == site {
			return a, true
		}
	}
	for _, a := range w.Drains {
		if a.Site() == site {
			return a, true
		}
	}
	return nil, false
}

// FluxAgentByID returns the source/drain agent with the given id, if any.
func (w *World) FluxAgentByID(id int64) (*flux.Agent, bool) {
	a, ok := w.fluxSiteIndex[id]
	return a, ok
}
