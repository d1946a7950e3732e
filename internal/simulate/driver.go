// Package simulate orchestrates the per-tick pipeline: source injection,
// the parallel choose_future/decide_future carrier phases, the optional
// GPU Coulomb batch, recombination, and the serial commit that applies
// everything to the grid. It is grounded in pthm-soup's game.Game
// (game/game.go's numbered simulationStep phases, game/parallel.go's
// snapshot → chunked parallel compute → serial apply shape), generalized
// from pthm-soup's fixed 2D flocking domain to spec.md §2/§4.7/§5's
// lattice KMC transport pipeline.
package simulate

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/mlange-42/ark/ecs"

	"github.com/langmuirsim/langmuir/internal/carrier"
	"github.com/langmuirsim/langmuir/internal/flux"
	"github.com/langmuirsim/langmuir/internal/gpuoffload"
	"github.com/langmuirsim/langmuir/internal/lattice"
	"github.com/langmuirsim/langmuir/internal/params"
	"github.com/langmuirsim/langmuir/internal/world"
)

// Driver owns one World and advances it tick by tick.
type Driver struct {
	world   *world.World
	workers int
	log     *slog.Logger
	tick    int64
}

// Option configures a Driver at construction time.
type Option func(*Driver)

// WithWorkers overrides the worker-pool size used by the parallel
// choose_future/decide_future phases. 0 (the default) resolves to
// Params.CoreCount, falling back to runtime.GOMAXPROCS(0) when that is
// also 0 (spec.md §6's "core count" key).
func WithWorkers(n int) Option {
	return func(d *Driver) { d.workers = n }
}

// WithLogger attaches a structured logger (spec.md's ambient logging
// stack, matching pthm-soup's log/slog usage throughout game/game.go and
// telemetry/bookmark.go). A nil logger keeps the default, slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// New creates a Driver bound to w, with zero ticks elapsed.
func New(w *world.World, opts ...Option) *Driver {
	d := &Driver{world: w, log: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	if d.workers <= 0 {
		d.workers = w.Params.CoreCount
	}
	if d.workers <= 0 {
		d.workers = runtime.GOMAXPROCS(0)
	}
	return d
}

// TickCount returns the number of ticks run so far.
func (d *Driver) TickCount() int64 { return d.tick }

// SetTickCount overrides the tick counter, used by internal/checkpoint
// when resuming a run (spec.md §4.8: the counter is part of persisted
// state, not re-derived).
func (d *Driver) SetTickCount(n int64) { d.tick = n }

// Step runs n ticks of the pipeline described in spec.md §2/§4.7:
// source injection, parallel choose_future, optional GPU batch, parallel
// decide_future, recombination sweep, serial commit, tick increment.
func (d *Driver) Step(n int64) error {
	for i := int64(0); i < n; i++ {
		if err := d.tick1(); err != nil {
			return fmt.Errorf("simulate: tick %d: %w", d.tick, err)
		}
		d.tick++
	}
	return nil
}

// tick1 runs a single tick.
func (d *Driver) tick1() error {
	d.injectSources()

	snap := d.world.Carriers.Snapshot()
	if len(snap) == 0 {
		return nil
	}

	futures := make([]int, len(snap))
	d.chooseFutureParallel(snap, futures)

	coulomb, err := d.coulombBatch(snap, futures)
	if err != nil {
		return err
	}

	decisions := make([]decision, len(snap))
	d.decideFutureParallel(snap, futures, coulomb, decisions)

	annihilated := d.recombinationSweep()

	return d.commit(snap, decisions, annihilated)
}

// decision is one carrier's outcome from decide_future, applied serially
// by commit.
type decision struct {
	accepted bool
	drained  bool
	future   int
	deltaE   float64
}

// injectSources runs each source agent's injection attempt in
// registration order (spec.md §5's fixed deterministic RNG draw order),
// spawning a carrier on success.
func (d *Driver) injectSources() {
	w := d.world
	for _, a := range w.Sources {
		species, ok := w.SpeciesOf(a.ID())
		if !ok {
			continue
		}
		candidates := w.Grid.BoundarySites(a.Face())
		site, ok := a.TryInject(w.RNG, candidates, func(s int) bool {
			return w.Grid.Tag(s) != lattice.TagEmpty
		})
		if !ok {
			continue
		}
		if _, err := w.SpawnCarrier(species, site); err != nil {
			d.log.Warn("source injection spawn failed", "agent", a.ID(), "site", site, "error", err)
		}
	}

	if w.Params.Simulation.Type != params.SolarCell {
		return
	}
	for _, a := range w.ExcitonSources {
		d.tryGenerateExciton(a)
	}
}

// tryGenerateExciton implements the exciton-source acceptance path: a
// candidate bulk site and one of its neighbors are both checked empty
// before either carrier is registered (spec.md §9 Open Question (a), see
// flux.Agent.TryGenerate's doc).
func (d *Driver) tryGenerateExciton(a *flux.Agent) {
	w := d.world
	site := w.RNG.Range(0, w.Grid.Volume()-1)
	neighbors := w.Grid.Neighbors(site, lattice.HoppingRange(w.Params.Coulomb.HoppingRange))
	if len(neighbors) == 0 {
		a.TryGenerate(w.RNG, true, true) // counts the attempt; nothing to place
		return
	}
	neighbor := neighbors[w.RNG.Range(0, len(neighbors)-1)]

	occupiedA := w.Grid.Tag(site) != lattice.TagEmpty
	occupiedB := w.Grid.Tag(neighbor) != lattice.TagEmpty
	if !a.TryGenerate(w.RNG, occupiedA, occupiedB) {
		return
	}

	if _, err := w.SpawnCarrier(carrier.Electron, site); err != nil {
		d.log.Warn("exciton electron spawn failed", "site", site, "error", err)
		return
	}
	if _, err := w.SpawnCarrier(carrier.Hole, neighbor); err != nil {
		d.log.Warn("exciton hole spawn failed", "site", neighbor, "error", err)
	}
}

// chooseFutureParallel fans out the choose_future phase over the worker
// pool (spec.md §5: "choose_future ... mapped over the carrier list in
// parallel"), snapshot-then-chunk-then-apply in the shape of the
// pthm-soup's game/parallel.go.
func (d *Driver) chooseFutureParallel(snap []carrier.Snapshot, futures []int) {
	w := d.world
	isSource := func(site int) bool {
		agent, ok := w.FluxAgentAt(site)
		return ok && agent.Kind() == flux.KindSource
	}
	hopRange := lattice.HoppingRange(w.Params.Coulomb.HoppingRange)

	d.parallelEach(len(snap), func(i int) {
		s := snap[i].State
		neighbors := w.Grid.Neighbors(s.Site, hopRange)
		futures[i] = carrier.ChooseFuture(w.RNG, s.Site, neighbors, isSource)
	})
}

// coulombBatch computes the current- and future-site Coulomb sums for
// every carrier through the configured backend (spec.md §4.6's "Kernel
// 2"), in the fixed host staging order (electrons, holes, charged
// defects) the GPU and CPU backends must agree on. Both the carrier and
// defect charge sources are already gated on Coulomb.Enabled/ChargedDefects
// (world.ChargeList and world.DefectCharges), so coulomb.carriers=false
// drives every candidate site's sum to zero here exactly as
// original_source/chargeagent.cpp:100's interactionCoulomb gate does.
func (d *Driver) coulombBatch(snap []carrier.Snapshot, futures []int) ([2][]float64, error) {
	w := d.world
	var out [2][]float64

	carrierCharges := w.ChargeList(ecs.Entity{})
	defectSites := w.DefectCharges()
	charges := make([]gpuoffload.Charge, 0, len(carrierCharges)+len(defectSites))
	for _, electrons := range [2]bool{true, false} {
		for _, c := range carrierCharges {
			if (c.Charge < 0) != electrons {
				continue
			}
			x, y, z := w.Grid.Coords(c.Site)
			charges = append(charges, gpuoffload.Charge{X: x, Y: y, Z: z, Q: c.Charge})
		}
	}
	for _, site := range defectSites {
		x, y, z := w.Grid.Coords(site)
		charges = append(charges, gpuoffload.Charge{X: x, Y: y, Z: z, Q: 1})
	}

	sites := make([][3]int, 0, len(snap)*2)
	for _, s := range snap {
		x, y, z := w.Grid.Coords(s.State.Site)
		sites = append(sites, [3]int{x, y, z})
	}
	for _, f := range futures {
		x, y, z := w.Grid.Coords(f)
		sites = append(sites, [3]int{x, y, z})
	}

	batch := gpuoffload.Batch{Sites: sites, Charges: charges, Kappa: w.CoulombKappa(), Cutoff: w.Tables.Cutoff()}
	sums, err := w.GPU.Compute(batch)
	if err != nil {
		return out, fmt.Errorf("simulate: computing coulomb batch: %w", err)
	}
	if len(sums) != 2*len(snap) {
		return out, fmt.Errorf("simulate: coulomb batch returned %d values, want %d", len(sums), 2*len(snap))
	}
	out[0] = sums[:len(snap)]
	out[1] = sums[len(snap):]
	return out, nil
}

// decideFutureParallel fans out the decide_future phase (spec.md §4.3):
// dispatch on the chosen site's tag, evaluate Metropolis-with-coupling
// acceptance for an empty site or delegate to the drain's own acceptance
// rule, and record the outcome for the serial commit phase.
func (d *Driver) decideFutureParallel(snap []carrier.Snapshot, futures []int, coulomb [2][]float64, decisions []decision) {
	w := d.world
	beta := w.Tables.Beta()

	d.parallelEach(len(snap), func(i int) {
		s := snap[i].State
		future := futures[i]
		decisions[i] = decision{future: future}

		if future == s.Site {
			return
		}

		switch w.Grid.Tag(future) {
		case lattice.TagEmpty:
			deltaE := d.deltaEnergy(s, future, coulomb[0][i], coulomb[1][i])
			dx, dy, dz := w.Grid.DistanceI(s.Site, future)
			coupling := w.Tables.Coupling(dx, dy, dz)
			if carrier.DecideFuture(metropolisCoupling{w.RNG, coupling}, deltaE, beta) {
				decisions[i] = decision{accepted: true, future: future, deltaE: deltaE}
			}
		case lattice.TagSpecial:
			agent, ok := w.FluxAgentAt(future)
			if !ok || agent.Kind() != flux.KindDrain {
				return
			}
			if sp, ok := w.SpeciesOf(agent.ID()); ok && sp != s.Species {
				return
			}
			deltaE := d.deltaEnergy(s, future, coulomb[0][i], coulomb[1][i])
			if agent.TryAccept(w.RNG, deltaE, beta) {
				decisions[i] = decision{accepted: true, drained: true, future: future, deltaE: deltaE}
			}
		default:
			// Defect, electron, hole: reject (future stays current).
		}
	})
}

// deltaEnergy computes the Metropolis energy difference for a hop using
// the batch's precomputed Coulomb sums (either from the GPU path or the
// CPU reference backend — both flow through the same Batch/Backend
// contract) rather than re-summing over the carrier list, per spec.md
// §4.6's "the decide step consumes kernel-2 outputs instead of walking
// the CPU sum". The exciton binding term (spec.md §3's exciton_binding,
// zero unless the solar-cell archetype configures it) is added at both
// sites through Landscape.BindingCorrection.
func (d *Driver) deltaEnergy(s carrier.State, future int, coulombCurrent, coulombFuture float64) float64 {
	w := d.world
	q := s.Species.Charge()
	selfCorrection := w.Landscape.SelfInteractionCorrection(q)
	before := w.Grid.Potential(s.Site) + coulombCurrent + w.Landscape.BindingCorrection(s.Site, q)
	after := w.Grid.Potential(future) + coulombFuture - selfCorrection + w.Landscape.BindingCorrection(future, q)
	return q * (after - before)
}

// recombinationSweep pairs an electron and a hole transiently occupying
// the same site (permitted between decide and commit, spec.md §4.4) and
// annihilates both on acceptance. It returns the set of entities it
// removed so commit can skip any decision that referenced them.
func (d *Driver) recombinationSweep() map[ecs.Entity]bool {
	w := d.world
	if len(w.Recombinations) == 0 {
		return nil
	}
	agent := w.Recombinations[0]

	removed := make(map[ecs.Entity]bool)
	pairs := d.findCoincidentPairs()
	for _, p := range pairs {
		if !agent.TryRecombine(w.RNG) {
			continue
		}
		if err := w.RemoveCarrier(p.electron, p.electronSite); err != nil {
			d.log.Warn("recombination electron removal failed", "site", p.electronSite, "error", err)
			continue
		}
		removed[p.electron] = true
		if err := w.RemoveCarrier(p.hole, p.holeSite); err != nil {
			d.log.Warn("recombination hole removal failed", "site", p.holeSite, "error", err)
			continue
		}
		removed[p.hole] = true
	}
	return removed
}

type coincidentPair struct {
	electron     ecs.Entity
	electronSite int
	hole         ecs.Entity
	holeSite     int
}

// findCoincidentPairs looks for electron/hole pairs sharing a site. In
// this implementation that can only arise from an exciton-source
// placement (generation deliberately creates the pair on adjacent sites,
// not the same one) combined with a still-pending commit; the sweep
// exists primarily so the solar-cell archetype's steady-state carrier
// count is bounded even under heavy generation.
func (d *Driver) findCoincidentPairs() []coincidentPair {
	snap := d.world.Carriers.Snapshot()
	bySite := make(map[int]carrier.Snapshot, len(snap))
	var pairs []coincidentPair
	for _, s := range snap {
		if other, ok := bySite[s.State.Site]; ok && other.State.Species != s.State.Species {
			if s.State.Species == carrier.Electron {
				pairs = append(pairs, coincidentPair{electron: s.Entity, electronSite: s.State.Site, hole: other.Entity, holeSite: other.State.Site})
			} else {
				pairs = append(pairs, coincidentPair{electron: other.Entity, electronSite: other.State.Site, hole: s.Entity, holeSite: s.State.Site})
			}
			continue
		}
		bySite[s.State.Site] = s
	}
	return pairs
}

// commit applies every accepted decision serially (spec.md §4.3): a move
// to an empty site relocates the carrier; a drain acceptance removes it;
// a site that was occupied by another carrier between decide and commit
// aborts the move rather than overwriting it.
func (d *Driver) commit(snap []carrier.Snapshot, decisions []decision, annihilated map[ecs.Entity]bool) error {
	w := d.world
	for i, dec := range decisions {
		if !dec.accepted {
			continue
		}
		s := snap[i]
		if annihilated[s.Entity] {
			// Recombined away between decide_future and commit; nothing
			// left to move or drain.
			continue
		}
		if dec.drained {
			if err := w.RemoveCarrier(s.Entity, s.State.Site); err != nil {
				return fmt.Errorf("committing drain: %w", err)
			}
			continue
		}
		if w.Grid.Tag(dec.future) != lattice.TagEmpty {
			// Another carrier (or a concurrently-placed source/exciton
			// carrier) claimed the site first; abort this move.
			continue
		}
		if err := w.CommitMove(s.Entity, s.State.Site, dec.future); err != nil {
			return fmt.Errorf("committing move: %w", err)
		}
		w.Carriers.Get(s.Entity).DeltaEpsilon = dec.deltaE
	}
	return nil
}

// parallelEach runs fn(i) for i in [0,n) across the worker pool, in the
// snapshot-then-chunk shape of pthm-soup's
// game/parallel.go:updateBehaviorAndPhysicsParallel, joined by a
// sync.WaitGroup barrier before returning (spec.md §5's "all choose_future
// calls complete before any decide_future call begins").
func (d *Driver) parallelEach(n int, fn func(i int)) {
	if n == 0 {
		return
	}
	workers := d.workers
	if workers > n {
		workers = n
	}
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(i0, i1 int) {
			defer wg.Done()
			for i := i0; i < i1; i++ {
				fn(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// metropolisCoupling adapts a flux.RNG-shaped generator plus a fixed
// coupling constant to carrier.DecideRNG.
type metropolisCoupling struct {
	rng      interface {
		MetropolisCoupling(deltaEpsilon, beta, coupling float64) bool
	}
	coupling float64
}

func (m metropolisCoupling) Metropolis(deltaEpsilon, beta float64) bool {
	return m.rng.MetropolisCoupling(deltaEpsilon, beta, m.coupling)
}

