// Package potential builds the static potential landscape (linear bias
// plus trap wells) and evaluates Coulomb interaction energies against the
// tables package's precomputed distance table. It is grounded in
// original_source/potential.cpp's setPotentialLinear/setPotentialTraps and
// coulombPotentialCarriers/coulombPotentialDefects, generalized per
// spec.md §3-4 to a 3D grid with an additional gate slope on Z.
package potential

import (
	"fmt"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/langmuirsim/langmuir/internal/lattice"
	"github.com/langmuirsim/langmuir/internal/tables"
)

// Seeder draws uniform integers and reseedable normal deviates. It is
// satisfied by *internal/rng.Generator; potential never imports rng
// directly so the landscape-building code stays testable with any source.
type Seeder interface {
	Range(lo, hi int) int
	Int63() int64
	Seed(seed int64)
}

// Charge pairs an occupied site with its signed charge, used by the
// Coulomb queries below. Callers (internal/world, internal/carrier) own
// the authoritative carrier list; potential stays a pure function of
// whatever list it is handed, avoiding a dependency on the carrier
// package.
type Charge struct {
	Site   int
	Charge float64
}

// Landscape builds and queries the static + Coulomb potential for one grid.
type Landscape struct {
	grid   *lattice.Grid
	tables *tables.Tables

	excitonBinding float64
	hopRange       lattice.HoppingRange
	trapSites      []int
	trapDeltas     []float64 // per-site total potential added by SeedTraps/RestoreTrap, parallel to trapSites
}

// New binds a Landscape to a grid and its precomputed interaction tables.
// hopRange is the neighbor shell BindingCorrection scans for a bound
// opposite-species carrier; it matches the same coulomb.hopping_range
// configuration value internal/world threads into carrier moves.
func New(grid *lattice.Grid, t *tables.Tables, excitonBinding float64, hopRange lattice.HoppingRange) *Landscape {
	return &Landscape{grid: grid, tables: t, excitonBinding: excitonBinding, hopRange: hopRange}
}

// SetLinear applies the electrode bias ramp along X plus an optional gate
// slope along Z (spec.md §3's generalization of the original's
// width-only ramp) to every site, additively.
func (l *Landscape) SetLinear(voltageLeft, voltageRight, slopeZ float64) {
	x, y, z := l.grid.Dimensions()
	m := (voltageRight - voltageLeft) / float64(x)
	for i := 0; i < x; i++ {
		v := m*(float64(i)+0.5) + voltageLeft
		for j := 0; j < y; j++ {
			for k := 0; k < z; k++ {
				site := l.grid.Index(i, j, k)
				l.grid.AddPotential(site, v+slopeZ*float64(k))
			}
		}
	}
}

// TrapSites returns the sites seeded/grown by SeedTraps, in growth order.
func (l *Landscape) TrapSites() []int {
	out := make([]int, len(l.trapSites))
	copy(out, l.trapSites)
	return out
}

// SeedTraps places a nucleus of traps uniformly at random, then grows
// clustered traps from that nucleus until the configured trap fraction is
// reached, finally perturbing each trap's depth with a Gaussian deviate
// when gaussianStdev is nonzero. It mirrors
// original_source/potential.cpp's setPotentialTraps algorithm: a "seed"
// phase (uniform placement, sized by trapPercentage*seedPercentage) and a
// "grow" phase (each new trap adopts a random neighbor of an existing
// trap), skipping defect and already-trapped sites.
func (l *Landscape) SeedTraps(rng Seeder, trapPercentage, seedPercentage, trapPotential, gaussianAvg, gaussianStdev float64, hopRange lattice.HoppingRange) {
	if trapPercentage <= 0 || seedPercentage <= 0 {
		return
	}
	volume := l.grid.Volume()
	taken := make(map[int]bool)

	seedTarget := int(float64(volume) * trapPercentage * seedPercentage)
	for len(l.trapSites) < seedTarget {
		s := rng.Range(0, volume-1)
		if taken[s] || l.grid.Tag(s) != lattice.TagEmpty {
			continue
		}
		l.grid.AddPotential(s, trapPotential)
		l.trapSites = append(l.trapSites, s)
		l.trapDeltas = append(l.trapDeltas, trapPotential)
		taken[s] = true
	}

	growTarget := int(float64(volume) * trapPercentage)
	for len(l.trapSites) < growTarget && len(l.trapSites) > 0 {
		seedIdx := rng.Range(0, len(l.trapSites)-1)
		seedSite := l.trapSites[seedIdx]
		neighbors := l.grid.Neighbors(seedSite, hopRange)
		if len(neighbors) == 0 {
			continue
		}
		candidate := neighbors[rng.Range(0, len(neighbors)-1)]
		if l.grid.IsSpecial(candidate) || l.grid.Tag(candidate) != lattice.TagEmpty || taken[candidate] {
			continue
		}
		l.grid.AddPotential(candidate, trapPotential)
		l.trapSites = append(l.trapSites, candidate)
		l.trapDeltas = append(l.trapDeltas, trapPotential)
		taken[candidate] = true
	}

	if gaussianStdev == 0 {
		return
	}
	dist := distuv.Normal{Mu: gaussianAvg, Sigma: gaussianStdev, Src: seederSource{rng}}
	for i, s := range l.trapSites {
		perturb := dist.Rand()
		l.grid.AddPotential(s, perturb)
		l.trapDeltas[i] += perturb
	}
}

// TrapPotentials returns the total potential delta applied at each trap
// site (base depth plus any Gaussian perturbation), parallel to TrapSites,
// so a checkpoint can persist and exactly replay what SeedTraps added
// without re-running the random seed/grow/perturb algorithm.
func (l *Landscape) TrapPotentials() []float64 {
	out := make([]float64, len(l.trapDeltas))
	copy(out, l.trapDeltas)
	return out
}

// RestoreTrap re-applies a previously-recorded trap potential delta at
// site, used by internal/checkpoint to rebuild the trap set from a
// checkpoint's [Traps]/[TrapPotentials] sections instead of re-deriving it
// from SeedTraps's random algorithm (spec.md §4.8: "restore trap
// potentials" from the stored site/value lists).
func (l *Landscape) RestoreTrap(site int, delta float64) {
	l.grid.AddPotential(site, delta)
	l.trapSites = append(l.trapSites, site)
	l.trapDeltas = append(l.trapDeltas, delta)
}

// seederSource adapts a Seeder to math/rand.Source so gonum's distuv can
// draw from it without potential depending on internal/rng directly.
type seederSource struct{ s Seeder }

func (s seederSource) Int63() int64    { return s.s.Int63() }
func (s seederSource) Seed(seed int64) { s.s.Seed(seed) }

// CoulombEnergy sums the screened-or-unscreened interaction energy between
// site and every entry in charges, scaled by each entry's charge, and
// truncated at the table's cutoff. It corresponds to
// original_source/potential.cpp's coulombPotentialCarriers generalized to
// 3D and to optional Gaussian screening.
func (l *Landscape) CoulombEnergy(site int, charges []Charge) float64 {
	var sum float64
	for _, c := range charges {
		dx, dy, dz := l.grid.DistanceI(site, c.Site)
		sum += l.tables.ScreenedEnergy(dx, dy, dz) * c.Charge
	}
	return sum
}

// CoulombEnergyDefects sums the interaction energy between site and every
// charged defect site, scaled by defectCharge (the sign/magnitude a
// charged defect contributes, spec.md §3's zDefect). Mirrors
// original_source/potential.cpp's coulombPotentialDefects.
func (l *Landscape) CoulombEnergyDefects(site int, defectSites []int, defectCharge float64) float64 {
	var sum float64
	for _, d := range defectSites {
		dx, dy, dz := l.grid.DistanceI(site, d)
		sum += l.tables.ScreenedEnergy(dx, dy, dz) * defectCharge
	}
	return sum
}

// SelfInteractionCorrection returns the fixed nearest-neighbor energy a
// hop's destination-site Coulomb sum must have subtracted to remove the
// hopping carrier's own contribution (see tables.Tables.SelfInteraction
// and original_source/chargeagent.cpp's coulombInteraction).
func (l *Landscape) SelfInteractionCorrection(carrierCharge float64) float64 {
	return l.tables.SelfInteraction() * carrierCharge
}

// ExcitonBindingEnergy returns the configured exciton binding correction
// (spec.md §3's extension for solar-cell exciton generation/recombination).
func (l *Landscape) ExcitonBindingEnergy() float64 { return l.excitonBinding }

// BindingCorrection returns the exciton binding energy term a carrier of
// the given signed charge picks up at site when an opposite-species
// carrier occupies a neighboring site within hopRange. The sign follows
// original_source/src/langmuirCore/chargeagent.cpp's
// ElectronAgent/HoleAgent bindingPotential: an electron's view of a
// bound pair subtracts excitonBinding, a hole's adds it. ExcitonSource
// places a generated pair on adjacent, not identical, sites (spec.md
// §4.4), so this checks the neighbor shell rather than site itself,
// unlike the original's same-site per-species-grid check.
func (l *Landscape) BindingCorrection(site int, hoppingCharge float64) float64 {
	if l.excitonBinding == 0 {
		return 0
	}
	want, sign := lattice.TagElectron, 1.0
	if hoppingCharge < 0 {
		want, sign = lattice.TagHole, -1.0
	}
	for _, n := range l.grid.Neighbors(site, l.hopRange) {
		if l.grid.Tag(n) == want {
			return sign * l.excitonBinding
		}
	}
	return 0
}

// DeltaEnergy computes the Metropolis energy difference for a candidate
// hop from site to candidate, given the Coulomb charge lists to evaluate
// before and after the hop (the candidate's own position, if it is itself
// the moving carrier, must be excluded from the charges slice by the
// caller). hoppingCharge is the sign of the carrier performing the hop
// (+1 hole, -1 electron).
func (l *Landscape) DeltaEnergy(site, candidate int, hoppingCharge float64, charges []Charge) (float64, error) {
	if site == candidate {
		return 0, fmt.Errorf("potential: DeltaEnergy called with identical site and candidate %d", site)
	}
	before := l.grid.Potential(site) + l.CoulombEnergy(site, charges) + l.BindingCorrection(site, hoppingCharge)
	after := l.grid.Potential(candidate) + l.CoulombEnergy(candidate, charges) - l.SelfInteractionCorrection(hoppingCharge) + l.BindingCorrection(candidate, hoppingCharge)
	return hoppingCharge * (after - before), nil
}
