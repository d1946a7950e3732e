// Package flux implements the boundary and interior "special" agents that
// exchange carriers with the outside world or with each other: sources,
// drains, recombination sites, and (for the solar-cell archetype) exciton
// sources. It is grounded in original_source/fluxagent.{h,cpp} (the shared
// attempts/successes/rate bookkeeping), sourceagent.cpp (injection with a
// bounded neighbor search), drainagent.cpp (unconditional acceptance), and
// chargeagent.cpp's drainType switch (constant vs. the "broken"/undefined
// case this package generalizes into DrainMetropolis, see SPEC_FULL.md's
// "Supplemented features").
package flux

import (
	"fmt"

	"github.com/langmuirsim/langmuir/internal/lattice"
	"github.com/langmuirsim/langmuir/internal/params"
)

// Kind distinguishes the four special-agent roles.
type Kind int

const (
	KindSource Kind = iota
	KindDrain
	KindRecombination
	KindExcitonSource
)

// RNG is the subset of internal/rng.Generator the flux agents need.
type RNG interface {
	ChooseYesWithPercent(p float64) bool
	Range(lo, hi int) int
	Metropolis(deltaEpsilon, beta float64) bool
	MetropolisCoupling(deltaEpsilon, beta, coupling float64) bool
}

// maxNeighborTries bounds the random-neighbor search sourceagent.cpp's
// transport() performs before giving up on an injection attempt.
const maxNeighborTries = 1000

// Agent is one source, drain, recombination, or exciton-source site. A
// single struct backs all four kinds (spec.md §9's tagged-sum guidance),
// dispatching on Kind rather than via a virtual hierarchy.
type Agent struct {
	id   int64
	kind Kind
	face lattice.Face
	site int

	rate      float64
	drainMode params.DrainMode

	maxInjections int // 0 means unbounded
	injected      int

	attempts  uint64
	successes uint64
}

// NewSource creates a carrier-injecting agent bound to face. maxInjections
// caps total successful injections (original_source/sourceagent.cpp's
// m_maxCharges); 0 means unbounded.
func NewSource(id int64, site int, face lattice.Face, rate float64, maxInjections int) *Agent {
	return &Agent{id: id, kind: KindSource, site: site, face: face, rate: rate, maxInjections: maxInjections}
}

// NewDrain creates a carrier-absorbing agent bound to face.
func NewDrain(id int64, site int, face lattice.Face, rate float64, mode params.DrainMode) *Agent {
	return &Agent{id: id, kind: KindDrain, site: site, face: face, rate: rate, drainMode: mode}
}

// NewRecombination creates an interior agent that annihilates electron/hole
// pairs sharing a site at the given rate.
func NewRecombination(id int64, rate float64) *Agent {
	return &Agent{id: id, kind: KindRecombination, rate: rate}
}

// NewExcitonSource creates a solar-cell exciton generation agent.
func NewExcitonSource(id int64, rate float64) *Agent {
	return &Agent{id: id, kind: KindExcitonSource, rate: rate}
}

func (a *Agent) ID() int64          { return a.id }
func (a *Agent) Kind() Kind         { return a.kind }
func (a *Agent) Face() lattice.Face { return a.face }
func (a *Agent) Site() int          { return a.site }
func (a *Agent) Attempts() uint64   { return a.attempts }
func (a *Agent) Successes() uint64  { return a.successes }

// SuccessRate returns successes/attempts as a percentage, or 0 if there
// have been no attempts (original_source/fluxagent.cpp's successRate()).
func (a *Agent) SuccessRate() float64 {
	if a.attempts == 0 {
		return 0
	}
	return float64(a.successes) / float64(a.attempts) * 100.0
}

// ResetCounters zeroes the attempts/successes bookkeeping. The tick driver
// does not call it; counters accumulate over the whole run.
func (a *Agent) ResetCounters() {
	a.attempts = 0
	a.successes = 0
}

// RestoreCounters overwrites the attempts/successes bookkeeping, used by
// internal/checkpoint to replay a loaded [FluxInfo] entry (spec.md §4.8).
func (a *Agent) RestoreCounters(attempts, successes uint64) {
	a.attempts = attempts
	a.successes = successes
}

// InjectedCount reports how many carriers this source has injected over
// its lifetime (capped by maxInjections).
func (a *Agent) InjectedCount() int { return a.injected }

// TryInject attempts one injection for a KindSource agent: it gates on the
// configured rate, then searches neighbors (in the order supplied,
// starting at a random offset) for an unoccupied site, giving up after
// maxNeighborTries candidates or 4*len(neighbors) candidates, whichever is
// fewer (sourceagent.cpp's bounded while-loop). occupied reports whether a given neighbor site currently
// holds a carrier. It returns the chosen site and true on success.
func (a *Agent) TryInject(rng RNG, neighbors []int, occupied func(site int) bool) (int, bool) {
	if a.kind != KindSource {
		panic("flux: TryInject called on non-source agent")
	}
	a.attempts++
	if a.maxInjections > 0 && a.injected >= a.maxInjections {
		return 0, false
	}
	if !rng.ChooseYesWithPercent(a.rate) {
		return 0, false
	}
	if len(neighbors) == 0 {
		return 0, false
	}
	start := rng.Range(0, len(neighbors)-1)
	for tries := 0; tries < maxNeighborTries && tries < len(neighbors)*4; tries++ {
		idx := (start + tries) % len(neighbors)
		site := neighbors[idx]
		if !occupied(site) {
			a.injected++
			a.successes++
			return site, true
		}
	}
	return 0, false
}

// TryAccept attempts to absorb a carrier arriving at this drain. deltaE is
// the Metropolis energy difference for the hop into the drain site,
// evaluated by the caller exactly as an ordinary hop would be (used only
// when DrainMode is metropolis); beta is the inverse thermal energy.
func (a *Agent) TryAccept(rng RNG, deltaE, beta float64) bool {
	if a.kind != KindDrain {
		panic("flux: TryAccept called on non-drain agent")
	}
	a.attempts++

	var accepted bool
	switch a.drainMode {
	case params.DrainMetropolis:
		accepted = rng.MetropolisCoupling(deltaE, beta, a.rate)
	default: // DrainConstant, "": unconditional modulo the configured rate
		accepted = rng.ChooseYesWithPercent(a.rate)
	}
	if accepted {
		a.successes++
	}
	return accepted
}

// TryRecombine gates one recombination event between an electron and hole
// sharing a site at this agent's rate.
func (a *Agent) TryRecombine(rng RNG) bool {
	if a.kind != KindRecombination {
		panic("flux: TryRecombine called on non-recombination agent")
	}
	a.attempts++
	ok := rng.ChooseYesWithPercent(a.rate)
	if ok {
		a.successes++
	}
	return ok
}

// TryGenerate attempts to create one exciton (a bound electron-hole pair)
// at siteA/siteB. Both occupancy predicates are evaluated before either
// site is mutated by the caller: spec.md §9 Open Question (a) notes the
// original engine's ordering left a window where siteA could be checked,
// found empty, and then mutated after siteB's check invalidated the
// attempt, corrupting one of the two sites. This method only reports
// whether generation should proceed; callers MUST check both occupied
// predicates and only then perform both placements.
func (a *Agent) TryGenerate(rng RNG, occupiedA, occupiedB bool) bool {
	if a.kind != KindExcitonSource {
		panic("flux: TryGenerate called on non-exciton-source agent")
	}
	a.attempts++
	if occupiedA || occupiedB {
		return false
	}
	ok := rng.ChooseYesWithPercent(a.rate)
	if ok {
		a.successes++
	}
	return ok
}

// Validate checks invariants a constructed Agent must hold (bounds on
// rate, a recognized drain mode).
func (a *Agent) Validate() error {
	if a.rate < 0 || a.rate > 1 {
		return fmt.Errorf("flux: agent %d rate %v out of [0,1]", a.id, a.rate)
	}
	if a.kind == KindDrain {
		switch a.drainMode {
		case params.DrainConstant, params.DrainMetropolis, "":
		default:
			return fmt.Errorf("flux: drain agent %d has unknown drain mode %q", a.id, a.drainMode)
		}
	}
	return nil
}
