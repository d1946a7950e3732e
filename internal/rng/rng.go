// Package rng provides the engine's deterministic random number source.
//
// The generator is a from-scratch MT19937 (Mersenne Twister) so that its
// entire state — not just a seed — can be persisted and restored bit for
// bit, matching the checkpoint file's [RandomState] section (a seed
// followed by a flat list of state words). math/rand's generator is not
// used here because its state layout is unexported and not guaranteed
// stable across Go releases, which would break checkpoint round-tripping.
package rng

import (
	"fmt"
	"math"
	"sync"
)

const (
	n          = 624
	m          = 397
	matrixA    = 0x9908b0df
	upperMask  = 0x80000000
	lowerMask  = 0x7fffffff
	stateWords = n + 1 // 624 state words plus the cursor, for [RandomState]
)

// Generator is a mutex-guarded MT19937 source. All draws funnel through a
// single Generator per World, serialized behind the mutex: spec.md §5/§9
// documents this as the chosen concurrency model (vs. per-task substreams)
// because the parallel tick phases spend far more time on arithmetic than
// on random draws, and the checkpoint round-trip property requires the
// draw order to be fixed and singular.
type Generator struct {
	mu    sync.Mutex
	seed  uint64
	state [n]uint32
	idx   int
}

// New creates a generator seeded deterministically from seed. Resolving a
// configured seed of 0 to a wall-clock-derived value is the caller's
// responsibility (kept out of this package so the core stays deterministic
// given any concrete seed).
func New(seed uint64) *Generator {
	g := &Generator{}
	g.Seed(int64(seed))
	return g
}

// Seed reseeds the generator, satisfying math/rand.Source.
func (g *Generator) Seed(seed int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seedLocked(uint64(seed))
}

func (g *Generator) seedLocked(seed uint64) {
	g.seed = seed
	g.state[0] = uint32(seed)
	for i := 1; i < n; i++ {
		g.state[i] = 1812433253*(g.state[i-1]^(g.state[i-1]>>30)) + uint32(i)
	}
	g.idx = n
}

// SeedValue returns the seed the generator was last (re)seeded with. It is
// informational only — the draw sequence is fully determined by the state
// words, not by replaying this value.
func (g *Generator) SeedValue() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seed
}

func (g *Generator) nextUint32Locked() uint32 {
	if g.idx >= n {
		var mag01 = [2]uint32{0x0, matrixA}
		var i int
		for i = 0; i < n-m; i++ {
			y := (g.state[i] & upperMask) | (g.state[i+1] & lowerMask)
			g.state[i] = g.state[i+m] ^ (y >> 1) ^ mag01[y&1]
		}
		for ; i < n-1; i++ {
			y := (g.state[i] & upperMask) | (g.state[i+1] & lowerMask)
			g.state[i] = g.state[i+(m-n)] ^ (y >> 1) ^ mag01[y&1]
		}
		y := (g.state[n-1] & upperMask) | (g.state[0] & lowerMask)
		g.state[n-1] = g.state[m-1] ^ (y >> 1) ^ mag01[y&1]
		g.idx = 0
	}

	y := g.state[g.idx]
	g.idx++

	y ^= y >> 11
	y ^= (y << 7) & 0x9d2c5680
	y ^= (y << 15) & 0xefc60000
	y ^= y >> 18
	return y
}

// Uint32 returns the next raw 32-bit draw.
func (g *Generator) Uint32() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nextUint32Locked()
}

// Int63 implements math/rand.Source so a Generator can back gonum's
// stat/distuv distributions directly.
func (g *Generator) Int63() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	hi := uint64(g.nextUint32Locked())
	lo := uint64(g.nextUint32Locked())
	return int64(((hi << 32) | lo) >> 1)
}

// Float64 draws a uniform value in [0, 1).
func (g *Generator) Float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	a := g.nextUint32Locked() >> 5  // 27 bits
	b := g.nextUint32Locked() >> 6  // 26 bits
	return (float64(a)*67108864.0 + float64(b)) / 9007199254740992.0
}

// IntN draws a uniform integer in [0, bound).
func (g *Generator) IntN(bound int) int {
	if bound <= 0 {
		panic("rng: IntN called with non-positive bound")
	}
	return int(g.Float64() * float64(bound))
}

// Range draws a uniform integer in [lo, hi] inclusive.
func (g *Generator) Range(lo, hi int) int {
	if hi < lo {
		panic("rng: Range called with hi < lo")
	}
	return lo + g.IntN(hi-lo+1)
}

// ChooseYesWithPercent reports true with probability p, false otherwise.
// p outside [0,1] behaves as clamped (0 never fires, 1 always fires).
func (g *Generator) ChooseYesWithPercent(p float64) bool {
	return g.Float64() < p
}

// Metropolis applies the plain Metropolis criterion: always accept a
// non-increasing energy change, accept an increase with probability
// exp(-deltaEpsilon*beta).
func (g *Generator) Metropolis(deltaEpsilon, beta float64) bool {
	if deltaEpsilon <= 0 {
		return true
	}
	return g.Float64() < math.Exp(-deltaEpsilon*beta)
}

// MetropolisCoupling applies the coupling-weighted Metropolis criterion
// used for carrier hops (spec.md §4.3): accept with probability
// coupling*min(1, exp(-deltaEpsilon*beta)).
func (g *Generator) MetropolisCoupling(deltaEpsilon, beta, coupling float64) bool {
	r := g.Float64()
	if deltaEpsilon > 0 {
		return coupling*math.Exp(-deltaEpsilon*beta) > r
	}
	return coupling > r
}

// State returns the full persistable state: the informational seed
// followed by the n state words and the cursor index, in that order —
// exactly the "seed word0 word1 ... word_{k-1}" shape of the checkpoint
// file's [RandomState] section.
func (g *Generator) State() []uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	words := make([]uint64, 0, stateWords+1)
	words = append(words, g.seed)
	for _, w := range g.state {
		words = append(words, uint64(w))
	}
	words = append(words, uint64(g.idx))
	return words
}

// LoadState restores a generator from the flat word list produced by
// State. It returns an error rather than panicking so checkpoint loading
// can report a diagnostic naming the problem (spec.md §7, I/O errors).
func LoadState(words []uint64) (*Generator, error) {
	if len(words) != stateWords+1 {
		return nil, fmt.Errorf("rng: random state has %d words, want %d", len(words), stateWords+1)
	}
	g := &Generator{}
	g.seed = words[0]
	for i := 0; i < n; i++ {
		g.state[i] = uint32(words[i+1])
	}
	g.idx = int(words[n+1])
	if g.idx < 0 || g.idx > n {
		return nil, fmt.Errorf("rng: random state cursor %d out of range [0,%d]", g.idx, n)
	}
	return g, nil
}
