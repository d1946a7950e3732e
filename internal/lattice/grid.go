// Package lattice implements the engine's site-indexed cubic grid: index
// arithmetic, neighbor enumeration, occupancy, and per-site potential
// storage. It mirrors the shape of original_source/cubicgrid.cpp (getIndex/
// getColumn/getRow/getLayer, neighbors, per-axis distance helpers) but adds
// the reserved "special agent" site block and range-2 neighbor shell spec.md
// §4.1 requires that the C++ original only partially implements.
package lattice

import (
	"errors"
	"fmt"
)

// SiteTag identifies what occupies a site.
type SiteTag uint8

const (
	TagEmpty SiteTag = iota
	TagDefect
	TagElectron
	TagHole
	TagSpecial // source, drain, recombination, or exciton-source
)

// Face identifies one of the six bounding faces of the grid, used to
// register special (flux) agents.
type Face int

const (
	FaceNegX Face = iota
	FacePosX
	FaceNegY
	FacePosY
	FaceNegZ
	FacePosZ
	numFaces
)

// HoppingRange selects the neighbor shell returned by Neighbors.
type HoppingRange int

const (
	Range1 HoppingRange = 1
	Range2 HoppingRange = 2
)

var (
	// ErrSiteOccupied is returned by Register/RegisterDefect when the
	// target site already holds a different occupant.
	ErrSiteOccupied = errors.New("lattice: site already occupied")
	// ErrOccupantMismatch is returned by Unregister when the caller's id
	// does not match the site's recorded occupant.
	ErrOccupantMismatch = errors.New("lattice: occupant id does not match site")
	// ErrSiteOutOfRange is returned for any site index outside [0, total).
	ErrSiteOutOfRange = errors.New("lattice: site index out of range")
)

// Grid is the X*Y*Z cubic lattice plus its reserved special-agent block.
// It is not safe for concurrent mutation; spec.md §5 confines all mutation
// to the serial commit phase and to construction.
type Grid struct {
	x, y, z int
	volume  int // x*y*z, the bulk site count

	tags      []SiteTag
	potential []float64
	occupant  []int64 // valid for TagElectron/TagHole/TagSpecial sites

	faceSites [numFaces][]int // special-agent sites registered to each face
}

// New creates an empty grid of the given dimensions. No special agents are
// registered yet; callers grow the reserved block via RegisterSpecial.
func New(x, y, z int) (*Grid, error) {
	if x <= 0 || y <= 0 || z <= 0 {
		return nil, fmt.Errorf("lattice: grid dimensions must be positive, got (%d,%d,%d)", x, y, z)
	}
	volume := x * y * z
	return &Grid{
		x: x, y: y, z: z, volume: volume,
		tags:      make([]SiteTag, volume),
		potential: make([]float64, volume),
		occupant:  make([]int64, volume),
	}, nil
}

// Dimensions returns the bulk lattice extents.
func (g *Grid) Dimensions() (x, y, z int) { return g.x, g.y, g.z }

// Volume returns the bulk site count x*y*z (excludes reserved sites).
func (g *Grid) Volume() int { return g.volume }

// Total returns the bulk site count plus the reserved special-agent block.
func (g *Grid) Total() int { return len(g.tags) }

// Coords decomposes a bulk site index into (x, y, z). Behavior for sites in
// the reserved block is undefined; use IsSpecial to check first.
func (g *Grid) Coords(site int) (x, y, z int) {
	x = site % g.x
	y = (site / g.x) % g.y
	z = site / (g.x * g.y)
	return
}

// Index recomposes a bulk site index from coordinates.
func (g *Grid) Index(x, y, z int) int {
	return x + g.x*(y+g.y*z)
}

// IsSpecial reports whether site falls in the reserved block.
func (g *Grid) IsSpecial(site int) bool { return site >= g.volume }

// Tag returns the occupant tag at site.
func (g *Grid) Tag(site int) SiteTag { return g.tags[site] }

// Occupant returns the stable id of the current occupant of site, and
// whether the site holds one (electron, hole, or special agent).
func (g *Grid) Occupant(site int) (int64, bool) {
	tag := g.tags[site]
	if tag == TagElectron || tag == TagHole || tag == TagSpecial {
		return g.occupant[site], true
	}
	return 0, false
}

// Potential returns the scalar potential at site.
func (g *Grid) Potential(site int) float64 { return g.potential[site] }

// SetPotential overwrites the scalar potential at site.
func (g *Grid) SetPotential(site int, v float64) { g.potential[site] = v }

// AddPotential adds v to the existing potential at site.
func (g *Grid) AddPotential(site int, v float64) { g.potential[site] += v }

// Register places a charge carrier (tag must be TagElectron or TagHole)
// with the given stable id at site.
func (g *Grid) Register(site int, tag SiteTag, id int64) error {
	if tag != TagElectron && tag != TagHole {
		return fmt.Errorf("lattice: Register called with non-carrier tag %v", tag)
	}
	if g.tags[site] != TagEmpty {
		return ErrSiteOccupied
	}
	g.tags[site] = tag
	g.occupant[site] = id
	return nil
}

// Unregister vacates site, which must currently hold id.
func (g *Grid) Unregister(site int, id int64) error {
	if g.tags[site] != TagElectron && g.tags[site] != TagHole {
		return fmt.Errorf("lattice: Unregister called on non-carrier site %d (tag %v)", site, g.tags[site])
	}
	if g.occupant[site] != id {
		return ErrOccupantMismatch
	}
	g.tags[site] = TagEmpty
	g.occupant[site] = 0
	return nil
}

// Move relocates a carrier's occupancy from one site to another in one
// step, used by the commit phase (spec.md §4.3) so a carrier is never
// observed as "homeless" between the two mutations.
func (g *Grid) Move(from, to int, id int64) error {
	if g.occupant[from] != id {
		return ErrOccupantMismatch
	}
	if g.tags[to] != TagEmpty {
		return ErrSiteOccupied
	}
	tag := g.tags[from]
	g.tags[from] = TagEmpty
	g.occupant[from] = 0
	g.tags[to] = tag
	g.occupant[to] = id
	return nil
}

// RegisterDefect marks site as a permanent defect/trap. Defects have no
// backing agent object (spec.md §4.1).
func (g *Grid) RegisterDefect(site int) error {
	if g.tags[site] != TagEmpty {
		return ErrSiteOccupied
	}
	g.tags[site] = TagDefect
	return nil
}

// UnregisterDefect clears a defect tag, restoring the site to empty.
func (g *Grid) UnregisterDefect(site int) error {
	if g.tags[site] != TagDefect {
		return fmt.Errorf("lattice: UnregisterDefect called on non-defect site %d", site)
	}
	g.tags[site] = TagEmpty
	return nil
}

// RegisterSpecial allocates a new reserved-block site for a flux agent
// (source/drain/recombination/exciton-source) bound to face, and returns
// the new site index. The caller supplies id, an opaque stable identifier
// resolved back to the concrete agent by the owning package (avoiding the
// cyclic world<->agent back-reference spec.md §9 warns against).
func (g *Grid) RegisterSpecial(id int64, face Face) int {
	site := len(g.tags)
	g.tags = append(g.tags, TagSpecial)
	g.potential = append(g.potential, 0)
	g.occupant = append(g.occupant, id)
	g.faceSites[face] = append(g.faceSites[face], site)
	return site
}

// UnregisterSpecial removes site from its face's neighbor list. The
// reserved slot itself is never reclaimed (special agents live for the run
// duration, per spec.md §3 Lifecycle), matching the append-only reserve
// block described in spec.md §3.
func (g *Grid) UnregisterSpecial(site int, face Face) error {
	if !g.IsSpecial(site) || g.tags[site] != TagSpecial {
		return fmt.Errorf("lattice: UnregisterSpecial called on non-special site %d", site)
	}
	list := g.faceSites[face]
	for i, s := range list {
		if s == site {
			g.faceSites[face] = append(list[:i], list[i+1:]...)
			g.tags[site] = TagEmpty
			return nil
		}
	}
	return fmt.Errorf("lattice: site %d not registered to face %v", site, face)
}

// NeighborsFace returns every special-agent site bound to face, in
// registration order (spec.md §4.1).
func (g *Grid) NeighborsFace(face Face) []int {
	out := make([]int, len(g.faceSites[face]))
	copy(out, g.faceSites[face])
	return out
}

// Neighbors returns the ordered, deduplicated neighbor set of a bulk site.
// Range1 is the 6-connected von Neumann set (clipped at grid boundaries,
// with boundary columns/rows/layers additionally yielding the special
// agents registered to that face). Range2 adds the second shell.
//
// The Z==1 case is a distinct, intentionally preserved mode: spec.md §9
// records that the original engine's 2D range-2 enumeration omits some
// diagonal neighbors the general 3D algorithm would include, and that it
// is unclear whether this was deliberate. This implementation keeps the
// two paths textually separate (rather than unifying them, which would
// silently pick one interpretation) — see neighborsRange2_2D and
// neighborsRange2_3D.
func (g *Grid) Neighbors(site int, hopRange HoppingRange) []int {
	x, y, z := g.Coords(site)
	out := g.neighborsRange1(x, y, z)
	if hopRange == Range2 {
		if g.z == 1 {
			out = append(out, g.neighborsRange2_2D(x, y)...)
		} else {
			out = append(out, g.neighborsRange2_3D(x, y, z)...)
		}
	}
	return out
}

func (g *Grid) neighborsRange1(x, y, z int) []int {
	var out []int
	if x > 0 {
		out = append(out, g.Index(x-1, y, z))
	} else {
		out = append(out, g.faceSites[FaceNegX]...)
	}
	if x < g.x-1 {
		out = append(out, g.Index(x+1, y, z))
	} else {
		out = append(out, g.faceSites[FacePosX]...)
	}
	if y > 0 {
		out = append(out, g.Index(x, y-1, z))
	} else {
		out = append(out, g.faceSites[FaceNegY]...)
	}
	if y < g.y-1 {
		out = append(out, g.Index(x, y+1, z))
	} else {
		out = append(out, g.faceSites[FacePosY]...)
	}
	if g.z > 1 {
		if z > 0 {
			out = append(out, g.Index(x, y, z-1))
		} else {
			out = append(out, g.faceSites[FaceNegZ]...)
		}
		if z < g.z-1 {
			out = append(out, g.Index(x, y, z+1))
		} else {
			out = append(out, g.faceSites[FacePosZ]...)
		}
	}
	return out
}

// neighborsRange2_2D returns the second-shell additions for a Z==1 grid:
// only the in-plane axial distance-2 neighbors (±2 along x or y). The
// in-plane face-diagonals (±1,±1) that the general 3D shell below would
// contribute for a z-slice are deliberately NOT included here — see the
// Neighbors doc comment.
func (g *Grid) neighborsRange2_2D(x, y int) []int {
	var out []int
	offsets := [4][2]int{{2, 0}, {-2, 0}, {0, 2}, {0, -2}}
	for _, o := range offsets {
		nx, ny := x+o[0], y+o[1]
		if nx >= 0 && nx < g.x && ny >= 0 && ny < g.y {
			out = append(out, g.Index(nx, ny, 0))
		}
	}
	return out
}

// neighborsRange2_3D returns the second-shell additions for a general 3D
// grid: the 12 face-diagonals (two of dx,dy,dz are ±1, the third 0) and
// the 6 axial distance-2 neighbors.
func (g *Grid) neighborsRange2_3D(x, y, z int) []int {
	var out []int
	diag := [12][3]int{
		{1, 1, 0}, {1, -1, 0}, {-1, 1, 0}, {-1, -1, 0},
		{1, 0, 1}, {1, 0, -1}, {-1, 0, 1}, {-1, 0, -1},
		{0, 1, 1}, {0, 1, -1}, {0, -1, 1}, {0, -1, -1},
	}
	axial2 := [6][3]int{
		{2, 0, 0}, {-2, 0, 0}, {0, 2, 0}, {0, -2, 0}, {0, 0, 2}, {0, 0, -2},
	}
	add := func(offsets [][3]int) {
		for _, o := range offsets {
			nx, ny, nz := x+o[0], y+o[1], z+o[2]
			if nx >= 0 && nx < g.x && ny >= 0 && ny < g.y && nz >= 0 && nz < g.z {
				out = append(out, g.Index(nx, ny, nz))
			}
		}
	}
	add(diag[:])
	add(axial2[:])
	return out
}

// DistanceI returns the per-axis absolute integer displacement between two
// bulk sites (original_source/cubicgrid.cpp's xDistancei/yDistancei/
// zDistancei, combined into one call).
func (g *Grid) DistanceI(a, b int) (dx, dy, dz int) {
	ax, ay, az := g.Coords(a)
	bx, by, bz := g.Coords(b)
	dx = abs(ax - bx)
	dy = abs(ay - by)
	dz = abs(az - bz)
	return
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Row returns the bulk site indices of one row (fixed y, z), ordered by x.
// Kept from original_source/cubicgrid.cpp's row(), used by potential
// construction to evaluate the linear voltage drop one column at a time.
func (g *Grid) Row(y, z int) []int {
	out := make([]int, g.x)
	for i := 0; i < g.x; i++ {
		out[i] = g.Index(i, y, z)
	}
	return out
}

// Col returns the bulk site indices of one column (fixed x, z), ordered by y.
func (g *Grid) Col(x, z int) []int {
	out := make([]int, g.y)
	for i := 0; i < g.y; i++ {
		out[i] = g.Index(x, i, z)
	}
	return out
}

// BoundarySites returns every bulk site on the named face's plane, e.g.
// every x==0 site for FaceNegX. A source or drain bound to a face injects
// into or absorbs from this plane (spec.md §4.4: "pick a random
// face-neighbor site"), as distinct from NeighborsFace, which returns the
// special agents registered to the face rather than the bulk sites they
// act on.
func (g *Grid) BoundarySites(face Face) []int {
	var out []int
	switch face {
	case FaceNegX, FacePosX:
		x := 0
		if face == FacePosX {
			x = g.x - 1
		}
		for z := 0; z < g.z; z++ {
			for y := 0; y < g.y; y++ {
				out = append(out, g.Index(x, y, z))
			}
		}
	case FaceNegY, FacePosY:
		y := 0
		if face == FacePosY {
			y = g.y - 1
		}
		for z := 0; z < g.z; z++ {
			for x := 0; x < g.x; x++ {
				out = append(out, g.Index(x, y, z))
			}
		}
	case FaceNegZ, FacePosZ:
		z := 0
		if face == FacePosZ {
			z = g.z - 1
		}
		for y := 0; y < g.y; y++ {
			for x := 0; x < g.x; x++ {
				out = append(out, g.Index(x, y, z))
			}
		}
	}
	return out
}
