// Package checkpoint reads and writes the engine's full-state file format
// (spec.md §6): a section stream carrying the validated parameter set, the
// electron/hole/defect/trap site lists, the per-trap potential deltas, the
// flux agents' attempt/success counters, and the RNG's raw state. It is
// grounded in original_source/reader.cpp's key=value grammar (trim,
// strip-comment, lowercase-key, single '=' check) and
// original_source/checkpointer.h's section-based save/load shape, adapted
// from Qt's QDataStream/QTextStream plumbing to a plain text scanner over
// io.Reader/io.Writer.
package checkpoint

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/langmuirsim/langmuir/internal/carrier"
	"github.com/langmuirsim/langmuir/internal/flux"
	"github.com/langmuirsim/langmuir/internal/params"
	"github.com/langmuirsim/langmuir/internal/rng"
	"github.com/langmuirsim/langmuir/internal/world"
)

// ErrBadValue wraps a malformed value for a key or list entry.
var ErrBadValue = errors.New("checkpoint: invalid value")

// ErrUnknownKey wraps a [Parameters] key outside the enumerated set.
var ErrUnknownKey = errors.New("checkpoint: unknown parameter key")

// ErrTruncated wraps a section whose declared count does not match its
// body, or content that appears before the first section header.
var ErrTruncated = errors.New("checkpoint: truncated section")

// Load parses a checkpoint file and rebuilds a World from it: the
// parameters section; the RNG state (reseeding from the persisted state,
// not the configured seed); the grid with its defects, traps, and
// electron/hole population restored from their stored site lists; and the
// flux agents' attempt/success counters. It returns the World and the
// persisted tick count (spec.md §4.8).
func Load(r io.Reader) (*world.World, int64, error) {
	return LoadWithOverrides(r, nil)
}

// LoadWithOverrides is Load plus a hook applied to the parsed Parameters
// before the World is built from them. It exists for cmd/langmuir's
// `-cores`/`-gpu` flags (spec.md §6): CLI arguments that must win over
// whatever the input file itself says, applied at the one point between
// parsing and construction where that is still possible, without
// internal/checkpoint having to know anything about flags itself.
func LoadWithOverrides(r io.Reader, override func(*params.Parameters)) (*world.World, int64, error) {
	secs, err := readSections(r)
	if err != nil {
		return nil, 0, err
	}

	p, tick, err := parseParameters(secs["parameters"])
	if err != nil {
		return nil, 0, fmt.Errorf("checkpoint: [Parameters]: %w", err)
	}
	if override != nil {
		override(p)
		if err := p.Validate(); err != nil {
			return nil, 0, fmt.Errorf("checkpoint: parameters invalid after overrides: %w", err)
		}
	}

	// A file with no [RandomState] section at all is a fresh-start input
	// rather than a resumed checkpoint (every checkpoint Save produces one).
	// random.seed = 0 in that case means "pick one" (spec.md §6); a
	// resumed file's persisted state always overrides random.seed anyway,
	// so this resolution only ever affects the fresh-start path.
	randomStateLines := secs["randomstate"]
	if len(randomStateLines) == 0 && p.Simulation.RandomSeed == 0 {
		p.Simulation.RandomSeed = uint64(time.Now().UnixNano())
	}

	w, err := world.Restore(p)
	if err != nil {
		return nil, 0, fmt.Errorf("checkpoint: rebuilding world: %w", err)
	}

	defectSites, err := parseSiteList(secs["defects"])
	if err != nil {
		return nil, 0, fmt.Errorf("checkpoint: [Defects]: %w", err)
	}
	for _, s := range defectSites {
		if err := w.RestoreDefect(s); err != nil {
			return nil, 0, fmt.Errorf("checkpoint: [Defects]: %w", err)
		}
	}

	trapSites, err := parseSiteList(secs["traps"])
	if err != nil {
		return nil, 0, fmt.Errorf("checkpoint: [Traps]: %w", err)
	}
	trapPotentials, err := parseFloatList(secs["trappotentials"])
	if err != nil {
		return nil, 0, fmt.Errorf("checkpoint: [TrapPotentials]: %w", err)
	}
	if len(trapSites) != len(trapPotentials) {
		return nil, 0, fmt.Errorf("%w: [Traps] has %d sites but [TrapPotentials] has %d values", ErrTruncated, len(trapSites), len(trapPotentials))
	}
	for i, s := range trapSites {
		w.Landscape.RestoreTrap(s, trapPotentials[i])
	}

	electronSites, err := parseSiteList(secs["electrons"])
	if err != nil {
		return nil, 0, fmt.Errorf("checkpoint: [Electrons]: %w", err)
	}
	for _, s := range electronSites {
		if _, err := w.SpawnCarrier(carrier.Electron, s); err != nil {
			return nil, 0, fmt.Errorf("checkpoint: [Electrons]: %w", err)
		}
	}

	holeSites, err := parseSiteList(secs["holes"])
	if err != nil {
		return nil, 0, fmt.Errorf("checkpoint: [Holes]: %w", err)
	}
	for _, s := range holeSites {
		if _, err := w.SpawnCarrier(carrier.Hole, s); err != nil {
			return nil, 0, fmt.Errorf("checkpoint: [Holes]: %w", err)
		}
	}

	attempts, successes, err := parseFluxInfo(secs["fluxinfo"])
	if err != nil {
		return nil, 0, fmt.Errorf("checkpoint: [FluxInfo]: %w", err)
	}
	agents := w.FluxAgents()
	if len(attempts) != 0 && len(attempts) != len(agents) {
		return nil, 0, fmt.Errorf("%w: [FluxInfo] declared %d agents, world has %d", ErrTruncated, len(attempts), len(agents))
	}
	for i, a := range agents {
		if i < len(attempts) {
			a.RestoreCounters(attempts[i], successes[i])
		}
	}

	if len(randomStateLines) > 0 {
		gen, err := parseRandomState(randomStateLines)
		if err != nil {
			return nil, 0, fmt.Errorf("checkpoint: [RandomState]: %w", err)
		}
		w.RNG = gen
	}

	return w, tick, nil
}

// Save writes wd's full state as a checkpoint file in the same section
// order Load expects (spec.md §4.8: "write the inverse in the same
// section order").
func Save(w io.Writer, wd *world.World, tick int64) error {
	bw := bufio.NewWriter(w)

	if err := writeParameters(bw, wd.Params, tick); err != nil {
		return err
	}
	if err := writeSiteList(bw, "Electrons", sitesBySpecies(wd, carrier.Electron)); err != nil {
		return err
	}
	if err := writeSiteList(bw, "Holes", sitesBySpecies(wd, carrier.Hole)); err != nil {
		return err
	}
	if err := writeSiteList(bw, "Defects", wd.DefectSites()); err != nil {
		return err
	}
	if err := writeSiteList(bw, "Traps", wd.Landscape.TrapSites()); err != nil {
		return err
	}
	if err := writeFloatList(bw, "TrapPotentials", wd.Landscape.TrapPotentials()); err != nil {
		return err
	}
	if err := writeFluxInfo(bw, wd.FluxAgents()); err != nil {
		return err
	}
	if err := writeRandomState(bw, wd.RNG.State()); err != nil {
		return err
	}

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("checkpoint: flushing: %w", err)
	}
	return nil
}

// sitesBySpecies returns the sites of every live carrier of species, in
// ascending carrier-ID order — a stable ordering independent of the ECS
// archetype's internal iteration order, matching spec.md §5's "carriers in
// their stable index order" guarantee.
func sitesBySpecies(wd *world.World, species carrier.Species) []int {
	snap := wd.Carriers.Snapshot()
	type idSite struct {
		id   int64
		site int
	}
	list := make([]idSite, 0, len(snap))
	for _, s := range snap {
		if s.State.Species == species {
			list = append(list, idSite{s.State.ID, s.State.Site})
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	out := make([]int, len(list))
	for i, e := range list {
		out[i] = e.site
	}
	return out
}

// readSections splits r into named, comment-stripped line groups keyed by
// lowercased section name (without the brackets), mirroring
// original_source/reader.cpp's line-by-line parse loop.
func readSections(r io.Reader) (map[string][]string, error) {
	out := make(map[string][]string)
	var current string
	haveSection := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			current = strings.ToLower(strings.TrimSpace(line[1 : len(line)-1]))
			if _, ok := out[current]; !ok {
				out[current] = nil
			}
			haveSection = true
			continue
		}
		if !haveSection {
			return nil, fmt.Errorf("%w: content before the first section header: %q", ErrTruncated, line)
		}
		out[current] = append(out[current], line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("checkpoint: reading: %w", err)
	}
	return out, nil
}

// parseParameters parses [Parameters]'s key=value lines onto a fresh
// params.Parameters (starting from the embedded defaults, exactly like
// original_source/reader.cpp layering a loaded file over its built-in
// defaults), pulling out simulation.current_step as the separately
// returned tick count rather than a Parameters field.
func parseParameters(lines []string) (*params.Parameters, int64, error) {
	p, err := params.Defaults()
	if err != nil {
		return nil, 0, err
	}
	fields := paramFields()
	var tick int64

	for _, line := range lines {
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			return nil, 0, fmt.Errorf("checkpoint: line missing '=': %q", line)
		}
		key := strings.ToLower(strings.TrimSpace(line[:eq]))
		value := strings.Trim(strings.TrimSpace(line[eq+1:]), `"`)
		if key == "" {
			return nil, 0, fmt.Errorf("checkpoint: line has an empty key: %q", line)
		}
		if value == "" {
			continue
		}

		if key == "simulation.current_step" {
			v, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, 0, fmt.Errorf("%w: simulation.current_step: %q", ErrBadValue, value)
			}
			tick = v
			continue
		}
		if strings.HasPrefix(key, "output.") || strings.HasPrefix(key, "image.") {
			// Recognized by spec.md §6 but outside core scope (SPEC_FULL.md's
			// ambient-vs-external split); accepted and discarded.
			continue
		}

		f, ok := fields[key]
		if !ok {
			return nil, 0, fmt.Errorf("%w: %q", ErrUnknownKey, key)
		}
		if err := f.set(p, value); err != nil {
			return nil, 0, fmt.Errorf("checkpoint: key %q: %w", key, err)
		}
	}

	if err := p.Validate(); err != nil {
		return nil, 0, err
	}
	return p, tick, nil
}

// parseSiteList parses the "N\ns1\n...\nsN" shape shared by
// [Electrons]/[Holes]/[Defects]/[Traps]. A missing section parses as an
// empty list rather than an error.
func parseSiteList(lines []string) ([]int, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	n, err := strconv.Atoi(lines[0])
	if err != nil {
		return nil, fmt.Errorf("%w: site count: %q", ErrBadValue, lines[0])
	}
	if len(lines)-1 != n {
		return nil, fmt.Errorf("%w: declared %d sites, found %d", ErrTruncated, n, len(lines)-1)
	}
	out := make([]int, n)
	for i, line := range lines[1:] {
		v, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("%w: site index: %q", ErrBadValue, line)
		}
		out[i] = v
	}
	return out, nil
}

// parseFloatList parses [TrapPotentials]'s "N\nv1\n...\nvN" shape.
func parseFloatList(lines []string) ([]float64, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	n, err := strconv.Atoi(lines[0])
	if err != nil {
		return nil, fmt.Errorf("%w: value count: %q", ErrBadValue, lines[0])
	}
	if len(lines)-1 != n {
		return nil, fmt.Errorf("%w: declared %d values, found %d", ErrTruncated, n, len(lines)-1)
	}
	out := make([]float64, n)
	for i, line := range lines[1:] {
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: value: %q", ErrBadValue, line)
		}
		out[i] = v
	}
	return out, nil
}

// parseFluxInfo parses [FluxInfo]'s "M\na1 s1 a2 s2 ... aM sM" shape.
func parseFluxInfo(lines []string) ([]uint64, []uint64, error) {
	if len(lines) == 0 {
		return nil, nil, nil
	}
	m, err := strconv.Atoi(lines[0])
	if err != nil {
		return nil, nil, fmt.Errorf("%w: agent count: %q", ErrBadValue, lines[0])
	}
	if m == 0 {
		return nil, nil, nil
	}
	if len(lines) < 2 {
		return nil, nil, fmt.Errorf("%w: missing counter line", ErrTruncated)
	}
	fields := strings.Fields(lines[1])
	if len(fields) != 2*m {
		return nil, nil, fmt.Errorf("%w: declared %d agents, found %d counter values", ErrTruncated, m, len(fields))
	}
	attempts := make([]uint64, m)
	successes := make([]uint64, m)
	for i := 0; i < m; i++ {
		a, err := strconv.ParseUint(fields[2*i], 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: attempts: %q", ErrBadValue, fields[2*i])
		}
		s, err := strconv.ParseUint(fields[2*i+1], 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: successes: %q", ErrBadValue, fields[2*i+1])
		}
		attempts[i], successes[i] = a, s
	}
	return attempts, successes, nil
}

// parseRandomState parses [RandomState]'s single "seed word0 ... word_k"
// line into an internal/rng.Generator via rng.LoadState.
func parseRandomState(lines []string) (*rng.Generator, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: missing [RandomState] section", ErrTruncated)
	}
	fields := strings.Fields(lines[0])
	words := make([]uint64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: random state word: %q", ErrBadValue, f)
		}
		words[i] = v
	}
	return rng.LoadState(words)
}

func writeParameters(w *bufio.Writer, p *params.Parameters, tick int64) error {
	if _, err := fmt.Fprintln(w, "[Parameters]"); err != nil {
		return fmt.Errorf("checkpoint: writing [Parameters]: %w", err)
	}
	fields := paramFields()
	for _, key := range paramKeyOrder {
		if _, err := fmt.Fprintf(w, "%s = %s\n", key, fields[key].get(p)); err != nil {
			return fmt.Errorf("checkpoint: writing key %q: %w", key, err)
		}
	}
	if _, err := fmt.Fprintf(w, "simulation.current_step = %d\n\n", tick); err != nil {
		return fmt.Errorf("checkpoint: writing simulation.current_step: %w", err)
	}
	return nil
}

func writeSiteList(w *bufio.Writer, name string, sites []int) error {
	if _, err := fmt.Fprintf(w, "[%s]\n%d\n", name, len(sites)); err != nil {
		return fmt.Errorf("checkpoint: writing [%s]: %w", name, err)
	}
	for _, s := range sites {
		if _, err := fmt.Fprintln(w, s); err != nil {
			return fmt.Errorf("checkpoint: writing [%s]: %w", name, err)
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return fmt.Errorf("checkpoint: writing [%s]: %w", name, err)
	}
	return nil
}

func writeFloatList(w *bufio.Writer, name string, values []float64) error {
	if _, err := fmt.Fprintf(w, "[%s]\n%d\n", name, len(values)); err != nil {
		return fmt.Errorf("checkpoint: writing [%s]: %w", name, err)
	}
	for _, v := range values {
		if _, err := fmt.Fprintln(w, strconv.FormatFloat(v, 'g', -1, 64)); err != nil {
			return fmt.Errorf("checkpoint: writing [%s]: %w", name, err)
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return fmt.Errorf("checkpoint: writing [%s]: %w", name, err)
	}
	return nil
}

func writeFluxInfo(w *bufio.Writer, agents []*flux.Agent) error {
	if _, err := fmt.Fprintf(w, "[FluxInfo]\n%d\n", len(agents)); err != nil {
		return fmt.Errorf("checkpoint: writing [FluxInfo]: %w", err)
	}
	parts := make([]string, 0, 2*len(agents))
	for _, a := range agents {
		parts = append(parts, strconv.FormatUint(a.Attempts(), 10), strconv.FormatUint(a.Successes(), 10))
	}
	if _, err := fmt.Fprintln(w, strings.Join(parts, " ")); err != nil {
		return fmt.Errorf("checkpoint: writing [FluxInfo]: %w", err)
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return fmt.Errorf("checkpoint: writing [FluxInfo]: %w", err)
	}
	return nil
}

func writeRandomState(w *bufio.Writer, words []uint64) error {
	if _, err := fmt.Fprintln(w, "[RandomState]"); err != nil {
		return fmt.Errorf("checkpoint: writing [RandomState]: %w", err)
	}
	parts := make([]string, len(words))
	for i, word := range words {
		parts[i] = strconv.FormatUint(word, 10)
	}
	if _, err := fmt.Fprintln(w, strings.Join(parts, " ")); err != nil {
		return fmt.Errorf("checkpoint: writing [RandomState]: %w", err)
	}
	return nil
}
