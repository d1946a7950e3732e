// Command langmuir runs a kinetic Monte Carlo transport simulation from a
// checkpoint file, per spec.md §6's CLI contract: one positional input
// path plus -cores/-gpu overrides, exit 0 on completion and nonzero with
// a logged diagnostic on configuration, I/O, or GPU-init failure. The
// flag-declaration and headless-tick-loop shape is grounded in
// pthm-soup's runHeadless (periodic progress reporting, maxTicks
// early exit), adapted from fmt.Println/logf to that repo's own
// log/slog usage elsewhere (game/lifecycle.go, telemetry/bookmark.go).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/langmuirsim/langmuir/internal/checkpoint"
	"github.com/langmuirsim/langmuir/internal/params"
	"github.com/langmuirsim/langmuir/internal/simulate"
	"github.com/langmuirsim/langmuir/internal/world"
)

// noOverride is the GPU index that means "no override": it is returned
// when no GPU file supplies an index.
const noOverride = -1

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("langmuir: fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("langmuir", flag.ContinueOnError)
	defaultCores := coresFromNodeFile(os.Getenv("PBS_NODEFILE"))
	defaultGPU := gpuFromGPUFile(os.Getenv("PBS_GPUFILE"))

	cores := fs.Int("cores", defaultCores, "worker core count (0 = host default); PBS_NODEFILE supplies the default when unset")
	gpu := fs.Int("gpu", defaultGPU, "GPU device index to enable (-1 disables the override); PBS_GPUFILE supplies the default when unset")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: langmuir [-cores N] [-gpu INDEX] <checkpoint-file>\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("langmuir: expected exactly one input file argument, got %d", fs.NArg())
	}
	path := fs.Arg(0)

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("langmuir: opening %s: %w", path, err)
	}
	defer in.Close()

	w, tick, err := checkpoint.LoadWithOverrides(in, func(p *params.Parameters) {
		if *cores > 0 {
			p.CoreCount = *cores
		}
		if *gpu >= 0 {
			p.GPU.UseOpenCL = true
		}
	})
	if err != nil {
		return fmt.Errorf("langmuir: loading %s: %w", path, err)
	}
	defer w.Close()

	log := slog.With("input", path)
	log.Info("loaded checkpoint", "tick", tick, "cores", w.Params.CoreCount, "gpu", w.Params.GPU.UseOpenCL)

	driver := simulate.New(w, simulate.WithWorkers(w.Params.CoreCount), simulate.WithLogger(log))
	driver.SetTickCount(tick)

	total := w.Params.Simulation.IterationsReal
	chunk := w.Params.Simulation.IterationsPrint
	start := time.Now()

	for driver.TickCount() < total {
		n := chunk
		if remaining := total - driver.TickCount(); remaining < n {
			n = remaining
		}
		if err := driver.Step(n); err != nil {
			return fmt.Errorf("langmuir: %w", err)
		}
		if err := writeCheckpoint(path, w, driver); err != nil {
			return fmt.Errorf("langmuir: checkpointing at tick %d: %w", driver.TickCount(), err)
		}
		log.Info("progress", "tick", driver.TickCount(), "of", total, "elapsed", time.Since(start).Round(time.Second))
	}

	log.Info("run complete", "ticks", driver.TickCount(), "elapsed", time.Since(start).Round(time.Second))
	return nil
}

// writeCheckpoint saves the current world state to a temp file beside
// path and renames it over path, so a crash or kill between the write
// and the rename never leaves path truncated (spec.md §5: "a pending
// checkpoint flushes between ticks", here between print-interval
// chunks rather than every tick).
func writeCheckpoint(path string, w *world.World, d *simulate.Driver) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if err := checkpoint.Save(tmp, w, d.TickCount()); err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// coresFromNodeFile returns the default worker core count implied by a
// PBS node file: one line per allocated slot (original_source's
// nodefileparser.cpp counts lines the same way). An unset or unreadable
// path resolves to 0, meaning "let Parameters.CoreCount decide".
func coresFromNodeFile(path string) int {
	if path == "" {
		return 0
	}
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n
}

// gpuFromGPUFile returns the default GPU index named by a PBS-style GPU
// assignment file (the sibling of PBS_NODEFILE that original_source's
// PBSGPUParser reads), or noOverride if the path is unset, unreadable,
// or its first token doesn't parse.
func gpuFromGPUFile(path string) int {
	if path == "" {
		return noOverride
	}
	f, err := os.Open(path)
	if err != nil {
		return noOverride
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		field := strings.TrimSpace(sc.Text())
		if field == "" {
			continue
		}
		v, err := strconv.Atoi(field)
		if err != nil {
			return noOverride
		}
		return v
	}
	return noOverride
}
