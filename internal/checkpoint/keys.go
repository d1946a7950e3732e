package checkpoint

import (
	"fmt"
	"strconv"

	"github.com/langmuirsim/langmuir/internal/params"
)

// field reads and writes one [Parameters] key against a *params.Parameters,
// formatting/parsing values the way original_source/reader.cpp's Variable
// subclasses do (bool as true/false, float as shortest round-trip decimal).
type field struct {
	get func(p *params.Parameters) string
	set func(p *params.Parameters, raw string) error
}

func floatField(ptr func(p *params.Parameters) *float64) field {
	return field{
		get: func(p *params.Parameters) string { return strconv.FormatFloat(*ptr(p), 'g', -1, 64) },
		set: func(p *params.Parameters, raw string) error {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("%w: not a number: %q", ErrBadValue, raw)
			}
			*ptr(p) = v
			return nil
		},
	}
}

func intField(ptr func(p *params.Parameters) *int) field {
	return field{
		get: func(p *params.Parameters) string { return strconv.Itoa(*ptr(p)) },
		set: func(p *params.Parameters, raw string) error {
			v, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%w: not an integer: %q", ErrBadValue, raw)
			}
			*ptr(p) = v
			return nil
		},
	}
}

func int64Field(ptr func(p *params.Parameters) *int64) field {
	return field{
		get: func(p *params.Parameters) string { return strconv.FormatInt(*ptr(p), 10) },
		set: func(p *params.Parameters, raw string) error {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: not an integer: %q", ErrBadValue, raw)
			}
			*ptr(p) = v
			return nil
		},
	}
}

func uint64Field(ptr func(p *params.Parameters) *uint64) field {
	return field{
		get: func(p *params.Parameters) string { return strconv.FormatUint(*ptr(p), 10) },
		set: func(p *params.Parameters, raw string) error {
			v, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: not an unsigned integer: %q", ErrBadValue, raw)
			}
			*ptr(p) = v
			return nil
		},
	}
}

func boolField(ptr func(p *params.Parameters) *bool) field {
	return field{
		get: func(p *params.Parameters) string { return strconv.FormatBool(*ptr(p)) },
		set: func(p *params.Parameters, raw string) error {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("%w: not a boolean: %q", ErrBadValue, raw)
			}
			*ptr(p) = v
			return nil
		},
	}
}

func simTypeField(ptr func(p *params.Parameters) *params.SimulationType) field {
	return field{
		get: func(p *params.Parameters) string { return string(*ptr(p)) },
		set: func(p *params.Parameters, raw string) error {
			switch params.SimulationType(raw) {
			case params.Transistor, params.SolarCell:
				*ptr(p) = params.SimulationType(raw)
				return nil
			default:
				return fmt.Errorf("%w: unknown simulation.type %q", ErrBadValue, raw)
			}
		},
	}
}

func drainModeField(ptr func(p *params.Parameters) *params.DrainMode) field {
	return field{
		get: func(p *params.Parameters) string { return string(*ptr(p)) },
		set: func(p *params.Parameters, raw string) error {
			switch params.DrainMode(raw) {
			case params.DrainConstant, params.DrainMetropolis, "":
				*ptr(p) = params.DrainMode(raw)
				return nil
			default:
				return fmt.Errorf("%w: unknown drain.mode %q", ErrBadValue, raw)
			}
		},
	}
}

func hoppingRangeField(ptr func(p *params.Parameters) *params.HoppingRange) field {
	return field{
		get: func(p *params.Parameters) string { return strconv.Itoa(int(*ptr(p))) },
		set: func(p *params.Parameters, raw string) error {
			v, err := strconv.Atoi(raw)
			if err != nil || (params.HoppingRange(v) != params.HopRange1 && params.HoppingRange(v) != params.HopRange2) {
				return fmt.Errorf("%w: hopping.range must be 1 or 2, got %q", ErrBadValue, raw)
			}
			*ptr(p) = params.HoppingRange(v)
			return nil
		},
	}
}

// paramKeyOrder is the fixed, enumerated [Parameters] key set (spec.md §6),
// extended with the drain-mode/Coulomb-scaling/temperature/core-count keys
// this port adds (see SPEC_FULL.md's "Supplemented features").
// "simulation.current_step", which original_source/reader.cpp also carries
// as a Parameters key, is not in this list: it is tick/driver state, not a
// params.Parameters field, so internal/checkpoint parses and serializes it
// outside the field table (see parseParameters/writeParameters).
var paramKeyOrder = []string{
	"grid.x", "grid.y", "grid.z",
	"simulation.type", "iterations.real", "iterations.print", "random.seed",
	"electron.percentage", "hole.percentage", "defect.percentage", "trap.percentage",
	"seed.percentage", "seed.charges",
	"voltage.left", "voltage.right", "slope.z", "trap.potential",
	"gaussian.stdev", "gaussian.average",
	"source.rate", "drain.rate", "recombination.rate", "generation.rate",
	"e.source.l.rate", "e.source.r.rate", "h.source.l.rate", "h.source.r.rate",
	"e.drain.l.rate", "e.drain.r.rate", "h.drain.l.rate", "h.drain.r.rate",
	"drain.mode",
	"coulomb.carriers", "defects.charge", "electrostatic.cutoff",
	"coulomb.gaussian.sigma", "exciton.binding", "hopping.range",
	"relative.permittivity", "lattice.spacing",
	"temperature.kelvin",
	"use.opencl", "work.x", "work.y", "work.z", "work.size",
	"core.count",
}

// paramFields maps every key in paramKeyOrder to a field accessor pair.
// Built fresh per call so each field closes over the *params.Parameters
// passed to Load/Save rather than a shared package-level instance.
func paramFields() map[string]field {
	return map[string]field{
		"grid.x": intField(func(p *params.Parameters) *int { return &p.Grid.X }),
		"grid.y": intField(func(p *params.Parameters) *int { return &p.Grid.Y }),
		"grid.z": intField(func(p *params.Parameters) *int { return &p.Grid.Z }),

		"simulation.type":    simTypeField(func(p *params.Parameters) *params.SimulationType { return &p.Simulation.Type }),
		"iterations.real":    int64Field(func(p *params.Parameters) *int64 { return &p.Simulation.IterationsReal }),
		"iterations.print":   int64Field(func(p *params.Parameters) *int64 { return &p.Simulation.IterationsPrint }),
		"random.seed":        uint64Field(func(p *params.Parameters) *uint64 { return &p.Simulation.RandomSeed }),

		"electron.percentage": floatField(func(p *params.Parameters) *float64 { return &p.Carriers.ElectronPercentage }),
		"hole.percentage":     floatField(func(p *params.Parameters) *float64 { return &p.Carriers.HolePercentage }),
		"defect.percentage":   floatField(func(p *params.Parameters) *float64 { return &p.Carriers.DefectPercentage }),
		"trap.percentage":     floatField(func(p *params.Parameters) *float64 { return &p.Carriers.TrapPercentage }),
		"seed.percentage":     floatField(func(p *params.Parameters) *float64 { return &p.Carriers.SeedPercentage }),
		"seed.charges":        boolField(func(p *params.Parameters) *bool { return &p.Carriers.SeedCharges }),

		"voltage.left":   floatField(func(p *params.Parameters) *float64 { return &p.Potentials.VoltageLeft }),
		"voltage.right":  floatField(func(p *params.Parameters) *float64 { return &p.Potentials.VoltageRight }),
		"slope.z":        floatField(func(p *params.Parameters) *float64 { return &p.Potentials.SlopeZ }),
		"trap.potential": floatField(func(p *params.Parameters) *float64 { return &p.Potentials.TrapPotential }),
		"gaussian.stdev": floatField(func(p *params.Parameters) *float64 { return &p.Potentials.GaussianStdev }),
		"gaussian.average": floatField(func(p *params.Parameters) *float64 { return &p.Potentials.GaussianAvg }),

		"source.rate":        floatField(func(p *params.Parameters) *float64 { return &p.Rates.SourceRate }),
		"drain.rate":         floatField(func(p *params.Parameters) *float64 { return &p.Rates.DrainRate }),
		"recombination.rate": floatField(func(p *params.Parameters) *float64 { return &p.Rates.RecombinationRate }),
		"generation.rate":    floatField(func(p *params.Parameters) *float64 { return &p.Rates.GenerationRate }),

		"e.source.l.rate": floatField(func(p *params.Parameters) *float64 { return &p.Rates.ESourceL }),
		"e.source.r.rate": floatField(func(p *params.Parameters) *float64 { return &p.Rates.ESourceR }),
		"h.source.l.rate": floatField(func(p *params.Parameters) *float64 { return &p.Rates.HSourceL }),
		"h.source.r.rate": floatField(func(p *params.Parameters) *float64 { return &p.Rates.HSourceR }),
		"e.drain.l.rate":  floatField(func(p *params.Parameters) *float64 { return &p.Rates.EDrainL }),
		"e.drain.r.rate":  floatField(func(p *params.Parameters) *float64 { return &p.Rates.EDrainR }),
		"h.drain.l.rate":  floatField(func(p *params.Parameters) *float64 { return &p.Rates.HDrainL }),
		"h.drain.r.rate":  floatField(func(p *params.Parameters) *float64 { return &p.Rates.HDrainR }),
		"drain.mode":      drainModeField(func(p *params.Parameters) *params.DrainMode { return &p.Rates.DrainMode }),

		"coulomb.carriers":       boolField(func(p *params.Parameters) *bool { return &p.Coulomb.Enabled }),
		"defects.charge":         boolField(func(p *params.Parameters) *bool { return &p.Coulomb.ChargedDefects }),
		"electrostatic.cutoff":   intField(func(p *params.Parameters) *int { return &p.Coulomb.Cutoff }),
		"coulomb.gaussian.sigma": floatField(func(p *params.Parameters) *float64 { return &p.Coulomb.GaussianSigma }),
		"exciton.binding":        floatField(func(p *params.Parameters) *float64 { return &p.Coulomb.ExcitonBinding }),
		"hopping.range":          hoppingRangeField(func(p *params.Parameters) *params.HoppingRange { return &p.Coulomb.HoppingRange }),
		"relative.permittivity":  floatField(func(p *params.Parameters) *float64 { return &p.Coulomb.RelativePermittivity }),
		"lattice.spacing":        floatField(func(p *params.Parameters) *float64 { return &p.Coulomb.LatticeSpacing }),

		"temperature.kelvin": floatField(func(p *params.Parameters) *float64 { return &p.Temperature }),

		"use.opencl": boolField(func(p *params.Parameters) *bool { return &p.GPU.UseOpenCL }),
		"work.x":     intField(func(p *params.Parameters) *int { return &p.GPU.WorkX }),
		"work.y":     intField(func(p *params.Parameters) *int { return &p.GPU.WorkY }),
		"work.z":     intField(func(p *params.Parameters) *int { return &p.GPU.WorkZ }),
		"work.size":  intField(func(p *params.Parameters) *int { return &p.GPU.WorkSize }),

		"core.count": intField(func(p *params.Parameters) *int { return &p.CoreCount }),
	}
}
