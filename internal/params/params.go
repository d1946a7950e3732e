// Package params defines the engine's typed, validated configuration
// record. It mirrors the shape of pthm-soup's config package
// (embedded YAML defaults, a single struct, a Validate pass) but the field
// set is exactly the fixed key=value grammar spec.md §6 enumerates rather
// than a free-form config file: those keys are what the checkpoint file's
// [Parameters] section, and nothing else, is allowed to contain.
package params

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// SimulationType selects which device archetype the World builds.
type SimulationType string

const (
	Transistor SimulationType = "transistor"
	SolarCell  SimulationType = "solarcell"
)

// DrainMode selects a drain's acceptance rule. spec.md describes the
// constant-rate case; original_source/chargeagent.cpp's drainType==1
// ("broken") case generalizes the ordinary hop Metropolis test to the
// drain's site, which this implementation also exposes (see SPEC_FULL.md,
// "Supplemented features").
type DrainMode string

const (
	DrainConstant   DrainMode = "constant"
	DrainMetropolis DrainMode = "metropolis"
)

// HoppingRange selects the neighbor shell used for carrier moves.
type HoppingRange int

const (
	HopRange1 HoppingRange = 1
	HopRange2 HoppingRange = 2
)

// Parameters is the full, validated configuration for one simulation run.
// Field groups and key names follow spec.md §6 exactly; yaml tags are used
// only for the embedded-defaults profile and test fixtures, not for the
// checkpoint file format (internal/checkpoint owns that grammar).
type Parameters struct {
	Grid struct {
		X int `yaml:"x"`
		Y int `yaml:"y"`
		Z int `yaml:"z"`
	} `yaml:"grid"`

	Simulation struct {
		Type            SimulationType `yaml:"type"`
		IterationsReal  int64          `yaml:"iterations_real"`
		IterationsPrint int64          `yaml:"iterations_print"`
		RandomSeed      uint64         `yaml:"random_seed"`
	} `yaml:"simulation"`

	Carriers struct {
		ElectronPercentage float64 `yaml:"electron_percentage"`
		HolePercentage     float64 `yaml:"hole_percentage"`
		DefectPercentage   float64 `yaml:"defect_percentage"`
		TrapPercentage     float64 `yaml:"trap_percentage"`
		SeedPercentage     float64 `yaml:"seed_percentage"`
		SeedCharges        bool    `yaml:"seed_charges"`
	} `yaml:"carriers"`

	Potentials struct {
		VoltageLeft    float64 `yaml:"voltage_left"`
		VoltageRight   float64 `yaml:"voltage_right"`
		SlopeZ         float64 `yaml:"slope_z"`
		TrapPotential  float64 `yaml:"trap_potential"`
		GaussianStdev  float64 `yaml:"gaussian_stdev"`
		GaussianAvg    float64 `yaml:"gaussian_average"`
	} `yaml:"potentials"`

	Rates struct {
		SourceRate        float64 `yaml:"source_rate"`
		DrainRate         float64 `yaml:"drain_rate"`
		RecombinationRate float64 `yaml:"recombination_rate"`
		GenerationRate    float64 `yaml:"generation_rate"`

		ESourceL float64 `yaml:"e_source_l_rate"`
		ESourceR float64 `yaml:"e_source_r_rate"`
		HSourceL float64 `yaml:"h_source_l_rate"`
		HSourceR float64 `yaml:"h_source_r_rate"`
		EDrainL  float64 `yaml:"e_drain_l_rate"`
		EDrainR  float64 `yaml:"e_drain_r_rate"`
		HDrainL  float64 `yaml:"h_drain_l_rate"`
		HDrainR  float64 `yaml:"h_drain_r_rate"`

		DrainMode DrainMode `yaml:"drain_mode"`
	} `yaml:"rates"`

	Coulomb struct {
		Enabled          bool         `yaml:"carriers"`
		ChargedDefects   bool         `yaml:"defects_charge"`
		Cutoff           int          `yaml:"electrostatic_cutoff"`
		GaussianSigma    float64      `yaml:"gaussian_sigma"`
		ExcitonBinding   float64      `yaml:"exciton_binding"`
		HoppingRange     HoppingRange `yaml:"hopping_range"`
		RelativePermittivity float64   `yaml:"relative_permittivity"`
		LatticeSpacing   float64      `yaml:"lattice_spacing"`
	} `yaml:"coulomb"`

	Temperature float64 `yaml:"temperature_kelvin"`

	GPU struct {
		UseOpenCL bool `yaml:"use_opencl"`
		WorkX     int  `yaml:"work_x"`
		WorkY     int  `yaml:"work_y"`
		WorkZ     int  `yaml:"work_z"`
		WorkSize  int  `yaml:"work_size"`
	} `yaml:"gpu"`

	CoreCount int `yaml:"core_count"`
}

// Defaults returns the embedded default profile.
func Defaults() (*Parameters, error) {
	var p Parameters
	if err := yaml.Unmarshal(defaultsYAML, &p); err != nil {
		return nil, fmt.Errorf("params: parsing embedded defaults: %w", err)
	}
	return &p, nil
}

// DumpYAML serializes the parameters for diagnostics/test fixtures. It is
// not part of the checkpoint file format.
func (p *Parameters) DumpYAML() ([]byte, error) {
	b, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("params: marshaling: %w", err)
	}
	return b, nil
}

// ErrOutOfRange is the sentinel wrapped by every range/shape validation
// failure, so callers can test with errors.Is without string matching.
var ErrOutOfRange = fmt.Errorf("params: value out of range")

// ValidationError names the offending key and value, per spec.md §7's
// requirement that configuration errors are fatal with a diagnostic naming
// both.
type ValidationError struct {
	Key   string
	Value any
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("params: %s = %v: %s", e.Key, e.Value, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrOutOfRange }

func rangeErr(key string, value any, msg string) error {
	return &ValidationError{Key: key, Value: value, Msg: msg}
}

// Validate checks every invariant spec.md §6/§7 imposes on the parameter
// set. It returns the first violation found, wrapping ErrOutOfRange.
func (p *Parameters) Validate() error {
	if p.Grid.X <= 0 || p.Grid.Y <= 0 || p.Grid.Z <= 0 {
		return rangeErr("grid.x/y/z", [3]int{p.Grid.X, p.Grid.Y, p.Grid.Z}, "grid dimensions must be positive")
	}

	switch p.Simulation.Type {
	case Transistor, SolarCell:
	default:
		return rangeErr("simulation.type", p.Simulation.Type, "unknown simulation.type")
	}

	if p.Simulation.IterationsPrint <= 0 {
		return rangeErr("iterations.print", p.Simulation.IterationsPrint, "must be positive")
	}
	if p.Simulation.IterationsReal%p.Simulation.IterationsPrint != 0 {
		return rangeErr("iterations.real", p.Simulation.IterationsReal, "must be divisible by iterations.print")
	}

	pcts := map[string]float64{
		"electron.percentage": p.Carriers.ElectronPercentage,
		"hole.percentage":     p.Carriers.HolePercentage,
		"defect.percentage":   p.Carriers.DefectPercentage,
		"trap.percentage":     p.Carriers.TrapPercentage,
	}
	for key, v := range pcts {
		if v < 0 || v > 1 {
			return rangeErr(key, v, "percentage must be within [0,1]")
		}
	}
	if p.Carriers.SeedPercentage <= 0 || p.Carriers.SeedPercentage > 1 {
		if p.Carriers.TrapPercentage > 0 {
			return rangeErr("seed.percentage", p.Carriers.SeedPercentage, "must be within (0,1] when trap.percentage > 0")
		}
	}

	if p.Carriers.DefectPercentage+p.Carriers.TrapPercentage > 1 {
		return rangeErr("defect.percentage+trap.percentage", p.Carriers.DefectPercentage+p.Carriers.TrapPercentage, "must not exceed 1")
	}

	rates := map[string]float64{
		"source.rate":        p.Rates.SourceRate,
		"drain.rate":         p.Rates.DrainRate,
		"recombination.rate": p.Rates.RecombinationRate,
		"generation.rate":    p.Rates.GenerationRate,
	}
	for key, v := range rates {
		if v < 0 || v > 1 {
			return rangeErr(key, v, "rate must be within [0,1]")
		}
	}

	switch p.Rates.DrainMode {
	case DrainConstant, DrainMetropolis, "":
	default:
		return rangeErr("drain.mode", p.Rates.DrainMode, "unknown drain acceptance mode")
	}

	if p.Coulomb.Cutoff <= 0 {
		return rangeErr("electrostatic.cutoff", p.Coulomb.Cutoff, "must be positive")
	}
	switch p.Coulomb.HoppingRange {
	case HopRange1, HopRange2:
	default:
		return rangeErr("hopping.range", p.Coulomb.HoppingRange, "must be 1 or 2")
	}

	if p.Temperature <= 0 {
		return rangeErr("temperature_kelvin", p.Temperature, "must be positive")
	}

	if p.CoreCount < 0 {
		return rangeErr("core_count", p.CoreCount, "must be non-negative (0 selects the host core count)")
	}

	return nil
}

// MaxElectrons returns the derived cap electrons_count must not exceed.
func (p *Parameters) MaxElectrons(volume int) int {
	return int(p.Carriers.ElectronPercentage * float64(volume))
}

// MaxHoles returns the derived cap holes_count must not exceed.
func (p *Parameters) MaxHoles(volume int) int {
	return int(p.Carriers.HolePercentage * float64(volume))
}

// Beta returns q/(kB*T), the inverse thermal energy used by the Metropolis
// criterion (spec.md §4.5).
func (p *Parameters) Beta(elementaryCharge, boltzmann float64) float64 {
	return elementaryCharge / (boltzmann * p.Temperature)
}

// Kappa returns the Coulomb scaling constant q/(4*pi*eps_r*eps0*a)
// (spec.md §3).
func (p *Parameters) Kappa(elementaryCharge, vacuumPermittivity float64) float64 {
	const fourPi = 4 * 3.14159265358979323846
	return elementaryCharge / (fourPi * p.Coulomb.RelativePermittivity * vacuumPermittivity * p.Coulomb.LatticeSpacing)
}
