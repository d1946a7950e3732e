package params

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultsValidate(t *testing.T) {
	p, err := Defaults()
	require.NoError(t, err)
	require.NoError(t, p.Validate())
}

func TestValidateRejectsUnknownSimulationType(t *testing.T) {
	p, err := Defaults()
	require.NoError(t, err)
	p.Simulation.Type = "not-a-type"
	err = p.Validate()
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestValidateRejectsIterationsNotDivisible(t *testing.T) {
	p, err := Defaults()
	require.NoError(t, err)
	p.Simulation.IterationsReal = 101
	p.Simulation.IterationsPrint = 10
	require.Error(t, p.Validate())
}

func TestValidateRejectsOverlappingDefectTrapBudget(t *testing.T) {
	p, err := Defaults()
	require.NoError(t, err)
	p.Carriers.DefectPercentage = 0.6
	p.Carriers.TrapPercentage = 0.6
	require.Error(t, p.Validate())
}

func TestDumpYAMLRoundTrip(t *testing.T) {
	p, err := Defaults()
	require.NoError(t, err)

	b, err := p.DumpYAML()
	require.NoError(t, err)
	require.NotEmpty(t, b)

	var q Parameters
	require.NoError(t, yaml.Unmarshal(b, &q))
	require.Equal(t, *p, q)
}

func TestMaxElectronsDerivation(t *testing.T) {
	p, err := Defaults()
	require.NoError(t, err)
	p.Carriers.ElectronPercentage = 0.1
	require.Equal(t, 100, p.MaxElectrons(1000))
}
