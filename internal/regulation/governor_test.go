package regulation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGovernor_ClampsToRange(t *testing.T) {
	governor := NewGovernor(newTestLogger())

	for _, target := range []float64{-100, -0.6, 0, 3, 16, 30.9, 31, 32, 40, 1e6, math.NaN()} {
		applied, _ := governor.Apply(target, 230)
		assert.GreaterOrEqual(t, applied, 0.0, "target %v", target)
		assert.LessOrEqual(t, applied, MaxCurrent, "target %v", target)
	}
}

func TestGovernor_CeilingAndOfferedPower(t *testing.T) {
	governor := NewGovernor(newTestLogger())

	applied, changed := governor.Apply(40, 230)
	assert.True(t, changed)
	assert.Equal(t, 31.0, applied)
	assert.Equal(t, 31.0*230, governor.OfferedPower())

	// déjà au plafond : pas de nouvelle écriture
	_, changed = governor.Apply(45, 230)
	assert.False(t, changed)
}

func TestGovernor_NegativeTargetStops(t *testing.T) {
	governor := NewGovernor(newTestLogger())
	governor.Seed(16)

	applied, changed := governor.Apply(-3, 230)

	assert.True(t, changed)
	assert.Equal(t, 0.0, applied)
	assert.Equal(t, 0.0, governor.OfferedPower())
}

func TestGovernor_Hysteresis(t *testing.T) {
	governor := NewGovernor(newTestLogger())
	governor.Seed(10)

	for _, target := range []float64{10.4, 9.6, 10.5, 9.5, 10.1, 10} {
		applied, changed := governor.Apply(target, 230)
		assert.False(t, changed, "target %v", target)
		assert.Equal(t, 10.0, applied)
	}

	applied, changed := governor.Apply(10.6, 230)
	assert.True(t, changed)
	assert.Equal(t, 10.6, applied)
	assert.Equal(t, 10.6, governor.LastApplied())
}

func TestGovernor_UnknownVoltageOffersNoPower(t *testing.T) {
	governor := NewGovernor(newTestLogger())

	applied, changed := governor.Apply(12, 0)

	assert.True(t, changed)
	assert.Equal(t, 12.0, applied)
	assert.Equal(t, 0.0, governor.OfferedPower())
}

func TestGovernor_SeedIsClamped(t *testing.T) {
	governor := NewGovernor(newTestLogger())

	governor.Seed(32)
	assert.Equal(t, 31.0, governor.LastApplied())

	governor.Seed(-1)
	assert.Equal(t, 0.0, governor.LastApplied())
	assert.Equal(t, int64(0), governor.GetStatus()["writes"])
}
