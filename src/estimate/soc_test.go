package estimate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allModes = []ChargeMode{Resting, DischargingOnly, ChargingDominant, ChargingOnly}

func ptr(v float64) *float64 {
	return &v
}

func TestEstimateSOC_AbsentVoltageIsFloor(t *testing.T) {
	for _, mode := range allModes {
		assert.Equal(t, MinSOC, EstimateSOC(mode, nil), mode.String())
	}
}

func TestEstimateSOC_AlwaysWithinBounds(t *testing.T) {
	for _, mode := range allModes {
		for v := -100.0; v <= 100.0; v += 0.05 {
			soc := EstimateSOC(mode, ptr(v))
			assert.GreaterOrEqual(t, soc, MinSOC, "%s at %.2fV", mode, v)
			assert.LessOrEqual(t, soc, MaxSOC, "%s at %.2fV", mode, v)
		}
	}
}

func TestEstimateSOC_ExtremeInputs(t *testing.T) {
	for _, mode := range allModes {
		for _, v := range []float64{math.MaxFloat64, -math.MaxFloat64, math.NaN(), math.Inf(1), 1e9, -1e9} {
			soc := EstimateSOC(mode, ptr(v))
			assert.GreaterOrEqual(t, soc, MinSOC)
			assert.LessOrEqual(t, soc, MaxSOC)
		}
	}
}

func TestEstimateSOC_UnclampedRegion(t *testing.T) {
	tests := []struct {
		name    string
		mode    ChargeMode
		voltage float64
		want    float64
	}{
		{"resting", Resting, 12.5, 79.293891},
		{"discharging", DischargingOnly, 12.5, 93.571429},
		{"charging dominant", ChargingDominant, 12.8, 72.477789},
		{"charging only", ChargingOnly, 12.8, 29.572560},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, EstimateSOC(tt.mode, ptr(tt.voltage)), 1e-5)
		})
	}
}

func TestEstimateSOC_Clamps(t *testing.T) {
	// Discharging curve at 52V is far above 100%
	assert.Equal(t, MaxSOC, EstimateSOC(DischargingOnly, ptr(52.0)))
	// Charging curve at 12V is negative
	assert.Equal(t, MinSOC, EstimateSOC(ChargingOnly, ptr(12.0)))
	// Charging dominant at 12V is just under the floor (8.31)
	assert.Equal(t, MinSOC, EstimateSOC(ChargingDominant, ptr(12.0)))
}

func TestEstimateSOC_Deterministic(t *testing.T) {
	v := ptr(12.6)
	first := EstimateSOC(ChargingDominant, v)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, EstimateSOC(ChargingDominant, v))
	}
}

func TestParseChargeMode(t *testing.T) {
	for i, want := range allModes {
		got, err := ParseChargeMode(i)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseChargeMode(4)
	assert.Error(t, err)
	_, err = ParseChargeMode(-1)
	assert.Error(t, err)
}

func TestChargeMode_String(t *testing.T) {
	assert.Equal(t, "charging-dominant", ChargingDominant.String())
	assert.Equal(t, "ChargeMode(7)", ChargeMode(7).String())
}
