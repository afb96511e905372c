// Package estimate provides battery state estimation from averaged sensor readings.
package estimate

import (
	"fmt"
	"math"
)

// SOC output bounds. The curves are never trusted to report a truly empty
// or truly full battery.
const (
	MinSOC = 10.0
	MaxSOC = 100.0
)

// ChargeMode selects the voltage to SOC curve for the battery's operating regime
type ChargeMode int

const (
	Resting          ChargeMode = iota // No discharge or charging
	DischargingOnly                    // Discharging only
	ChargingDominant                   // Charging 100% more than discharge
	ChargingOnly                       // Charging, no discharge
)

// Curve holds the coefficients of a quadratic fit: a + b*v + c*v²
type Curve struct {
	A, B, C float64
}

// Eval evaluates the curve at v
func (c Curve) Eval(v float64) float64 {
	return c.A + (c.B * v) + (c.C * v * v)
}

// curves is indexed by ChargeMode.
//
// ChargingDominant has an older fit that peaks well below 13V:
// {-2065.96791137, 266.26220213, -7.78670988}. It is not used.
var curves = [...]Curve{
	Resting:          {A: -159.95112679, B: -35.66088984, C: 4.3840393},
	DischargingOnly:  {A: -7.99285673e+02, B: 7.14285645e+01, C: 2.90284783e-07},
	ChargingDominant: {A: 1319.88515558, B: -286.95495698, C: 14.80478566},
	ChargingOnly:     {A: -1271.8876316, B: 129.48610013, C: -2.17261896},
}

// ParseChargeMode validates a configured mode number
func ParseChargeMode(n int) (ChargeMode, error) {
	m := ChargeMode(n)
	if !m.Valid() {
		return 0, fmt.Errorf("unknown charge mode %d (want 0-%d)", n, len(curves)-1)
	}
	return m, nil
}

// Valid reports whether m has a curve
func (m ChargeMode) Valid() bool {
	return m >= 0 && int(m) < len(curves)
}

// Curve returns the fit for m. m must be valid.
func (m ChargeMode) Curve() Curve {
	return curves[m]
}

func (m ChargeMode) String() string {
	switch m {
	case Resting:
		return "resting"
	case DischargingOnly:
		return "discharging"
	case ChargingDominant:
		return "charging-dominant"
	case ChargingOnly:
		return "charging"
	}
	return fmt.Sprintf("ChargeMode(%d)", int(m))
}

// EstimateSOC maps a voltage to a state of charge percentage in [MinSOC, MaxSOC].
// A nil voltage evaluates as 0 and so reports MinSOC.
func EstimateSOC(mode ChargeMode, voltage *float64) float64 {
	val := 0.0
	if voltage != nil {
		val = mode.Curve().Eval(*voltage)
	}
	if math.IsNaN(val) {
		return MinSOC
	}
	return max(MinSOC, min(val, MaxSOC))
}
