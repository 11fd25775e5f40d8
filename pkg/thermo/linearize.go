package thermo

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

// Cold-junction PT1000 constants (Callendar-Van-Dusen, IEC 60751).
const (
	R0        = 1000.0
	RTDCoeffA = 3.9083e-3
	RTDCoeffB = -5.775e-7
)

// Plausible compensated thermocouple voltage window in mV. Totals outside it
// come from a floating input and are clamped to zero.
const (
	MinPlausibleVoltage = -10.0
	MaxPlausibleVoltage = 70.0
)

// rtdBelowR0 maps resistance/10 to temperature for resistances at or below R0.
var rtdBelowR0 = poly(-242.02, 2.2228, 2.5859e-3, -4.8260e-6, -2.8183e-8, 1.5243e-10)

// ColdJunctionTemperature converts the PT1000 resistance in ohms to °C.
func ColdJunctionTemperature(resistance float32) float32 {
	if resistance > R0 {
		return (-RTDCoeffA + math32.Sqrt(RTDCoeffA*RTDCoeffA-(4*RTDCoeffB/R0)*(R0-resistance))) / (2 * RTDCoeffB)
	}
	return rtdBelowR0.Eval(resistance / 10)
}

// Voltage evaluates the reference function E(t) in mV.
func (c *Coefficients) Voltage(t float32) float32 {
	switch {
	case t < c.tempRange[1]:
		return c.neg.Eval(t)
	case t <= c.tempRange[2]:
		return c.pos1.Eval(t) + c.gauss.eval(t)
	default:
		return c.pos2.Eval(t) + c.gauss.eval(t)
	}
}

// Temperature evaluates the inverse function t(E). Ranges have a closed lower
// bound; the last defined range is closed at both ends.
func (c *Coefficients) Temperature(v float32) (float32, error) {
	if v < c.voltage[0] {
		return 0, errors.Wrapf(ErrUnderRange, "type %s: %.3f mV < %.3f mV", c.typ, v, c.voltage[0])
	}
	n := c.ranges()
	for i := 0; i < n; i++ {
		if v < c.voltage[i+1] || (i == n-1 && v == c.voltage[i+1]) {
			return c.inverse[i].Eval(v), nil
		}
	}
	return 0, errors.Wrapf(ErrOverRange, "type %s: %.3f mV > %.3f mV", c.typ, v, c.voltage[n])
}

// ColdJunctionVoltage returns the voltage a type t thermocouple would produce
// between 0 °C and the cold-junction temperature.
func ColdJunctionVoltage(t SensorType, cjTemp float32) float32 {
	return Lookup(t).Voltage(cjTemp)
}

// Compensate adds the cold-junction voltage to the measured thermocouple
// voltage and clamps implausible totals to zero.
func Compensate(t SensorType, tcVoltage, cjTemp float32) float32 {
	v := tcVoltage + ColdJunctionVoltage(t, cjTemp)
	if v < MinPlausibleVoltage || v > MaxPlausibleVoltage {
		return 0
	}
	return v
}

// Linearize converts a measured thermocouple voltage (mV) and cold-junction
// temperature (°C) to the probe temperature.
func Linearize(t SensorType, tcVoltage, cjTemp float32) (float32, error) {
	return Lookup(t).Temperature(Compensate(t, tcVoltage, cjTemp))
}

// Reading is the full conversion result of one channel sample.
type Reading struct {
	ColdJunction float32 // °C
	Compensated  float32 // mV
	Temperature  float32 // °C, only meaningful when Flag is FlagNone
	Flag         ErrorFlag
}

// Convert runs the complete chain from cold-junction resistance and
// thermocouple voltage.
func Convert(t SensorType, cjResistance, tcVoltage float32) Reading {
	cj := ColdJunctionTemperature(cjResistance)
	v := Compensate(t, tcVoltage, cj)
	temp, err := Lookup(t).Temperature(v)
	return Reading{
		ColdJunction: cj,
		Compensated:  v,
		Temperature:  temp,
		Flag:         FlagFromError(err),
	}
}
