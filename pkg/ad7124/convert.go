package ad7124

// Analog front end constants of the board.
const (
	VRefExt  = 3832.5 // mV, ratiometric reference across R5 driven by IOUT0
	VRefInt  = 2500.0 // mV
	GainRTD  = 1.0
	GainTC   = 32.0
	R5       = 5110.0 // ohm, RTD reference resistor
	midscale = 1 << 23
)

// DataToVoltage converts a bipolar conversion code to mV. Reference channels
// (RTD) use the external reference and unity gain, thermocouple channels the
// internal reference and gain 32.
func DataToVoltage(raw uint32, reference bool) float32 {
	d := float32(int64(raw) - midscale)
	if reference {
		return VRefExt * d / (midscale * GainRTD)
	}
	return VRefInt * d / (midscale * GainTC)
}

// DataToResistance converts an RTD conversion code to ohms.
func DataToResistance(raw uint32) float32 {
	d := float32(int64(raw) - midscale)
	return R5 * d / (midscale * GainRTD)
}

// VoltageToData is the inverse of DataToVoltage, rounded to the nearest code.
func VoltageToData(mv float32, reference bool) uint32 {
	var d float64
	if reference {
		d = float64(mv) * midscale * GainRTD / VRefExt
	} else {
		d = float64(mv) * midscale * GainTC / VRefInt
	}
	return clampCode(d)
}

// ResistanceToData is the inverse of DataToResistance.
func ResistanceToData(ohm float32) uint32 {
	return clampCode(float64(ohm) * midscale * GainRTD / R5)
}

func clampCode(d float64) uint32 {
	c := d + midscale
	if c < 0 {
		return 0
	}
	if c > 1<<24-1 {
		return 1<<24 - 1
	}
	return uint32(c + 0.5)
}
