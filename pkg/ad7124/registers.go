package ad7124

// Register is an AD7124 on-chip register address.
type Register uint8

const (
	RegStatus    Register = 0x00
	RegControl   Register = 0x01
	RegData      Register = 0x02
	RegIOCon1    Register = 0x03
	RegIOCon2    Register = 0x04
	RegID        Register = 0x05
	RegError     Register = 0x06
	RegErrorEn   Register = 0x07
	RegMclkCount Register = 0x08
	RegChannel0  Register = 0x09 // 0x09..0x18
	RegConfig0   Register = 0x19 // 0x19..0x20
	RegFilter0   Register = 0x21 // 0x21..0x28
	RegOffset0   Register = 0x29 // 0x29..0x30
	RegGain0     Register = 0x31 // 0x31..0x38

	NumRegisters = 0x39
)

// Communications register bits.
const (
	CommRead = 0x40
)

// Status register.
const (
	StatusNotReady = 1 << 7
	StatusChMask   = 0x0F
)

// ADC_Control register fields.
const (
	CtrlDataStatus = 1 << 10
	CtrlCSEn       = 1 << 9
	CtrlRefEn      = 1 << 8
	ctrlPowerShift = 6
	ctrlPowerMask  = 0x3 << ctrlPowerShift
	ctrlModeShift  = 2
	ctrlModeMask   = 0xF << ctrlModeShift
)

// Mode is the ADC_Control operating mode.
type Mode uint8

const (
	ModeContinuous Mode = iota
	ModeSingle
	ModeStandby
	ModePowerDown
	ModeIdle
	ModeInternalZeroScale
	ModeInternalFullScale
	ModeSystemZeroScale
	ModeSystemFullScale
)

// PowerMode is the ADC_Control power setting.
type PowerMode uint8

const (
	PowerLow PowerMode = iota
	PowerMid
	PowerFull
)

// Control values written by the driver.
const (
	CtrlSingleConversion = 0x0584
	CtrlZeroScaleCal     = 0x0514
	CtrlFullScaleCal     = 0x0518
	CtrlIdle             = 0x0510
	CtrlCalibrated       = 0x0588
)

// ControlMode extracts the operating mode from an ADC_Control value.
func ControlMode(v uint32) Mode {
	return Mode((v & ctrlModeMask) >> ctrlModeShift)
}

// WithMode replaces the operating mode of an ADC_Control value.
func WithMode(v uint32, m Mode) uint32 {
	return v&^ctrlModeMask | (uint32(m)<<ctrlModeShift)&ctrlModeMask
}

// ControlPower extracts the power mode from an ADC_Control value.
func ControlPower(v uint32) PowerMode {
	return PowerMode((v & ctrlPowerMask) >> ctrlPowerShift)
}

// Channel register fields.
const (
	ChEnable     = 1 << 15
	chSetupShift = 12
	chSetupMask  = 0x7 << chSetupShift
	chAinPShift  = 5
	chAinPMask   = 0x1F << chAinPShift
	chAinMMask   = 0x1F
)

// ChannelMap encodes a channel register value.
func ChannelMap(setup, ainp, ainm uint32) uint32 {
	return (setup<<chSetupShift)&chSetupMask | (ainp<<chAinPShift)&chAinPMask | ainm&chAinMMask
}

// ChannelFields decodes setup, AINP and AINM from a channel register value.
func ChannelFields(v uint32) (setup, ainp, ainm uint32) {
	return (v & chSetupMask) >> chSetupShift, (v & chAinPMask) >> chAinPShift, v & chAinMMask
}

// Configuration register fields.
const (
	CfgBipolar    = 1 << 11
	cfgBurnShift  = 9
	CfgRefBufP    = 1 << 8
	CfgRefBufM    = 1 << 7
	CfgAinBufP    = 1 << 6
	CfgAinBufM    = 1 << 5
	cfgRefSelShft = 3
	cfgPGAMask    = 0x7
)

// ConfigValue encodes a configuration register with all buffers enabled.
func ConfigValue(bipolar bool, burnout, refSel, pga uint32) uint32 {
	v := uint32(CfgRefBufP|CfgRefBufM|CfgAinBufP|CfgAinBufM) |
		(burnout&0x3)<<cfgBurnShift | (refSel&0x3)<<cfgRefSelShft | pga&cfgPGAMask
	if bipolar {
		v |= CfgBipolar
	}
	return v
}

// Filter register fields.
const (
	filtTypeShift = 21
	filtFSMask    = 0x7FF
	FilterSinc4   = 0
	FilterSinc3   = 2
)

// FilterValue encodes a filter register.
func FilterValue(typ, fs uint32) uint32 {
	return (typ&0x7)<<filtTypeShift | fs&filtFSMask
}

// IOCon1 fields.
const (
	ioIout0ChMask = 0xF
	ioIout0Shift  = 8
)

// IOut0Channel encodes the IOUT0 pin routing.
func IOut0Channel(ain uint32) uint32 { return ain & ioIout0ChMask }

// IOut0Current encodes the IOUT0 current selection (5 = 750 uA).
func IOut0Current(sel uint32) uint32 { return (sel & 0x7) << ioIout0Shift }

// Reset values of the registers the driver modifies.
const (
	ResetControl  = 0x0000
	ResetChannel0 = 0x8001
	ResetChannel  = 0x0001
	ResetConfig   = 0x0860
	ResetFilter   = 0x060180
	ResetOffset   = 0x800000
	ResetGain     = 0x500000
	ResetIOCon1   = 0x000000
	ResetStatus   = 0x80
	DeviceID      = 0x14
)

// Size returns the register width in bytes.
func (r Register) Size() int {
	switch {
	case r == RegStatus, r == RegID, r == RegMclkCount:
		return 1
	case r == RegControl, r == RegIOCon2:
		return 2
	case r >= RegChannel0 && r < RegConfig0:
		return 2
	case r >= RegConfig0 && r < RegFilter0:
		return 2
	default:
		return 3
	}
}

// Mask returns the valid bit mask for the register width.
func (r Register) Mask() uint32 {
	return uint32(1)<<(8*r.Size()) - 1
}

// ChannelReg returns the channel register for n (0..15).
func ChannelReg(n int) Register { return RegChannel0 + Register(n) }

// ConfigReg returns the configuration register for setup n (0..7).
func ConfigReg(n int) Register { return RegConfig0 + Register(n) }

// FilterReg returns the filter register for setup n (0..7).
func FilterReg(n int) Register { return RegFilter0 + Register(n) }

// OffsetReg returns the offset register for setup n (0..7).
func OffsetReg(n int) Register { return RegOffset0 + Register(n) }

// GainReg returns the gain register for setup n (0..7).
func GainReg(n int) Register { return RegGain0 + Register(n) }
