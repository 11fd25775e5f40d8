package hal

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/itohio/thermoctl/pkg/ad7124"
)

// Source supplies conversion codes of the simulated analog front end.
type Source interface {
	Code(ch int) uint32
}

// Codes is a fixed Source, one code per ADC channel.
type Codes [ad7124.NumChannels]uint32

func (c *Codes) Code(ch int) uint32 {
	if ch < 0 || ch >= len(c) {
		return 0
	}
	return c[ch]
}

// RegisterWrite records one register write seen by SimADC.
type RegisterWrite struct {
	Reg   ad7124.Register
	Value uint32
}

var _ ad7124.Bus = (*SimADC)(nil)

// SimADC models the AD7124 register file: single conversions of the lowest
// enabled channel, internal calibrations that return the device to idle, and
// the ready flag. Timing follows the supplied clock.
type SimADC struct {
	mu   sync.Mutex
	clk  clock.Clock
	src  Source
	regs [ad7124.NumRegisters]uint32
	held bool

	active  bool
	cal     bool
	convCh  int
	started time.Time

	conversionTime  time.Duration
	calibrationTime time.Duration
	stall           bool

	writes []RegisterWrite
}

// NewSimADC creates a simulated device in its power-on state.
func NewSimADC(clk clock.Clock, src Source) *SimADC {
	if clk == nil {
		clk = clock.New()
	}
	s := &SimADC{
		clk:             clk,
		src:             src,
		conversionTime:  60 * time.Millisecond,
		calibrationTime: 200 * time.Millisecond,
	}
	s.reset()
	return s
}

func (s *SimADC) reset() {
	s.regs = [ad7124.NumRegisters]uint32{}
	s.regs[ad7124.RegStatus] = ad7124.ResetStatus
	s.regs[ad7124.RegControl] = ad7124.ResetControl
	s.regs[ad7124.RegID] = ad7124.DeviceID
	s.regs[ad7124.RegIOCon1] = ad7124.ResetIOCon1
	s.regs[ad7124.ChannelReg(0)] = ad7124.ResetChannel0
	for i := 1; i < 16; i++ {
		s.regs[ad7124.ChannelReg(i)] = ad7124.ResetChannel
	}
	for i := 0; i < 8; i++ {
		s.regs[ad7124.ConfigReg(i)] = ad7124.ResetConfig
		s.regs[ad7124.FilterReg(i)] = ad7124.ResetFilter
		s.regs[ad7124.OffsetReg(i)] = ad7124.ResetOffset
		s.regs[ad7124.GainReg(i)] = ad7124.ResetGain
	}
	s.active = false
}

// SetTiming sets the conversion and calibration durations.
func (s *SimADC) SetTiming(conversion, calibration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversionTime = conversion
	s.calibrationTime = calibration
}

// SetStall makes conversions and calibrations never complete.
func (s *SimADC) SetStall(stall bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stall = stall
}

// SetSource replaces the analog front end.
func (s *SimADC) SetSource(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src = src
}

// Reset returns every register to its power-on value.
func (s *SimADC) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// ReadRegister returns the register value after advancing the simulation.
func (s *SimADC) ReadRegister(reg ad7124.Register) (uint32, error) {
	if reg >= ad7124.NumRegisters {
		return 0, errors.Errorf("register 0x%02x out of range", uint8(reg))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step()
	v := s.regs[reg]
	if reg == ad7124.RegData {
		s.regs[ad7124.RegStatus] |= ad7124.StatusNotReady
	}
	return v, nil
}

// WriteRegister stores value and starts conversions or calibrations on
// ADC_Control writes.
func (s *SimADC) WriteRegister(reg ad7124.Register, value uint32) error {
	switch reg {
	case ad7124.RegStatus, ad7124.RegData, ad7124.RegID, ad7124.RegError, ad7124.RegMclkCount:
		return errors.Errorf("register 0x%02x is read-only", uint8(reg))
	}
	if reg >= ad7124.NumRegisters {
		return errors.Errorf("register 0x%02x out of range", uint8(reg))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	value &= reg.Mask()
	s.regs[reg] = value
	s.writes = append(s.writes, RegisterWrite{Reg: reg, Value: value})
	if reg == ad7124.RegControl {
		s.control(value)
	}
	return nil
}

// SetChipSelect records the chip select state.
func (s *SimADC) SetChipSelect(active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.held = active
	return nil
}

// ChipSelect reports whether chip select is held active.
func (s *SimADC) ChipSelect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Register returns a register value without advancing the simulation.
func (s *SimADC) Register(reg ad7124.Register) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if reg >= ad7124.NumRegisters {
		return 0
	}
	return s.regs[reg]
}

// Writes returns a copy of the register write log.
func (s *SimADC) Writes() []RegisterWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RegisterWrite, len(s.writes))
	copy(out, s.writes)
	return out
}

// ClearWrites empties the write log.
func (s *SimADC) ClearWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = s.writes[:0]
}

func (s *SimADC) control(v uint32) {
	s.active = false
	switch ad7124.ControlMode(v) {
	case ad7124.ModeSingle, ad7124.ModeContinuous:
		ch := s.firstEnabled()
		if ch < 0 {
			return
		}
		s.convCh = ch
		s.cal = false
	case ad7124.ModeInternalZeroScale, ad7124.ModeInternalFullScale,
		ad7124.ModeSystemZeroScale, ad7124.ModeSystemFullScale:
		s.cal = true
	default:
		return
	}
	s.active = true
	s.started = s.clk.Now()
	s.regs[ad7124.RegStatus] |= ad7124.StatusNotReady
}

func (s *SimADC) firstEnabled() int {
	for i := 0; i < 16; i++ {
		if s.regs[ad7124.ChannelReg(i)]&ad7124.ChEnable != 0 {
			return i
		}
	}
	return -1
}

func (s *SimADC) step() {
	if !s.active || s.stall {
		return
	}
	elapsed := s.clk.Since(s.started)
	ctrl := s.regs[ad7124.RegControl]
	if s.cal {
		if elapsed < s.calibrationTime {
			return
		}
		s.regs[ad7124.RegControl] = ad7124.WithMode(ctrl, ad7124.ModeIdle)
		s.regs[ad7124.RegStatus] &^= ad7124.StatusNotReady
		s.active = false
		return
	}
	if elapsed < s.conversionTime {
		return
	}
	var code uint32
	if s.src != nil {
		code = s.src.Code(s.convCh) & 0xFFFFFF
	}
	s.regs[ad7124.RegData] = code
	s.regs[ad7124.RegStatus] = uint32(s.convCh) & ad7124.StatusChMask
	if ad7124.ControlMode(ctrl) == ad7124.ModeSingle {
		s.regs[ad7124.RegControl] = ad7124.WithMode(ctrl, ad7124.ModeStandby)
		s.active = false
	} else {
		s.started = s.clk.Now()
	}
}
