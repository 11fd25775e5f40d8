// Package ad7124 drives the AD7124 sigma-delta ADC of a four channel
// thermocouple board: ADC channels 0..3 measure the cold-junction RTDs and
// channels 4..7 the thermocouples.
package ad7124

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/itohio/thermoctl/pkg/logging"
)

// NumChannels is the number of ADC channels the board uses.
const (
	NumChannels = 8
	NumProbes   = 4
)

var (
	ErrConversionTimeout  = errors.New("conversion timeout")
	ErrCalibrationTimeout = errors.New("calibration timeout")
	ErrInvalidChannel     = errors.New("invalid ADC channel")
)

// Bus is the register level access to the device. Implementations perform
// the SPI framing; the driver never handles raw bytes.
type Bus interface {
	ReadRegister(reg Register) (uint32, error)
	WriteRegister(reg Register, value uint32) error
	// SetChipSelect holds the chip select line active between register
	// accesses so the ready flag can be observed during a conversion.
	SetChipSelect(active bool) error
}

// Group selects the channels calibrated together.
type Group uint8

const (
	GroupRTD Group = iota
	GroupThermocouple
)

func (g Group) String() string {
	if g == GroupRTD {
		return "rtd"
	}
	return "thermocouple"
}

// State is the conversion state of one channel.
type State uint8

const (
	Idle State = iota
	Converting
)

func (s State) String() string {
	if s == Converting {
		return "converting"
	}
	return "idle"
}

// RTDChannel returns the ADC channel measuring the cold junction of probe p.
func RTDChannel(p int) int { return p }

// TCChannel returns the ADC channel measuring thermocouple p.
func TCChannel(p int) int { return p + NumProbes }

// IsRTD reports whether ch is a cold-junction channel.
func IsRTD(ch int) bool { return ch >= 0 && ch < NumProbes }

// Config holds driver timing.
type Config struct {
	// SettleDelay is the minimum time between starting a conversion and
	// reading its result in Read.
	SettleDelay time.Duration `yaml:"settle_delay"`
	// ConversionTimeout bounds a non-blocking conversion.
	ConversionTimeout time.Duration `yaml:"conversion_timeout"`
	// PollBudget bounds the ready polls of ReadBlocking.
	PollBudget int `yaml:"poll_budget"`
	// PollInterval is the pause between ready polls.
	PollInterval time.Duration `yaml:"poll_interval"`
	// CalibrationPolls bounds every idle wait of a calibration step.
	CalibrationPolls int `yaml:"calibration_polls"`
	// ChannelDelay is the pause after changing a channel register.
	ChannelDelay time.Duration `yaml:"channel_delay"`
}

// DefaultConfig returns the timing of the reference firmware.
func DefaultConfig() Config {
	return Config{
		SettleDelay:       100 * time.Millisecond,
		ConversionTimeout: time.Second,
		PollBudget:        10000,
		PollInterval:      100 * time.Microsecond,
		CalibrationPolls:  100000,
		ChannelDelay:      time.Millisecond,
	}
}

type channel struct {
	state   State
	started time.Time
	cached  uint32
	seq     uint32
	err     error
}

// Driver sequences conversions and calibration. It is not safe for
// concurrent use; the control loop owns it.
type Driver struct {
	bus Bus
	clk clock.Clock
	log logging.Logger
	cfg Config

	chans      [NumChannels]channel
	busy       int
	calibrated [2]bool
}

// New creates a driver. Zero config fields take DefaultConfig values.
func New(bus Bus, clk clock.Clock, log logging.Logger, cfg Config) *Driver {
	if clk == nil {
		clk = clock.New()
	}
	def := DefaultConfig()
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if cfg.ConversionTimeout <= 0 {
		cfg.ConversionTimeout = def.ConversionTimeout
	}
	if cfg.PollBudget <= 0 {
		cfg.PollBudget = def.PollBudget
	}
	if cfg.PollInterval < 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.CalibrationPolls <= 0 {
		cfg.CalibrationPolls = def.CalibrationPolls
	}
	if cfg.ChannelDelay < 0 {
		cfg.ChannelDelay = def.ChannelDelay
	}
	return &Driver{
		bus:  bus,
		clk:  clk,
		log:  logging.OrNop(log),
		cfg:  cfg,
		busy: -1,
	}
}

// Resetter is implemented by buses that can issue the serial reset sequence.
type Resetter interface {
	Reset() error
}

// Init resets the device when the bus supports it, then configures both
// setups, the channel map, excitation and the control register. Channels are
// left disabled.
func (d *Driver) Init() error {
	if r, ok := d.bus.(Resetter); ok {
		if err := r.Reset(); err != nil {
			return errors.Wrap(err, "reset")
		}
		d.clk.Sleep(d.cfg.ChannelDelay)
	}
	d.chans = [NumChannels]channel{}
	d.busy = -1
	d.calibrated = [2]bool{}

	// setup 0: RTD, REFIN2 across R5, gain 1
	if err := d.update(ConfigReg(0), 0, ConfigValue(true, 0, 1, 0)); err != nil {
		return err
	}
	if err := d.update(FilterReg(0), 0, FilterValue(FilterSinc3, 384)); err != nil {
		return err
	}
	for i := 0; i < NumProbes; i++ {
		ainm := uint32(2*i + 3)
		if i == 3 {
			ainm = uint32(2*i - 1)
		}
		v := ChannelMap(0, uint32(2*i+1), ainm)
		if err := d.update(ChannelReg(i), ChEnable|chSetupMask|chAinPMask|chAinMMask, v); err != nil {
			return err
		}
		d.clk.Sleep(d.cfg.ChannelDelay)
	}
	if err := d.update(RegIOCon1, 0, IOut0Current(5)); err != nil {
		return err
	}

	// setup 1: thermocouple, internal reference, gain 32
	if err := d.update(ConfigReg(1), 0, ConfigValue(true, 0, 2, 5)); err != nil {
		return err
	}
	if err := d.update(FilterReg(1), 0, FilterValue(FilterSinc3, 384)); err != nil {
		return err
	}
	for i := 0; i < NumProbes; i++ {
		ainp := uint32(2 * i)
		if i == 3 {
			ainp = 6
		}
		v := ChannelMap(1, ainp, 15)
		if err := d.update(ChannelReg(TCChannel(i)), ChEnable|chSetupMask|chAinPMask|chAinMMask, v); err != nil {
			return err
		}
		d.clk.Sleep(d.cfg.ChannelDelay)
	}

	if err := d.update(RegControl, 0, CtrlDataStatus|CtrlRefEn|uint32(PowerLow)<<ctrlPowerShift); err != nil {
		return err
	}
	d.clk.Sleep(d.cfg.ChannelDelay)
	d.log.Infow("ADC initialized")
	return nil
}

// update performs a read-modify-write: bits in clear are cleared, then set is
// OR-ed in, and the result masked to the register width.
func (d *Driver) update(reg Register, clear, set uint32) error {
	v, err := d.bus.ReadRegister(reg)
	if err != nil {
		return errors.Wrapf(err, "read register 0x%02x", uint8(reg))
	}
	v = (v&^clear | set) & reg.Mask()
	if err := d.bus.WriteRegister(reg, v); err != nil {
		return errors.Wrapf(err, "write register 0x%02x", uint8(reg))
	}
	return nil
}

func checkChannel(ch int) error {
	if ch < 0 || ch >= NumChannels {
		return errors.Wrapf(ErrInvalidChannel, "%d", ch)
	}
	return nil
}

// EnableChannel sets the enable bit of ch.
func (d *Driver) EnableChannel(ch int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	err := d.update(ChannelReg(ch), 0, ChEnable)
	d.clk.Sleep(d.cfg.ChannelDelay)
	return err
}

// DisableChannel clears the enable bit of ch.
func (d *Driver) DisableChannel(ch int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	err := d.update(ChannelReg(ch), ChEnable, 0)
	d.clk.Sleep(d.cfg.ChannelDelay)
	return err
}

// EnableCurrentSource routes the IOUT0 excitation to the RTD of probe p.
func (d *Driver) EnableCurrentSource(p int) error {
	if p < 0 || p >= NumProbes {
		return errors.Wrapf(ErrInvalidChannel, "current source %d", p)
	}
	err := d.update(RegIOCon1, ioIout0ChMask, IOut0Channel(uint32(2*p+1)))
	d.clk.Sleep(d.cfg.ChannelDelay)
	return err
}

// SetPowerMode changes the ADC_Control power mode.
func (d *Driver) SetPowerMode(mode PowerMode) error {
	err := d.update(RegControl, ctrlPowerMask, uint32(mode)<<ctrlPowerShift)
	d.clk.Sleep(d.cfg.ChannelDelay)
	return err
}

// State returns the conversion state of ch.
func (d *Driver) State(ch int) State {
	if checkChannel(ch) != nil {
		return Idle
	}
	return d.chans[ch].state
}

// Cached returns the last completed code of ch.
func (d *Driver) Cached(ch int) uint32 {
	if checkChannel(ch) != nil {
		return 0
	}
	return d.chans[ch].cached
}

// Seq returns the number of conversions of ch that completed, including
// timed out ones.
func (d *Driver) Seq(ch int) uint32 {
	if checkChannel(ch) != nil {
		return 0
	}
	return d.chans[ch].seq
}

// Err returns the condition of the last finished conversion of ch.
func (d *Driver) Err(ch int) error {
	if checkChannel(ch) != nil {
		return ErrInvalidChannel
	}
	return d.chans[ch].err
}

// Busy returns the channel with a conversion in flight, or -1.
func (d *Driver) Busy() int { return d.busy }

// Read advances the conversion state machine of ch and returns the most
// recent completed code without blocking.
//
// An Idle channel starts a single conversion unless another channel is
// converting. A Converting channel is read once SettleDelay has passed and
// the device reports ready; after ConversionTimeout it is abandoned, TIMEOUT
// is logged and the cached code becomes 0. The read latency is therefore at
// least SettleDelay per channel and one conversion at a time.
func (d *Driver) Read(ch int) uint32 {
	if checkChannel(ch) != nil {
		return 0
	}
	c := &d.chans[ch]
	switch c.state {
	case Idle:
		if d.busy >= 0 {
			return c.cached
		}
		if err := d.start(ch); err != nil {
			d.log.Errorw("failed to start conversion", "channel", ch, "error", err)
			d.finish(ch, c.cached, err)
			return c.cached
		}
		c.state = Converting
		c.started = d.clk.Now()
		d.busy = ch
		return c.cached

	case Converting:
		elapsed := d.clk.Since(c.started)
		if elapsed < d.cfg.SettleDelay {
			return c.cached
		}
		ready, err := d.ready()
		if err != nil {
			d.log.Errorw("failed to read status", "channel", ch, "error", err)
			d.finish(ch, c.cached, err)
			return c.cached
		}
		if !ready {
			if elapsed >= d.cfg.ConversionTimeout {
				d.log.Warnw("TIMEOUT", "channel", ch, "elapsed", elapsed)
				d.finish(ch, 0, ErrConversionTimeout)
			}
			return c.cached
		}
		data, err := d.bus.ReadRegister(RegData)
		if err != nil {
			d.log.Errorw("failed to read data", "channel", ch, "error", err)
			d.finish(ch, c.cached, err)
			return c.cached
		}
		d.finish(ch, data, nil)
		return c.cached
	}
	return c.cached
}

// ReadBlocking converts ch and waits for the result, polling the ready flag
// at most PollBudget times. On timeout TIMEOUT is logged and 0 returned.
// It must not be mixed with an in-flight non-blocking conversion.
func (d *Driver) ReadBlocking(ch int) uint32 {
	if checkChannel(ch) != nil {
		return 0
	}
	if d.busy >= 0 {
		d.abort(d.busy)
	}
	if err := d.start(ch); err != nil {
		d.log.Errorw("failed to start conversion", "channel", ch, "error", err)
		d.finish(ch, 0, err)
		return 0
	}
	d.busy = ch
	for i := 0; i < d.cfg.PollBudget; i++ {
		ready, err := d.ready()
		if err != nil {
			d.log.Errorw("failed to read status", "channel", ch, "error", err)
			d.finish(ch, 0, err)
			return 0
		}
		if ready {
			data, err := d.bus.ReadRegister(RegData)
			if err != nil {
				d.finish(ch, 0, err)
				return 0
			}
			d.finish(ch, data, nil)
			return data
		}
		d.clk.Sleep(d.cfg.PollInterval)
	}
	d.log.Warnw("TIMEOUT", "channel", ch, "polls", d.cfg.PollBudget)
	d.finish(ch, 0, ErrConversionTimeout)
	return 0
}

func (d *Driver) start(ch int) error {
	if IsRTD(ch) {
		if err := d.EnableCurrentSource(ch); err != nil {
			return err
		}
	}
	if err := d.EnableChannel(ch); err != nil {
		return err
	}
	if err := d.bus.SetChipSelect(true); err != nil {
		return err
	}
	return d.bus.WriteRegister(RegControl, CtrlSingleConversion)
}

func (d *Driver) ready() (bool, error) {
	st, err := d.bus.ReadRegister(RegStatus)
	if err != nil {
		return false, err
	}
	return st&StatusNotReady == 0, nil
}

// finish releases the bus and returns ch to Idle with a new cached code.
func (d *Driver) finish(ch int, data uint32, cause error) {
	err := multierr.Append(cause, d.bus.SetChipSelect(false))
	err = multierr.Append(err, d.DisableChannel(ch))
	c := &d.chans[ch]
	c.state = Idle
	c.cached = data
	c.seq++
	c.err = err
	if d.busy == ch {
		d.busy = -1
	}
}

func (d *Driver) abort(ch int) {
	c := &d.chans[ch]
	_ = d.bus.SetChipSelect(false)
	_ = d.DisableChannel(ch)
	c.state = Idle
	d.busy = -1
}
