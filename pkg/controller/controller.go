// Package controller owns the probe channels and runs the control tick:
// ADC sampling, linearization, filtering, PID and pulse encoding.
package controller

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/itohio/thermoctl/pkg/ad7124"
	"github.com/itohio/thermoctl/pkg/filter"
	"github.com/itohio/thermoctl/pkg/logging"
	"github.com/itohio/thermoctl/pkg/pid"
	"github.com/itohio/thermoctl/pkg/pulse"
	"github.com/itohio/thermoctl/pkg/thermo"
)

// DefaultPrimePoll is the pause between ADC polls while priming.
const DefaultPrimePoll = 10 * time.Millisecond

// ADC is the part of the AD7124 driver used by the controller.
type ADC interface {
	Init() error
	CalibrateAll() error
	Read(ch int) uint32
	Seq(ch int) uint32
	Err(ch int) error
}

var _ ADC = (*ad7124.Driver)(nil)

// Options configures a Controller.
type Options struct {
	Channels []ChannelConfig
	// TCOffset is added to every thermocouple voltage, mV.
	TCOffset float32
	// PrimePoll is the pause between ADC polls in Prime.
	PrimePoll time.Duration
}

// Controller runs all channels. It is not safe for concurrent use; a single
// goroutine must own it.
type Controller struct {
	adc   ADC
	clk   clock.Clock
	log   logging.Logger
	timer *pid.Timer

	tcOffset  float32
	primePoll time.Duration

	chans      [NumChannels]Channel
	tick       pid.Tick
	calibrated bool
}

// New creates a controller. Channels without configuration keep zero gains
// and the fallback sensor type; pins may be shorter than NumChannels.
func New(adc ADC, pins []pulse.Pin, clk clock.Clock, log logging.Logger, opts Options) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	if opts.PrimePoll <= 0 {
		opts.PrimePoll = DefaultPrimePoll
	}
	c := &Controller{
		adc:       adc,
		clk:       clk,
		log:       logging.OrNop(log),
		timer:     pid.NewTimer(clk),
		tcOffset:  opts.TCOffset,
		primePoll: opts.PrimePoll,
	}
	for i := range c.chans {
		var cfg ChannelConfig
		if i < len(opts.Channels) {
			cfg = opts.Channels[i]
		}
		var pin pulse.Pin
		if i < len(pins) {
			pin = pins[i]
		}
		c.initChannel(ChannelID(i), cfg, pin)
	}
	return c
}

func (c *Controller) initChannel(id ChannelID, cfg ChannelConfig, pin pulse.Pin) {
	ch := &c.chans[id]
	*ch = Channel{
		id:     id,
		target: cfg.Target,
		pid:    pid.New(cfg.PID),
		kind:   filter.KindAlphaBeta,
		kalman: cfg.Kalman,
		enc:    pulse.New(pin),
	}
	row := ch.pid.Config()
	ch.alpha, ch.beta = row.Alpha, row.Beta
	ch.SetTimeout(cfg.Timeout)
	ch.sensor = c.parseSensor(id, cfg.Sensor)
	if cfg.Filter == filter.KindKalman {
		if err := ch.SetKalman(cfg.Kalman.Error, cfg.Kalman.Q); err != nil {
			c.log.Warnw("degenerate kalman parameters", "channel", id, "error", err)
		}
	}
	if cfg.Enabled {
		c.enable(ch)
	}
}

func (c *Controller) parseSensor(id ChannelID, s string) thermo.SensorType {
	if s == "" {
		return thermo.FallbackSensorType
	}
	t, err := thermo.ParseSensorType(s[0])
	if err != nil {
		c.log.Warnw("invalid sensor type", "channel", id, "type", s, "fallback", t)
	}
	return t
}

// Channel returns channel id, or nil when id is not a single channel.
func (c *Controller) Channel(id ChannelID) *Channel {
	if !id.Valid() {
		return nil
	}
	return &c.chans[id]
}

// Select returns the channels addressed by id: one channel or, for All, every
// channel in order.
func (c *Controller) Select(id ChannelID) ([]*Channel, error) {
	if id == All {
		out := make([]*Channel, NumChannels)
		for i := range c.chans {
			out[i] = &c.chans[i]
		}
		return out, nil
	}
	if !id.Valid() {
		return nil, errors.Wrapf(ErrInvalidChannel, "%d", id)
	}
	return []*Channel{&c.chans[id]}, nil
}

// Calibrated reports whether Setup completed both calibrations.
func (c *Controller) Calibrated() bool { return c.calibrated }

// Setup assigns sensor types, one character per channel ("0" or an empty
// string keeps the configured types), then initializes and calibrates the
// ADC. Invalid characters select the fallback type.
func (c *Controller) Setup(types string) error {
	if types != "0" {
		for i := 0; i < len(types) && i < NumChannels; i++ {
			c.SetSensor(ChannelID(i), types[i])
		}
	}
	c.calibrated = false
	if err := c.adc.Init(); err != nil {
		return errors.Wrap(err, "init adc")
	}
	if err := c.adc.CalibrateAll(); err != nil {
		return errors.Wrap(err, "calibrate adc")
	}
	c.calibrated = true
	c.log.Infow("CALIBRATED", "types", c.SensorTypes())
	return nil
}

// SetSensor changes the sensor type of channel id from its letter.
func (c *Controller) SetSensor(id ChannelID, letter byte) {
	ch := c.Channel(id)
	if ch == nil {
		return
	}
	t, err := thermo.ParseSensorType(letter)
	if err != nil {
		c.log.Warnw("invalid sensor type", "channel", id, "type", string(letter), "fallback", t)
	}
	ch.sensor = t
}

// SensorTypes returns the type letters of every channel.
func (c *Controller) SensorTypes() string {
	b := make([]byte, NumChannels)
	for i := range c.chans {
		b[i] = c.chans[i].sensor.Letter()
	}
	return string(b)
}

// Prime collects n conversions of every channel, averages the valid
// temperatures and seeds each controller with the average.
func (c *Controller) Prime(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	samples := make([]stats.Float64Data, NumChannels)
	counts := make([]int, NumChannels)
	for {
		done := true
		for i := range c.chans {
			if counts[i] >= n {
				continue
			}
			done = false
			ch := &c.chans[i]
			if !c.sample(ch) {
				continue
			}
			counts[i]++
			if ch.reading.Flag == thermo.FlagNone {
				samples[i] = append(samples[i], float64(ch.reading.Temperature))
			}
		}
		if done {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.clk.Sleep(c.primePoll)
	}

	for i := range c.chans {
		ch := &c.chans[i]
		mean, err := stats.Mean(samples[i])
		if err != nil {
			c.log.Warnw("no valid samples to prime", "channel", i, "samples", counts[i])
			ch.pid.SetState(0)
			continue
		}
		ch.pid.SetState(float32(mean))
		c.log.Debugw("primed", "channel", i, "temperature", mean, "samples", len(samples[i]))
	}
	return nil
}

// Tick runs one control cycle. The time step is taken once and shared by
// every channel.
func (c *Controller) Tick() pid.Tick {
	tick := c.timer.Begin()
	c.tick = tick
	for i := range c.chans {
		ch := &c.chans[i]
		c.expire(ch, tick.Now)
		c.sample(ch)
		if ch.enabled {
			c.control(ch, tick)
		} else {
			ch.enc.SetDuty(0)
		}
		ch.enc.Poll()
	}
	return tick
}

// LastTick returns the time step of the latest Tick.
func (c *Controller) LastTick() pid.Tick { return c.tick }

// sample polls both ADC channels of ch and converts a new thermocouple
// result. It reports whether a new result was converted.
func (c *Controller) sample(ch *Channel) bool {
	cjCh, tcCh := ad7124.RTDChannel(int(ch.id)), ad7124.TCChannel(int(ch.id))
	ch.cjCode = c.adc.Read(cjCh)
	ch.tcCode = c.adc.Read(tcCh)

	cjSeq, tcSeq := c.adc.Seq(cjCh), c.adc.Seq(tcCh)
	if cjSeq == 0 || tcSeq == ch.tcSeq {
		return false
	}
	ch.cjSeq, ch.tcSeq = cjSeq, tcSeq

	// a timed out conversion leaves a zero code behind
	if c.timedOut(cjCh) || c.timedOut(tcCh) {
		ch.reading.Flag = thermo.FlagTimeout
		ch.sampled = true
		ch.flag = thermo.FlagTimeout
		c.log.Warnw("conversion timeout", "channel", ch.id, "cj", cjSeq, "tc", tcSeq)
		return true
	}

	r := thermo.Convert(ch.sensor,
		ad7124.DataToResistance(ch.cjCode),
		ad7124.DataToVoltage(ch.tcCode, false)+c.tcOffset)
	ch.reading = r
	ch.sampled = true
	if r.Flag != thermo.FlagNone {
		ch.flag = r.Flag
		c.log.Debugw("range error", "channel", ch.id, "flag", r.Flag, "voltage", r.Compensated)
	}
	return true
}

func (c *Controller) timedOut(adcCh int) bool {
	return errors.Is(c.adc.Err(adcCh), ad7124.ErrConversionTimeout)
}

func (c *Controller) control(ch *Channel, tick pid.Tick) {
	if !ch.sampled || ch.reading.Flag != thermo.FlagNone {
		return
	}
	out := ch.pid.Update(tick, ch.target, ch.reading.Temperature)
	ch.enc.SetDuty(out)
}

func (c *Controller) expire(ch *Channel, now time.Time) {
	if !ch.enabled || ch.timeout <= 0 {
		return
	}
	if now.Sub(ch.since) >= ch.timeout {
		c.log.Infow("channel timed out", "channel", ch.id, "timeout", ch.timeout)
		c.disable(ch)
	}
}

// Enable starts closed loop control of the addressed channels. The timer
// restarts and the controller is seeded with the current filtered estimate.
func (c *Controller) Enable(id ChannelID) error {
	chans, err := c.Select(id)
	if err != nil {
		return err
	}
	for _, ch := range chans {
		if !ch.enabled {
			c.enable(ch)
		}
	}
	return nil
}

// Disable stops control of the addressed channels and drives their outputs low.
func (c *Controller) Disable(id ChannelID) error {
	chans, err := c.Select(id)
	if err != nil {
		return err
	}
	for _, ch := range chans {
		c.disable(ch)
	}
	return nil
}

func (c *Controller) enable(ch *Channel) {
	ch.enabled = true
	ch.since = c.clk.Now()
	ch.pid.SetState(ch.pid.Estimate())
}

func (c *Controller) disable(ch *Channel) {
	ch.enabled = false
	ch.enc.SetDuty(0)
	ch.enc.Update(0)
}

// Timer returns how long channel id has been enabled, 0 when disabled.
func (c *Controller) Timer(id ChannelID) time.Duration {
	ch := c.Channel(id)
	if ch == nil || !ch.enabled {
		return 0
	}
	return c.clk.Since(ch.since)
}
