package controller

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/itohio/thermoctl/pkg/ad7124"
	"github.com/itohio/thermoctl/pkg/filter"
	"github.com/itohio/thermoctl/pkg/pid"
	"github.com/itohio/thermoctl/pkg/pulse"
	"github.com/itohio/thermoctl/pkg/thermo"
)

// NumChannels is the number of probe channels.
const NumChannels = ad7124.NumProbes

// ChannelID selects a probe channel. All addresses every channel.
type ChannelID int

// All selects every channel.
const All ChannelID = NumChannels

// ErrInvalidChannel is returned for channel ids outside 0..NumChannels.
var ErrInvalidChannel = errors.New("invalid channel")

// Valid reports whether id names a single channel.
func (id ChannelID) Valid() bool { return id >= 0 && id < NumChannels }

// KalmanConfig holds the Kalman parameters in input units.
type KalmanConfig struct {
	Error float32 `yaml:"error"`
	Q     float32 `yaml:"q"`
}

// ChannelConfig is the startup configuration of one channel.
type ChannelConfig struct {
	Sensor  string        `yaml:"sensor"`
	Enabled bool          `yaml:"enabled"`
	Target  float32       `yaml:"target"`
	PID     pid.Config    `yaml:"pid"`
	Filter  filter.Kind   `yaml:"filter"`
	Kalman  KalmanConfig  `yaml:"kalman"`
	Timeout time.Duration `yaml:"timeout"`
}

// Channel is one probe: its sensor, latest conversion, PID loop and actuator.
type Channel struct {
	id      ChannelID
	sensor  thermo.SensorType
	enabled bool
	target  float32
	timeout time.Duration
	since   time.Time

	cjCode, tcCode uint32
	cjSeq, tcSeq   uint32
	sampled        bool
	reading        thermo.Reading
	flag           thermo.ErrorFlag

	pid         *pid.Controller
	kind        filter.Kind
	alpha, beta float32
	kalman      KalmanConfig
	enc         *pulse.Encoder
}

// ID returns the channel id.
func (c *Channel) ID() ChannelID { return c.id }

// Sensor returns the thermocouple type.
func (c *Channel) Sensor() thermo.SensorType { return c.sensor }

// Enabled reports whether the control loop drives the actuator.
func (c *Channel) Enabled() bool { return c.enabled }

func (c *Channel) Target() float32 { return c.target }

func (c *Channel) SetTarget(t float32) { c.target = t }

// Raw returns the latest cold junction and thermocouple codes.
func (c *Channel) Raw() (cj, tc uint32) { return c.cjCode, c.tcCode }

// Reading returns the latest conversion result.
func (c *Channel) Reading() thermo.Reading { return c.reading }

// Temperature returns the unfiltered probe temperature.
func (c *Channel) Temperature() float32 { return c.reading.Temperature }

// Filtered returns the filtered probe temperature.
func (c *Channel) Filtered() float32 { return c.pid.Estimate() }

// Output returns the last controller output.
func (c *Channel) Output() float32 { return c.pid.Output() }

// PID exposes the channel controller.
func (c *Channel) PID() *pid.Controller { return c.pid }

// Encoder exposes the actuator encoder.
func (c *Channel) Encoder() *pulse.Encoder { return c.enc }

// Timeout returns how long the channel may stay enabled; 0 is unlimited.
func (c *Channel) Timeout() time.Duration { return c.timeout }

// SetTimeout limits how long the channel stays enabled. Non-positive
// durations remove the limit.
func (c *Channel) SetTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	c.timeout = d
}

// TakeError returns the range error latched since the previous call and
// clears it.
func (c *Channel) TakeError() thermo.ErrorFlag {
	f := c.flag
	c.flag = thermo.FlagNone
	return f
}

// FilterKind returns the active measurement filter.
func (c *Channel) FilterKind() filter.Kind { return c.kind }

// AlphaBeta returns the alpha-beta gains, kept while the Kalman filter is
// active.
func (c *Channel) AlphaBeta() (alpha, beta float32) { return c.alpha, c.beta }

// SetAlphaBeta switches to an alpha-beta filter with the given gains.
func (c *Channel) SetAlphaBeta(alpha, beta float32) {
	ab, ok := c.pid.Filter().(*filter.AlphaBeta)
	if !ok {
		ab = filter.NewAlphaBeta(alpha, beta)
		c.pid.SetFilter(ab)
		c.kind = filter.KindAlphaBeta
	}
	ab.SetGains(alpha, beta)
	c.alpha, c.beta = ab.Gains()
}

// Kalman returns the Kalman parameters in input units.
func (c *Channel) Kalman() (measErr, q float32) { return c.kalman.Error, c.kalman.Q }

// SetKalman switches to a Kalman filter. The measurement error is given in
// input units. Degenerate parameters still switch the filter, which then
// holds its estimate, and the error is returned.
func (c *Channel) SetKalman(measErr, q float32) error {
	c.kalman = KalmanConfig{Error: measErr, Q: q}
	k, ok := c.pid.Filter().(*filter.Kalman)
	if !ok {
		k = filter.NewKalman(1, 0)
		c.pid.SetFilter(k)
		c.kind = filter.KindKalman
	}
	return k.SetGains(measErr*c.pid.Scale(), q)
}

// SetFilterKind switches the measurement filter using the stored gains.
func (c *Channel) SetFilterKind(kind filter.Kind) error {
	switch kind {
	case filter.KindAlphaBeta:
		c.SetAlphaBeta(c.alpha, c.beta)
		return nil
	case filter.KindKalman:
		return c.SetKalman(c.kalman.Error, c.kalman.Q)
	}
	return errors.Errorf("unknown filter %q", kind)
}

// SetFilterState moves the filter estimate to v in input units.
func (c *Channel) SetFilterState(v float32) {
	c.pid.Filter().SetState(c.pid.Normalize(v))
}

// SetInputLimits changes the controller input range keeping the filtered
// estimate. The Kalman measurement error follows the new scale; a degenerate
// Kalman setting is reported along with any limits error.
func (c *Channel) SetInputLimits(imax, imin float32) error {
	est := c.pid.Estimate()
	err := c.pid.SetInputLimits(imax, imin)
	if k, ok := c.pid.Filter().(*filter.Kalman); ok {
		err = multierr.Append(err, k.SetGains(c.kalman.Error*c.pid.Scale(), c.kalman.Q))
	}
	c.SetFilterState(est)
	return err
}
