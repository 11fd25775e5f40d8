// Package pid implements the normalized PID controller with anti-windup used
// by every temperature channel.
package pid

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/itohio/thermoctl/pkg/filter"
)

// MinInputSpan is the smallest accepted |imax-imin|.
const MinInputSpan = 1.0

// ErrDegenerateInputLimits is reported when input limits are replaced by [0,1].
var ErrDegenerateInputLimits = errors.New("degenerate input limits")

// Config is one row of controller defaults.
type Config struct {
	Kp     float32 `yaml:"kp"`
	Ki     float32 `yaml:"ki"`
	Kd     float32 `yaml:"kd"`
	OutMax float32 `yaml:"out_max"`
	OutMin float32 `yaml:"out_min"`
	InMax  float32 `yaml:"in_max"`
	InMin  float32 `yaml:"in_min"`
	Alpha  float32 `yaml:"alpha"`
	Beta   float32 `yaml:"beta"`
}

// Controller is a PID loop working on inputs normalized to [0,1].
type Controller struct {
	kp, ki, kd     float32
	outMin, outMax float32
	scale, offset  float32

	integral float32
	output   float32

	filter filter.Filter
}

// New creates a controller from cfg with an alpha-beta input filter.
// Degenerate input limits are replaced silently; use SetInputLimits to observe them.
func New(cfg Config) *Controller {
	c := &Controller{
		filter: filter.NewAlphaBeta(cfg.Alpha, cfg.Beta),
	}
	c.SetGains(cfg.Kp, cfg.Ki, cfg.Kd)
	c.SetOutputLimits(cfg.OutMax, cfg.OutMin)
	_ = c.SetInputLimits(cfg.InMax, cfg.InMin)
	c.SetState(0)
	return c
}

// SetGains assigns the proportional, integral and derivative gains.
func (c *Controller) SetGains(kp, ki, kd float32) {
	c.kp, c.ki, c.kd = kp, ki, kd
}

// Gains returns kp, ki and kd.
func (c *Controller) Gains() (kp, ki, kd float32) {
	return c.kp, c.ki, c.kd
}

// SetOutputLimits sets the output clamp. Swapped bounds are reordered.
func (c *Controller) SetOutputLimits(omax, omin float32) {
	if omax < omin {
		omax, omin = omin, omax
	}
	c.outMax, c.outMin = omax, omin
}

// OutputLimits returns the output clamp.
func (c *Controller) OutputLimits() (omax, omin float32) {
	return c.outMax, c.outMin
}

// SetInputLimits maps [imin, imax] onto [0,1]. A span below MinInputSpan
// is replaced by [0, 1] and ErrDegenerateInputLimits is returned.
func (c *Controller) SetInputLimits(imax, imin float32) error {
	var err error
	if math32.Abs(imax-imin) < MinInputSpan {
		err = errors.Wrapf(ErrDegenerateInputLimits, "span %g..%g", imin, imax)
		imax, imin = MinInputSpan, 0
	}
	c.scale = 1 / (imax - imin)
	c.offset = -imin * c.scale
	return err
}

// InputLimits recovers imax and imin from the normalization.
func (c *Controller) InputLimits() (imax, imin float32) {
	inv := 1 / c.scale
	imin = -c.offset * inv
	imax = inv + imin
	return imax, imin
}

// Normalize maps a value in input units into the working domain.
func (c *Controller) Normalize(v float32) float32 {
	return v*c.scale + c.offset
}

// Denormalize maps a working domain value back to input units.
func (c *Controller) Denormalize(v float32) float32 {
	return (v - c.offset) / c.scale
}

// Scale returns the input normalization factor.
func (c *Controller) Scale() float32 { return c.scale }

// SetFilter replaces the measurement filter. The new filter starts at the
// current estimate.
func (c *Controller) SetFilter(f filter.Filter) {
	if f == nil {
		return
	}
	f.SetState(c.filter.Value())
	c.filter = f
}

// Filter returns the active measurement filter.
func (c *Controller) Filter() filter.Filter { return c.filter }

// SetState clears the output, integral and derivative and seeds the filter
// with input.
func (c *Controller) SetState(input float32) {
	c.output = 0
	c.integral = 0
	c.filter.SetState(c.Normalize(input))
}

// Update runs one control step with the shared tick and returns the clamped
// output. The integral is committed only when the output is not saturated.
func (c *Controller) Update(tick Tick, target, measurement float32) float32 {
	dt := tick.DT
	t := c.Normalize(target)
	x := c.Normalize(measurement)

	est := c.filter.Update(x, dt)
	e := t - est
	integral := c.integral + c.ki*e*dt
	out := c.kp*e + integral - c.kd*c.filter.Deriv()

	switch {
	case out > c.outMax:
		out = c.outMax
	case out < c.outMin:
		out = c.outMin
	default:
		c.integral = integral
	}
	c.output = out
	return out
}

// Output returns the most recent clamped output.
func (c *Controller) Output() float32 { return c.output }

// Integral returns the committed integral term.
func (c *Controller) Integral() float32 { return c.integral }

// Estimate returns the filtered measurement in input units.
func (c *Controller) Estimate() float32 {
	return c.Denormalize(c.filter.Value())
}

// Config returns the current settings as a Config row. Filter gains are
// reported only for the alpha-beta filter.
func (c *Controller) Config() Config {
	imax, imin := c.InputLimits()
	cfg := Config{
		Kp: c.kp, Ki: c.ki, Kd: c.kd,
		OutMax: c.outMax, OutMin: c.outMin,
		InMax: imax, InMin: imin,
	}
	if ab, ok := c.filter.(*filter.AlphaBeta); ok {
		cfg.Alpha, cfg.Beta = ab.Gains()
	}
	return cfg
}
