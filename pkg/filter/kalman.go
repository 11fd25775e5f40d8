package filter

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

var _ Filter = (*Kalman)(nil)

// Kalman is a one dimensional Kalman filter with a constant state model.
// The process term is the squared correction scaled by q, which lets the
// variance grow back when the measurement moves.
type Kalman struct {
	measVar float32
	q       float32

	x, v float32
	dx   float32
}

// NewKalman creates a filter from the measurement error (standard deviation)
// and process gain q. Degenerate values fall back as in SetGains.
func NewKalman(measErr, q float32) *Kalman {
	f := &Kalman{v: 1}
	_ = f.SetGains(measErr, q)
	return f
}

// SetGains assigns the measurement error and process gain. When either is not
// positive the filter falls back to unit measurement variance and q = 0 and
// ErrDegenerateParameters is returned; the filter remains usable.
func (f *Kalman) SetGains(measErr, q float32) error {
	if measErr > 0 && q > 0 {
		f.measVar = measErr * measErr
		f.q = q
		return nil
	}
	f.measVar = 1
	f.q = 0
	return errors.Wrapf(ErrDegenerateParameters, "error=%g q=%g", measErr, q)
}

// Gains returns the measurement error and process gain.
func (f *Kalman) Gains() (measErr, q float32) {
	return math32.Sqrt(f.measVar), f.q
}

// Variance returns the current estimate variance.
func (f *Kalman) Variance() float32 { return f.v }

func (f *Kalman) Update(x, dt float32) float32 {
	gain := f.v / (f.v + f.measVar)
	delta := x - f.x
	scaled := delta * f.q
	f.v = (1-gain)*f.v + scaled*scaled
	prev := f.x
	f.x += gain * delta
	if dt > 0 {
		f.dx = (f.x - prev) / dt
	}
	return f.x
}

func (f *Kalman) Value() float32 { return f.x }
func (f *Kalman) Deriv() float32 { return f.dx }

// SetState resets the estimate; the variance keeps its learned value.
func (f *Kalman) SetState(x float32) {
	f.x = x
	f.dx = 0
}

// Reset restores the initial unit variance and sets the estimate to x.
func (f *Kalman) Reset(x float32) {
	f.SetState(x)
	f.v = 1
}
