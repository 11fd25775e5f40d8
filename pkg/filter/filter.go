// Package filter provides the scalar smoothers used in front of the PID loop.
package filter

import "github.com/pkg/errors"

// ErrDegenerateParameters is reported when filter parameters are replaced by
// safe defaults.
var ErrDegenerateParameters = errors.New("degenerate filter parameters")

// Filter smooths a scalar measurement and estimates its rate of change.
type Filter interface {
	// Update feeds one measurement taken dt seconds after the previous one
	// and returns the new estimate.
	Update(x, dt float32) float32
	// Value is the current estimate.
	Value() float32
	// Deriv is the current derivative estimate per second.
	Deriv() float32
	// SetState resets the estimate to x and the derivative to zero.
	SetState(x float32)
}

// Kind selects a Filter implementation.
type Kind string

const (
	KindAlphaBeta Kind = "alpha-beta"
	KindKalman    Kind = "kalman"
)

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
