// Package pulse approximates a duty ratio with a pulse train sampled once per
// poll, for actuators driven from a plain GPIO without a PWM timer.
package pulse

import "github.com/chewxy/math32"

// DutyFlip is the duty above which the emitted bit is inverted, moving the
// pattern change away from 0.5.
const DutyFlip = float32(2.0 / 3.0)

// Pin is a digital output. machine.Pin satisfies it.
type Pin interface {
	Set(high bool)
}

// Encoder emits one output bit per poll.
type Encoder struct {
	pin   Pin
	duty  float32
	count int
	level bool
}

// New creates an encoder driving pin and sets it low.
func New(pin Pin) *Encoder {
	e := &Encoder{pin: pin}
	e.write(false)
	return e
}

// SetDuty stores the duty used by Poll.
func (e *Encoder) SetDuty(duty float32) { e.duty = duty }

// Duty returns the stored duty.
func (e *Encoder) Duty() float32 { return e.duty }

// Level returns the last emitted bit.
func (e *Encoder) Level() bool { return e.level }

// Poll emits the next bit for the stored duty.
func (e *Encoder) Poll() bool { return e.Update(e.duty) }

// Update emits the next bit for duty. Saturated duties reset the cycle.
// Otherwise the output stays low for floor(gain) polls and goes high for one,
// where gain is the ratio of the longer to the shorter phase.
func (e *Encoder) Update(duty float32) bool {
	e.count++

	var bit bool
	switch {
	case duty <= 0:
		e.count = 0
	case duty >= 1:
		e.count = 0
		bit = true
	default:
		var gain float32
		if duty < 0.5 {
			gain = (1 - duty) / duty
		} else {
			gain = duty / (1 - duty)
		}
		if e.count > int(math32.Floor(gain)) {
			bit = true
			e.count = 0
		}
		if duty >= DutyFlip {
			bit = !bit
		}
	}

	e.write(bit)
	return bit
}

func (e *Encoder) write(bit bool) {
	e.level = bit
	if e.pin != nil {
		e.pin.Set(bit)
	}
}
