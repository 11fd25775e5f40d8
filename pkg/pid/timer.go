package pid

import (
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultDT is the time step of the first tick, in seconds.
const DefaultDT = 1.0

// Tick is the per-cycle context shared by every channel update within one
// control cycle.
type Tick struct {
	DT  float32 // seconds since the previous tick
	Now time.Time
}

// Timer produces one Tick per control cycle.
type Timer struct {
	clk     clock.Clock
	last    time.Time
	dt      float32
	started bool
}

// NewTimer creates a timer on clk. A nil clock uses the wall clock.
func NewTimer(clk clock.Clock) *Timer {
	if clk == nil {
		clk = clock.New()
	}
	return &Timer{clk: clk, dt: DefaultDT}
}

// Begin measures the time since the previous call and returns the tick
// context. It must be called exactly once per control cycle. The first call
// returns DefaultDT; a non-positive elapsed time repeats the previous step.
func (t *Timer) Begin() Tick {
	now := t.clk.Now()
	if !t.started {
		t.started = true
		t.last = now
		return Tick{DT: t.dt, Now: now}
	}
	if dt := float32(now.Sub(t.last).Seconds()); dt > 0 {
		t.dt = dt
	}
	t.last = now
	return Tick{DT: t.dt, Now: now}
}

// DT returns the step of the most recent tick.
func (t *Timer) DT() float32 { return t.dt }
