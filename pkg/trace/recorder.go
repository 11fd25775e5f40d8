// Package trace records a sliding window of controller status for display.
package trace

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"github.com/itohio/thermoctl/pkg/controller"
	"github.com/itohio/thermoctl/pkg/link"
)

// N is the number of recorded channels.
const N = controller.NumChannels

// Rate is the filtered temperature slope of every channel in °C/s.
type Rate [N]float32

// Snapshot is the recorder content handed to update callbacks.
// Rates[i] is the slope between Samples[i] and Samples[i+1].
type Snapshot struct {
	Samples []link.Status
	Rates   []Rate
	Settled [N]time.Time // zero when the channel is not settled
}

// Recorder keeps the samples of the last window, ordered oldest first, and
// tracks when each enabled channel settled within band of its target.
type Recorder struct {
	window time.Duration
	band   float32

	mu       sync.RWMutex
	samples  []link.Status
	rates    []Rate
	settled  [N]time.Time
	shutdown bool

	cbMu      sync.RWMutex
	callbacks []func(Snapshot)
}

// New creates a recorder keeping window of history. A channel counts as
// settled while enabled and within band °C of its target.
func New(window time.Duration, band float32) *Recorder {
	return &Recorder{window: window, band: band}
}

// Process records samples from input until it is closed.
func (r *Recorder) Process(input <-chan link.Status) {
	for st := range input {
		r.Add(st)
	}
	r.mu.Lock()
	r.shutdown = true
	r.mu.Unlock()
}

// Reset clears the history and re-enables callbacks.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = r.samples[:0]
	r.rates = r.rates[:0]
	r.settled = [N]time.Time{}
	r.shutdown = false
}

// SetLimits changes the history window and the settle band. Older samples
// are dropped on the next Add.
func (r *Recorder) SetLimits(window time.Duration, band float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window = window
	r.band = band
}

// Add records one sample and notifies the callbacks.
func (r *Recorder) Add(st link.Status) {
	r.mu.Lock()
	r.samples = append(r.samples, st)

	cutoff := st.Time.Add(-r.window)
	drop := 0
	for drop < len(r.samples)-1 && !r.samples[drop].Time.After(cutoff) {
		drop++
	}
	if drop > 0 {
		r.samples = append(r.samples[:0], r.samples[drop:]...)
		if drop <= len(r.rates) {
			r.rates = append(r.rates[:0], r.rates[drop:]...)
		} else {
			r.rates = r.rates[:0]
		}
	}

	if n := len(r.samples); n >= 2 {
		prev, curr := r.samples[n-2], r.samples[n-1]
		if dt := float32(curr.Time.Sub(prev.Time).Seconds()); dt > 0 {
			var rate Rate
			for i := range rate {
				rate[i] = (curr.Filtered[i] - prev.Filtered[i]) / dt
			}
			r.rates = append(r.rates, rate)
		} else {
			// a repeated timestamp replaces the previous sample
			r.samples = append(r.samples[:n-2], curr)
		}
	}

	for i := range r.settled {
		diff := st.Filtered[i] - st.Target[i]
		in := st.Enabled[i] && diff <= r.band && diff >= -r.band
		switch {
		case !in:
			r.settled[i] = time.Time{}
		case r.settled[i].IsZero():
			r.settled[i] = st.Time
		}
	}

	notify := !r.shutdown
	snap := r.snapshot()
	r.mu.Unlock()

	if notify {
		r.notify(snap)
	}
}

// Samples returns a copy of the recorded samples.
func (r *Recorder) Samples() []link.Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]link.Status(nil), r.samples...)
}

// Rates returns a copy of the recorded slopes.
func (r *Recorder) Rates() []Rate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Rate(nil), r.rates...)
}

// Settled reports since when channel ch has been settled.
func (r *Recorder) Settled(ch controller.ChannelID) (time.Time, bool) {
	if !ch.Valid() {
		return time.Time{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settled[ch], !r.settled[ch].IsZero()
}

// Mean averages the filtered temperature of ch over the last d.
func (r *Recorder) Mean(ch controller.ChannelID, d time.Duration) (float64, error) {
	if !ch.Valid() {
		return 0, errors.Wrapf(controller.ErrInvalidChannel, "%d", ch)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.samples) == 0 {
		return stats.Mean(nil)
	}
	from := r.samples[len(r.samples)-1].Time.Add(-d)
	var data stats.Float64Data
	for _, s := range r.samples {
		if !s.Time.Before(from) {
			data = append(data, float64(s.Filtered[ch]))
		}
	}
	return stats.Mean(data)
}

// OnUpdate registers a callback run after every recorded sample. Callbacks
// receive copies and should return quickly.
func (r *Recorder) OnUpdate(cb func(Snapshot)) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

func (r *Recorder) snapshot() Snapshot {
	return Snapshot{
		Samples: append([]link.Status(nil), r.samples...),
		Rates:   append([]Rate(nil), r.rates...),
		Settled: r.settled,
	}
}

func (r *Recorder) notify(snap Snapshot) {
	r.cbMu.RLock()
	callbacks := make([]func(Snapshot), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.cbMu.RUnlock()

	for _, cb := range callbacks {
		if cb != nil {
			cb(snap)
		}
	}
}
