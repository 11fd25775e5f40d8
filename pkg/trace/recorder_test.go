package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/thermoctl/pkg/controller"
	"github.com/itohio/thermoctl/pkg/link"
)

var epoch = time.Unix(1700000000, 0)

func status(sec float64, filtered float32) link.Status {
	st := link.Status{Time: epoch.Add(time.Duration(sec * float64(time.Second)))}
	for i := range st.Filtered {
		st.Filtered[i] = filtered * float32(i+1)
		st.Target[i] = 50
	}
	return st
}

func TestRecorderRates(t *testing.T) {
	r := New(time.Minute, 1)

	r.Add(status(0, 20))
	assert.Empty(t, r.Rates())
	r.Add(status(2, 30))
	r.Add(status(4, 30))

	rates := r.Rates()
	require.Len(t, rates, 2)
	assert.InDelta(t, 5, rates[0][0], 1e-4)
	assert.InDelta(t, 20, rates[0][3], 1e-4)
	assert.InDelta(t, 0, rates[1][0], 1e-4)
	assert.Len(t, r.Samples(), 3)
}

func TestRecorderWindow(t *testing.T) {
	r := New(10*time.Second, 1)

	for i := 0; i <= 30; i++ {
		r.Add(status(float64(i), float32(i)))
	}

	samples := r.Samples()
	require.Len(t, samples, 10)
	assert.Equal(t, epoch.Add(21*time.Second), samples[0].Time)
	assert.Equal(t, epoch.Add(30*time.Second), samples[9].Time)
	assert.Len(t, r.Rates(), len(samples)-1)
}

func TestRecorderRepeatedTimestamp(t *testing.T) {
	r := New(time.Minute, 1)

	r.Add(status(0, 10))
	r.Add(status(1, 11))
	r.Add(status(1, 12))

	samples := r.Samples()
	require.Len(t, samples, 2)
	assert.Equal(t, float32(12), samples[1].Filtered[0])
	assert.Len(t, r.Rates(), 1)
}

func TestRecorderSettled(t *testing.T) {
	r := New(time.Minute, 1)

	st := status(0, 49.5)
	r.Add(st)
	_, ok := r.Settled(0)
	assert.False(t, ok, "disabled channels never settle")

	st = status(1, 49.5)
	st.Enabled[0] = true
	r.Add(st)
	st = status(2, 50.4)
	st.Enabled[0] = true
	r.Add(st)

	since, ok := r.Settled(0)
	require.True(t, ok)
	assert.Equal(t, epoch.Add(time.Second), since)

	st = status(3, 52)
	st.Enabled[0] = true
	r.Add(st)
	_, ok = r.Settled(0)
	assert.False(t, ok)

	_, ok = r.Settled(controller.All)
	assert.False(t, ok)
}

func TestRecorderMean(t *testing.T) {
	r := New(time.Minute, 1)

	_, err := r.Mean(0, time.Second)
	assert.Error(t, err)

	for i := 0; i < 10; i++ {
		r.Add(status(float64(i), float32(i)))
	}
	m, err := r.Mean(0, 3*time.Second)
	require.NoError(t, err)
	assert.InDelta(t, 7.5, m, 1e-9)

	_, err = r.Mean(controller.All, time.Second)
	assert.ErrorIs(t, err, controller.ErrInvalidChannel)
}

func TestRecorderCallbacks(t *testing.T) {
	r := New(time.Minute, 1)
	var got []Snapshot
	r.OnUpdate(func(s Snapshot) { got = append(got, s) })

	r.Add(status(0, 1))
	r.Add(status(1, 2))
	require.Len(t, got, 2)
	assert.Len(t, got[1].Samples, 2)
	assert.Len(t, got[1].Rates, 1)

	// snapshots are copies
	got[1].Samples[0].Filtered[0] = 99
	assert.Equal(t, float32(1), r.Samples()[0].Filtered[0])
}

func TestRecorderProcess(t *testing.T) {
	r := New(time.Minute, 1)
	calls := 0
	r.OnUpdate(func(Snapshot) { calls++ })

	in := make(chan link.Status, 3)
	in <- status(0, 1)
	in <- status(1, 2)
	close(in)
	r.Process(in)

	assert.Equal(t, 2, calls)
	r.Add(status(2, 3))
	assert.Equal(t, 2, calls, "no callbacks after shutdown")

	r.Reset()
	assert.Empty(t, r.Samples())
	r.Add(status(3, 3))
	assert.Equal(t, 3, calls)
}

func TestRecorderSetLimits(t *testing.T) {
	r := New(time.Minute, 1)
	for i := 0; i < 10; i++ {
		r.Add(status(float64(i), 20))
	}
	r.SetLimits(3*time.Second, 1)
	r.Add(status(10, 20))

	samples := r.Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, status(8, 20).Time, samples[0].Time)
	assert.Len(t, r.Rates(), 2)
}
