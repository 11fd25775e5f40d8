package filter

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlphaBetaGainsClamped(t *testing.T) {
	tests := []struct {
		name        string
		alpha, beta float32
		wantA       float32
		wantB       float32
	}{
		{"in range", 0.5, 0.05, 0.5, 0.05},
		{"negative", -1, -0.2, 0, 0},
		{"above one", 3, 1.5, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewAlphaBeta(tt.alpha, tt.beta)
			a, b := f.Gains()
			assert.Equal(t, tt.wantA, a)
			assert.Equal(t, tt.wantB, b)
		})
	}
}

func TestAlphaBetaSetGain(t *testing.T) {
	f := NewAlphaBeta(0, 0)
	f.SetGain(0.4)
	a, b := f.Gains()
	assert.InDelta(t, 0.4, a, 1e-6)
	assert.InDelta(t, 0.08, b, 1e-6)
}

func TestAlphaBetaStep(t *testing.T) {
	f := NewAlphaBeta(0.5, 0.1)
	got := f.Update(10, 0.5)
	// delta = 10: x = 0 + 0 + 5, dx = 0.1*10/0.5
	assert.InDelta(t, 5, got, 1e-6)
	assert.InDelta(t, 2, f.Deriv(), 1e-6)

	got = f.Update(10, 0.5)
	// delta = 5: x = 5 + 2*0.5 + 2.5, dx = 2 + 0.1*5/0.5
	assert.InDelta(t, 8.5, got, 1e-6)
	assert.InDelta(t, 3, f.Deriv(), 1e-6)
}

func TestAlphaBetaConverges(t *testing.T) {
	f := NewAlphaBeta(0.5, 0.05)
	for n := 0; n < 500; n++ {
		f.Update(10, 0.1)
	}
	assert.InDelta(t, 10, f.Value(), 1e-3)
	assert.InDelta(t, 0, f.Deriv(), 1e-3)
}

func TestAlphaBetaSetState(t *testing.T) {
	f := NewAlphaBeta(0.5, 0.05)
	f.Update(3, 1)
	f.SetState(7)
	assert.Equal(t, float32(7), f.Value())
	assert.Equal(t, float32(0), f.Deriv())
}

func TestKalmanDegenerate(t *testing.T) {
	tests := []struct {
		name    string
		err, q  float32
		wantErr bool
		wantE   float32
		wantQ   float32
	}{
		{"valid", 1.1, 0.2, false, 1.1, 0.2},
		{"zero error", 0, 0.2, true, 1, 0},
		{"negative q", 1, -1, true, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewKalman(1, 1)
			err := f.SetGains(tt.err, tt.q)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrDegenerateParameters))
			} else {
				require.NoError(t, err)
			}
			e, q := f.Gains()
			assert.InDelta(t, tt.wantE, e, 1e-6)
			assert.InDelta(t, tt.wantQ, q, 1e-6)
		})
	}
}

func TestKalmanStep(t *testing.T) {
	f := NewKalman(1, 0.1)
	got := f.Update(1, 0.5)
	// gain = 1/(1+1), variance = 0.5*1 + (1*0.1)^2
	assert.InDelta(t, 0.5, got, 1e-6)
	assert.InDelta(t, 0.51, f.Variance(), 1e-6)
	assert.InDelta(t, 1, f.Deriv(), 1e-6)
}

func TestKalmanConverges(t *testing.T) {
	f := NewKalman(1.1, 0.2)
	for n := 0; n < 300; n++ {
		f.Update(25, 1)
	}
	assert.InDelta(t, 25, f.Value(), 0.01)
}

func TestKalmanVarianceNonIncreasing(t *testing.T) {
	f := NewKalman(1, 0.1)
	prev := f.Variance()
	for i := 0; i < 200; i++ {
		f.Update(1, 1)
		v := f.Variance()
		assert.LessOrEqual(t, v, prev, "step %d", i)
		prev = v
	}
	assert.InDelta(t, 1, f.Value(), 0.01)
}

func TestKalmanFreezesWhenDegenerate(t *testing.T) {
	f := NewKalman(0, 0)
	for n := 0; n < 1000; n++ {
		f.Update(100, 1)
	}
	frozen := f.Value()
	f.Update(1000, 1)
	assert.InDelta(t, frozen, f.Value(), 1)
}

func TestKalmanReset(t *testing.T) {
	f := NewKalman(1, 0.1)
	f.Update(5, 1)
	f.Reset(2)
	assert.Equal(t, float32(2), f.Value())
	assert.Equal(t, float32(1), f.Variance())
}
