package pulse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordPin struct {
	writes []bool
}

func (p *recordPin) Set(high bool) { p.writes = append(p.writes, high) }

func run(duty float32, n int) []bool {
	e := New(nil)
	out := make([]bool, n)
	for i := range out {
		out[i] = e.Update(duty)
	}
	return out
}

func TestSaturated(t *testing.T) {
	for _, b := range run(0, 20) {
		assert.False(t, b)
	}
	for _, b := range run(-0.5, 20) {
		assert.False(t, b)
	}
	for _, b := range run(1, 20) {
		assert.True(t, b)
	}
	for _, b := range run(1.5, 20) {
		assert.True(t, b)
	}
}

func TestPatterns(t *testing.T) {
	const L, H = false, true
	tests := []struct {
		name string
		duty float32
		want []bool
	}{
		{"half", 0.5, []bool{L, H, L, H, L, H}},
		{"quarter", 0.25, []bool{L, L, L, H, L, L, L, H}},
		{"three quarters", 0.75, []bool{H, H, H, L, H, H, H, L}},
		{"0.6 below flip", 0.6, []bool{L, H, L, H}},
		{"0.4", 0.4, []bool{L, H, L, H}},
		{"tenth", 0.1, []bool{L, L, L, L, L, L, L, L, L, H}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, run(tt.duty, len(tt.want)))
		})
	}
}

func TestMirroredAboveFlip(t *testing.T) {
	low := run(0.2, 40)
	high := run(0.8, 40)
	for i := range low {
		assert.Equal(t, !low[i], high[i], "poll %d", i)
	}
}

func TestAverageDuty(t *testing.T) {
	// quarter duty yields exactly one high in four polls
	highs := 0
	for _, b := range run(0.25, 400) {
		if b {
			highs++
		}
	}
	assert.Equal(t, 100, highs)
}

func TestPollUsesStoredDuty(t *testing.T) {
	pin := &recordPin{}
	e := New(pin)
	e.SetDuty(0.5)
	assert.Equal(t, float32(0.5), e.Duty())

	e.Poll()
	e.Poll()
	assert.Equal(t, []bool{false, false, true}, pin.writes)
	assert.True(t, e.Level())
}

func TestSaturationResetsCycle(t *testing.T) {
	e := New(nil)
	e.Update(0.25)
	e.Update(0.25)
	e.Update(1)
	assert.False(t, e.Update(0.25))
	assert.False(t, e.Update(0.25))
	assert.False(t, e.Update(0.25))
	assert.True(t, e.Update(0.25))
}
