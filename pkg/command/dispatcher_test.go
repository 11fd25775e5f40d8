package command_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/itohio/thermoctl/pkg/ad7124"
	"github.com/itohio/thermoctl/pkg/command"
	"github.com/itohio/thermoctl/pkg/controller"
	"github.com/itohio/thermoctl/pkg/filter"
	"github.com/itohio/thermoctl/pkg/hal"
	"github.com/itohio/thermoctl/pkg/pid"
)

type fixture struct {
	ctrl *controller.Controller
	disp *command.Dispatcher
	clk  *hal.SimClock
	logs *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core).Sugar()
	clk := hal.NewSimClock()
	drv := ad7124.New(hal.NewSimADC(clk, nil), clk, nil, ad7124.DefaultConfig())
	ctrl := controller.New(drv, nil, clk, log, controller.Options{
		Channels: []controller.ChannelConfig{
			{Sensor: "K", PID: pid.Config{Kp: 15, Ki: 0.25, Kd: 20, OutMax: 1, InMax: 100, Alpha: 0.5, Beta: 0.05}},
			{Sensor: "J", PID: pid.Config{Kp: 0.75, Ki: 0.01, Kd: 8, OutMax: 1, InMax: 100, Alpha: 0.5, Beta: 0.05}},
			{Sensor: "N", PID: pid.Config{InMax: 5}},
			{Sensor: "B", PID: pid.Config{InMax: 5}},
		},
	})
	return &fixture{ctrl: ctrl, disp: command.NewDispatcher(ctrl, log), clk: clk, logs: logs}
}

func (f *fixture) do(t *testing.T, line string) command.Response {
	t.Helper()
	req, err := command.Parse(line)
	require.NoError(t, err)
	resp, err := f.disp.Handle(req)
	require.NoError(t, err)
	return resp
}

func (f *fixture) floats(t *testing.T, line string) []float32 {
	t.Helper()
	vals, err := f.do(t, line).Floats()
	require.NoError(t, err)
	return vals
}

func assertFloats(t *testing.T, want, got []float32) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-3, "field %d", i)
	}
}

func TestGetters(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		line string
		want string
	}{
		{"3,0", "3,15,0.25,20"},
		{"3,1", "3,0.75,0.01,8"},
		{"5,0", "5,1,0"},
		{"6,1", "6,0.5,0.05"},
		{"2", "2,0,0,0,0"},
		{"15", "15,K,J,N,B"},
		{"15,2", "15,N"},
		{"21", "21,0,0,0,0"},
		{"18,3", "18,0"},
		{"20", "20,-1,-1,-1,-1"},
		{"22,0", "22,0"},
		{"23", "23,0,0,0,0"},
		{"0,0", "0,0"},
		{"1,0", "1,0"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, f.do(t, tt.line).String())
		})
	}

	assertFloats(t, []float32{100, 0, 100, 0, 5, 0, 5, 0}, f.floats(t, "4"))
	assert.Len(t, f.floats(t, "3,4"), 12)
}

func TestSetTarget(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "8,10,20,30,40", f.do(t, "8,4,10,20,30,40").String())
	assert.Equal(t, "8,150", f.do(t, "8,1,150").String())
	assert.Equal(t, "2,10,150,30,40", f.do(t, "2").String())
	assert.Equal(t, "8,75,75,75,75", f.do(t, "8,4,75").String())
}

func TestSetters(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "9,1,2,3", f.do(t, "9,2,1,2,3").String())
	assertFloats(t, []float32{200, 0}, f.floats(t, "10,0,200,0"))
	assert.Equal(t, "11,1,0", f.do(t, "11,3,0,1").String())
	assertFloats(t, []float32{0.4, 0.1}, f.floats(t, "12,0,0.4,0.1"))

	kp, ki, kd := f.ctrl.Channel(2).PID().Gains()
	assert.Equal(t, []float32{1, 2, 3}, []float32{kp, ki, kd})
	imax, imin := f.ctrl.Channel(0).PID().InputLimits()
	assert.InDelta(t, 200, imax, 1e-3)
	assert.InDelta(t, 0, imin, 1e-3)
}

func TestSetInLimitDegenerate(t *testing.T) {
	f := newFixture(t)

	assertFloats(t, []float32{1, 0}, f.floats(t, "10,1,5,5"))
	assert.Equal(t, 1, f.logs.FilterMessage("input limits replaced").Len())
}

func TestFilterCommands(t *testing.T) {
	f := newFixture(t)
	ch := f.ctrl.Channel(0)

	assertFloats(t, []float32{1, 0.1}, f.floats(t, "13,0,1,0.1"))
	assert.Equal(t, filter.KindKalman, ch.FilterKind())
	assertFloats(t, []float32{50}, f.floats(t, "14,0,50"))
	assertFloats(t, []float32{50}, f.floats(t, "0,0"))

	assertFloats(t, []float32{0, 0}, f.floats(t, "13,1,0,0"))
	assert.Equal(t, 1, f.logs.FilterMessage("kalman filter frozen").Len())

	f.do(t, "12,0,0.3,0.02")
	assert.Equal(t, filter.KindAlphaBeta, ch.FilterKind())
	assertFloats(t, []float32{50}, f.floats(t, "0,0"))
}

func TestEnableDisable(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "16,1", f.do(t, "16,2").String())
	assert.Equal(t, "21,0,0,1,0", f.do(t, "21").String())

	f.clk.Sleep(1500 * time.Millisecond)
	assertFloats(t, []float32{1.5}, f.floats(t, "18,2"))

	assert.Equal(t, "17,0,0,0,0", f.do(t, "17,4").String())
	assert.Equal(t, "18,0", f.do(t, "18,2").String())
}

func TestSetTimeout(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, "19,2.5", f.do(t, "19,1,2.5").String())
	assert.Equal(t, 2500*time.Millisecond, f.ctrl.Channel(1).Timeout())
	assert.Equal(t, "19,-1", f.do(t, "19,1,-1").String())
	assert.Zero(t, f.ctrl.Channel(1).Timeout())
	assert.Equal(t, "20,-1,-1,-1,-1", f.do(t, "20,4").String())
}

func TestHandleErrors(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  command.Request
		want error
	}{
		{"missing pid", command.Request{Op: command.SetPID, Channel: 0, Params: []float32{1, 2}}, command.ErrMissingParams},
		{"missing target", command.Request{Op: command.SetTarget, Channel: 0}, command.ErrMissingParams},
		{"missing timeout", command.Request{Op: command.SetTimeout, Channel: 0}, command.ErrMissingParams},
		{"bad channel", command.Request{Op: command.GetPID, Channel: 9}, controller.ErrInvalidChannel},
		{"unknown", command.Request{Op: command.Opcode(99), Channel: controller.All}, command.ErrUnknownOpcode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.disp.Handle(tt.req)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}
