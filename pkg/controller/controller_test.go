package controller_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/itohio/thermoctl/pkg/ad7124"
	"github.com/itohio/thermoctl/pkg/controller"
	"github.com/itohio/thermoctl/pkg/filter"
	"github.com/itohio/thermoctl/pkg/hal"
	"github.com/itohio/thermoctl/pkg/pid"
	"github.com/itohio/thermoctl/pkg/pulse"
	"github.com/itohio/thermoctl/pkg/thermo"
)

type levelPin struct {
	level bool
}

func (p *levelPin) Set(high bool) { p.level = high }

type rig struct {
	ctrl *controller.Controller
	sim  *hal.SimADC
	clk  *hal.SimClock
	pins []*levelPin
	logs *observer.ObservedLogs
}

// Cold junction at 960.9 ohm (about -10 °C) and 4.096 mV on every thermocouple.
func kCodes() *hal.Codes {
	c := &hal.Codes{}
	for p := 0; p < ad7124.NumProbes; p++ {
		c[ad7124.RTDChannel(p)] = ad7124.ResistanceToData(960.9)
		c[ad7124.TCChannel(p)] = ad7124.VoltageToData(4.096, false)
	}
	return c
}

func expectedK(codes *hal.Codes) thermo.Reading {
	return thermo.Convert(thermo.TypeK,
		ad7124.DataToResistance(codes[0]),
		ad7124.DataToVoltage(codes[4], false))
}

func newRig(t *testing.T, codes *hal.Codes, opts controller.Options) *rig {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	clk := hal.NewSimClock()
	sim := hal.NewSimADC(clk, codes)
	drv := ad7124.New(sim, clk, nil, ad7124.DefaultConfig())

	r := &rig{sim: sim, clk: clk, logs: logs}
	pins := make([]pulse.Pin, controller.NumChannels)
	for i := range pins {
		p := &levelPin{}
		r.pins = append(r.pins, p)
		pins[i] = p
	}
	r.ctrl = controller.New(drv, pins, clk, zap.New(core).Sugar(), opts)
	return r
}

func (r *rig) run(n int, period time.Duration) {
	for i := 0; i < n; i++ {
		r.clk.Sleep(period)
		r.ctrl.Tick()
	}
}

func TestSetup(t *testing.T) {
	r := newRig(t, kCodes(), controller.Options{
		Channels: []controller.ChannelConfig{{Sensor: "N"}, {Sensor: "N"}, {Sensor: "N"}, {Sensor: "N"}},
	})
	assert.Equal(t, "NNNN", r.ctrl.SensorTypes())
	assert.False(t, r.ctrl.Calibrated())

	require.NoError(t, r.ctrl.Setup("0"))
	assert.Equal(t, "NNNN", r.ctrl.SensorTypes())
	assert.True(t, r.ctrl.Calibrated())
	assert.EqualValues(t, ad7124.CtrlCalibrated, r.sim.Register(ad7124.RegControl))
	assert.Equal(t, 1, r.logs.FilterMessage("CALIBRATED").Len())

	require.NoError(t, r.ctrl.Setup("kJ?"))
	assert.Equal(t, "KJBN", r.ctrl.SensorTypes())
	assert.Equal(t, 1, r.logs.FilterMessage("invalid sensor type").Len())
}

func TestSetupCalibrationFailure(t *testing.T) {
	r := newRig(t, kCodes(), controller.Options{})
	assert.Equal(t, "BBBB", r.ctrl.SensorTypes(), "unconfigured channels use the fallback type")

	r.sim.SetStall(true)
	err := r.ctrl.Setup("KKKK")
	assert.ErrorIs(t, err, ad7124.ErrCalibrationTimeout)
	assert.False(t, r.ctrl.Calibrated())
}

func TestPrime(t *testing.T) {
	codes := kCodes()
	r := newRig(t, codes, controller.Options{})
	require.NoError(t, r.ctrl.Setup("KKKK"))
	require.NoError(t, r.ctrl.Prime(context.Background(), 3))

	want := expectedK(codes)
	require.Equal(t, thermo.FlagNone, want.Flag)
	for id := controller.ChannelID(0); id < controller.NumChannels; id++ {
		ch := r.ctrl.Channel(id)
		assert.InDelta(t, want.Temperature, ch.Filtered(), 1e-3, "channel %d", id)
		assert.Equal(t, want.Temperature, ch.Temperature())
		assert.Zero(t, ch.Output())
		cj, tc := ch.Raw()
		assert.Equal(t, codes[ad7124.RTDChannel(int(id))], cj)
		assert.Equal(t, codes[ad7124.TCChannel(int(id))], tc)
	}
}

func TestPrimeCanceled(t *testing.T) {
	r := newRig(t, kCodes(), controller.Options{})
	require.NoError(t, r.ctrl.Setup("KKKK"))
	r.sim.SetStall(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, r.ctrl.Prime(ctx, 3), context.Canceled)
}

func TestEndToEndAntiWindup(t *testing.T) {
	codes := kCodes()
	r := newRig(t, codes, controller.Options{
		Channels: []controller.ChannelConfig{{
			Sensor:  "K",
			Enabled: true,
			Target:  500,
			PID: pid.Config{
				Kp: 0.1, Ki: 0.5,
				OutMax: 1, OutMin: 0,
				InMax: 1000, InMin: 0,
				Alpha: 0.5, Beta: 0.05,
			},
		}},
	})
	require.NoError(t, r.ctrl.Setup("KKKK"))
	require.NoError(t, r.ctrl.Prime(context.Background(), 2))

	ch := r.ctrl.Channel(0)
	want := expectedK(codes)
	assert.InDelta(t, 90.5, want.Temperature, 1.0, "within the type K span")

	var outputs, integrals []float32
	for i := 0; i < 60; i++ {
		r.run(1, 200*time.Millisecond)
		outputs = append(outputs, ch.Output())
		integrals = append(integrals, ch.PID().Integral())
		assert.Equal(t, thermo.FlagNone, ch.TakeError())
	}

	assert.InDelta(t, want.Temperature, ch.Temperature(), 1e-6)
	for i := 1; i < len(outputs); i++ {
		assert.GreaterOrEqual(t, outputs[i], outputs[i-1], "tick %d", i)
	}
	assert.Greater(t, outputs[1], outputs[0])

	sat := -1
	for i, o := range outputs {
		if o == 1 {
			sat = i
			break
		}
	}
	require.GreaterOrEqual(t, sat, 0, "output reaches the rail")
	for i := sat; i < len(outputs); i++ {
		assert.EqualValues(t, 1, outputs[i])
		assert.Equal(t, integrals[sat], integrals[i], "integral frozen at tick %d", i)
	}

	assert.True(t, r.pins[0].level, "saturated output drives the pin high")
	for _, p := range r.pins[1:] {
		assert.False(t, p.level, "disabled channels stay low")
	}
}

func TestFlaggedSampleSkipsControl(t *testing.T) {
	codes := kCodes()
	for p := 0; p < ad7124.NumProbes; p++ {
		codes[ad7124.TCChannel(p)] = ad7124.VoltageToData(60, false)
	}
	r := newRig(t, codes, controller.Options{
		Channels: []controller.ChannelConfig{{
			Sensor:  "T",
			Enabled: true,
			Target:  100,
			PID:     pid.Config{Kp: 1, Ki: 1, OutMax: 1, InMax: 400},
		}},
	})
	require.NoError(t, r.ctrl.Setup("0"))
	r.run(20, 100*time.Millisecond)

	ch := r.ctrl.Channel(0)
	assert.Equal(t, thermo.FlagOverRange, ch.Reading().Flag)
	assert.Equal(t, thermo.FlagOverRange, ch.TakeError())
	assert.Equal(t, thermo.FlagNone, ch.TakeError(), "flag cleared once taken")
	assert.Zero(t, ch.Output())
	assert.Zero(t, ch.PID().Integral())
	assert.False(t, r.pins[0].level)
}

func TestStalledConversionSkipsControl(t *testing.T) {
	codes := kCodes()
	r := newRig(t, codes, controller.Options{
		Channels: []controller.ChannelConfig{{
			Sensor:  "K",
			Enabled: true,
			Target:  20,
			PID:     pid.Config{Kp: 1, OutMax: 1, InMax: 200},
		}},
	})
	require.NoError(t, r.ctrl.Setup("KKKK"))
	require.NoError(t, r.ctrl.Prime(context.Background(), 2))
	r.run(20, 100*time.Millisecond)

	ch := r.ctrl.Channel(0)
	require.Equal(t, thermo.FlagNone, ch.Reading().Flag)
	require.Zero(t, ch.Output(), "plant is above target")
	assert.Equal(t, thermo.FlagNone, ch.TakeError())

	r.sim.SetStall(true)
	r.run(400, 100*time.Millisecond)

	assert.Equal(t, thermo.FlagTimeout, ch.Reading().Flag)
	assert.Equal(t, thermo.FlagTimeout, ch.TakeError())
	assert.Zero(t, ch.Output(), "zero code must not reach the PID")
	assert.False(t, r.pins[0].level)
	assert.Positive(t, r.logs.FilterMessage("conversion timeout").Len())

	r.sim.SetStall(false)
	r.run(100, 100*time.Millisecond)
	assert.Equal(t, thermo.FlagNone, ch.Reading().Flag)
	assert.InDelta(t, expectedK(codes).Temperature, ch.Reading().Temperature, 0.01)
	assert.Zero(t, ch.Output())
}

func TestTimeoutDisablesChannel(t *testing.T) {
	r := newRig(t, kCodes(), controller.Options{
		Channels: []controller.ChannelConfig{{}, {Sensor: "K", Target: 1000, PID: pid.Config{Kp: 1, OutMax: 1, InMax: 100}}},
	})
	require.NoError(t, r.ctrl.Setup("0"))

	ch := r.ctrl.Channel(1)
	ch.SetTimeout(2 * time.Second)
	assert.Zero(t, r.ctrl.Timer(1))
	require.NoError(t, r.ctrl.Enable(1))

	r.run(10, 100*time.Millisecond)
	assert.True(t, ch.Enabled())
	assert.InDelta(t, 1.0, r.ctrl.Timer(1).Seconds(), 0.1)
	assert.True(t, r.pins[1].level)

	r.run(11, 100*time.Millisecond)
	assert.False(t, ch.Enabled())
	assert.Zero(t, r.ctrl.Timer(1))
	assert.False(t, r.pins[1].level)
	assert.Equal(t, 1, r.logs.FilterMessage("channel timed out").Len())

	ch.SetTimeout(-time.Second)
	assert.Zero(t, ch.Timeout(), "negative timeout means unlimited")
}

func TestEnableDisableAll(t *testing.T) {
	r := newRig(t, kCodes(), controller.Options{})
	require.NoError(t, r.ctrl.Enable(controller.All))
	for id := controller.ChannelID(0); id < controller.NumChannels; id++ {
		assert.True(t, r.ctrl.Channel(id).Enabled())
	}
	require.NoError(t, r.ctrl.Disable(controller.All))
	for id := controller.ChannelID(0); id < controller.NumChannels; id++ {
		assert.False(t, r.ctrl.Channel(id).Enabled())
	}
	assert.ErrorIs(t, r.ctrl.Enable(7), controller.ErrInvalidChannel)
}

func TestSelect(t *testing.T) {
	r := newRig(t, nil, controller.Options{})
	chans, err := r.ctrl.Select(controller.All)
	require.NoError(t, err)
	require.Len(t, chans, controller.NumChannels)
	for i, ch := range chans {
		assert.Equal(t, controller.ChannelID(i), ch.ID())
	}

	chans, err = r.ctrl.Select(2)
	require.NoError(t, err)
	assert.Same(t, r.ctrl.Channel(2), chans[0])

	_, err = r.ctrl.Select(-1)
	assert.ErrorIs(t, err, controller.ErrInvalidChannel)
	assert.Nil(t, r.ctrl.Channel(controller.All))
}

func TestChannelFilters(t *testing.T) {
	r := newRig(t, nil, controller.Options{
		Channels: []controller.ChannelConfig{{
			PID:    pid.Config{InMax: 100, Alpha: 0.5, Beta: 0.05},
			Kalman: controller.KalmanConfig{Error: 1, Q: 0.1},
		}},
	})
	ch := r.ctrl.Channel(0)
	assert.Equal(t, filter.KindAlphaBeta, ch.FilterKind())
	alpha, beta := ch.AlphaBeta()
	assert.InDelta(t, 0.5, alpha, 1e-6)
	assert.InDelta(t, 0.05, beta, 1e-6)

	require.NoError(t, ch.SetFilterKind(filter.KindKalman))
	assert.Equal(t, filter.KindKalman, ch.FilterKind())
	k, ok := ch.PID().Filter().(*filter.Kalman)
	require.True(t, ok)
	measErr, q := k.Gains()
	assert.InDelta(t, 0.01, measErr, 1e-6, "error scaled into the normalized domain")
	assert.InDelta(t, 0.1, q, 1e-6)

	ch.SetFilterState(40)
	assert.InDelta(t, 40, ch.Filtered(), 1e-4)
	require.NoError(t, ch.SetInputLimits(200, 0))
	assert.InDelta(t, 40, ch.Filtered(), 1e-4, "estimate survives a range change")
	measErr, _ = k.Gains()
	assert.InDelta(t, 0.005, measErr, 1e-6)

	measErr, q = ch.Kalman()
	assert.InDelta(t, 1, measErr, 1e-6)
	assert.InDelta(t, 0.1, q, 1e-6)

	require.NoError(t, ch.SetFilterKind(filter.KindAlphaBeta))
	alpha, _ = ch.AlphaBeta()
	assert.InDelta(t, 0.5, alpha, 1e-6)
	_, ok = ch.PID().Filter().(*filter.AlphaBeta)
	assert.True(t, ok)

	err := ch.SetKalman(0, 0)
	assert.True(t, errors.Is(err, filter.ErrDegenerateParameters))
	assert.Equal(t, filter.KindKalman, ch.FilterKind())

	err = ch.SetInputLimits(150, 0)
	assert.True(t, errors.Is(err, filter.ErrDegenerateParameters), "degenerate Kalman reported on a range change")
	assert.False(t, errors.Is(err, pid.ErrDegenerateInputLimits))
	err = ch.SetInputLimits(5, 5)
	assert.True(t, errors.Is(err, pid.ErrDegenerateInputLimits))
	assert.True(t, errors.Is(err, filter.ErrDegenerateParameters))

	assert.Error(t, ch.SetFilterKind("median"))
}

func TestKalmanFromConfig(t *testing.T) {
	r := newRig(t, nil, controller.Options{
		Channels: []controller.ChannelConfig{{
			PID:    pid.Config{InMax: 10},
			Filter: filter.KindKalman,
			Kalman: controller.KalmanConfig{Error: 1, Q: 0.2},
		}},
	})
	ch := r.ctrl.Channel(0)
	assert.Equal(t, filter.KindKalman, ch.FilterKind())
	k := ch.PID().Filter().(*filter.Kalman)
	measErr, q := k.Gains()
	assert.InDelta(t, 0.1, measErr, 1e-6)
	assert.InDelta(t, 0.2, q, 1e-6)
}

func TestDefaultChannels(t *testing.T) {
	rows := controller.DefaultChannels()
	require.Len(t, rows, controller.NumChannels)

	r := newRig(t, kCodes(), controller.Options{Channels: rows})
	assert.Equal(t, "NNNN", r.ctrl.SensorTypes())

	kp, ki, kd := r.ctrl.Channel(1).PID().Gains()
	assert.Equal(t, []float32{0.75, 0.010, 8}, []float32{kp, ki, kd})
	imax, imin := r.ctrl.Channel(3).PID().InputLimits()
	assert.InDelta(t, 5, imax, 1e-4)
	assert.InDelta(t, 0, imin, 1e-4)
	measErr, q := r.ctrl.Channel(0).Kalman()
	assert.Equal(t, []float32{1.0, 0.1}, []float32{measErr, q})
	assert.Equal(t, filter.KindAlphaBeta, r.ctrl.Channel(0).FilterKind())
	for i := 0; i < controller.NumChannels; i++ {
		assert.False(t, r.ctrl.Channel(controller.ChannelID(i)).Enabled())
	}
}
