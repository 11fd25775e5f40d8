package hal

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/itohio/thermoctl/pkg/ad7124"
	"github.com/itohio/thermoctl/pkg/thermo"
)

func quietPlant(clk *SimClock) *Plant {
	cfg := DefaultPlantConfig()
	cfg.NoiseLevel = 0
	return NewPlant(clk, cfg)
}

func TestPlantAmbient(t *testing.T) {
	p := quietPlant(NewSimClock())

	r := ad7124.DataToResistance(p.Code(ad7124.RTDChannel(2)))
	assert.InDelta(t, 22, thermo.ColdJunctionTemperature(r), 0.05)

	mv := ad7124.DataToVoltage(p.Code(ad7124.TCChannel(2)), false)
	assert.InDelta(t, 0, mv, 1e-4)
	assert.Zero(t, p.Code(ad7124.NumChannels))
}

func TestPlantHeating(t *testing.T) {
	clk := NewSimClock()
	p := quietPlant(clk)
	heater := p.Heater(1)

	heater.Set(true)
	clk.Sleep(20 * time.Second)
	want := 22 + 180*(1-math.Exp(-1))
	assert.InDelta(t, want, p.Temperature(1), 0.01)
	assert.InDelta(t, 22, p.Temperature(0), 1e-6, "other probes stay at ambient")

	cj := ad7124.DataToResistance(p.Code(ad7124.RTDChannel(1)))
	tc := ad7124.DataToVoltage(p.Code(ad7124.TCChannel(1)), false)
	r := thermo.Convert(thermo.TypeK, cj, tc)
	assert.Equal(t, thermo.FlagNone, r.Flag)
	assert.InDelta(t, want, r.Temperature, 0.2)

	heater.Set(false)
	clk.Sleep(10 * time.Minute)
	assert.InDelta(t, 22, p.Temperature(1), 0.01)
}

func TestPlantSensorType(t *testing.T) {
	clk := NewSimClock()
	p := quietPlant(clk)
	p.SetType(0, thermo.TypeT)
	p.SetHeater(0, true)
	clk.Sleep(time.Hour)

	cj := ad7124.DataToResistance(p.Code(ad7124.RTDChannel(0)))
	tc := ad7124.DataToVoltage(p.Code(ad7124.TCChannel(0)), false)
	r := thermo.Convert(thermo.TypeT, cj, tc)
	assert.InDelta(t, 202, r.Temperature, 0.2)
}
