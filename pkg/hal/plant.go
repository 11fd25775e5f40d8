package hal

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/itohio/thermoctl/pkg/ad7124"
	"github.com/itohio/thermoctl/pkg/thermo"
)

// PlantConfig describes the simulated heaters and probes.
type PlantConfig struct {
	Ambient      float32                             `yaml:"ambient"`       // °C, also the cold junction temperature
	HeaterGain   float32                             `yaml:"heater_gain"`   // steady state rise with the heater on, °C
	TimeConstant time.Duration                       `yaml:"time_constant"` // thermal lag
	NoiseLevel   float32                             `yaml:"noise_level"`   // °C peak
	Types        [ad7124.NumProbes]thermo.SensorType `yaml:"-"`
}

// DefaultPlantConfig returns a plant that reaches about 200 °C with a heater on.
func DefaultPlantConfig() PlantConfig {
	return PlantConfig{
		Ambient:      22,
		HeaterGain:   180,
		TimeConstant: 20 * time.Second,
		NoiseLevel:   0.05,
		Types:        [ad7124.NumProbes]thermo.SensorType{thermo.TypeK, thermo.TypeK, thermo.TypeK, thermo.TypeK},
	}
}

var _ Source = (*Plant)(nil)

// Plant simulates four heated bodies with first order thermal lag, each
// measured by a thermocouple whose cold junction sits at ambient.
type Plant struct {
	mu  sync.Mutex
	clk clock.Clock
	cfg PlantConfig

	temps   [ad7124.NumProbes]float64
	heaters [ad7124.NumProbes]bool
	start   time.Time
	last    time.Time
}

// NewPlant creates a plant at ambient temperature with heaters off.
func NewPlant(clk clock.Clock, cfg PlantConfig) *Plant {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.TimeConstant <= 0 {
		cfg.TimeConstant = DefaultPlantConfig().TimeConstant
	}
	now := clk.Now()
	p := &Plant{clk: clk, cfg: cfg, start: now, last: now}
	for i := range p.temps {
		p.temps[i] = float64(cfg.Ambient)
	}
	return p
}

// SetType changes the thermocouple type of probe.
func (p *Plant) SetType(probe int, t thermo.SensorType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if probe >= 0 && probe < ad7124.NumProbes {
		p.cfg.Types[probe] = t
	}
}

// SetHeater switches the heater of probe.
func (p *Plant) SetHeater(probe int, on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if probe < 0 || probe >= ad7124.NumProbes {
		return
	}
	p.advance()
	p.heaters[probe] = on
}

// Heater returns the actuator pin of probe.
func (p *Plant) Heater(probe int) Pin {
	return heaterPin{p: p, probe: probe}
}

// Temperature returns the true temperature of probe.
func (p *Plant) Temperature(probe int) float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()
	if probe < 0 || probe >= ad7124.NumProbes {
		return 0
	}
	return float32(p.temps[probe])
}

// Code returns the conversion result of ADC channel ch: RTD resistance codes
// for channels 0..3 and thermocouple voltage codes for 4..7.
func (p *Plant) Code(ch int) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advance()

	amb := p.cfg.Ambient
	if ad7124.IsRTD(ch) {
		t := float64(amb)
		r := thermo.R0 * (1 + thermo.RTDCoeffA*t + thermo.RTDCoeffB*t*t)
		return ad7124.ResistanceToData(float32(r))
	}
	probe := ch - ad7124.NumProbes
	if probe < 0 || probe >= ad7124.NumProbes {
		return 0
	}
	c := thermo.Lookup(p.cfg.Types[probe])
	t := float32(p.temps[probe] + p.noise())
	mv := c.Voltage(t) - c.Voltage(amb)
	return ad7124.VoltageToData(mv, false)
}

func (p *Plant) advance() {
	now := p.clk.Now()
	dt := now.Sub(p.last).Seconds()
	if dt <= 0 {
		return
	}
	p.last = now
	decay := math.Exp(-dt / p.cfg.TimeConstant.Seconds())
	for i := range p.temps {
		target := float64(p.cfg.Ambient)
		if p.heaters[i] {
			target += float64(p.cfg.HeaterGain)
		}
		p.temps[i] = target + (p.temps[i]-target)*decay
	}
}

func (p *Plant) noise() float64 {
	ns := float64(p.clk.Since(p.start).Nanoseconds())
	return (math.Sin(ns*0.001) + math.Cos(ns*0.0013)) * float64(p.cfg.NoiseLevel) * 0.5
}

type heaterPin struct {
	p     *Plant
	probe int
}

func (h heaterPin) Set(high bool) { h.p.SetHeater(h.probe, high) }
