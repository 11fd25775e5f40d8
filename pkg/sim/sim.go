// Package sim assembles a complete controller on the simulated AD7124 and
// thermal plant, usable wherever the real board would be.
package sim

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/itohio/thermoctl/pkg/ad7124"
	"github.com/itohio/thermoctl/pkg/command"
	"github.com/itohio/thermoctl/pkg/config"
	"github.com/itohio/thermoctl/pkg/controller"
	"github.com/itohio/thermoctl/pkg/hal"
	"github.com/itohio/thermoctl/pkg/link"
	"github.com/itohio/thermoctl/pkg/logging"
	"github.com/itohio/thermoctl/pkg/pulse"
)

// Rig is a simulated board: plant, ADC, driver, controller and the runner
// that owns them.
type Rig struct {
	Plant      *hal.Plant
	ADC        *hal.SimADC
	Driver     *ad7124.Driver
	Controller *controller.Controller
	Dispatcher *command.Dispatcher
	Runner     *command.Runner

	average int
	log     logging.Logger
}

// New builds a rig from cfg. The heaters of the plant are the actuator pins.
func New(cfg *config.Config, clk clock.Clock, log logging.Logger) *Rig {
	if clk == nil {
		clk = clock.New()
	}
	log = logging.OrNop(log)

	plant := hal.NewPlant(clk, cfg.Plant)
	adc := hal.NewSimADC(clk, plant)
	drv := ad7124.New(adc, clk, log, cfg.ADC)

	pins := make([]pulse.Pin, controller.NumChannels)
	for i := range pins {
		pins[i] = plant.Heater(i)
	}
	ctrl := controller.New(drv, pins, clk, log, cfg.Options())
	disp := command.NewDispatcher(ctrl, log)

	return &Rig{
		Plant:      plant,
		ADC:        adc,
		Driver:     drv,
		Controller: ctrl,
		Dispatcher: disp,
		Runner:     command.NewRunner(ctrl, disp, clk, cfg.Control.Period, log),
		average:    cfg.Control.Average,
		log:        log,
	}
}

// Run ticks the controller until ctx is canceled.
func (r *Rig) Run(ctx context.Context) error {
	return r.Runner.Run(ctx)
}

// Setup runs the startup sequence on the runner goroutine: sensor types,
// ADC calibration and filter priming. The plant follows the sensor types.
// Run must be active.
func (r *Rig) Setup(types string) error {
	return r.Runner.Exec(func(c *controller.Controller) error {
		return r.setup(c, types)
	})
}

func (r *Rig) setup(c *controller.Controller, types string) error {
	if err := c.Setup(types); err != nil {
		return err
	}
	for i := 0; i < controller.NumChannels; i++ {
		r.Plant.SetType(i, c.Channel(controller.ChannelID(i)).Sensor())
	}
	if err := c.Prime(context.Background(), r.average); err != nil {
		return errors.Wrap(err, "prime")
	}
	r.log.Infow("primed", "samples", r.average)
	return nil
}

// Device returns an in-process link device backed by the runner.
func (r *Rig) Device() *link.Local {
	return link.NewLocal(r.Runner, r.Setup)
}
