package main

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/itohio/thermoctl/pkg/ad7124"
	"github.com/itohio/thermoctl/pkg/command"
	"github.com/itohio/thermoctl/pkg/config"
	"github.com/itohio/thermoctl/pkg/controller"
	"github.com/itohio/thermoctl/pkg/hal/periph"
	"github.com/itohio/thermoctl/pkg/logging"
	"github.com/itohio/thermoctl/pkg/pulse"
	"github.com/itohio/thermoctl/pkg/sim"
)

// board is a controller with the runner that owns it.
type board struct {
	runner *command.Runner
	setup  func(types string) error
	close  func() error
}

// Setup runs the startup sequence. The runner must be active.
func (b *board) Setup(types string) error { return b.setup(types) }

func (b *board) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func openBoard(cfg *config.Config, simulated bool, log logging.Logger) (*board, error) {
	if simulated {
		rig := sim.New(cfg, nil, log)
		return &board{runner: rig.Runner, setup: rig.Setup}, nil
	}
	return openHardware(cfg, log)
}

// openHardware opens the AD7124 on Linux SPI and the actuator GPIOs.
func openHardware(cfg *config.Config, log logging.Logger) (*board, error) {
	hw := cfg.Hardware
	if len(hw.Pins) != controller.NumChannels {
		return nil, errors.Errorf("need %d actuator pins, got %d", controller.NumChannels, len(hw.Pins))
	}

	bus, err := periph.Open(hw.SPI, hw.SPIHz, periph.DefaultMode, hw.ChipSelect)
	if err != nil {
		return nil, err
	}

	pins := make([]pulse.Pin, len(hw.Pins))
	opened := make([]*periph.Pin, 0, len(hw.Pins))
	for i, name := range hw.Pins {
		p, err := periph.OpenPin(name)
		if err != nil {
			return nil, multierr.Append(err, bus.Close())
		}
		// actuators start off
		p.Set(false)
		pins[i] = p
		opened = append(opened, p)
	}

	drv := ad7124.New(bus, nil, log, cfg.ADC)
	ctrl := controller.New(drv, pins, nil, log, cfg.Options())
	runner := command.NewRunner(ctrl, command.NewDispatcher(ctrl, log), nil, cfg.Control.Period, log)
	average := cfg.Control.Average

	return &board{
		runner: runner,
		setup: func(types string) error {
			return runner.Exec(func(c *controller.Controller) error {
				if err := c.Setup(types); err != nil {
					return err
				}
				return errors.Wrap(c.Prime(context.Background(), average), "prime")
			})
		},
		close: func() error {
			var err error
			for _, p := range opened {
				p.Set(false)
				err = multierr.Append(err, p.Err())
			}
			return multierr.Append(err, bus.Close())
		},
	}, nil
}
