//go:generate tinygo flash -target=xiao

package main

import (
	"context"
	"machine"
	"time"

	"github.com/itohio/thermoctl/pkg/ad7124"
	"github.com/itohio/thermoctl/pkg/command"
	"github.com/itohio/thermoctl/pkg/controller"
	"github.com/itohio/thermoctl/pkg/hal"
	"github.com/itohio/thermoctl/pkg/logging"
	"github.com/itohio/thermoctl/pkg/pulse"
)

var (
	spi  = machine.SPI0
	uart = machine.UART0
	usb  = machine.Serial

	actuators = [controller.NumChannels]machine.Pin{
		PIN_ACTUATOR0, PIN_ACTUATOR1, PIN_ACTUATOR2, PIN_ACTUATOR3,
	}
)

func main() {
	uart.Configure(machine.UARTConfig{BaudRate: LOG_BAUD_RATE})
	log := logging.NewPrintLogger(uart, logging.InfoLevel)

	PIN_CS.Configure(machine.PinConfig{Mode: machine.PinOutput})
	PIN_CS.High()
	if err := spi.Configure(machine.SPIConfig{Frequency: SPI_FREQUENCY, Mode: SPI_MODE}); err != nil {
		log.Errorw("spi configure failed", "error", err)
	}

	pins := make([]pulse.Pin, len(actuators))
	for i, p := range actuators {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
		p.Low()
		pins[i] = p
	}

	drv := ad7124.New(hal.NewSPIBus(spi, PIN_CS), nil, log, ad7124.DefaultConfig())
	ctrl := controller.New(drv, pins, nil, log, controller.Options{
		Channels: controller.DefaultChannels(),
	})
	runner := command.NewRunner(ctrl, command.NewDispatcher(ctrl, log), nil, TICK_PERIOD, log)

	ctx := context.Background()
	go runner.Run(ctx)

	srv := command.NewServer(&port{serial: usb}, runner, log)
	for {
		err := srv.Handshake(func(types string) error {
			return runner.Exec(func(c *controller.Controller) error {
				if err := c.Setup(types); err != nil {
					return err
				}
				return c.Prime(ctx, controller.DefaultAverage)
			})
		})
		if err == nil {
			break
		}
		log.Errorw("setup failed", "error", err)
	}

	for {
		if err := srv.Serve(ctx); err != nil {
			log.Errorw("serve failed", "error", err)
			time.Sleep(time.Second)
		}
	}
}

// port turns the polled USB serial into a blocking reader.
type port struct {
	serial machine.Serialer
}

func (p *port) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for p.serial.Buffered() == 0 {
		time.Sleep(time.Millisecond)
	}
	n := 0
	for n < len(b) && p.serial.Buffered() > 0 {
		c, err := p.serial.ReadByte()
		if err != nil {
			return n, err
		}
		b[n] = c
		n++
	}
	return n, nil
}

func (p *port) Write(b []byte) (int, error) {
	return p.serial.Write(b)
}
