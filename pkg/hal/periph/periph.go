//go:build !tinygo

// Package periph opens the AD7124 bus on Linux SPI devices through periph.io.
package periph

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"tinygo.org/x/drivers"

	"github.com/itohio/thermoctl/pkg/hal"
)

// ADC SPI mode 3; the chip latches on the rising edge with SCLK idle high.
const DefaultMode = spi.Mode3

var (
	_ drivers.SPI = (*Conn)(nil)
	_ hal.Pin     = (*Pin)(nil)
)

// Conn adapts a periph spi.Conn to the tinygo drivers.SPI interface.
type Conn struct {
	conn spi.Conn
}

// NewConn wraps c.
func NewConn(c spi.Conn) *Conn {
	return &Conn{conn: c}
}

func (c *Conn) Tx(w, r []byte) error {
	// periph requires equal length buffers for full duplex transfers.
	if r != nil && len(r) != len(w) {
		tmp := make([]byte, len(w))
		if err := c.conn.Tx(w, tmp); err != nil {
			return err
		}
		copy(r, tmp)
		return nil
	}
	if r == nil {
		r = make([]byte, len(w))
	}
	return c.conn.Tx(w, r)
}

func (c *Conn) Transfer(b byte) (byte, error) {
	var r [1]byte
	if err := c.conn.Tx([]byte{b}, r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}

// Pin drives a GPIO line. Write errors are kept and reported by Err.
type Pin struct {
	pin gpio.PinIO
	err error
}

// OpenPin looks up a GPIO by name and drives it high.
func OpenPin(name string) (*Pin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.Errorf("gpio %q not found", name)
	}
	if err := p.Out(gpio.High); err != nil {
		return nil, errors.Wrapf(err, "gpio %q", name)
	}
	return &Pin{pin: p}, nil
}

func (p *Pin) Set(high bool) {
	if err := p.pin.Out(gpio.Level(high)); err != nil {
		p.err = multierr.Append(p.err, err)
	}
}

// Err returns the accumulated write errors.
func (p *Pin) Err() error {
	return p.err
}

// Bus is an opened SPI port with its chip select.
type Bus struct {
	*hal.SPIBus

	port spi.PortCloser
	cs   *Pin
}

// Open initializes the host drivers, opens the SPI port named dev (empty for
// the first available) at hz and returns an AD7124 bus using the GPIO csName
// as chip select.
func Open(dev string, hz int64, mode spi.Mode, csName string) (*Bus, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "host init")
	}
	port, err := spireg.Open(dev)
	if err != nil {
		return nil, errors.Wrapf(err, "open spi %q", dev)
	}
	conn, err := port.Connect(physic.Hertz*physic.Frequency(hz), mode, 8)
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "connect spi"), port.Close())
	}
	cs, err := OpenPin(csName)
	if err != nil {
		return nil, multierr.Combine(err, port.Close())
	}
	return &Bus{
		SPIBus: hal.NewSPIBus(NewConn(conn), cs),
		port:   port,
		cs:     cs,
	}, nil
}

// Close releases the chip select and the port.
func (b *Bus) Close() error {
	b.cs.Set(true)
	return multierr.Combine(b.cs.Err(), b.port.Close())
}
