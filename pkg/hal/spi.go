// Package hal provides the register bus implementations of the AD7124 driver:
// SPI framing over any tinygo drivers.SPI, and a simulated device with a
// thermal plant for development and tests.
package hal

import (
	"github.com/pkg/errors"
	"tinygo.org/x/drivers"

	"github.com/itohio/thermoctl/pkg/ad7124"
)

// Pin is a digital output line.
type Pin interface {
	Set(high bool)
}

var _ ad7124.Bus = (*SPIBus)(nil)

// SPIBus frames AD7124 register accesses on an SPI port with a GPIO chip
// select (active low).
type SPIBus struct {
	spi drivers.SPI
	cs  Pin

	// DataStatus makes data register reads clock out the appended status
	// byte, matching ADC_Control DATA_STATUS.
	DataStatus bool

	held bool
	w, r [6]byte
}

// NewSPIBus creates a bus on spi with chip select cs. DataStatus is enabled
// because the driver always sets it.
func NewSPIBus(spi drivers.SPI, cs Pin) *SPIBus {
	b := &SPIBus{spi: spi, cs: cs, DataStatus: true}
	if cs != nil {
		cs.Set(true)
	}
	return b
}

func (b *SPIBus) selectChip() {
	if !b.held && b.cs != nil {
		b.cs.Set(false)
	}
}

func (b *SPIBus) releaseChip() {
	if !b.held && b.cs != nil {
		b.cs.Set(true)
	}
}

// ReadRegister reads reg, returning its value right aligned.
func (b *SPIBus) ReadRegister(reg ad7124.Register) (uint32, error) {
	if reg >= ad7124.NumRegisters {
		return 0, errors.Errorf("register 0x%02x out of range", uint8(reg))
	}
	n := reg.Size()
	status := reg == ad7124.RegData && b.DataStatus
	if status {
		n++
	}
	w, r := b.w[:n+1], b.r[:n+1]
	w[0] = ad7124.CommRead | byte(reg)
	for i := 1; i <= n; i++ {
		w[i] = 0
	}

	b.selectChip()
	err := b.spi.Tx(w, r)
	b.releaseChip()
	if err != nil {
		return 0, errors.Wrapf(err, "spi read 0x%02x", uint8(reg))
	}

	var v uint32
	for _, c := range r[1:] {
		v = v<<8 | uint32(c)
	}
	if status {
		v >>= 8
	}
	return v, nil
}

// WriteRegister writes value to reg, big endian, masked to the register width.
func (b *SPIBus) WriteRegister(reg ad7124.Register, value uint32) error {
	if reg >= ad7124.NumRegisters {
		return errors.Errorf("register 0x%02x out of range", uint8(reg))
	}
	n := reg.Size()
	w := b.w[:n+1]
	w[0] = byte(reg)
	value &= reg.Mask()
	for i := n; i >= 1; i-- {
		w[i] = byte(value)
		value >>= 8
	}

	b.selectChip()
	err := b.spi.Tx(w, nil)
	b.releaseChip()
	return errors.Wrapf(err, "spi write 0x%02x", uint8(reg))
}

// SetChipSelect holds chip select active across accesses, or releases it.
func (b *SPIBus) SetChipSelect(active bool) error {
	b.held = active
	if b.cs != nil {
		b.cs.Set(!active)
	}
	return nil
}

// Reset clocks 64 ones, returning every register to its power-on value.
func (b *SPIBus) Reset() error {
	w := [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	b.selectChip()
	err := b.spi.Tx(w[:], nil)
	b.releaseChip()
	return errors.Wrap(err, "spi reset")
}
