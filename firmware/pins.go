package main

import (
	"machine"
	"time"
)

const (
	// Control loop
	TICK_PERIOD = 50 * time.Millisecond

	// AD7124 on SPI0 (SCK D8, SDO D10, SDI D9), SPI mode 3
	SPI_FREQUENCY = 1000000
	SPI_MODE      = 3
	PIN_CS        = machine.D4

	// Actuator outputs, one per channel
	PIN_ACTUATOR0 = machine.D0
	PIN_ACTUATOR1 = machine.D1
	PIN_ACTUATOR2 = machine.D2
	PIN_ACTUATOR3 = machine.D3

	// Diagnostics go to UART0 TX (D6); the protocol uses USB serial.
	LOG_BAUD_RATE = 115200
)
