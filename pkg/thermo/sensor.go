// Package thermo converts cold-junction RTD resistance and thermocouple
// voltage into temperatures using NIST ITS-90 polynomials.
package thermo

import (
	"github.com/pkg/errors"
)

// SensorType enumerates the supported thermocouple types.
type SensorType uint8

const (
	TypeT SensorType = iota
	TypeJ
	TypeK
	TypeE
	TypeS
	TypeR
	TypeN
	TypeB

	numSensorTypes = int(TypeB) + 1
)

// FallbackSensorType is substituted for unrecognized type characters.
const FallbackSensorType = TypeB

var (
	ErrInvalidSensorType = errors.New("invalid sensor type")
	ErrUnderRange        = errors.New("thermocouple voltage under range")
	ErrOverRange         = errors.New("thermocouple voltage over range")
)

const sensorLetters = "TJKESRNB"

// ParseSensorType maps a type letter (case-insensitive) to a SensorType.
// Unknown letters yield FallbackSensorType together with ErrInvalidSensorType.
func ParseSensorType(c byte) (SensorType, error) {
	if c >= 'a' && c <= 'z' {
		c -= 'a' - 'A'
	}
	for i := 0; i < len(sensorLetters); i++ {
		if sensorLetters[i] == c {
			return SensorType(i), nil
		}
	}
	return FallbackSensorType, errors.Wrapf(ErrInvalidSensorType, "%q", c)
}

// Valid reports whether t is one of the enumerated types.
func (t SensorType) Valid() bool {
	return int(t) < numSensorTypes
}

// Letter returns the single character name of the type.
func (t SensorType) Letter() byte {
	if !t.Valid() {
		return '?'
	}
	return sensorLetters[t]
}

func (t SensorType) String() string {
	return string(t.Letter())
}

// SensorTypes returns every supported type in table order.
func SensorTypes() []SensorType {
	out := make([]SensorType, numSensorTypes)
	for i := range out {
		out[i] = SensorType(i)
	}
	return out
}

// ErrorFlag is the per-sample status of a channel.
type ErrorFlag uint8

const (
	FlagNone ErrorFlag = iota
	FlagUnderRange
	FlagOverRange
	// FlagTimeout marks a sample whose ADC conversion never completed.
	FlagTimeout
)

func (f ErrorFlag) String() string {
	switch f {
	case FlagUnderRange:
		return "under-range"
	case FlagOverRange:
		return "over-range"
	case FlagTimeout:
		return "timeout"
	default:
		return "none"
	}
}

// FlagFromError maps Linearize errors to an ErrorFlag.
func FlagFromError(err error) ErrorFlag {
	switch {
	case err == nil:
		return FlagNone
	case errors.Is(err, ErrUnderRange):
		return FlagUnderRange
	case errors.Is(err, ErrOverRange):
		return FlagOverRange
	default:
		return FlagNone
	}
}
