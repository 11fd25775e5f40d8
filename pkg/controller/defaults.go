package controller

import (
	"github.com/itohio/thermoctl/pkg/filter"
	"github.com/itohio/thermoctl/pkg/pid"
)

// DefaultAverage is the number of conversions averaged by Prime at startup.
const DefaultAverage = 10

// DefaultSensor is the compiled-in sensor type of every channel.
const DefaultSensor = "N"

// DefaultChannels returns the compiled-in channel rows. Channels 2 and 3
// carry no gains so they stay idle until configured.
func DefaultChannels() []ChannelConfig {
	return []ChannelConfig{
		{
			Sensor: DefaultSensor,
			PID:    pid.Config{Kp: 15, Ki: 0.25, Kd: 20, OutMax: 1, OutMin: 0, InMax: 100, InMin: 0, Alpha: 0.5, Beta: 0.05},
			Filter: filter.KindAlphaBeta,
			Kalman: KalmanConfig{Error: 1.0, Q: 0.1},
		},
		{
			Sensor: DefaultSensor,
			PID:    pid.Config{Kp: 0.75, Ki: 0.010, Kd: 8, OutMax: 1, OutMin: 0, InMax: 100, InMin: 0, Alpha: 0.5, Beta: 0.05},
			Filter: filter.KindAlphaBeta,
			Kalman: KalmanConfig{Error: 1.1, Q: 0.2},
		},
		{
			Sensor: DefaultSensor,
			PID:    pid.Config{InMax: 5},
			Filter: filter.KindAlphaBeta,
		},
		{
			Sensor: DefaultSensor,
			PID:    pid.Config{InMax: 5},
			Filter: filter.KindAlphaBeta,
		},
	}
}
