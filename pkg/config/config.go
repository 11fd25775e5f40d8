// Package config holds the yaml configuration of the controller and its host
// tools. Missing files and fields fall back to the compiled-in defaults.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/itohio/thermoctl/pkg/ad7124"
	"github.com/itohio/thermoctl/pkg/controller"
	"github.com/itohio/thermoctl/pkg/hal"
)

// Config represents the application configuration.
type Config struct {
	Serial   SerialConfig               `yaml:"serial"`
	Control  ControlConfig              `yaml:"control"`
	Channels []controller.ChannelConfig `yaml:"channels"`
	ADC      ad7124.Config              `yaml:"adc"`
	Hardware HardwareConfig             `yaml:"hardware"`
	Plant    hal.PlantConfig            `yaml:"plant"`
	Monitor  MonitorConfig              `yaml:"monitor"`
	Log      LogConfig                  `yaml:"log"`
}

// SerialConfig contains serial port configuration.
type SerialConfig struct {
	Port     string        `yaml:"port"`
	BaudRate int           `yaml:"baud_rate"`
	Timeout  time.Duration `yaml:"timeout"` // reply timeout of host requests
}

// ControlConfig contains the control loop parameters.
type ControlConfig struct {
	Period   time.Duration `yaml:"period"`    // tick period
	Average  int           `yaml:"average"`   // conversions averaged at startup
	TCOffset float32       `yaml:"tc_offset"` // mV added to every thermocouple voltage
	Types    string        `yaml:"types"`     // sensor letters sent in the handshake, "0" keeps the channel rows
}

// HardwareConfig names the Linux SPI bus and GPIO lines.
type HardwareConfig struct {
	SPI        string   `yaml:"spi"`
	SPIHz      int64    `yaml:"spi_hz"`
	ChipSelect string   `yaml:"chip_select"`
	Pins       []string `yaml:"pins"` // actuator lines, one per channel
}

// MonitorConfig contains the desktop monitor parameters.
type MonitorConfig struct {
	Window    time.Duration `yaml:"window"`
	Poll      time.Duration `yaml:"poll"`
	YMin      float64       `yaml:"y_min"`
	YMax      float64       `yaml:"y_max"`
	MaxPoints int           `yaml:"max_points"`
	Band      float64       `yaml:"band"` // °C around the target counted as settled
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a default configuration with the compiled-in values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0", // "COM3" or similar on Windows
			BaudRate: 9600,
			Timeout:  2 * time.Second,
		},
		Control: ControlConfig{
			Period:  50 * time.Millisecond,
			Average: controller.DefaultAverage,
			Types:   "0",
		},
		Channels: controller.DefaultChannels(),
		ADC:      ad7124.DefaultConfig(),
		Hardware: HardwareConfig{
			SPI:        "/dev/spidev0.0",
			SPIHz:      1000000,
			ChipSelect: "GPIO8",
			Pins:       []string{"GPIO17", "GPIO27", "GPIO22", "GPIO23"},
		},
		Plant: hal.DefaultPlantConfig(),
		Monitor: MonitorConfig{
			Window:    120 * time.Second,
			Poll:      500 * time.Millisecond,
			YMin:      20,
			YMax:      80,
			MaxPoints: 1000,
			Band:      1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errors.Wrap(err, "read config file")
	}

	// Channel rows replace the defaults as a whole.
	cfg.Channels = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config file")
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return errors.Wrap(err, "write config file")
	}

	return nil
}

// Options returns the controller options of the configuration.
func (c *Config) Options() controller.Options {
	return controller.Options{
		Channels: c.Channels,
		TCOffset: c.Control.TCOffset,
	}
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.Timeout == 0 {
		c.Serial.Timeout = def.Serial.Timeout
	}

	if c.Control.Period == 0 {
		c.Control.Period = def.Control.Period
	}
	if c.Control.Average == 0 {
		c.Control.Average = def.Control.Average
	}
	if c.Control.Types == "" {
		c.Control.Types = def.Control.Types
	}

	for i := len(c.Channels); i < len(def.Channels); i++ {
		c.Channels = append(c.Channels, def.Channels[i])
	}
	if len(c.Channels) > controller.NumChannels {
		c.Channels = c.Channels[:controller.NumChannels]
	}

	if c.ADC.SettleDelay == 0 {
		c.ADC.SettleDelay = def.ADC.SettleDelay
	}
	if c.ADC.ConversionTimeout == 0 {
		c.ADC.ConversionTimeout = def.ADC.ConversionTimeout
	}
	if c.ADC.PollBudget == 0 {
		c.ADC.PollBudget = def.ADC.PollBudget
	}
	if c.ADC.PollInterval == 0 {
		c.ADC.PollInterval = def.ADC.PollInterval
	}
	if c.ADC.CalibrationPolls == 0 {
		c.ADC.CalibrationPolls = def.ADC.CalibrationPolls
	}
	if c.ADC.ChannelDelay == 0 {
		c.ADC.ChannelDelay = def.ADC.ChannelDelay
	}

	if c.Hardware.SPI == "" {
		c.Hardware.SPI = def.Hardware.SPI
	}
	if c.Hardware.SPIHz == 0 {
		c.Hardware.SPIHz = def.Hardware.SPIHz
	}
	if c.Hardware.ChipSelect == "" {
		c.Hardware.ChipSelect = def.Hardware.ChipSelect
	}
	if len(c.Hardware.Pins) == 0 {
		c.Hardware.Pins = def.Hardware.Pins
	}

	if c.Plant.HeaterGain == 0 {
		c.Plant.HeaterGain = def.Plant.HeaterGain
	}
	if c.Plant.TimeConstant == 0 {
		c.Plant.TimeConstant = def.Plant.TimeConstant
	}
	if c.Plant.Ambient == 0 {
		c.Plant.Ambient = def.Plant.Ambient
	}

	if c.Monitor.Window == 0 {
		c.Monitor.Window = def.Monitor.Window
	}
	if c.Monitor.Poll == 0 {
		c.Monitor.Poll = def.Monitor.Poll
	}
	if c.Monitor.YMin == 0 && c.Monitor.YMax == 0 {
		c.Monitor.YMin, c.Monitor.YMax = def.Monitor.YMin, def.Monitor.YMax
	}
	if c.Monitor.MaxPoints == 0 {
		c.Monitor.MaxPoints = def.Monitor.MaxPoints
	}
	if c.Monitor.Band == 0 {
		c.Monitor.Band = def.Monitor.Band
	}

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}
