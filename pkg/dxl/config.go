package dxl

import (
	"encoding/json"
	"fmt"
	"os"
)

const DefaultConfigFile = "dxl.json"

// Config holds the persisted bus layout: which port, which baud rate, and
// which motors. It stores identity and control parameters only; device
// EEPROM configuration is not persisted here.
type Config struct {
	Port     string        `json:"port"`
	BaudRate int           `json:"baud_rate,omitempty"`
	Motors   []MotorConfig `json:"motors"`
}

// MotorConfig is the serialized form of one motor descriptor.
type MotorConfig struct {
	ID          int           `json:"id"`
	Series      Series        `json:"series"`
	Mode        OperatingMode `json:"mode"`
	Offset      int           `json:"offset,omitempty"`
	MinPosition int           `json:"min_position,omitempty"`
	MaxPosition int           `json:"max_position,omitempty"`
}

// LoadConfig loads configuration from the default config file.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists.
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}

// BuildMotors constructs motor descriptors from the configured entries.
func (c *Config) BuildMotors() ([]*Motor, error) {
	motors := make([]*Motor, 0, len(c.Motors))
	for _, mc := range c.Motors {
		m, err := NewMotor(mc.Series, mc.ID, ControlParams{
			Mode:        mc.Mode,
			Offset:      mc.Offset,
			MinPosition: mc.MinPosition,
			MaxPosition: mc.MaxPosition,
		})
		if err != nil {
			return nil, fmt.Errorf("motor %d: %w", mc.ID, err)
		}
		motors = append(motors, m)
	}
	return motors, nil
}
