// Package config loads the receiver daemon configuration from a JSON file.
//
// Every field is optional. Unset fields fall back to the defaults returned
// by the Get* accessors, so a partial file (or no file at all) is valid.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agalera/rfxcom/internal/serialmux"
	"github.com/agalera/rfxcom/internal/units"
)

// Defaults applied by the Get* accessors.
const (
	DefaultSerialPort     = "/dev/ttyUSB0"
	DefaultDBPath         = "rfxcom.db"
	DefaultListen         = ":8080"
	DefaultFixturesPath   = "testdata/packets.hex"
	DefaultReplayInterval = 2 * time.Second
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration for the rfxcom daemon.
type Config struct {
	SerialPort         *string                `json:"serial_port,omitempty"`
	Serial             *serialmux.PortOptions `json:"serial,omitempty"`
	InitializeReceiver *bool                  `json:"initialize_receiver,omitempty"`

	DBPath *string `json:"db_path,omitempty"`
	Listen *string `json:"listen,omitempty"`

	// Display defaults for the HTTP API.
	Units      *string `json:"units,omitempty"`
	SpeedUnits *string `json:"speed_units,omitempty"` // wind speed; defaults by units
	Timezone   *string `json:"timezone,omitempty"`

	// Dev mode replays fixture packets instead of opening the serial port.
	FixturesPath   *string `json:"fixtures_path,omitempty"`
	ReplayInterval *string `json:"replay_interval,omitempty"` // duration string like "2s"
}

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The path must have a .json
// extension and the file must be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configured values are usable.
func (c *Config) Validate() error {
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}

	if c.Units != nil || c.SpeedUnits != nil {
		if _, err := c.GetDisplay(); err != nil {
			return err
		}
	}

	if c.Timezone != nil && *c.Timezone != "" {
		if _, err := time.LoadLocation(*c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", *c.Timezone, err)
		}
	}

	if c.ReplayInterval != nil && *c.ReplayInterval != "" {
		d, err := time.ParseDuration(*c.ReplayInterval)
		if err != nil {
			return fmt.Errorf("invalid replay_interval '%s': %w", *c.ReplayInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("replay_interval must be positive, got %s", d)
		}
	}

	return nil
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

// GetSerialPort returns the serial device path or the default.
func (c *Config) GetSerialPort() string {
	return stringOr(c.SerialPort, DefaultSerialPort)
}

// GetPortOptions returns the configured serial options. Zero fields are
// filled in by serialmux.PortOptions.Normalize when the port is opened.
func (c *Config) GetPortOptions() serialmux.PortOptions {
	if c.Serial == nil {
		return serialmux.PortOptions{}
	}
	return *c.Serial
}

// GetInitializeReceiver reports whether the reset/start sequence is sent on
// startup. Defaults to true.
func (c *Config) GetInitializeReceiver() bool {
	if c.InitializeReceiver == nil {
		return true
	}
	return *c.InitializeReceiver
}

// GetDBPath returns the sqlite database path or the default.
func (c *Config) GetDBPath() string {
	return stringOr(c.DBPath, DefaultDBPath)
}

// GetListen returns the HTTP listen address or the default.
func (c *Config) GetListen() string {
	return stringOr(c.Listen, DefaultListen)
}

// GetUnits returns the default display measurement system.
func (c *Config) GetUnits() string {
	return stringOr(c.Units, units.Metric)
}

// GetSpeedUnits returns the configured wind speed unit, or "" to follow
// the measurement system.
func (c *Config) GetSpeedUnits() string {
	return stringOr(c.SpeedUnits, "")
}

// GetDisplay returns the default display units for the HTTP API.
func (c *Config) GetDisplay() (units.Display, error) {
	return units.NewDisplay(c.GetUnits(), c.GetSpeedUnits())
}

// GetTimezone returns the default display timezone.
func (c *Config) GetTimezone() string {
	return stringOr(c.Timezone, "UTC")
}

// GetFixturesPath returns the dev-mode fixture file path or the default.
func (c *Config) GetFixturesPath() string {
	return stringOr(c.FixturesPath, DefaultFixturesPath)
}

// GetReplayInterval parses and returns the ReplayInterval as a time.Duration.
func (c *Config) GetReplayInterval() time.Duration {
	if c.ReplayInterval == nil || *c.ReplayInterval == "" {
		return DefaultReplayInterval
	}
	d, err := time.ParseDuration(*c.ReplayInterval)
	if err != nil || d <= 0 {
		return DefaultReplayInterval
	}
	return d
}
