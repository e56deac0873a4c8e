// Package config loads the host tool's JSON configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"sonar/host/serial"
)

// Config is the host tool configuration file
type Config struct {
	Device        string       `json:"device"`
	Baud          int          `json:"baud"`
	ReadTimeoutMS int          `json:"read_timeout_ms"`
	Sensor        SensorConfig `json:"sensor"`
	MQTT          MQTTConfig   `json:"mqtt"`
}

// SensorConfig is sent to the firmware as config_echo / query_echo
type SensorConfig struct {
	OID        uint8  `json:"oid"`
	TriggerPin uint32 `json:"trigger_pin"`
	MaxSkipped uint8  `json:"max_skipped"`
	ReportMS   int    `json:"report_ms"`
}

// MQTTConfig enables publishing when Broker is set
type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Topic    string `json:"topic"`
	QoS      byte   `json:"qos"`
	Retain   bool   `json:"retain"`
}

// DefaultTriggerPin is PC4 (Mega pin 33) in machine.Pin numbering
const DefaultTriggerPin = 20

// LoadConfig parses a JSON configuration and applies defaults
func LoadConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadConfig(data)
}

// Default returns the configuration used without a file
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills in missing values. A zero trigger pin means "unset",
// PA0 is not wired to anything on the sensor shield.
func applyDefaults(cfg *Config) {
	if cfg.Device == "" {
		cfg.Device = "/dev/ttyACM0"
	}
	if cfg.Baud == 0 {
		cfg.Baud = 250000
	}
	if cfg.ReadTimeoutMS == 0 {
		cfg.ReadTimeoutMS = 100
	}

	if cfg.Sensor.TriggerPin == 0 {
		cfg.Sensor.TriggerPin = DefaultTriggerPin
	}
	if cfg.Sensor.ReportMS == 0 {
		cfg.Sensor.ReportMS = 250
	}

	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "sonar-host"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "sonar/distance"
	}
}

// Validate rejects values the firmware or broker would refuse
func (c *Config) Validate() error {
	if c.Baud < 0 {
		return errors.New("baud must be positive")
	}
	if c.Sensor.ReportMS < 0 {
		return errors.New("sensor.report_ms must not be negative")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos %d out of range 0-2", c.MQTT.QoS)
	}
	return nil
}

// Serial returns the port settings
func (c *Config) Serial() serial.Config {
	return serial.Config{
		Device:      c.Device,
		Baud:        c.Baud,
		ReadTimeout: time.Duration(c.ReadTimeoutMS) * time.Millisecond,
	}
}

// ReportInterval is the query_echo period
func (c *Config) ReportInterval() time.Duration {
	return time.Duration(c.Sensor.ReportMS) * time.Millisecond
}
