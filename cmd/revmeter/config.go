package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the revmeter daemon.
//
// The config file is the primary configuration surface; flags exist for
// small overrides and for environments where a file is awkward. Defaults
// and validation are centralized here so the rest of the code can assume a
// well-formed config.
type Config struct {
	// Sensor input configuration
	Sensor SensorConfig `yaml:"sensor"`

	// Bank holds the sampling-core sizing
	Bank BankConfig `yaml:"bank"`

	// Cycle paces the processing loop
	Cycle CycleConfig `yaml:"cycle"`

	// Wheel geometry
	Wheel WheelConfig `yaml:"wheel"`

	// MQTT telemetry upload
	MQTT MQTTConfig `yaml:"mqtt"`

	// Status websocket (display surface)
	StateWS StateWSConfig `yaml:"state_ws"`

	// IPC configuration
	IPC IPCConfig `yaml:"ipc"`

	// Clock calibration
	Timesync TimesyncConfig `yaml:"timesync"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type SensorConfig struct {
	// Source selects the edge source: "input" (Linux input device) or
	// "serial" (microcontroller-attached sensor).
	Source string `yaml:"source"`

	// Device is the input event device for source "input".
	Device string `yaml:"device"`

	// KeyCode is the EV_KEY code the hall sensor is wired to.
	KeyCode uint16 `yaml:"key_code"`

	// SerialPort / BaudRate apply to source "serial".
	SerialPort string `yaml:"serial_port,omitempty"`
	BaudRate   int    `yaml:"baud_rate,omitempty"`

	// LEDPath, if set, is a sysfs brightness file toggled per event.
	LEDPath string `yaml:"led_path,omitempty"`
}

type BankConfig struct {
	Capacity int `yaml:"capacity"`
}

type CycleConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

type WheelConfig struct {
	CircumferenceIn float64 `yaml:"circumference_in"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	CyclesTopic string `yaml:"cycles_topic"`
	EventsTopic string `yaml:"events_topic"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TimeoutMS   int    `yaml:"timeout_ms"`
}

type StateWSConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type TimesyncConfig struct {
	// Mode is "local" or "ntp".
	Mode      string `yaml:"mode"`
	NTPServer string `yaml:"ntp_server"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`

	// Format is "text" or "color" (tint handler).
	Format string `yaml:"format"`
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go defaults and current CLI defaults.
func DefaultConfig() Config {
	return Config{
		Sensor: SensorConfig{
			Source:     "input",
			Device:     "/dev/input/event0",
			KeyCode:    defaultKeyCode,
			SerialPort: "/dev/ttyUSB0",
			BaudRate:   defaultSerialBaudRate,
		},
		Bank: BankConfig{
			Capacity: defaultBankCapacity,
		},
		Cycle: CycleConfig{
			IntervalMS: defaultCycleIntervalMS,
		},
		Wheel: WheelConfig{
			CircumferenceIn: defaultCircumferenceIn,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "mqtt://127.0.0.1:1883",
			ClientID:    "revmeter",
			CyclesTopic: "revmeter/cycles",
			EventsTopic: "revmeter/events",
			TimeoutMS:   defaultMQTTTimeoutMS,
		},
		StateWS: StateWSConfig{
			Addr: defaultStateWSAddr,
			Path: defaultStateWSPath,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		Timesync: TimesyncConfig{
			Mode:      "local",
			NTPServer: defaultNTPServer,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true),
// and trailing documents are an error.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// Validate checks cross-field constraints after flag overrides.
func (c *Config) Validate() error {
	switch c.Sensor.Source {
	case "input", "serial":
	default:
		return fmt.Errorf("sensor.source must be input or serial, got %q", c.Sensor.Source)
	}
	if c.Sensor.Source == "input" && c.Sensor.Device == "" {
		return errors.New("sensor.device is required for source input")
	}
	if c.Sensor.Source == "serial" && c.Sensor.SerialPort == "" {
		return errors.New("sensor.serial_port is required for source serial")
	}
	if c.Bank.Capacity <= 0 {
		return errors.New("bank.capacity must be positive")
	}
	if c.Cycle.IntervalMS <= 0 {
		return errors.New("cycle.interval_ms must be positive")
	}
	if c.Wheel.CircumferenceIn <= 0 {
		return errors.New("wheel.circumference_in must be positive")
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return errors.New("mqtt.broker_url is required when mqtt is enabled")
	}
	if c.MQTT.TimeoutMS <= 0 {
		return errors.New("mqtt.timeout_ms must be positive")
	}
	switch c.Timesync.Mode {
	case "local", "ntp":
	default:
		return fmt.Errorf("timesync.mode must be local or ntp, got %q", c.Timesync.Mode)
	}
	return nil
}

// FlagOverrides applies flag values on top of a loaded config.
// Each override is applied only when its pointer is non-nil, so a config
// file stays the primary source while flags allow ad-hoc overrides.
type FlagOverrides struct {
	SensorSource  *string
	SensorDevice  *string
	SensorSerial  *string
	BankCapacity  *int
	CycleInterval *int
	Circumference *float64
	MQTTEnabled   *bool
	MQTTBrokerURL *string
	StateWSAddr   *string
	IPCSocketPath *string
	TimesyncMode  *string
	NTPServer     *string
	LogLevel      *string
}

// Apply merges the overrides into cfg. Nil pointers are ignored.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.SensorSource != nil {
		cfg.Sensor.Source = *o.SensorSource
	}
	if o.SensorDevice != nil {
		cfg.Sensor.Device = *o.SensorDevice
	}
	if o.SensorSerial != nil {
		cfg.Sensor.SerialPort = *o.SensorSerial
	}
	if o.BankCapacity != nil {
		cfg.Bank.Capacity = *o.BankCapacity
	}
	if o.CycleInterval != nil {
		cfg.Cycle.IntervalMS = *o.CycleInterval
	}
	if o.Circumference != nil {
		cfg.Wheel.CircumferenceIn = *o.Circumference
	}
	if o.MQTTEnabled != nil {
		cfg.MQTT.Enabled = *o.MQTTEnabled
	}
	if o.MQTTBrokerURL != nil {
		cfg.MQTT.BrokerURL = *o.MQTTBrokerURL
	}
	if o.StateWSAddr != nil {
		cfg.StateWS.Addr = *o.StateWSAddr
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.TimesyncMode != nil {
		cfg.Timesync.Mode = *o.TimesyncMode
	}
	if o.NTPServer != nil {
		cfg.Timesync.NTPServer = *o.NTPServer
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
