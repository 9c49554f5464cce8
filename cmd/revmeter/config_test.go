package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if cfg.Bank.Capacity != defaultBankCapacity {
		t.Errorf("bank capacity = %d, want %d", cfg.Bank.Capacity, defaultBankCapacity)
	}
	if cfg.Cycle.IntervalMS != defaultCycleIntervalMS {
		t.Errorf("cycle interval = %d, want %d", cfg.Cycle.IntervalMS, defaultCycleIntervalMS)
	}
	if cfg.Sensor.Source != "input" {
		t.Errorf("sensor source = %q, want input", cfg.Sensor.Source)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfigFile(t, `
sensor:
  source: serial
  serial_port: /dev/ttyACM0
  baud_rate: 9600
bank:
  capacity: 512
wheel:
  circumference_in: 91.1
mqtt:
  enabled: true
  broker_url: mqtt://broker.local:1883
logging:
  level: debug
`)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Sensor.Source != "serial" || cfg.Sensor.SerialPort != "/dev/ttyACM0" {
		t.Errorf("sensor = %+v", cfg.Sensor)
	}
	if cfg.Sensor.BaudRate != 9600 {
		t.Errorf("baud rate = %d, want 9600", cfg.Sensor.BaudRate)
	}
	if cfg.Bank.Capacity != 512 {
		t.Errorf("bank capacity = %d, want 512", cfg.Bank.Capacity)
	}
	if cfg.Wheel.CircumferenceIn != 91.1 {
		t.Errorf("circumference = %g, want 91.1", cfg.Wheel.CircumferenceIn)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.BrokerURL != "mqtt://broker.local:1883" {
		t.Errorf("mqtt = %+v", cfg.MQTT)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}

	// Fields not present in the file keep their defaults.
	if cfg.Cycle.IntervalMS != defaultCycleIntervalMS {
		t.Errorf("cycle interval = %d, want default %d", cfg.Cycle.IntervalMS, defaultCycleIntervalMS)
	}
	if cfg.IPC.SocketPath != defaultIPCSocketPath {
		t.Errorf("ipc socket = %q, want default %q", cfg.IPC.SocketPath, defaultIPCSocketPath)
	}
}

func TestLoadConfigFileRejectsUnknownFields(t *testing.T) {
	path := writeConfigFile(t, `
bank:
  capacity: 64
  capcity_typo: 32
`)
	if _, err := LoadConfigFile(path); err == nil {
		t.Error("unknown field accepted, want error")
	}
}

func TestLoadConfigFileRejectsTrailingDocument(t *testing.T) {
	path := writeConfigFile(t, `
bank:
  capacity: 64
---
bank:
  capacity: 128
`)
	_, err := LoadConfigFile(path)
	if err == nil || !strings.Contains(err.Error(), "trailing document") {
		t.Errorf("trailing document err = %v", err)
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file accepted, want error")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad source", func(c *Config) { c.Sensor.Source = "gpio" }},
		{"input without device", func(c *Config) { c.Sensor.Device = "" }},
		{"serial without port", func(c *Config) {
			c.Sensor.Source = "serial"
			c.Sensor.SerialPort = ""
		}},
		{"zero capacity", func(c *Config) { c.Bank.Capacity = 0 }},
		{"zero interval", func(c *Config) { c.Cycle.IntervalMS = 0 }},
		{"zero circumference", func(c *Config) { c.Wheel.CircumferenceIn = 0 }},
		{"mqtt without broker", func(c *Config) {
			c.MQTT.Enabled = true
			c.MQTT.BrokerURL = ""
		}},
		{"bad timesync mode", func(c *Config) { c.Timesync.Mode = "gps" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestFlagOverridesApply(t *testing.T) {
	cfg := DefaultConfig()

	source := "serial"
	capacity := 1024
	circ := 100.0
	enabled := true
	level := "warn"
	FlagOverrides{
		SensorSource:  &source,
		BankCapacity:  &capacity,
		Circumference: &circ,
		MQTTEnabled:   &enabled,
		LogLevel:      &level,
	}.Apply(&cfg)

	if cfg.Sensor.Source != "serial" {
		t.Errorf("sensor source = %q, want serial", cfg.Sensor.Source)
	}
	if cfg.Bank.Capacity != 1024 {
		t.Errorf("bank capacity = %d, want 1024", cfg.Bank.Capacity)
	}
	if cfg.Wheel.CircumferenceIn != 100.0 {
		t.Errorf("circumference = %g, want 100", cfg.Wheel.CircumferenceIn)
	}
	if !cfg.MQTT.Enabled {
		t.Error("mqtt not enabled")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("log level = %q, want warn", cfg.Logging.Level)
	}

	// Untouched fields keep their values.
	if cfg.Cycle.IntervalMS != defaultCycleIntervalMS {
		t.Errorf("cycle interval = %d, want default", cfg.Cycle.IntervalMS)
	}
}

func TestFlagOverridesNilPointersIgnored(t *testing.T) {
	cfg := DefaultConfig()
	want := cfg
	FlagOverrides{}.Apply(&cfg)
	if cfg != want {
		t.Errorf("empty overrides mutated config: %+v", cfg)
	}
}
