// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads and validates the daemon's YAML configuration
package config

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/vpid/pkg/vpi"
)

// DefaultPath is where the daemon looks for its configuration
const DefaultPath = "/etc/vpid/vpid.yml"

// Rule kinds
const (
	KindShutdown = "shutdown"
	KindReboot   = "reboot"
	KindShell    = "shell"
	KindScript   = "script"
	KindNop      = "nop"
)

// Fan modes
const (
	FanOff    = "off"
	FanOn     = "on"
	FanCustom = "custom"
	FanLinear = "linear"
	FanPI     = "pi"
)

// Config is the daemon configuration
type Config struct {
	Device          string `yaml:"device"`
	ShutdownCommand string `yaml:"shutdown_command"`
	RebootCommand   string `yaml:"reboot_command"`

	ShortTime int `yaml:"short_time"`
	SpaceTime int `yaml:"space_time"`
	HoldTime  int `yaml:"hold_time"`
	GraceTime int `yaml:"grace_time"`
	PollTime  int `yaml:"poll_time"` // ms, 0 derives from space_time

	Watchdog         int  `yaml:"watchdog"`
	WatchdogAutofeed bool `yaml:"watchdog_autofeed"`
	Wake             int  `yaml:"wake"`
	WakeIRQ          bool `yaml:"wake_irq"`

	Shell string `yaml:"shell"`
	Rules []Rule `yaml:"rules"`

	Fan  *FanConfig  `yaml:"fan"`
	MQTT *MQTTConfig `yaml:"mqtt"`
	Web  *WebConfig  `yaml:"web"`

	KVStore     string `yaml:"kv_store"`
	WatchConfig bool   `yaml:"watch_config"`
}

// Rule pairs a condition with an action
type Rule struct {
	Name    string `yaml:"name"`
	When    string `yaml:"when"`
	Kind    string `yaml:"kind"`
	Script  string `yaml:"script"`
	Async   bool   `yaml:"async"`
	Timeout int    `yaml:"timeout"` // seconds, 0 means none
}

// FanConfig enables fan regulation
type FanConfig struct {
	Pins          int     `yaml:"pins"`
	Divisor       int     `yaml:"divisor"`
	Sample        int     `yaml:"sample"`
	PWMFreq       int     `yaml:"pwm_freq"`
	ThermalPath   string  `yaml:"thermal_path"`
	Mode          string  `yaml:"mode"`
	LinearMinTemp int     `yaml:"linear_min_temp"`
	LinearMaxTemp int     `yaml:"linear_max_temp"`
	PIDesiredTemp int     `yaml:"pi_desired_temp"`
	CustomValue   int     `yaml:"custom_value"`
	Kp            float64 `yaml:"kp"`
	Ki            float64 `yaml:"ki"`
}

// MQTTConfig enables the MQTT bridge
type MQTTConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ID       string `yaml:"id"`
	CmdTopic string `yaml:"cmd_topic"`
	EvtTopic string `yaml:"evt_topic"`
	User     string `yaml:"user"`
	Password string `yaml:"passw"`
}

// WebConfig enables the websocket bridge
type WebConfig struct {
	Bind     string `yaml:"bind"`
	Path     string `yaml:"path"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns the configuration used for absent keys
func Default() Config {
	return Config{
		Device:           vpi.DefaultDevice,
		ShutdownCommand:  `/sbin/shutdown -P -t 1 now "Vpid is shutting down the system"`,
		RebootCommand:    `/sbin/shutdown -r -t 1 now "Vpid is rebooting the system"`,
		ShortTime:        250,
		SpaceTime:        1250,
		HoldTime:         7,
		GraceTime:        15,
		PollTime:         250,
		WatchdogAutofeed: true,
		Shell:            "/bin/sh -c",
	}
}

// DefaultFan returns the fan defaults
func DefaultFan() FanConfig {
	return FanConfig{
		Pins:          2,
		Divisor:       2,
		Sample:        5,
		ThermalPath:   "/sys/class/thermal/thermal_zone0/temp",
		Mode:          FanOff,
		LinearMinTemp: 35000,
		LinearMaxTemp: 70000,
		PIDesiredTemp: 46500,
		Kp:            0.02,
		Ki:            0.0002,
	}
}

// UnmarshalYAML fills absent fan keys with their defaults
func (f *FanConfig) UnmarshalYAML(n *yaml.Node) error {
	type plain FanConfig
	*f = DefaultFan()
	return n.Decode((*plain)(f))
}

// UnmarshalYAML fills absent MQTT keys with their defaults
func (m *MQTTConfig) UnmarshalYAML(n *yaml.Node) error {
	type plain MQTTConfig
	*m = MQTTConfig{Port: 1883}
	return n.Decode((*plain)(m))
}

// UnmarshalYAML fills absent web keys with their defaults
func (w *WebConfig) UnmarshalYAML(n *yaml.Node) error {
	type plain WebConfig
	*w = WebConfig{Path: "/ws"}
	return n.Decode((*plain)(w))
}

// Load reads and validates the configuration at path
func Load(fs afero.Fs, path string) (*Config, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a YAML configuration. Unknown keys are
// rejected; an empty document yields the defaults.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Timings returns the button timing block with out-of-range values clamped
// to the register defaults
func (c *Config) Timings() vpi.Timings {
	return vpi.NewTimings(c.ShortTime, c.SpaceTime, c.HoldTime, c.GraceTime)
}

// PollInterval returns the monitor period: poll_time when set, otherwise
// half of space_time with a 500 ms floor
func (c *Config) PollInterval() time.Duration {
	if c.PollTime > 0 {
		return time.Duration(c.PollTime) * time.Millisecond
	}
	d := time.Duration(c.Timings().SpaceMs/2) * time.Millisecond
	if d < 500*time.Millisecond {
		d = 500 * time.Millisecond
	}
	return d
}

// AutofeedInterval returns the feed period, or 0 when autofeed is off
func (c *Config) AutofeedInterval() time.Duration {
	return AutofeedFor(c.Watchdog, c.WatchdogAutofeed)
}

// AutofeedFor returns the feed period for a watchdog of secs seconds:
// half the watchdog period, or 0 when disabled
func AutofeedFor(secs int, autofeed bool) time.Duration {
	if !autofeed || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * 500 * time.Millisecond
}

// Frequency returns the configured PWM frequency or the default for the
// fan's pin count
func (f *FanConfig) Frequency() uint16 {
	if f.PWMFreq >= 1 && f.PWMFreq <= 62500 {
		return uint16(f.PWMFreq)
	}
	if f.Pins == 4 {
		return 25500
	}
	return 250
}

// RPMDivisor returns the pulses-per-revolution divisor; 0 becomes 2
func (f *FanConfig) RPMDivisor() uint8 {
	if f.Divisor <= 0 {
		return 2
	}
	return uint8(f.Divisor)
}
