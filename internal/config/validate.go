// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ValidationError reports one invalid configuration field
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Field + ": " + v.Message
}

var (
	ruleKinds = []string{KindShutdown, KindReboot, KindShell, KindScript, KindNop}
	fanModes  = []string{FanOff, FanOn, FanCustom, FanLinear, FanPI}
)

// Validate checks every field and returns all problems joined together
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, a ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(c.Device) == "" {
		add("device", "must not be empty")
	}
	if c.Watchdog < 0 || c.Watchdog > 0xFF {
		add("watchdog", "%d outside 0-255 seconds", c.Watchdog)
	}
	if c.Wake < 0 || c.Wake > 0xFFFF {
		add("wake", "%d outside 0-65535 minutes", c.Wake)
	}
	if c.PollTime < 0 {
		add("poll_time", "must not be negative")
	}

	names := map[string]bool{}
	for i, r := range c.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		if r.Name == "" {
			add(field+".name", "must not be empty")
		} else if names[r.Name] {
			add(field+".name", "duplicate rule %q", r.Name)
		}
		names[r.Name] = true

		if strings.TrimSpace(r.When) == "" {
			add(field+".when", "must not be empty")
		}
		if !slices.Contains(ruleKinds, r.Kind) {
			add(field+".kind", "%q is not one of %s", r.Kind, strings.Join(ruleKinds, "|"))
		}
		if (r.Kind == KindShell || r.Kind == KindScript) && strings.TrimSpace(r.Script) == "" {
			add(field+".script", "required for kind %s", r.Kind)
		}
		if r.Kind == KindShell && strings.TrimSpace(c.Shell) == "" {
			add("shell", "required by rule %q", r.Name)
		}
		if r.Timeout < 0 {
			add(field+".timeout", "must not be negative")
		}
	}

	if f := c.Fan; f != nil {
		if !slices.Contains(fanModes, f.Mode) {
			add("fan.mode", "%q is not one of %s", f.Mode, strings.Join(fanModes, "|"))
		}
		if f.Pins < 2 || f.Pins > 4 {
			add("fan.pins", "%d is not 2, 3 or 4", f.Pins)
		}
		if f.Divisor < 0 || f.Divisor > 0xFF {
			add("fan.divisor", "%d outside 0-255", f.Divisor)
		}
		if f.Sample < 1 {
			add("fan.sample", "must be at least 1")
		}
		if f.PWMFreq < 0 || f.PWMFreq > 62500 {
			add("fan.pwm_freq", "%d outside 1-62500 Hz", f.PWMFreq)
		}
		if f.LinearMaxTemp <= f.LinearMinTemp {
			add("fan.linear_max_temp", "must be above linear_min_temp")
		}
		if f.CustomValue < 0 || f.CustomValue > 0xFF {
			add("fan.custom_value", "%d outside 0-255", f.CustomValue)
		}
		if f.ThermalPath == "" {
			add("fan.thermal_path", "must not be empty")
		}
	}

	if m := c.MQTT; m != nil {
		if m.Host == "" {
			add("mqtt.host", "must not be empty")
		}
		if m.Port < 1 || m.Port > 0xFFFF {
			add("mqtt.port", "%d outside 1-65535", m.Port)
		}
		if m.CmdTopic == "" {
			add("mqtt.cmd_topic", "must not be empty")
		}
	}

	if w := c.Web; w != nil {
		if w.Bind == "" {
			add("web.bind", "must not be empty")
		}
		if !strings.HasPrefix(w.Path, "/") {
			add("web.path", "%q must start with /", w.Path)
		}
		if (w.Username == "") != (w.Password == "") {
			add("web.username", "username and password must be set together")
		}
	}

	return errors.Join(errs...)
}
