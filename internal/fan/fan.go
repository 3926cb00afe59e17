// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package fan computes the fan duty value from the SoC temperature
package fan

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/asecurityteam/rolling"
	"github.com/spf13/afero"

	"github.com/Thermoquad/vpid/internal/config"
)

// Interval is how often the daemon regulates the fan
const Interval = 3 * time.Second

// Regulator turns temperature readings into a duty value 0-255
type Regulator struct {
	cfg    config.FanConfig
	mode   string
	custom uint8

	fs     afero.Fs
	window *rolling.PointPolicy
	primed bool
	piSum  int64
	logger *slog.Logger
}

// New creates a regulator reading temperatures through fsys
func New(cfg config.FanConfig, fsys afero.Fs, logger *slog.Logger) *Regulator {
	sample := cfg.Sample
	if sample < 1 {
		sample = 1
	}
	return &Regulator{
		cfg:    cfg,
		mode:   cfg.Mode,
		custom: uint8(cfg.CustomValue),
		fs:     fsys,
		window: rolling.NewPointPolicy(rolling.NewWindow(sample)),
		logger: logger,
	}
}

// Mode returns the active regulation mode
func (r *Regulator) Mode() string { return r.mode }

// SetCustom pins the duty to v until the daemon reloads
func (r *Regulator) SetCustom(v uint8) {
	r.mode = config.FanCustom
	r.custom = v
}

// Temperature reads the thermal zone in millidegrees and returns the
// average over the smoothing window
func (r *Regulator) Temperature() (int, error) {
	raw, err := afero.ReadFile(r.fs, r.cfg.ThermalPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", r.cfg.ThermalPath, err)
	}
	t, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse temperature %q: %w", strings.TrimSpace(string(raw)), err)
	}

	if !r.primed {
		for i := 0; i < r.cfg.Sample; i++ {
			r.window.Append(float64(t))
		}
		r.primed = true
	} else {
		r.window.Append(float64(t))
	}
	return int(r.window.Reduce(rolling.Avg)), nil
}

// Regulate returns the duty value for the current mode
func (r *Regulator) Regulate() uint8 {
	switch r.mode {
	case config.FanOn:
		return 255
	case config.FanCustom:
		return r.custom
	case config.FanLinear:
		t, err := r.Temperature()
		if err != nil {
			r.logger.Error("fan temperature unavailable", "error", err)
			return 0
		}
		return Linear(t, r.cfg.LinearMinTemp, r.cfg.LinearMaxTemp)
	case config.FanPI:
		t, err := r.Temperature()
		if err != nil {
			r.logger.Error("fan temperature unavailable", "error", err)
			return 0
		}
		return r.pi(t)
	default:
		return 0
	}
}

// Linear scales t between min and max onto 0-255
func Linear(t, min, max int) uint8 {
	if max <= min {
		return 0
	}
	scaled := 256 * (t - min) / (max - min)
	switch {
	case scaled < 0:
		return 0
	case scaled > 255:
		return 255
	default:
		return uint8(scaled)
	}
}

func (r *Regulator) pi(t int) uint8 {
	diff := t - r.cfg.PIDesiredTemp
	r.piSum += int64(diff)
	out := r.cfg.Kp*float64(diff) + r.cfg.Ki*float64(r.piSum)
	switch {
	case out <= 0:
		r.piSum = 0
		return 0
	case out >= 255:
		return 255
	default:
		return uint8(out)
	}
}
