// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package fan

import (
	"log/slog"
	"strconv"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/vpid/internal/config"
)

const thermal = "/sys/class/thermal/thermal_zone0/temp"

func newRegulator(t *testing.T, mode string, temps ...int) (*Regulator, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if len(temps) > 0 {
		setTemp(t, fs, temps[0])
	}
	cfg := config.DefaultFan()
	cfg.Mode = mode
	cfg.ThermalPath = thermal
	return New(cfg, fs, slog.New(slog.DiscardHandler)), fs
}

func setTemp(t *testing.T, fs afero.Fs, milli int) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, thermal, []byte(strconv.Itoa(milli)+"\n"), 0o644))
}

func TestLinear(t *testing.T) {
	cases := []struct {
		temp int
		want uint8
	}{
		{20000, 0},
		{35000, 0},
		{52500, 128},
		{69000, 248},
		{70000, 255},
		{90000, 255},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Linear(c.temp, 35000, 70000), "temp %d", c.temp)
	}
	assert.Equal(t, uint8(0), Linear(50000, 10, 10))
}

func TestRegulate_FixedModes(t *testing.T) {
	r, _ := newRegulator(t, config.FanOff)
	assert.Equal(t, uint8(0), r.Regulate())

	r, _ = newRegulator(t, config.FanOn)
	assert.Equal(t, uint8(255), r.Regulate())

	r.SetCustom(77)
	assert.Equal(t, config.FanCustom, r.Mode())
	assert.Equal(t, uint8(77), r.Regulate())
}

func TestRegulate_LinearSmoothed(t *testing.T) {
	r, fs := newRegulator(t, config.FanLinear, 35000)
	assert.Equal(t, uint8(0), r.Regulate())

	setTemp(t, fs, 70000)
	// window of 5 primed with 35000: average is 42000
	assert.Equal(t, Linear(42000, 35000, 70000), r.Regulate())

	for i := 0; i < 5; i++ {
		r.Regulate()
	}
	assert.Equal(t, uint8(255), r.Regulate())
}

func TestRegulate_MissingSensor(t *testing.T) {
	r, _ := newRegulator(t, config.FanLinear)
	assert.Equal(t, uint8(0), r.Regulate())

	r, fs := newRegulator(t, config.FanPI)
	require.NoError(t, afero.WriteFile(fs, thermal, []byte("hot"), 0o644))
	assert.Equal(t, uint8(0), r.Regulate())
}

func TestRegulate_PI(t *testing.T) {
	r, fs := newRegulator(t, config.FanPI, 46500)
	assert.Equal(t, uint8(0), r.Regulate(), "at setpoint output is zero")

	setTemp(t, fs, 56500)
	r.primed = false
	// diff 10000: 0.02*10000 + 0.0002*10000 = 202
	assert.Equal(t, uint8(202), r.Regulate())
	// integral grows: 200 + 0.0002*20000 = 204
	assert.Equal(t, uint8(204), r.Regulate())

	setTemp(t, fs, 30000)
	r.primed = false
	assert.Equal(t, uint8(0), r.Regulate())
	assert.Equal(t, int64(0), r.piSum, "non-positive output resets the integral")
}
