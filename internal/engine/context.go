// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package engine

import (
	"go.starlark.net/starlark"

	"github.com/Thermoquad/vpid/pkg/vpi"
)

// Context returns the variables rule conditions are evaluated against
func Context(s vpi.Status, st vpi.Stats) starlark.StringDict {
	return starlark.StringDict{
		"has_click":           starlark.Bool(s.HasClick),
		"has_rpm":             starlark.Bool(s.HasRPM),
		"has_irq":             starlark.Bool(s.HasIRQ),
		"has_error":           starlark.Bool(s.HasError),
		"is_running":          starlark.Bool(s.IsRunning),
		"out_value":           starlark.Bool(s.OutValue),
		"is_wdg_enabled":      starlark.Bool(s.IsWdgEnabled),
		"is_wake_enabled":     starlark.Bool(s.IsWakeEnabled),
		"is_wake_irq_enabled": starlark.Bool(s.IsWakeIRQEnabled),
		"short":               starlark.MakeInt(s.PwrShort),
		"long":                starlark.MakeInt(s.PwrLong),
		"aux_short":           starlark.MakeInt(s.AuxShort),
		"aux_long":            starlark.MakeInt(s.AuxLong),
		"rpm":                 starlark.MakeInt(s.RPM),
		"error_count":         starlark.MakeInt(s.ErrorCount),
		"recover_type":        starlark.MakeInt(int(s.RecoverType)),

		"retries":       starlark.MakeUint(uint(st.Retries)),
		"recovers":      starlark.MakeUint(uint(st.Recovers)),
		"io_errors":     starlark.MakeUint(uint(st.IOErrors)),
		"i2c_errors":    starlark.MakeUint(uint(st.I2CErrors)),
		"crc_errors":    starlark.MakeUint(uint(st.CRCErrors)),
		"status_checks": starlark.MakeUint64(st.StatusChecks),
	}
}
