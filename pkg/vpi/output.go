// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpi

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Output is the result of running a command: free text, a status
// snapshot, a stats snapshot or the board UUID
type Output struct {
	Text   string
	Status *Status
	Stats  *Stats
	UUID   string
}

// TextOutput wraps a plain message
func TextOutput(format string, a ...any) Output {
	return Output{Text: fmt.Sprintf(format, a...)}
}

// data returns the value placed in the JSON envelope's data field
func (o Output) data() any {
	switch {
	case o.Status != nil:
		return o.Status
	case o.Stats != nil:
		return o.Stats
	case o.UUID != "":
		return o.UUID
	default:
		return o.Text
	}
}

// String renders the output as human-readable text
func (o Output) String() string {
	switch {
	case o.Status != nil:
		return FormatStatus(*o.Status)
	case o.Stats != nil:
		return o.Stats.String()
	case o.UUID != "":
		return o.UUID
	default:
		return o.Text
	}
}

// JSON renders the output as {"result":true,"data":...}
func (o Output) JSON() string {
	return envelope(true, o.data())
}

// OKJSON is the reply for commands without data
func OKJSON() string {
	return `{"result":true}`
}

// FailJSON is the reply for a failed command without detail
func FailJSON() string {
	return `{"result":false}`
}

// ErrorJSON renders a failure as {"result":false,"data":"msg"}
func ErrorJSON(msg string) string {
	return envelope(false, msg)
}

// DataJSON renders arbitrary data in a success envelope
func DataJSON(data any) string {
	return envelope(true, data)
}

func envelope(result bool, data any) string {
	b, err := json.Marshal(struct {
		Result bool `json:"result"`
		Data   any  `json:"data"`
	}{result, data})
	if err != nil {
		return ErrorJSON(err.Error())
	}
	return string(b)
}

// FormatStatus renders a status snapshot as an aligned block
func FormatStatus(s Status) string {
	if !s.Integrity {
		return "=== VPi Status ===\nIntegrity:       FAILED\n==================\n"
	}

	var flags []string
	add := func(set bool, name string) {
		if set {
			flags = append(flags, name)
		}
	}
	add(s.IsRunning, "running")
	add(s.HasClick, "click")
	add(s.HasRPM, "rpm")
	add(s.HasError, "error")
	add(s.HasIRQ, "irq")
	add(s.IsWdgEnabled, "watchdog")
	add(s.IsWakeEnabled, "wake")
	add(s.IsWakeIRQEnabled, "wake-irq")
	add(s.OutValue, "output")
	if len(flags) == 0 {
		flags = append(flags, "none")
	}

	result := "=== VPi Status ===\n"
	result += fmt.Sprintf("Flags:           %s\n", strings.Join(flags, " "))
	result += fmt.Sprintf("Power Button:    short=%d long=%d\n", s.PwrShort, s.PwrLong)
	result += fmt.Sprintf("Aux Button:      short=%d long=%d\n", s.AuxShort, s.AuxLong)
	if s.HasRPM {
		result += fmt.Sprintf("Fan RPM:         %d\n", s.RPM)
	}
	if s.HasError {
		result += fmt.Sprintf("Board Errors:    %d\n", s.ErrorCount)
	}
	if s.RecoverType != RecoverNone {
		result += fmt.Sprintf("Recovery:        %s\n", recoverName(s.RecoverType))
	}
	result += fmt.Sprintf("Config CRC:      0x%02X\n", s.CRC)
	result += "==================\n"
	return result
}

func recoverName(t uint8) string {
	switch t {
	case RecoverIO:
		return "after I/O failure"
	case RecoverNotRunning:
		return "board not running"
	default:
		return "none"
	}
}
