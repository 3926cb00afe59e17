// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpi

// Recovery tags carried by Status
const (
	RecoverNone       = 0
	RecoverIO         = 1
	RecoverNotRunning = 2
)

// Status is a decoded snapshot of the status, flags and trailer registers
type Status struct {
	HasClick         bool  `json:"has_click"`
	HasRPM           bool  `json:"has_rpm"`
	HasError         bool  `json:"has_error"`
	HasIRQ           bool  `json:"has_irq"`
	IsRunning        bool  `json:"is_running"`
	IsWdgEnabled     bool  `json:"is_wdg_enabled"`
	IsWakeEnabled    bool  `json:"is_wake_enabled"`
	IsWakeIRQEnabled bool  `json:"is_wake_irq_enabled"`
	OutValue         bool  `json:"out_value"`
	Integrity        bool  `json:"integrity"`
	PwrShort         int   `json:"pwr_short"`
	PwrLong          int   `json:"pwr_long"`
	AuxShort         int   `json:"aux_short"`
	AuxLong          int   `json:"aux_long"`
	RPM              int   `json:"rpm"`
	ErrorCount       int   `json:"error_count"`
	RecoverType      uint8 `json:"recover_type"`
	CRC              uint8 `json:"crc"`
}

// Changed reports whether s differs from prev in any field that should
// trigger rule evaluation
func (s Status) Changed(prev Status) bool {
	return s.HasClick != prev.HasClick ||
		s.HasError != prev.HasError ||
		s.HasIRQ != prev.HasIRQ ||
		s.IsRunning != prev.IsRunning ||
		s.IsWdgEnabled != prev.IsWdgEnabled ||
		s.IsWakeEnabled != prev.IsWakeEnabled ||
		s.IsWakeIRQEnabled != prev.IsWakeIRQEnabled ||
		s.OutValue != prev.OutValue
}

// ValidIntegrity checks the fixed 10 pattern in the top two bits of a
// status or flags byte
func ValidIntegrity(b byte) bool {
	return b&integrityMask == integrityPattern
}

// decodeStatus fills the flag fields of a status from the header bytes
func decodeStatus(status, flags byte) Status {
	return Status{
		HasClick:         status&StatusClick != 0,
		HasRPM:           status&StatusRPM != 0,
		HasError:         status&StatusError != 0,
		IsRunning:        status&StatusRunning != 0,
		IsWdgEnabled:     status&StatusWdg != 0,
		HasIRQ:           status&StatusIRQ != 0,
		IsWakeEnabled:    flags&FlagWake != 0,
		IsWakeIRQEnabled: flags&FlagWakeIRQ != 0,
		OutValue:         flags&FlagOutput != 0,
		Integrity:        true,
	}
}

// trailerSpan returns the smallest contiguous read covering the trailer
// fields announced by the status flags. ok is false when none are needed.
func trailerSpan(s Status) (offset, length int, ok bool) {
	var need []Field
	if s.HasClick {
		need = append(need, FieldButtons)
	}
	if s.HasRPM {
		need = append(need, FieldRPM)
	}
	if s.HasError {
		need = append(need, FieldErrorCount)
	}
	if len(need) == 0 {
		return 0, 0, false
	}
	first, last := need[0], need[len(need)-1]
	return first.Offset, last.End() - first.Offset, true
}
