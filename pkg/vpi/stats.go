// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpi

import (
	"fmt"
	"time"
)

// Stats tracks driver counters for the lifetime of the process
type Stats struct {
	StartTime time.Time `json:"-"`
	LastRead  time.Time `json:"-"`
	LastWrite time.Time `json:"-"`

	// Counters
	Retries      uint32 `json:"retries"`
	Recovers     uint32 `json:"recovers"`
	IOErrors     uint32 `json:"io_errors"`
	I2CErrors    uint32 `json:"i2c_errors"`
	StatusChecks uint64 `json:"status_checks"`
	CRCErrors    uint32 `json:"crc_errors"`
}

// NewStats creates a zeroed stats tracker
func NewStats(now time.Time) Stats {
	return Stats{
		StartTime: now,
		LastRead:  now,
		LastWrite: now,
	}
}

// LastTransfer returns the time of the most recent read or write
func (s Stats) LastTransfer() time.Time {
	if s.LastRead.After(s.LastWrite) {
		return s.LastRead
	}
	return s.LastWrite
}

// String returns a formatted stats summary
func (s Stats) String() string {
	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== VPi Stats (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Status Checks:   %8d\n", s.StatusChecks)
	result += fmt.Sprintf("Retries:         %8d\n", s.Retries)
	result += fmt.Sprintf("Recovers:        %8d\n", s.Recovers)

	if s.IOErrors > 0 {
		result += fmt.Sprintf("I/O Errors:      %8d\n", s.IOErrors)
	}
	if s.I2CErrors > 0 {
		result += fmt.Sprintf("Board Errors:    %8d\n", s.I2CErrors)
	}
	if s.CRCErrors > 0 {
		result += fmt.Sprintf("CRC Resyncs:     %8d\n", s.CRCErrors)
	}
	if !s.LastRead.IsZero() {
		result += fmt.Sprintf("Last Read:       %s\n", s.LastRead.Format("15:04:05.000"))
	}
	if !s.LastWrite.IsZero() {
		result += fmt.Sprintf("Last Write:      %s\n", s.LastWrite.Format("15:04:05.000"))
	}
	result += "================================\n"

	return result
}
