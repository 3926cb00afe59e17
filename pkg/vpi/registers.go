// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpi

import (
	"encoding/binary"
	"fmt"
)

// Field describes one register by byte offset and length
type Field struct {
	Name   string
	Offset int
	Length int
}

// End returns the offset just past the field
func (f Field) End() int {
	return f.Offset + f.Length
}

// Register file layout. Offsets are bit-exact with the firmware.
var (
	FieldID              = Field{"id", 0, 1}
	FieldVersion         = Field{"version", 1, 1}
	FieldStatus          = Field{"status", 2, 1}
	FieldFlags           = Field{"flags", 3, 1}
	FieldCRC             = Field{"crc", 4, 1}
	FieldButtons         = Field{"buttons", 5, 4}
	FieldRPM             = Field{"rpm", 9, 2}
	FieldErrorCount      = Field{"err_count", 11, 1}
	FieldUUID            = Field{"uuid", 12, 12}
	FieldPWMFreq         = Field{"pwm_freq", 24, 2}
	FieldRevDivisor      = Field{"rev_divisor", 26, 1}
	FieldWatchdog        = Field{"wdg", 27, 1}
	FieldWake            = Field{"wake", 28, 2}
	FieldShortTime       = Field{"short_tm", 30, 2}
	FieldSpaceTime       = Field{"space_tm", 32, 2}
	FieldHoldTime        = Field{"hold_tm", 34, 1}
	FieldGraceTime       = Field{"grace_tm", 35, 1}
	FieldLedMode         = Field{"led_mode", 36, 1}
	FieldLedValue        = Field{"led_val", 37, 1}
	FieldBuzzFreq        = Field{"buzz_freq", 38, 1}
	FieldBuzzBeepTime    = Field{"buzz_b_tm", 39, 1}
	FieldBuzzPauseTime   = Field{"buzz_p_tm", 40, 1}
	FieldBuzzCount       = Field{"buzz_count", 41, 1}
	FieldFanValue        = Field{"fan_val", 42, 1}
	FieldCommand         = Field{"cmd", 43, 1}
	FieldInvertedCommand = Field{"icmd", 44, 1}
)

// Fields lists every register in layout order
var Fields = []Field{
	FieldID, FieldVersion, FieldStatus, FieldFlags, FieldCRC, FieldButtons,
	FieldRPM, FieldErrorCount, FieldUUID, FieldPWMFreq, FieldRevDivisor,
	FieldWatchdog, FieldWake, FieldShortTime, FieldSpaceTime, FieldHoldTime,
	FieldGraceTime, FieldLedMode, FieldLedValue, FieldBuzzFreq,
	FieldBuzzBeepTime, FieldBuzzPauseTime, FieldBuzzCount, FieldFanValue,
	FieldCommand, FieldInvertedCommand,
}

// RegisterSize is the total size of the register file in bytes
const RegisterSize = 45

// Writable window: pwm_freq through icmd inclusive
var (
	WritableStart = FieldPWMFreq.Offset
	WritableEnd   = FieldInvertedCommand.End()
)

// Span returns offset and length covering first through last inclusive
func Span(first, last Field) (int, int) {
	return first.Offset, last.End() - first.Offset
}

// CheckRead validates a read range against the register file
func CheckRead(offset, length int) error {
	if offset < 0 || length <= 0 || offset+length > RegisterSize {
		return fmt.Errorf("%w: read offset=%d len=%d", ErrOutOfBounds, offset, length)
	}
	return nil
}

// CheckWrite validates a write range against the writable window
func CheckWrite(offset, length int) error {
	if offset < WritableStart || length <= 0 || offset+length > WritableEnd {
		return fmt.Errorf("%w: write offset=%d len=%d", ErrOutOfBounds, offset, length)
	}
	return nil
}

// Timings holds the button and shutdown timing block
type Timings struct {
	ShortMs uint16 `json:"short_tm"`
	SpaceMs uint16 `json:"space_tm"`
	HoldS   uint8  `json:"hold_tm"`
	GraceS  uint8  `json:"grace_tm"`
}

// DefaultTimings returns the firmware's timing defaults
func DefaultTimings() Timings {
	return Timings{ShortMs: 200, SpaceMs: 1200, HoldS: 8, GraceS: 15}
}

// NewTimings builds a timing block, replacing each out-of-range value with
// its default: short > 20 ms, space > 100 ms, hold > 0 s, grace > 0 s.
func NewTimings(short, space, hold, grace int) Timings {
	t := DefaultTimings()
	if short > 20 && short <= 0xFFFF {
		t.ShortMs = uint16(short)
	}
	if space > 100 && space <= 0xFFFF {
		t.SpaceMs = uint16(space)
	}
	if hold > 0 && hold <= 0xFF {
		t.HoldS = uint8(hold)
	}
	if grace > 0 && grace <= 0xFF {
		t.GraceS = uint8(grace)
	}
	return t
}

// Led holds the LED mode and value
type Led struct {
	Mode  uint8 `json:"mode"`
	Value uint8 `json:"value"`
}

// Buzzer holds a beep sequence. Times are in units of 100 ms.
type Buzzer struct {
	Freq      uint8 `json:"freq"`
	BeepTime  uint8 `json:"beep_time"`
	PauseTime uint8 `json:"pause_time"`
	Count     uint8 `json:"count"`
}

// Registers is the logical, host-ordered view of the register file
type Registers struct {
	ID         uint8
	Version    uint8
	Status     uint8
	Flags      uint8
	CRC        uint8
	Buttons    [2][2]uint8
	RPM        uint16
	ErrorCount uint8
	UUID       [12]byte

	PWMFreq    uint16
	RevDivisor uint8
	Watchdog   uint8
	Wake       uint16
	Timings    Timings
	Led        Led
	Buzzer     Buzzer
	FanValue   uint8
	Command    uint8
	InvCommand uint8
}

// Wire is the register file as it travels on the bus (big-endian u16 fields)
type Wire [RegisterSize]byte

// Encode converts the logical registers into wire bytes. The inverted
// command byte is recomputed as Command XOR DeviceMagic.
func (r *Registers) Encode(w *Wire) {
	r.InvCommand = r.Command ^ DeviceMagic

	w[FieldID.Offset] = r.ID
	w[FieldVersion.Offset] = r.Version
	w[FieldStatus.Offset] = r.Status
	w[FieldFlags.Offset] = r.Flags
	w[FieldCRC.Offset] = r.CRC
	w[FieldButtons.Offset+0] = r.Buttons[ButtonPower][ClickShort]
	w[FieldButtons.Offset+1] = r.Buttons[ButtonPower][ClickLong]
	w[FieldButtons.Offset+2] = r.Buttons[ButtonAux][ClickShort]
	w[FieldButtons.Offset+3] = r.Buttons[ButtonAux][ClickLong]
	binary.BigEndian.PutUint16(w[FieldRPM.Offset:], r.RPM)
	w[FieldErrorCount.Offset] = r.ErrorCount
	copy(w[FieldUUID.Offset:FieldUUID.End()], r.UUID[:])

	binary.BigEndian.PutUint16(w[FieldPWMFreq.Offset:], r.PWMFreq)
	w[FieldRevDivisor.Offset] = r.RevDivisor
	w[FieldWatchdog.Offset] = r.Watchdog
	binary.BigEndian.PutUint16(w[FieldWake.Offset:], r.Wake)
	binary.BigEndian.PutUint16(w[FieldShortTime.Offset:], r.Timings.ShortMs)
	binary.BigEndian.PutUint16(w[FieldSpaceTime.Offset:], r.Timings.SpaceMs)
	w[FieldHoldTime.Offset] = r.Timings.HoldS
	w[FieldGraceTime.Offset] = r.Timings.GraceS
	w[FieldLedMode.Offset] = r.Led.Mode
	w[FieldLedValue.Offset] = r.Led.Value
	w[FieldBuzzFreq.Offset] = r.Buzzer.Freq
	w[FieldBuzzBeepTime.Offset] = r.Buzzer.BeepTime
	w[FieldBuzzPauseTime.Offset] = r.Buzzer.PauseTime
	w[FieldBuzzCount.Offset] = r.Buzzer.Count
	w[FieldFanValue.Offset] = r.FanValue
	w[FieldCommand.Offset] = r.Command
	w[FieldInvertedCommand.Offset] = r.InvCommand
}

// Decode replaces the logical registers with the contents of w
func (r *Registers) Decode(w *Wire) {
	r.ID = w[FieldID.Offset]
	r.Version = w[FieldVersion.Offset]
	r.Status = w[FieldStatus.Offset]
	r.Flags = w[FieldFlags.Offset]
	r.CRC = w[FieldCRC.Offset]
	r.Buttons[ButtonPower][ClickShort] = w[FieldButtons.Offset+0]
	r.Buttons[ButtonPower][ClickLong] = w[FieldButtons.Offset+1]
	r.Buttons[ButtonAux][ClickShort] = w[FieldButtons.Offset+2]
	r.Buttons[ButtonAux][ClickLong] = w[FieldButtons.Offset+3]
	r.RPM = binary.BigEndian.Uint16(w[FieldRPM.Offset:])
	r.ErrorCount = w[FieldErrorCount.Offset]
	copy(r.UUID[:], w[FieldUUID.Offset:FieldUUID.End()])

	r.PWMFreq = binary.BigEndian.Uint16(w[FieldPWMFreq.Offset:])
	r.RevDivisor = w[FieldRevDivisor.Offset]
	r.Watchdog = w[FieldWatchdog.Offset]
	r.Wake = binary.BigEndian.Uint16(w[FieldWake.Offset:])
	r.Timings.ShortMs = binary.BigEndian.Uint16(w[FieldShortTime.Offset:])
	r.Timings.SpaceMs = binary.BigEndian.Uint16(w[FieldSpaceTime.Offset:])
	r.Timings.HoldS = w[FieldHoldTime.Offset]
	r.Timings.GraceS = w[FieldGraceTime.Offset]
	r.Led.Mode = w[FieldLedMode.Offset]
	r.Led.Value = w[FieldLedValue.Offset]
	r.Buzzer.Freq = w[FieldBuzzFreq.Offset]
	r.Buzzer.BeepTime = w[FieldBuzzBeepTime.Offset]
	r.Buzzer.PauseTime = w[FieldBuzzPauseTime.Offset]
	r.Buzzer.Count = w[FieldBuzzCount.Offset]
	r.FanValue = w[FieldFanValue.Offset]
	r.Command = w[FieldCommand.Offset]
	r.InvCommand = w[FieldInvertedCommand.Offset]
}

// ConfigCRC computes the checksum the board reports for its configuration:
// CRC-8 over the wire bytes from pwm_freq up to, not including, cmd.
func (w *Wire) ConfigCRC() byte {
	return CalculateCRC(w[FieldPWMFreq.Offset:FieldCommand.Offset])
}
