// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package vpi provides a Go driver for the VPi supervisory board.
//
// The board exposes a fixed 45-byte register file over I2C: a read-only
// status and telemetry section followed by a read-write configuration
// section that ends with a command byte and its inverted copy. This package
// provides the register model, the CRC-8 used for configuration consistency
// and firmware images, a driver with retry and recovery, the textual command
// vocabulary and its JSON rendering, and the bootloader uploader.
package vpi

import "time"

// Board identity and bus defaults
const (
	DeviceMagic    = 0xAA
	DefaultAddress = 0x33
	DefaultDevice  = "/dev/i2c-1"
)

// Bootloader defaults
const (
	BootloaderAddress = 0x22
	DefaultResetPin   = 4
)

// Command byte values written to the command register
const (
	CmdNop          byte = 0x00
	CmdActivate     byte = 'A'
	CmdBoot         byte = 'B'
	CmdInit         byte = 'I'
	CmdFeed         byte = 'F'
	CmdHardShutdown byte = 'H'
	CmdShutdown     byte = 'S'
	CmdClear        byte = 'C'
	CmdFan          byte = 'N'
	CmdLed          byte = 'L'
	CmdBeep         byte = 'Z'
	CmdOutputSet    byte = '1'
	CmdOutputClear  byte = '0'
	CmdReset        byte = 'T'
	CmdWatchdogSet  byte = 'W'
	CmdWatchdogOff  byte = 'V'
	CmdWakeEnable   byte = 'E'
	CmdWakeDisable  byte = 'D'
	CmdWakeIRQOn    byte = 'e'
	CmdWakeIRQOff   byte = 'd'
)

// Status register bits (layout 1 0 I W B E R C)
const (
	StatusClick   = 1 << 0
	StatusRPM     = 1 << 1
	StatusError   = 1 << 2
	StatusRunning = 1 << 3
	StatusWdg     = 1 << 4
	StatusIRQ     = 1 << 5
)

// Flags register bits (layout 1 0 X X X O W I)
const (
	FlagWakeIRQ = 1 << 0
	FlagWake    = 1 << 1
	FlagOutput  = 1 << 2
)

// Top two bits of status and flags must read 10
const (
	integrityMask    = 0xC0
	integrityPattern = 0x80
)

// Button indexes into the click counters
const (
	ButtonPower = 0
	ButtonAux   = 1
	ClickShort  = 0
	ClickLong   = 1
)

// LED modes
const (
	LedOff       = 0
	LedOn        = 1
	LedCycle     = 2
	LedFastCycle = 3
	LedBlink     = 4
	LedFastBlink = 5
	LedCustom    = 6
)

// Buzzer tones
const (
	ToneLow    = 0
	ToneMedium = 1
	ToneHigh   = 2
)

// CRC-8 configuration
const (
	crcPolynomial = 0x07
	crcInitial    = 0x00
)

// Bus timing
const (
	minTransferGap   = 3 * time.Millisecond
	registerSetDelay = 1 * time.Millisecond
	maxAttempts      = 3
	retryBackoff     = 100 * time.Millisecond
	commandSettle    = 25 * time.Millisecond
	activateSettle   = 20 * time.Millisecond
	fanSettle        = 5 * time.Millisecond
	buzzerSettle     = 5 * time.Millisecond
	ledSettle        = 2 * time.Millisecond
	trailerDelay     = 5 * time.Millisecond
	integrityRetry   = 10 * time.Millisecond
	recoverAttempts  = 250
	recoverInterval  = 10 * time.Millisecond
	defaultPollTime  = 500 * time.Millisecond
)

// Bootloader timing and framing
const (
	resetPulse      = 500 * time.Millisecond
	bootloaderPause = 15 * time.Millisecond
	BlockSize       = 64
)
