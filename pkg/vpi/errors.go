// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpi

import (
	"errors"
	"fmt"
)

var (
	ErrNotOpen         = errors.New("i2c device not available/opened")
	ErrOutOfBounds     = errors.New("i2c registers out of bounds")
	ErrDeviceMismatch  = errors.New("i2c device id does not match")
	ErrUnreachable     = errors.New("no contact with vpi board")
	ErrDeviceLost      = errors.New("unable to recover connection with vpi board")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrBootloaderNACK  = errors.New("bootloader answered NACK")
)

// BusError reports a transfer that failed on every attempt
type BusError struct {
	Op     string // "read" or "write"
	Offset int
	Length int
	Err    error
}

// Error implements the error interface
func (e *BusError) Error() string {
	return fmt.Sprintf("i2c %s reg:0x%02X len:%d failed: %v", e.Op, e.Offset, e.Length, e.Err)
}

// Unwrap returns the last underlying transfer error
func (e *BusError) Unwrap() error {
	return e.Err
}
