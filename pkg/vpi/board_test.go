// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpi

import (
	"errors"
	"testing"
	"time"
)

// ============================================================
// Simulated Board
// ============================================================

var errInjected = errors.New("injected bus failure")

type transfer struct {
	write bool
	reg   int
	data  []byte
}

// fakeBoard emulates the firmware side of the register protocol: a
// register pointer, the 45-byte file, the command handler and a CRC that
// follows the configuration
type fakeBoard struct {
	mem      Wire
	pointer  int
	failNext int
	failAll  bool
	badICmd  int
	closed   bool

	transfers []transfer
	commands  []byte
}

func newFakeBoard() *fakeBoard {
	b := &fakeBoard{}
	b.mem[FieldID.Offset] = DeviceMagic
	b.mem[FieldVersion.Offset] = 3
	b.mem[FieldStatus.Offset] = integrityPattern | StatusRunning
	b.mem[FieldFlags.Offset] = integrityPattern
	copy(b.mem[FieldUUID.Offset:], []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0xAB, 0xCD})
	b.mem[FieldPWMFreq.Offset] = 0x03
	b.mem[FieldPWMFreq.Offset+1] = 0xE8
	b.mem[FieldRevDivisor.Offset] = 2
	b.mem[FieldShortTime.Offset+1] = 200
	b.mem[FieldSpaceTime.Offset] = 0x04
	b.mem[FieldSpaceTime.Offset+1] = 0xB0
	b.mem[FieldHoldTime.Offset] = 8
	b.mem[FieldGraceTime.Offset] = 15
	b.mem[FieldInvertedCommand.Offset] = DeviceMagic
	return b
}

func (b *fakeBoard) fail() bool {
	if b.failAll {
		return true
	}
	if b.failNext > 0 {
		b.failNext--
		return true
	}
	return false
}

func (b *fakeBoard) Write(p []byte) error {
	if b.fail() {
		return errInjected
	}
	b.pointer = int(p[0])
	b.transfers = append(b.transfers, transfer{write: true, reg: b.pointer, data: append([]byte{}, p[1:]...)})
	if len(p) == 1 {
		return nil
	}
	copy(b.mem[b.pointer:], p[1:])
	if b.pointer+len(p)-1 > FieldCommand.Offset {
		b.execute()
	}
	return nil
}

func (b *fakeBoard) execute() {
	cmd := b.mem[FieldCommand.Offset]
	if b.mem[FieldInvertedCommand.Offset] != cmd^DeviceMagic {
		b.badICmd++
		return
	}
	if cmd == CmdNop {
		return
	}
	b.commands = append(b.commands, cmd)
	switch cmd {
	case CmdClear:
		for i := 0; i < FieldButtons.Length; i++ {
			b.mem[FieldButtons.Offset+i] = 0
		}
		b.mem[FieldStatus.Offset] &^= StatusClick | StatusRPM | StatusError | StatusIRQ
	case CmdWatchdogSet:
		b.mem[FieldStatus.Offset] |= StatusWdg
	case CmdWatchdogOff:
		b.mem[FieldStatus.Offset] &^= StatusWdg
	case CmdWakeEnable:
		b.mem[FieldFlags.Offset] |= FlagWake
	case CmdWakeDisable:
		b.mem[FieldFlags.Offset] &^= FlagWake
	case CmdOutputSet:
		b.mem[FieldFlags.Offset] |= FlagOutput
	case CmdOutputClear:
		b.mem[FieldFlags.Offset] &^= FlagOutput
	}
	b.mem[FieldCommand.Offset] = CmdNop
	b.mem[FieldInvertedCommand.Offset] = DeviceMagic
}

func (b *fakeBoard) Read(p []byte) error {
	if b.fail() {
		return errInjected
	}
	b.mem[FieldCRC.Offset] = b.mem.ConfigCRC()
	n := copy(p, b.mem[b.pointer:])
	b.transfers = append(b.transfers, transfer{reg: b.pointer, data: append([]byte{}, p[:n]...)})
	return nil
}

func (b *fakeBoard) Close() error {
	b.closed = true
	return nil
}

// reads returns the register offsets of every read transfer
func (b *fakeBoard) reads() []int {
	var regs []int
	for _, t := range b.transfers {
		if !t.write {
			regs = append(regs, t.reg)
		}
	}
	return regs
}

// writes returns every write transfer that carried data
func (b *fakeBoard) writes() []transfer {
	var out []transfer
	for _, t := range b.transfers {
		if t.write && len(t.data) > 0 {
			out = append(out, t)
		}
	}
	return out
}

func (b *fakeBoard) reset() {
	b.transfers = nil
	b.commands = nil
}

// newTestDriver opens a driver against board with sleeping disabled
func newTestDriver(t *testing.T, board *fakeBoard) *Driver {
	t.Helper()
	d := NewDriver(WithDialer(func(string, uint16) (Conn, error) { return board, nil }))
	d.sleep = func(time.Duration) {}
	if err := d.Open("/dev/i2c-test"); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	board.reset()
	return d
}
