// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpi

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

// ============================================================
// Open Tests
// ============================================================

func TestOpen_ReadsRegisterFile(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)

	if d.State() != StateReady {
		t.Fatalf("Expected ready state, got %s", d.State())
	}
	regs := d.Registers()
	if regs.Version != 3 {
		t.Errorf("Expected version 3, got %d", regs.Version)
	}
	if regs.PWMFreq != 1000 {
		t.Errorf("Expected PWM frequency 1000, got %d", regs.PWMFreq)
	}
	if regs.Timings.SpaceMs != 1200 {
		t.Errorf("Expected space time 1200, got %d", regs.Timings.SpaceMs)
	}
	if got := d.UUID(); got != "0102030405060708090AABCD" {
		t.Errorf("Unexpected UUID %q", got)
	}
}

func TestOpen_DeviceMismatch(t *testing.T) {
	board := newFakeBoard()
	board.mem[FieldID.Offset] = 0x55
	d := NewDriver(WithDialer(func(string, uint16) (Conn, error) { return board, nil }))
	d.sleep = func(time.Duration) {}

	err := d.Open("/dev/i2c-test")
	if !errors.Is(err, ErrDeviceMismatch) {
		t.Fatalf("Expected ErrDeviceMismatch, got %v", err)
	}
	if !board.closed {
		t.Error("Handle should be released on id mismatch")
	}
	if d.State() != StateClosed {
		t.Errorf("Expected closed state, got %s", d.State())
	}
}

func TestOpen_Unreachable(t *testing.T) {
	board := newFakeBoard()
	board.failAll = true
	d := NewDriver(WithDialer(func(string, uint16) (Conn, error) { return board, nil }))
	d.sleep = func(time.Duration) {}

	err := d.Open("/dev/i2c-test")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("Expected ErrUnreachable, got %v", err)
	}
	if !board.closed {
		t.Error("Handle should be released when the board does not answer")
	}
}

func TestDriver_NotOpen(t *testing.T) {
	d := NewDriver()
	if _, err := d.ReadID(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Expected ErrNotOpen, got %v", err)
	}
}

// ============================================================
// Transfer Tests
// ============================================================

func TestRead_RetriesCounted(t *testing.T) {
	tests := []struct {
		name     string
		failures int
		retries  uint32
	}{
		{"first attempt", 0, 0},
		{"one failure", 1, 1},
		{"two failures", 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			board := newFakeBoard()
			d := newTestDriver(t, board)
			board.failNext = tt.failures

			id, err := d.ReadID()
			if err != nil {
				t.Fatalf("ReadID failed: %v", err)
			}
			if id != DeviceMagic {
				t.Errorf("Expected id 0x%02X, got 0x%02X", DeviceMagic, id)
			}
			stats := d.Stats()
			if stats.Retries != tt.retries {
				t.Errorf("Expected %d retries, got %d", tt.retries, stats.Retries)
			}
			if stats.IOErrors != 0 {
				t.Errorf("Expected no I/O errors, got %d", stats.IOErrors)
			}
		})
	}
}

func TestRead_RetriesExhausted(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)

	var sleeps []time.Duration
	d.sleep = func(dur time.Duration) { sleeps = append(sleeps, dur) }
	board.failNext = maxAttempts

	_, err := d.ReadID()
	var busErr *BusError
	if !errors.As(err, &busErr) {
		t.Fatalf("Expected BusError, got %v", err)
	}
	if !errors.Is(err, errInjected) {
		t.Error("BusError should wrap the underlying transfer error")
	}
	if busErr.Op != "read" || busErr.Offset != FieldID.Offset {
		t.Errorf("Unexpected BusError fields: %+v", busErr)
	}
	if d.Stats().IOErrors != 1 {
		t.Errorf("Expected 1 I/O error, got %d", d.Stats().IOErrors)
	}

	var backoff []time.Duration
	for _, s := range sleeps {
		if s >= retryBackoff {
			backoff = append(backoff, s)
		}
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(backoff) != len(want) || backoff[0] != want[0] || backoff[1] != want[1] {
		t.Errorf("Expected backoff %v, got %v", want, backoff)
	}
}

func TestWrite_OutOfBounds(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)

	tests := []struct {
		name   string
		offset int
		length int
	}{
		{"read-only section", FieldStatus.Offset, 1},
		{"straddles window start", FieldUUID.Offset + 10, 4},
		{"past end", FieldCommand.Offset, 3},
		{"zero length", FieldFanValue.Offset, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.write(tt.offset, tt.length)
			if !errors.Is(err, ErrOutOfBounds) {
				t.Errorf("Expected ErrOutOfBounds, got %v", err)
			}
		})
	}
	if len(board.transfers) != 0 {
		t.Errorf("Rejected writes must not touch the bus, saw %d transfers", len(board.transfers))
	}
}

func TestWrite_InvertedCommand(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)

	if _, err := d.Run(InitCmd{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	w := board.writes()
	if len(w) != 1 {
		t.Fatalf("Expected 1 write, got %d", len(w))
	}
	if !bytes.Equal(w[0].data, []byte{CmdInit, CmdInit ^ DeviceMagic}) {
		t.Errorf("Unexpected command frame % X", w[0].data)
	}
	if board.badICmd != 0 {
		t.Error("Board rejected the inverted command byte")
	}
	if d.Registers().Command != CmdNop {
		t.Error("Command byte should be reset to no-op after issue")
	}
}

func TestTransfer_MinimumGap(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)

	fixed := time.Now()
	d.now = func() time.Time { return fixed }
	d.stats.LastRead = fixed
	var sleeps []time.Duration
	d.sleep = func(dur time.Duration) { sleeps = append(sleeps, dur) }

	if _, err := d.ReadID(); err != nil {
		t.Fatalf("ReadID failed: %v", err)
	}
	if len(sleeps) == 0 || sleeps[0] != minTransferGap {
		t.Errorf("Expected a %v gap before the transfer, got %v", minTransferGap, sleeps)
	}
}

// ============================================================
// Status Tests
// ============================================================

func TestCheckStatus_Clean(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)

	s, err := d.CheckStatus(RecoverNone)
	if err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if !s.Integrity || !s.IsRunning {
		t.Errorf("Expected integral running status, got %+v", s)
	}
	if reads := board.reads(); len(reads) != 1 || reads[0] != FieldStatus.Offset {
		t.Errorf("Expected a single header read, got %v", reads)
	}
	if len(board.commands) != 0 {
		t.Errorf("Expected no commands, got %q", board.commands)
	}
	if d.Stats().StatusChecks != 1 {
		t.Errorf("Expected 1 status check, got %d", d.Stats().StatusChecks)
	}
}

func TestCheckStatus_IntegrityRetriedOnce(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)
	board.mem[FieldStatus.Offset] = StatusRunning | StatusClick

	s, err := d.CheckStatus(RecoverNone)
	if err != nil {
		t.Fatalf("Integrity failure should not be an error: %v", err)
	}
	if s.Integrity {
		t.Error("Expected integrity=false")
	}
	if s.IsRunning || s.HasClick || s.PwrShort != 0 {
		t.Errorf("Non-integral status should carry no decoded fields: %+v", s)
	}
	if reads := board.reads(); len(reads) != 2 {
		t.Errorf("Expected exactly 2 header reads, got %v", reads)
	}
	if len(board.commands) != 0 {
		t.Errorf("No clear should be issued, got %q", board.commands)
	}
}

func TestCheckStatus_IntegrityRecoversOnRetry(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)
	good := board.mem[FieldFlags.Offset]
	board.mem[FieldFlags.Offset] = 0x00

	d.sleep = func(dur time.Duration) {
		if dur == integrityRetry {
			board.mem[FieldFlags.Offset] = good
		}
	}

	s, err := d.CheckStatus(RecoverNone)
	if err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if !s.Integrity {
		t.Error("Second header read was valid, expected integrity=true")
	}
}

func TestCheckStatus_ClickTrailer(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)
	board.mem[FieldStatus.Offset] |= StatusClick
	copy(board.mem[FieldButtons.Offset:], []byte{2, 1, 0, 3})

	s, err := d.CheckStatus(RecoverNone)
	if err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if !s.HasClick {
		t.Fatal("Expected has_click")
	}
	if s.PwrShort != 2 || s.PwrLong != 1 || s.AuxShort != 0 || s.AuxLong != 3 {
		t.Errorf("Unexpected click counts: %+v", s)
	}

	reads := board.reads()
	if len(reads) != 2 || reads[1] != FieldButtons.Offset {
		t.Errorf("Expected header read then one trailer read, got %v", reads)
	}
	if !bytes.Equal(board.commands, []byte{CmdClear}) {
		t.Errorf("Expected exactly one clear command, got %q", board.commands)
	}
	if d.Registers().Buttons != [2][2]uint8{} {
		t.Errorf("Local button counters should be zeroed, got %v", d.Registers().Buttons)
	}
	if d.Registers().Status&StatusClick != 0 {
		t.Error("Local click bit should be cleared")
	}
}

func TestCheckStatus_TrailerSpan(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)
	board.mem[FieldStatus.Offset] |= StatusRPM | StatusError
	board.mem[FieldRPM.Offset] = 0x0B
	board.mem[FieldRPM.Offset+1] = 0xB8
	board.mem[FieldErrorCount.Offset] = 4

	s, err := d.CheckStatus(RecoverNone)
	if err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if s.RPM != 3000 {
		t.Errorf("Expected RPM 3000, got %d", s.RPM)
	}
	if s.ErrorCount != 4 {
		t.Errorf("Expected error count 4, got %d", s.ErrorCount)
	}
	if d.Stats().I2CErrors != 4 {
		t.Errorf("Expected board error counter 4, got %d", d.Stats().I2CErrors)
	}

	var trailer []transfer
	for _, tr := range board.transfers {
		if !tr.write && tr.reg != FieldStatus.Offset {
			trailer = append(trailer, tr)
		}
	}
	if len(trailer) != 1 || trailer[0].reg != FieldRPM.Offset || len(trailer[0].data) != 3 {
		t.Errorf("Expected one 3-byte trailer read at rpm, got %+v", trailer)
	}
}

func TestCheckStatus_IRQOnlyClears(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)
	board.mem[FieldStatus.Offset] |= StatusIRQ

	s, err := d.CheckStatus(RecoverNone)
	if err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if !s.HasIRQ {
		t.Error("Expected has_irq")
	}
	if reads := board.reads(); len(reads) != 1 {
		t.Errorf("IRQ needs no trailer read, got %v", reads)
	}
	if !bytes.Equal(board.commands, []byte{CmdClear}) {
		t.Errorf("Expected one clear, got %q", board.commands)
	}
}

func TestCheckStatus_CRCMismatchResyncs(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)
	board.mem[FieldWatchdog.Offset] = 9

	if _, err := d.CheckStatus(RecoverNone); err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if d.Stats().CRCErrors != 1 {
		t.Errorf("Expected 1 CRC error, got %d", d.Stats().CRCErrors)
	}
	want := []byte{CmdActivate, CmdWatchdogOff, CmdWakeDisable, CmdBoot}
	if !bytes.Equal(board.commands, want) {
		t.Errorf("Expected %q, got %q", want, board.commands)
	}
	if board.mem[FieldWatchdog.Offset] != 0 {
		t.Errorf("Board configuration should be restored, wdg=%d", board.mem[FieldWatchdog.Offset])
	}

	board.reset()
	if _, err := d.CheckStatus(RecoverNone); err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if d.Stats().CRCErrors != 1 {
		t.Error("Second check should see matching CRCs")
	}
}

// ============================================================
// Recovery Tests
// ============================================================

func TestMonitor_RecoversFromIOError(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)
	board.failNext = maxAttempts

	s, err := d.Monitor()
	if err != nil {
		t.Fatalf("Monitor failed: %v", err)
	}
	if s.RecoverType != RecoverIO {
		t.Errorf("Expected recover type %d, got %d", RecoverIO, s.RecoverType)
	}
	if d.Stats().Recovers != 1 {
		t.Errorf("Expected 1 recovery, got %d", d.Stats().Recovers)
	}
	if d.State() != StateReady {
		t.Errorf("Expected ready state, got %s", d.State())
	}
	if !bytes.Contains(board.commands, []byte{CmdBoot}) {
		t.Error("Recovery should re-issue boot")
	}
}

func TestMonitor_DeviceLost(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)
	board.failAll = true

	_, err := d.Monitor()
	if !errors.Is(err, ErrDeviceLost) {
		t.Fatalf("Expected ErrDeviceLost, got %v", err)
	}
	if d.State() != StateFatal {
		t.Errorf("Expected fatal state, got %s", d.State())
	}

	board.failAll = false
	if _, err := d.Monitor(); !errors.Is(err, ErrDeviceLost) {
		t.Error("A fatal driver should keep reporting device loss")
	}
}

func TestMonitor_NotRunning(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)
	board.mem[FieldStatus.Offset] &^= StatusRunning

	s, err := d.Monitor()
	if err != nil {
		t.Fatalf("Monitor failed: %v", err)
	}
	if s.IsRunning {
		t.Error("Status should report not running")
	}
	if s.RecoverType != RecoverNotRunning {
		t.Errorf("Expected recover type %d, got %d", RecoverNotRunning, s.RecoverType)
	}
	if d.Stats().Recovers != 1 {
		t.Errorf("Expected a best-effort recovery, got %d", d.Stats().Recovers)
	}
}

// ============================================================
// Run Tests
// ============================================================

func TestRun_Wake(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)

	out, err := d.Run(WakeCmd{Minutes: 30})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(out.String(), "30") {
		t.Errorf("Message should mention the minutes: %q", out.String())
	}

	w := board.writes()
	if len(w) == 0 || w[0].reg != FieldPWMFreq.Offset {
		t.Fatalf("Expected a configuration write first, got %+v", w)
	}
	rel := FieldWake.Offset - FieldPWMFreq.Offset
	if w[0].data[rel] != 0x00 || w[0].data[rel+1] != 30 {
		t.Errorf("Wake field not big-endian 30: % X", w[0].data[rel:rel+2])
	}
	want := []byte{CmdActivate, CmdWatchdogOff, CmdWakeEnable}
	if !bytes.Equal(board.commands, want) {
		t.Errorf("Expected %q, got %q", want, board.commands)
	}
}

func TestRun_Fan(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)

	out, err := d.Run(FanCmd{Speed: 128})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.String() != "Fan set to speed=128" {
		t.Errorf("Unexpected message %q", out.String())
	}
	w := board.writes()
	if len(w) != 1 || w[0].reg != FieldFanValue.Offset {
		t.Fatalf("Expected one write at fan_val, got %+v", w)
	}
	if !bytes.Equal(w[0].data, []byte{128, CmdFan, CmdFan ^ DeviceMagic}) {
		t.Errorf("Unexpected fan frame % X", w[0].data)
	}
	if d.FanValue() != 128 {
		t.Errorf("Expected fan value 128, got %d", d.FanValue())
	}
}

func TestRun_LedAndBeep(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)

	if _, err := d.Run(LedCmd{Led: Led{Mode: LedBlink, Value: 40}}); err != nil {
		t.Fatalf("led failed: %v", err)
	}
	if board.mem[FieldLedMode.Offset] != LedBlink || board.mem[FieldLedValue.Offset] != 40 {
		t.Error("LED block not written")
	}

	out, err := d.Run(BeepCmd{Buzzer: Buzzer{Freq: ToneHigh, Count: 3, BeepTime: 2, PauseTime: 5}})
	if err != nil {
		t.Fatalf("beep failed: %v", err)
	}
	if out.String() != "Issued 3 beeps [mode:2-2-5]" {
		t.Errorf("Unexpected message %q", out.String())
	}
	if !bytes.Equal(board.commands, []byte{CmdLed, CmdBeep}) {
		t.Errorf("Expected led then beep, got %q", board.commands)
	}
}

func TestRun_Messages(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{NopCmd{}, "Nop"},
		{BootCmd{}, "Booted"},
		{ShutdownCmd{}, "Shutdown started"},
		{HardShutdownCmd{}, "Hard Shutdown"},
		{FeedCmd{}, "Watchdog updated"},
		{ConfigCmd{}, "Configuration activated"},
		{WatchdogCmd{Seconds: 60}, "Watchdog set to 60 seconds"},
		{IRQWakeCmd{Enabled: true}, "Wake irq enabled=true"},
		{OutputCmd{On: false}, "Output value changed to false"},
		{DivisorCmd{Divisor: 0}, "Fan RPM divisor set to 2 per turn"},
		{PWMFreqCmd{Hz: 25000}, "PWM frequency set to 25000 Hz"},
		{TimingCmd{Timings: DefaultTimings()}, "Button timming set to [short=200ms,space=1200ms,hold=8s,grace=15s]"},
		{UUIDCmd{}, "0102030405060708090AABCD"},
	}

	for _, tt := range tests {
		t.Run(tt.cmd.String(), func(t *testing.T) {
			board := newFakeBoard()
			d := newTestDriver(t, board)
			out, err := d.Run(tt.cmd)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if out.String() != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, out.String())
			}
		})
	}
}

func TestRun_Output(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)

	if _, err := d.Run(OutputCmd{On: true}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	s, err := d.CheckStatus(RecoverNone)
	if err != nil {
		t.Fatalf("CheckStatus failed: %v", err)
	}
	if !s.OutValue {
		t.Error("Expected output line high")
	}
}

func TestRun_BusErrorPropagates(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)
	board.failAll = true

	_, err := d.Run(BootCmd{})
	var busErr *BusError
	if !errors.As(err, &busErr) {
		t.Fatalf("Expected BusError, got %v", err)
	}
	if d.Registers().Command != CmdNop {
		t.Error("Command byte should be reset after a failed issue")
	}
}

func TestRun_Stats(t *testing.T) {
	board := newFakeBoard()
	d := newTestDriver(t, board)
	if _, err := d.CheckStatus(RecoverNone); err != nil {
		t.Fatal(err)
	}

	out, err := d.Run(StatsCmd{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if out.Stats == nil || out.Stats.StatusChecks != 1 {
		t.Errorf("Expected stats with 1 status check, got %+v", out.Stats)
	}
}

func TestSetters_Clamp(t *testing.T) {
	d := NewDriver()
	if d.SetPWMFreq(0).Registers().PWMFreq != 2 {
		t.Error("PWM frequency should clamp to 2")
	}
	if d.SetPWMFreq(65000).Registers().PWMFreq != 62500 {
		t.Error("PWM frequency should clamp to 62500")
	}
	if d.SetDivisor(0).Registers().RevDivisor != 2 {
		t.Error("Divisor 0 should become 2")
	}
}

func TestPollTime(t *testing.T) {
	d := NewDriver()
	if d.PollTime() != defaultPollTime {
		t.Errorf("Closed driver should poll every %v", defaultPollTime)
	}

	board := newFakeBoard()
	d = newTestDriver(t, board)
	if d.PollTime() != 600*time.Millisecond {
		t.Errorf("Expected half of 1200ms, got %v", d.PollTime())
	}
}
