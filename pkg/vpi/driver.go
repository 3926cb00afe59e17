// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpi

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Conn is a handle to a single peripheral on the bus. Write and Read are
// each one bus transaction.
type Conn interface {
	Write(p []byte) error
	Read(p []byte) error
	Close() error
}

// Dialer opens a Conn to the peripheral at addr on the bus at path
type Dialer func(path string, addr uint16) (Conn, error)

// State is the driver lifecycle state
type State int

const (
	StateClosed State = iota
	StateReady
	StateRecovering
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateReady:
		return "ready"
	case StateRecovering:
		return "recovering"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Driver owns the bus handle and the register shadow pair. It is not safe
// for concurrent use; exactly one goroutine may own a Driver.
type Driver struct {
	addr   uint16
	dial   Dialer
	conn   Conn
	regs   Registers
	wire   Wire
	stats  Stats
	state  State
	logger *slog.Logger

	sleep func(time.Duration)
	now   func() time.Time
}

// Option configures a Driver
type Option func(*Driver)

// WithAddress sets the I2C address of the board
func WithAddress(addr uint16) Option {
	return func(d *Driver) { d.addr = addr }
}

// WithLogger sets the logger used for transfer traces and recovery events
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithDialer replaces the Linux I2C dialer
func WithDialer(dial Dialer) Option {
	return func(d *Driver) { d.dial = dial }
}

// NewDriver creates a closed driver
func NewDriver(opts ...Option) *Driver {
	d := &Driver{
		addr:   DefaultAddress,
		dial:   OpenI2C,
		logger: slog.New(slog.DiscardHandler),
		sleep:  time.Sleep,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.stats = NewStats(d.now())
	return d
}

// Address returns the board's I2C address
func (d *Driver) Address() uint16 { return d.addr }

// State returns the lifecycle state
func (d *Driver) State() State { return d.state }

// Stats returns a copy of the driver counters
func (d *Driver) Stats() Stats { return d.stats }

// Registers returns a copy of the logical registers
func (d *Driver) Registers() Registers { return d.regs }

// FanValue returns the last fan duty value applied
func (d *Driver) FanValue() uint8 { return d.regs.FanValue }

// UUID returns the board's 96-bit unique id as upper-case hex
func (d *Driver) UUID() string {
	return fmt.Sprintf("%X", d.regs.UUID[:])
}

// Open binds the bus, confirms the chip id and reads the whole register file
func (d *Driver) Open(path string) error {
	conn, err := d.dial(path, d.addr)
	if err != nil {
		return fmt.Errorf("%w: %s addr 0x%02X: %v", ErrUnreachable, path, d.addr, err)
	}
	d.conn = conn

	id, err := d.ReadID()
	if err != nil {
		d.release()
		return fmt.Errorf("%w: %s addr 0x%02X: %v", ErrUnreachable, path, d.addr, err)
	}
	if id != DeviceMagic {
		d.release()
		return fmt.Errorf("%w: %s addr 0x%02X answered 0x%02X", ErrDeviceMismatch, path, d.addr, id)
	}
	if err := d.ReadAll(); err != nil {
		d.release()
		return err
	}
	d.state = StateReady
	d.logger.Debug("board opened", "device", path, "addr", fmt.Sprintf("0x%02X", d.addr),
		"version", d.regs.Version, "uuid", d.UUID())
	return nil
}

// Close releases the bus handle
func (d *Driver) Close() error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	d.state = StateClosed
	return err
}

func (d *Driver) release() {
	if d.conn != nil {
		_ = d.conn.Close()
	}
	d.conn = nil
	d.state = StateClosed
}

// ReadID reads the chip id and firmware version, returning the id
func (d *Driver) ReadID() (uint8, error) {
	off, n := Span(FieldID, FieldVersion)
	if err := d.read(off, n); err != nil {
		return 0, err
	}
	return d.wire[FieldID.Offset], nil
}

// ReadAll reads the entire register file
func (d *Driver) ReadAll() error {
	return d.read(0, RegisterSize)
}

// pace enforces the minimum gap since the last transfer
func (d *Driver) pace() {
	if gap := d.now().Sub(d.stats.LastTransfer()); gap < minTransferGap {
		d.sleep(minTransferGap - gap)
	}
}

// retry runs f up to maxAttempts times with escalating backoff and returns
// the number of retries consumed
func (d *Driver) retry(op string, f func() error) (uint32, error) {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = f(); err == nil {
			return uint32(attempt), nil
		}
		d.logger.Debug("i2c transfer failed", "op", op, "attempt", attempt+1, "error", err)
		if attempt < maxAttempts-1 {
			d.sleep(retryBackoff + retryBackoff*time.Duration(attempt))
		}
	}
	return maxAttempts - 1, err
}

// read transfers [offset, offset+length) from the board into the wire copy
// and refreshes the logical copy
func (d *Driver) read(offset, length int) error {
	if d.conn == nil {
		return ErrNotOpen
	}
	if err := CheckRead(offset, length); err != nil {
		return err
	}
	d.pace()

	buf := make([]byte, length)
	retries, err := d.retry("read", func() error {
		if err := d.conn.Write([]byte{byte(offset)}); err != nil {
			return err
		}
		d.sleep(registerSetDelay)
		return d.conn.Read(buf)
	})
	d.stats.Retries += retries
	if err != nil {
		d.stats.IOErrors++
		return &BusError{Op: "read", Offset: offset, Length: length, Err: err}
	}

	copy(d.wire[offset:], buf)
	d.stats.LastRead = d.now()
	d.regs.Decode(&d.wire)
	d.logger.Debug("i2c read", "reg", fmt.Sprintf("0x%02X", offset), "len", length, "data", fmt.Sprintf("% X", buf))
	return nil
}

// write refreshes the wire copy from the logical copy and transfers
// [offset, offset+length) to the board
func (d *Driver) write(offset, length int) error {
	if d.conn == nil {
		return ErrNotOpen
	}
	if err := CheckWrite(offset, length); err != nil {
		return err
	}
	d.pace()

	d.regs.Encode(&d.wire)
	frame := make([]byte, 0, length+1)
	frame = append(frame, byte(offset))
	frame = append(frame, d.wire[offset:offset+length]...)

	retries, err := d.retry("write", func() error {
		return d.conn.Write(frame)
	})
	d.stats.Retries += retries
	if err != nil {
		d.stats.IOErrors++
		return &BusError{Op: "write", Offset: offset, Length: length, Err: err}
	}

	d.stats.LastWrite = d.now()
	d.logger.Debug("i2c write", "reg", fmt.Sprintf("0x%02X", offset), "len", length, "data", fmt.Sprintf("% X", frame[1:]))
	return nil
}

func (d *Driver) resetCommand() {
	d.regs.Command = CmdNop
	d.wire[FieldCommand.Offset] = CmdNop
}

// issue writes the {cmd, icmd} pair, waits for the board to act on it and
// resets the command byte to no-op
func (d *Driver) issue(cmd byte) error {
	d.regs.Command = cmd
	off, n := Span(FieldCommand, FieldInvertedCommand)
	err := d.write(off, n)
	if err == nil {
		d.sleep(commandSettle)
	}
	d.resetCommand()
	return err
}

// Config writes the whole writable region with the activate command, then
// enables or disables the watchdog and the wake timer to match it
func (d *Driver) Config() error {
	d.regs.Command = CmdActivate
	off, n := Span(FieldPWMFreq, FieldInvertedCommand)
	err := d.write(off, n)
	d.resetCommand()
	if err != nil {
		return err
	}
	d.sleep(activateSettle)

	wdg := CmdWatchdogOff
	if d.regs.Watchdog > 0 {
		wdg = CmdWatchdogSet
	}
	if err := d.issue(wdg); err != nil {
		return err
	}

	wake := CmdWakeDisable
	if d.regs.Wake > 0 || d.regs.Flags&FlagWakeIRQ != 0 {
		wake = CmdWakeEnable
	}
	return d.issue(wake)
}

// Setters below change the logical registers only; Config applies them.

// SetPWMFreq sets the PWM frequency, clamped to 2-62500 Hz
func (d *Driver) SetPWMFreq(hz uint16) *Driver {
	if hz < 2 {
		hz = 2
	}
	if hz > 62500 {
		hz = 62500
	}
	d.regs.PWMFreq = hz
	return d
}

// SetDivisor sets the RPM divisor; 0 becomes 2
func (d *Driver) SetDivisor(div uint8) *Driver {
	if div == 0 {
		div = 2
	}
	d.regs.RevDivisor = div
	return d
}

// SetWatchdog sets the watchdog period in seconds
func (d *Driver) SetWatchdog(secs uint8) *Driver {
	d.regs.Watchdog = secs
	return d
}

// SetWake sets the wake timer in minutes
func (d *Driver) SetWake(mins uint16) *Driver {
	d.regs.Wake = mins
	return d
}

// SetTimings sets the button timing block
func (d *Driver) SetTimings(t Timings) *Driver {
	d.regs.Timings = t
	return d
}

// FanNow sets the fan duty and sends it with the fan command in one write
func (d *Driver) FanNow(speed uint8) error {
	d.regs.FanValue = speed
	d.regs.Command = CmdFan
	off, n := Span(FieldFanValue, FieldInvertedCommand)
	err := d.write(off, n)
	if err == nil {
		d.sleep(fanSettle)
	}
	d.resetCommand()
	return err
}

// BuzzNow writes the buzzer block and starts the sequence
func (d *Driver) BuzzNow(b Buzzer) error {
	d.regs.Buzzer = b
	off, n := Span(FieldBuzzFreq, FieldBuzzCount)
	if err := d.write(off, n); err != nil {
		return err
	}
	d.sleep(buzzerSettle)
	return d.issue(CmdBeep)
}

// LedNow writes the LED block and applies it
func (d *Driver) LedNow(l Led) error {
	d.regs.Led = l
	off, n := Span(FieldLedMode, FieldLedValue)
	if err := d.write(off, n); err != nil {
		return err
	}
	d.sleep(ledSettle)
	return d.issue(CmdLed)
}

func (d *Driver) headerValid() bool {
	return ValidIntegrity(d.regs.Status) && ValidIntegrity(d.regs.Flags)
}

// CheckStatus reads and decodes the status header, fetches the trailer
// fields it announces, acknowledges them with a clear command and heals
// configuration drift reported through the board's CRC. An integrity
// failure on two consecutive header reads yields a zero status with
// Integrity false rather than an error.
func (d *Driver) CheckStatus(recoverTag uint8) (Status, error) {
	d.stats.StatusChecks++

	hdrOff, hdrLen := Span(FieldStatus, FieldCRC)
	if err := d.read(hdrOff, hdrLen); err != nil {
		return Status{}, err
	}
	if !d.headerValid() {
		d.sleep(integrityRetry)
		if err := d.read(hdrOff, hdrLen); err != nil {
			return Status{}, err
		}
		if !d.headerValid() {
			d.logger.Warn("status integrity check failed",
				"status", fmt.Sprintf("0x%02X", d.regs.Status), "flags", fmt.Sprintf("0x%02X", d.regs.Flags))
			return Status{RecoverType: recoverTag}, nil
		}
	}

	s := decodeStatus(d.regs.Status, d.regs.Flags)
	s.RecoverType = recoverTag
	s.CRC = d.regs.CRC
	localCRC := d.wire.ConfigCRC()

	if off, n, ok := trailerSpan(s); ok {
		d.sleep(trailerDelay)
		if err := d.read(off, n); err != nil {
			return s, err
		}
		if s.HasClick {
			s.PwrShort = int(d.regs.Buttons[ButtonPower][ClickShort])
			s.PwrLong = int(d.regs.Buttons[ButtonPower][ClickLong])
			s.AuxShort = int(d.regs.Buttons[ButtonAux][ClickShort])
			s.AuxLong = int(d.regs.Buttons[ButtonAux][ClickLong])
		}
		if s.HasRPM {
			s.RPM = int(d.regs.RPM)
		}
		if s.HasError {
			s.ErrorCount = int(d.regs.ErrorCount)
			d.stats.I2CErrors += uint32(s.ErrorCount)
		}
	}

	if s.HasClick || s.HasRPM || s.HasError || s.HasIRQ {
		d.sleep(trailerDelay)
		if err := d.issue(CmdClear); err != nil {
			return s, err
		}
		d.regs.Buttons = [2][2]uint8{}
		copy(d.wire[FieldButtons.Offset:FieldButtons.End()], []byte{0, 0, 0, 0})
		d.regs.Status &^= StatusClick | StatusRPM | StatusIRQ
		d.wire[FieldStatus.Offset] = d.regs.Status
	}

	if s.CRC != localCRC {
		d.stats.CRCErrors++
		d.logger.Warn("config CRC mismatch, resyncing board",
			"local", fmt.Sprintf("0x%02X", localCRC), "board", fmt.Sprintf("0x%02X", s.CRC))
		if err := d.Config(); err != nil {
			return s, err
		}
		if err := d.issue(CmdBoot); err != nil {
			return s, err
		}
	}
	return s, nil
}

// Recover polls for the chip id to come back, then replays the
// configuration and the boot notification. Exhausting the attempts leaves
// the driver in StateFatal.
func (d *Driver) Recover() error {
	d.stats.Recovers++
	d.state = StateRecovering
	d.logger.Warn("recovering board connection")

	for i := 0; i < recoverAttempts; i++ {
		d.sleep(recoverInterval)
		id, err := d.ReadID()
		if err != nil || id != DeviceMagic {
			continue
		}
		d.sleep(registerSetDelay)
		if err := d.Config(); err != nil {
			continue
		}
		if err := d.issue(CmdBoot); err != nil {
			continue
		}
		d.state = StateReady
		d.logger.Info("board connection recovered", "attempts", i+1)
		return nil
	}

	d.state = StateFatal
	return ErrDeviceLost
}

// Monitor checks the status, recovering once from an I/O failure. A board
// that reports not running gets a best-effort recovery; its status is
// returned either way.
func (d *Driver) Monitor() (Status, error) {
	if d.state == StateFatal {
		return Status{}, ErrDeviceLost
	}

	s, err := d.CheckStatus(RecoverNone)
	var busErr *BusError
	if errors.As(err, &busErr) {
		d.logger.Warn("status check failed", "error", err)
		if rerr := d.Recover(); rerr != nil {
			return Status{}, rerr
		}
		return d.CheckStatus(RecoverIO)
	}
	if err != nil {
		return s, err
	}

	if !s.IsRunning {
		s.RecoverType = RecoverNotRunning
		if rerr := d.Recover(); rerr != nil {
			d.logger.Error("recovery of stopped board failed", "error", rerr)
		}
	}
	return s, nil
}

// Run executes one command against the board
func (d *Driver) Run(cmd Command) (Output, error) {
	switch c := cmd.(type) {
	case NopCmd:
		return TextOutput("Nop"), nil

	case BootCmd:
		return d.simple(CmdBoot, "Booted")
	case InitCmd:
		return d.simple(CmdInit, "Initialized")
	case ShutdownCmd:
		return d.simple(CmdShutdown, "Shutdown started")
	case HardShutdownCmd:
		return d.simple(CmdHardShutdown, "Hard Shutdown")
	case FeedCmd:
		return d.simple(CmdFeed, "Watchdog updated")
	case ResetCmd:
		return d.simple(CmdReset, "Board reset done")

	case ConfigCmd:
		if err := d.Config(); err != nil {
			return Output{}, err
		}
		return TextOutput("Configuration activated"), nil

	case StatusCmd:
		st, err := d.CheckStatus(RecoverNone)
		if err != nil {
			return Output{}, err
		}
		return Output{Status: &st}, nil

	case RecoverCmd:
		if err := d.Recover(); err != nil {
			return Output{}, err
		}
		return TextOutput("Board recover done"), nil

	case StatsCmd:
		st := d.stats
		return Output{Stats: &st}, nil

	case UUIDCmd:
		return Output{UUID: d.UUID()}, nil

	case WakeCmd:
		if err := d.SetWake(c.Minutes).Config(); err != nil {
			return Output{}, err
		}
		return TextOutput("Wake enabled for %d minutes after power off", c.Minutes), nil

	case IRQWakeCmd:
		op := CmdWakeIRQOff
		if c.Enabled {
			op = CmdWakeIRQOn
		}
		if err := d.issue(op); err != nil {
			return Output{}, err
		}
		return TextOutput("Wake irq enabled=%t", c.Enabled), nil

	case WatchdogCmd:
		if err := d.SetWatchdog(c.Seconds).Config(); err != nil {
			return Output{}, err
		}
		return TextOutput("Watchdog set to %d seconds", c.Seconds), nil

	case LedCmd:
		if err := d.LedNow(c.Led); err != nil {
			return Output{}, err
		}
		return TextOutput("Led set to [mode=%d,value=%d]", c.Led.Mode, c.Led.Value), nil

	case FanCmd:
		if err := d.FanNow(c.Speed); err != nil {
			return Output{}, err
		}
		return TextOutput("Fan set to speed=%d", c.Speed), nil

	case BeepCmd:
		b := c.Buzzer
		if err := d.BuzzNow(b); err != nil {
			return Output{}, err
		}
		return TextOutput("Issued %d beeps [mode:%d-%d-%d]", b.Count, b.Freq, b.BeepTime, b.PauseTime), nil

	case TimingCmd:
		t := c.Timings
		if err := d.SetTimings(t).Config(); err != nil {
			return Output{}, err
		}
		return TextOutput("Button timming set to [short=%dms,space=%dms,hold=%ds,grace=%ds]",
			t.ShortMs, t.SpaceMs, t.HoldS, t.GraceS), nil

	case DivisorCmd:
		if err := d.SetDivisor(c.Divisor).Config(); err != nil {
			return Output{}, err
		}
		return TextOutput("Fan RPM divisor set to %d per turn", d.regs.RevDivisor), nil

	case PWMFreqCmd:
		if err := d.SetPWMFreq(c.Hz).Config(); err != nil {
			return Output{}, err
		}
		return TextOutput("PWM frequency set to %d Hz", c.Hz), nil

	case OutputCmd:
		op := CmdOutputClear
		if c.On {
			op = CmdOutputSet
		}
		if err := d.issue(op); err != nil {
			return Output{}, err
		}
		return TextOutput("Output value changed to %t", c.On), nil
	}

	return Output{}, fmt.Errorf("%w: %s", ErrUnknownCommand, strings.TrimSpace(fmt.Sprint(cmd)))
}

func (d *Driver) simple(op byte, msg string) (Output, error) {
	if err := d.issue(op); err != nil {
		return Output{}, err
	}
	return TextOutput("%s", msg), nil
}

// PollTime returns the status poll period: half the button spacing time
// while the board is open, otherwise a fixed default
func (d *Driver) PollTime() time.Duration {
	if d.state != StateReady || d.regs.Timings.SpaceMs == 0 {
		return defaultPollTime
	}
	return time.Duration(d.regs.Timings.SpaceMs/2) * time.Millisecond
}
