// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpi

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is one operation of the board vocabulary. Values are immutable
// and carry validated parameters. String renders the command back into
// the line form accepted by ParseCommand.
type Command interface {
	fmt.Stringer
	command()
}

// Simple commands
type (
	NopCmd          struct{}
	BootCmd         struct{}
	InitCmd         struct{}
	ConfigCmd       struct{}
	FeedCmd         struct{}
	StatusCmd       struct{}
	UUIDCmd         struct{}
	ResetCmd        struct{}
	RecoverCmd      struct{}
	StatsCmd        struct{}
	ShutdownCmd     struct{}
	HardShutdownCmd struct{}
)

// WakeCmd sets the wake timer in minutes after power off; 0 disables it
type WakeCmd struct{ Minutes uint16 }

// IRQWakeCmd enables wake by the IRQ line
type IRQWakeCmd struct{ Enabled bool }

// WatchdogCmd sets the watchdog period in seconds; 0 disables it
type WatchdogCmd struct{ Seconds uint8 }

// LedCmd changes the LED mode and value
type LedCmd struct{ Led Led }

// FanCmd sets the fan duty value
type FanCmd struct{ Speed uint8 }

// BeepCmd starts a beep sequence
type BeepCmd struct{ Buzzer Buzzer }

// TimingCmd replaces the button timing block
type TimingCmd struct{ Timings Timings }

// DivisorCmd sets the fan pulses-per-revolution divisor
type DivisorCmd struct{ Divisor uint8 }

// PWMFreqCmd sets the fan and LED PWM frequency in Hz
type PWMFreqCmd struct{ Hz uint16 }

// OutputCmd drives the output line
type OutputCmd struct{ On bool }

func (NopCmd) command()          {}
func (BootCmd) command()         {}
func (InitCmd) command()         {}
func (ConfigCmd) command()       {}
func (FeedCmd) command()         {}
func (StatusCmd) command()       {}
func (UUIDCmd) command()         {}
func (ResetCmd) command()        {}
func (RecoverCmd) command()      {}
func (StatsCmd) command()        {}
func (ShutdownCmd) command()     {}
func (HardShutdownCmd) command() {}
func (WakeCmd) command()         {}
func (IRQWakeCmd) command()      {}
func (WatchdogCmd) command()     {}
func (LedCmd) command()          {}
func (FanCmd) command()          {}
func (BeepCmd) command()         {}
func (TimingCmd) command()       {}
func (DivisorCmd) command()      {}
func (PWMFreqCmd) command()      {}
func (OutputCmd) command()       {}

func (NopCmd) String() string          { return "nop" }
func (BootCmd) String() string         { return "boot" }
func (InitCmd) String() string         { return "init" }
func (ConfigCmd) String() string       { return "config" }
func (FeedCmd) String() string         { return "feed" }
func (StatusCmd) String() string       { return "status" }
func (UUIDCmd) String() string         { return "uuid" }
func (ResetCmd) String() string        { return "reset" }
func (RecoverCmd) String() string      { return "recover" }
func (StatsCmd) String() string        { return "stats" }
func (ShutdownCmd) String() string     { return "shutdown" }
func (HardShutdownCmd) String() string { return "hardshutdown" }

func (c WakeCmd) String() string     { return fmt.Sprintf("wake %d", c.Minutes) }
func (c IRQWakeCmd) String() string  { return "irqwake " + onOff(c.Enabled) }
func (c WatchdogCmd) String() string { return fmt.Sprintf("watchdog %d", c.Seconds) }
func (c FanCmd) String() string      { return fmt.Sprintf("fan %d", c.Speed) }
func (c DivisorCmd) String() string  { return fmt.Sprintf("divisor %d", c.Divisor) }
func (c PWMFreqCmd) String() string  { return fmt.Sprintf("pwmfreq %d", c.Hz) }
func (c OutputCmd) String() string   { return "output " + onOff(c.On) }

func (c LedCmd) String() string {
	return fmt.Sprintf("led %s %d", ledModeName(c.Led.Mode), c.Led.Value)
}

func (c BeepCmd) String() string {
	return fmt.Sprintf("beep %s %d %d %d", toneName(c.Buzzer.Freq), c.Buzzer.Count,
		int(c.Buzzer.BeepTime)*100, int(c.Buzzer.PauseTime)*100)
}

func (c TimingCmd) String() string {
	t := c.Timings
	return fmt.Sprintf("timing %d %d %d %d", t.ShortMs, t.SpaceMs, t.HoldS, t.GraceS)
}

var ledModes = []string{"off", "on", "cycle", "fast_cycle", "blink", "fast_blink", "custom"}

var tones = []string{"low", "medium", "high"}

func ledModeName(mode uint8) string {
	if int(mode) < len(ledModes) {
		return ledModes[mode]
	}
	return strconv.Itoa(int(mode))
}

func toneName(freq uint8) string {
	if int(freq) < len(tones) {
		return tones[freq]
	}
	return strconv.Itoa(int(freq))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ParseCommand parses a whitespace-separated command line. The verb is
// case-insensitive. Out-of-range or malformed arguments reject the whole
// command, except for the optional trailing fields of beep and timing
// which fall back to their defaults.
func ParseCommand(line string) (Command, error) {
	return ParseFields(strings.Fields(line))
}

// ParseFields parses a command already split into tokens
func ParseFields(v []string) (Command, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrUnknownCommand)
	}
	verb := strings.ToLower(v[0])
	args := v[1:]

	switch verb {
	case "nop":
		return NopCmd{}, nil
	case "boot":
		return BootCmd{}, nil
	case "init":
		return InitCmd{}, nil
	case "config":
		return ConfigCmd{}, nil
	case "feed":
		return FeedCmd{}, nil
	case "status":
		return StatusCmd{}, nil
	case "uuid":
		return UUIDCmd{}, nil
	case "reset":
		return ResetCmd{}, nil
	case "recover":
		return RecoverCmd{}, nil
	case "stats":
		return StatsCmd{}, nil
	case "shutdown":
		return ShutdownCmd{}, nil
	case "hardshutdown":
		return HardShutdownCmd{}, nil

	case "irqwake":
		on, err := parseOnOff(verb, args)
		if err != nil {
			return nil, err
		}
		return IRQWakeCmd{Enabled: on}, nil

	case "output":
		on, err := parseOnOff(verb, args)
		if err != nil {
			return nil, err
		}
		return OutputCmd{On: on}, nil

	case "watchdog":
		n, err := parseRange(verb, args, 0, 0xFF)
		if err != nil {
			return nil, err
		}
		return WatchdogCmd{Seconds: uint8(n)}, nil

	case "wake":
		n, err := parseRange(verb, args, 0, 0xFFFF)
		if err != nil {
			return nil, err
		}
		return WakeCmd{Minutes: uint16(n)}, nil

	case "fan":
		n, err := parseRange(verb, args, 0, 0xFF)
		if err != nil {
			return nil, err
		}
		return FanCmd{Speed: uint8(n)}, nil

	case "divisor":
		n, err := parseRange(verb, args, 0, 0xFF)
		if err != nil {
			return nil, err
		}
		return DivisorCmd{Divisor: uint8(n)}, nil

	case "pwmfreq":
		n, err := parseRange(verb, args, 2, 62500)
		if err != nil {
			return nil, err
		}
		return PWMFreqCmd{Hz: uint16(n)}, nil

	case "led":
		return parseLed(args)

	case "beep":
		return parseBeep(args)

	case "timing":
		p := make([]int, 4)
		for i := range p {
			p[i] = -1
			if i < len(args) {
				if n, err := strconv.Atoi(args[i]); err == nil {
					p[i] = n
				}
			}
		}
		return TimingCmd{Timings: NewTimings(p[0], p[1], p[2], p[3])}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, v[0])
}

func parseOnOff(verb string, args []string) (bool, error) {
	if len(args) < 1 || (args[0] != "on" && args[0] != "off") {
		return false, fmt.Errorf("%w: %s expects on|off", ErrInvalidArgument, verb)
	}
	return args[0] == "on", nil
}

func parseRange(verb string, args []string, min, max int) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("%w: %s expects a value %d-%d", ErrInvalidArgument, verb, min, max)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < min || n > max {
		return 0, fmt.Errorf("%w: %s value %q outside %d-%d", ErrInvalidArgument, verb, args[0], min, max)
	}
	return n, nil
}

func parseLed(args []string) (Command, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("%w: led expects a mode", ErrInvalidArgument)
	}
	mode := -1
	for i, name := range ledModes {
		if strings.EqualFold(args[0], name) {
			mode = i
		}
	}
	if mode < 0 {
		return nil, fmt.Errorf("%w: led mode %q", ErrInvalidArgument, args[0])
	}
	var val uint8
	if len(args) >= 2 {
		if n, err := strconv.Atoi(args[1]); err == nil && n >= 0 && n <= 0xFF {
			val = uint8(n)
		}
	}
	return LedCmd{Led: Led{Mode: uint8(mode), Value: val}}, nil
}

func parseBeep(args []string) (Command, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("%w: beep expects low|medium|high", ErrInvalidArgument)
	}
	tone := -1
	for i, name := range tones {
		if strings.EqualFold(args[0], name) {
			tone = i
		}
	}
	if tone < 0 {
		return nil, fmt.Errorf("%w: beep tone %q", ErrInvalidArgument, args[0])
	}

	count, beepMs, pauseMs := 1, 1000, 1000
	if len(args) >= 2 {
		if n, err := strconv.Atoi(args[1]); err == nil && n >= 0 && n <= 0xFF {
			count = n
		}
	}
	if len(args) >= 3 {
		if n, err := strconv.Atoi(args[2]); err == nil && n >= 100 && n <= 2550 {
			beepMs = n
		}
	}
	if len(args) >= 4 {
		if n, err := strconv.Atoi(args[3]); err == nil && n >= 100 && n <= 25500 {
			pauseMs = n
		}
	}
	return BeepCmd{Buzzer: Buzzer{
		Freq:      uint8(tone),
		Count:     uint8(count),
		BeepTime:  uint8(beepMs / 100),
		PauseTime: uint8(pauseMs / 100),
	}}, nil
}
