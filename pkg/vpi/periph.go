// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpi

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var (
	hostOnce sync.Once
	hostErr  error
)

func initHost() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	return hostErr
}

// i2cConn adapts a periph I2C device to Conn
type i2cConn struct {
	bus i2c.BusCloser
	dev *i2c.Dev
}

// OpenI2C opens the Linux I2C bus at path (for example /dev/i2c-1) and
// binds the peripheral at addr
func OpenI2C(path string, addr uint16) (Conn, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}
	bus, err := i2creg.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &i2cConn{bus: bus, dev: &i2c.Dev{Bus: bus, Addr: addr}}, nil
}

func (c *i2cConn) Write(p []byte) error {
	return c.dev.Tx(p, nil)
}

func (c *i2cConn) Read(p []byte) error {
	return c.dev.Tx(nil, p)
}

func (c *i2cConn) Close() error {
	return c.bus.Close()
}

// ResetPin drives a GPIO line wired to the board's reset input
type ResetPin interface {
	Out(l gpio.Level) error
}

// OpenResetPin looks up a GPIO by its BCM number
func OpenResetPin(number int) (ResetPin, error) {
	if err := initHost(); err != nil {
		return nil, fmt.Errorf("failed to initialize host drivers: %w", err)
	}
	pin := gpioreg.ByName(strconv.Itoa(number))
	if pin == nil {
		return nil, fmt.Errorf("gpio %d not found", number)
	}
	return pin, nil
}

// PulseReset drops the reset line for half a second, releases it for half
// a second and holds it low again so the board stays in its bootloader
func PulseReset(pin ResetPin, sleep func(time.Duration)) error {
	steps := []struct {
		level gpio.Level
		hold  time.Duration
	}{
		{gpio.Low, resetPulse},
		{gpio.High, resetPulse},
		{gpio.Low, 0},
	}
	for _, step := range steps {
		if err := pin.Out(step.level); err != nil {
			return fmt.Errorf("failed to drive reset pin: %w", err)
		}
		if step.hold > 0 {
			sleep(step.hold)
		}
	}
	return nil
}
