// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package daemon runs the board supervision loop: the single owner of the
// driver, fed by timers and the command bus
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/afero"

	"github.com/Thermoquad/vpid/internal/bus"
	"github.com/Thermoquad/vpid/internal/config"
	"github.com/Thermoquad/vpid/internal/kv"
	"github.com/Thermoquad/vpid/internal/logging"
	"github.com/Thermoquad/vpid/internal/sock"
	"github.com/Thermoquad/vpid/pkg/vpi"
)

// Process exit codes
const (
	ExitOK     = 0
	ExitConfig = 1 // configuration or device missing or invalid
	ExitSocket = 2 // control socket could not be started
	ExitFatal  = 3 // board lost or loop failure
)

// Options configures a daemon run
type Options struct {
	ConfigPath string
	Device     string // overrides the config file when set
	Address    uint16
	Socket     string

	Fs     afero.Fs   // defaults to the OS filesystem
	Dial   vpi.Dialer // defaults to the Linux I2C bus
	Logger *slog.Logger

	// Signals forwards SIGHUP, SIGTERM and SIGINT to the command bus
	Signals bool
}

// Daemon holds what survives a reload: the command bus and the key store
type Daemon struct {
	opts   Options
	bus    *bus.Bus
	kv     *kv.Store
	logger *slog.Logger
}

// New creates a daemon
func New(opts Options) *Daemon {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Address == 0 {
		opts.Address = vpi.DefaultAddress
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = config.DefaultPath
	}
	if opts.Socket == "" {
		opts.Socket = sock.DefaultPath
	}
	return &Daemon{
		opts:   opts,
		bus:    bus.New(bus.Capacity, bus.Timeout),
		logger: opts.Logger,
	}
}

// Bus returns the command bus feeding the loop
func (d *Daemon) Bus() *bus.Bus { return d.bus }

// Run validates the environment, starts the control socket and serves
// until an exit request, a termination signal or a fatal error. It returns
// the process exit code.
func (d *Daemon) Run(ctx context.Context) int {
	d.logger.Info("vpid daemon init",
		"socket", d.opts.Socket, "config", d.opts.ConfigPath, "address", fmt.Sprintf("0x%02X", d.opts.Address))

	cfg, err := config.Load(d.opts.Fs, d.opts.ConfigPath)
	if err != nil {
		d.logger.Error("configuration invalid, aborting", "path", d.opts.ConfigPath, "error", err)
		return ExitConfig
	}
	d.logger.Info("configuration validated")

	device := d.device(cfg)
	if d.opts.Dial == nil {
		if _, err := os.Stat(device); err != nil {
			d.logger.Error("i2c device not found, aborting", "device", device, "error", err)
			return ExitConfig
		}
	}

	d.kv, err = kv.Open(d.opts.Fs, cfg.KVStore)
	if err != nil {
		d.logger.Error("key store unavailable, aborting", "error", err)
		return ExitConfig
	}

	srv, err := sock.Listen(d.opts.Socket, d.bus, logging.Component(d.logger, "sock"))
	if err != nil {
		d.logger.Error("could not start socket server, aborting", "error", err)
		return ExitSocket
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := srv.Serve(ctx); err != nil {
			d.logger.Error("socket server stopped", "error", err)
		}
	}()
	defer srv.Close()

	if d.opts.Signals {
		d.bus.ForwardSignals(ctx, d.logger)
	}

	d.logger.Info("activating daemon")
	code := ExitOK
	for {
		out, err := d.serve(ctx)
		if err != nil {
			d.logger.Error("fatal error, aborting vpid execution", "error", err)
			code = ExitFatal
			break
		}
		if out == outcomeReload {
			d.logger.Info("reloading")
			continue
		}
		break
	}
	d.logger.Info("shutting down service gracefully")
	return code
}

func (d *Daemon) device(cfg *config.Config) string {
	if d.opts.Device != "" {
		return d.opts.Device
	}
	return cfg.Device
}

// outcome tells Run what to do after one serve pass
type outcome int

const (
	outcomeReload outcome = iota
	outcomeExit
)

// serve loads the configuration, brings the board up and runs the loop
// until it asks for a reload or an exit
func (d *Daemon) serve(ctx context.Context) (outcome, error) {
	cfg, err := config.Load(d.opts.Fs, d.opts.ConfigPath)
	if err != nil {
		return outcomeExit, err
	}

	s, err := d.start(ctx, cfg)
	if err != nil {
		return outcomeExit, err
	}
	out, reboot, err := s.loop(ctx)
	s.close()
	if reboot {
		s.engine.Reboot()
	}
	if errors.Is(err, context.Canceled) {
		return outcomeExit, nil
	}
	return out, err
}
