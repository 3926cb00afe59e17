// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Thermoquad/vpid/internal/bus"
	"github.com/Thermoquad/vpid/internal/config"
	"github.com/Thermoquad/vpid/internal/engine"
	"github.com/Thermoquad/vpid/internal/fan"
	"github.com/Thermoquad/vpid/internal/logging"
	"github.com/Thermoquad/vpid/internal/mqtt"
	"github.com/Thermoquad/vpid/internal/web"
	"github.com/Thermoquad/vpid/pkg/vpi"
)

const watchDebounce = 500 * time.Millisecond

// session is one configuration's worth of daemon state. A reload throws it
// away and starts a new one.
type session struct {
	d      *Daemon
	cfg    *config.Config
	logger *slog.Logger

	driver *vpi.Driver
	engine *engine.Engine
	fan    *fan.Regulator
	bridge *mqtt.Bridge
	web    *web.Server

	monitor *time.Ticker
	feed    *time.Ticker
	fanTick *time.Ticker

	last        vpi.Status
	stopWatcher context.CancelFunc
}

func (d *Daemon) start(ctx context.Context, cfg *config.Config) (*session, error) {
	s := &session{d: d, cfg: cfg, logger: d.logger}
	device := d.device(cfg)

	opts := []vpi.Option{vpi.WithAddress(d.opts.Address), vpi.WithLogger(logging.Component(d.logger, "driver"))}
	if d.opts.Dial != nil {
		opts = append(opts, vpi.WithDialer(d.opts.Dial))
	}
	s.driver = vpi.NewDriver(opts...)
	if err := s.driver.Open(device); err != nil {
		return nil, fmt.Errorf("failed to open %s at 0x%02X: %w", device, d.opts.Address, err)
	}
	last, err := s.driver.CheckStatus(vpi.RecoverNone)
	if err != nil {
		s.driver.Close()
		return nil, fmt.Errorf("failed to read initial status: %w", err)
	}
	s.last = last

	if f := cfg.Fan; f != nil {
		s.logger.Info("configure fan", "pwm_freq", f.Frequency(), "divisor", f.RPMDivisor(), "mode", f.Mode)
		s.driver.SetPWMFreq(f.Frequency()).SetDivisor(f.RPMDivisor())
		s.fan = fan.New(*f, d.opts.Fs, logging.Component(d.logger, "fan"))
		s.fanTick = time.NewTicker(fan.Interval)
	}

	t := cfg.Timings()
	s.driver.SetTimings(t)
	s.logger.Info("set button timings",
		"short_ms", t.ShortMs, "space_ms", t.SpaceMs, "hold_s", t.HoldS, "grace_s", t.GraceS)
	if err := s.driver.Config(); err != nil {
		s.driver.Close()
		return nil, fmt.Errorf("failed to configure board: %w", err)
	}

	for _, c := range []vpi.Command{
		vpi.BootCmd{},
		vpi.WatchdogCmd{Seconds: uint8(cfg.Watchdog)},
		vpi.WakeCmd{Minutes: uint16(cfg.Wake)},
		vpi.IRQWakeCmd{Enabled: cfg.WakeIRQ},
	} {
		if err := d.bus.Post(ctx, bus.Message{Kind: bus.KindDevice, Command: c}); err != nil {
			s.logger.Error("failed to queue startup command", "command", c.String(), "error", err)
		}
	}

	s.engine = engine.New(cfg, d.bus, logging.Component(d.logger, "engine"))

	if cfg.MQTT != nil {
		dialCtx, cancel := context.WithTimeout(ctx, mqtt.ConnectTimeout)
		s.bridge, err = mqtt.Dial(dialCtx, *cfg.MQTT, d.bus, logging.Component(d.logger, "mqtt"))
		cancel()
		if err != nil {
			s.logger.Error("mqtt bridge disabled", "error", err)
		}
	}
	if cfg.Web != nil {
		w := web.New(*cfg.Web, d.bus, logging.Component(d.logger, "web"))
		if err := w.Start(); err != nil {
			s.logger.Error("websocket bridge disabled", "error", err)
		} else {
			s.web = w
		}
	}
	if cfg.WatchConfig {
		s.watch(ctx)
	}

	s.monitor = time.NewTicker(cfg.PollInterval())
	return s, nil
}

func (s *session) watch(ctx context.Context) {
	wctx, cancel := context.WithCancel(ctx)
	s.stopWatcher = cancel
	path := s.d.opts.ConfigPath
	go func() {
		err := config.Watch(wctx, path, watchDebounce, s.logger, func() {
			s.logger.Info("configuration changed, reloading", "path", path)
			if err := s.d.bus.Post(wctx, bus.Message{Kind: bus.KindReload}); err != nil {
				s.logger.Error("failed to queue reload", "error", err)
			}
		})
		if err != nil {
			s.logger.Error("configuration watcher stopped", "error", err)
		}
	}()
}

func tick(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

// loop multiplexes the timers and the bus until a reload, an exit or a
// fatal error. reboot reports an "exit reboot" request.
func (s *session) loop(ctx context.Context) (out outcome, reboot bool, err error) {
	for {
		select {
		case <-ctx.Done():
			return outcomeExit, false, ctx.Err()

		case <-s.monitor.C:
			if err := s.onMonitor(); err != nil {
				return outcomeExit, false, err
			}

		case <-tick(s.feed):
			if _, err := s.driver.Run(vpi.FeedCmd{}); err != nil {
				s.logger.Warn("watchdog feed failed", "error", err)
			}

		case <-tick(s.fanTick):
			v := s.fan.Regulate()
			if v != s.driver.FanValue() {
				if err := s.driver.FanNow(v); err != nil {
					s.logger.Warn("fan update failed", "error", err)
				} else {
					s.logger.Debug("adjusted fan value", "value", v)
				}
			}

		case m := <-s.d.bus.C():
			done, out, reboot, err := s.dispatch(m)
			if done || err != nil {
				return out, reboot, err
			}
		}
	}
}

func (s *session) onMonitor() error {
	s.engine.Sweep(false)
	stats := s.driver.Stats()
	st, err := s.driver.Monitor()
	if errors.Is(err, vpi.ErrDeviceLost) {
		return err
	}
	if err != nil {
		s.logger.Warn("failed to monitor", "error", err)
		return nil
	}
	if st.Changed(s.last) {
		s.engine.Evaluate(st, stats)
		if s.bridge != nil {
			s.bridge.PublishStatus(st)
		}
	}
	s.last = st
	return nil
}

func (s *session) dispatch(m bus.Message) (done bool, out outcome, reboot bool, err error) {
	switch m.Kind {
	case bus.KindReload:
		m.OK()
		return true, outcomeReload, false, nil

	case bus.KindExit:
		m.OK()
		return true, outcomeExit, m.Reboot, nil

	case bus.KindSignal:
		m.OK()
		return true, outcomeExit, false, nil

	case bus.KindGetKey:
		if v, ok := s.d.kv.Get(m.Key); ok {
			m.Reply(vpi.DataJSON(v))
		} else {
			m.Fail()
		}

	case bus.KindSetKey:
		if err := s.d.kv.Set(m.Key, m.Value); err != nil {
			s.logger.Error("setkey failed", "key", m.Key, "error", err)
			m.Reply(vpi.ErrorJSON(err.Error()))
		} else {
			m.OK()
		}

	case bus.KindDevice:
		return s.runDevice(m)
	}
	return false, 0, false, nil
}

func (s *session) runDevice(m bus.Message) (done bool, out outcome, reboot bool, err error) {
	res, err := s.driver.Run(m.Command)
	if err != nil {
		s.logger.Error("command failed", "command", m.Command.String(), "error", err)
		m.Reply(vpi.ErrorJSON(err.Error()))
		if s.driver.State() == vpi.StateFatal {
			return true, outcomeExit, false, err
		}
		return false, 0, false, nil
	}
	m.Reply(res.JSON())
	s.logger.Info("command executed", "command", m.Command.String(), "output", res.String())

	switch c := m.Command.(type) {
	case vpi.WatchdogCmd:
		s.armFeed(int(c.Seconds))
	case vpi.FanCmd:
		if s.fan != nil {
			s.fan.SetCustom(c.Speed)
		}
	}
	return false, 0, false, nil
}

func (s *session) armFeed(secs int) {
	if s.feed != nil {
		s.feed.Stop()
		s.feed = nil
	}
	period := config.AutofeedFor(secs, s.cfg.WatchdogAutofeed)
	if period == 0 {
		s.logger.Info("disabling watchdog autofeed")
		return
	}
	s.logger.Info("enable watchdog autofeed", "period", period)
	s.feed = time.NewTicker(period)
}

func (s *session) close() {
	s.monitor.Stop()
	if s.feed != nil {
		s.feed.Stop()
	}
	if s.fanTick != nil {
		s.fanTick.Stop()
	}
	if s.stopWatcher != nil {
		s.stopWatcher()
	}
	if s.web != nil {
		if err := s.web.Close(); err != nil {
			s.logger.Warn("websocket bridge close failed", "error", err)
		}
	}
	if s.bridge != nil {
		s.bridge.Close()
	}
	s.engine.Shutdown()
	if err := s.driver.Close(); err != nil {
		s.logger.Warn("driver close failed", "error", err)
	}
}
